// Package aegobserve 暴露 Prometheus 指标
package aegobserve

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义
var (
	SearchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queryaegis_search_requests_total",
		Help: "结构化搜索请求总数",
	})
	AnalyzeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queryaegis_nl_analyze_total",
		Help: "自然语言分析请求总数",
	})
	SafetyViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queryaegis_safety_violations_total",
		Help: "被安全门拒绝的语句数",
	})
	FeedbackFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queryaegis_feedback_failures_total",
		Help: "反馈写入失败数（已吞掉，不影响请求）",
	})
	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "queryaegis_query_duration_seconds",
		Help:    "已通过安全门的语句的执行耗时",
		Buckets: prometheus.DefBuckets,
	})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(SearchTotal, AnalyzeTotal, SafetyViolations, FeedbackFailures, QueryDuration)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }
