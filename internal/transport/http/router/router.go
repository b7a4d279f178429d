// Package router file: internal/transport/http/router/router.go
package router

import (
	"QueryAegis/internal/aegmiddleware"
	"QueryAegis/internal/aegobserve"
	"QueryAegis/internal/compiler"
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"QueryAegis/internal/engine"
	"QueryAegis/internal/intent"
	"QueryAegis/internal/safety"
	"QueryAegis/internal/suggest"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

const defaultDatabase = "main"

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	Catalog  port.SchemaCatalog
	Compiler *compiler.Compiler
	Gate     *safety.Gate
	Engine   *engine.Engine
	Pipeline *intent.Pipeline
	Feedback port.FeedbackRecorder
	Suggest  *suggest.Service
	Limiter  *aegmiddleware.RateLimiter
}

// New 创建并配置一个基于 Gin 的 HTTP 路由器
func New(deps Dependencies) http.Handler {
	router := gin.Default()

	// --- 全局中间件 ---
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(aegobserve.Handler()))

	v1 := router.Group("/api/v1")
	if deps.Limiter != nil {
		v1.Use(deps.Limiter.Middleware())
	}
	{
		// --- 元数据/发现平面 ---
		metaGroup := v1.Group("/meta")
		{
			metaGroup.GET("/metadata", metadataHandler(deps.Catalog))
		}

		// --- 数据平面：结构化搜索 ---
		v1.POST("/search", searchHandler(deps))
		v1.POST("/export", exportHandler(deps))

		// --- 自然语言平面 ---
		nlGroup := v1.Group("/nl")
		{
			nlGroup.GET("/suggestions", suggestionsHandler(deps.Suggest))
			nlGroup.POST("/analyze", analyzeHandler(deps.Pipeline))
			nlGroup.POST("/execute", nlExecuteHandler(deps.Pipeline))
			nlGroup.POST("/feedback", feedbackHandler(deps.Feedback))
		}
	}

	return router
}

// =============================================================================
//  请求体定义
// =============================================================================

// searchRequest 是 /search 与 /export 共用的请求体。
type searchRequest struct {
	Database  string                   `json:"database"`
	Table     string                   `json:"table" binding:"required"`
	Filters   []domain.FilterCondition `json:"filters"`
	SortBy    string                   `json:"sort_by"`
	SortOrder string                   `json:"sort_order"`
	Page      int                      `json:"page"`
	PageSize  int                      `json:"page_size"`
}

func (r *searchRequest) database() string {
	if r.Database == "" {
		return defaultDatabase
	}
	return r.Database
}

func (r *searchRequest) spec() domain.SearchSpec {
	return domain.SearchSpec{
		Filters:   r.Filters,
		SortBy:    r.SortBy,
		SortOrder: r.SortOrder,
		Page:      r.Page,
		PageSize:  r.PageSize,
	}
}

// =============================================================================
//  元数据平面处理器
// =============================================================================

// metadataHandler 返回指定逻辑数据库的全部表元数据
func metadataHandler(catalog port.SchemaCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		database := c.DefaultQuery("database", defaultDatabase)
		tables, err := catalog.ListTables(c.Request.Context(), database)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tables": tables})
	}
}

// =============================================================================
//  数据平面处理器
// =============================================================================

// searchHandler 处理结构化搜索：编译、安全门、执行、分页响应
func searchHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		aegobserve.SearchTotal.Inc()

		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}

		result, _, err := runSearch(c, deps, req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// exportHandler 与 searchHandler 同参，产出 CSV 字节流
func exportHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}

		_, raw, err := runSearch(c, deps, req)
		if err != nil {
			respondError(c, err)
			return
		}

		data, err := engine.ToCSV(raw)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "生成 CSV 失败"})
			return
		}

		filename := fmt.Sprintf("export_%s_%d.csv", req.Table, time.Now().UnixMilli())
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
	}
}

// runSearch 是 search/export 的共同实现：编译、安全门、执行、计数。
// 编译产物与计数语句同样要过安全门，编译器不是可信方，没有任何语句
// 可以绕过这道检查直达执行引擎。
func runSearch(c *gin.Context, deps Dependencies, req searchRequest) (*domain.SearchResult, *domain.QueryResult, error) {
	ctx := c.Request.Context()
	database := req.database()

	compiled, err := deps.Compiler.Compile(ctx, database, req.Table, req.spec())
	if err != nil {
		return nil, nil, err
	}
	countQuery, err := deps.Compiler.CompileCount(ctx, database, req.Table, req.Filters)
	if err != nil {
		return nil, nil, err
	}

	if err := deps.Gate.ValidateCompiled(ctx, database, compiled); err != nil {
		return nil, nil, err
	}
	if err := deps.Gate.ValidateCompiled(ctx, database, countQuery); err != nil {
		return nil, nil, err
	}

	result, err := deps.Engine.Run(ctx, database, compiled)
	if err != nil {
		return nil, nil, err
	}
	aegobserve.QueryDuration.Observe(float64(result.ExecutionTimeMs) / 1000.0)

	total, err := deps.Engine.RunScalar(ctx, database, countQuery)
	if err != nil {
		return nil, nil, err
	}

	page, size := compiler.ClampPaging(req.Page, req.PageSize)
	totalPages := total / int64(size)
	if total%int64(size) != 0 {
		totalPages++
	}

	search := &domain.SearchResult{
		Data:       result.Data,
		TotalCount: total,
		Page:       page,
		PageSize:   size,
		TotalPages: totalPages,
	}
	return search, result, nil
}

// =============================================================================
//  自然语言平面处理器
// =============================================================================

// suggestionsHandler 返回精选的示例提示词（静态维护，非生成）
func suggestionsHandler(svc *suggest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"suggestions": svc.Suggestions()})
	}
}

// analyzeHandler 把自然语言请求交给 Intent Pipeline 分析
func analyzeHandler(pipeline *intent.Pipeline) gin.HandlerFunc {
	type analyzePayload struct {
		Query    string `json:"query" binding:"required"`
		Database string `json:"database"`
	}

	return func(c *gin.Context) {
		aegobserve.AnalyzeTotal.Inc()

		if pipeline == nil || !pipeline.HasAnalyzer() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "自然语言查询能力未配置"})
			return
		}

		var req analyzePayload
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}
		database := req.Database
		if database == "" {
			database = defaultDatabase
		}

		queryIntent, err := pipeline.Analyze(c.Request.Context(), database, req.Query)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, queryIntent)
	}
}

// nlExecuteHandler 执行一条来自意图流程、用户已确认的语句。
// 执行前由 Pipeline 重新过安全门，未通过一律 403。
func nlExecuteHandler(pipeline *intent.Pipeline) gin.HandlerFunc {
	type executePayload struct {
		SQL       string `json:"sql" binding:"required"`
		UserQuery string `json:"user_query"`
		Database  string `json:"database"`
	}

	return func(c *gin.Context) {
		if pipeline == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "自然语言查询能力未配置"})
			return
		}

		var req executePayload
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}
		database := req.Database
		if database == "" {
			database = defaultDatabase
		}

		result, err := pipeline.Execute(c.Request.Context(), database, req.SQL)
		if err != nil {
			respondError(c, err)
			return
		}
		aegobserve.QueryDuration.Observe(float64(result.ExecutionTimeMs) / 1000.0)
		c.JSON(http.StatusOK, result)
	}
}

// feedbackHandler 记录准确性信号。写入失败只记日志与指标，响应永远成功。
func feedbackHandler(recorder port.FeedbackRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec domain.FeedbackRecord
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}
		if recorder != nil {
			if err := recorder.Record(c.Request.Context(), rec); err != nil {
				aegobserve.FeedbackFailures.Inc()
				slog.Error("反馈记录失败（已忽略）", "error", err)
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// =============================================================================
//  错误映射
// =============================================================================

// respondError 在传输边界把错误分类映射为 HTTP 状态码。
// 编译类错误带具体字段回给调用方；安全与执行类错误只回通用文案。
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, port.ErrUnknownDatabase):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrUnknownTable):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrUnknownColumn),
		errors.Is(err, port.ErrIllegalOperator),
		errors.Is(err, port.ErrMissingRangeBound),
		errors.Is(err, port.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrSafetyViolation):
		aegobserve.SafetyViolations.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "语句未通过安全校验"})
	case errors.Is(err, port.ErrResourceExhausted):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "服务繁忙，请稍后重试"})
	case errors.Is(err, port.ErrUpstreamAnalysis):
		c.JSON(http.StatusBadRequest, gin.H{"error": "分析暂不可用，请稍后重试"})
	default:
		slog.Error("请求处理失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败，请稍后重试"})
	}
}
