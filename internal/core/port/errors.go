// Package port file: internal/core/port/errors.go
package port

import "errors"

// 统一的错误分类。编译类错误（表/列/算子/取值）永远是调用方错误，
// 必须带上具体的非法字段；SafetyViolation 对请求是致命的，原始 SQL
// 只进服务端日志，绝不回传给客户端。
var (
	ErrUnknownDatabase   = errors.New("未配置的逻辑数据库")
	ErrUnknownTable      = errors.New("指定的表在目标库中不存在")
	ErrUnknownColumn     = errors.New("指定的列在目标表中不存在")
	ErrIllegalOperator   = errors.New("算子对该列的语义类型非法")
	ErrMissingRangeBound = errors.New("between 算子缺少第二个边界值")
	ErrInvalidValue      = errors.New("过滤值无法转换为列的语义类型")
	ErrSafetyViolation   = errors.New("语句未通过安全门校验")
	ErrResourceExhausted = errors.New("连接池资源耗尽，请稍后重试")
	ErrUpstreamAnalysis  = errors.New("上游意图分析不可用")
	ErrExecutionFailure  = errors.New("查询执行失败")
)
