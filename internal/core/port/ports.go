// Package port file: internal/core/port/ports.go
package port

import (
	"QueryAegis/internal/core/domain"
	"context"
)

// SchemaCatalog 定义系统获取目标库结构快照的能力。
// 快照由实现方独占维护，消费侧只读。
type SchemaCatalog interface {
	// ListTables 返回指定逻辑数据库的全部表元数据。
	ListTables(ctx context.Context, database string) ([]domain.TableMetadata, error)

	// GetTable 按表名查找元数据，found 为 false 时表不在白名单内。
	GetTable(ctx context.Context, database, name string) (domain.TableMetadata, bool, error)

	// Snapshot 返回当前完整快照，供 Safety Gate 做表白名单校验。
	Snapshot(ctx context.Context, database string) (*domain.SchemaSnapshot, error)
}

// IntentAnalyzer 是外部意图分析能力（LLM 调用）的端口。
// 它是一个不可靠的上游：返回值必须经过 Intent Pipeline 的防御性归一化
// 与 Safety Gate 校验之后才能被信任。
type IntentAnalyzer interface {
	AnalyzeIntent(ctx context.Context, userText, schemaContext string) (*domain.QueryIntent, error)
}

// QueryRunner 执行一条已编译（或已通过安全门的）只读语句。
type QueryRunner interface {
	Run(ctx context.Context, database string, q domain.CompiledQuery) (*domain.QueryResult, error)
}

// FeedbackRecorder 持久化自然语言查询的准确性信号。
// 记录失败由调用方记日志后吞掉，绝不影响用户可见的请求。
type FeedbackRecorder interface {
	Record(ctx context.Context, rec domain.FeedbackRecord) error
}
