// Package intent file: internal/intent/pipeline.go
//
// Intent Pipeline：围绕外部意图分析能力（LLM）的契约与安全包络。
// 策略全部归本组件所有，上游返回什么都不直接信任：
//   - suggestedSQL 未过安全门 → 强制 isReadOnly=false，拒绝执行；
//   - 歧义标记但没有澄清问题 → 视为上游故障而非有效歧义态；
//   - 置信度只是参考值，永远不能绕过安全门。
package intent

import (
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"QueryAegis/internal/safety"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Pipeline 编排一次自然语言请求：构建上下文、委托分析、归一化、执行。
type Pipeline struct {
	catalog  port.SchemaCatalog
	analyzer port.IntentAnalyzer
	gate     *safety.Gate
	runner   port.QueryRunner
}

// New 创建 Intent Pipeline。
func New(catalog port.SchemaCatalog, analyzer port.IntentAnalyzer, gate *safety.Gate, runner port.QueryRunner) *Pipeline {
	return &Pipeline{catalog: catalog, analyzer: analyzer, gate: gate, runner: runner}
}

// HasAnalyzer 报告是否配置了外部分析能力。
// 没有分析能力时 Execute 依然可用（安全门 + 引擎不依赖它）。
func (p *Pipeline) HasAnalyzer() bool {
	return p.analyzer != nil
}

// Analyze 分析一段自然语言请求，返回一个全新的、独立的 QueryIntent。
// 同一段文本的两次分析互不相关：上游本身是非确定的，这里不做任何缓存。
func (p *Pipeline) Analyze(ctx context.Context, database, userText string) (*domain.QueryIntent, error) {
	if p.analyzer == nil {
		return nil, fmt.Errorf("未配置意图分析能力: %w", port.ErrUpstreamAnalysis)
	}
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("查询文本为空: %w", port.ErrUpstreamAnalysis)
	}

	snap, err := p.catalog.Snapshot(ctx, database)
	if err != nil {
		return nil, err
	}

	result, err := p.analyzer.AnalyzeIntent(ctx, userText, BuildSchemaContext(snap))
	if err != nil {
		return nil, fmt.Errorf("意图分析调用失败: %w", port.ErrUpstreamAnalysis)
	}
	if result == nil || (result.SuggestedSQL == "" && !result.IsAmbiguous) {
		return nil, fmt.Errorf("上游返回了空的分析结果: %w", port.ErrUpstreamAnalysis)
	}

	intent := *result
	intent.ID = uuid.NewString()
	intent.Confidence = clampConfidence(intent.Confidence)

	// 歧义标记只有伴随澄清问题才可信；空问题的"歧义"是上游故障
	if intent.IsAmbiguous {
		if len(intent.ClarifyingQuestions) == 0 {
			return nil, fmt.Errorf("上游报告歧义但未给出澄清问题: %w", port.ErrUpstreamAnalysis)
		}
		intent.Status = domain.IntentAwaitingClarification
		intent.IsReadOnly = false
		intent.SuggestedSQL = ""
		return &intent, nil
	}

	// 安全门的结论覆盖上游的任何声明，高置信度的危险语句照样拒绝
	if gateErr := p.gate.Validate(ctx, database, intent.SuggestedSQL); gateErr != nil {
		slog.Warn("意图分析产出的语句未通过安全门",
			"intent_id", intent.ID,
			"confidence", intent.Confidence,
		)
		intent.IsReadOnly = false
		intent.Status = domain.IntentAnalyzedConfident
		return &intent, nil
	}

	intent.IsReadOnly = true
	intent.Status = domain.IntentConfirmationPending
	if len(intent.TablesInvolved) == 0 {
		intent.TablesInvolved = safety.ExtractTables(intent.SuggestedSQL)
	}
	return &intent, nil
}

// Execute 执行一条来自意图流程的语句。执行前重新过一遍安全门：
// 早先 Analyze 的结论不可信：意图可能被客户端重放，而结构快照可能已变。
func (p *Pipeline) Execute(ctx context.Context, database, sqlText string) (*domain.QueryResult, error) {
	if err := p.gate.Validate(ctx, database, sqlText); err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, database, domain.CompiledQuery{SQL: sqlText})
}

// BuildSchemaContext 把结构快照整理为提供给分析能力的上下文包：
// 表名、列名/类型/可空性，以及少量采样值。
func BuildSchemaContext(snap *domain.SchemaSnapshot) string {
	var sb strings.Builder
	for _, name := range snap.TableNames() {
		table := snap.Tables[name]
		sb.WriteString(fmt.Sprintf("Table: %s (%d rows)\n", table.TableName, table.RowCount))
		sb.WriteString("Columns:\n")
		for _, col := range table.Columns {
			sb.WriteString(fmt.Sprintf("  - %s (%s", col.Name, col.DataType))
			if col.Nullable {
				sb.WriteString(", nullable")
			}
			sb.WriteString(")\n")
			if samples, ok := table.SampleValues[col.Name]; ok {
				sb.WriteString(fmt.Sprintf("    sample values: %s\n", strings.Join(samples, ", ")))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
