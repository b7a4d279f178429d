// Package compiler file: internal/compiler/compiler.go
//
// Filter Compiler：把类型化的过滤条件列表编译为针对单表的、
// 只带位置占位符的只读 SELECT 语句。过滤值永远通过参数绑定，
// 列名与表名只有在解析到 Schema Catalog 的元数据之后才会出现在 SQL 文本里。
package compiler

import (
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// Compiler 持有 Schema Catalog，用于把表名/列名解析为已发现的元数据。
type Compiler struct {
	catalog port.SchemaCatalog
}

// New 创建一个 Filter Compiler。
func New(catalog port.SchemaCatalog) *Compiler {
	return &Compiler{catalog: catalog}
}

// Compile 把一次结构化搜索编译为分页的数据查询。
// 相同入参的两次编译产出字节级相同的 SQL 与参数列表。
func (c *Compiler) Compile(ctx context.Context, database, table string, spec domain.SearchSpec) (domain.CompiledQuery, error) {
	meta, found, err := c.catalog.GetTable(ctx, database, table)
	if err != nil {
		return domain.CompiledQuery{}, err
	}
	if !found {
		return domain.CompiledQuery{}, fmt.Errorf("表 '%s': %w", table, port.ErrUnknownTable)
	}

	whereClause, args, err := buildWhereClause(meta, spec.Filters)
	if err != nil {
		return domain.CompiledQuery{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(meta.TableName)
	if whereClause != "" {
		sb.WriteString(" ")
		sb.WriteString(whereClause)
	}

	// 排序列必须解析到真实列，否则确定性地省略 ORDER BY（此时结果顺序
	// 由数据库决定，不做任何隐式兜底）。
	if spec.SortBy != "" {
		if _, ok := meta.Column(spec.SortBy); ok {
			direction := "ASC"
			if strings.EqualFold(spec.SortOrder, "desc") {
				direction = "DESC"
			}
			sb.WriteString(" ORDER BY ")
			sb.WriteString(spec.SortBy)
			sb.WriteString(" ")
			sb.WriteString(direction)
		}
	}

	page, size := ClampPaging(spec.Page, spec.PageSize)
	sb.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2))
	args = append(args, size, (page-1)*size)

	return domain.CompiledQuery{
		SQL:         sb.String(),
		Parameters:  args,
		SourceTable: meta.TableName,
	}, nil
}

// CompileCount 编译与 Compile 同条件的 COUNT 查询，供分页响应的 total_count 使用。
func (c *Compiler) CompileCount(ctx context.Context, database, table string, filters []domain.FilterCondition) (domain.CompiledQuery, error) {
	meta, found, err := c.catalog.GetTable(ctx, database, table)
	if err != nil {
		return domain.CompiledQuery{}, err
	}
	if !found {
		return domain.CompiledQuery{}, fmt.Errorf("表 '%s': %w", table, port.ErrUnknownTable)
	}

	whereClause, args, err := buildWhereClause(meta, filters)
	if err != nil {
		return domain.CompiledQuery{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(meta.TableName)
	if whereClause != "" {
		sb.WriteString(" ")
		sb.WriteString(whereClause)
	}

	return domain.CompiledQuery{
		SQL:         sb.String(),
		Parameters:  args,
		SourceTable: meta.TableName,
	}, nil
}

// buildWhereClause 为每个过滤条件产出一个谓词片段，用 AND 连接。
// 单个过滤列表就是一个合取，不支持跨条件 OR。
func buildWhereClause(meta domain.TableMetadata, filters []domain.FilterCondition) (string, []any, error) {
	if len(filters) == 0 {
		return "", []any{}, nil
	}

	conditions := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))

	for _, f := range filters {
		col, ok := meta.Column(f.Column)
		if !ok {
			return "", nil, fmt.Errorf("列 '%s': %w", f.Column, port.ErrUnknownColumn)
		}
		semType := domain.DeriveSemanticType(col.DataType)
		if !domain.OperatorLegal(semType, f.Operator) {
			return "", nil, fmt.Errorf("列 '%s' (%s) 不支持算子 '%s': %w", f.Column, semType, f.Operator, port.ErrIllegalOperator)
		}

		fragment, fragArgs, err := buildPredicate(col, semType, f, len(args))
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fragment)
		args = append(args, fragArgs...)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

// buildPredicate 产出单个谓词片段。offset 是当前已消耗的占位符数。
func buildPredicate(col domain.ColumnMetadata, semType domain.SemanticType, f domain.FilterCondition, offset int) (string, []any, error) {
	name := col.Name
	next := func(n int) string { return fmt.Sprintf("$%d", offset+n) }

	// json 列上的模糊匹配需要先转文本
	likeTarget := name
	if semType == domain.TypeJSON {
		likeTarget = name + "::text"
	}

	switch f.Operator {
	case domain.OpIsNull:
		return name + " IS NULL", nil, nil
	case domain.OpIsNotNull:
		return name + " IS NOT NULL", nil, nil

	case domain.OpContains:
		return likeTarget + " LIKE " + next(1), []any{"%" + escapeLike(f.Value) + "%"}, nil
	case domain.OpNotContains:
		return likeTarget + " NOT LIKE " + next(1), []any{"%" + escapeLike(f.Value) + "%"}, nil
	case domain.OpStartsWith:
		return likeTarget + " LIKE " + next(1), []any{escapeLike(f.Value) + "%"}, nil
	case domain.OpEndsWith:
		return likeTarget + " LIKE " + next(1), []any{"%" + escapeLike(f.Value)}, nil

	case domain.OpBetween:
		if f.Value2 == "" {
			return "", nil, fmt.Errorf("列 '%s' 的 between 条件: %w", col.Name, port.ErrMissingRangeBound)
		}
		lo, err := convertValue(semType, col.Name, f.Value)
		if err != nil {
			return "", nil, err
		}
		hi, err := convertValue(semType, col.Name, f.Value2)
		if err != nil {
			return "", nil, err
		}
		return name + " BETWEEN " + next(1) + " AND " + next(2), []any{lo, hi}, nil

	case domain.OpEquals, domain.OpNotEquals, domain.OpGreaterThan, domain.OpLessThan,
		domain.OpGreaterOrEqual, domain.OpLessOrEqual:
		v, err := convertValue(semType, col.Name, f.Value)
		if err != nil {
			return "", nil, err
		}
		return name + " " + sqlComparator(f.Operator) + " " + next(1), []any{v}, nil

	default:
		return "", nil, fmt.Errorf("算子 '%s': %w", f.Operator, port.ErrIllegalOperator)
	}
}

// sqlComparator 把比较类算子翻译为 SQL 比较符。
func sqlComparator(op domain.FilterOperator) string {
	switch op {
	case domain.OpEquals:
		return "="
	case domain.OpNotEquals:
		return "!="
	case domain.OpGreaterThan:
		return ">"
	case domain.OpLessThan:
		return "<"
	case domain.OpGreaterOrEqual:
		return ">="
	case domain.OpLessOrEqual:
		return "<="
	}
	return "="
}

// convertValue 按语义类型把过滤值转换为要绑定的参数。
// 转换失败是调用方错误，带上具体列名上报。
func convertValue(semType domain.SemanticType, column, value string) (any, error) {
	switch semType {
	case domain.TypeNumber:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("列 '%s' 的值 '%s' 不是数字: %w", column, value, port.ErrInvalidValue)
		}
		return f, nil
	case domain.TypeBoolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("列 '%s' 的值 '%s' 不是布尔值: %w", column, value, port.ErrInvalidValue)
		}
		return b, nil
	default:
		return value, nil
	}
}

// escapeLike 在绑定前转义 LIKE 的元字符，转义发生在参数值内部而非 SQL 拼接。
func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	v = strings.ReplaceAll(v, `_`, `\_`)
	return v
}

// ClampPaging 把分页参数收敛到安全范围，限制单次查询的资源开销。
// 传输层复用它来回显实际生效的分页参数。
func ClampPaging(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
