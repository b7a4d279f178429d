// Package domain file: internal/core/domain/query_models.go
package domain

// SemanticType 是列声明类型归一化后的语义类型，过滤算子的合法性按它判定。
type SemanticType string

const (
	TypeText    SemanticType = "text"
	TypeNumber  SemanticType = "number"
	TypeDate    SemanticType = "date"
	TypeBoolean SemanticType = "boolean"
	TypeJSON    SemanticType = "json"
)

// FilterOperator 是结构化过滤条件支持的算子集合。
type FilterOperator string

const (
	OpEquals         FilterOperator = "equals"
	OpNotEquals      FilterOperator = "not_equals"
	OpContains       FilterOperator = "contains"
	OpNotContains    FilterOperator = "not_contains"
	OpStartsWith     FilterOperator = "starts_with"
	OpEndsWith       FilterOperator = "ends_with"
	OpGreaterThan    FilterOperator = "greater_than"
	OpLessThan       FilterOperator = "less_than"
	OpGreaterOrEqual FilterOperator = "greater_or_equal"
	OpLessOrEqual    FilterOperator = "less_or_equal"
	OpBetween        FilterOperator = "between"
	OpIsNull         FilterOperator = "is_null"
	OpIsNotNull      FilterOperator = "is_not_null"
)

// operatorCatalog 是语义类型到合法算子集合的固定映射。
// 这是编译期校验的静态不变量：例如 contains 对 boolean 非法。
var operatorCatalog = map[SemanticType][]FilterOperator{
	TypeText: {
		OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpStartsWith, OpEndsWith, OpIsNull, OpIsNotNull,
	},
	TypeNumber: {
		OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterOrEqual, OpLessOrEqual, OpBetween, OpIsNull, OpIsNotNull,
	},
	TypeDate: {
		OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterOrEqual, OpLessOrEqual, OpBetween, OpIsNull, OpIsNotNull,
	},
	TypeBoolean: {
		OpEquals, OpNotEquals, OpIsNull, OpIsNotNull,
	},
	TypeJSON: {
		OpContains, OpNotContains, OpIsNull, OpIsNotNull,
	},
}

// OperatorsFor 返回语义类型的合法算子集合。
func OperatorsFor(t SemanticType) []FilterOperator {
	ops := operatorCatalog[t]
	out := make([]FilterOperator, len(ops))
	copy(out, ops)
	return out
}

// OperatorLegal 判断算子对于给定语义类型是否合法。
func OperatorLegal(t SemanticType, op FilterOperator) bool {
	for _, legal := range operatorCatalog[t] {
		if legal == op {
			return true
		}
	}
	return false
}

// FilterCondition 是搜索请求中的单个过滤条件。
// Column 必须能解析到目标表的某个 ColumnMetadata.Name，这是防注入的第一不变量。
// Value2 仅对 between 算子有意义。
type FilterCondition struct {
	Column   string         `json:"column" binding:"required"`
	Operator FilterOperator `json:"operator" binding:"required"`
	Value    string         `json:"value"`
	Value2   string         `json:"value2,omitempty"`
}

// SearchSpec 描述一次结构化搜索：过滤条件的合取，外加排序与分页。
type SearchSpec struct {
	Filters   []FilterCondition `json:"filters"`
	SortBy    string            `json:"sort_by,omitempty"`
	SortOrder string            `json:"sort_order,omitempty"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
}

// CompiledQuery 是 Filter Compiler 的唯一产物：带位置占位符的只读单表语句。
// Execution Engine 只接受这个对象，调用方永远不能手写它的 SQL。
type CompiledQuery struct {
	SQL         string `json:"sql"`
	Parameters  []any  `json:"parameters"`
	SourceTable string `json:"source_table"`
}

// QueryResult 是一次执行的临时结果，不做任何持久化。
type QueryResult struct {
	Success         bool             `json:"success"`
	Columns         []string         `json:"columns,omitempty"`
	Data            []map[string]any `json:"data"`
	Error           string           `json:"error,omitempty"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	Truncated       bool             `json:"truncated,omitempty"`
	Insights        []string         `json:"insights,omitempty"`
}

// SearchResult 是搜索接口的分页响应。
type SearchResult struct {
	Data       []map[string]any `json:"data"`
	TotalCount int64            `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int64            `json:"total_pages"`
}
