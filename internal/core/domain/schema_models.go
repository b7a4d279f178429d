// Package domain file: internal/core/domain/schema_models.go
package domain

import (
	"sort"
	"time"
)

// ColumnMetadata 描述目标库中单个列的元数据。
// 一旦由 Schema Catalog 探测完成即视为不可变，只有整体刷新会替换它。
type ColumnMetadata struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	Nullable     bool   `json:"nullable"`
	DefaultValue string `json:"default_value,omitempty"`
	MaxLength    int    `json:"max_length,omitempty"`
}

// TableMetadata 描述一张已发现的基础表：列、行数与采样值。
// SampleValues 仅针对可枚举列（低基数的文本类列）收集，供意图分析提示词使用。
type TableMetadata struct {
	TableName    string              `json:"table_name"`
	Columns      []ColumnMetadata    `json:"columns"`
	RowCount     int64               `json:"row_count"`
	SampleValues map[string][]string `json:"sample_values,omitempty"`
}

// Column 按列名查找列元数据。
func (t TableMetadata) Column(name string) (ColumnMetadata, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMetadata{}, false
}

// SchemaSnapshot 是某个逻辑数据库在一轮发现后的完整结构快照。
// 快照整体替换、从不原地修改，因此并发读取无需加锁。
type SchemaSnapshot struct {
	Database  string                   `json:"database"`
	Tables    map[string]TableMetadata `json:"tables"`
	FetchedAt time.Time                `json:"fetched_at"`
}

// TableNames 返回快照中所有表名（排序后），作为 Safety Gate 的白名单。
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTable 判断表是否存在于快照白名单中。
func (s *SchemaSnapshot) HasTable(name string) bool {
	_, ok := s.Tables[name]
	return ok
}
