// file: internal/compiler/compiler_test.go

package compiler_test

import (
	"QueryAegis/internal/compiler"
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// ============================================================================
//  测试替身 (Test Doubles)
// ============================================================================

// mockCatalog 是 port.SchemaCatalog 的内存实现，固定返回预置的表元数据。
type mockCatalog struct {
	tables map[string]domain.TableMetadata
}

func (m *mockCatalog) ListTables(_ context.Context, _ string) ([]domain.TableMetadata, error) {
	out := make([]domain.TableMetadata, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockCatalog) GetTable(_ context.Context, _, name string) (domain.TableMetadata, bool, error) {
	t, ok := m.tables[name]
	return t, ok, nil
}

func (m *mockCatalog) Snapshot(_ context.Context, database string) (*domain.SchemaSnapshot, error) {
	return &domain.SchemaSnapshot{
		Database:  database,
		Tables:    m.tables,
		FetchedAt: time.Now(),
	}, nil
}

func newTestCatalog() *mockCatalog {
	return &mockCatalog{
		tables: map[string]domain.TableMetadata{
			"contacts": {
				TableName: "contacts",
				Columns: []domain.ColumnMetadata{
					{Name: "id", DataType: "integer"},
					{Name: "email", DataType: "character varying"},
					{Name: "status", DataType: "text"},
					{Name: "score", DataType: "numeric"},
					{Name: "is_active", DataType: "boolean"},
					{Name: "created_at", DataType: "timestamp with time zone"},
					{Name: "attrs", DataType: "jsonb"},
				},
			},
		},
	}
}

// ============================================================================
//  测试用例
// ============================================================================

func TestCompile_ContainsFilter(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		Filters: []domain.FilterCondition{
			{Column: "email", Operator: domain.OpContains, Value: "@acme.com"},
		},
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}

	wantSQL := "SELECT * FROM contacts WHERE email LIKE $1 LIMIT $2 OFFSET $3"
	if q.SQL != wantSQL {
		t.Errorf("SQL 不符合预期:\n  got:  %q\n  want: %q", q.SQL, wantSQL)
	}
	wantArgs := []any{"%@acme.com%", 50, 0}
	if !reflect.DeepEqual(q.Parameters, wantArgs) {
		t.Errorf("参数列表不符合预期: got %v, want %v", q.Parameters, wantArgs)
	}
	if strings.Contains(q.SQL, "@acme.com") {
		t.Errorf("过滤值泄漏到了 SQL 文本中: %q", q.SQL)
	}
}

func TestCompile_Paging(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		Page:     2,
		PageSize: 50,
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}

	wantSQL := "SELECT * FROM contacts LIMIT $1 OFFSET $2"
	if q.SQL != wantSQL {
		t.Errorf("SQL 不符合预期: got %q, want %q", q.SQL, wantSQL)
	}
	if !reflect.DeepEqual(q.Parameters, []any{50, 50}) {
		t.Errorf("第 2 页的分页参数不符合预期: got %v, want [50 50]", q.Parameters)
	}
}

func TestCompile_PagingClamp(t *testing.T) {
	cases := []struct {
		name     string
		page     int
		size     int
		wantSize any
		wantOff  any
	}{
		{"零页码回退到第 1 页", 0, 20, 20, 0},
		{"负页码回退到第 1 页", -3, 20, 20, 0},
		{"零页大小使用默认值", 1, 0, 50, 0},
		{"超限页大小被压到上限", 1, 5000, 1000, 0},
	}

	c := compiler.New(newTestCatalog())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
				Page: tc.page, PageSize: tc.size,
			})
			if err != nil {
				t.Fatalf("Compile() 返回了意外的错误: %v", err)
			}
			want := []any{tc.wantSize, tc.wantOff}
			if !reflect.DeepEqual(q.Parameters, want) {
				t.Errorf("分页参数不符合预期: got %v, want %v", q.Parameters, want)
			}
		})
	}
}

func TestCompile_Deterministic(t *testing.T) {
	c := compiler.New(newTestCatalog())
	spec := domain.SearchSpec{
		Filters: []domain.FilterCondition{
			{Column: "status", Operator: domain.OpEquals, Value: "active"},
			{Column: "score", Operator: domain.OpGreaterThan, Value: "80"},
		},
		SortBy:    "created_at",
		SortOrder: "desc",
		Page:      3,
		PageSize:  10,
	}

	first, err := c.Compile(context.Background(), "main", "contacts", spec)
	if err != nil {
		t.Fatalf("第一次 Compile() 失败: %v", err)
	}
	second, err := c.Compile(context.Background(), "main", "contacts", spec)
	if err != nil {
		t.Fatalf("第二次 Compile() 失败: %v", err)
	}

	if first.SQL != second.SQL {
		t.Errorf("相同入参两次编译的 SQL 不一致:\n  %q\n  %q", first.SQL, second.SQL)
	}
	if !reflect.DeepEqual(first.Parameters, second.Parameters) {
		t.Errorf("相同入参两次编译的参数不一致: %v vs %v", first.Parameters, second.Parameters)
	}
}

func TestCompile_MultipleFilters(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		Filters: []domain.FilterCondition{
			{Column: "status", Operator: domain.OpEquals, Value: "active"},
			{Column: "score", Operator: domain.OpBetween, Value: "60", Value2: "90"},
			{Column: "is_active", Operator: domain.OpEquals, Value: "true"},
		},
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}

	wantSQL := "SELECT * FROM contacts WHERE status = $1 AND score BETWEEN $2 AND $3 AND is_active = $4 LIMIT $5 OFFSET $6"
	if q.SQL != wantSQL {
		t.Errorf("SQL 不符合预期:\n  got:  %q\n  want: %q", q.SQL, wantSQL)
	}
	wantArgs := []any{"active", int64(60), int64(90), true, 50, 0}
	if !reflect.DeepEqual(q.Parameters, wantArgs) {
		t.Errorf("参数列表不符合预期: got %v, want %v", q.Parameters, wantArgs)
	}
}

func TestCompile_NullOperatorsHaveNoPlaceholder(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		Filters: []domain.FilterCondition{
			{Column: "email", Operator: domain.OpIsNull},
			{Column: "status", Operator: domain.OpIsNotNull},
		},
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}

	wantSQL := "SELECT * FROM contacts WHERE email IS NULL AND status IS NOT NULL LIMIT $1 OFFSET $2"
	if q.SQL != wantSQL {
		t.Errorf("SQL 不符合预期: got %q, want %q", q.SQL, wantSQL)
	}
	if !reflect.DeepEqual(q.Parameters, []any{50, 0}) {
		t.Errorf("空值算子不应产生额外占位符: got %v", q.Parameters)
	}
}

func TestCompile_LikeEscaping(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		Filters: []domain.FilterCondition{
			{Column: "status", Operator: domain.OpContains, Value: `50%_off\`},
		},
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}

	want := `%50\%\_off\\%`
	if q.Parameters[0] != want {
		t.Errorf("LIKE 元字符未被正确转义: got %q, want %q", q.Parameters[0], want)
	}
}

func TestCompile_JSONContainsCastsToText(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		Filters: []domain.FilterCondition{
			{Column: "attrs", Operator: domain.OpContains, Value: "vip"},
		},
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}
	if !strings.Contains(q.SQL, "attrs::text LIKE $1") {
		t.Errorf("json 列的模糊匹配应先转文本: %q", q.SQL)
	}
}

func TestCompile_SortBy(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		SortBy:    "created_at",
		SortOrder: "desc",
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}
	if !strings.Contains(q.SQL, "ORDER BY created_at DESC") {
		t.Errorf("缺少预期的排序子句: %q", q.SQL)
	}

	// 未知排序列不报错，确定性地省略 ORDER BY
	q, err = c.Compile(context.Background(), "main", "contacts", domain.SearchSpec{
		SortBy: "no_such_column",
	})
	if err != nil {
		t.Fatalf("Compile() 返回了意外的错误: %v", err)
	}
	if strings.Contains(q.SQL, "ORDER BY") {
		t.Errorf("未知排序列不应进入 SQL: %q", q.SQL)
	}
}

func TestCompile_Errors(t *testing.T) {
	cases := []struct {
		name    string
		table   string
		filters []domain.FilterCondition
		wantErr error
	}{
		{
			name:    "未知表",
			table:   "no_such_table",
			wantErr: port.ErrUnknownTable,
		},
		{
			name:  "未知列",
			table: "contacts",
			filters: []domain.FilterCondition{
				{Column: "ghost", Operator: domain.OpEquals, Value: "x"},
			},
			wantErr: port.ErrUnknownColumn,
		},
		{
			name:  "布尔列上的非法算子",
			table: "contacts",
			filters: []domain.FilterCondition{
				{Column: "is_active", Operator: domain.OpContains, Value: "tru"},
			},
			wantErr: port.ErrIllegalOperator,
		},
		{
			name:  "between 缺少上界",
			table: "contacts",
			filters: []domain.FilterCondition{
				{Column: "score", Operator: domain.OpBetween, Value: "60"},
			},
			wantErr: port.ErrMissingRangeBound,
		},
		{
			name:  "数字列上的非数字值",
			table: "contacts",
			filters: []domain.FilterCondition{
				{Column: "score", Operator: domain.OpGreaterThan, Value: "many"},
			},
			wantErr: port.ErrInvalidValue,
		},
		{
			name:  "布尔列上的非布尔值",
			table: "contacts",
			filters: []domain.FilterCondition{
				{Column: "is_active", Operator: domain.OpEquals, Value: "maybe"},
			},
			wantErr: port.ErrInvalidValue,
		},
	}

	c := compiler.New(newTestCatalog())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), "main", tc.table, domain.SearchSpec{Filters: tc.filters})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("错误类型不符合预期: got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestCompileCount(t *testing.T) {
	c := compiler.New(newTestCatalog())

	q, err := c.CompileCount(context.Background(), "main", "contacts", []domain.FilterCondition{
		{Column: "email", Operator: domain.OpContains, Value: "@acme.com"},
	})
	if err != nil {
		t.Fatalf("CompileCount() 返回了意外的错误: %v", err)
	}

	wantSQL := "SELECT COUNT(*) FROM contacts WHERE email LIKE $1"
	if q.SQL != wantSQL {
		t.Errorf("COUNT SQL 不符合预期: got %q, want %q", q.SQL, wantSQL)
	}
	if !reflect.DeepEqual(q.Parameters, []any{"%@acme.com%"}) {
		t.Errorf("COUNT 参数不符合预期: got %v", q.Parameters)
	}
}

func TestDeriveSemanticType(t *testing.T) {
	cases := []struct {
		dataType string
		want     domain.SemanticType
	}{
		{"character varying", domain.TypeText},
		{"text", domain.TypeText},
		{"integer", domain.TypeNumber},
		{"bigint", domain.TypeNumber},
		{"numeric", domain.TypeNumber},
		{"double precision", domain.TypeNumber},
		{"timestamp with time zone", domain.TypeDate},
		{"date", domain.TypeDate},
		{"boolean", domain.TypeBoolean},
		{"jsonb", domain.TypeJSON},
		{"uuid", domain.TypeText},
	}
	for _, tc := range cases {
		if got := domain.DeriveSemanticType(tc.dataType); got != tc.want {
			t.Errorf("DeriveSemanticType(%q) = %v, want %v", tc.dataType, got, tc.want)
		}
	}
}
