// file: internal/engine/engine_test.go

package engine

import (
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockEngine(t *testing.T, cfg Config) (*Engine, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "创建 sqlmock 失败")
	t.Cleanup(func() { _ = db.Close() })
	return New(map[string]*sql.DB{"main": db}, cfg), mock, db
}

func TestRun_ReadOnlyQuery(t *testing.T) {
	e, mock, _ := newMockEngine(t, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM contacts WHERE email LIKE \$1 LIMIT \$2 OFFSET \$3`).
		WithArgs("%@acme.com%", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(1), []byte("a@acme.com")).
			AddRow(int64(2), []byte("b@acme.com")))
	mock.ExpectRollback()

	result, err := e.Run(context.Background(), "main", domain.CompiledQuery{
		SQL:        "SELECT * FROM contacts WHERE email LIKE $1 LIMIT $2 OFFSET $3",
		Parameters: []any{"%@acme.com%", 50, 0},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, []string{"id", "email"}, result.Columns, "结果应携带结果集的原始列序")
	// 驱动返回的 []byte 应转为字符串
	assert.Equal(t, "a@acme.com", result.Data[0]["email"])
	assert.Equal(t, int64(1), result.Data[0]["id"])
	assert.GreaterOrEqual(t, result.ExecutionTimeMs, int64(0))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RowCapTruncates(t *testing.T) {
	e, mock, _ := newMockEngine(t, Config{MaxRows: 2})

	rows := sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM contacts`).WillReturnRows(rows)
	mock.ExpectRollback()

	result, err := e.Run(context.Background(), "main", domain.CompiledQuery{SQL: "SELECT * FROM contacts"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount, "超过行数上限的数据应被截断")
	assert.True(t, result.Truncated)
}

func TestRun_UnknownDatabase(t *testing.T) {
	e, _, _ := newMockEngine(t, Config{})

	_, err := e.Run(context.Background(), "ghost", domain.CompiledQuery{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, port.ErrUnknownDatabase)
}

func TestRun_SanitizedError(t *testing.T) {
	e, mock, _ := newMockEngine(t, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM contacts`).
		WillReturnError(&testDriverError{msg: `pq: column "secret_internal" does not exist`})
	mock.ExpectRollback()

	result, err := e.Run(context.Background(), "main", domain.CompiledQuery{SQL: "SELECT * FROM contacts"})
	require.Error(t, err)

	assert.ErrorIs(t, err, port.ErrExecutionFailure)
	assert.NotContains(t, err.Error(), "secret_internal", "对外错误不得泄漏驱动细节")
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotContains(t, result.Error, "secret_internal")
}

type testDriverError struct{ msg string }

func (e *testDriverError) Error() string { return e.msg }

func TestRun_PoolExhaustion(t *testing.T) {
	e, _, db := newMockEngine(t, Config{AcquireTimeout: 50 * time.Millisecond})

	// 占住池中唯一的连接，迫使下一次获取等待直至超时
	db.SetMaxOpenConns(1)
	held, err := db.Conn(context.Background())
	require.NoError(t, err)
	defer func() { _ = held.Close() }()

	_, err = e.Run(context.Background(), "main", domain.CompiledQuery{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, port.ErrResourceExhausted)
}

func TestRunScalar(t *testing.T) {
	e, mock, _ := newMockEngine(t, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM contacts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1280)))
	mock.ExpectRollback()

	total, err := e.RunScalar(context.Background(), "main", domain.CompiledQuery{SQL: "SELECT COUNT(*) FROM contacts"})
	require.NoError(t, err)
	assert.Equal(t, int64(1280), total)
}

func TestRunScalar_EmptyResult(t *testing.T) {
	e, mock, _ := newMockEngine(t, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM contacts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}))
	mock.ExpectRollback()

	total, err := e.RunScalar(context.Background(), "main", domain.CompiledQuery{SQL: "SELECT COUNT(*) FROM contacts"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestToCSV_ResultSetColumnOrder(t *testing.T) {
	result := &domain.QueryResult{
		Columns: []string{"name", "email", "score"},
		Data: []map[string]any{
			{"name": "Ada", "email": "a@acme.com", "score": int64(95)},
		},
	}

	out, err := ToCSV(result)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	assert.Equal(t, "name,email,score", lines[0], "携带列序时 CSV 不得重排列")
	assert.Equal(t, "Ada,a@acme.com,95", lines[1])
}

func TestToCSV(t *testing.T) {
	result := &domain.QueryResult{
		Data: []map[string]any{
			{"name": "Acme, Inc.", "email": "a@acme.com", "score": int64(95), "note": nil},
			{"name": `say "hi"`, "email": "b@acme.com", "score": 80.5, "note": "第\n二行"},
		},
	}

	out, err := ToCSV(result)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	// 列序是首行键的排序结果
	assert.Equal(t, "email,name,note,score", lines[0])
	assert.Equal(t, `a@acme.com,"Acme, Inc.",,95`, lines[1], "NULL 输出为空串，含逗号的值要加引号")
	assert.Contains(t, string(out), `"say ""hi"""`, "引号应按 RFC 4180 转义")
}

func TestToCSV_Empty(t *testing.T) {
	out, err := ToCSV(&domain.QueryResult{Data: []map[string]any{}})
	require.NoError(t, err)
	assert.Empty(t, out)
}
