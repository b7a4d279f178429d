// Package engine file: internal/engine/engine.go
//
// Execution Engine：执行一条已经过安全门的语句。无论语句自带什么 LIMIT，
// 这里都再加一层硬性约束：只读事务、墙钟超时、行数上限。
// 引擎本身跨调用无状态，连接池由 main 构造并注入。
package engine

import (
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config 控制单次执行的资源边界。
type Config struct {
	QueryTimeout   time.Duration // 单条语句的墙钟超时
	MaxRows        int           // 独立于语句 LIMIT 的硬行数上限
	AcquireTimeout time.Duration // 等待连接池的上限，超过即快速失败
}

func (c *Config) fillDefaults() {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 10000
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 3 * time.Second
	}
}

// Engine 实现 port.QueryRunner。
type Engine struct {
	cfg   Config
	pools map[string]*sql.DB
}

// New 创建 Execution Engine。
func New(pools map[string]*sql.DB, cfg Config) *Engine {
	cfg.fillDefaults()
	return &Engine{cfg: cfg, pools: pools}
}

// Run 在只读事务中执行语句并收集结果、行数与耗时。
// 数据库层错误只进服务端日志，返回给调用方的错误文本是脱敏过的。
func (e *Engine) Run(ctx context.Context, database string, q domain.CompiledQuery) (*domain.QueryResult, error) {
	pool, ok := e.pools[database]
	if !ok {
		return nil, fmt.Errorf("数据库 '%s': %w", database, port.ErrUnknownDatabase)
	}

	// 连接获取与语句执行分别限时：池耗尽要快速失败而不是无限排队
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, e.cfg.AcquireTimeout)
	defer cancelAcquire()
	conn, err := pool.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("等待数据库 '%s' 的连接超时: %w", database, port.ErrResourceExhausted)
		}
		return nil, e.failure(database, q.SQL, err)
	}
	defer conn.Close()

	runCtx, cancelRun := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancelRun()

	started := time.Now()

	// 只读事务是文本检查之外的硬防御：即使一条越权语句漏过了安全门，
	// 也会在这里被数据库本身拒绝
	tx, err := conn.BeginTx(runCtx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, e.failure(database, q.SQL, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(runCtx, q.SQL, q.Parameters...)
	if err != nil {
		return e.failedResult(started), e.failure(database, q.SQL, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return e.failedResult(started), e.failure(database, q.SQL, err)
	}

	data := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if len(data) >= e.cfg.MaxRows {
			truncated = true
			break
		}
		scanDest := make([]any, len(columns))
		scanPtrs := make([]any, len(columns))
		for i := range scanDest {
			scanPtrs[i] = &scanDest[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return e.failedResult(started), e.failure(database, q.SQL, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, isBytes := scanDest[i].([]byte); isBytes {
				row[col] = string(b)
			} else {
				row[col] = scanDest[i]
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return e.failedResult(started), e.failure(database, q.SQL, err)
	}

	return &domain.QueryResult{
		Success:         true,
		Columns:         columns,
		Data:            data,
		RowCount:        len(data),
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		Truncated:       truncated,
	}, nil
}

// RunScalar 执行单值查询（COUNT 等），复用 Run 的全部资源约束。
func (e *Engine) RunScalar(ctx context.Context, database string, q domain.CompiledQuery) (int64, error) {
	result, err := e.Run(ctx, database, q)
	if err != nil {
		return 0, err
	}
	if len(result.Data) == 0 {
		return 0, nil
	}
	for _, v := range result.Data[0] {
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			var parsed int64
			if _, errScan := fmt.Sscan(n, &parsed); errScan == nil {
				return parsed, nil
			}
		}
	}
	return 0, fmt.Errorf("标量查询未返回数值: %w", port.ErrExecutionFailure)
}

// failure 记录原始驱动错误并返回脱敏后的执行错误。
func (e *Engine) failure(database, sqlText string, err error) error {
	slog.Error("语句执行失败", "database", database, "sql", sqlText, "error", err)
	return fmt.Errorf("数据库 '%s' 执行出错: %w", database, port.ErrExecutionFailure)
}

func (e *Engine) failedResult(started time.Time) *domain.QueryResult {
	return &domain.QueryResult{
		Success:         false,
		Error:           "查询执行失败",
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}
}
