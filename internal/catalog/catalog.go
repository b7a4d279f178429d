// Package catalog file: internal/catalog/catalog.go
//
// Schema Catalog：发现并缓存目标库的表/列元数据、行数与采样值。
// 快照是整个系统里唯一的共享可变资源：每个逻辑数据库同一时刻最多
// 只有一轮发现在进行，刷新期间的并发请求一律读取上一份快照。
package catalog

import (
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

// identRe 校验来自 information_schema 的标识符形态。
// 标识符只有通过这一步才允许被字面嵌入发现查询，参数化覆盖不了这个缺口。
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config 控制发现行为。
type Config struct {
	Schema               string        // 目标 schema，默认 public
	SampleLimit          int           // 每列最多保留的采样值数
	CardinalityThreshold int           // 超过该去重基数的列不再视为可枚举
	RefreshInterval      time.Duration // 快照的新鲜期
	DiscoverTimeout      time.Duration // 单轮发现的总超时
}

func (c *Config) fillDefaults() {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = 10
	}
	if c.CardinalityThreshold <= 0 {
		c.CardinalityThreshold = 50
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.DiscoverTimeout <= 0 {
		c.DiscoverTimeout = 30 * time.Second
	}
}

// Catalog 实现 port.SchemaCatalog。
type Catalog struct {
	cfg   Config
	pools map[string]*sql.DB

	fresh *expirable.LRU[string, *domain.SchemaSnapshot]

	mu         sync.Mutex
	last       map[string]*domain.SchemaSnapshot
	refreshing map[string]chan struct{}
}

// New 基于已构造好的连接池集合创建 Catalog。池的生命周期归 main 所有。
func New(pools map[string]*sql.DB, cfg Config) *Catalog {
	cfg.fillDefaults()
	return &Catalog{
		cfg:        cfg,
		pools:      pools,
		fresh:      expirable.NewLRU[string, *domain.SchemaSnapshot](16, nil, cfg.RefreshInterval),
		last:       make(map[string]*domain.SchemaSnapshot),
		refreshing: make(map[string]chan struct{}),
	}
}

// Snapshot 返回指定逻辑数据库的结构快照。
// 新鲜快照直接命中；过期但有旧快照时后台刷新、立即返回旧快照；
// 冷启动（从未发现过）时等待首轮发现完成。
func (c *Catalog) Snapshot(ctx context.Context, database string) (*domain.SchemaSnapshot, error) {
	pool, ok := c.pools[database]
	if !ok {
		return nil, fmt.Errorf("数据库 '%s': %w", database, port.ErrUnknownDatabase)
	}

	if snap, hit := c.fresh.Get(database); hit {
		return snap, nil
	}

	c.mu.Lock()
	stale := c.last[database]
	done, running := c.refreshing[database]
	if !running {
		done = make(chan struct{})
		c.refreshing[database] = done
		go c.refresh(database, pool, done)
	}
	c.mu.Unlock()

	if stale != nil {
		return stale, nil
	}

	// 首轮发现尚未完成，除了等没有别的选择
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	snap := c.last[database]
	c.mu.Unlock()
	if snap == nil {
		return nil, fmt.Errorf("数据库 '%s' 的结构发现失败: %w", database, port.ErrExecutionFailure)
	}
	return snap, nil
}

// ListTables 返回全部表元数据（按表名排序）。
func (c *Catalog) ListTables(ctx context.Context, database string) ([]domain.TableMetadata, error) {
	snap, err := c.Snapshot(ctx, database)
	if err != nil {
		return nil, err
	}
	tables := make([]domain.TableMetadata, 0, len(snap.Tables))
	for _, name := range snap.TableNames() {
		tables = append(tables, snap.Tables[name])
	}
	return tables, nil
}

// GetTable 按表名查找元数据。
func (c *Catalog) GetTable(ctx context.Context, database, name string) (domain.TableMetadata, bool, error) {
	snap, err := c.Snapshot(ctx, database)
	if err != nil {
		return domain.TableMetadata{}, false, err
	}
	meta, found := snap.Tables[name]
	return meta, found, nil
}

// refresh 执行一轮发现并落盘两级缓存。失败只记日志，旧快照继续服务。
func (c *Catalog) refresh(database string, pool *sql.DB, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		delete(c.refreshing, database)
		c.mu.Unlock()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DiscoverTimeout)
	defer cancel()

	started := time.Now()
	snap, err := c.discover(ctx, database, pool)
	if err != nil {
		slog.Error("结构发现失败，沿用旧快照", "database", database, "error", err)
		return
	}

	c.mu.Lock()
	c.last[database] = snap
	c.mu.Unlock()
	c.fresh.Add(database, snap)

	slog.Info("结构快照已刷新",
		"database", database,
		"tables", len(snap.Tables),
		"elapsed", time.Since(started).String(),
	)
}

// discover 对单个数据库执行一轮完整发现。
// 单表探测失败（例如权限不足）跳过该表并记 WARN，不影响整个目录。
func (c *Catalog) discover(ctx context.Context, database string, pool *sql.DB) (*domain.SchemaSnapshot, error) {
	names, err := c.listBaseTables(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("枚举基础表失败: %w", err)
	}

	var mu sync.Mutex
	tables := make(map[string]domain.TableMetadata, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, name := range names {
		tableName := name
		g.Go(func() error {
			meta, errTable := c.introspectTable(gctx, pool, tableName)
			if errTable != nil {
				slog.Warn("表探测失败，已跳过", "database", database, "table", tableName, "error", errTable)
				return nil
			}
			mu.Lock()
			tables[tableName] = meta
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.SchemaSnapshot{
		Database:  database,
		Tables:    tables,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// listBaseTables 从 information_schema 枚举基础表，并过滤非法形态的表名。
func (c *Catalog) listBaseTables(ctx context.Context, pool *sql.DB) ([]string, error) {
	rows, err := pool.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, c.cfg.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !identRe.MatchString(name) {
			slog.Warn("表名形态非法，已忽略", "table", name)
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// introspectTable 探测单表：列定义、行数、可枚举列的采样值。
func (c *Catalog) introspectTable(ctx context.Context, pool *sql.DB, table string) (domain.TableMetadata, error) {
	cols, err := c.listColumns(ctx, pool, table)
	if err != nil {
		return domain.TableMetadata{}, err
	}
	if len(cols) == 0 {
		return domain.TableMetadata{}, fmt.Errorf("表 '%s' 没有可见列", table)
	}

	meta := domain.TableMetadata{
		TableName:    table,
		Columns:      cols,
		SampleValues: make(map[string][]string),
	}

	// 表名已通过 identRe 校验，可以字面嵌入
	var count int64
	if err := pool.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return domain.TableMetadata{}, fmt.Errorf("统计行数失败: %w", err)
	}
	meta.RowCount = count

	for _, col := range cols {
		if domain.DeriveSemanticType(col.DataType) != domain.TypeText {
			continue
		}
		values, enumerable, errSample := c.sampleColumn(ctx, pool, table, col.Name)
		if errSample != nil {
			slog.Warn("列采样失败，已跳过", "table", table, "column", col.Name, "error", errSample)
			continue
		}
		if enumerable && len(values) > 0 {
			meta.SampleValues[col.Name] = values
		}
	}

	return meta, nil
}

// listColumns 读取单表的列定义，按 ordinal_position 排序。
func (c *Catalog) listColumns(ctx context.Context, pool *sql.DB, table string) ([]domain.ColumnMetadata, error) {
	rows, err := pool.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default, character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, c.cfg.Schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []domain.ColumnMetadata
	for rows.Next() {
		var (
			col        domain.ColumnMetadata
			nullable   string
			defaultVal sql.NullString
			maxLen     sql.NullInt64
		)
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &defaultVal, &maxLen); err != nil {
			return nil, err
		}
		if !identRe.MatchString(col.Name) {
			slog.Warn("列名形态非法，已忽略", "table", table, "column", col.Name)
			continue
		}
		col.Nullable = nullable == "YES"
		col.DefaultValue = defaultVal.String
		col.MaxLength = int(maxLen.Int64)
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// sampleColumn 对文本列做有界去重采样。
// 一次查询同时回答两个问题：列是否低基数（可枚举），以及采样值本身。
func (c *Catalog) sampleColumn(ctx context.Context, pool *sql.DB, table, column string) ([]string, bool, error) {
	limit := c.cfg.CardinalityThreshold + 1
	// 表名与列名均来自 information_schema 且已通过 identRe 校验
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT $1", column, table, column)
	rows, err := pool.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, false, err
		}
		if v.Valid {
			values = append(values, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if len(values) > c.cfg.CardinalityThreshold {
		return nil, false, nil
	}
	sort.Strings(values)
	if len(values) > c.cfg.SampleLimit {
		values = values[:c.cfg.SampleLimit]
	}
	return values, true, nil
}
