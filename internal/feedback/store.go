// Package feedback file: internal/feedback/store.go
//
// Feedback Recorder：把自然语言查询的准确性信号（👍/👎）追加到本地
// 实例库，留给离线的质量分析用。系统的其它组件从不同步读它；
// 写入失败由调用方记日志后吞掉，绝不反过来影响用户请求。
package feedback

import (
	"QueryAegis/internal/core/domain"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store 实现 port.FeedbackRecorder，落在一个独立的 SQLite 实例库上。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）反馈库并确保表结构存在。
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开反馈数据库 '%s' 失败: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接反馈数据库 '%s' (Ping) 失败: %w", path, err)
	}
	if err := initFeedbackTable(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// initFeedbackTable 创建仅追加的反馈表。
func initFeedbackTable(db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS nl_feedback(
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_query TEXT NOT NULL,
        generated_sql TEXT NOT NULL,
        was_accurate BOOLEAN NOT NULL,
        user_feedback TEXT,
        created_at TEXT NOT NULL
    );`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("创建 'nl_feedback' 表失败: %w", err)
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_nl_feedback_created_at ON nl_feedback (created_at);`)
	return err
}

// Record 追加一条反馈。没有更新、没有删除，这张表只会变长。
func (s *Store) Record(ctx context.Context, rec domain.FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nl_feedback (user_query, generated_sql, was_accurate, user_feedback, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.UserQuery, rec.GeneratedSQL, rec.WasAccurate, rec.UserFeedback,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("写入反馈记录失败: %w", err)
	}
	return nil
}

// Close 关闭底层数据库。
func (s *Store) Close() error {
	return s.db.Close()
}
