// Package safety file: internal/safety/gate.go
//
// Query Safety Gate：所有生成的 SQL（无论来自 Filter Compiler 还是
// Intent Pipeline）在抵达 Execution Engine 之前必须经过的唯一强制检查点。
// 文本检查本身不是健全的注入防御，真正的兜底是 Execution Engine
// 的只读事务；这里的职责是尽早、廉价地拒绝明显越界的语句。
package safety

import (
	"QueryAegis/internal/core/domain"
	"QueryAegis/internal/core/port"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// 禁用关键字按词边界匹配，避免把列名里的子串（如 created_by_update）误伤。
// FROM 子句整段捕获到首个关键字为止，逗号连接的表与 JOIN 同等对待。
var (
	bannedKeywordRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|GRANT|CREATE|EXEC(?:UTE)?|COPY|DO)\b`)
	fromListRe      = regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z_"][^;()]*?)(?:\s+(?:WHERE|GROUP|ORDER|HAVING|WINDOW|LIMIT|OFFSET|UNION|INTERSECT|EXCEPT|JOIN|LEFT|RIGHT|INNER|FULL|CROSS|NATURAL|ON|USING)\b|\s*[;)]|$)`)
	joinRefRe       = regexp.MustCompile(`(?i)\bJOIN\s+"?([a-zA-Z_][a-zA-Z0-9_.]*)"?`)
	leadingIdentRe  = regexp.MustCompile(`^"?([a-zA-Z_][a-zA-Z0-9_.]*)"?`)
	lineCommentRe   = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// Gate 持有 Schema Catalog 以获取表白名单快照。
type Gate struct {
	catalog port.SchemaCatalog
}

// New 创建一个 Safety Gate。
func New(catalog port.SchemaCatalog) *Gate {
	return &Gate{catalog: catalog}
}

// Validate 依次执行：注释剥离后必须以 SELECT 开头、无禁用关键字、
// 无多语句、引用的表全部在白名单内。任何一步失败都会把原始 SQL
// 记入服务端日志并返回统一的 ErrSafetyViolation，客户端拿不到细节。
func (g *Gate) Validate(ctx context.Context, database, sqlText string) error {
	if err := g.validate(ctx, database, sqlText); err != nil {
		slog.Warn("安全门拒绝了一条语句",
			"database", database,
			"reason", err.Error(),
			"sql", sqlText,
		)
		return port.ErrSafetyViolation
	}
	return nil
}

// ValidateCompiled 是 Validate 针对编译产物的便捷入口。
func (g *Gate) ValidateCompiled(ctx context.Context, database string, q domain.CompiledQuery) error {
	return g.Validate(ctx, database, q.SQL)
}

func (g *Gate) validate(ctx context.Context, database, sqlText string) error {
	stripped := strings.TrimSpace(StripComments(sqlText))
	if stripped == "" {
		return fmt.Errorf("空语句")
	}

	if !strings.HasPrefix(strings.ToUpper(stripped), "SELECT") {
		return fmt.Errorf("语句必须以 SELECT 开头")
	}

	if m := bannedKeywordRe.FindString(stripped); m != "" {
		return fmt.Errorf("包含禁用关键字 '%s'", strings.ToUpper(m))
	}

	if HasMultipleStatements(stripped) {
		return fmt.Errorf("不允许多语句")
	}

	snap, err := g.catalog.Snapshot(ctx, database)
	if err != nil {
		return fmt.Errorf("获取表白名单失败: %w", err)
	}
	for _, table := range ExtractTables(stripped) {
		if !snap.HasTable(table) {
			return fmt.Errorf("引用了白名单之外的表 '%s'", table)
		}
	}

	return nil
}

// StripComments 去掉行注释与块注释，防止 `SELECT 1 -- DROP ...` 一类的伪装。
func StripComments(sqlText string) string {
	out := blockCommentRe.ReplaceAllString(sqlText, " ")
	out = lineCommentRe.ReplaceAllString(out, " ")
	return out
}

// HasMultipleStatements 判断语句是否在分号之后还有非空白内容。
// 末尾单独一个分号是合法的。
func HasMultipleStatements(sqlText string) bool {
	idx := strings.Index(sqlText, ";")
	if idx < 0 {
		return false
	}
	return strings.TrimSpace(sqlText[idx+1:]) != ""
}

// ExtractTables 从 FROM/JOIN 子句中提取被引用的表名（去掉 schema 前缀与引号）。
// FROM 后的逗号列表逐段解析，`FROM a, b` 里的每张表都要过白名单；
// 无法解析成标识符的片段原样返回，交给白名单校验兜底拒绝。
func ExtractTables(sqlText string) []string {
	seen := make(map[string]struct{})
	var tables []string
	add := func(name string) {
		if dot := strings.LastIndex(name, "."); dot >= 0 {
			name = name[dot+1:]
		}
		name = strings.ToLower(name)
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}

	for _, m := range fromListRe.FindAllStringSubmatch(sqlText, -1) {
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if im := leadingIdentRe.FindStringSubmatch(part); im != nil {
				add(im[1])
			} else {
				add(part)
			}
		}
	}
	for _, m := range joinRefRe.FindAllStringSubmatch(sqlText, -1) {
		add(m[1])
	}
	return tables
}
