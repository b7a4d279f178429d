// Package domain file: internal/core/domain/semantic.go
package domain

import "strings"

// DeriveSemanticType 把列声明类型归一化为语义类型。
// 按声明类型名做子串匹配：int/numeric/decimal→number，timestamp/date→date，
// bool→boolean，json→json，其余一律按 text 处理。
// 匹配顺序有讲究：json 必须先于其它判断（"json" 不含数字类型子串），
// bool 先于 number（避免歧义），数字类先于日期类。
func DeriveSemanticType(dataType string) SemanticType {
	dt := strings.ToLower(dataType)
	switch {
	case strings.Contains(dt, "json"):
		return TypeJSON
	case strings.Contains(dt, "bool"):
		return TypeBoolean
	case strings.Contains(dt, "int"),
		strings.Contains(dt, "numeric"),
		strings.Contains(dt, "decimal"),
		strings.Contains(dt, "real"),
		strings.Contains(dt, "double"),
		strings.Contains(dt, "serial"):
		return TypeNumber
	case strings.Contains(dt, "timestamp"),
		strings.Contains(dt, "date"):
		return TypeDate
	default:
		return TypeText
	}
}
