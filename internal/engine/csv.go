// Package engine file: internal/engine/csv.go
package engine

import (
	"QueryAegis/internal/core/domain"
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
)

// ToCSV 是 QueryResult 之上的纯函数投影。
// 列序优先取结果集自带的列序；结果未携带列序时退回首行键的排序结果
// （Go 的 map 没有插入序，排序保证确定性）。NULL 输出为空串；
// 含逗号/引号/换行的值由 csv 包按 RFC 4180 引号转义。
func ToCSV(result *domain.QueryResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	columns := result.Columns
	if len(columns) == 0 {
		if len(result.Data) == 0 {
			w.Flush()
			return buf.Bytes(), w.Error()
		}
		columns = make([]string, 0, len(result.Data[0]))
		for col := range result.Data[0] {
			columns = append(columns, col)
		}
		sort.Strings(columns)
	}

	if err := w.Write(columns); err != nil {
		return nil, err
	}

	record := make([]string, len(columns))
	for _, row := range result.Data {
		for i, col := range columns {
			record[i] = cellString(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
