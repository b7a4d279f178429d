// Package aegobserve file: internal/aegobserve/debug.go
package aegobserve

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // 自动注册 pprof
)

// EnablePprof 在指定地址上暴露 /debug/pprof 端点。
// addr 为空则不启用。
func EnablePprof(addr string) {
	if addr == "" {
		slog.Info("pprof 未启用（地址为空）")
		return
	}
	go func() {
		slog.Info("pprof 端点已启动", "address", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("pprof 端点启动失败", "error", err)
		}
	}()
}
