// Package aegmiddleware file: internal/aegmiddleware/limiter.go
//
// 查询网关的速率限制：一个全局令牌桶兜底整机吞吐，
// 每个来源 IP 再各自持有一个令牌桶。IP 条目带 TTL，
// 不活跃的来源由缓存自动淘汰，不需要手工清理协程。
package aegmiddleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter 管理全局与按 IP 的速率限制。
type RateLimiter struct {
	global *rate.Limiter

	perIP   *cache.Cache
	ipRate  rate.Limit
	ipBurst int
}

// NewRateLimiter 创建速率限制器。
// globalRate/globalBurst 约束整个网关；ipRate/ipBurst 约束单个来源。
func NewRateLimiter(globalRate float64, globalBurst int, ipRate float64, ipBurst int) *RateLimiter {
	rl := &RateLimiter{
		global:  rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		perIP:   cache.New(15*time.Minute, 10*time.Minute),
		ipRate:  rate.Limit(ipRate),
		ipBurst: ipBurst,
	}
	slog.Info("速率限制器初始化完成",
		"global_rate", globalRate, "global_burst", globalBurst,
		"ip_rate", ipRate, "ip_burst", ipBurst,
	)
	return rl
}

// limiterFor 返回（必要时创建）某个 IP 的令牌桶，同时续期 TTL。
func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	if v, found := rl.perIP.Get(ip); found {
		lim := v.(*rate.Limiter)
		rl.perIP.SetDefault(ip, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.ipRate, rl.ipBurst)
	rl.perIP.SetDefault(ip, lim)
	return lim
}

// Middleware 返回应用在数据平面路由上的 gin 中间件。
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.global.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "服务繁忙，请稍后重试"})
			return
		}
		if !rl.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后重试"})
			return
		}
		c.Next()
	}
}
