// file: cmd/gateway/main.go

package main

import (
	"QueryAegis/internal/adapter/llm"
	"QueryAegis/internal/aegmiddleware"
	"QueryAegis/internal/aegobserve"
	"QueryAegis/internal/catalog"
	"QueryAegis/internal/compiler"
	"QueryAegis/internal/engine"
	"QueryAegis/internal/feedback"
	"QueryAegis/internal/intent"
	"QueryAegis/internal/safety"
	"QueryAegis/internal/suggest"
	"QueryAegis/internal/transport/http/router"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	_ "github.com/lib/pq"
)

const version = "v0.3.0"

type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	LogLevel  string `mapstructure:"log_level"`
	PprofAddr string `mapstructure:"pprof_addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type CatalogConfig struct {
	Schema               string        `mapstructure:"schema"`
	SampleLimit          int           `mapstructure:"sample_limit"`
	CardinalityThreshold int           `mapstructure:"cardinality_threshold"`
	RefreshInterval      time.Duration `mapstructure:"refresh_interval"`
	DiscoverTimeout      time.Duration `mapstructure:"discover_timeout"`
}

type EngineConfig struct {
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	MaxRows        int           `mapstructure:"max_rows"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type AnalyzerConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	GlobalRate  float64 `mapstructure:"global_rate"`
	GlobalBurst int     `mapstructure:"global_burst"`
	IPRate      float64 `mapstructure:"ip_rate"`
	IPBurst     int     `mapstructure:"ip_burst"`
}

type Config struct {
	Server          ServerConfig              `mapstructure:"server" validate:"required"`
	Databases       map[string]DatabaseConfig `mapstructure:"databases" validate:"required,min=1,dive"`
	Catalog         CatalogConfig             `mapstructure:"catalog"`
	Engine          EngineConfig              `mapstructure:"engine"`
	Analyzer        AnalyzerConfig            `mapstructure:"analyzer"`
	RateLimit       RateLimitConfig           `mapstructure:"rate_limit"`
	SuggestionsFile string                    `mapstructure:"suggestions_file"`
	FeedbackDBPath  string                    `mapstructure:"feedback_db_path"`
}

func main() {
	// 日志系统初始化前使用标准 log
	log.Printf("QueryAegis 查询网关 %s 正在启动...", version)

	configPath := os.Getenv("QUERYAEGIS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "config.yaml")
	}
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("CRITICAL: 读取配置文件 '%s' 失败: %v", configPath, err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("CRITICAL: 解析配置到结构体失败: %v", err)
	}
	if err := validator.New().Struct(config); err != nil {
		log.Fatalf("CRITICAL: 配置校验失败: %v", err)
	}

	aegobserve.InitLogger(config.Server.LogLevel)
	slog.Info("QueryAegis 启动中", "version", version, "config", configPath)

	// --- 连接池：构造一次、显式关闭，传入各组件，不做任何惰性单例 ---
	pools, err := openPools(config.Databases)
	if err != nil {
		slog.Error("初始化数据库连接池失败", "error", err)
		os.Exit(1)
	}
	defer closePools(pools)
	slog.Info("数据层: 连接池初始化完成", "databases", len(pools))

	schemaCatalog := catalog.New(pools, catalog.Config{
		Schema:               config.Catalog.Schema,
		SampleLimit:          config.Catalog.SampleLimit,
		CardinalityThreshold: config.Catalog.CardinalityThreshold,
		RefreshInterval:      config.Catalog.RefreshInterval,
		DiscoverTimeout:      config.Catalog.DiscoverTimeout,
	})
	queryCompiler := compiler.New(schemaCatalog)
	gate := safety.New(schemaCatalog)
	queryEngine := engine.New(pools, engine.Config{
		QueryTimeout:   config.Engine.QueryTimeout,
		MaxRows:        config.Engine.MaxRows,
		AcquireTimeout: config.Engine.AcquireTimeout,
	})
	slog.Info("服务层: Catalog / Compiler / SafetyGate / Engine 初始化完成")

	feedbackPath := config.FeedbackDBPath
	if feedbackPath == "" {
		_ = os.MkdirAll("instance", 0755)
		feedbackPath = filepath.Join("instance", "feedback.db")
	}
	feedbackStore, err := feedback.Open(feedbackPath)
	if err != nil {
		slog.Error("初始化反馈数据库失败", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := feedbackStore.Close(); err != nil {
			slog.Error("关闭反馈数据库时发生错误", "error", err)
		}
	}()

	var analyzer *llm.Client
	if config.Analyzer.BaseURL != "" {
		apiKey := ""
		if config.Analyzer.APIKeyEnv != "" {
			apiKey = os.Getenv(config.Analyzer.APIKeyEnv)
		}
		analyzer, err = llm.NewClient(llm.Config{
			BaseURL:     config.Analyzer.BaseURL,
			Model:       config.Analyzer.Model,
			APIKey:      apiKey,
			Temperature: config.Analyzer.Temperature,
			Timeout:     config.Analyzer.Timeout,
		})
		if err != nil {
			slog.Error("初始化意图分析客户端失败", "error", err)
			os.Exit(1)
		}
		slog.Info("服务层: 意图分析客户端就绪", "model", config.Analyzer.Model)
	} else {
		slog.Warn("未配置意图分析端点，自然语言分析接口将返回 503")
	}

	pipeline := newPipeline(schemaCatalog, analyzer, gate, queryEngine)

	suggestSvc := suggest.New(config.SuggestionsFile)
	if err := suggestSvc.StartWatcher(); err != nil {
		slog.Warn("提示词文件监视启动失败，热加载不可用", "error", err)
	}

	limiter := aegmiddleware.NewRateLimiter(
		orDefault(config.RateLimit.GlobalRate, 50),
		orDefaultInt(config.RateLimit.GlobalBurst, 100),
		orDefault(config.RateLimit.IPRate, 5),
		orDefaultInt(config.RateLimit.IPBurst, 15),
	)

	// 指标必须在对外提供服务之前注册完毕，启动窗口内的抓取不能落空
	aegobserve.Register()
	slog.Info("监控: metrics 已注册")

	httpRouter := router.New(router.Dependencies{
		Catalog:  schemaCatalog,
		Compiler: queryCompiler,
		Gate:     gate,
		Engine:   queryEngine,
		Pipeline: pipeline,
		Feedback: feedbackStore,
		Suggest:  suggestSvc,
		Limiter:  limiter,
	})
	slog.Info("传输层: HTTP 路由器创建完成")

	addr := fmt.Sprintf(":%d", config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: httpRouter,
	}

	go func() {
		slog.Info("QueryAegis 启动成功，开始监听HTTP请求", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP服务启动失败", "error", err)
			os.Exit(1)
		}
	}()

	if config.Server.PprofAddr != "" {
		aegobserve.EnablePprof(config.Server.PprofAddr)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("收到停机信号，准备优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP服务优雅关闭失败", "error", err)
		os.Exit(1)
	}

	slog.Info("HTTP服务已成功关闭，程序即将退出")
}

// newPipeline 把可能为空的分析客户端装进 Intent Pipeline。
func newPipeline(cat *catalog.Catalog, analyzer *llm.Client, gate *safety.Gate, eng *engine.Engine) *intent.Pipeline {
	if analyzer == nil {
		return intent.New(cat, nil, gate, eng)
	}
	return intent.New(cat, analyzer, gate, eng)
}

// openPools 为每个逻辑数据库建立连接池并做连通性检查。
func openPools(configs map[string]DatabaseConfig) (map[string]*sql.DB, error) {
	pools := make(map[string]*sql.DB, len(configs))
	for name, dc := range configs {
		db, err := sql.Open("postgres", dc.DSN)
		if err != nil {
			closePools(pools)
			return nil, fmt.Errorf("打开数据库 '%s' 失败: %w", name, err)
		}
		if dc.MaxOpenConns > 0 {
			db.SetMaxOpenConns(dc.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(10)
		}
		if dc.MaxIdleConns > 0 {
			db.SetMaxIdleConns(dc.MaxIdleConns)
		}
		if dc.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(dc.ConnMaxIdleTime)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			closePools(pools)
			return nil, fmt.Errorf("连接数据库 '%s' (Ping) 失败: %w", name, err)
		}
		pools[name] = db
	}
	return pools, nil
}

func closePools(pools map[string]*sql.DB) {
	for name, db := range pools {
		if err := db.Close(); err != nil {
			slog.Error("关闭数据库连接池时发生错误", "database", name, "error", err)
		}
	}
}

func orDefault(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func orDefaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
