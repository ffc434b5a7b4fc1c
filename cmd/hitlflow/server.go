package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/memory"
	"github.com/BaSui01/hitlflow/agent/persistence"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/api/handlers"
	"github.com/BaSui01/hitlflow/config"
	"github.com/BaSui01/hitlflow/internal/metrics"
	"github.com/BaSui01/hitlflow/internal/server"
	"github.com/BaSui01/hitlflow/internal/telemetry"
	"github.com/BaSui01/hitlflow/llm"
	"github.com/BaSui01/hitlflow/llm/middleware"
	"github.com/BaSui01/hitlflow/llm/providers"
	"github.com/BaSui01/hitlflow/llm/retry"
	"github.com/BaSui01/hitlflow/llm/tokenizer"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/workflow"
)

const metricsNamespace = "hitlflow"

// Server 组装工作流引擎与 HTTP / Metrics 两个端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	telemetry  *telemetry.Providers
	collector  *metrics.Collector
	store      persistence.StateStore
	provider   llm.Provider
	memory     *memory.Updater
	interrupts *hitl.InterruptManager
	engine     *workflow.Engine
	limiter    *RateLimiter

	interruptHandler *handlers.InterruptHandler
	httpManager      *server.Manager
	metricsManager   *server.Manager
	watcher          *config.Watcher

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer 按配置初始化全部组件，但不监听端口
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, level zap.AtomicLevel) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, level: level}
	s.bgCtx, s.bgCancel = context.WithCancel(context.WithoutCancel(ctx))

	var err error
	s.telemetry, err = telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		// 遥测不可用不影响服务
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		s.telemetry = nil
	}
	s.collector = metrics.NewCollector(metricsNamespace, logger)

	if err := s.initWorkflow(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return nil, err
	}
	s.initHTTP()
	return s, nil
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func (s *Server) initWorkflow(ctx context.Context) error {
	cfg := s.cfg

	store, err := persistence.NewStateStore(storeConfig(cfg), s.logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	s.store = store

	s.provider, err = buildProvider(cfg.LLM, s.collector, s.telemetry, s.logger)
	if err != nil {
		return err
	}

	registry := tools.NewDefaultRegistry(s.logger)
	portCfg := ports.LLMConfig{
		Model:       cfg.LLM.Model,
		Background:  cfg.Workflow.Background,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	var (
		classifier ports.Classifier = ports.NewLLMClassifier(s.provider, portCfg, s.logger)
		proposer   ports.Proposer   = ports.NewLLMProposer(s.provider, registry.Schemas(), portCfg, s.logger)
		reviser    ports.Reviser    = ports.NewLLMReviser(s.provider, portCfg, s.logger)
	)
	if cfg.LLM.MaxRetries > 0 {
		policy := retry.DefaultRetryPolicy()
		policy.MaxRetries = cfg.LLM.MaxRetries
		classifier = ports.WithClassifierRetry(classifier, policy, s.logger)
		proposer = ports.WithProposerRetry(proposer, policy, s.logger)
		reviser = ports.WithReviserRetry(reviser, policy, s.logger)
	}

	s.memory, err = memory.NewUpdater(store, reviser, memory.Config{
		Mode:           memory.Mode(cfg.Workflow.MemoryMode),
		Workers:        cfg.Workflow.MemoryWorkers,
		QueueSize:      cfg.Workflow.MemoryQueueSize,
		Timeout:        cfg.Workflow.MemoryTimeout,
		StrictPreserve: cfg.Workflow.StrictPreserve,
	}, s.logger, memory.WithMetrics(s.collector))
	if err != nil {
		return fmt.Errorf("create preference updater: %w", err)
	}

	s.interrupts = hitl.NewInterruptManager(nil, s.logger)

	s.engine, err = workflow.NewEngine(workflow.Deps{
		Store:      store,
		Classifier: classifier,
		Proposer:   proposer,
		Tools:      registry,
		Memory:     s.memory,
		Interrupts: s.interrupts,
		Metrics:    s.collector,
		Tokenizer:  tokenizer.ForModel(cfg.LLM.Model, s.logger),
		Logger:     s.logger,
	}, workflow.Options{
		MaxSteps: cfg.Workflow.MaxSteps,
		Tracer:   s.telemetry.Tracer("github.com/BaSui01/hitlflow/workflow"),
	})
	if err != nil {
		return fmt.Errorf("create workflow engine: %w", err)
	}

	// 重启后按检查点重建本进程的中断索引
	pending, err := s.engine.PendingInterrupts(ctx, "")
	if err != nil {
		return fmt.Errorf("load pending interrupts: %w", err)
	}
	if err := s.interrupts.Restore(ctx, pending); err != nil {
		return fmt.Errorf("restore interrupt index: %w", err)
	}

	s.logger.Info("workflow engine initialized",
		zap.String("store", cfg.Store.Type),
		zap.String("memory_mode", cfg.Workflow.MemoryMode),
		zap.Int("max_steps", cfg.Workflow.MaxSteps),
		zap.Int("tools", len(registry.Schemas())),
	)
	return nil
}

// storeConfig 把服务配置映射为持久化层配置
func storeConfig(cfg *config.Config) persistence.StoreConfig {
	sc := persistence.DefaultStoreConfig()
	sc.Type = persistence.StoreType(cfg.Store.Type)
	sc.BaseDir = cfg.Store.BaseDir
	sc.KeyPrefix = cfg.Store.KeyPrefix
	sc.Redis = persistence.RedisStoreConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		TLS:      cfg.Redis.TLS,
	}
	sc.SQL = persistence.SQLStoreConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN(),
		AutoMigrate:     cfg.Store.AutoMigrate,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	sc.Mongo = persistence.MongoStoreConfig{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
	}
	sc.Cleanup = persistence.CleanupConfig{
		Enabled:         cfg.Store.ThreadTTL > 0,
		Interval:        cfg.Store.CleanupInterval,
		ThreadRetention: cfg.Store.ThreadTTL,
	}
	return sc
}

// buildProvider 创建上游 Provider 并套上中间件链.
// 顺序（外到内）：恢复 → 追踪 → 日志 → 指标 → 熔断 → 限流 → 超时 → 请求改写.
func buildProvider(cfg config.LLMConfig, collector *metrics.Collector, tp *telemetry.Providers, logger *zap.Logger) (llm.Provider, error) {
	base, err := providers.New(providers.Config{
		Name:    cfg.Provider,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	if cfg.APIKey == "" {
		logger.Warn("llm.api_key is empty, upstream calls will be rejected", zap.String("provider", base.Name()))
	}

	chain := middleware.NewChain(
		middleware.RecoveryMiddleware(logger),
		middleware.TracingMiddleware(tp.Tracer("github.com/BaSui01/hitlflow/llm")),
		middleware.LoggingMiddleware(logger),
		middleware.MetricsMiddleware(collector, base.Name()),
	)
	if cfg.BreakerThreshold > 0 {
		bc := middleware.DefaultBreakerConfig()
		bc.Threshold = cfg.BreakerThreshold
		bc.OnStateChange = func(from, to middleware.BreakerState) {
			logger.Warn("llm circuit breaker state changed",
				zap.String("provider", base.Name()),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
		chain.Use(middleware.CircuitBreakerMiddleware(middleware.NewBreaker(bc, logger)))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		chain.Use(middleware.RateLimitMiddleware(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)))
	}
	if cfg.Timeout > 0 {
		chain.Use(middleware.TimeoutMiddleware(cfg.Timeout))
	}
	chain.Use(middleware.RewriteMiddleware(middleware.NewRewriterChain(middleware.NewEmptyToolsCleaner())))

	logger.Info("llm provider initialized",
		zap.String("provider", base.Name()),
		zap.String("model", cfg.Model),
		zap.Int("middlewares", chain.Len()),
	)
	return chain.Wrap(base), nil
}

func (s *Server) initHTTP() {
	cfg := s.cfg

	health := handlers.NewHealthHandler(Version, s.logger)
	health.RegisterCheck(handlers.NewFuncCheck("store", s.store.Ping))
	health.RegisterCheck(handlers.NewFuncCheck("llm", func(ctx context.Context) error {
		status, err := s.provider.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if !status.Healthy {
			return errors.New("provider reported unhealthy")
		}
		return nil
	}))

	s.interruptHandler = handlers.NewInterruptHandler(s.engine, s.interrupts, cfg.Server.CORSAllowedOrigins, s.logger)

	mux := http.NewServeMux()
	handlers.Register(mux, handlers.Routes{
		Health:      health,
		Threads:     handlers.NewThreadHandler(s.engine, s.store, s.logger),
		Preferences: handlers.NewPreferenceHandler(s.memory, s.store, s.logger),
		Interrupts:  s.interruptHandler,
		BuildTime:   BuildTime,
		GitCommit:   GitCommit,
	})

	s.limiter = NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, s.logger)

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(s.telemetry.Tracer("github.com/BaSui01/hitlflow/http")),
		SecurityHeaders(),
		RequestLogger(s.logger),
		Metrics(s.collector),
		CORS(cfg.Server.CORSAllowedOrigins),
		Auth(cfg.Server.APIKeys, cfg.JWT, handlers.PublicPaths, s.logger),
	}
	if cfg.RateLimit.Enabled {
		chain = append(chain, s.limiter.Middleware(handlers.PublicPaths))
	}
	if !cfg.AuthEnabled() {
		s.logger.Warn("no api keys or jwt secret configured, API is unauthenticated")
	}

	s.httpManager = server.NewManager(Chain(mux, chain...), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
	}, s.logger)
	// websocket 连接被劫持后不受 http.Server.Shutdown 管理
	s.httpManager.OnShutdown(s.interruptHandler.Close)

	if cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		s.metricsManager = server.NewManager(metricsMux, server.Config{
			Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.ReadTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, s.logger)
	}
}

// =============================================================================
// 🚀 启动与热重载
// =============================================================================

// Start 监听端口并启动后台任务
func (s *Server) Start() error {
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	s.goBackground(s.limiter.Run)
	if ttl := s.cfg.Store.ThreadTTL; ttl > 0 {
		s.goBackground(func(ctx context.Context) { s.cleanupLoop(ctx, s.cfg.Store.CleanupInterval, ttl) })
	}
	if st, ok := s.store.(interface{ Stats() sql.DBStats }); ok {
		s.goBackground(func(ctx context.Context) { s.dbStatsLoop(ctx, st.Stats) })
	}

	s.logger.Info("hitlflow started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
	)
	return nil
}

// WatchConfig 监听配置文件，HotReloadable 字段在运行中生效
func (s *Server) WatchConfig(ctx context.Context, loader *config.Loader) error {
	w, err := config.NewWatcher(loader, s.cfg, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnReload(s.applyReload)
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// applyReload 应用可热更新字段，其余变更记录为需要重启
func (s *Server) applyReload(_, next *config.Config, changed []string) {
	for _, path := range changed {
		switch path {
		case "log.level":
			lvl, err := zapcore.ParseLevel(next.Log.Level)
			if err != nil {
				s.logger.Warn("ignoring invalid log level", zap.String("level", next.Log.Level))
				continue
			}
			s.level.SetLevel(lvl)
			s.logger.Info("log level updated", zap.Stringer("level", lvl))
		case "rate_limit.rps", "rate_limit.burst":
			if err := s.limiter.SetLimit(next.RateLimit.RPS, next.RateLimit.Burst); err != nil {
				s.logger.Warn("ignoring rate limit change", zap.Error(err))
			}
		case "workflow.max_steps":
			s.engine.SetMaxSteps(next.Workflow.MaxSteps)
			s.logger.Info("max steps updated", zap.Int("max_steps", next.Workflow.MaxSteps))
		default:
			s.logger.Warn("config change requires restart", zap.String("field", path))
		}
	}
}

func (s *Server) goBackground(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.bgCtx)
	}()
}

// cleanupLoop 定期删除超过保留期的已完成线程
func (s *Server) cleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Cleanup(ctx, ttl)
			if err != nil {
				s.logger.Warn("thread cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("removed expired threads", zap.Int("count", n), zap.Duration("ttl", ttl))
			}
		}
	}
}

func (s *Server) dbStatsLoop(ctx context.Context, stats func() sql.DBStats) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := stats()
			s.collector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
		}
	}
}

// =============================================================================
// 🛑 关闭
// =============================================================================

// Wait 阻塞到 ctx 结束或任一端口异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("http server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 按依赖逆序关闭：监听器 → HTTP → 引擎 → 偏好队列 → 存储 → 遥测.
// 重复调用返回首次结果.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("starting graceful shutdown")
	var errs []error

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	} else if s.interruptHandler != nil {
		s.interruptHandler.Close()
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	s.bgCancel()
	s.wg.Wait()

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	}
	// 异步模式下等待排队的偏好修订写完
	if s.memory != nil {
		if err := s.memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("preference updater: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("state store: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("graceful shutdown completed")
	return nil
}
