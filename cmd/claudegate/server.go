package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/BaSui01/claudegate/api/handlers"
	"github.com/BaSui01/claudegate/config"
	"github.com/BaSui01/claudegate/internal/cache"
	"github.com/BaSui01/claudegate/internal/metrics"
	"github.com/BaSui01/claudegate/internal/server"
	"github.com/BaSui01/claudegate/internal/telemetry"
	"github.com/BaSui01/claudegate/llm"
	"github.com/BaSui01/claudegate/llm/catalog"
	"github.com/BaSui01/claudegate/llm/multimodal"
	"github.com/BaSui01/claudegate/llm/observability"
	"github.com/BaSui01/claudegate/llm/providers"
	"github.com/BaSui01/claudegate/llm/safeurl"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// metricsNamespace prefixes every Prometheus series.
const metricsNamespace = "claudegate"

var (
	collectorOnce sync.Once
	collector     *metrics.Collector
)

// sharedCollector registers the Prometheus collector once per process.
func sharedCollector(logger *zap.Logger) *metrics.Collector {
	collectorOnce.Do(func() { collector = metrics.NewCollector(metricsNamespace, logger) })
	return collector
}

// probePaths bypass the rate limiter.
var probePaths = []string{"/health", "/healthz", "/ready", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装 pipeline、模型目录与 HTTP 服务
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector *metrics.Collector
	cache     *cache.Manager
	pipeline  *llm.Pipeline
	catalog   *catalog.Catalog

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例。tp 可以为 nil（遥测关闭）。
func NewServer(cfg *config.Config, logger *zap.Logger, tp *telemetry.Providers) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger, telemetry: tp}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化依赖并启动所有监听（非阻塞）
func (s *Server) Start() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	if err := s.startHTTPServer(handler); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("redis", s.cache != nil),
	)
	return nil
}

// Handler 构建完整的中间件链与路由。Start 会调用它；测试可以直接使用。
func (s *Server) Handler() (http.Handler, error) {
	s.collector = sharedCollector(s.logger)

	if err := s.initCache(); err != nil {
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}
	if err := s.initPipeline(); err != nil {
		return nil, fmt.Errorf("failed to init pipeline: %w", err)
	}
	s.initCatalog()

	return s.routes(), nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initCache() error {
	if !s.cfg.Redis.Enabled {
		s.logger.Info("redis disabled, model catalog cached in process only")
		return nil
	}
	m, err := cache.NewManager(s.cfg.Redis.Config, s.logger)
	if err != nil {
		return err
	}
	s.cache = m
	return nil
}

func (s *Server) initPipeline() error {
	validator := safeurl.New(
		safeurl.WithLogger(s.logger),
	)

	otelMetrics, err := observability.NewMetrics(
		observability.WithTracerProvider(s.telemetry.TracerProvider()),
		observability.WithMeterProvider(s.telemetry.MeterProvider()),
	)
	if err != nil {
		return fmt.Errorf("create otel instruments: %w", err)
	}

	opts := []llm.Option{
		llm.WithURLValidator(validator),
		llm.WithRecorder(s.collector),
		llm.WithObservability(otelMetrics),
	}
	if s.cfg.Anthropic.ImageURLMode == providers.ImageURLInline {
		client := validator.NewClient(safeurl.DefaultClientOptions())
		opts = append(opts, llm.WithImageFetcher(
			multimodal.NewFetcher(client, validator, multimodal.DefaultVisionConfig(), s.logger)))
	}

	p, err := llm.New(llm.Config{Claude: s.cfg.Anthropic, Retry: s.cfg.Retry}, s.logger, opts...)
	if err != nil {
		return err
	}
	s.pipeline = p
	return nil
}

func (s *Server) initCatalog() {
	opts := []catalog.Option{catalog.WithRecorder(s.collector)}
	if s.cache != nil {
		opts = append(opts, catalog.WithStore(catalog.NewRedisStore(s.cache)))
	}
	s.catalog = catalog.New(s.pipeline, s.cfg.Catalog, s.logger, opts...)
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

func (s *Server) routes() http.Handler {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.PipelineCheck(s.pipeline.Ready))
	if s.cache != nil {
		health.RegisterCheck(handlers.RedisCheck(s.cache.Ping))
	}
	chat := handlers.NewChatHandler(s.pipeline, s.cfg.Server.MaxBodyBytes, s.logger)
	ws := handlers.NewWebSocketHandler(s.pipeline, wsOriginPatterns(s.cfg.Server.CORSAllowedOrigins), s.cfg.Server.MaxBodyBytes, s.logger)
	models := handlers.NewModelsHandler(s.catalog, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealth)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/v1/chat/completions", chat.HandleCompletion)
	mux.HandleFunc("/api/v1/chat/ws", ws.HandleChat)
	mux.HandleFunc("/api/v1/models", models.HandleList)

	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("/metrics", promhttp.Handler())
	}

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(s.telemetry.TracerProvider()),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, probePaths, s.logger),
	)
}

// wsOriginPatterns strips schemes from CORS origins; the websocket origin
// check matches hosts.
func wsOriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, strings.TrimRight(o, "/"))
	}
	return out
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer(handler http.Handler) error {
	sc := s.cfg.Server
	s.httpManager = server.NewManager(handler, server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
	}, s.logger)
	return s.httpManager.Start()
}

// startMetricsServer 启动 Metrics 服务器；端口为 0 时 /metrics 挂在主服务上
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束或任一服务器出错
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("http server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("starting graceful shutdown")

	var errs []error
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown finished with errors", zap.Error(err))
	} else {
		s.logger.Info("graceful shutdown completed")
	}
	return err
}
