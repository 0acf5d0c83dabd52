package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/sandiphembram2021/kronos-operating-system/internal/api/http"
	"github.com/sandiphembram2021/kronos-operating-system/internal/api/middleware"
	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/config"
	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/monitoring"
	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/tracing"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// Server serves the introspection API of one kernel.
type Server struct {
	router  *gin.Engine
	handler http.Handler
	addr    string
	logger  *zap.Logger
}

// New builds the router. metrics and tracer may be nil, which drops the
// endpoints and middleware that need them.
func New(cfg *config.Config, k *kernel.Kernel, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	router := gin.New()
	router.Use(gin.Recovery())
	if tracer != nil {
		router.Use(tracing.HTTPMiddleware(tracer))
	}
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	handlers := apihttp.NewHandlers(k, tracer, logger)
	wsHandler := ws.NewHandler(k, metrics, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/stats", handlers.Stats)

	router.GET("/processes", handlers.ListProcesses)
	router.GET("/processes/:pid", handlers.GetProcess)
	router.GET("/processes/:pid/mappings", handlers.GetMappings)
	router.POST("/processes/:pid/signal", handlers.SendSignal)

	router.GET("/memory", handlers.Memory)
	router.GET("/ipc", handlers.IPC)
	router.GET("/trace", handlers.Trace)

	router.GET("/stream", wsHandler.HandleConnection)

	if metrics != nil {
		aggregator := apihttp.NewMetricsAggregator(metrics, k)
		router.GET("/metrics", aggregator.Prometheus)
		router.GET("/metrics/json", aggregator.GetAggregatedMetrics)
	}

	// The WebSocket upgrade needs the raw connection, so the stream route
	// skips the gzip wrapper.
	mux := http.NewServeMux()
	mux.Handle("/stream", router)
	mux.Handle("/", gzhttp.GzipHandler(router))

	return &Server{
		router:  router,
		handler: mux,
		addr:    cfg.Address(),
		logger:  logger,
	}
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Server shutdown incomplete", zap.Error(err))
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}
