// Package api exposes the distillation manager over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/monitoring"
	"github.com/sells-group/distill-cli/internal/pipeline"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
	maxBodyBytes      = 1 << 20
)

// Server serves the dataset API.
type Server struct {
	mgr       *pipeline.Manager
	collector *monitoring.Collector
	cfg       config.ServerConfig
	lookback  int
	batch     config.BatchConfig
	started   time.Time
}

// NewServer wires a Server around mgr. Analytics default to the last
// lookbackHours of runs.
func NewServer(mgr *pipeline.Manager, cfg config.ServerConfig, lookbackHours int) *Server {
	return &Server{
		mgr:       mgr,
		collector: monitoring.NewCollector(mgr.Store()),
		cfg:       cfg,
		lookback:  lookbackHours,
		started:   time.Now(),
	}
}

// WithBatch sets the limits applied to batch generation requests.
func (s *Server) WithBatch(cfg config.BatchConfig) *Server {
	s.batch = cfg
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(throttle(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/providers", s.handleProviders)
		r.Get("/data-types", s.handleDataTypes)
		r.Get("/system/status", s.handleStatus)
		r.Get("/analytics", s.handleAnalytics)
		r.Post("/optimize", s.handleOptimize)

		r.Route("/datasets", func(r chi.Router) {
			r.Post("/generate", s.handleGenerate)
			r.Post("/batch", s.handleBatch)
			r.Get("/", s.handleListDatasets)
			r.Get("/{id}", s.handleGetDataset)
			r.Get("/{id}/export", s.handleExport)
		})
	})
	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "api: listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("api: shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "api: shutdown")
	}
	return <-errCh
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
