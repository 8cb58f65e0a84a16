package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"voip-monitor/internal/models"
	"voip-monitor/internal/monitor"
	"voip-monitor/internal/quality"
)

// Queries is the read side served over HTTP.
type Queries interface {
	ListTargets(ctx context.Context) ([]models.TargetSummary, error)
	Samples(ctx context.Context, target string, f models.SampleFilter) (models.SamplePage, error)
	Stats(ctx context.Context, target string, rng models.TimeRange) (models.Stats, error)
	Recent(ctx context.Context, target string, minutes int) (models.RecentSamples, error)
	Range(ctx context.Context, target string, rng models.TimeRange) ([]models.Sample, error)
	Info(ctx context.Context, target string) (models.TargetInfo, error)
	Heatmap(ctx context.Context, target string, days int) (models.Heatmap, error)
}

// Registry starts and stops monitoring and exposes live state.
type Registry interface {
	Start(info models.TargetInfo) error
	Stop(address string) error
	Snapshot(address string) (quality.Snapshot, error)
	Subscribe(address string, buffer int) (*monitor.Subscription, error)
	Unsubscribe(sub *monitor.Subscription)
}

// Server handles web requests
type Server struct {
	logger   *zap.Logger
	queries  Queries
	registry Registry
	gatherer prometheus.Gatherer
	port     int
	now      func() time.Time

	httpServer *http.Server
}

// New creates a new web server
func New(port int, queries Queries, registry Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		logger:   logger,
		queries:  queries,
		registry: registry,
		gatherer: gatherer,
		port:     port,
		now:      time.Now,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/targets", s.handleListTargets)
		r.Post("/targets", s.handleAddTarget)
		r.Delete("/targets/{target}", s.handleRemoveTarget)

		r.Get("/ping/{target}", s.handleSamples)
		r.Get("/stats/{target}", s.handleStats)
		r.Get("/recent/{target}", s.handleRecent)
		r.Get("/quality/{target}", s.handleQuality)
		r.Get("/heatmap/{target}", s.handleHeatmap)
		r.Get("/live/{target}", s.handleLive)
		r.Get("/export/{target}", s.handleExport)
		r.Get("/chart/{target}", s.handleChart)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http_listening", zap.Int("port", s.port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
