// Package app is the HTTP front of the platform: it runs the advisor for the
// presentation layer and assembles the dashboard from the other services.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/forecast"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
)

type Config struct {
	PersistenceBaseURL string
	EventsBaseURL      string
	HTTPTimeout        time.Duration

	BreakerFailures uint32
	BreakerOpenFor  time.Duration

	// DefaultCity is looked up when a recommendation names no city and
	// carries no rain forecast.
	DefaultCity string
	Forecast    forecast.Provider
	Devices     FieldStatus

	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

// FieldStatus reports whether the valve device of a field is serving.
// The controller's DeviceRouter satisfies it.
type FieldStatus interface {
	Ready(ctx context.Context, field string) (bool, error)
}

type Gateway struct {
	cfg         Config
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
	persistence *Upstream
	irrigations *Upstream
	decisions   *Upstream
}

func NewGateway(cfg Config) *Gateway {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 3 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Forecast == nil {
		cfg.Forecast = forecast.Static(forecast.Fallback())
	}
	log := logging.OrNop(cfg.Logger)

	// one breaker per upstream
	mk := func(name, base, path string) *Upstream {
		return NewUpstream(name, base, path, cfg.HTTPTimeout, cfg.BreakerFailures, cfg.BreakerOpenFor).WithLogger(log)
	}
	return &Gateway{
		cfg:         cfg,
		log:         log,
		metrics:     cfg.Metrics,
		persistence: mk("persistence", cfg.PersistenceBaseURL, "/data/latest"),
		irrigations: mk("events-irrigation", cfg.EventsBaseURL, "/events/irrigation/latest"),
		decisions:   mk("events-decisions", cfg.EventsBaseURL, "/events/decisions/latest"),
	}
}

// Router serves
//
//	POST /api/recommendation
//	POST /api/plant-health
//	POST /api/recent-irrigation-score
//	GET  /api/forecast?city=|lat=&lon=
//	GET  /api/crops
//	GET  /dashboard/data
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument(g.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", g.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/recommendation", g.HandleRecommendation)
		r.Post("/plant-health", g.HandlePlantHealth)
		r.Post("/recent-irrigation-score", g.HandleRecentScore)
		r.Get("/forecast", g.HandleForecast)
		r.Get("/crops", g.HandleCrops)
	})
	r.Get("/dashboard/data", g.HandleDashboard)
	return r
}

func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(route, status, time.Since(start))
		})
	}
}
