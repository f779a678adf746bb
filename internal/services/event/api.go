package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
)

// Decision is a stored decision as served to the gateway.
type Decision struct {
	DecisionID  string  `json:"decision_id,omitempty"`
	FieldID     string  `json:"field_id"`
	SensorID    string  `json:"sensor_id"`
	Crop        string  `json:"crop,omitempty"`
	Stage       string  `json:"stage,omitempty"`
	Level       float64 `json:"level"`
	Label       string  `json:"label"`
	Risk        string  `json:"risk,omitempty"`
	Safety      string  `json:"safety,omitempty"`
	PlantHealth float64 `json:"plant_health"`
	TotalML     float64 `json:"total_ml"`
	Time        string  `json:"time"` // RFC3339
}

// Irrigation is a finished valve run.
type Irrigation struct {
	FieldID      string  `json:"field_id"`
	SensorID     string  `json:"sensor_id,omitempty"`
	Status       string  `json:"status"`
	LevelApplied float64 `json:"level_applied"`
	MLApplied    float64 `json:"ml_applied"`
	Time         string  `json:"time"` // RFC3339
}

// Store reads back recent events, newest first.
type Store interface {
	Decisions(ctx context.Context, minutes, limit int) ([]Decision, error)
	Irrigations(ctx context.Context, minutes, limit int) ([]Irrigation, error)
}

// InfluxStore queries the event bucket with Flux.
type InfluxStore struct {
	api    api.QueryAPI
	bucket string
}

func NewInfluxStore(q api.QueryAPI, bucket string) *InfluxStore {
	return &InfluxStore{api: q, bucket: bucket}
}

var (
	decisionFields   = []string{"decision_id", "crop", "stage", "level", "label", "risk", "safety", "plant_health", "total_ml"}
	irrigationFields = []string{"status", "level_applied", "ml_applied"}
)

func buildFlux(bucket, eventType string, fields []string, minutes, limit int) string {
	conds := make([]string, len(fields))
	for i, f := range fields {
		conds[i] = fmt.Sprintf("r._field == %q", f)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r.event_type == %q)
  |> filter(fn: (r) => %s)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, bucket, minutes, measurement, eventType, strings.Join(conds, " or "), limit)
}

func (s *InfluxStore) Decisions(ctx context.Context, minutes, limit int) ([]Decision, error) {
	out := make([]Decision, 0, limit)
	err := s.each(ctx, buildFlux(s.bucket, TypeDecision, decisionFields, minutes, limit), func(rec *query.FluxRecord) {
		out = append(out, Decision{
			DecisionID:  asString(rec.ValueByKey("decision_id")),
			FieldID:     asString(rec.ValueByKey("field_id")),
			SensorID:    asString(rec.ValueByKey("sensor_id")),
			Crop:        asString(rec.ValueByKey("crop")),
			Stage:       asString(rec.ValueByKey("stage")),
			Level:       asFloat(rec.ValueByKey("level")),
			Label:       asString(rec.ValueByKey("label")),
			Risk:        asString(rec.ValueByKey("risk")),
			Safety:      asString(rec.ValueByKey("safety")),
			PlantHealth: asFloat(rec.ValueByKey("plant_health")),
			TotalML:     asFloat(rec.ValueByKey("total_ml")),
			Time:        rec.Time().UTC().Format(time.RFC3339),
		})
	})
	return out, err
}

func (s *InfluxStore) Irrigations(ctx context.Context, minutes, limit int) ([]Irrigation, error) {
	out := make([]Irrigation, 0, limit)
	err := s.each(ctx, buildFlux(s.bucket, TypeResult, irrigationFields, minutes, limit), func(rec *query.FluxRecord) {
		out = append(out, Irrigation{
			FieldID:      asString(rec.ValueByKey("field_id")),
			SensorID:     asString(rec.ValueByKey("sensor_id")),
			Status:       asString(rec.ValueByKey("status")),
			LevelApplied: asFloat(rec.ValueByKey("level_applied")),
			MLApplied:    asFloat(rec.ValueByKey("ml_applied")),
			Time:         rec.Time().UTC().Format(time.RFC3339),
		})
	})
	return out, err
}

func (s *InfluxStore) each(ctx context.Context, flux string, fn func(*query.FluxRecord)) error {
	res, err := s.api.Query(ctx, flux)
	if err != nil {
		return fmt.Errorf("influx query: %w", err)
	}
	defer func() { _ = res.Close() }()
	for res.Next() {
		fn(res.Record())
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("influx iterate: %w", err)
	}
	return nil
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

type listParams struct {
	Minutes int
	Limit   int
	Timeout time.Duration
}

func parseList(r *http.Request, defMin, defLim int) listParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return listParams{
		Minutes: get("minutes", defMin, 1, 7*24*60),
		Limit:   get("limit", defLim, 1, 500),
		Timeout: time.Duration(get("timeout_ms", 2000, 200, 5000)) * time.Millisecond,
	}
}

// NewRouter serves the read API plus health, readiness and metrics.
//
//	GET /events/irrigation/latest?limit=20[&minutes=1440]
//	GET /events/decisions/latest?limit=20[&minutes=1440]
func NewRouter(store Store, healthz, readyz http.Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument(m))

	r.Method(http.MethodGet, "/healthz", healthz)
	r.Method(http.MethodGet, "/readyz", readyz)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Get("/events/irrigation/latest", func(w http.ResponseWriter, req *http.Request) {
		p := parseList(req, 1440, 20)
		ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
		defer cancel()
		out, err := store.Irrigations(ctx, p.Minutes, p.Limit)
		writeList(w, out, err)
	})
	r.Get("/events/decisions/latest", func(w http.ResponseWriter, req *http.Request) {
		p := parseList(req, 1440, 20)
		ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
		defer cancel()
		out, err := store.Decisions(ctx, p.Minutes, p.Limit)
		writeList(w, out, err)
	})
	return r
}

// writeList always answers 200 with a JSON array; query failures are flagged
// in X-Error so the dashboard keeps rendering.
func writeList[T any](w http.ResponseWriter, out []T, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.Header().Set("X-Error", "influx-query-error")
		_, _ = w.Write([]byte("[]"))
		return
	}
	if out == nil {
		out = []T{}
	}
	_ = json.NewEncoder(w).Encode(out)
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
