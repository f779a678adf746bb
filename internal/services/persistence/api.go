package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
)

// Reading is the dashboard view of a stored reading.
type Reading struct {
	FieldID     string  `json:"field_id"`
	SensorID    string  `json:"sensor_id"`
	Moisture    float64 `json:"moisture"`
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
	Aggregated  bool    `json:"aggregated"`
	Timestamp   string  `json:"timestamp"`
}

// NewRouter serves
//
//	GET /data/latest?source=auto|influx|cache&minutes=1440
//
// auto tries Influx first and falls back to the in-memory cache.
func NewRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", svc.metrics.Handler())

	r.Get("/data/latest", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		source := strings.ToLower(q.Get("source"))
		if source == "" {
			source = "auto"
		}
		minutes := 60 * 24
		if s := q.Get("minutes"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				minutes = n
			}
		}

		var (
			list []model.SensorData
			used string
		)
		if source == "influx" || source == "auto" {
			ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
			res, err := svc.QueryLatestFromInflux(ctx, minutes)
			cancel()
			if err == nil && len(res) > 0 {
				list, used = res, "influx"
			} else if err != nil {
				svc.log.Debugw("influx latest failed, serving cache", "error", err)
			}
		}
		if used == "" {
			list, used = svc.LatestCache(), "cache"
		}

		out := make([]Reading, 0, len(list))
		for _, v := range list {
			out = append(out, Reading{
				FieldID: v.FieldID, SensorID: v.SensorID,
				Moisture: v.Moisture, Humidity: v.Humidity, Temperature: v.Temperature,
				Aggregated: v.Aggregated, Timestamp: v.Timestamp.UTC().Format(time.RFC3339),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", used)
		_ = json.NewEncoder(w).Encode(out)
	})
	return r
}
