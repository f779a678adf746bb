package app

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"time"
)

func (g *Gateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	data := DashboardData{
		Sensors:     []Sensor{},
		Irrigations: []Irrigation{},
		Decisions:   []Decision{},
		Sources:     map[string]string{},
	}

	type res struct {
		name string
		err  error
	}
	ch := make(chan res, 3)
	fetch := func(u *Upstream, out any) {
		ch <- res{u.name, u.GetJSON(ctx, out)}
	}
	var (
		sensors     []Sensor
		irrigations []Irrigation
		decisions   []Decision
	)
	go fetch(g.persistence, &sensors)
	go fetch(g.irrigations, &irrigations)
	go fetch(g.decisions, &decisions)
	for i := 0; i < 3; i++ {
		rv := <-ch
		data.Sources[rv.name] = sourceState(rv.err)
	}
	if sensors != nil {
		data.Sensors = sensors
	}
	if irrigations != nil {
		data.Irrigations = irrigations
	}
	if decisions != nil {
		data.Decisions = decisions
	}

	sort.Slice(data.Sensors, func(i, j int) bool {
		if data.Sensors[i].FieldID != data.Sensors[j].FieldID {
			return data.Sensors[i].FieldID < data.Sensors[j].FieldID
		}
		return data.Sensors[i].SensorID < data.Sensors[j].SensorID
	})
	g.applyStatus(ctx, data.Sensors)
	data.Stats = moistureStats(data.Sensors)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)

	g.log.Debugw("dashboard served",
		"took_ms", time.Since(start).Milliseconds(),
		"sensors", len(data.Sensors), "irrigations", len(data.Irrigations), "decisions", len(data.Decisions),
		"sources", data.Sources)
}

func sourceState(err error) string {
	switch {
	case err == nil:
		return SourceLive
	case errors.Is(err, ErrNotConfigured):
		return SourceDisabled
	case errors.Is(err, ErrStale):
		return SourceStale
	}
	return SourceUnavailable
}

// applyStatus marks each sensor with the serving state of its field device,
// asking once per field.
func (g *Gateway) applyStatus(ctx context.Context, sensors []Sensor) {
	if g.cfg.Devices == nil {
		return
	}
	byField := map[string]string{}
	for i := range sensors {
		f := sensors[i].FieldID
		st, ok := byField[f]
		if !ok {
			ready, err := g.cfg.Devices.Ready(ctx, f)
			switch {
			case err != nil:
				st = "unknown"
			case ready:
				st = "online"
			default:
				st = "offline"
			}
			byField[f] = st
		}
		sensors[i].Status = st
	}
}

func moistureStats(sensors []Sensor) Stats {
	n := len(sensors)
	if n == 0 {
		return Stats{}
	}
	sum, minv, maxv := 0.0, math.MaxFloat64, -math.MaxFloat64
	for _, s := range sensors {
		sum += s.Moisture
		minv = math.Min(minv, s.Moisture)
		maxv = math.Max(maxv, s.Moisture)
	}
	return Stats{Count: n, Mean: math.Round(sum/float64(n)*10) / 10, Min: minv, Max: maxv}
}
