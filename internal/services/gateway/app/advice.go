package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/advisor"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/forecast"
)

// Values used for omitted request fields.
const (
	DefaultSoilMoisture = 45.0
	DefaultHumidity     = 60.0
	DefaultTemperature  = 25.0
	DefaultDays         = 30
	DefaultCrop         = crop.Lettuce
)

// Numeric inputs are never rejected for their range; the advisor clamps them.
// Validation only bounds the shape of a request.
type RecommendationRequest struct {
	SoilMoisture      *float64  `json:"soil_moisture"`
	Humidity          *float64  `json:"humidity"`
	Temperature       *float64  `json:"temperature"`
	RainForecast      *float64  `json:"rain_forecast"`
	Crop              string    `json:"crop" validate:"max=32"`
	DaysSincePlanting *int      `json:"days_since_planting"`
	History           []float64 `json:"history" validate:"max=3"`
	City              string    `json:"city" validate:"max=128"`
	Lat               *float64  `json:"lat" validate:"omitempty,latitude"`
	Lon               *float64  `json:"lon" validate:"omitempty,longitude"`
}

type RecommendationInputs struct {
	advisor.SensorInputs
	Crop              crop.Type `json:"crop"`
	DaysSincePlanting int       `json:"days_since_planting"`
	History           []float64 `json:"history"`
	RecentIrrigation  float64   `json:"recent_irrigation"`
}

type RecommendationResponse struct {
	Inputs           RecommendationInputs     `json:"inputs"`
	Health           advisor.HealthAssessment `json:"health"`
	Decision         advisor.Decision         `json:"decision"`
	Conditions       *forecast.Conditions     `json:"conditions,omitempty"`
	ForecastFallback bool                     `json:"forecast_fallback"`
	DefaultsUsed     []string                 `json:"defaults_used"`
}

type PlantHealthRequest struct {
	SoilMoisture      *float64  `json:"soil_moisture"`
	RecentIrrigation  *float64  `json:"recent_irrigation"`
	History           []float64 `json:"history" validate:"max=3,excluded_with=RecentIrrigation"`
	Crop              string    `json:"crop" validate:"max=32"`
	DaysSincePlanting *int      `json:"days_since_planting"`
}

type RecentScoreRequest struct {
	History []float64 `json:"history" validate:"max=3"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (g *Gateway) HandleRecommendation(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	var used []string
	in := advisor.SensorInputs{
		SoilMoisture: orDefault(req.SoilMoisture, DefaultSoilMoisture, "soil_moisture", &used),
		Humidity:     orDefault(req.Humidity, DefaultHumidity, "humidity", &used),
		Temperature:  orDefault(req.Temperature, DefaultTemperature, "temperature", &used),
	}
	c := parseCrop(req.Crop, &used)
	days := orDefault(req.DaysSincePlanting, DefaultDays, "days_since_planting", &used)
	history := req.History
	if len(history) == 0 {
		history = []float64{0, 0, 0}
		used = append(used, "history")
	}

	resp := RecommendationResponse{}
	if req.RainForecast != nil {
		in.RainForecast = *req.RainForecast
	} else {
		fc := g.cfg.Forecast.RainChance(r.Context(), g.location(req))
		in.RainForecast = fc.RainChance
		resp.Conditions = fc.Conditions
		resp.ForecastFallback = fc.Fallback
		if fc.Fallback {
			used = append(used, "rain_forecast")
			g.metrics.ForecastFallbacks.Inc()
		}
	}

	health, decision := advisor.Evaluate(in, history, c, days)
	resp.Inputs = RecommendationInputs{
		SensorInputs:      in,
		Crop:              c,
		DaysSincePlanting: days,
		History:           history,
		RecentIrrigation:  advisor.RecentIrrigationScore(history),
	}
	resp.Health = health
	resp.Decision = decision
	resp.DefaultsUsed = used
	if resp.DefaultsUsed == nil {
		resp.DefaultsUsed = []string{}
	}

	g.metrics.Decisions.WithLabelValues(string(decision.Label)).Inc()
	g.metrics.DecisionLevel.Observe(decision.Level)
	if decision.Safety.Overridden() {
		g.metrics.Overrides.WithLabelValues(string(decision.Safety)).Inc()
	}
	g.log.Debugw("recommendation",
		"crop", c.String(), "days", days, "soil", in.SoilMoisture, "rain", in.RainForecast,
		"level", decision.Level, "label", decision.Label, "safety", decision.Safety)
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) HandlePlantHealth(w http.ResponseWriter, r *http.Request) {
	var req PlantHealthRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	var used []string
	soil := orDefault(req.SoilMoisture, DefaultSoilMoisture, "soil_moisture", &used)
	var recent float64
	if req.RecentIrrigation != nil {
		recent = *req.RecentIrrigation
	} else {
		recent = advisor.RecentIrrigationScore(req.History)
	}
	c := parseCrop(req.Crop, &used)
	days := orDefault(req.DaysSincePlanting, DefaultDays, "days_since_planting", &used)
	writeJSON(w, http.StatusOK, advisor.AssessPlantHealth(soil, recent, c, days))
}

func (g *Gateway) HandleRecentScore(w http.ResponseWriter, r *http.Request) {
	var req RecentScoreRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"score": advisor.RecentIrrigationScore(req.History)})
}

// HandleForecast never fails on a weather outage; the answer carries
// fallback=true instead.
func (g *Gateway) HandleForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := forecast.Location{City: strings.TrimSpace(q.Get("city"))}
	if loc.City == "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		switch {
		case errLat == nil && errLon == nil:
			loc.Lat, loc.Lon = lat, lon
		case q.Get("lat") != "" || q.Get("lon") != "":
			writeError(w, http.StatusBadRequest, "lat and lon must both be numbers")
			return
		default:
			loc.City = g.cfg.DefaultCity
		}
	}
	fc := g.cfg.Forecast.RainChance(r.Context(), loc)
	if fc.Fallback {
		g.metrics.ForecastFallbacks.Inc()
	}
	writeJSON(w, http.StatusOK, struct {
		Location forecast.Location `json:"location"`
		forecast.Forecast
	}{loc, fc})
}

type cropInfo struct {
	Name      string      `json:"name"`
	Tolerance float64     `json:"tolerance"`
	Stages    []stageInfo `json:"stages"`
}

type stageInfo struct {
	Stage crop.Stage `json:"stage"`
	crop.Bounds
}

func (g *Gateway) HandleCrops(w http.ResponseWriter, _ *http.Request) {
	out := make([]cropInfo, 0, len(crop.All()))
	for _, c := range crop.All() {
		info := cropInfo{Name: c.String(), Tolerance: crop.Tolerance(c)}
		for _, s := range crop.Stages(c) {
			b, _ := crop.StageBounds(c, s)
			info.Stages = append(info.Stages, stageInfo{Stage: s, Bounds: b})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) location(req RecommendationRequest) forecast.Location {
	switch {
	case strings.TrimSpace(req.City) != "":
		return forecast.Location{City: strings.TrimSpace(req.City)}
	case req.Lat != nil && req.Lon != nil:
		return forecast.Location{Lat: *req.Lat, Lon: *req.Lon}
	}
	return forecast.Location{City: g.cfg.DefaultCity}
}

func parseCrop(name string, used *[]string) crop.Type {
	if strings.TrimSpace(name) == "" {
		*used = append(*used, "crop")
		return DefaultCrop
	}
	// unknown names stay Unknown; the advisor has neutral fallbacks for them
	return crop.Parse(name)
}

func orDefault[T any](v *T, def T, name string, used *[]string) T {
	if v == nil {
		*used = append(*used, name)
		return def
	}
	return *v
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
			}
			writeError(w, http.StatusBadRequest, strings.Join(msgs, "; "))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
