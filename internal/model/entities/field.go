package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/forecast"
)

var ErrUnknownPlanting = errors.New("unknown planting")

// Planting is one crop row monitored by a sensor.
type Planting struct {
	Sensor
	Crop      crop.Type `json:"crop"`
	PlantedAt time.Time `json:"planted_at"`
	City      string    `json:"city,omitempty"`
}

// DaysSincePlanting counts whole days elapsed at now. Future dates give 0.
func (p Planting) DaysSincePlanting(now time.Time) int {
	if p.PlantedAt.IsZero() || now.Before(p.PlantedAt) {
		return 0
	}
	return int(now.Sub(p.PlantedAt).Hours() / 24)
}

// Location prefers the configured city over coordinates.
func (p Planting) Location() forecast.Location {
	return forecast.Location{City: p.City, Lat: p.Latitude, Lon: p.Longitude}
}

// Field groups the plantings of one tract of land.
type Field struct {
	ID        string              `json:"id"`
	Plantings map[string]Planting `json:"plantings"` // sensorID -> planting
}

func (f Field) Get(sensorID string) (Planting, bool) {
	p, ok := f.Plantings[sensorID]
	return p, ok
}

// Registry indexes fields by id.
type Registry map[string]Field

func (r Registry) Lookup(fieldID, sensorID string) (Planting, error) {
	f, ok := r[fieldID]
	if !ok {
		return Planting{}, fmt.Errorf("%w: field %s", ErrUnknownPlanting, fieldID)
	}
	p, ok := f.Get(sensorID)
	if !ok {
		return Planting{}, fmt.Errorf("%w: %s/%s", ErrUnknownPlanting, fieldID, sensorID)
	}
	return p, nil
}

// All lists every planting; order is unspecified.
func (r Registry) All() []Planting {
	var out []Planting
	for _, f := range r {
		for _, p := range f.Plantings {
			out = append(out, p)
		}
	}
	return out
}

// LoadRegistry reads a plantings file shaped as
//
//	{"field1": [{"id": "sensor1", "crop": "tomato", "planted_at": "2025-06-01T00:00:00Z", ...}]}
func LoadRegistry(path string) (Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistry(raw)
}

func ParseRegistry(raw []byte) (Registry, error) {
	var m map[string][]Planting
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	out := make(Registry, len(m))
	for fid, list := range m {
		f := Field{ID: fid, Plantings: make(map[string]Planting, len(list))}
		for _, p := range list {
			p.ID = strings.TrimSpace(p.ID)
			if p.ID == "" {
				return nil, fmt.Errorf("planting without id in field %s", fid)
			}
			if _, dup := f.Plantings[p.ID]; dup {
				return nil, fmt.Errorf("duplicate sensor %s in field %s", p.ID, fid)
			}
			p.FieldID = fid
			if p.State == "" {
				p.State = StateOff
			}
			f.Plantings[p.ID] = p
		}
		out[fid] = f
	}
	return out, nil
}
