// Package crop holds the static crop reference data: growth stage calendars,
// per-plant water bounds and water-stress tolerance.
package crop

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCrop  = errors.New("unknown crop")
	ErrUnknownStage = errors.New("stage not defined for crop")
)

// Type is the closed set of supported crops.
type Type int

const (
	Unknown Type = iota
	Lettuce
	Okra
	Tomato
)

var names = map[Type]string{
	Lettuce: "lettuce",
	Okra:    "okra",
	Tomato:  "tomato",
}

func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "unknown"
}

// Known reports whether t is one of the supported crops.
func (t Type) Known() bool {
	_, ok := names[t]
	return ok
}

// Parse maps a crop name (case-insensitive) to its Type; anything else is Unknown.
func Parse(s string) Type {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, n := range names {
		if n == s {
			return t
		}
	}
	return Unknown
}

// MarshalText encodes the crop name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText never fails: unrecognised names decode to Unknown.
func (t *Type) UnmarshalText(b []byte) error {
	*t = Parse(string(b))
	return nil
}

// All returns the supported crops.
func All() []Type { return []Type{Lettuce, Okra, Tomato} }

// Stage is a phase of the planting lifecycle.
type Stage string

const (
	Seedling   Stage = "seedling"
	Vegetative Stage = "vegetative"
	Flowering  Stage = "flowering"
	Mature     Stage = "mature"
)

// Bounds is the per-plant water volume range of a stage, in mL.
type Bounds struct {
	BaseML float64 `json:"base_ml"`
	MaxML  float64 `json:"max_ml"`
}

// phase closes a stage at LastDay (inclusive); the last phase is open-ended.
type phase struct {
	Stage   Stage
	LastDay int
	Bounds  Bounds
}

const openEnded = -1

type profile struct {
	phases    []phase
	tolerance float64
}

var profiles = map[Type]profile{
	Lettuce: {
		tolerance: 0.8,
		phases: []phase{
			{Seedling, 21, Bounds{50, 100}},
			{Vegetative, 35, Bounds{150, 250}},
			{Mature, openEnded, Bounds{300, 500}},
		},
	},
	Okra: {
		tolerance: 1.0,
		phases: []phase{
			{Seedling, 21, Bounds{200, 500}},
			{Vegetative, 42, Bounds{1000, 2000}},
			// okra keeps flowering and fruiting until it is pulled
			{Flowering, openEnded, Bounds{1500, 2000}},
		},
	},
	Tomato: {
		tolerance: 1.0,
		phases: []phase{
			{Seedling, 21, Bounds{50, 100}},
			{Vegetative, 49, Bounds{300, 500}},
			{Flowering, 63, Bounds{700, 1000}},
			{Mature, openEnded, Bounds{1000, 1500}},
		},
	},
}

// ResolveStage returns the growth stage reached after days since planting.
// Negative days count as day 0.
func ResolveStage(t Type, days int) (Stage, error) {
	p, ok := profiles[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCrop, t)
	}
	if days < 0 {
		days = 0
	}
	for _, ph := range p.phases {
		if ph.LastDay == openEnded || days <= ph.LastDay {
			return ph.Stage, nil
		}
	}
	// unreachable while every calendar ends with an open phase
	return p.phases[len(p.phases)-1].Stage, nil
}

// StageBounds returns the water bounds of a stage.
func StageBounds(t Type, s Stage) (Bounds, error) {
	p, ok := profiles[t]
	if !ok {
		return Bounds{}, fmt.Errorf("%w: %s", ErrUnknownCrop, t)
	}
	for _, ph := range p.phases {
		if ph.Stage == s {
			return ph.Bounds, nil
		}
	}
	return Bounds{}, fmt.Errorf("%w: %s/%s", ErrUnknownStage, t, s)
}

// Stages lists the stages of a crop in lifecycle order.
func Stages(t Type) []Stage {
	p := profiles[t]
	out := make([]Stage, 0, len(p.phases))
	for _, ph := range p.phases {
		out = append(out, ph.Stage)
	}
	return out
}

// Tolerance is the water-stress multiplier applied to the health score:
// below 1 for water-sensitive crops such as lettuce. Okra, tomato and
// unknown crops are neutral.
func Tolerance(t Type) float64 {
	if p, ok := profiles[t]; ok {
		return p.tolerance
	}
	return 1.0
}
