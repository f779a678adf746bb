// Package fuzzy holds the fixed membership sets and rule bank used to grade
// irrigation intensity from continuous field readings.
package fuzzy

import "math"

// Triangle is a triangular membership shape with breakpoints A <= B <= C.
// A == B or B == C gives a shoulder (left or right edge of the universe).
type Triangle struct {
	A, B, C float64
}

// Degree returns the membership of x in [0,1]: 0 at or outside [A,C], 1 at
// the peak B, linear on each side. A shoulder is therefore 0 at its own edge.
func (t Triangle) Degree(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x <= t.A || x >= t.C {
		return 0
	}
	if x == t.B {
		return 1
	}
	if x < t.B {
		return (x - t.A) / (t.B - t.A)
	}
	return (t.C - x) / (t.C - t.B)
}

// Dimension identifies one of the engine inputs.
type Dimension string

const (
	Soil        Dimension = "soil"
	Humidity    Dimension = "humidity"
	Temperature Dimension = "temperature"
	Forecast    Dimension = "forecast"
	PlantHealth Dimension = "plant_health"
	Recent      Dimension = "recent_irrigation"
)

// Category is a linguistic label inside a dimension ("dry", "wet", ...).
type Category string

const (
	Dry       Category = "dry"
	Moist     Category = "moist"
	Wet       Category = "wet"
	Saturated Category = "saturated"

	Low    Category = "low"
	Medium Category = "medium"
	High   Category = "high"

	Cloudy Category = "cloudy"
	Rain   Category = "rain"

	Critical  Category = "critical"
	Poor      Category = "poor"
	Healthy   Category = "healthy"
	Excellent Category = "excellent"

	None     Category = "none"
	Light    Category = "light"
	Moderate Category = "moderate"
	Heavy    Category = "heavy"
)

type set struct {
	cat   Category
	shape Triangle
}

// partitions is reference data; slices keep category order stable for traces.
var partitions = map[Dimension][]set{
	Soil: {
		{Dry, Triangle{0, 0, 40}},
		{Moist, Triangle{30, 50, 70}},
		{Wet, Triangle{60, 85, 100}},
		{Saturated, Triangle{85, 100, 100}},
	},
	Humidity: {
		{Low, Triangle{0, 0, 50}},
		{Medium, Triangle{30, 50, 70}},
		{High, Triangle{60, 100, 100}},
	},
	Temperature: {
		{Low, Triangle{10, 15, 20}},
		{Medium, Triangle{18, 25, 32}},
		{High, Triangle{30, 40, 40}},
	},
	Forecast: {
		{Dry, Triangle{0, 0, 40}},
		{Cloudy, Triangle{30, 50, 70}},
		{Rain, Triangle{60, 100, 100}},
	},
	PlantHealth: {
		{Critical, Triangle{0, 0, 30}},
		{Poor, Triangle{20, 40, 60}},
		{Healthy, Triangle{50, 75, 90}},
		{Excellent, Triangle{80, 100, 100}},
	},
	Recent: {
		{None, Triangle{0, 0, 20}},
		{Light, Triangle{10, 30, 50}},
		{Moderate, Triangle{40, 60, 80}},
		{Heavy, Triangle{70, 100, 100}},
	},
}

// output partition of the irrigation level, used only to name a level.
var outputSets = []set{
	{None, Triangle{0, 0, 20}},
	{Light, Triangle{10, 25, 40}},
	{Moderate, Triangle{35, 50, 65}},
	{Heavy, Triangle{60, 80, 100}},
}

// Shape returns the breakpoints of a category.
func Shape(d Dimension, c Category) (Triangle, bool) {
	for _, s := range partitions[d] {
		if s.cat == c {
			return s.shape, true
		}
	}
	return Triangle{}, false
}

// Categories lists the categories of a dimension in declaration order.
func Categories(d Dimension) []Category {
	out := make([]Category, 0, len(partitions[d]))
	for _, s := range partitions[d] {
		out = append(out, s.cat)
	}
	return out
}

// DegreeOf evaluates x against a named category. Unknown pairs yield 0.
func DegreeOf(d Dimension, c Category, x float64) float64 {
	t, ok := Shape(d, c)
	if !ok {
		return 0
	}
	return t.Degree(x)
}

// memberships evaluates every category of a dimension.
func memberships(d Dimension, x float64) map[Category]float64 {
	out := make(map[Category]float64, len(partitions[d]))
	for _, s := range partitions[d] {
		out[s.cat] = s.shape.Degree(x)
	}
	return out
}

// OutputCategory names the output set a level belongs to most strongly.
// Ties go to the lower set.
func OutputCategory(level float64) Category {
	best, bestDeg := None, -1.0
	for _, s := range outputSets {
		if d := s.shape.Degree(level); d > bestDeg {
			best, bestDeg = s.cat, d
		}
	}
	return best
}
