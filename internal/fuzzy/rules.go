package fuzzy

import "math"

// Inputs are the six crisp values the rule bank reasons over.
type Inputs struct {
	Soil        float64 // soil moisture %
	Humidity    float64 // relative humidity %
	Temperature float64 // °C
	Forecast    float64 // rain probability %
	PlantHealth float64 // health score 0-100
	Recent      float64 // recent irrigation score 0-100
}

// Consequent levels of the rule bank.
const (
	OutNone     = 0.0
	OutLight    = 25.0
	OutModerate = 50.0
	OutHeavy    = 80.0
)

type term struct {
	dim Dimension
	cat Category
}

// Rule is one row of the bank: all antecedents AND-ed with min.
type Rule struct {
	Name   string
	If     []term
	Output float64
}

func is(d Dimension, c Category) term { return term{d, c} }

// bank is evaluated in full on every call; order only groups the rules.
var bank = []Rule{
	// over-irrigation protection
	{"saturated-soil", []term{is(Soil, Saturated)}, OutNone},
	{"wet-after-heavy", []term{is(Soil, Wet), is(Recent, Heavy)}, OutNone},
	{"wet-moderate-poor", []term{is(Soil, Wet), is(Recent, Moderate), is(PlantHealth, Poor)}, OutNone},
	{"critical-wet", []term{is(PlantHealth, Critical), is(Soil, Wet)}, OutNone},
	{"heavy-humid", []term{is(Recent, Heavy), is(Humidity, High)}, OutNone},

	// standard irrigation
	{"dry-hot-clear-healthy", []term{is(Soil, Dry), is(Temperature, High), is(Forecast, Dry), is(PlantHealth, Healthy)}, OutHeavy},
	{"dry-hot-clear-poor", []term{is(Soil, Dry), is(Temperature, High), is(Forecast, Dry), is(PlantHealth, Poor)}, OutModerate},
	{"moist-mild-clear-healthy", []term{is(Soil, Moist), is(Humidity, Medium), is(Forecast, Dry), is(PlantHealth, Healthy)}, OutModerate},
	{"moist-mild-cloudy", []term{is(Soil, Moist), is(Humidity, Medium), is(Forecast, Cloudy)}, OutLight},
	{"rain-expected", []term{is(Forecast, Rain)}, OutNone},
	{"dry-air-dry-soil", []term{is(Humidity, Low), is(Soil, Dry), is(PlantHealth, Healthy)}, OutModerate},
	{"cool-moist", []term{is(Temperature, Low), is(Soil, Moist)}, OutLight},

	// plant health
	{"critical-dry", []term{is(PlantHealth, Critical), is(Soil, Dry)}, OutLight},
	{"excellent-moist", []term{is(PlantHealth, Excellent), is(Soil, Moist)}, OutLight},

	// recent irrigation
	{"moist-after-heavy", []term{is(Recent, Heavy), is(Soil, Moist)}, OutNone},
	{"wet-after-moderate", []term{is(Recent, Moderate), is(Soil, Wet)}, OutNone},
	{"dry-unwatered-healthy", []term{is(Recent, None), is(Soil, Dry), is(PlantHealth, Healthy)}, OutModerate},
}

// Rules returns a copy of the rule bank.
func Rules() []Rule {
	out := make([]Rule, len(bank))
	copy(out, bank)
	return out
}

// Firing is the strength a rule reached for a given input.
type Firing struct {
	Rule     string
	Strength float64
	Output   float64
}

func (in Inputs) value(d Dimension) float64 {
	switch d {
	case Soil:
		return in.Soil
	case Humidity:
		return in.Humidity
	case Temperature:
		return in.Temperature
	case Forecast:
		return in.Forecast
	case PlantHealth:
		return in.PlantHealth
	case Recent:
		return in.Recent
	}
	return math.NaN()
}

// Trace evaluates every rule and returns the firings with the defuzzified level.
func Trace(in Inputs) (float64, []Firing) {
	degrees := make(map[Dimension]map[Category]float64, len(partitions))
	for d := range partitions {
		degrees[d] = memberships(d, in.value(d))
	}

	firings := make([]Firing, 0, len(bank))
	var num, den float64
	for _, r := range bank {
		strength := 1.0
		for _, t := range r.If {
			strength = math.Min(strength, degrees[t.dim][t.cat])
		}
		firings = append(firings, Firing{Rule: r.Name, Strength: strength, Output: r.Output})
		num += strength * r.Output
		den += strength
	}
	if den == 0 {
		return 0, firings
	}
	return num / den, firings
}

// Evaluate returns the weighted-average irrigation level in [0,100].
// No firing rule means no signal and yields 0.
func Evaluate(in Inputs) float64 {
	level, _ := Trace(in)
	return level
}
