package advisor

import "math"

// SafetyMessage names the override that shaped the final level.
type SafetyMessage string

const (
	SafetyNone            SafetyMessage = "no-concern"
	SafetySaturationBlock SafetyMessage = "saturation-block"
	SafetyRecentHeavy     SafetyMessage = "recent-heavy-irrigation-limit"
	SafetyHealthLimit     SafetyMessage = "health-protection-limit"
)

var safetyText = map[SafetyMessage]string{
	SafetyNone:            "No safety concerns detected",
	SafetySaturationBlock: "SAFETY OVERRIDE: Soil is saturated - irrigation blocked to prevent plant death",
	SafetyRecentHeavy:     "SAFETY LIMIT: Recent heavy irrigation detected - limiting water to prevent root rot",
	SafetyHealthLimit:     "HEALTH PROTECTION: Plant health is poor - reducing irrigation to prevent further stress",
}

// Text is the operator-facing wording of the message.
func (m SafetyMessage) Text() string { return safetyText[m] }

// Overridden reports whether the message corresponds to a cap or block.
func (m SafetyMessage) Overridden() bool { return m != SafetyNone && m != "" }

const (
	saturationSoil   = 85.0
	recentHeavySoil  = 75.0
	recentHeavyScore = 60.0
	recentHeavyCap   = 20.0
	poorHealthScore  = 40.0
	poorHealthSoil   = 60.0
	poorHealthCap    = 25.0
)

// ApplyOverrides runs the safety policy over the fuzzy level. Conditions are
// checked in priority order and the first match wins; the result never
// exceeds rawLevel and is clamped to [0,100].
func ApplyOverrides(rawLevel, soilMoisture, recentIrrigation, healthScore float64) (float64, SafetyMessage) {
	level, msg := rawLevel, SafetyNone
	switch {
	case soilMoisture > saturationSoil:
		level, msg = 0, SafetySaturationBlock
	case soilMoisture > recentHeavySoil && recentIrrigation > recentHeavyScore:
		level, msg = math.Min(rawLevel, recentHeavyCap), SafetyRecentHeavy
	case healthScore < poorHealthScore && soilMoisture > poorHealthSoil:
		level, msg = math.Min(rawLevel, poorHealthCap), SafetyHealthLimit
	}
	return clampPct(level), msg
}
