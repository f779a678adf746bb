package advisor

import "github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"

// HealthStatus buckets a health score.
type HealthStatus string

const (
	StatusCritical  HealthStatus = "Critical"
	StatusPoor      HealthStatus = "Poor"
	StatusHealthy   HealthStatus = "Healthy"
	StatusExcellent HealthStatus = "Excellent"
)

// Issue tags reported by AssessPlantHealth.
const (
	IssueRootRot          = "Root rot risk"
	IssueOxygenDeficiency = "Oxygen deficiency"
	IssueRootDamage       = "Potential root damage"
	IssueFungalRisk       = "Fungal risk"
	IssueDroughtStress    = "Drought stress"
	IssueWiltingRisk      = "Wilting risk"
	IssueWaterStress      = "Water stress"
	IssueOverIrrigation   = "Over-irrigation stress"
)

const (
	baseHealthScore       = 70.0
	youngPlantDays        = 14
	youngPlantSensitivity = 0.9
	overIrrigationRecent  = 80.0
	overIrrigationPenalty = 20.0
)

// HealthAssessment is the plant condition derived from soil and watering history.
type HealthAssessment struct {
	Score  float64      `json:"score"`
	Status HealthStatus `json:"status"`
	Issues []string     `json:"issues"`
}

type moistureBand struct {
	applies func(soil float64) bool
	penalty float64
	issues  []string
}

// wet bands are checked first, then dry bands; the first match wins.
var moistureBands = []moistureBand{
	{func(s float64) bool { return s > 90 }, 40, []string{IssueRootRot, IssueOxygenDeficiency}},
	{func(s float64) bool { return s > 80 }, 25, []string{IssueRootDamage, IssueFungalRisk}},
	{func(s float64) bool { return s < 15 }, 30, []string{IssueDroughtStress, IssueWiltingRisk}},
	{func(s float64) bool { return s < 30 }, 15, []string{IssueWaterStress}},
}

// AssessPlantHealth scores plant condition in [0,100].
func AssessPlantHealth(soilMoisture, recentIrrigation float64, c crop.Type, daysSincePlanting int) HealthAssessment {
	score := baseHealthScore
	issues := make([]string, 0, 3)

	for _, b := range moistureBands {
		if b.applies(soilMoisture) {
			score -= b.penalty
			issues = appendDistinct(issues, b.issues...)
			break
		}
	}

	if recentIrrigation > overIrrigationRecent {
		score -= overIrrigationPenalty
		issues = appendDistinct(issues, IssueOverIrrigation)
	}

	score *= crop.Tolerance(c)
	if daysSincePlanting < youngPlantDays {
		score *= youngPlantSensitivity
	}
	score = clampPct(score)

	return HealthAssessment{Score: score, Status: StatusFor(score), Issues: issues}
}

// StatusFor maps a score onto the 40/60/80 thresholds.
func StatusFor(score float64) HealthStatus {
	switch {
	case score >= 80:
		return StatusExcellent
	case score >= 60:
		return StatusHealthy
	case score >= 40:
		return StatusPoor
	default:
		return StatusCritical
	}
}

func appendDistinct(dst []string, tags ...string) []string {
next:
	for _, t := range tags {
		for _, have := range dst {
			if have == t {
				continue next
			}
		}
		dst = append(dst, t)
	}
	return dst
}
