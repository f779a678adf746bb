package advisor

import (
	"math"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"
)

// Planting layout: one 50x150 cm row with a plant every 50 cm.
const (
	plantSpacingCM = 50.0
	rowLengthCM    = 150.0
	rowWidthCM     = 50.0

	// PlantsPerUnit is the number of plants watered per planting unit.
	PlantsPerUnit = rowLengthCM / plantSpacingCM

	// ScalingFactor tempers the stage maximum towards realistic doses.
	ScalingFactor = 0.8

	// fallback when the crop/stage pair is not in the tables
	unitAreaM2           = rowLengthCM * rowWidthCM / 10000
	waterPerPercentPerM2 = 10.0 // mL per level-percent per m²
)

// Volume is the water estimate for one planting unit.
type Volume struct {
	MLPerPlant  float64 `json:"ml_per_plant"`
	TotalML     float64 `json:"total_ml"`
	TotalLiters float64 `json:"total_liters"`
	Fallback    bool    `json:"fallback"`
}

// EstimateVolume converts a level into water for the planting unit using the
// stage maximum. Unknown crop/stage pairs use the area heuristic instead.
func EstimateVolume(level float64, c crop.Type, s crop.Stage) Volume {
	level = clampPct(level)

	bounds, err := crop.StageBounds(c, s)
	if err != nil {
		total := level * waterPerPercentPerM2 * unitAreaM2
		return rounded(total/PlantsPerUnit, total, true)
	}
	perPlant := level / 100 * bounds.MaxML * ScalingFactor
	return rounded(perPlant, perPlant*PlantsPerUnit, false)
}

func rounded(perPlant, total float64, fallback bool) Volume {
	return Volume{
		MLPerPlant:  math.Round(perPlant),
		TotalML:     math.Round(total),
		TotalLiters: math.Round(total/10) / 100,
		Fallback:    fallback,
	}
}
