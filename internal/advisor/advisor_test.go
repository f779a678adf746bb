package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"
)

func TestRecentIrrigationScore(t *testing.T) {
	assert.Equal(t, 80.0, RecentIrrigationScore([]float64{80, 0, 0}))
	assert.Zero(t, RecentIrrigationScore(nil))
	assert.Zero(t, RecentIrrigationScore([]float64{}))
	assert.Zero(t, RecentIrrigationScore([]float64{0, 0, 0}))
	assert.InDelta(t, 50.0, RecentIrrigationScore([]float64{50, 50, 50}), 1e-9)
	assert.InDelta(t, 135.0/1.7, RecentIrrigationScore([]float64{100, 50, 0}), 1e-9)
	assert.InDelta(t, 36.0/2.1, RecentIrrigationScore([]float64{10, 20, 30, 99}), 1e-9)
	assert.Equal(t, 100.0, RecentIrrigationScore([]float64{200, -5}))
}

func TestRecentIrrigationScoreRange(t *testing.T) {
	for a := 0.0; a <= 100; a += 12.5 {
		for b := 0.0; b <= 100; b += 12.5 {
			for c := 0.0; c <= 100; c += 12.5 {
				s := RecentIrrigationScore([]float64{a, b, c})
				require.True(t, s >= 0 && s <= 100, "%v,%v,%v -> %v", a, b, c, s)
			}
		}
	}
}

func TestAssessPlantHealth(t *testing.T) {
	cases := []struct {
		name   string
		soil   float64
		recent float64
		crop   crop.Type
		days   int
		score  float64
		status HealthStatus
		issues []string
	}{
		{"baseline", 45, 0, crop.Tomato, 30, 70, StatusHealthy, []string{}},
		{"okra is neutral", 50, 0, crop.Okra, 30, 70, StatusHealthy, []string{}},
		{"unknown crop is neutral", 50, 0, crop.Unknown, 30, 70, StatusHealthy, []string{}},
		{"waterlogged", 85, 0, crop.Tomato, 30, 45, StatusPoor, []string{IssueRootDamage, IssueFungalRisk}},
		{"drought", 10, 0, crop.Okra, 30, 40, StatusPoor, []string{IssueDroughtStress, IssueWiltingRisk}},
		{"dry", 20, 0, crop.Tomato, 30, 55, StatusPoor, []string{IssueWaterStress}},
		{"threshold recent not penalised", 45, 80, crop.Tomato, 30, 70, StatusHealthy, []string{}},
		{
			"saturated young lettuce after heavy watering", 95, 90, crop.Lettuce, 10, 7.2, StatusCritical,
			[]string{IssueRootRot, IssueOxygenDeficiency, IssueOverIrrigation},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AssessPlantHealth(tc.soil, tc.recent, tc.crop, tc.days)
			assert.InDelta(t, tc.score, got.Score, 1e-9)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.issues, got.Issues)
		})
	}
}

func TestAssessPlantHealthIssuesMatchConditions(t *testing.T) {
	conds := map[string]func(soil, recent float64) bool{
		IssueRootRot:          func(s, _ float64) bool { return s > 90 },
		IssueOxygenDeficiency: func(s, _ float64) bool { return s > 90 },
		IssueRootDamage:       func(s, _ float64) bool { return s > 80 && s <= 90 },
		IssueFungalRisk:       func(s, _ float64) bool { return s > 80 && s <= 90 },
		IssueDroughtStress:    func(s, _ float64) bool { return s < 15 },
		IssueWiltingRisk:      func(s, _ float64) bool { return s < 15 },
		IssueWaterStress:      func(s, _ float64) bool { return s >= 15 && s < 30 },
		IssueOverIrrigation:   func(_, r float64) bool { return r > 80 },
	}
	for soil := -5.0; soil <= 105; soil += 0.5 {
		for recent := 0.0; recent <= 100; recent += 5 {
			for _, c := range append(crop.All(), crop.Unknown) {
				got := AssessPlantHealth(soil, recent, c, 7)
				seen := map[string]bool{}
				for _, issue := range got.Issues {
					cond, ok := conds[issue]
					require.True(t, ok, "unexpected tag %q", issue)
					require.True(t, cond(soil, recent), "tag %q for soil=%v recent=%v", issue, soil, recent)
					require.False(t, seen[issue], "duplicate tag %q", issue)
					seen[issue] = true
				}
				require.True(t, got.Score >= 0 && got.Score <= 100)
				require.Equal(t, StatusFor(got.Score), got.Status)
			}
		}
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusExcellent, StatusFor(80))
	assert.Equal(t, StatusHealthy, StatusFor(79.99))
	assert.Equal(t, StatusHealthy, StatusFor(60))
	assert.Equal(t, StatusPoor, StatusFor(40))
	assert.Equal(t, StatusCritical, StatusFor(39.9))
}

func TestApplyOverrides(t *testing.T) {
	cases := []struct {
		name                      string
		raw, soil, recent, health float64
		level                     float64
		msg                       SafetyMessage
	}{
		{"no concern", 60, 50, 0, 90, 60, SafetyNone},
		{"saturation wins over everything", 70, 90, 0, 100, 0, SafetySaturationBlock},
		{"saturation before recent-heavy", 40, 95, 90, 20, 0, SafetySaturationBlock},
		{"recent heavy caps", 50, 78, 70, 90, 20, SafetyRecentHeavy},
		{"recent heavy never raises", 10, 78, 70, 90, 10, SafetyRecentHeavy},
		{"recent heavy before health", 50, 78, 70, 10, 20, SafetyRecentHeavy},
		{"health protection caps", 60, 65, 0, 30, 25, SafetyHealthLimit},
		{"health protection needs wet soil", 60, 60, 0, 30, 60, SafetyNone},
		{"boundary 85 is not saturated", 60, 85, 0, 90, 60, SafetyNone},
		{"clamped high", 140, 10, 0, 90, 100, SafetyNone},
		{"clamped low", -3, 10, 0, 90, 0, SafetyNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, msg := ApplyOverrides(tc.raw, tc.soil, tc.recent, tc.health)
			assert.Equal(t, tc.level, level)
			assert.Equal(t, tc.msg, msg)
		})
	}
}

func TestSafetyMessageText(t *testing.T) {
	for _, m := range []SafetyMessage{SafetyNone, SafetySaturationBlock, SafetyRecentHeavy, SafetyHealthLimit} {
		assert.NotEmpty(t, m.Text(), string(m))
	}
	assert.False(t, SafetyNone.Overridden())
	assert.True(t, SafetyHealthLimit.Overridden())
}

func TestEstimateVolume(t *testing.T) {
	v := EstimateVolume(50, crop.Tomato, crop.Flowering)
	assert.Equal(t, Volume{MLPerPlant: 400, TotalML: 1200, TotalLiters: 1.2}, v)

	v = EstimateVolume(100, crop.Okra, crop.Vegetative)
	assert.Equal(t, Volume{MLPerPlant: 1600, TotalML: 4800, TotalLiters: 4.8}, v)

	// total comes from the unrounded per-plant dose
	v = EstimateVolume(33.3, crop.Lettuce, crop.Seedling)
	assert.Equal(t, 27.0, v.MLPerPlant)
	assert.Equal(t, 80.0, v.TotalML)
	assert.Equal(t, 0.08, v.TotalLiters)

	assert.Equal(t, Volume{}, EstimateVolume(0, crop.Tomato, crop.Mature))
}

func TestEstimateVolumeFallback(t *testing.T) {
	v := EstimateVolume(100, crop.Unknown, "")
	assert.True(t, v.Fallback)
	assert.Equal(t, 750.0, v.TotalML)
	assert.Equal(t, 250.0, v.MLPerPlant)
	assert.Equal(t, 0.75, v.TotalLiters)

	v = EstimateVolume(40, crop.Lettuce, crop.Flowering)
	assert.True(t, v.Fallback)
	assert.Equal(t, 300.0, v.TotalML)
}

func TestLabelAndRisk(t *testing.T) {
	assert.Equal(t, LabelNone, LabelFor(20))
	assert.Equal(t, LabelLight, LabelFor(20.01))
	assert.Equal(t, LabelLight, LabelFor(40))
	assert.Equal(t, LabelModerate, LabelFor(65))
	assert.Equal(t, LabelHeavy, LabelFor(65.1))

	assert.Equal(t, RiskLow, RiskFor(10, 95, 95))
	assert.Equal(t, RiskMedium, RiskFor(50, 61, 0))
	assert.Equal(t, RiskLow, RiskFor(50, 60, 0))
	assert.Equal(t, RiskHigh, RiskFor(80, 51, 0))
	assert.Equal(t, RiskHigh, RiskFor(80, 40, 41))
	assert.Equal(t, RiskMedium, RiskFor(80, 40, 40))
}

func baseRequest() Request {
	return Request{
		SensorInputs:      SensorInputs{SoilMoisture: 45, Humidity: 60, Temperature: 25, RainForecast: 30},
		PlantHealth:       70,
		RecentIrrigation:  0,
		Crop:              crop.Tomato,
		DaysSincePlanting: 30,
	}
}

func TestCalculateIrrigationSaturationOverride(t *testing.T) {
	req := baseRequest()
	req.SoilMoisture, req.PlantHealth, req.RecentIrrigation = 90, 100, 0
	d := CalculateIrrigation(req)
	assert.Zero(t, d.Level)
	assert.Equal(t, SafetySaturationBlock, d.Safety)
	assert.Equal(t, LabelNone, d.Label)
	assert.Zero(t, d.TotalML)

	req.SoilMoisture, req.RecentIrrigation = 95, 90
	d = CalculateIrrigation(req)
	assert.Zero(t, d.Level)
	assert.Equal(t, SafetySaturationBlock, d.Safety)
}

func TestCalculateIrrigationRecentHeavyLimit(t *testing.T) {
	req := baseRequest()
	req.SoilMoisture, req.RecentIrrigation, req.PlantHealth = 78, 70, 90
	d := CalculateIrrigation(req)
	assert.LessOrEqual(t, d.Level, 20.0)
	assert.LessOrEqual(t, d.Level, d.RawLevel)
	assert.Equal(t, SafetyRecentHeavy, d.Safety)
}

func TestCalculateIrrigationHealthProtection(t *testing.T) {
	req := baseRequest()
	req.PlantHealth, req.SoilMoisture, req.RecentIrrigation = 30, 65, 0
	d := CalculateIrrigation(req)
	assert.LessOrEqual(t, d.Level, 25.0)
	assert.Equal(t, SafetyHealthLimit, d.Safety)
}

func TestCalculateIrrigationDryHotClear(t *testing.T) {
	d := CalculateIrrigation(Request{
		SensorInputs:      SensorInputs{SoilMoisture: 20, Humidity: 80, Temperature: 35, RainForecast: 5},
		PlantHealth:       85,
		RecentIrrigation:  30,
		Crop:              crop.Tomato,
		DaysSincePlanting: 30,
	})
	assert.InDelta(t, 80, d.RawLevel, 1e-9)
	assert.InDelta(t, 80, d.Level, 1e-9)
	assert.Equal(t, LabelHeavy, d.Label)
	assert.Equal(t, RiskMedium, d.Risk)
	assert.Equal(t, SafetyNone, d.Safety)
	assert.Equal(t, crop.Vegetative, d.Stage)
	assert.Equal(t, 320.0, d.MLPerPlant)
	assert.Equal(t, 960.0, d.TotalML)
	assert.False(t, d.Fallback)
}

func TestCalculateIrrigationNeverWateredDefaultHumidity(t *testing.T) {
	d := CalculateIrrigation(Request{
		SensorInputs:      SensorInputs{SoilMoisture: 20, Humidity: 60, Temperature: 35, RainForecast: 5},
		PlantHealth:       85,
		RecentIrrigation:  0,
		Crop:              crop.Tomato,
		DaysSincePlanting: 30,
	})
	assert.InDelta(t, 80, d.RawLevel, 1e-9)
	assert.InDelta(t, 80, d.Level, 1e-9)
	assert.Equal(t, LabelHeavy, d.Label)
	assert.Equal(t, SafetyNone, d.Safety)
	assert.Equal(t, 960.0, d.TotalML)
}

func TestCalculateIrrigationUnknownCrop(t *testing.T) {
	req := baseRequest()
	req.Crop = crop.Unknown
	req.SoilMoisture, req.Humidity, req.Temperature, req.RainForecast = 20, 80, 35, 5
	req.PlantHealth, req.RecentIrrigation = 85, 30
	d := CalculateIrrigation(req)
	assert.Empty(t, d.Stage)
	assert.True(t, d.Fallback)
	assert.Equal(t, 600.0, d.TotalML)
}

func TestCalculateIrrigationIsIdempotent(t *testing.T) {
	req := baseRequest()
	req.SoilMoisture, req.Temperature, req.RainForecast = 28, 33, 12
	first := CalculateIrrigation(req)
	second := CalculateIrrigation(req)
	assert.Equal(t, first, second)
}

func TestCalculateIrrigationInvariants(t *testing.T) {
	for soil := 0.0; soil <= 100; soil += 5 {
		for health := 0.0; health <= 100; health += 25 {
			for recent := 0.0; recent <= 100; recent += 25 {
				req := baseRequest()
				req.SoilMoisture, req.PlantHealth, req.RecentIrrigation = soil, health, recent
				d := CalculateIrrigation(req)
				require.True(t, d.Level >= 0 && d.Level <= 100)
				require.LessOrEqual(t, d.Level, d.RawLevel+1e-9)
				if d.Safety == SafetySaturationBlock {
					require.Zero(t, d.Level)
				}
				require.GreaterOrEqual(t, d.TotalML, 0.0)
			}
		}
	}
}

func TestEvaluatePipeline(t *testing.T) {
	health, d := Evaluate(SensorInputs{SoilMoisture: 95, Humidity: 70, Temperature: 24, RainForecast: 10},
		[]float64{90, 90, 90}, crop.Lettuce, 40)
	assert.Contains(t, health.Issues, IssueOverIrrigation)
	assert.Equal(t, SafetySaturationBlock, d.Safety)
	assert.Zero(t, d.Level)
	assert.Equal(t, crop.Mature, d.Stage)
}
