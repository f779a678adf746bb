package advisor

// recencyWeights apply to today, yesterday and two days ago.
var recencyWeights = [...]float64{1.0, 0.7, 0.4}

// RecentIrrigationScore is the recency-weighted mean of up to three daily
// irrigation percentages, most recent first. Only days that actually received
// water carry weight, so [80, 0, 0] scores 80. Entries past the third are
// ignored; an empty or all-zero history scores 0.
func RecentIrrigationScore(history []float64) float64 {
	var total, weight float64
	for i, v := range history {
		if i >= len(recencyWeights) {
			break
		}
		v = clampPct(v)
		if v == 0 {
			continue
		}
		total += v * recencyWeights[i]
		weight += recencyWeights[i]
	}
	if weight == 0 {
		return 0
	}
	return total / weight
}

func clampPct(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
