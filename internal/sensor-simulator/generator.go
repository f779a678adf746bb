package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
)

const (
	// gainPerMin is the moisture gained per minute of open valve, in [0..1].
	gainPerMin = 0.006

	// DefaultSeed is the starting soil moisture when none is configured.
	DefaultSeed = 0.30

	// daily weather cycle
	baseTemperature = 26.0
	tempAmplitude   = 5.0
	baseHumidity    = 65.0
	humAmplitude    = 15.0
	peakHour        = 14.0
)

// DataGenerator keeps the soil moisture of one sensor and advances it in time.
// Moisture decays while the valve is off and rises while it is on; air
// temperature and humidity follow a daily cycle with a little noise.
type DataGenerator struct {
	mu           sync.Mutex
	seeded       bool
	last         time.Time
	moisture     float64 // [0..1]
	seed         float64
	decayPerMin  float64
	pendingBoost float64
	noise        float64
	rnd          *rand.Rand
}

// NewDataGenerator builds a generator losing decayPerMin moisture per minute
// with the valve off.
func NewDataGenerator(decayPerMin float64) *DataGenerator {
	return &DataGenerator{
		decayPerMin: math.Max(0, decayPerMin),
		seed:        DefaultSeed,
		noise:       0.5,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed sets the starting moisture used on the first reading.
func (g *DataGenerator) WithSeed(moisture float64) *DataGenerator {
	g.mu.Lock()
	g.seed = clamp01(moisture)
	g.mu.Unlock()
	return g
}

// WithRand replaces the noise source; noise is the jitter amplitude in °C / %.
func (g *DataGenerator) WithRand(r *rand.Rand, noise float64) *DataGenerator {
	g.mu.Lock()
	g.rnd = r
	g.noise = math.Max(0, noise)
	g.mu.Unlock()
	return g
}

// Next advances the state to now and returns a raw reading.
func (g *DataGenerator) Next(sensor *model.Sensor, now time.Time) model.SensorData {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.seeded {
		g.moisture = clamp01(g.seed + g.pendingBoost)
		g.pendingBoost = 0
		g.last = now
		g.seeded = true
	}

	dtMin := math.Max(0, now.Sub(g.last).Minutes())
	switch sensor.State {
	case model.StateOn:
		g.moisture = clamp01(g.moisture + gainPerMin*dtMin)
	default:
		g.moisture = clamp01(g.moisture - g.decayPerMin*dtMin)
	}
	g.last = now

	temp, hum := g.weather(now)
	return model.SensorData{
		FieldID:     sensor.FieldID,
		SensorID:    sensor.ID,
		Moisture:    math.Round(g.moisture * 100),
		Humidity:    math.Round(hum*10) / 10,
		Temperature: math.Round(temp*10) / 10,
		Timestamp:   now.UTC(),
	}
}

// ApplyIrrigation credits water delivered before the first reading.
// Once seeded, moisture rises progressively while the valve is on.
func (g *DataGenerator) ApplyIrrigation(d time.Duration) {
	if g == nil || d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.seeded {
		g.pendingBoost += gainPerMin * d.Minutes()
	}
}

// weather returns temperature and humidity for the local hour of now.
// Temperature peaks at peakHour, humidity bottoms out at the same time.
func (g *DataGenerator) weather(now time.Time) (float64, float64) {
	h := float64(now.Hour()) + float64(now.Minute())/60
	phase := math.Cos(2 * math.Pi * (h - peakHour) / 24)
	jitter := func() float64 {
		if g.noise == 0 {
			return 0
		}
		return (g.rnd.Float64()*2 - 1) * g.noise
	}
	temp := baseTemperature + tempAmplitude*phase + jitter()
	hum := baseHumidity - humAmplitude*phase + jitter()
	return temp, math.Max(0, math.Min(100, hum))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
