package entities

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"
)

const plantingsJSON = `{
  "field1": [
    {"id": "sensor1", "crop": "tomato", "planted_at": "2025-06-01T00:00:00Z", "city": "Leon,Iloilo,PH", "flow_ml_min": 400},
    {"id": "sensor2", "crop": "okra", "planted_at": "2025-06-10T00:00:00Z", "latitude": 10.78, "longitude": 122.38}
  ],
  "field2": [
    {"id": "sensor1", "crop": "sorghum", "planted_at": "2025-07-01T00:00:00Z"}
  ]
}`

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry([]byte(plantingsJSON))
	require.NoError(t, err)
	require.Len(t, reg, 2)
	assert.Len(t, reg.All(), 3)

	p, err := reg.Lookup("field1", "sensor1")
	require.NoError(t, err)
	assert.Equal(t, "field1", p.FieldID)
	assert.Equal(t, crop.Tomato, p.Crop)
	assert.Equal(t, StateOff, p.State)
	assert.Equal(t, 400.0, p.FlowMLMin)
	assert.Equal(t, "Leon,Iloilo,PH", p.Location().City)

	p2, err := reg.Lookup("field1", "sensor2")
	require.NoError(t, err)
	assert.Equal(t, 10.78, p2.Location().Lat)

	unknown, err := reg.Lookup("field2", "sensor1")
	require.NoError(t, err)
	assert.Equal(t, crop.Unknown, unknown.Crop)

	_, err = reg.Lookup("field3", "sensor1")
	assert.True(t, errors.Is(err, ErrUnknownPlanting))
	_, err = reg.Lookup("field1", "sensor9")
	assert.True(t, errors.Is(err, ErrUnknownPlanting))
}

func TestParseRegistryRejectsBadInput(t *testing.T) {
	_, err := ParseRegistry([]byte(`{"f": [{"id": " "}]}`))
	assert.Error(t, err)
	_, err = ParseRegistry([]byte(`{"f": [{"id": "a"}, {"id": "a"}]}`))
	assert.Error(t, err)
	_, err = ParseRegistry([]byte(`[`))
	assert.Error(t, err)
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plantings.json")
	require.NoError(t, os.WriteFile(path, []byte(plantingsJSON), 0o600))
	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, reg, 2)

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDaysSincePlanting(t *testing.T) {
	planted := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := Planting{PlantedAt: planted}

	assert.Equal(t, 0, p.DaysSincePlanting(planted))
	assert.Equal(t, 0, p.DaysSincePlanting(planted.Add(23*time.Hour)))
	assert.Equal(t, 30, p.DaysSincePlanting(planted.AddDate(0, 0, 30)))
	assert.Equal(t, 0, p.DaysSincePlanting(planted.AddDate(0, 0, -3)))
	assert.Equal(t, 0, Planting{}.DaysSincePlanting(planted))
}

func TestValveDuration(t *testing.T) {
	s := Sensor{FlowMLMin: 400}
	assert.Equal(t, 3*time.Minute, s.ValveDuration(1200))
	assert.Equal(t, time.Duration(0), s.ValveDuration(0))
	assert.Equal(t, 2*time.Minute, Sensor{}.ValveDuration(2*DefaultFlowMLMin))
}
