package crop

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStageBoundaries(t *testing.T) {
	cases := []struct {
		crop Type
		days int
		want Stage
	}{
		{Lettuce, 0, Seedling},
		{Lettuce, 21, Seedling},
		{Lettuce, 22, Vegetative},
		{Lettuce, 35, Vegetative},
		{Lettuce, 36, Mature},
		{Okra, 21, Seedling},
		{Okra, 42, Vegetative},
		{Okra, 43, Flowering},
		{Okra, 60, Flowering},
		{Okra, 61, Flowering},
		{Okra, 5000, Flowering},
		{Tomato, 21, Seedling},
		{Tomato, 49, Vegetative},
		{Tomato, 50, Flowering},
		{Tomato, 63, Flowering},
		{Tomato, 64, Mature},
		{Tomato, 5000, Mature},
		{Tomato, -3, Seedling},
	}
	for _, tc := range cases {
		got, err := ResolveStage(tc.crop, tc.days)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s day %d", tc.crop, tc.days)
	}
}

func TestResolveStageIsExhaustive(t *testing.T) {
	for _, c := range All() {
		stages := Stages(c)
		prevIdx := 0
		for day := 0; day <= 400; day++ {
			s, err := ResolveStage(c, day)
			require.NoError(t, err)
			idx := indexOf(stages, s)
			require.GreaterOrEqual(t, idx, 0, "%s day %d resolved to foreign stage %s", c, day, s)
			// stages advance monotonically, never skip back
			require.GreaterOrEqual(t, idx, prevIdx, "%s day %d", c, day)
			prevIdx = idx
		}
		assert.Equal(t, len(stages)-1, prevIdx, "%s never reached its last stage", c)
	}
}

func indexOf(stages []Stage, s Stage) int {
	for i, v := range stages {
		if v == s {
			return i
		}
	}
	return -1
}

func TestStageBounds(t *testing.T) {
	b, err := StageBounds(Tomato, Flowering)
	require.NoError(t, err)
	assert.Equal(t, Bounds{BaseML: 700, MaxML: 1000}, b)

	b, err = StageBounds(Lettuce, Mature)
	require.NoError(t, err)
	assert.Equal(t, 500.0, b.MaxML)

	_, err = StageBounds(Lettuce, Flowering)
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestEveryStageHasBounds(t *testing.T) {
	for _, c := range All() {
		for _, s := range Stages(c) {
			b, err := StageBounds(c, s)
			require.NoError(t, err)
			assert.Positive(t, b.MaxML)
			assert.LessOrEqual(t, b.BaseML, b.MaxML)
		}
	}
}

func TestUnknownCrop(t *testing.T) {
	_, err := ResolveStage(Unknown, 10)
	assert.ErrorIs(t, err, ErrUnknownCrop)

	_, err = StageBounds(Type(42), Seedling)
	assert.ErrorIs(t, err, ErrUnknownCrop)

	assert.Equal(t, 1.0, Tolerance(Unknown))
	assert.Empty(t, Stages(Unknown))
}

func TestParseAndText(t *testing.T) {
	assert.Equal(t, Okra, Parse(" OKRA "))
	assert.Equal(t, Unknown, Parse("cabbage"))
	assert.True(t, Lettuce.Known())
	assert.False(t, Unknown.Known())

	var payload struct {
		Crop Type `json:"crop"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"crop":"tomato"}`), &payload))
	assert.Equal(t, Tomato, payload.Crop)
	require.NoError(t, json.Unmarshal([]byte(`{"crop":"maize"}`), &payload))
	assert.Equal(t, Unknown, payload.Crop)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"crop":"unknown"}`, string(out))
}

func TestTolerance(t *testing.T) {
	assert.Less(t, Tolerance(Lettuce), 1.0)
	assert.Equal(t, 0.8, Tolerance(Lettuce))
	assert.Equal(t, 1.0, Tolerance(Okra))
	assert.Equal(t, 1.0, Tolerance(Tomato))
}

func TestOkraHasNoMatureStage(t *testing.T) {
	assert.Equal(t, []Stage{Seedling, Vegetative, Flowering}, Stages(Okra))
	_, err := StageBounds(Okra, Mature)
	assert.ErrorIs(t, err, ErrUnknownStage)
}
