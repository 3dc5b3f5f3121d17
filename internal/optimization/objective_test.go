package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectiveScoreSingle(t *testing.T) {
	metrics := Metrics{"power": 12.5, "cost": 4}

	maximize, err := NewObjective(Maximize, "power")
	require.NoError(t, err)
	score, err := maximize.Score(metrics)
	require.NoError(t, err)
	assert.Equal(t, 12.5, score)

	minimize, err := NewObjective(Minimize, "cost")
	require.NoError(t, err)
	score, err = minimize.Score(metrics)
	require.NoError(t, err)
	assert.Equal(t, -4.0, score)
}

func TestObjectiveScoreMulti(t *testing.T) {
	obj, err := NewMultiObjective(
		Term{Metric: "power", Weight: 0.7, Direction: Maximize, Scale: 10},
		Term{Metric: "cost", Weight: 0.3, Direction: Minimize, Scale: 2},
	)
	require.NoError(t, err)

	score, err := obj.Score(Metrics{"power": 8, "cost": 3, "efficiency": 0.4})
	require.NoError(t, err)

	// 0.7*8/10 - 0.3*3/2
	assert.InDelta(t, 0.56-0.45, score, 1e-12)
}

func TestObjectiveScoreMultiUnscaled(t *testing.T) {
	obj, err := NewMultiObjective(
		Term{Metric: "power", Weight: 0.7},
		Term{Metric: "cost", Weight: 0.3, Direction: Minimize},
	)
	require.NoError(t, err)

	score, err := obj.Score(Metrics{"power": 8, "cost": 3})
	require.NoError(t, err)
	assert.InDelta(t, 0.7*8-0.3*3, score, 1e-12)
}

func TestObjectiveCalibrate(t *testing.T) {
	obj, err := NewMultiObjective(
		Term{Metric: "power", Weight: 1},
		Term{Metric: "cost", Weight: 1, Direction: Minimize, Scale: 5},
		Term{Metric: "durability", Weight: 1},
	)
	require.NoError(t, err)
	require.True(t, obj.NeedsCalibration())

	calibrated := obj.Calibrate(Metrics{"power": -200, "cost": 1000})
	assert.False(t, calibrated.NeedsCalibration())
	assert.True(t, obj.NeedsCalibration(), "calibration must not modify the original")

	terms := calibrated.Terms()
	assert.Equal(t, 200.0, terms[0].Scale)
	assert.Equal(t, 5.0, terms[1].Scale, "configured scales are kept")
	assert.Equal(t, 1.0, terms[2].Scale, "missing reference metrics default to 1")

	score, err := calibrated.Score(Metrics{"power": 400, "cost": 10, "durability": 2})
	require.NoError(t, err)
	assert.InDelta(t, 2.0-2.0+2.0, score, 1e-12)
}

func TestObjectiveMissingMetric(t *testing.T) {
	obj, err := NewMultiObjective(Term{Metric: "power", Weight: 1}, Term{Metric: "cost", Weight: 1})
	require.NoError(t, err)

	_, err = obj.Score(Metrics{"power": 1})
	require.Error(t, err)
	assert.True(t, IsEvaluationError(err))
	assert.Contains(t, err.Error(), `"cost"`)

	single, err := NewObjective(Maximize, "power")
	require.NoError(t, err)
	_, err = single.Score(Metrics{"power": math.NaN()})
	assert.True(t, IsEvaluationError(err))
}

func TestObjectiveValidation(t *testing.T) {
	_, err := NewObjective(Multi, "power")
	assert.True(t, IsConfigurationError(err))

	_, err = NewObjective(Maximize, "")
	assert.True(t, IsConfigurationError(err))

	_, err = NewMultiObjective()
	assert.True(t, IsConfigurationError(err))

	_, err = NewMultiObjective(Term{Metric: "power", Weight: -1})
	assert.True(t, IsConfigurationError(err))

	_, err = NewMultiObjective(Term{Metric: "power", Weight: 0})
	assert.True(t, IsConfigurationError(err))

	_, err = NewMultiObjective(Term{Metric: "power", Weight: 1}, Term{Metric: "power", Weight: 2})
	assert.True(t, IsConfigurationError(err))

	_, err = NewMultiObjective(Term{Metric: "power", Weight: 1, Direction: Multi})
	assert.True(t, IsConfigurationError(err))
}

func TestObjectiveTargets(t *testing.T) {
	obj, err := NewMultiObjective(
		Term{Metric: "power", Weight: 1},
		Term{Metric: "cost", Weight: 1, Direction: Minimize},
	)
	require.NoError(t, err)
	obj, err = obj.WithTargets(
		Target{Metric: "power", Threshold: 50},
		Target{Metric: "cost", Threshold: 10},
		Target{Metric: "efficiency", Threshold: 0.5},
	)
	require.NoError(t, err)

	met := obj.TargetsMet(Metrics{"power": 60, "cost": 12, "efficiency": 0.5})
	assert.Equal(t, map[string]bool{"power": true, "cost": false, "efficiency": true}, met)
}

func TestParseObjectiveType(t *testing.T) {
	kind, err := ParseObjectiveType(" minimize ")
	require.NoError(t, err)
	assert.Equal(t, Minimize, kind)

	_, err = ParseObjectiveType("optimize")
	assert.True(t, IsConfigurationError(err))
}

func TestObjectiveMetrics(t *testing.T) {
	obj, err := NewMultiObjective(Term{Metric: "power", Weight: 1}, Term{Metric: "cost", Weight: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"cost", "power"}, obj.Metrics())
}
