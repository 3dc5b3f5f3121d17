package optimization

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRun(t *testing.T, evaluator Evaluator, cfg Config) *Run {
	t.Helper()
	space, err := NewParameterSpace(Parameter{Name: "x", Min: 0, Max: 10})
	require.NoError(t, err)
	constraints, err := NewConstraintSet(space)
	require.NoError(t, err)
	objective, err := NewObjective(Maximize, "value")
	require.NoError(t, err)

	cfg.RandomSeed = 1
	return NewRun("test", Problem{Constraints: constraints, Objective: objective, Evaluator: evaluator}, cfg.WithDefaults())
}

func identity() EvaluatorFunc {
	return func(_ context.Context, p Vector) (Metrics, error) {
		return Metrics{"value": p["x"]}, nil
	}
}

func TestRunEvaluateTracksBest(t *testing.T) {
	run := newTestRun(t, identity(), Config{})
	ctx := context.Background()

	run.Evaluate(ctx, []float64{3})
	run.Evaluate(ctx, []float64{7})
	ev := run.Evaluate(ctx, []float64{12})

	assert.Equal(t, []float64{10}, ev.Point)
	assert.InDelta(t, 10-0.2, ev.Fitness, 1e-12, "penalty of 2/10 range")
	require.Len(t, ev.Violations, 1)

	best, ok := run.Best()
	require.True(t, ok)
	assert.Equal(t, []float64{10}, best.Point)

	result := run.Finish(ctx, 3, true)
	assert.True(t, result.Success)
	assert.Equal(t, StatusConverged, result.Status)
	assert.Equal(t, 3, result.Evaluations)
	assert.Equal(t, 1, result.TotalViolations)
	assert.Equal(t, Vector{"x": 10}, result.OptimizedParameters)
}

func TestRunAbortsAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	failing := EvaluatorFunc(func(context.Context, Vector) (Metrics, error) {
		calls.Add(1)
		return nil, errors.New("sensor offline")
	})
	run := newTestRun(t, failing, Config{})
	ctx := context.Background()

	evals := run.EvaluateAll(ctx, [][]float64{{1}, {2}, {3}, {4}, {5}})

	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, run.Aborted())
	assert.True(t, evals[4].Skipped())
	assert.True(t, math.IsInf(evals[4].Fitness, -1))

	result := run.Finish(ctx, 0, false)
	assert.False(t, result.Success)
	assert.Equal(t, StatusAborted, result.Status)
	assert.Contains(t, result.Note, "sensor offline")
	assert.Empty(t, result.ConvergenceHistory)
	assert.Equal(t, Vector{"x": 1}, result.OptimizedParameters)
}

func TestRunRecoversEvaluatorPanic(t *testing.T) {
	panicking := EvaluatorFunc(func(context.Context, Vector) (Metrics, error) {
		panic("division by zero")
	})
	run := newTestRun(t, panicking, Config{})

	ev := run.Evaluate(context.Background(), []float64{1})
	require.True(t, ev.Failed())
	assert.True(t, IsEvaluationError(ev.Err))
	assert.Contains(t, ev.Err.Error(), "division by zero")
}

func TestRunFailureResetsOnSuccess(t *testing.T) {
	var n atomic.Int32
	flaky := EvaluatorFunc(func(_ context.Context, p Vector) (Metrics, error) {
		if n.Add(1)%3 == 0 {
			return Metrics{"value": p["x"]}, nil
		}
		return nil, errors.New("flaky")
	})
	run := newTestRun(t, flaky, Config{})

	run.EvaluateAll(context.Background(), [][]float64{{1}, {2}, {3}, {4}, {5}, {6}})
	assert.False(t, run.Aborted())
	assert.Equal(t, 6.0, run.BestFitness())
}

func TestRunEvaluateAllConcurrent(t *testing.T) {
	run := newTestRun(t, identity(), Config{Workers: 4})

	points := make([][]float64, 20)
	for i := range points {
		points[i] = []float64{float64(i) / 2}
	}
	evals := run.EvaluateAll(context.Background(), points)

	for i, ev := range evals {
		require.False(t, ev.Failed())
		assert.Equal(t, float64(i)/2, ev.Fitness)
	}
	assert.Equal(t, 9.5, run.BestFitness())
	assert.Equal(t, 20, run.evaluations)
}

func TestRunEvaluateAllConcurrentAbort(t *testing.T) {
	var calls atomic.Int32
	failing := EvaluatorFunc(func(context.Context, Vector) (Metrics, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})
	run := newTestRun(t, failing, Config{Workers: 2})

	points := make([][]float64, 50)
	for i := range points {
		points[i] = []float64{1}
	}
	run.EvaluateAll(context.Background(), points)

	assert.True(t, run.Aborted())
	assert.Less(t, int(calls.Load()), 50)
}

func TestRunMissingMetricIsFailure(t *testing.T) {
	wrong := EvaluatorFunc(func(context.Context, Vector) (Metrics, error) {
		return Metrics{"other": 1}, nil
	})
	run := newTestRun(t, wrong, Config{})

	ev := run.Evaluate(context.Background(), []float64{1})
	require.True(t, ev.Failed())
	assert.Contains(t, ev.Err.Error(), `"value"`)
}

func TestRunHistoryBounded(t *testing.T) {
	run := newTestRun(t, identity(), Config{HistoryLimit: 3})
	var seen []int
	run.cfg.Progress = func(rec IterationRecord) { seen = append(seen, rec.Iteration) }

	for i := 0; i < 5; i++ {
		run.Record(i, []float64{float64(i)}, float64(i), Metrics{"value": float64(i)})
	}

	result := run.Finish(context.Background(), 5, false)
	require.Len(t, result.ConvergenceHistory, 3)
	assert.Equal(t, 2, result.ConvergenceHistory[0].Iteration)
	assert.Equal(t, 4, result.ConvergenceHistory[2].Iteration)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
	assert.Equal(t, StatusMaxIterations, result.Status)
	assert.NotEmpty(t, result.Note)
}

func TestRunFinishCancelled(t *testing.T) {
	run := newTestRun(t, identity(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	run.Evaluate(ctx, []float64{4})
	cancel()

	assert.True(t, run.Stopped(ctx))
	result := run.Finish(ctx, 1, true)
	assert.False(t, result.Success)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.Contains(t, result.Note, "cancelled")
}

func TestRelativeChange(t *testing.T) {
	assert.Zero(t, RelativeChange(1, 1))
	assert.InDelta(t, 0.5, RelativeChange(2, 1), 1e-12)
	assert.True(t, math.IsInf(RelativeChange(math.Inf(-1), 1), 1))
	assert.True(t, Improves(100.5, 100, 1e-3))
	assert.False(t, Improves(100.05, 100, 1e-3))
	assert.False(t, Improves(99, 100, 1e-3))
	assert.True(t, Improves(1, math.Inf(-1), 1e-3))
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultTolerance, cfg.Tolerance)
	assert.Equal(t, DefaultPopulationSize, cfg.PopulationSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.NotNil(t, cfg.Logger)
	assert.NoError(t, cfg.Validate())

	assert.True(t, IsConfigurationError(Config{MaxIterations: -1}.Validate()))
	assert.True(t, IsConfigurationError(Config{Tolerance: math.NaN()}.Validate()))
	assert.True(t, IsConfigurationError(Config{PopulationSize: 1}.Validate()))
}

func TestSetup(t *testing.T) {
	space, err := NewParameterSpace(Parameter{Name: "x", Min: 0, Max: 1})
	require.NoError(t, err)
	constraints, err := NewConstraintSet(space)
	require.NoError(t, err)
	objective, err := NewObjective(Maximize, "value")
	require.NoError(t, err)

	cfg, err := Setup(Problem{Constraints: constraints, Objective: objective, Evaluator: identity()}, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.NotNil(t, cfg.Logger)

	_, err = Setup(Problem{Constraints: constraints, Objective: objective}, Config{})
	assert.True(t, IsConfigurationError(err))

	_, err = Setup(Problem{Constraints: constraints, Objective: objective, Evaluator: identity()}, Config{MaxIterations: -1})
	assert.True(t, IsConfigurationError(err))
}

func TestRunEvaluateRejectsNonFiniteFitness(t *testing.T) {
	run := newTestRun(t, identity(), Config{})
	ctx := context.Background()

	ev := run.Evaluate(ctx, []float64{math.Inf(1)})
	require.True(t, ev.Failed())
	assert.True(t, IsEvaluationError(ev.Err), "%v", ev.Err)

	_, ok := run.Best()
	assert.False(t, ok)

	result := run.Finish(ctx, 1, true)
	assert.Equal(t, 1, result.FailedEvaluations)
}

func TestRunCountsPriorFailures(t *testing.T) {
	var calls atomic.Int32
	failing := EvaluatorFunc(func(context.Context, Vector) (Metrics, error) {
		calls.Add(1)
		return nil, errors.New("sensor offline")
	})
	run := newTestRun(t, failing, Config{PriorFailures: 1})
	ctx := context.Background()

	run.EvaluateAll(ctx, [][]float64{{1}, {2}, {3}, {4}})

	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, run.Aborted())
}
