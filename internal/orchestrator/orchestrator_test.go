package orchestrator

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/paramopt/internal/metrics"
	"github.com/copyleftdev/paramopt/internal/optimization"
	"github.com/copyleftdev/paramopt/internal/optimization/optimizationtest"
)

func linearSpace(t *testing.T) *optimization.ParameterSpace {
	t.Helper()
	space, err := optimization.NewParameterSpace(optimization.Parameter{Name: "x", Min: 0, Max: 10})
	require.NoError(t, err)
	return space
}

func TestAlgorithms(t *testing.T) {
	o := New()
	assert.Equal(t, []string{"bayesian", "genetic_algorithm", "gradient_descent", "particle_swarm"}, o.Algorithms())
}

func TestResolveAliases(t *testing.T) {
	r := newRegistry()

	tests := []struct {
		name string
		want string
	}{
		{"gradient_descent", "gradient_descent"},
		{"GD", "gradient_descent"},
		{"Gradient", "gradient_descent"},
		{"ga", "genetic_algorithm"},
		{"GENETIC", "genetic_algorithm"},
		{"pso", "particle_swarm"},
		{"swarm", "particle_swarm"},
		{" Bayes ", "bayesian"},
		{"bo", "bayesian"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, f, err := r.resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotNil(t, f)
		})
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	space := linearSpace(t)
	other := linearSpace(t)
	otherConstraints, err := optimization.NewConstraintSet(other)
	require.NoError(t, err)
	objective := optimizationtest.MustObjective(t, optimization.Maximize, "value")

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"unknown algorithm", func(r *Request) { r.Algorithm = "simulated_annealing" }},
		{"missing space", func(r *Request) { r.Space = nil }},
		{"missing objective", func(r *Request) { r.Objective = nil }},
		{"missing evaluator", func(r *Request) { r.Evaluator = nil }},
		{"foreign constraints", func(r *Request) { r.Constraints = otherConstraints }},
		{"unknown initial parameter", func(r *Request) { r.Initial = optimization.Vector{"y": 1} }},
		{"infinite initial parameter", func(r *Request) { r.Initial = optimization.Vector{"x": math.Inf(1)} }},
		{"unknown bayesian kernel", func(r *Request) { r.Algorithm = "bayesian"; r.Params.Kernel = "periodic" }},
		{"population of one", func(r *Request) { r.Params.PopulationSize = 1 }},
		{"negative iterations", func(r *Request) { r.Params.MaxIterations = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &optimizationtest.Counting{Next: optimizationtest.Linear("x", 1)}
			req := Request{
				Algorithm: "gd",
				Space:     space,
				Objective: objective,
				Evaluator: counter,
			}
			tt.mutate(&req)

			result, err := New().Run(context.Background(), req)
			assert.Nil(t, result)
			assert.True(t, optimization.IsConfigurationError(err), "got %v", err)
			assert.Zero(t, counter.Calls(), "no evaluation before validation passes")
		})
	}
}

func TestRunSensitivitySign(t *testing.T) {
	tests := []struct {
		name string
		kind optimization.ObjectiveType
		want float64
	}{
		// optimum at the upper bound, stepped backward
		{"maximize", optimization.Maximize, 20},
		// optimum at the lower bound, stepped forward
		{"minimize", optimization.Minimize, -20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := New(WithLogger(zaptest.NewLogger(t))).Run(context.Background(), Request{
				Algorithm: "gradient_descent",
				Space:     linearSpace(t),
				Objective: optimizationtest.MustObjective(t, tt.kind, "value"),
				Evaluator: optimizationtest.Linear("x", 2),
				Params:    Params{RandomSeed: 1},
			})
			require.NoError(t, err)
			require.Contains(t, result.Sensitivity, "x")
			assert.InDelta(t, tt.want, result.Sensitivity["x"], 1e-6)
		})
	}
}

func TestRunMultiObjectiveCalibration(t *testing.T) {
	space := optimizationtest.TemperatureSpace(t)
	counter := &optimizationtest.Counting{Next: optimization.EvaluatorFunc(func(_ context.Context, p optimization.Vector) (optimization.Metrics, error) {
		d := p["temperature"] - 30
		return optimization.Metrics{
			"power": -d*d + 100,
			"cost":  5 + p["temperature"]/10,
		}, nil
	})}
	objective, err := optimization.NewMultiObjective(
		optimization.Term{Metric: "power", Weight: 0.7, Direction: optimization.Maximize},
		optimization.Term{Metric: "cost", Weight: 0.3, Direction: optimization.Minimize},
	)
	require.NoError(t, err)
	objective, err = objective.WithTargets(
		optimization.Target{Metric: "power", Threshold: 95},
		optimization.Target{Metric: "cost", Threshold: 7},
	)
	require.NoError(t, err)

	result, err := New().Run(context.Background(), Request{
		Algorithm: "gd",
		Space:     space,
		Objective: objective,
		Evaluator: counter,
		Initial:   optimization.Vector{"temperature": 25},
		Params:    Params{RandomSeed: 7},
	})
	require.NoError(t, err)

	// scales come from power 75 and cost 7.5 at the initial point, which
	// puts the optimum slightly below 30
	assert.True(t, result.Success, "status %s: %s", result.Status, result.Note)
	assert.InDelta(t, 29.79, result.OptimizedParameters["temperature"], 0.5)
	assert.Equal(t, map[string]bool{"power": true, "cost": false}, result.TargetsMet)
	assert.Equal(t, result.Evaluations+2, counter.Calls(), "one calibration call and one sensitivity step")
}

func TestRunCalibrationCountsTowardFailureBudget(t *testing.T) {
	objective, err := optimization.NewMultiObjective(
		optimization.Term{Metric: "power", Weight: 0.5, Direction: optimization.Maximize},
		optimization.Term{Metric: "cost", Weight: 0.5, Direction: optimization.Minimize},
	)
	require.NoError(t, err)

	tests := []struct {
		name      string
		budget    int
		wantCalls int
	}{
		{"default budget", 0, 3},
		{"budget of one", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := optimizationtest.FailingEvaluator()
			result, err := New().Run(context.Background(), Request{
				Algorithm: "gd",
				Space:     optimizationtest.TemperatureSpace(t),
				Objective: objective,
				Evaluator: failing,
				Params:    Params{RandomSeed: 2, MaxConsecutiveFailures: tt.budget},
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, failing.Calls())
			assert.Equal(t, optimization.StatusAborted, result.Status)
			assert.False(t, result.Success)
			assert.Equal(t, "gradient_descent", result.Algorithm)
		})
	}
}

func TestRunBayesianKernel(t *testing.T) {
	result, err := New().Run(context.Background(), Request{
		Algorithm: "bo",
		Space:     optimizationtest.TemperatureSpace(t),
		Objective: optimizationtest.MustObjective(t, optimization.Maximize, "power"),
		Evaluator: optimizationtest.PowerPeak(),
		Params:    Params{MaxIterations: 12, RandomSeed: 9, Kernel: "rbf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bayesian", result.Algorithm)
	assert.Equal(t, 12, result.Evaluations)
}

func TestRunCancelledNeverSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, algorithm := range New().Algorithms() {
		t.Run(algorithm, func(t *testing.T) {
			result, err := New().Run(ctx, Request{
				Algorithm: algorithm,
				Space:     optimizationtest.TemperatureSpace(t),
				Objective: optimizationtest.MustObjective(t, optimization.Maximize, "power"),
				Evaluator: optimizationtest.PowerPeak(),
				Params:    Params{PopulationSize: 6, MaxIterations: 5, RandomSeed: 3},
			})
			require.NoError(t, err)
			assert.Equal(t, optimization.StatusCancelled, result.Status)
			assert.False(t, result.Success)
			assert.Nil(t, result.Sensitivity)
		})
	}
}

func TestRunAbortedRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	evaluator := optimizationtest.FailingEvaluator()
	result, err := New(WithMetrics(collector)).Run(context.Background(), Request{
		Algorithm: "ga",
		Space:     optimizationtest.TemperatureSpace(t),
		Objective: optimizationtest.MustObjective(t, optimization.Maximize, "power"),
		Evaluator: evaluator,
		Params:    Params{PopulationSize: 10, RandomSeed: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, optimization.StatusAborted, result.Status)
	assert.Nil(t, result.Sensitivity)
	assert.Equal(t, 3, evaluator.Calls())

	expected := `
# HELP paramopt_runs_total Optimization runs by algorithm and terminal status.
# TYPE paramopt_runs_total counter
paramopt_runs_total{algorithm="genetic_algorithm",status="aborted"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "paramopt_runs_total"))
}

func TestRunReportsProgress(t *testing.T) {
	var records []optimization.IterationRecord
	result, err := New().Run(context.Background(), Request{
		Algorithm: "pso",
		Space:     optimizationtest.TemperatureSpace(t),
		Objective: optimizationtest.MustObjective(t, optimization.Maximize, "power"),
		Evaluator: optimizationtest.PowerPeak(),
		Params:    Params{PopulationSize: 8, MaxIterations: 10, RandomSeed: 5},
		Progress: func(rec optimization.IterationRecord) {
			records = append(records, rec)
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, result.ConvergenceHistory, records)
}

func TestRunDefaultsAndOverrides(t *testing.T) {
	o := New(WithDefaults(optimization.Config{MaxIterations: 4, PopulationSize: 6, Tolerance: 1e-9}))

	cfg := o.config(Params{PopulationSize: 12, Workers: 3})
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 12, cfg.PopulationSize)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 1e-9, cfg.Tolerance)
	assert.NotNil(t, cfg.Logger)

	counter := &optimizationtest.Counting{Next: optimizationtest.PowerPeak()}
	result, err := o.Run(context.Background(), Request{
		Algorithm: "ga",
		Space:     optimizationtest.TemperatureSpace(t),
		Objective: optimizationtest.MustObjective(t, optimization.Maximize, "power"),
		Evaluator: counter,
		Params:    Params{RandomSeed: 11},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Iterations)
	assert.Equal(t, optimization.StatusMaxIterations, result.Status)
}

func TestWithAlgorithm(t *testing.T) {
	called := false
	custom := func(p optimization.Problem, c optimization.Config, _ Params) (optimization.Optimizer, error) {
		called = true
		return nil, optimization.NewConfigurationError("custom", "not implemented")
	}

	o := New(WithAlgorithm("Custom", custom, "c"))
	assert.Contains(t, o.Algorithms(), "custom")

	_, err := o.Run(context.Background(), Request{
		Algorithm: "C",
		Space:     linearSpace(t),
		Objective: optimizationtest.MustObjective(t, optimization.Maximize, "value"),
		Evaluator: optimizationtest.Linear("x", 1),
	})
	assert.True(t, called)
	assert.True(t, optimization.IsConfigurationError(err))
}
