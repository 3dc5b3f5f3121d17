// Package optimizationtest provides evaluators and assertions shared by the
// optimizer tests.
package optimizationtest

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

// ErrBroken is returned by FailingEvaluator.
var ErrBroken = errors.New("evaluator is broken")

// TemperatureSpace is the one-dimensional space temperature in [20, 40].
func TemperatureSpace(t testing.TB) *optimization.ParameterSpace {
	t.Helper()
	space, err := optimization.NewParameterSpace(optimization.Parameter{Name: "temperature", Min: 20, Max: 40})
	if err != nil {
		t.Fatalf("failed to build space: %v", err)
	}
	return space
}

// PowerPeak reports power = -(temperature-30)^2 + 100.
func PowerPeak() optimization.EvaluatorFunc {
	return func(_ context.Context, p optimization.Vector) (optimization.Metrics, error) {
		d := p["temperature"] - 30
		return optimization.Metrics{"power": -d*d + 100}, nil
	}
}

// Sphere reports "value" = sum of (x_i - center_i)^2 over the given centers.
func Sphere(center optimization.Vector) optimization.EvaluatorFunc {
	return func(_ context.Context, p optimization.Vector) (optimization.Metrics, error) {
		sum := 0.0
		for name, c := range center {
			d := p[name] - c
			sum += d * d
		}
		return optimization.Metrics{"value": sum}, nil
	}
}

// Linear reports "value" = slope * x for the named parameter.
func Linear(name string, slope float64) optimization.EvaluatorFunc {
	return func(_ context.Context, p optimization.Vector) (optimization.Metrics, error) {
		return optimization.Metrics{"value": slope * p[name]}, nil
	}
}

// Counting wraps an evaluator and counts its calls.
type Counting struct {
	Next  optimization.Evaluator
	calls atomic.Int64
}

// Evaluate counts the call and delegates.
func (c *Counting) Evaluate(ctx context.Context, p optimization.Vector) (optimization.Metrics, error) {
	c.calls.Add(1)
	return c.Next.Evaluate(ctx, p)
}

// Calls returns the number of evaluations so far.
func (c *Counting) Calls() int {
	return int(c.calls.Load())
}

// FailingEvaluator returns an evaluator that always fails and counts calls.
func FailingEvaluator() *Counting {
	return &Counting{Next: optimization.EvaluatorFunc(func(context.Context, optimization.Vector) (optimization.Metrics, error) {
		return nil, ErrBroken
	})}
}

// Problem builds a problem with default constraints.
func Problem(t testing.TB, space *optimization.ParameterSpace, objective *optimization.Objective, evaluator optimization.Evaluator) optimization.Problem {
	t.Helper()
	constraints, err := optimization.NewConstraintSet(space)
	if err != nil {
		t.Fatalf("failed to build constraints: %v", err)
	}
	return optimization.Problem{Constraints: constraints, Objective: objective, Evaluator: evaluator}
}

// MustObjective builds a single-metric objective or fails the test.
func MustObjective(t testing.TB, kind optimization.ObjectiveType, metric string) *optimization.Objective {
	t.Helper()
	obj, err := optimization.NewObjective(kind, metric)
	if err != nil {
		t.Fatalf("failed to build objective: %v", err)
	}
	return obj
}

// AssertWithinBounds checks every parameter of v against the space bounds.
func AssertWithinBounds(t testing.TB, space *optimization.ParameterSpace, v optimization.Vector) {
	t.Helper()
	for _, p := range space.Parameters() {
		val, ok := v[p.Name]
		if !ok {
			t.Fatalf("parameter %q missing from %v", p.Name, v)
		}
		if math.IsNaN(val) || val < p.Min || val > p.Max {
			t.Fatalf("parameter %q = %v outside [%v, %v]", p.Name, val, p.Min, p.Max)
		}
	}
}

// AssertNonDecreasing checks that the fitness of consecutive records never drops.
func AssertNonDecreasing(t testing.TB, records []optimization.IterationRecord) {
	t.Helper()
	for i := 1; i < len(records); i++ {
		if records[i].Fitness < records[i-1].Fitness {
			t.Fatalf("fitness decreased at record %d: %v -> %v", i, records[i-1].Fitness, records[i].Fitness)
		}
	}
}
