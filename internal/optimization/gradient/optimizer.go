// Package gradient implements finite-difference gradient ascent on the
// fitness surface.
package gradient

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

// Name is the canonical algorithm name.
const Name = "gradient_descent"

const (
	DefaultStepSize     = 0.1
	DefaultPerturbation = 0.01

	maxStepSize = 0.5
	minStepSize = 1e-6
	stepGrowth  = 1.1

	// iterations inspected when deciding whether the run has converged
	convergenceWindow = 5
)

// Option configures a GradientDescentOptimizer.
type Option func(*GradientDescentOptimizer)

// WithStepSize sets the initial step length in unit-cube coordinates.
func WithStepSize(eta float64) Option {
	return func(gd *GradientDescentOptimizer) {
		gd.stepSize = eta
	}
}

// WithPerturbation sets the finite-difference distance as a fraction
// of each parameter range.
func WithPerturbation(eps float64) Option {
	return func(gd *GradientDescentOptimizer) {
		gd.perturbation = eps
	}
}

// GradientDescentOptimizer follows the numerical gradient of the fitness.
// Steps are taken in normalized coordinates and projected back into the
// bounds, so the optimizer itself never proposes an out-of-bounds point.
// It evaluates sequentially and is deterministic for a fixed start, seed
// and evaluator.
type GradientDescentOptimizer struct {
	problem optimization.Problem
	config  optimization.Config

	stepSize     float64
	perturbation float64
}

// NewGradientDescentOptimizer creates a gradient optimizer for problem.
func NewGradientDescentOptimizer(problem optimization.Problem, config optimization.Config, opts ...Option) (*GradientDescentOptimizer, error) {
	const op = "NewGradientDescentOptimizer"

	cfg, err := optimization.Setup(problem, config)
	if err != nil {
		return nil, err
	}
	gd := &GradientDescentOptimizer{
		problem:      problem,
		config:       cfg,
		stepSize:     DefaultStepSize,
		perturbation: DefaultPerturbation,
	}
	for _, opt := range opts {
		opt(gd)
	}

	if math.IsNaN(gd.stepSize) || gd.stepSize < minStepSize || gd.stepSize > maxStepSize {
		return nil, optimization.NewConfigurationError(op, "step size must be in [%g, %g], got %v", minStepSize, maxStepSize, gd.stepSize)
	}
	if math.IsNaN(gd.perturbation) || gd.perturbation <= 0 || gd.perturbation >= 0.5 {
		return nil, optimization.NewConfigurationError(op, "perturbation must be in (0, 0.5), got %v", gd.perturbation)
	}
	return gd, nil
}

// Name returns the canonical algorithm name.
func (gd *GradientDescentOptimizer) Name() string {
	return Name
}

// Optimize climbs from initial until the fitness stops changing, the
// iteration cap is reached, or the run is aborted or cancelled.
func (gd *GradientDescentOptimizer) Optimize(ctx context.Context, initial optimization.Vector) (*optimization.OptimizationResult, error) {
	space := gd.problem.Space()
	start, err := space.StartPoint(initial)
	if err != nil {
		return nil, err
	}

	run := optimization.NewRun(Name, gd.problem, gd.config)
	logger := run.Logger()

	current := run.Evaluate(ctx, start)

	var (
		step         = gd.stepSize
		improvements int
		trace        []float64
		iterations   int
		converged    bool
	)
	for iterations < gd.config.MaxIterations && !run.Stopped(ctx) {
		if current.Failed() {
			// nothing to differentiate around; try a random point instead
			current = run.Evaluate(ctx, space.RandomPoint(run.Rand()))
			iterations++
			run.Record(iterations, current.Point, current.Fitness, current.Metrics)
			trace = append(trace, current.Fitness)
			continue
		}

		grad := gd.gradient(ctx, run, current)
		if run.Stopped(ctx) {
			break
		}

		u := space.Normalize(current.Point)
		next, moved := project(u, grad, step)
		iterations++

		if !moved {
			// zero gradient, or every component pushes against a bound
			run.Record(iterations, current.Point, current.Fitness, current.Metrics)
			converged = true
			logger.Debug("stationary point reached", zap.Int("iteration", iterations))
			break
		}

		candidate := run.Evaluate(ctx, space.Denormalize(next))
		if !candidate.Failed() && candidate.Fitness > current.Fitness {
			current = candidate
			improvements++
			if improvements >= 2 {
				step = math.Min(step*stepGrowth, maxStepSize)
			}
		} else {
			improvements = 0
			step /= 2
		}

		run.Record(iterations, current.Point, current.Fitness, current.Metrics)
		trace = append(trace, current.Fitness)

		if step < minStepSize || settled(trace, gd.config.Tolerance) {
			converged = true
			break
		}
	}

	return run.Finish(ctx, iterations, converged), nil
}

// gradient estimates the fitness gradient at current in normalized
// coordinates with central differences. Offsets are clamped inside the
// bounds and divided by the distance actually covered; a failed offset
// falls back to a one-sided difference.
func (gd *GradientDescentOptimizer) gradient(ctx context.Context, run *optimization.Run, current optimization.Evaluation) []float64 {
	space := run.Space()
	x := current.Point
	grad := make([]float64, len(x))

	for i := range x {
		if run.Stopped(ctx) {
			break
		}
		p := space.Parameter(i)
		h := gd.perturbation * p.Range()

		hi, fhi := gd.offset(ctx, run, current, i, math.Min(x[i]+h, p.Max))
		lo, flo := gd.offset(ctx, run, current, i, math.Max(x[i]-h, p.Min))

		if d := hi - lo; d > 0 {
			grad[i] = (fhi - flo) / d * p.Range()
		}
	}
	return grad
}

// offset evaluates current with coordinate i moved to v. It returns the
// coordinate actually used and its fitness; a failed evaluation reports the
// current point instead.
func (gd *GradientDescentOptimizer) offset(ctx context.Context, run *optimization.Run, current optimization.Evaluation, i int, v float64) (float64, float64) {
	x := current.Point
	if v == x[i] {
		return x[i], current.Fitness
	}
	moved := append([]float64(nil), x...)
	moved[i] = v

	ev := run.Evaluate(ctx, moved)
	if ev.Failed() {
		return x[i], current.Fitness
	}
	return v, ev.Fitness
}

// project moves u by step along the normalized gradient and clamps the
// result into the unit cube. moved is false when the projected step is
// empty.
func project(u, grad []float64, step float64) ([]float64, bool) {
	norm := floats.Norm(grad, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return u, false
	}

	next := make([]float64, len(u))
	moved := false
	for i := range u {
		next[i] = math.Max(0, math.Min(1, u[i]+step*grad[i]/norm))
		if next[i] != u[i] {
			moved = true
		}
	}
	return next, moved
}

// settled reports whether the fitness changed by less than tol over the
// last convergenceWindow iterations.
func settled(trace []float64, tol float64) bool {
	if len(trace) <= convergenceWindow {
		return false
	}
	last := trace[len(trace)-1]
	if math.IsInf(last, -1) {
		return false
	}
	return optimization.RelativeChange(last, trace[len(trace)-1-convergenceWindow]) < tol
}
