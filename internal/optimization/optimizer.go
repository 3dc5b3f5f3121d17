package optimization

import (
	"context"
	"math"

	"go.uber.org/zap"
)

const (
	DefaultMaxIterations          = 100
	DefaultTolerance              = 1e-3
	DefaultPopulationSize         = 50
	DefaultHistoryLimit           = 500
	DefaultMaxConsecutiveFailures = 3
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Name returns the canonical algorithm name
	Name() string

	// Optimize runs the search from the initial parameters. Only
	// configuration mistakes are returned as errors; failed runs are
	// reported through the result.
	Optimize(ctx context.Context, initial Vector) (*OptimizationResult, error)
}

// Evaluator maps a parameter vector to performance metrics. It is supplied by
// the caller and is not assumed to be safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, params Vector) (Metrics, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, params Vector) (Metrics, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, params Vector) (Metrics, error) {
	return f(ctx, params)
}

// ProgressFunc is called once per iteration with the iteration's record.
type ProgressFunc func(IterationRecord)

// Problem bundles what every optimizer needs: the constrained space, the
// objective and the evaluator.
type Problem struct {
	Constraints *ConstraintSet
	Objective   *Objective
	Evaluator   Evaluator
}

// Space returns the problem's parameter space.
func (p Problem) Space() *ParameterSpace {
	return p.Constraints.Space()
}

// Validate checks that all collaborators are present.
func (p Problem) Validate() error {
	const op = "Problem.Validate"

	if p.Constraints == nil {
		return NewConfigurationError(op, "constraint set is required")
	}
	if p.Objective == nil {
		return NewConfigurationError(op, "objective is required")
	}
	if p.Evaluator == nil {
		return NewConfigurationError(op, "evaluator is required")
	}
	return nil
}

// Config contains the settings shared by all optimizers
type Config struct {
	// Maximum number of iterations (generations for population methods)
	MaxIterations int

	// Minimum relative improvement that still counts as progress
	Tolerance float64

	// Population or swarm size for GA and PSO
	PopulationSize int

	// Concurrent evaluations per generation for GA and PSO; 1 is sequential
	Workers int

	// Number of iteration records and violations kept in the result
	HistoryLimit int

	// Consecutive failed evaluations that abort the run
	MaxConsecutiveFailures int

	// Consecutive failures already made for this run before it started,
	// such as a failed objective calibration
	PriorFailures int

	// Random seed for reproducibility; 0 seeds from the clock
	RandomSeed int64

	// Optional per-iteration callback
	Progress ProgressFunc

	// Logger for structured logging; nil disables logging
	Logger *zap.Logger
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Tolerance == 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.PopulationSize == 0 {
		c.PopulationSize = DefaultPopulationSize
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Validate rejects negative or non-finite settings.
func (c Config) Validate() error {
	const op = "Config.Validate"

	switch {
	case c.MaxIterations < 0:
		return NewConfigurationError(op, "max iterations must be positive, got %d", c.MaxIterations)
	case math.IsNaN(c.Tolerance) || math.IsInf(c.Tolerance, 0) || c.Tolerance < 0:
		return NewConfigurationError(op, "convergence tolerance must be a non-negative number, got %v", c.Tolerance)
	case c.PopulationSize < 0 || c.PopulationSize == 1:
		return NewConfigurationError(op, "population size must be at least 2, got %d", c.PopulationSize)
	case c.Workers < 0:
		return NewConfigurationError(op, "workers must be positive, got %d", c.Workers)
	case c.HistoryLimit < 0:
		return NewConfigurationError(op, "history limit must be positive, got %d", c.HistoryLimit)
	case c.MaxConsecutiveFailures < 0:
		return NewConfigurationError(op, "max consecutive failures must be positive, got %d", c.MaxConsecutiveFailures)
	case c.PriorFailures < 0:
		return NewConfigurationError(op, "prior failures must be non-negative, got %d", c.PriorFailures)
	}
	return nil
}

// Setup validates a problem and its configuration and returns the
// configuration with defaults applied. Optimizer constructors call it.
func Setup(problem Problem, cfg Config) (Config, error) {
	if err := problem.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg.WithDefaults(), nil
}

// RelativeChange returns |a-b| / max(|a|,|b|); differences below 1e-12
// count as no change.
func RelativeChange(a, b float64) float64 {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		if a == b {
			return 0
		}
		return math.Inf(1)
	}
	diff := math.Abs(a - b)
	if diff <= 1e-12 {
		return 0
	}
	return diff / math.Max(math.Abs(a), math.Abs(b))
}

// Improves reports whether candidate beats best by more than tol (relative).
func Improves(candidate, best, tol float64) bool {
	if candidate <= best {
		return false
	}
	return RelativeChange(candidate, best) > tol
}
