// Package orchestrator validates optimization requests, runs the selected
// algorithm and attaches post-hoc diagnostics to the result.
package orchestrator

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/paramopt/internal/metrics"
	"github.com/copyleftdev/paramopt/internal/optimization"
)

// SensitivityStep is the step distance of the sensitivity estimate as a
// fraction of each parameter range.
const SensitivityStep = 0.01

// Params overrides the orchestrator's default run configuration. Zero
// fields keep the default. Kernel selects the surrogate of the bayesian
// algorithm, matern52 or rbf, and is ignored by the others.
type Params struct {
	MaxIterations          int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	ConvergenceTolerance   float64 `json:"convergence_tolerance,omitempty" yaml:"convergence_tolerance,omitempty"`
	PopulationSize         int     `json:"population_size,omitempty" yaml:"population_size,omitempty"`
	Workers                int     `json:"workers,omitempty" yaml:"workers,omitempty"`
	RandomSeed             int64   `json:"random_seed,omitempty" yaml:"random_seed,omitempty"`
	HistoryLimit           int     `json:"history_limit,omitempty" yaml:"history_limit,omitempty"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures,omitempty" yaml:"max_consecutive_failures,omitempty"`
	Kernel                 string  `json:"kernel,omitempty" yaml:"kernel,omitempty"`
}

// Request describes one optimization run.
type Request struct {
	// Algorithm name or alias, case-insensitive
	Algorithm string
	// Space to search; may be omitted when Constraints is set
	Space *optimization.ParameterSpace
	// Objective turning metrics into fitness
	Objective *optimization.Objective
	// Constraints of the space; defaults to its bounds with the default penalty
	Constraints *optimization.ConstraintSet
	// Initial parameters; missing names start at the range midpoint
	Initial optimization.Vector
	// Evaluator supplied by the caller
	Evaluator optimization.Evaluator
	// Params overriding the defaults
	Params Params
	// Progress is called once per iteration
	Progress optimization.ProgressFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger passed to the optimizers.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the Prometheus collector that observes every run.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

// WithDefaults sets the run configuration used where a request leaves
// Params zero.
func WithDefaults(cfg optimization.Config) Option {
	return func(o *Orchestrator) {
		o.defaults = cfg
	}
}

// WithAlgorithm registers an additional algorithm under name and aliases.
func WithAlgorithm(name string, f Factory, aliases ...string) Option {
	return func(o *Orchestrator) {
		o.registry.register(name, f, aliases...)
	}
}

// Orchestrator runs optimization requests. It holds no per-run state and
// may serve concurrent runs.
type Orchestrator struct {
	logger   *zap.Logger
	metrics  *metrics.Collector
	defaults optimization.Config
	registry *registry
}

// New creates an orchestrator with the built-in algorithms.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   zap.NewNop(),
		registry: newRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Algorithms returns the canonical names of the registered algorithms.
func (o *Orchestrator) Algorithms() []string {
	return o.registry.names()
}

// Run validates req, runs the selected algorithm and returns its result with
// the sensitivity estimate and target report attached. Configuration
// mistakes are returned as errors before any evaluation; failed or aborted
// runs are reported through the result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*optimization.OptimizationResult, error) {
	const op = "Orchestrator.Run"

	name, factory, err := o.registry.resolve(req.Algorithm)
	if err != nil {
		return nil, err
	}
	problem, err := o.problem(req)
	if err != nil {
		return nil, err
	}
	if err := problem.Space().Validate(req.Initial); err != nil {
		return nil, err
	}

	cfg := o.config(req.Params)
	cfg.Progress = req.Progress
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.Named("orchestrator").With(zap.String("algorithm", name))

	if problem.Objective.NeedsCalibration() {
		calibration := optimization.NewRun(name, problem, cfg.WithDefaults())
		objective, failed := o.calibrate(ctx, calibration, problem, req.Initial, logger)
		if calibration.Aborted() {
			return o.report(calibration.Finish(ctx, 0, false), logger), nil
		}
		problem.Objective = objective
		if failed {
			cfg.PriorFailures = 1
		}
	}

	optimizer, err := factory(problem, cfg, req.Params)
	if err != nil {
		return nil, err
	}

	logger.Info("optimization started",
		zap.Int("dimensions", problem.Space().Dimensionality()),
		zap.Float64("penalty_weight", problem.Constraints.PenaltyWeight()),
		zap.Int("targets", len(problem.Objective.Targets())),
		zap.Int("max_iterations", cfg.MaxIterations),
		zap.Int("workers", cfg.Workers),
	)

	result, err := optimizer.Optimize(ctx, req.Initial)
	if err != nil {
		return nil, optimization.WrapError(err, op)
	}

	var sensitivity map[string]float64
	if result.Status == optimization.StatusConverged || result.Status == optimization.StatusMaxIterations {
		sensitivity = o.sensitivity(ctx, problem, cfg, result)
	}
	result = result.WithDiagnostics(sensitivity, problem.Objective.TargetsMet(result.Metrics))
	return o.report(result, logger), nil
}

// report records a finished run in the metrics and the log.
func (o *Orchestrator) report(result *optimization.OptimizationResult, logger *zap.Logger) *optimization.OptimizationResult {
	o.metrics.ObserveRun(result)

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Bool("success", result.Success),
		zap.Float64("objective_value", result.ObjectiveValue),
		zap.Int("iterations", result.Iterations),
		zap.Int("evaluations", result.Evaluations),
		zap.Duration("duration", result.Duration),
	}
	if result.Note != "" {
		fields = append(fields, zap.String("note", result.Note))
	}
	if result.Status == optimization.StatusAborted {
		logger.Warn("optimization finished", fields...)
	} else {
		logger.Info("optimization finished", fields...)
	}
	return result
}

func (o *Orchestrator) problem(req Request) (optimization.Problem, error) {
	const op = "Orchestrator.Run"

	space := req.Space
	constraints := req.Constraints
	switch {
	case space == nil && constraints == nil:
		return optimization.Problem{}, optimization.NewConfigurationError(op, "parameter space is required")
	case space == nil:
		space = constraints.Space()
	case constraints == nil:
		var err error
		if constraints, err = optimization.NewConstraintSet(space); err != nil {
			return optimization.Problem{}, err
		}
	case constraints.Space() != space:
		return optimization.Problem{}, optimization.NewConfigurationError(op, "constraints were built for a different parameter space")
	}

	problem := optimization.Problem{
		Constraints: constraints,
		Objective:   req.Objective,
		Evaluator:   req.Evaluator,
	}
	return problem, problem.Validate()
}

func (o *Orchestrator) config(p Params) optimization.Config {
	cfg := o.defaults
	if p.MaxIterations != 0 {
		cfg.MaxIterations = p.MaxIterations
	}
	if p.ConvergenceTolerance != 0 {
		cfg.Tolerance = p.ConvergenceTolerance
	}
	if p.PopulationSize != 0 {
		cfg.PopulationSize = p.PopulationSize
	}
	if p.Workers != 0 {
		cfg.Workers = p.Workers
	}
	if p.RandomSeed != 0 {
		cfg.RandomSeed = p.RandomSeed
	}
	if p.HistoryLimit != 0 {
		cfg.HistoryLimit = p.HistoryLimit
	}
	if p.MaxConsecutiveFailures != 0 {
		cfg.MaxConsecutiveFailures = p.MaxConsecutiveFailures
	}
	cfg.Logger = o.logger
	return cfg
}

// calibrate fixes the auto-detected MULTI scales from one evaluation at the
// clamped initial point. Metrics the evaluation could not provide keep
// scale 1. The evaluation is made on the optimizer's run budget, so a
// failure counts toward its consecutive-failure limit.
func (o *Orchestrator) calibrate(ctx context.Context, run *optimization.Run, problem optimization.Problem, initial optimization.Vector, logger *zap.Logger) (*optimization.Objective, bool) {
	ev := run.Evaluate(ctx, problem.Space().Point(initial))
	if ev.Failed() {
		logger.Warn("objective calibration failed, using unit scales", zap.Error(ev.Err))
	}
	calibrated := problem.Objective.Calibrate(ev.Metrics)
	for _, t := range calibrated.Terms() {
		logger.Debug("calibrated objective term", zap.String("metric", t.Metric), zap.Float64("scale", t.Scale))
	}
	return calibrated, ev.Failed()
}

// sensitivity estimates d(fitness)/d(parameter) scaled by the parameter
// range at the optimum. Each parameter is stepped forward by SensitivityStep
// of its range, or backward at the upper bound. Failed steps are omitted.
func (o *Orchestrator) sensitivity(ctx context.Context, problem optimization.Problem, cfg optimization.Config, result *optimization.OptimizationResult) map[string]float64 {
	if ctx.Err() != nil || result.Metrics == nil {
		return nil
	}
	base, err := problem.Objective.Score(result.Metrics)
	if err != nil {
		return nil
	}

	space := problem.Space()
	optimum := space.Point(result.OptimizedParameters)

	sampleCfg := cfg.WithDefaults()
	sampleCfg.MaxConsecutiveFailures = math.MaxInt
	sampleCfg.Progress = nil
	run := optimization.NewRun("sensitivity", problem, sampleCfg)

	out := make(map[string]float64, len(optimum))
	for i, p := range space.Parameters() {
		if ctx.Err() != nil {
			break
		}
		step := SensitivityStep * p.Range()
		shifted := append([]float64(nil), optimum...)
		shifted[i] = optimum[i] + step
		if shifted[i] > p.Max {
			shifted[i] = optimum[i] - step
		}

		ev := run.Evaluate(ctx, shifted)
		if ev.Failed() {
			continue
		}
		out[p.Name] = (ev.Fitness - base) / (shifted[i] - optimum[i]) * p.Range()
	}
	return out
}
