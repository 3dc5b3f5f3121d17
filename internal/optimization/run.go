package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errAborted = errors.New("consecutive failure threshold reached")
	errSkipped = errors.New("evaluation skipped")
)

// Evaluation is the outcome of evaluating one candidate point.
type Evaluation struct {
	// Point is the clamped point that was evaluated.
	Point []float64
	// Metrics returned by the evaluator; nil on failure.
	Metrics Metrics
	// Fitness is the objective score minus the constraint penalty, or -Inf
	// when the evaluation failed.
	Fitness float64
	// Penalty subtracted for constraint violations.
	Penalty float64
	// Violations corrected by clamping.
	Violations []ConstraintViolation
	// Err is set when the evaluation failed.
	Err error
}

// Failed reports whether the evaluation produced no usable fitness.
func (e Evaluation) Failed() bool {
	return e.Err != nil
}

// Skipped reports whether the evaluation never ran because the run stopped.
func (e Evaluation) Skipped() bool {
	return errors.Is(e.Err, errSkipped)
}

// Run holds the bookkeeping every optimizer shares: evaluation through the
// constraint set, failure counting, best-so-far tracking and the bounded
// convergence history. A Run belongs to a single Optimize call.
type Run struct {
	algorithm string
	problem   Problem
	cfg       Config
	logger    *zap.Logger
	rng       *rand.Rand
	started   time.Time

	history    *history[IterationRecord]
	violations *history[ConstraintViolation]

	evaluations int
	failed      int
	consecutive int
	aborted     bool
	lastErr     error

	best     Evaluation
	hasBest  bool
	fallback []float64
}

// NewRun starts the bookkeeping for one optimization run. cfg must already
// carry its defaults.
func NewRun(algorithm string, problem Problem, cfg Config) *Run {
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Run{
		algorithm:   algorithm,
		problem:     problem,
		cfg:         cfg,
		logger:      cfg.Logger.Named(algorithm),
		rng:         rand.New(rand.NewSource(seed)),
		started:     time.Now(),
		history:     newHistory[IterationRecord](cfg.HistoryLimit),
		violations:  newHistory[ConstraintViolation](cfg.HistoryLimit),
		consecutive: cfg.PriorFailures,
		best:        Evaluation{Fitness: math.Inf(-1)},
	}
}

// Space returns the run's parameter space.
func (r *Run) Space() *ParameterSpace {
	return r.problem.Space()
}

// Config returns the run configuration.
func (r *Run) Config() Config {
	return r.cfg
}

// Logger returns the run's named logger.
func (r *Run) Logger() *zap.Logger {
	return r.logger
}

// Rand returns the run's random source. It must only be used from the
// optimizer's own goroutine.
func (r *Run) Rand() *rand.Rand {
	return r.rng
}

// Aborted reports whether the consecutive-failure threshold was reached.
func (r *Run) Aborted() bool {
	return r.aborted
}

// Stopped reports whether the run must end at this iteration boundary.
func (r *Run) Stopped(ctx context.Context) bool {
	return r.aborted || ctx.Err() != nil
}

// Best returns the best successful evaluation so far.
func (r *Run) Best() (Evaluation, bool) {
	return r.best, r.hasBest
}

// BestFitness returns the best fitness so far, -Inf if nothing succeeded.
func (r *Run) BestFitness() float64 {
	return r.best.Fitness
}

// Evaluate evaluates one candidate and updates the bookkeeping.
func (r *Run) Evaluate(ctx context.Context, x []float64) Evaluation {
	ev := r.evaluate(ctx, x)
	r.account(ev)
	return ev
}

// EvaluateAll evaluates a generation of candidates. With more than one
// worker the evaluations run concurrently; all of them complete before
// EvaluateAll returns and the bookkeeping is applied in index order, so the
// outcome does not depend on completion order. Candidates that were not
// evaluated because the run aborted or was cancelled are returned as
// skipped failures.
func (r *Run) EvaluateAll(ctx context.Context, points [][]float64) []Evaluation {
	out := make([]Evaluation, len(points))
	done := make([]bool, len(points))

	if r.cfg.Workers <= 1 {
		for i, x := range points {
			if r.Stopped(ctx) {
				break
			}
			out[i] = r.Evaluate(ctx, x)
			done[i] = true
		}
	} else {
		var mu sync.Mutex
		consecutive := r.consecutive
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Workers)
		for i, x := range points {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				ev := r.evaluate(gctx, x)

				mu.Lock()
				defer mu.Unlock()
				out[i] = ev
				done[i] = true
				if !ev.Failed() {
					consecutive = 0
					return nil
				}
				consecutive++
				if consecutive >= r.cfg.MaxConsecutiveFailures {
					return errAborted
				}
				return nil
			})
		}
		if err := g.Wait(); errors.Is(err, errAborted) {
			r.aborted = true
		}
		for i := range points {
			if done[i] {
				r.account(out[i])
			}
		}
	}

	for i, x := range points {
		if !done[i] {
			clamped, _ := r.Space().ClampPoint(x)
			out[i] = Evaluation{Point: clamped, Fitness: math.Inf(-1), Err: errSkipped}
		}
	}
	return out
}

// Record appends an iteration record and reports it to the progress callback.
func (r *Run) Record(iteration int, x []float64, fitness float64, metrics Metrics) {
	rec := IterationRecord{
		Iteration:  iteration,
		Parameters: r.Space().Vector(x),
		Fitness:    fitness,
		Metrics:    metrics.Clone(),
	}
	r.history.add(rec)

	r.logger.Debug("iteration",
		zap.Int("iteration", iteration),
		zap.Float64("fitness", fitness),
		zap.Float64("best_fitness", r.best.Fitness),
	)

	if r.cfg.Progress != nil {
		progress := rec
		progress.Parameters = rec.Parameters.Clone()
		progress.Metrics = rec.Metrics.Clone()
		r.cfg.Progress(progress)
	}
}

// RecordBest appends the best-so-far point as the record of an iteration.
func (r *Run) RecordBest(iteration int) {
	if !r.hasBest {
		x := r.fallback
		if x == nil {
			x = r.Space().Midpoint()
		}
		r.Record(iteration, x, math.Inf(-1), nil)
		return
	}
	r.Record(iteration, r.best.Point, r.best.Fitness, r.best.Metrics)
}

// Finish builds the terminal result. The status is derived from the context,
// the abort flag and converged, in that order.
func (r *Run) Finish(ctx context.Context, iterations int, converged bool) *OptimizationResult {
	var (
		status Status
		note   string
	)
	switch {
	case ctx.Err() != nil:
		status = StatusCancelled
		note = fmt.Sprintf("cancelled: %v", ctx.Err())
	case r.aborted:
		status = StatusAborted
		note = fmt.Sprintf("aborted after %d consecutive failed evaluations: %v", r.cfg.MaxConsecutiveFailures, r.lastErr)
	case converged:
		status = StatusConverged
	default:
		status = StatusMaxIterations
		note = fmt.Sprintf("iteration cap of %d reached without meeting tolerance %g", r.cfg.MaxIterations, r.cfg.Tolerance)
	}

	x := r.best.Point
	if !r.hasBest {
		x = r.fallback
		if x == nil {
			x = r.Space().Midpoint()
		}
	}

	result := &OptimizationResult{
		Algorithm:            r.algorithm,
		Success:              status == StatusConverged,
		Status:               status,
		OptimizedParameters:  r.Space().Vector(x),
		ObjectiveValue:       r.best.Fitness,
		Metrics:              r.best.Metrics.Clone(),
		Iterations:           iterations,
		Evaluations:          r.evaluations,
		FailedEvaluations:    r.failed,
		ConvergenceHistory:   r.history.snapshot(),
		ConstraintViolations: r.violations.snapshot(),
		TotalViolations:      r.violations.total,
		Note:                 note,
		Duration:             time.Since(r.started),
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("iterations", iterations),
		zap.Int("evaluations", r.evaluations),
		zap.Int("failed_evaluations", r.failed),
		zap.Float64("objective_value", r.best.Fitness),
	}
	if status == StatusAborted {
		r.logger.Warn("optimization aborted", append(fields, zap.Error(r.lastErr))...)
	} else {
		r.logger.Info("optimization finished", fields...)
	}
	return result
}

// evaluate clamps, evaluates and scores x without touching shared state, so
// it may run concurrently.
func (r *Run) evaluate(ctx context.Context, x []float64) Evaluation {
	clamped, violations, penalty := r.problem.Constraints.Apply(x)
	ev := Evaluation{
		Point:      clamped,
		Penalty:    penalty,
		Violations: violations,
		Fitness:    math.Inf(-1),
	}

	metrics, err := r.call(ctx, r.Space().Vector(clamped))
	if err != nil {
		ev.Err = err
		return ev
	}
	score, err := r.problem.Objective.Score(metrics)
	if err != nil {
		ev.Err = err
		return ev
	}
	if math.IsInf(score, 0) {
		ev.Err = NewEvaluationError("Run.evaluate", nil, "objective score is %v", score)
		return ev
	}

	fitness := score - penalty
	if math.IsInf(fitness, 0) || math.IsNaN(fitness) {
		ev.Err = NewEvaluationError("Run.evaluate", nil, "score %v with penalty %v gives a non-finite fitness", score, penalty)
		return ev
	}

	ev.Metrics = metrics.Clone()
	ev.Fitness = fitness
	return ev
}

// call invokes the evaluator, converting a panic into an evaluation error.
func (r *Run) call(ctx context.Context, v Vector) (m Metrics, err error) {
	const op = "Evaluator.Evaluate"

	defer func() {
		if rec := recover(); rec != nil {
			err = NewEvaluationError(op, fmt.Errorf("%v", rec), "evaluator panicked")
		}
	}()

	m, err = r.problem.Evaluator.Evaluate(ctx, v)
	if err != nil {
		return nil, NewEvaluationError(op, err, "evaluator failed")
	}
	if m == nil {
		return nil, NewEvaluationError(op, nil, "evaluator returned no metrics")
	}
	return m, nil
}

func (r *Run) account(ev Evaluation) {
	r.evaluations++
	if r.fallback == nil {
		r.fallback = append([]float64(nil), ev.Point...)
	}
	for _, v := range ev.Violations {
		r.violations.add(v)
	}

	if ev.Failed() {
		r.failed++
		r.consecutive++
		r.lastErr = ev.Err
		r.logger.Debug("evaluation failed",
			zap.Int("consecutive_failures", r.consecutive),
			zap.Error(ev.Err),
		)
		if r.consecutive >= r.cfg.MaxConsecutiveFailures {
			r.aborted = true
		}
		return
	}

	r.consecutive = 0
	if !r.hasBest || ev.Fitness > r.best.Fitness {
		r.best = Evaluation{
			Point:   append([]float64(nil), ev.Point...),
			Metrics: ev.Metrics,
			Fitness: ev.Fitness,
			Penalty: ev.Penalty,
		}
		r.hasBest = true
	}
}
