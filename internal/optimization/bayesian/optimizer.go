// Package bayesian implements Bayesian optimization with a Gaussian-process
// surrogate and the Expected Improvement acquisition function.
package bayesian

import (
	"context"
	"math"
	"math/rand"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/paramopt/internal/optimization"
	"github.com/copyleftdev/paramopt/internal/optimization/acquisition"
	"github.com/copyleftdev/paramopt/internal/optimization/kernels"
)

// Name is the canonical algorithm name.
const Name = "bayesian"

const (
	DefaultInitialPoints = 5
	DefaultCandidates    = 200
	DefaultLengthScale   = 0.25
	DefaultNoise         = 1e-6

	// iterations inspected when deciding whether the run has converged
	plateauWindow = 5
)

// Surrogate kernels selectable with WithKernel.
const (
	KernelMatern52 = "matern52"
	KernelRBF      = "rbf"
)

// Option configures a BayesianOptimizer.
type Option func(*BayesianOptimizer)

// WithInitialPoints sets the size of the Latin-hypercube design evaluated
// before the surrogate is used.
func WithInitialPoints(n int) Option {
	return func(bo *BayesianOptimizer) {
		bo.initialPoints = n
	}
}

// WithCandidates sets how many random candidates are scored per iteration.
func WithCandidates(n int) Option {
	return func(bo *BayesianOptimizer) {
		bo.candidates = n
	}
}

// WithXi sets the exploration margin of Expected Improvement.
func WithXi(xi float64) Option {
	return func(bo *BayesianOptimizer) {
		bo.xi = xi
	}
}

// WithKernel selects the surrogate covariance, KernelMatern52 or KernelRBF.
// Names are case-insensitive; an empty name keeps the default.
func WithKernel(name string) Option {
	return func(bo *BayesianOptimizer) {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			bo.kernel = name
		}
	}
}

// WithLengthScale sets the kernel length scale in unit-cube coordinates.
func WithLengthScale(l float64) Option {
	return func(bo *BayesianOptimizer) {
		bo.lengthScale = l
	}
}

// BayesianOptimizer implements Bayesian Optimization
type BayesianOptimizer struct {
	problem optimization.Problem
	config  optimization.Config

	initialPoints int
	candidates    int
	xi            float64
	kernel        string
	lengthScale   float64
}

// NewBayesianOptimizer creates a new Bayesian Optimizer
func NewBayesianOptimizer(problem optimization.Problem, config optimization.Config, opts ...Option) (*BayesianOptimizer, error) {
	const op = "NewBayesianOptimizer"

	cfg, err := optimization.Setup(problem, config)
	if err != nil {
		return nil, err
	}
	bo := &BayesianOptimizer{
		problem:       problem,
		config:        cfg,
		initialPoints: DefaultInitialPoints,
		candidates:    DefaultCandidates,
		kernel:        KernelMatern52,
		lengthScale:   DefaultLengthScale,
	}
	for _, opt := range opts {
		opt(bo)
	}

	switch {
	case bo.initialPoints < 0:
		return nil, optimization.NewConfigurationError(op, "initial points must not be negative, got %d", bo.initialPoints)
	case bo.candidates < 1:
		return nil, optimization.NewConfigurationError(op, "candidates must be positive, got %d", bo.candidates)
	case math.IsNaN(bo.xi) || bo.xi < 0:
		return nil, optimization.NewConfigurationError(op, "xi must be a non-negative number, got %v", bo.xi)
	}
	if _, err := bo.newKernel(); err != nil {
		return nil, optimization.WrapError(err, op)
	}
	return bo, nil
}

func (bo *BayesianOptimizer) newKernel() (kernels.Kernel, error) {
	switch bo.kernel {
	case KernelMatern52:
		return kernels.NewMatern52Kernel(bo.lengthScale, 1)
	case KernelRBF:
		return kernels.NewRBFKernel(bo.lengthScale, 1)
	default:
		return nil, optimization.NewConfigurationError("BayesianOptimizer.newKernel",
			"unknown kernel %q, expected %q or %q", bo.kernel, KernelMatern52, KernelRBF)
	}
}

// Name returns the canonical algorithm name.
func (bo *BayesianOptimizer) Name() string {
	return Name
}

// observations are the successful evaluations in unit-cube coordinates.
type observations struct {
	u [][]float64
	y []float64
}

func (o *observations) add(space *optimization.ParameterSpace, ev optimization.Evaluation) {
	if ev.Failed() {
		return
	}
	o.u = append(o.u, space.Normalize(ev.Point))
	o.y = append(o.y, ev.Fitness)
}

func (o *observations) best() float64 {
	best := math.Inf(-1)
	for _, v := range o.y {
		best = math.Max(best, v)
	}
	return best
}

// Optimize runs the Bayesian Optimization process. Every iteration spends
// exactly one evaluation: first the initial vector, then the
// Latin-hypercube design, then points proposed by the surrogate.
func (bo *BayesianOptimizer) Optimize(ctx context.Context, initial optimization.Vector) (*optimization.OptimizationResult, error) {
	space := bo.problem.Space()
	start, err := space.StartPoint(initial)
	if err != nil {
		return nil, err
	}

	run := optimization.NewRun(Name, bo.problem, bo.config)
	rng := run.Rand()

	kernel, err := bo.newKernel()
	if err != nil {
		return nil, optimization.WrapError(err, "BayesianOptimizer.Optimize")
	}
	gp := NewGP(kernel, DefaultNoise, run.Logger())

	design := append([][]float64{start}, bo.latinHypercubeSample(space, rng, bo.initialPoints)...)

	var (
		obs        observations
		bestTrace  []float64
		iterations int
	)
	for iterations < bo.config.MaxIterations && !run.Stopped(ctx) {
		var x []float64
		if iterations < len(design) {
			x = design[iterations]
		} else {
			x = bo.propose(gp, space, rng, &obs, run.Logger())
		}

		ev := run.Evaluate(ctx, x)
		obs.add(space, ev)
		iterations++

		run.Record(iterations, ev.Point, ev.Fitness, ev.Metrics)
		bestTrace = append(bestTrace, run.BestFitness())
	}

	return run.Finish(ctx, iterations, plateaued(bestTrace, bo.config.Tolerance)), nil
}

// plateaued reports whether the best fitness improved by less than tol over
// the last plateauWindow iterations.
func plateaued(trace []float64, tol float64) bool {
	if len(trace) <= plateauWindow {
		return false
	}
	last := trace[len(trace)-1]
	if math.IsInf(last, -1) {
		return false
	}
	return optimization.RelativeChange(last, trace[len(trace)-1-plateauWindow]) < tol
}

// propose returns the next point to evaluate by maximizing Expected
// Improvement over the surrogate. Without a usable surrogate it falls back
// to a uniform random point.
func (bo *BayesianOptimizer) propose(gp *GP, space *optimization.ParameterSpace, rng *rand.Rand, obs *observations, logger *zap.Logger) []float64 {
	dims := space.Dimensionality()

	// draw candidates first so the random stream does not depend on the fit
	candidates := make([][]float64, bo.candidates)
	for i := range candidates {
		c := make([]float64, dims)
		for j := range c {
			c[j] = rng.Float64()
		}
		candidates[i] = c
	}

	if len(obs.y) < 2 {
		return space.Denormalize(candidates[0])
	}

	X := mat.NewDense(len(obs.u), dims, nil)
	for i, u := range obs.u {
		X.SetRow(i, u)
	}
	if err := gp.Fit(X, obs.y); err != nil {
		logger.Debug("surrogate fit failed, using random candidate", zap.Error(err))
		return space.Denormalize(candidates[0])
	}

	ei := acquisition.NewExpectedImprovement(obs.best(), bo.xi)
	score := func(u []float64) float64 {
		mu, sigma, err := gp.PredictPoint(u)
		if err != nil {
			return 0
		}
		return ei.Compute(mu, sigma)
	}

	bestU := candidates[0]
	bestScore := score(bestU)
	for _, c := range candidates[1:] {
		if s := score(c); s > bestScore {
			bestU, bestScore = c, s
		}
	}

	if bestScore > 0 {
		if u, s := bo.polish(score, bestU); s > bestScore {
			bestU, bestScore = u, s
		}
	}
	logger.Debug("proposed point",
		zap.Float64("incumbent", ei.Best()),
		zap.Float64("expected_improvement", bestScore),
	)
	return space.Denormalize(bestU)
}

// polish refines a candidate with a short Nelder-Mead search over the unit
// cube and returns the refined point with its acquisition value.
func (bo *BayesianOptimizer) polish(score func([]float64) float64, start []float64) ([]float64, float64) {
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			return -score(clampUnit(u))
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 100,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 20,
		},
	}
	method := &optimize.NelderMead{SimplexSize: 0.05}

	// a search stopped by a limit still reports its best location
	result, _ := optimize.Minimize(problem, append([]float64(nil), start...), settings, method)
	if result == nil || result.X == nil {
		return start, math.Inf(-1)
	}
	u := clampUnit(result.X)
	return u, score(u)
}

func clampUnit(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}

// latinHypercubeSample generates n points using Latin Hypercube Sampling
func (bo *BayesianOptimizer) latinHypercubeSample(space *optimization.ParameterSpace, rng *rand.Rand, n int) [][]float64 {
	if n == 0 {
		return nil
	}
	nDims := space.Dimensionality()
	unit := make([][]float64, n)
	for j := range unit {
		unit[j] = make([]float64, nDims)
	}

	for i := 0; i < nDims; i++ {
		// one stratified sample per interval, shuffled across points
		strata := make([]float64, n)
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})
		for j := 0; j < n; j++ {
			unit[j][i] = strata[j]
		}
	}

	samples := make([][]float64, n)
	for j, u := range unit {
		samples[j] = space.Denormalize(u)
	}
	return samples
}
