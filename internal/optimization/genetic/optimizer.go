// Package genetic implements a generational genetic algorithm with roulette
// selection, uniform crossover, Gaussian mutation and single elitism.
package genetic

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

// Name is the canonical algorithm name.
const Name = "genetic_algorithm"

const (
	DefaultMutationRate     = 0.1
	DefaultMutationScale    = 0.1
	DefaultCrossoverRate    = 0.5
	DefaultStallGenerations = 15

	// selection weight of the worst and of failed individuals
	rouletteEpsilon = 1e-9
)

// Option configures a GeneticAlgorithmOptimizer.
type Option func(*GeneticAlgorithmOptimizer)

// WithMutationRate sets the per-gene mutation probability.
func WithMutationRate(p float64) Option {
	return func(ga *GeneticAlgorithmOptimizer) {
		ga.mutationRate = p
	}
}

// WithMutationScale sets the mutation standard deviation as a fraction of
// the parameter range.
func WithMutationScale(s float64) Option {
	return func(ga *GeneticAlgorithmOptimizer) {
		ga.mutationScale = s
	}
}

// WithCrossoverRate sets the probability that a gene comes from the first
// parent.
func WithCrossoverRate(p float64) Option {
	return func(ga *GeneticAlgorithmOptimizer) {
		ga.crossoverRate = p
	}
}

// WithStallGenerations sets how many generations without improvement end
// the run.
func WithStallGenerations(n int) Option {
	return func(ga *GeneticAlgorithmOptimizer) {
		ga.stallGenerations = n
	}
}

// GeneticAlgorithmOptimizer evolves a population of candidate points.
// Each generation is evaluated behind a barrier, optionally by several
// workers, before selection starts.
type GeneticAlgorithmOptimizer struct {
	problem optimization.Problem
	config  optimization.Config

	mutationRate     float64
	mutationScale    float64
	crossoverRate    float64
	stallGenerations int
}

// NewGeneticAlgorithmOptimizer creates a genetic optimizer for problem.
func NewGeneticAlgorithmOptimizer(problem optimization.Problem, config optimization.Config, opts ...Option) (*GeneticAlgorithmOptimizer, error) {
	const op = "NewGeneticAlgorithmOptimizer"

	cfg, err := optimization.Setup(problem, config)
	if err != nil {
		return nil, err
	}
	ga := &GeneticAlgorithmOptimizer{
		problem:          problem,
		config:           cfg,
		mutationRate:     DefaultMutationRate,
		mutationScale:    DefaultMutationScale,
		crossoverRate:    DefaultCrossoverRate,
		stallGenerations: DefaultStallGenerations,
	}
	for _, opt := range opts {
		opt(ga)
	}

	switch {
	case !isProbability(ga.mutationRate):
		return nil, optimization.NewConfigurationError(op, "mutation rate must be in [0, 1], got %v", ga.mutationRate)
	case !isProbability(ga.crossoverRate):
		return nil, optimization.NewConfigurationError(op, "crossover rate must be in [0, 1], got %v", ga.crossoverRate)
	case math.IsNaN(ga.mutationScale) || math.IsInf(ga.mutationScale, 0) || ga.mutationScale < 0:
		return nil, optimization.NewConfigurationError(op, "mutation scale must be a non-negative number, got %v", ga.mutationScale)
	case ga.stallGenerations < 1:
		return nil, optimization.NewConfigurationError(op, "stall generations must be positive, got %d", ga.stallGenerations)
	}
	return ga, nil
}

func isProbability(p float64) bool {
	return p >= 0 && p <= 1
}

// Name returns the canonical algorithm name.
func (ga *GeneticAlgorithmOptimizer) Name() string {
	return Name
}

// individual is a member of the population. Evaluated individuals keep
// their fitness so the elite is never evaluated twice.
type individual struct {
	genes     []float64
	fitness   float64
	evaluated bool
}

// Optimize evolves the population seeded with initial until the best
// fitness stalls, the generation cap is reached, or the run is aborted or
// cancelled. The convergence history holds the best-so-far per generation.
func (ga *GeneticAlgorithmOptimizer) Optimize(ctx context.Context, initial optimization.Vector) (*optimization.OptimizationResult, error) {
	space := ga.problem.Space()
	start, err := space.StartPoint(initial)
	if err != nil {
		return nil, err
	}

	run := optimization.NewRun(Name, ga.problem, ga.config)
	rng := run.Rand()
	logger := run.Logger()

	population := make([]individual, ga.config.PopulationSize)
	population[0] = individual{genes: start}
	for i := 1; i < len(population); i++ {
		population[i] = individual{genes: space.RandomPoint(rng)}
	}

	var (
		generations int
		stall       int
		converged   bool
		tracked     = math.Inf(-1)
	)
	for generations < ga.config.MaxIterations && !run.Stopped(ctx) {
		ga.evaluate(ctx, run, population)
		generations++
		run.RecordBest(generations)

		if optimization.Improves(run.BestFitness(), tracked, ga.config.Tolerance) {
			tracked = run.BestFitness()
			stall = 0
		} else {
			stall++
		}
		if stall >= ga.stallGenerations {
			converged = true
			logger.Debug("population stalled", zap.Int("generation", generations), zap.Int("stall", stall))
			break
		}
		if generations == ga.config.MaxIterations || run.Stopped(ctx) {
			break
		}
		population = ga.breed(space, rng, population)
	}

	return run.Finish(ctx, generations, converged), nil
}

// evaluate scores every individual that has no fitness yet.
func (ga *GeneticAlgorithmOptimizer) evaluate(ctx context.Context, run *optimization.Run, population []individual) {
	var (
		pending [][]float64
		index   []int
	)
	for i, ind := range population {
		if !ind.evaluated {
			pending = append(pending, ind.genes)
			index = append(index, i)
		}
	}

	for k, ev := range run.EvaluateAll(ctx, pending) {
		ind := &population[index[k]]
		ind.genes = ev.Point
		ind.fitness = ev.Fitness
		ind.evaluated = !ev.Skipped()
	}
}

// breed produces the next generation: the elite unchanged, then children
// of roulette-selected parents.
func (ga *GeneticAlgorithmOptimizer) breed(space *optimization.ParameterSpace, rng *rand.Rand, population []individual) []individual {
	next := make([]individual, 0, len(population))
	next = append(next, population[elite(population)])

	weights := rouletteWeights(population)
	for len(next) < len(population) {
		a := population[spin(rng, weights)]
		b := population[spin(rng, weights)]
		child := ga.crossover(rng, a.genes, b.genes)
		ga.mutate(space, rng, child)
		clamped, _ := space.ClampPoint(child)
		next = append(next, individual{genes: clamped})
	}
	return next
}

func (ga *GeneticAlgorithmOptimizer) crossover(rng *rand.Rand, a, b []float64) []float64 {
	child := make([]float64, len(a))
	for i := range child {
		if rng.Float64() < ga.crossoverRate {
			child[i] = a[i]
		} else {
			child[i] = b[i]
		}
	}
	return child
}

func (ga *GeneticAlgorithmOptimizer) mutate(space *optimization.ParameterSpace, rng *rand.Rand, genes []float64) {
	for i := range genes {
		if rng.Float64() < ga.mutationRate {
			genes[i] += rng.NormFloat64() * ga.mutationScale * space.Parameter(i).Range()
		}
	}
}

// elite returns the index of the fittest individual, the first on ties.
func elite(population []individual) int {
	best := 0
	for i, ind := range population {
		if ind.fitness > population[best].fitness {
			best = i
		}
	}
	return best
}

// rouletteWeights returns f + |min f| + rouletteEpsilon per individual,
// where min is taken over successful individuals. Failed individuals get
// rouletteEpsilon.
func rouletteWeights(population []individual) []float64 {
	lowest := math.Inf(1)
	for _, ind := range population {
		if !math.IsInf(ind.fitness, -1) {
			lowest = math.Min(lowest, ind.fitness)
		}
	}

	weights := make([]float64, len(population))
	for i, ind := range population {
		if math.IsInf(ind.fitness, -1) || math.IsInf(lowest, 1) {
			weights[i] = rouletteEpsilon
			continue
		}
		weights[i] = ind.fitness + math.Abs(lowest) + rouletteEpsilon
	}
	return weights
}

// spin draws an index with probability proportional to its weight.
func spin(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(weights) - 1
}
