// Package swarm implements global-best particle swarm optimization.
package swarm

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

// Name is the canonical algorithm name.
const Name = "particle_swarm"

const (
	DefaultInertia          = 0.7
	DefaultCognitive        = 1.5
	DefaultSocial           = 1.5
	DefaultVelocityLimit    = 0.5
	DefaultStallIterations  = 15
	initialVelocityFraction = 0.1
)

// Option configures a ParticleSwarmOptimizer.
type Option func(*ParticleSwarmOptimizer)

// WithCoefficients sets the inertia weight and the cognitive and social
// acceleration coefficients.
func WithCoefficients(inertia, cognitive, social float64) Option {
	return func(pso *ParticleSwarmOptimizer) {
		pso.inertia = inertia
		pso.cognitive = cognitive
		pso.social = social
	}
}

// WithVelocityLimit sets the largest velocity component as a fraction of
// the parameter range.
func WithVelocityLimit(fraction float64) Option {
	return func(pso *ParticleSwarmOptimizer) {
		pso.velocityLimit = fraction
	}
}

// WithStallIterations sets how many iterations without improvement of the
// global best end the run.
func WithStallIterations(n int) Option {
	return func(pso *ParticleSwarmOptimizer) {
		pso.stallIterations = n
	}
}

// ParticleSwarmOptimizer moves a swarm of particles towards their personal
// and the global best positions. All random draws of an iteration happen
// before its evaluations, so concurrent evaluation does not change the
// outcome.
type ParticleSwarmOptimizer struct {
	problem optimization.Problem
	config  optimization.Config

	inertia         float64
	cognitive       float64
	social          float64
	velocityLimit   float64
	stallIterations int
}

// NewParticleSwarmOptimizer creates a swarm optimizer for problem.
func NewParticleSwarmOptimizer(problem optimization.Problem, config optimization.Config, opts ...Option) (*ParticleSwarmOptimizer, error) {
	const op = "NewParticleSwarmOptimizer"

	cfg, err := optimization.Setup(problem, config)
	if err != nil {
		return nil, err
	}
	pso := &ParticleSwarmOptimizer{
		problem:         problem,
		config:          cfg,
		inertia:         DefaultInertia,
		cognitive:       DefaultCognitive,
		social:          DefaultSocial,
		velocityLimit:   DefaultVelocityLimit,
		stallIterations: DefaultStallIterations,
	}
	for _, opt := range opts {
		opt(pso)
	}

	for _, c := range []float64{pso.inertia, pso.cognitive, pso.social} {
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return nil, optimization.NewConfigurationError(op, "coefficients must be non-negative numbers, got %v, %v, %v", pso.inertia, pso.cognitive, pso.social)
		}
	}
	if math.IsNaN(pso.velocityLimit) || pso.velocityLimit <= 0 || pso.velocityLimit > 1 {
		return nil, optimization.NewConfigurationError(op, "velocity limit must be in (0, 1], got %v", pso.velocityLimit)
	}
	if pso.stallIterations < 1 {
		return nil, optimization.NewConfigurationError(op, "stall iterations must be positive, got %d", pso.stallIterations)
	}
	return pso, nil
}

// Name returns the canonical algorithm name.
func (pso *ParticleSwarmOptimizer) Name() string {
	return Name
}

type particle struct {
	position    []float64
	velocity    []float64
	best        []float64
	bestFitness float64
}

// Optimize flies the swarm seeded with initial until the global best
// stalls, the iteration cap is reached, or the run is aborted or
// cancelled. The convergence history holds the global best per iteration.
func (pso *ParticleSwarmOptimizer) Optimize(ctx context.Context, initial optimization.Vector) (*optimization.OptimizationResult, error) {
	space := pso.problem.Space()
	start, err := space.StartPoint(initial)
	if err != nil {
		return nil, err
	}

	run := optimization.NewRun(Name, pso.problem, pso.config)
	rng := run.Rand()
	logger := run.Logger()

	swarm := make([]particle, pso.config.PopulationSize)
	for i := range swarm {
		position := start
		if i > 0 {
			position = space.RandomPoint(rng)
		}
		velocity := make([]float64, len(position))
		for d := range velocity {
			r := space.Parameter(d).Range()
			velocity[d] = (2*rng.Float64() - 1) * initialVelocityFraction * r
		}
		swarm[i] = particle{
			position:    append([]float64(nil), position...),
			velocity:    velocity,
			bestFitness: math.Inf(-1),
		}
	}

	var (
		iterations int
		stall      int
		converged  bool
		tracked    = math.Inf(-1)
	)
	for iterations < pso.config.MaxIterations && !run.Stopped(ctx) {
		pso.evaluate(ctx, run, swarm)
		iterations++
		run.RecordBest(iterations)

		if optimization.Improves(run.BestFitness(), tracked, pso.config.Tolerance) {
			tracked = run.BestFitness()
			stall = 0
		} else {
			stall++
		}
		if stall >= pso.stallIterations {
			converged = true
			logger.Debug("swarm stalled", zap.Int("iteration", iterations), zap.Int("stall", stall))
			break
		}
		if iterations == pso.config.MaxIterations || run.Stopped(ctx) {
			break
		}

		var global []float64
		if best, ok := run.Best(); ok {
			global = best.Point
		}
		pso.move(space, rng, swarm, global)
	}

	return run.Finish(ctx, iterations, converged), nil
}

// evaluate scores every particle and updates the personal bests.
func (pso *ParticleSwarmOptimizer) evaluate(ctx context.Context, run *optimization.Run, swarm []particle) {
	positions := make([][]float64, len(swarm))
	for i := range swarm {
		positions[i] = swarm[i].position
	}

	for i, ev := range run.EvaluateAll(ctx, positions) {
		p := &swarm[i]
		p.position = ev.Point
		if !ev.Failed() && (p.best == nil || ev.Fitness > p.bestFitness) {
			p.best = append([]float64(nil), ev.Point...)
			p.bestFitness = ev.Fitness
		}
	}
}

// move updates velocities and positions. Positions are clamped into the
// bounds and the velocity component of a clamped axis is zeroed.
func (pso *ParticleSwarmOptimizer) move(space *optimization.ParameterSpace, rng *rand.Rand, swarm []particle, global []float64) {
	for i := range swarm {
		p := &swarm[i]
		for d := range p.position {
			param := space.Parameter(d)
			limit := pso.velocityLimit * param.Range()

			r1, r2 := rng.Float64(), rng.Float64()
			v := pso.inertia * p.velocity[d]
			if p.best != nil {
				v += pso.cognitive * r1 * (p.best[d] - p.position[d])
			}
			if global != nil {
				v += pso.social * r2 * (global[d] - p.position[d])
			}
			v = math.Max(-limit, math.Min(limit, v))

			x := p.position[d] + v
			switch {
			case x < param.Min:
				x, v = param.Min, 0
			case x > param.Max:
				x, v = param.Max, 0
			}
			p.position[d] = x
			p.velocity[d] = v
		}
	}
}
