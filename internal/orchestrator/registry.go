package orchestrator

import (
	"sort"
	"strings"

	"github.com/copyleftdev/paramopt/internal/optimization"
	"github.com/copyleftdev/paramopt/internal/optimization/bayesian"
	"github.com/copyleftdev/paramopt/internal/optimization/genetic"
	"github.com/copyleftdev/paramopt/internal/optimization/gradient"
	"github.com/copyleftdev/paramopt/internal/optimization/swarm"
)

// Factory builds an optimizer for a validated problem and configuration.
// params carries the request's algorithm-specific settings.
type Factory func(problem optimization.Problem, cfg optimization.Config, params Params) (optimization.Optimizer, error)

type registry struct {
	factories map[string]Factory
	aliases   map[string]string
}

func newRegistry() *registry {
	r := &registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
	r.register(gradient.Name, func(p optimization.Problem, c optimization.Config, _ Params) (optimization.Optimizer, error) {
		opt, err := gradient.NewGradientDescentOptimizer(p, c)
		if err != nil {
			return nil, err
		}
		return opt, nil
	}, "gradient", "gd")
	r.register(genetic.Name, func(p optimization.Problem, c optimization.Config, _ Params) (optimization.Optimizer, error) {
		opt, err := genetic.NewGeneticAlgorithmOptimizer(p, c)
		if err != nil {
			return nil, err
		}
		return opt, nil
	}, "genetic", "ga")
	r.register(swarm.Name, func(p optimization.Problem, c optimization.Config, _ Params) (optimization.Optimizer, error) {
		opt, err := swarm.NewParticleSwarmOptimizer(p, c)
		if err != nil {
			return nil, err
		}
		return opt, nil
	}, "pso", "swarm")
	r.register(bayesian.Name, func(p optimization.Problem, c optimization.Config, params Params) (optimization.Optimizer, error) {
		opt, err := bayesian.NewBayesianOptimizer(p, c, bayesian.WithKernel(params.Kernel))
		if err != nil {
			return nil, err
		}
		return opt, nil
	}, "bayes", "bo")
	return r
}

func (r *registry) register(name string, f Factory, aliases ...string) {
	name = normalize(name)
	r.factories[name] = f
	r.aliases[name] = name
	for _, a := range aliases {
		r.aliases[normalize(a)] = name
	}
}

// resolve maps a name or alias, in any case, to its canonical name.
func (r *registry) resolve(name string) (string, Factory, error) {
	canonical, ok := r.aliases[normalize(name)]
	if !ok {
		return "", nil, optimization.NewConfigurationError("orchestrator.resolve", "unknown algorithm %q, expected one of %v", name, r.names())
	}
	return canonical, r.factories[canonical], nil
}

func (r *registry) names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
