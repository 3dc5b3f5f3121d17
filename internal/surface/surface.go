// Package surface provides a quadratic response-surface evaluator for
// demonstrations and tests.
package surface

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

// Response describes one metric as peak - sum(curvature * (x - center)^2).
// Parameters without a curvature do not affect the metric.
type Response struct {
	Peak      float64            `json:"peak" yaml:"peak"`
	Center    map[string]float64 `json:"center" yaml:"center"`
	Curvature map[string]float64 `json:"curvature" yaml:"curvature"`
}

// Spec is a set of metric responses plus optional Gaussian noise.
type Spec struct {
	Metrics map[string]Response `json:"metrics" yaml:"metrics"`
	Noise   float64             `json:"noise,omitempty" yaml:"noise,omitempty"`
	Seed    int64               `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// QuadraticSurface evaluates a Spec. It is safe for concurrent use.
type QuadraticSurface struct {
	metrics []string
	spec    Spec
	// curved lists each metric's curvature parameters, sorted, so the
	// floating point sum is the same on every call.
	curved map[string][]string

	mu  sync.Mutex
	rng *rand.Rand
}

// New validates spec against the parameter space and builds the surface.
func New(spec Spec, space *optimization.ParameterSpace) (*QuadraticSurface, error) {
	const op = "surface.New"

	if len(spec.Metrics) == 0 {
		return nil, optimization.NewConfigurationError(op, "surface must define at least one metric")
	}
	if math.IsNaN(spec.Noise) || spec.Noise < 0 {
		return nil, optimization.NewConfigurationError(op, "noise must be a non-negative number, got %v", spec.Noise)
	}

	names := make([]string, 0, len(spec.Metrics))
	curved := make(map[string][]string, len(spec.Metrics))
	for name, r := range spec.Metrics {
		for p := range r.Center {
			if !space.Has(p) {
				return nil, optimization.NewConfigurationError(op, "metric %q: unknown parameter %q in center", name, p)
			}
		}
		for p, c := range r.Curvature {
			if !space.Has(p) {
				return nil, optimization.NewConfigurationError(op, "metric %q: unknown parameter %q in curvature", name, p)
			}
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, optimization.NewConfigurationError(op, "metric %q: curvature of %q must be finite", name, p)
			}
			curved[name] = append(curved[name], p)
		}
		sort.Strings(curved[name])
		names = append(names, name)
	}
	sort.Strings(names)

	return &QuadraticSurface{
		metrics: names,
		spec:    spec,
		curved:  curved,
		rng:     rand.New(rand.NewSource(spec.Seed)),
	}, nil
}

// Metrics returns the metric names the surface reports, sorted.
func (s *QuadraticSurface) Metrics() []string {
	return append([]string(nil), s.metrics...)
}

// Evaluate computes every metric at params.
func (s *QuadraticSurface) Evaluate(ctx context.Context, params optimization.Vector) (optimization.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(optimization.Metrics, len(s.metrics))
	for _, name := range s.metrics {
		r := s.spec.Metrics[name]
		v := r.Peak
		for _, p := range s.curved[name] {
			d := params[p] - r.Center[p]
			v -= r.Curvature[p] * d * d
		}
		out[name] = v + s.noise()
	}
	return out, nil
}

func (s *QuadraticSurface) noise() float64 {
	if s.spec.Noise == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64() * s.spec.Noise
}
