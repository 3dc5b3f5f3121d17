// Package metrics exposes Prometheus collectors for optimization runs.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

const namespace = "paramopt"

// Collector records run and evaluation counts. A nil *Collector is valid
// and records nothing.
type Collector struct {
	runs        *prometheus.CounterVec
	evaluations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	bestFitness *prometheus.GaugeVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Optimization runs by algorithm and terminal status.",
		}, []string{"algorithm", "status"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluator calls by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of optimization runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"algorithm"}),
		bestFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best fitness of the most recent run per algorithm.",
		}, []string{"algorithm"}),
	}

	for _, col := range []prometheus.Collector{c.runs, c.evaluations, c.duration, c.bestFitness} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(result *optimization.OptimizationResult) {
	if c == nil || result == nil {
		return
	}
	algorithm := result.Algorithm

	c.runs.WithLabelValues(algorithm, string(result.Status)).Inc()
	c.evaluations.WithLabelValues(algorithm, "success").Add(float64(result.Evaluations - result.FailedEvaluations))
	c.evaluations.WithLabelValues(algorithm, "failure").Add(float64(result.FailedEvaluations))
	c.duration.WithLabelValues(algorithm).Observe(result.Duration.Seconds())
	if !math.IsInf(result.ObjectiveValue, 0) && !math.IsNaN(result.ObjectiveValue) {
		c.bestFitness.WithLabelValues(algorithm).Set(result.ObjectiveValue)
	}
}
