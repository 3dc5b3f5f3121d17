// Package acquisition scores candidate points from a surrogate's predicted
// mean and standard deviation.
package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement is the Expected Improvement over the best observed
// fitness, for maximization:
//
//	EI = (mu - best - xi) * Phi(z) + sigma * phi(z),  z = (mu - best - xi) / sigma
//
// EI is 0 where sigma is 0.
type ExpectedImprovement struct {
	best float64
	// exploration margin; larger values favour uncertain points
	xi float64
}

// NewExpectedImprovement returns EI relative to best with margin xi.
func NewExpectedImprovement(best, xi float64) ExpectedImprovement {
	return ExpectedImprovement{best: best, xi: xi}
}

// Best returns the incumbent fitness.
func (ei ExpectedImprovement) Best() float64 {
	return ei.best
}

// Compute returns EI at a point predicted as N(mu, sigma^2). The result is
// never negative.
func (ei ExpectedImprovement) Compute(mu, sigma float64) float64 {
	if !(sigma > 0) || math.IsNaN(mu) {
		return 0
	}

	gain := mu - ei.best - ei.xi
	z := gain / sigma
	value := gain*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)

	// deep in the lower tail both terms round to a tiny negative number
	if !(value > 0) {
		return 0
	}
	return value
}
