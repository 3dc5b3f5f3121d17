// Package kernels provides stationary covariance functions for the
// Gaussian-process surrogate. Inputs are points in the unit cube of the
// parameter space.
package kernels

import (
	"math"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

// Kernel is a covariance function.
type Kernel interface {
	// Eval returns the covariance between x1 and x2
	Eval(x1, x2 []float64) float64

	// Variance returns k(x, x), the prior variance at any point
	Variance() float64

	// LengthScale returns the distance over which correlation decays
	LengthScale() float64
}

// stationary kernels depend only on the distance between two points.
type stationary struct {
	lengthScale float64
	signalVar   float64
}

func newStationary(op string, lengthScale, signalVar float64) (stationary, error) {
	if !(lengthScale > 0) || math.IsInf(lengthScale, 0) {
		return stationary{}, optimization.NewConfigurationError(op, "length scale must be positive and finite, got %v", lengthScale)
	}
	if !(signalVar > 0) || math.IsInf(signalVar, 0) {
		return stationary{}, optimization.NewConfigurationError(op, "signal variance must be positive and finite, got %v", signalVar)
	}
	return stationary{lengthScale: lengthScale, signalVar: signalVar}, nil
}

func (s stationary) Variance() float64 {
	return s.signalVar
}

func (s stationary) LengthScale() float64 {
	return s.lengthScale
}

// scaledDistance returns |x1 - x2| / lengthScale.
func (s stationary) scaledDistance(x1, x2 []float64) float64 {
	sum := 0.0
	for i := range x1 {
		d := x1[i] - x2[i]
		sum += d * d
	}
	return math.Sqrt(sum) / s.lengthScale
}

// RBFKernel is the squared-exponential kernel
// k(r) = s^2 exp(-r^2 / 2).
type RBFKernel struct {
	stationary
}

func NewRBFKernel(lengthScale, signalVar float64) (*RBFKernel, error) {
	s, err := newStationary("NewRBFKernel", lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{stationary: s}, nil
}

func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	r := k.scaledDistance(x1, x2)
	return k.signalVar * math.Exp(-r*r/2)
}

// Matern52Kernel is the Matérn kernel with smoothness 5/2
// k(r) = s^2 (1 + sqrt5 r + 5r^2/3) exp(-sqrt5 r). Its sample paths are
// twice differentiable, which suits response surfaces better than RBF.
type Matern52Kernel struct {
	stationary
}

func NewMatern52Kernel(lengthScale, signalVar float64) (*Matern52Kernel, error) {
	s, err := newStationary("NewMatern52Kernel", lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{stationary: s}, nil
}

func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(5) * k.scaledDistance(x1, x2)
	return k.signalVar * (1 + r + r*r/3) * math.Exp(-r)
}
