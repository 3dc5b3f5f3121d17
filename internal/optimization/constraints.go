package optimization

import "math"

// DefaultPenaltyWeight is the fitness lost per full range of bound excess.
const DefaultPenaltyWeight = 1.0

// ConstraintSet enforces the bounds of a ParameterSpace by clamping and
// turns each violation into a fitness penalty instead of rejecting the
// candidate. It is read-only once built.
type ConstraintSet struct {
	space         *ParameterSpace
	penaltyWeight float64
}

// ConstraintOption configures a ConstraintSet.
type ConstraintOption func(*ConstraintSet)

// WithPenaltyWeight sets the penalty per unit of normalized bound excess.
func WithPenaltyWeight(w float64) ConstraintOption {
	return func(c *ConstraintSet) {
		c.penaltyWeight = w
	}
}

// NewConstraintSet creates the bound constraints of space.
func NewConstraintSet(space *ParameterSpace, opts ...ConstraintOption) (*ConstraintSet, error) {
	const op = "NewConstraintSet"

	if space == nil {
		return nil, NewConfigurationError(op, "parameter space is required")
	}
	c := &ConstraintSet{
		space:         space,
		penaltyWeight: DefaultPenaltyWeight,
	}
	for _, opt := range opts {
		opt(c)
	}
	if math.IsNaN(c.penaltyWeight) || math.IsInf(c.penaltyWeight, 0) || c.penaltyWeight < 0 {
		return nil, NewConfigurationError(op, "penalty weight must be a non-negative number, got %v", c.penaltyWeight)
	}
	return c, nil
}

// Space returns the constrained parameter space.
func (c *ConstraintSet) Space() *ParameterSpace {
	return c.space
}

// PenaltyWeight returns the configured penalty weight.
func (c *ConstraintSet) PenaltyWeight() float64 {
	return c.penaltyWeight
}

// Apply clamps x and returns the clamped point, the violations and the
// fitness penalty they incur.
func (c *ConstraintSet) Apply(x []float64) ([]float64, []ConstraintViolation, float64) {
	clamped, violations := c.space.ClampPoint(x)
	if len(violations) == 0 || c.penaltyWeight == 0 {
		return clamped, violations, 0
	}

	excess := 0.0
	for i, p := range c.space.params {
		if math.IsNaN(x[i]) {
			// a NaN coordinate counts as a full range away
			excess += 1
			continue
		}
		excess += math.Abs(x[i]-clamped[i]) / p.Range()
	}
	return clamped, violations, c.penaltyWeight * excess
}
