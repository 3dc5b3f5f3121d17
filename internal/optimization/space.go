package optimization

import (
	"math"
	"math/rand"
	"sort"
)

// Parameter is a named continuous parameter bounded by [Min, Max].
type Parameter struct {
	Name string  `json:"name" yaml:"name"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
}

// Range returns Max - Min.
func (p Parameter) Range() float64 {
	return p.Max - p.Min
}

// Vector maps parameter names to values.
type Vector map[string]float64

// Clone returns a copy of the vector.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Metrics maps metric names (power, efficiency, cost, ...) to values.
type Metrics map[string]float64

// Clone returns a copy of the metrics record.
func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out
}

// ConstraintViolation records a value that had to be clamped into bounds.
type ConstraintViolation struct {
	ParameterName  string  `json:"parameter_name" yaml:"parameter_name"`
	RequestedValue float64 `json:"requested_value" yaml:"requested_value"`
	ClampedValue   float64 `json:"clamped_value" yaml:"clamped_value"`
}

// ParameterSpace is an ordered, immutable set of bounded parameters.
// Algorithms work on the ordered []float64 form ("points"); callers see Vectors.
type ParameterSpace struct {
	params []Parameter
	index  map[string]int
}

// NewParameterSpace validates the parameters and builds a space.
func NewParameterSpace(params ...Parameter) (*ParameterSpace, error) {
	const op = "NewParameterSpace"

	if len(params) == 0 {
		return nil, NewConfigurationError(op, "parameter space must have at least one parameter")
	}

	s := &ParameterSpace{
		params: make([]Parameter, len(params)),
		index:  make(map[string]int, len(params)),
	}
	for i, p := range params {
		if p.Name == "" {
			return nil, NewConfigurationError(op, "parameter %d has an empty name", i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, NewConfigurationError(op, "duplicate parameter %q", p.Name)
		}
		if math.IsNaN(p.Min) || math.IsNaN(p.Max) || math.IsInf(p.Min, 0) || math.IsInf(p.Max, 0) {
			return nil, NewConfigurationError(op, "parameter %q has non-finite bounds [%v, %v]", p.Name, p.Min, p.Max)
		}
		if p.Min >= p.Max {
			return nil, NewConfigurationError(op, "parameter %q: min %v must be less than max %v", p.Name, p.Min, p.Max)
		}
		s.params[i] = p
		s.index[p.Name] = i
	}
	return s, nil
}

// Dimensionality returns the number of parameters.
func (s *ParameterSpace) Dimensionality() int {
	return len(s.params)
}

// Parameters returns a copy of the parameters in space order.
func (s *ParameterSpace) Parameters() []Parameter {
	return append([]Parameter(nil), s.params...)
}

// Parameter returns the i-th parameter.
func (s *ParameterSpace) Parameter(i int) Parameter {
	return s.params[i]
}

// Names returns the parameter names in space order.
func (s *ParameterSpace) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Has reports whether name is a parameter of the space.
func (s *ParameterSpace) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Validate checks that every key of v names a parameter of the space and
// that every value is finite.
func (s *ParameterSpace) Validate(v Vector) error {
	const op = "ParameterSpace.Validate"

	unknown := make([]string, 0)
	for name, val := range v {
		if !s.Has(name) {
			unknown = append(unknown, name)
			continue
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return NewConfigurationError(op, "parameter %q must be a finite number, got %v", name, val)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return NewConfigurationError(op, "unknown parameters %v", unknown)
	}
	return nil
}

// StartPoint validates an initial vector and converts it to point form.
// Missing parameters start at the midpoint of their range; out-of-bounds
// values are kept and clamped by the first evaluation.
func (s *ParameterSpace) StartPoint(v Vector) ([]float64, error) {
	if err := s.Validate(v); err != nil {
		return nil, err
	}
	return s.Point(v), nil
}

// Midpoint returns the point at the center of every range.
func (s *ParameterSpace) Midpoint() []float64 {
	x := make([]float64, len(s.params))
	for i, p := range s.params {
		x[i] = p.Min + p.Range()/2
	}
	return x
}

// Point converts a vector to the ordered point form. Missing names take the
// range midpoint; unknown names are ignored.
func (s *ParameterSpace) Point(v Vector) []float64 {
	x := s.Midpoint()
	for i, p := range s.params {
		if val, ok := v[p.Name]; ok {
			x[i] = val
		}
	}
	return x
}

// Vector converts an ordered point back to a named vector.
func (s *ParameterSpace) Vector(x []float64) Vector {
	v := make(Vector, len(s.params))
	for i, p := range s.params {
		v[p.Name] = x[i]
	}
	return v
}

// ClampPoint returns a copy of x with every coordinate inside its bounds and
// the violations that were corrected. NaN coordinates go to the midpoint.
func (s *ParameterSpace) ClampPoint(x []float64) ([]float64, []ConstraintViolation) {
	out := make([]float64, len(s.params))
	var violations []ConstraintViolation
	for i, p := range s.params {
		val := x[i]
		clamped := val
		switch {
		case math.IsNaN(val):
			clamped = p.Min + p.Range()/2
		case val < p.Min:
			clamped = p.Min
		case val > p.Max:
			clamped = p.Max
		}
		if clamped != val {
			violations = append(violations, ConstraintViolation{
				ParameterName:  p.Name,
				RequestedValue: val,
				ClampedValue:   clamped,
			})
		}
		out[i] = clamped
	}
	return out, violations
}

// Clamp returns a corrected copy of v and the violations found. It never fails.
func (s *ParameterSpace) Clamp(v Vector) (Vector, []ConstraintViolation) {
	x, violations := s.ClampPoint(s.Point(v))
	return s.Vector(x), violations
}

// RandomPoint draws a uniform point inside the bounds.
func (s *ParameterSpace) RandomPoint(rng *rand.Rand) []float64 {
	x := make([]float64, len(s.params))
	for i, p := range s.params {
		x[i] = p.Min + rng.Float64()*p.Range()
	}
	return x
}

// RandomSample draws a uniform vector inside the bounds.
func (s *ParameterSpace) RandomSample(rng *rand.Rand) Vector {
	return s.Vector(s.RandomPoint(rng))
}

// Normalize maps x into the unit cube.
func (s *ParameterSpace) Normalize(x []float64) []float64 {
	u := make([]float64, len(s.params))
	for i, p := range s.params {
		u[i] = (x[i] - p.Min) / p.Range()
	}
	return u
}

// Denormalize maps a unit-cube point back into parameter units. The result
// is kept inside the bounds so rounding never produces a violation.
func (s *ParameterSpace) Denormalize(u []float64) []float64 {
	x := make([]float64, len(s.params))
	for i, p := range s.params {
		x[i] = math.Max(p.Min, math.Min(p.Max, p.Min+u[i]*p.Range()))
	}
	return x
}
