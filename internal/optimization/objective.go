package optimization

import (
	"math"
	"sort"
	"strings"
)

// ObjectiveType selects how metrics are combined into a fitness.
type ObjectiveType string

const (
	Maximize ObjectiveType = "MAXIMIZE"
	Minimize ObjectiveType = "MINIMIZE"
	Multi    ObjectiveType = "MULTI"
)

// ParseObjectiveType accepts the type names case-insensitively.
func ParseObjectiveType(s string) (ObjectiveType, error) {
	switch t := ObjectiveType(strings.ToUpper(strings.TrimSpace(s))); t {
	case Maximize, Minimize, Multi:
		return t, nil
	default:
		return "", NewConfigurationError("ParseObjectiveType", "unknown objective type %q", s)
	}
}

// Term is one weighted metric of a MULTI objective. Direction must be
// Maximize or Minimize; a Minimize term contributes negatively.
// A zero Scale is auto-detected by Calibrate.
type Term struct {
	Metric    string        `json:"metric" yaml:"metric"`
	Weight    float64       `json:"weight" yaml:"weight"`
	Direction ObjectiveType `json:"direction,omitempty" yaml:"direction,omitempty"`
	Scale     float64       `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// Target is a named threshold a metric should reach.
type Target struct {
	Metric    string  `json:"metric" yaml:"metric"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// Objective turns a metrics record into the scalar fitness the optimizers
// maximize. It is immutable; Calibrate and WithTargets return copies.
type Objective struct {
	kind    ObjectiveType
	metric  string
	terms   []Term
	targets []Target
}

// NewObjective creates a single-metric MAXIMIZE or MINIMIZE objective.
func NewObjective(kind ObjectiveType, metric string) (*Objective, error) {
	const op = "NewObjective"

	if kind != Maximize && kind != Minimize {
		return nil, NewConfigurationError(op, "single-metric objective must be %s or %s, got %q", Maximize, Minimize, kind)
	}
	if metric == "" {
		return nil, NewConfigurationError(op, "objective must reference a metric")
	}
	return &Objective{kind: kind, metric: metric}, nil
}

// NewMultiObjective creates a weighted MULTI objective.
func NewMultiObjective(terms ...Term) (*Objective, error) {
	const op = "NewMultiObjective"

	if len(terms) == 0 {
		return nil, NewConfigurationError(op, "multi objective must reference at least one metric")
	}

	seen := make(map[string]bool, len(terms))
	out := make([]Term, len(terms))
	total := 0.0
	for i, t := range terms {
		if t.Metric == "" {
			return nil, NewConfigurationError(op, "term %d has an empty metric", i)
		}
		if seen[t.Metric] {
			return nil, NewConfigurationError(op, "metric %q referenced twice", t.Metric)
		}
		seen[t.Metric] = true
		if math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) || t.Weight < 0 {
			return nil, NewConfigurationError(op, "metric %q: weight must be a non-negative number, got %v", t.Metric, t.Weight)
		}
		if math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) || t.Scale < 0 {
			return nil, NewConfigurationError(op, "metric %q: scale must be a non-negative number, got %v", t.Metric, t.Scale)
		}
		switch t.Direction {
		case "":
			t.Direction = Maximize
		case Maximize, Minimize:
		default:
			return nil, NewConfigurationError(op, "metric %q: direction must be %s or %s, got %q", t.Metric, Maximize, Minimize, t.Direction)
		}
		total += t.Weight
		out[i] = t
	}
	if total == 0 {
		return nil, NewConfigurationError(op, "at least one weight must be positive")
	}
	return &Objective{kind: Multi, terms: out}, nil
}

// WithTargets returns a copy of the objective carrying the given targets.
func (o *Objective) WithTargets(targets ...Target) (*Objective, error) {
	for _, t := range targets {
		if t.Metric == "" {
			return nil, NewConfigurationError("Objective.WithTargets", "target has an empty metric")
		}
	}
	c := o.clone()
	c.targets = append([]Target(nil), targets...)
	return c, nil
}

// Type returns the objective type.
func (o *Objective) Type() ObjectiveType {
	return o.kind
}

// Terms returns a copy of the MULTI terms.
func (o *Objective) Terms() []Term {
	return append([]Term(nil), o.terms...)
}

// Targets returns a copy of the targets.
func (o *Objective) Targets() []Target {
	return append([]Target(nil), o.targets...)
}

// Metrics returns the metric names the objective needs, sorted.
func (o *Objective) Metrics() []string {
	if o.kind != Multi {
		return []string{o.metric}
	}
	names := make([]string, len(o.terms))
	for i, t := range o.terms {
		names[i] = t.Metric
	}
	sort.Strings(names)
	return names
}

// NeedsCalibration reports whether any MULTI term has an auto-detected scale.
func (o *Objective) NeedsCalibration() bool {
	for _, t := range o.terms {
		if t.Scale == 0 {
			return true
		}
	}
	return false
}

// Calibrate returns a copy whose unset term scales are taken from a reference
// metrics record. Metrics missing from the record keep scale 1.
func (o *Objective) Calibrate(reference Metrics) *Objective {
	c := o.clone()
	for i, t := range c.terms {
		if t.Scale != 0 {
			continue
		}
		v, ok := reference[t.Metric]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			c.terms[i].Scale = 1
			continue
		}
		c.terms[i].Scale = math.Max(math.Abs(v), 1e-9)
	}
	return c
}

// Score converts metrics into fitness. Higher is always better.
func (o *Objective) Score(m Metrics) (float64, error) {
	const op = "Objective.Score"

	if o.kind != Multi {
		v, err := lookup(op, m, o.metric)
		if err != nil {
			return 0, err
		}
		if o.kind == Minimize {
			return -v, nil
		}
		return v, nil
	}

	score := 0.0
	for _, t := range o.terms {
		v, err := lookup(op, m, t.Metric)
		if err != nil {
			return 0, err
		}
		scale := t.Scale
		if scale == 0 {
			scale = 1
		}
		contribution := t.Weight * v / scale
		if t.Direction == Minimize {
			contribution = -contribution
		}
		score += contribution
	}
	return score, nil
}

// TargetsMet reports, per target metric, whether m reaches the threshold.
func (o *Objective) TargetsMet(m Metrics) map[string]bool {
	if len(o.targets) == 0 {
		return nil
	}
	met := make(map[string]bool, len(o.targets))
	for _, t := range o.targets {
		v, ok := m[t.Metric]
		if !ok || math.IsNaN(v) {
			met[t.Metric] = false
			continue
		}
		if o.direction(t.Metric) == Minimize {
			met[t.Metric] = v <= t.Threshold
		} else {
			met[t.Metric] = v >= t.Threshold
		}
	}
	return met
}

func (o *Objective) direction(metric string) ObjectiveType {
	if o.kind != Multi {
		if metric == o.metric {
			return o.kind
		}
		return Maximize
	}
	for _, t := range o.terms {
		if t.Metric == metric {
			return t.Direction
		}
	}
	return Maximize
}

func (o *Objective) clone() *Objective {
	return &Objective{
		kind:    o.kind,
		metric:  o.metric,
		terms:   append([]Term(nil), o.terms...),
		targets: append([]Target(nil), o.targets...),
	}
}

func lookup(op string, m Metrics, name string) (float64, error) {
	v, ok := m[name]
	if !ok {
		return 0, NewEvaluationError(op, nil, "metric %q missing from evaluator output", name)
	}
	if math.IsNaN(v) {
		return 0, NewEvaluationError(op, nil, "metric %q is NaN", name)
	}
	return v, nil
}
