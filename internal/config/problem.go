package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/paramopt/internal/optimization"
	"github.com/copyleftdev/paramopt/internal/orchestrator"
	"github.com/copyleftdev/paramopt/internal/surface"
)

// Problem is the YAML description of one optimization run against a
// response surface.
type Problem struct {
	Algorithm   string                   `yaml:"algorithm"`
	Parameters  []optimization.Parameter `yaml:"parameters"`
	Objective   ObjectiveSpec            `yaml:"objective"`
	Constraints ConstraintSpec           `yaml:"constraints"`
	Initial     optimization.Vector      `yaml:"initial"`
	Params      orchestrator.Params      `yaml:"params"`
	Surface     surface.Spec             `yaml:"surface"`
}

// ObjectiveSpec describes a single-metric or MULTI objective.
type ObjectiveSpec struct {
	Type    string                `yaml:"type"`
	Metric  string                `yaml:"metric"`
	Terms   []optimization.Term   `yaml:"terms"`
	Targets []optimization.Target `yaml:"targets"`
}

// ConstraintSpec configures the bound penalty. A nil weight keeps the
// default.
type ConstraintSpec struct {
	PenaltyWeight *float64 `yaml:"penalty_weight"`
}

// LoadProblem reads a problem file.
func LoadProblem(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, optimization.NewConfigurationError("config.LoadProblem", "read problem file: %v", err)
	}
	return ParseProblem(data)
}

// ParseProblem decodes a problem document. Unknown keys are rejected.
func ParseProblem(data []byte) (*Problem, error) {
	const op = "config.ParseProblem"

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Problem
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, optimization.NewConfigurationError(op, "problem file is empty")
		}
		return nil, optimization.NewConfigurationError(op, "decode problem: %v", err)
	}
	if p.Algorithm == "" {
		return nil, optimization.NewConfigurationError(op, "algorithm is required")
	}
	return &p, nil
}

// Request builds the orchestrator request: the space, objective and
// constraints plus a response surface as evaluator.
func (p *Problem) Request() (orchestrator.Request, error) {
	space, err := optimization.NewParameterSpace(p.Parameters...)
	if err != nil {
		return orchestrator.Request{}, err
	}

	var opts []optimization.ConstraintOption
	if p.Constraints.PenaltyWeight != nil {
		opts = append(opts, optimization.WithPenaltyWeight(*p.Constraints.PenaltyWeight))
	}
	constraints, err := optimization.NewConstraintSet(space, opts...)
	if err != nil {
		return orchestrator.Request{}, err
	}

	objective, err := p.Objective.build()
	if err != nil {
		return orchestrator.Request{}, err
	}

	evaluator, err := surface.New(p.Surface, space)
	if err != nil {
		return orchestrator.Request{}, err
	}

	return orchestrator.Request{
		Algorithm:   p.Algorithm,
		Space:       space,
		Objective:   objective,
		Constraints: constraints,
		Initial:     p.Initial,
		Evaluator:   evaluator,
		Params:      p.Params,
	}, nil
}

func (s ObjectiveSpec) build() (*optimization.Objective, error) {
	kind, err := optimization.ParseObjectiveType(s.Type)
	if err != nil {
		return nil, err
	}

	var objective *optimization.Objective
	if kind == optimization.Multi {
		terms := make([]optimization.Term, len(s.Terms))
		for i, t := range s.Terms {
			if t.Direction != "" {
				if t.Direction, err = optimization.ParseObjectiveType(string(t.Direction)); err != nil {
					return nil, err
				}
			}
			terms[i] = t
		}
		objective, err = optimization.NewMultiObjective(terms...)
	} else {
		objective, err = optimization.NewObjective(kind, s.Metric)
	}
	if err != nil {
		return nil, err
	}

	if len(s.Targets) == 0 {
		return objective, nil
	}
	return objective.WithTargets(s.Targets...)
}
