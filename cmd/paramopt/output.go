package main

import (
	"encoding/json"
	"io"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/paramopt/internal/optimization"
)

// jsonResult replaces the fitness fields of a result, which are -Inf when
// nothing succeeded, with nullable values that encoding/json accepts.
type jsonResult struct {
	*optimization.OptimizationResult
	ObjectiveValue     *float64     `json:"objective_value"`
	ConvergenceHistory []jsonRecord `json:"convergence_history"`
}

type jsonRecord struct {
	optimization.IterationRecord
	Fitness *float64 `json:"fitness"`
}

func writeResult(w io.Writer, format string, result *optimization.OptimizationResult) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}

	out := jsonResult{
		OptimizationResult: result,
		ObjectiveValue:     finite(result.ObjectiveValue),
		ConvergenceHistory: make([]jsonRecord, len(result.ConvergenceHistory)),
	}
	for i, rec := range result.ConvergenceHistory {
		out.ConvergenceHistory[i] = jsonRecord{IterationRecord: rec, Fitness: finite(rec.Fitness)}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
