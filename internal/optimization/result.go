package optimization

import "time"

// Status describes how a run terminated.
type Status string

const (
	StatusConverged     Status = "converged"
	StatusMaxIterations Status = "max_iterations"
	StatusAborted       Status = "aborted"
	StatusCancelled     Status = "cancelled"
)

// IterationRecord is one evaluated step of a run.
type IterationRecord struct {
	Iteration  int     `json:"iteration" yaml:"iteration"`
	Parameters Vector  `json:"parameters" yaml:"parameters"`
	Fitness    float64 `json:"fitness" yaml:"fitness"`
	Metrics    Metrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// OptimizationResult is the terminal record of a run. It is built once and
// must not be modified after it is returned.
type OptimizationResult struct {
	Algorithm            string                `json:"algorithm" yaml:"algorithm"`
	Success              bool                  `json:"success" yaml:"success"`
	Status               Status                `json:"status" yaml:"status"`
	OptimizedParameters  Vector                `json:"optimized_parameters" yaml:"optimized_parameters"`
	ObjectiveValue       float64               `json:"objective_value" yaml:"objective_value"`
	Metrics              Metrics               `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Iterations           int                   `json:"iterations" yaml:"iterations"`
	Evaluations          int                   `json:"evaluations" yaml:"evaluations"`
	FailedEvaluations    int                   `json:"failed_evaluations" yaml:"failed_evaluations"`
	ConvergenceHistory   []IterationRecord     `json:"convergence_history" yaml:"convergence_history"`
	ConstraintViolations []ConstraintViolation `json:"constraint_violations" yaml:"constraint_violations"`
	TotalViolations      int                   `json:"total_violations" yaml:"total_violations"`
	Sensitivity          map[string]float64    `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	TargetsMet           map[string]bool       `json:"targets_met,omitempty" yaml:"targets_met,omitempty"`
	Note                 string                `json:"note,omitempty" yaml:"note,omitempty"`
	Duration             time.Duration         `json:"duration" yaml:"duration"`
}

// WithDiagnostics returns a copy of r carrying the post-hoc sensitivity
// estimate and target report.
func (r *OptimizationResult) WithDiagnostics(sensitivity map[string]float64, targets map[string]bool) *OptimizationResult {
	c := *r
	c.Sensitivity = sensitivity
	c.TargetsMet = targets
	return &c
}

// history is an append-only ring that keeps the last limit records.
type history[T any] struct {
	limit int
	items []T
	start int
	total int
}

func newHistory[T any](limit int) *history[T] {
	return &history[T]{limit: limit, items: make([]T, 0, min(limit, 64))}
}

func (h *history[T]) add(item T) {
	h.total++
	if h.limit <= 0 {
		return
	}
	if len(h.items) < h.limit {
		h.items = append(h.items, item)
		return
	}
	h.items[h.start] = item
	h.start = (h.start + 1) % h.limit
}

// snapshot returns the kept items, oldest first.
func (h *history[T]) snapshot() []T {
	out := make([]T, 0, len(h.items))
	out = append(out, h.items[h.start:]...)
	out = append(out, h.items[:h.start]...)
	return out
}
