package optimization

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cfgErr := NewConfigurationError("NewParameterSpace", "bad bounds")
	evalErr := NewEvaluationError("Objective.Score", errors.New("boom"), "metric missing")

	assert.True(t, errors.Is(cfgErr, ErrConfiguration))
	assert.False(t, errors.Is(cfgErr, ErrEvaluation))
	assert.True(t, errors.Is(evalErr, ErrEvaluation))

	wrapped := fmt.Errorf("run: %w", cfgErr)
	assert.True(t, IsConfigurationError(wrapped))
	assert.Equal(t, KindConfiguration, KindOf(wrapped))

	wrappedTwice := WrapError(evalErr, "Run.evaluate")
	assert.True(t, IsEvaluationError(wrappedTwice))
	assert.Equal(t, KindEvaluation, KindOf(wrappedTwice))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(NewErrorf("unclassified")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorString(t *testing.T) {
	err := NewEvaluationError("Evaluator.Evaluate", errors.New("timeout"), "evaluator failed")
	assert.Equal(t, "Evaluator.Evaluate: EvaluationError: evaluator failed: timeout", err.Error())

	assert.Equal(t, "GP.Fit: model not trained", NewErrorf("model not trained").WithOperation("GP.Fit").Error())
	assert.Equal(t, "Orchestrator.Run: boom", WrapError(errors.New("boom"), "Orchestrator.Run").Error())
	assert.Nil(t, WrapError(nil, "nothing"))

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
}
