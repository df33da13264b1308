package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eltpulse/internal/clock"
)

// failExecution runs the pipeline with the given per-step failure budget
// and returns the failed execution.
func failExecution(t *testing.T, engine *Engine, fc *clock.Fake) *Execution {
	t.Helper()
	exec, err := runWithFakeClock(t, fc, func() (*Execution, error) {
		return engine.Execute(context.Background(), "sales-data", nil)
	})
	require.Error(t, err)
	require.Equal(t, ExecutionStatusFailed, exec.GetStatus())
	return exec
}

func TestRecoveryOptionsForMidPipelineFailure(t *testing.T) {
	steps := newStubSteps(0, 3) // load fails permanently
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)
	exec := failExecution(t, engine, fc)

	opts, err := coord.Options(exec.ID)
	require.NoError(t, err)

	strategies := make([]RecoveryStrategy, 0, len(opts))
	risks := make(map[RecoveryStrategy]RiskLevel)
	for _, o := range opts {
		strategies = append(strategies, o.Strategy)
		risks[o.Strategy] = o.Risk
	}
	assert.ElementsMatch(t, []RecoveryStrategy{RecoveryRetry, RecoverySkip, RecoveryRestart}, strategies)
	assert.Equal(t, RiskLow, risks[RecoveryRetry])
	assert.Equal(t, RiskHigh, risks[RecoverySkip])
	assert.Equal(t, RiskMedium, risks[RecoveryRestart])
}

func TestRecoveryOptionsNeverOfferSkipForFinalStep(t *testing.T) {
	steps := newStubSteps(0, 0, 3) // transform fails permanently
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)
	exec := failExecution(t, engine, fc)

	opts, err := coord.Options(exec.ID)
	require.NoError(t, err)

	for _, o := range opts {
		assert.NotEqual(t, RecoverySkip, o.Strategy, "skip must never be offered for the last step")
	}
}

func TestRecoveryOptionsUnknownExecution(t *testing.T) {
	engine, _, _ := newFakeEngine(t, newStubSteps())
	coord := NewCoordinator(engine, nil)

	_, err := coord.Options("missing")

	require.Error(t, err)
	assert.Equal(t, ErrorKindNotFound, KindOf(err))
}

func TestRecoveryOptionsRequireFailedExecution(t *testing.T) {
	steps := newStubSteps()
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)

	exec, err := runWithFakeClock(t, fc, func() (*Execution, error) {
		return engine.Execute(context.Background(), "sales-data", nil)
	})
	require.NoError(t, err)

	_, err = coord.Options(exec.ID)
	require.Error(t, err)
	assert.Equal(t, ErrorKindConflict, KindOf(err))
}

func TestApplyRetryResumesFromFailedStep(t *testing.T) {
	steps := newStubSteps(0, 3) // load fails three times, then succeeds
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)
	exec := failExecution(t, engine, fc)

	extractRunsBefore := steps[0].runCount()

	recovered, err := runWithFakeClock(t, fc, func() (*Execution, error) {
		return coord.Apply(context.Background(), exec.ID, RecoveryRetry)
	})

	require.NoError(t, err)
	assert.Same(t, exec, recovered, "retry resumes the original execution")
	assert.Equal(t, ExecutionStatusCompleted, recovered.GetStatus())
	assert.Equal(t, extractRunsBefore, steps[0].runCount(), "completed steps are not re-run")
	assert.Equal(t, 1, steps[2].runCount())

	// History holds the single execution, now completed.
	require.Len(t, engine.History(), 1)
	assert.Equal(t, ExecutionStatusCompleted, engine.History()[0].GetStatus())
}

func TestApplySkipPassesInputThrough(t *testing.T) {
	steps := newStubSteps(0, 99) // load always fails
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)
	exec := failExecution(t, engine, fc)

	recovered, err := runWithFakeClock(t, fc, func() (*Execution, error) {
		return coord.Apply(context.Background(), exec.ID, RecoverySkip)
	})

	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, recovered.GetStatus())

	skipped := recovered.Steps[1]
	assert.True(t, skipped.GetSkipped())
	assert.Equal(t, StepStatusCompleted, skipped.GetStatus())
	assert.Equal(t, skipped.GetInput(), skipped.GetOutput(), "skip hands the input through unchanged")
	assert.Equal(t, 1, steps[2].runCount(), "downstream step runs against the passed-through input")
}

func TestApplySkipRejectedForFinalStep(t *testing.T) {
	steps := newStubSteps(0, 0, 99) // transform always fails
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)
	exec := failExecution(t, engine, fc)

	_, err := coord.Apply(context.Background(), exec.ID, RecoverySkip)

	require.Error(t, err)
	assert.Equal(t, ErrorKindValidation, KindOf(err))
	assert.Equal(t, ExecutionStatusFailed, exec.GetStatus(), "the execution is left untouched")
}

func TestApplyRestartCreatesNewExecution(t *testing.T) {
	steps := newStubSteps(0, 3) // load fails three times, then succeeds
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)
	exec := failExecution(t, engine, fc)

	recovered, err := runWithFakeClock(t, fc, func() (*Execution, error) {
		return coord.Apply(context.Background(), exec.ID, RecoveryRestart)
	})

	require.NoError(t, err)
	assert.NotEqual(t, exec.ID, recovered.ID, "restart is a fresh execution")
	assert.Equal(t, exec.DatasetID, recovered.DatasetID)
	assert.Equal(t, ExecutionStatusCompleted, recovered.GetStatus())
	assert.Len(t, engine.History(), 2, "failed and restarted runs both recorded")
}

func TestApplyUnknownStrategyRejected(t *testing.T) {
	steps := newStubSteps(0, 3)
	engine, fc, _ := newFakeEngine(t, steps)
	coord := NewCoordinator(engine, nil)
	exec := failExecution(t, engine, fc)

	_, err := coord.Apply(context.Background(), exec.ID, RecoveryStrategy("guess"))

	require.Error(t, err)
	assert.Equal(t, ErrorKindValidation, KindOf(err))
}
