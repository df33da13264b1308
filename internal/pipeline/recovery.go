package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// RecoveryStrategy names a way to recover a failed execution.
type RecoveryStrategy string

const (
	// RecoveryRetry re-runs the failed step with the same input.
	RecoveryRetry RecoveryStrategy = "retry"
	// RecoverySkip passes the failed step's input through unchanged and
	// continues with the remaining steps.
	RecoverySkip RecoveryStrategy = "skip"
	// RecoveryRestart starts a fresh execution of the whole pipeline.
	RecoveryRestart RecoveryStrategy = "restart"
)

// RiskLevel grades how likely a strategy is to produce a misleading result.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RecoveryOption describes one strategy available for a failed execution.
type RecoveryOption struct {
	Strategy    RecoveryStrategy `json:"strategy"`
	Description string           `json:"description"`
	Risk        RiskLevel        `json:"risk"`
}

// Coordinator inspects failed executions and applies recovery strategies
// through the engine.
type Coordinator struct {
	engine *Engine
	logger *slog.Logger
}

// NewCoordinator creates a coordinator bound to engine.
func NewCoordinator(engine *Engine, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		engine: engine,
		logger: logger.With(slog.String("component", "pipeline.recovery")),
	}
}

// Options returns the strategies applicable to the failed execution with
// the given ID. Skip is never offered for the final step: skipping it
// would leave the pipeline without an output.
func (c *Coordinator) Options(executionID string) ([]RecoveryOption, error) {
	exec, failedIdx, err := c.failedExecution(executionID)
	if err != nil {
		return nil, err
	}

	opts := []RecoveryOption{
		{
			Strategy:    RecoveryRetry,
			Description: fmt.Sprintf("re-run step %q with the same input", exec.Steps[failedIdx].ID),
			Risk:        RiskLow,
		},
	}
	if failedIdx < len(exec.Steps)-1 {
		opts = append(opts, RecoveryOption{
			Strategy:    RecoverySkip,
			Description: fmt.Sprintf("skip step %q and continue with its input unchanged", exec.Steps[failedIdx].ID),
			Risk:        RiskHigh,
		})
	}
	opts = append(opts, RecoveryOption{
		Strategy:    RecoveryRestart,
		Description: "restart the pipeline from the first step as a new execution",
		Risk:        RiskMedium,
	})
	return opts, nil
}

// Apply runs the chosen strategy. Retry and skip resume the original
// execution in place; restart returns a brand-new execution for the same
// dataset and configuration. The returned execution has reached a terminal
// state when Apply returns.
func (c *Coordinator) Apply(ctx context.Context, executionID string, strategy RecoveryStrategy) (*Execution, error) {
	exec, failedIdx, err := c.failedExecution(executionID)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "applying recovery strategy",
		slog.String("execution_id", executionID),
		slog.String("strategy", string(strategy)),
		slog.String("failed_step", exec.Steps[failedIdx].ID))

	switch strategy {
	case RecoveryRetry:
		return exec, c.engine.resume(ctx, exec, failedIdx)

	case RecoverySkip:
		if failedIdx == len(exec.Steps)-1 {
			return nil, NewValidationError(exec.Steps[failedIdx].ID,
				"the final step cannot be skipped")
		}
		exec.Steps[failedIdx].MarkSkipped(c.engine.clock.Now())
		return exec, c.engine.resume(ctx, exec, failedIdx+1)

	case RecoveryRestart:
		cfg := exec.Config()
		return c.engine.Execute(ctx, exec.DatasetID, &cfg)

	default:
		return nil, NewValidationError("", fmt.Sprintf("unknown recovery strategy %q", strategy))
	}
}

// failedExecution looks up an execution and confirms it failed with an
// identifiable failed step.
func (c *Coordinator) failedExecution(executionID string) (*Execution, int, error) {
	exec, ok := c.engine.Get(executionID)
	if !ok {
		return nil, 0, &Error{
			Kind:    ErrorKindNotFound,
			Message: fmt.Sprintf("execution %q not found", executionID),
		}
	}
	if exec.GetStatus() != ExecutionStatusFailed {
		return nil, 0, &Error{
			Kind:    ErrorKindConflict,
			Message: fmt.Sprintf("execution %q is %s, not failed", executionID, exec.GetStatus()),
		}
	}
	failedIdx := exec.FailedStepIndex()
	if failedIdx < 0 {
		return nil, 0, &Error{
			Kind:    ErrorKindConflict,
			Message: fmt.Sprintf("execution %q has no failed step", executionID),
		}
	}
	return exec, failedIdx, nil
}
