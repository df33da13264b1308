// Package pipeline implements the demo platform's pipeline execution
// engine: a fixed extract, load, transform sequence run against a sample
// dataset with per-step timeouts, retry with backoff, and progress
// publishing over the transport layer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"eltpulse/internal/clock"
	"eltpulse/internal/dataset"
	"eltpulse/pkg/contracts/events"
)

// Defaults for execution configuration.
const (
	DefaultStepTimeout   = 30 * time.Second
	DefaultRetryAttempts = 3

	// Progress ticks advance toward this ceiling while a step body is
	// still running; only completion sets 100.
	progressCeiling = 95
	progressTick    = 5
)

// ExecutionConfig tunes one pipeline execution.
type ExecutionConfig struct {
	Timeout       time.Duration `json:"timeout" validate:"min=0"`
	RetryAttempts int           `json:"retryAttempts" validate:"min=0,max=10"`
}

// withDefaults fills zero values with engine defaults.
func (c ExecutionConfig) withDefaults() ExecutionConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultStepTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	return c
}

// Engine runs pipeline executions. At most one execution may be running
// per engine instance; the execution history and the dataset catalog are
// owned exclusively by the engine.
type Engine struct {
	catalog   *dataset.Catalog
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
	validate  *validator.Validate
	runners   []StepRunner

	mu      sync.Mutex
	current *Execution
	history []*Execution
}

// EngineOption customizes an engine.
type EngineOption func(*Engine)

// WithClock substitutes the engine's clock, letting tests drive virtual time.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithSteps substitutes the step sequence.
func WithSteps(runners []StepRunner) EngineOption {
	return func(e *Engine) { e.runners = runners }
}

// NewEngine creates an engine with dependency injection. A nil publisher
// disables progress publishing; a nil catalog gets the built-in datasets.
func NewEngine(catalog *dataset.Catalog, publisher Publisher, logger *slog.Logger, opts ...EngineOption) *Engine {
	if catalog == nil {
		catalog = dataset.NewCatalog()
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		catalog:   catalog,
		publisher: publisher,
		clock:     clock.New(),
		logger:    logger.With(slog.String("component", "pipeline.engine")),
		validate:  validator.New(),
		runners:   DefaultSteps(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the pipeline against the dataset with the given ID. It
// returns synchronously once the execution reaches a terminal state. A
// precondition failure (unknown dataset, empty dataset, invalid config, or
// an execution already running) is returned without creating an execution.
func (e *Engine) Execute(ctx context.Context, datasetID string, cfg *ExecutionConfig) (*Execution, error) {
	config := ExecutionConfig{}
	if cfg != nil {
		config = *cfg
	}
	if err := e.validate.Struct(config); err != nil {
		return nil, NewValidationError("", fmt.Sprintf("invalid execution config: %v", err))
	}
	config = config.withDefaults()

	ds, ok := e.catalog.Get(datasetID)
	if !ok {
		return nil, NewNotFoundError(datasetID)
	}
	if len(ds.Records) == 0 {
		return nil, NewInvalidInputError(datasetID)
	}

	exec := &Execution{
		ID:         uuid.New().String(),
		PipelineID: "elt-demo",
		DatasetID:  datasetID,
		Status:     ExecutionStatusPending,
		StartTime:  e.clock.Now(),
		Input:      ds.Snapshot(),
		config:     config,
	}
	for _, runner := range e.runners {
		exec.Steps = append(exec.Steps, NewStep(runner.ID(), runner.Name(), runner.Type()))
	}

	e.mu.Lock()
	if e.current != nil {
		runningID := e.current.ID
		e.mu.Unlock()
		return nil, NewConflictError(runningID)
	}
	e.current = exec
	e.mu.Unlock()

	exec.Start(e.clock.Now())
	e.logger.InfoContext(ctx, "execution started",
		slog.String("execution_id", exec.ID),
		slog.String("dataset_id", datasetID),
		slog.Int("steps", len(exec.Steps)))

	err := e.run(ctx, exec, 0)
	e.finish(ctx, exec, err)
	return exec, err
}

// Cancel cancels the running execution. Step timers already in flight are
// not forcibly killed; their eventual completion is ignored.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	exec := e.current
	e.mu.Unlock()
	if exec == nil {
		return &Error{Kind: ErrorKindNotFound, Message: "no execution is running"}
	}
	exec.Cancel(e.clock.Now())
	e.logger.Info("execution cancelled", slog.String("execution_id", exec.ID))
	return nil
}

// Running returns the currently running execution, or nil.
func (e *Engine) Running() *Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Get returns the execution with the given ID from the running slot or
// the history.
func (e *Engine) Get(id string) (*Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.ID == id {
		return e.current, true
	}
	for _, exec := range e.history {
		if exec.ID == id {
			return exec, true
		}
	}
	return nil, false
}

// History returns the executions recorded so far, oldest first.
func (e *Engine) History() []*Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Execution, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory drops all recorded executions.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

// Catalog returns the engine's dataset catalog.
func (e *Engine) Catalog() *dataset.Catalog {
	return e.catalog
}

// run executes steps from startIdx onward. Step i's input is step i-1's
// output, or the dataset snapshot for step 0. Ordering is fixed; steps are
// never reordered or parallelized.
func (e *Engine) run(ctx context.Context, exec *Execution, startIdx int) error {
	for i := startIdx; i < len(e.runners); i++ {
		if exec.GetStatus() != ExecutionStatusRunning {
			return NewCancelledError(e.runners[i].ID())
		}

		var input interface{}
		if i == 0 {
			input = exec.Input
		} else {
			input = exec.Steps[i-1].GetOutput()
		}

		if err := e.runStep(ctx, exec, i, input); err != nil {
			return err
		}
	}
	return nil
}

// runStep executes one step with validation, timeout, and retry.
func (e *Engine) runStep(ctx context.Context, exec *Execution, idx int, input interface{}) error {
	runner := e.runners[idx]
	step := exec.Steps[idx]
	step.SetInput(input)
	config := exec.Config()

	// Malformed upstream input fails the step immediately; retrying
	// cannot help.
	if err := runner.ValidateInput(input); err != nil {
		vErr := NewValidationError(runner.ID(), err.Error())
		step.Fail(e.clock.Now(), vErr)
		e.publishStep(exec, step, nil)
		e.logger.ErrorContext(ctx, "step input validation failed",
			slog.String("execution_id", exec.ID),
			slog.String("step", runner.ID()),
			slog.String("error", err.Error()))
		return vErr
	}

	var lastErr error
	for attempt := 1; attempt <= config.RetryAttempts; attempt++ {
		if exec.GetStatus() != ExecutionStatusRunning {
			return NewCancelledError(runner.ID())
		}

		step.Start(e.clock.Now())
		e.publishStep(exec, step, nil)
		e.logger.InfoContext(ctx, "step started",
			slog.String("execution_id", exec.ID),
			slog.String("step", runner.ID()),
			slog.Int("attempt", attempt))

		output, err := e.runStepBody(ctx, exec, step, runner, input, config.Timeout)
		if err == nil {
			step.Complete(e.clock.Now(), output)
			e.publishStep(exec, step, output)
			e.logger.InfoContext(ctx, "step completed",
				slog.String("execution_id", exec.ID),
				slog.String("step", runner.ID()))
			return nil
		}

		lastErr = err
		if KindOf(err) == ErrorKindCancelled {
			return err
		}

		e.logger.WarnContext(ctx, "step attempt failed",
			slog.String("execution_id", exec.ID),
			slog.String("step", runner.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", config.RetryAttempts),
			slog.String("error", err.Error()))

		if !IsRetryable(err) || attempt >= config.RetryAttempts {
			break
		}

		// Exponential backoff between attempts: 2^attempt seconds.
		delay := time.Duration(1<<uint(attempt)) * time.Second
		select {
		case <-e.clock.After(delay):
		case <-ctx.Done():
			return NewCancelledError(runner.ID())
		}
		step.ResetForRetry()
		e.publishStep(exec, step, nil)
	}

	step.Fail(e.clock.Now(), lastErr)
	e.publishStep(exec, step, nil)
	return lastErr
}

// runStepBody waits out the step's simulated duration under the timeout
// deadline while the progress ticker advances toward the ceiling, then
// invokes the runner to produce the output.
func (e *Engine) runStepBody(ctx context.Context, exec *Execution, step *Step, runner StepRunner, input interface{}, timeout time.Duration) (interface{}, error) {
	est := runner.EstimatedDuration()
	tickEvery := est / (progressCeiling / progressTick)
	if tickEvery <= 0 {
		tickEvery = 50 * time.Millisecond
	}
	ticker := e.clock.NewTicker(tickEvery)
	defer ticker.Stop()

	done := e.clock.After(est)
	deadline := e.clock.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, NewCancelledError(runner.ID())
		case <-deadline:
			// Hard per-step deadline: no extra time, straight to the
			// retry/abort logic.
			return nil, NewTimeoutError(runner.ID(), timeout.String())
		case <-ticker.C():
			if exec.GetStatus() != ExecutionStatusRunning {
				return nil, NewCancelledError(runner.ID())
			}
			step.AdvanceProgress(progressTick, progressCeiling)
			e.publishStep(exec, step, nil)
		case <-done:
			if exec.GetStatus() != ExecutionStatusRunning {
				return nil, NewCancelledError(runner.ID())
			}
			output, err := runner.Run(ctx, input)
			if err != nil {
				return nil, NewStepError(runner.ID(), err)
			}
			return output, nil
		}
	}
}

// finish records the execution's terminal state and appends it to history.
func (e *Engine) finish(ctx context.Context, exec *Execution, runErr error) {
	now := e.clock.Now()
	switch {
	case exec.GetStatus() == ExecutionStatusCancelled:
		// Cancel already stamped status and end time.
	case runErr != nil:
		exec.Fail(now, runErr)
	default:
		var output interface{}
		if n := len(exec.Steps); n > 0 {
			output = exec.Steps[n-1].GetOutput()
		}
		exec.Complete(now, output)
	}

	e.publishExecution(exec)
	e.logger.InfoContext(ctx, "execution finished",
		slog.String("execution_id", exec.ID),
		slog.String("status", string(exec.GetStatus())),
		slog.Duration("duration", exec.ExecutionTime))

	e.mu.Lock()
	if e.current == exec {
		e.current = nil
	}
	if !exec.recorded {
		exec.recorded = true
		e.history = append(e.history, exec)
	}
	e.mu.Unlock()
}

// resume re-enters a previously failed execution at startIdx on behalf of
// the recovery coordinator. It never creates a second concurrent execution.
func (e *Engine) resume(ctx context.Context, exec *Execution, startIdx int) error {
	e.mu.Lock()
	if e.current != nil {
		runningID := e.current.ID
		e.mu.Unlock()
		return NewConflictError(runningID)
	}
	e.current = exec
	e.mu.Unlock()

	exec.Reopen()
	err := e.run(ctx, exec, startIdx)
	e.finish(ctx, exec, err)
	return err
}

func (e *Engine) publishStep(exec *Execution, step *Step, output interface{}) {
	step.mu.RLock()
	update := events.PipelineUpdate{
		PipelineID: exec.ID,
		StepID:     step.ID,
		Progress:   step.Progress,
		Status:     string(step.Status),
	}
	if step.Status == StepStatusFailed && step.ErrorMessage != "" {
		update.Data = map[string]string{"error": step.ErrorMessage}
	}
	step.mu.RUnlock()
	if output != nil {
		update.Data = output
	}
	e.publisher.Publish(update)
}

func (e *Engine) publishExecution(exec *Execution) {
	exec.mu.RLock()
	update := events.PipelineUpdate{
		PipelineID: exec.ID,
		Progress:   executionProgress(exec),
		Status:     string(exec.Status),
	}
	if exec.Status == ExecutionStatusFailed && exec.ErrorMessage != "" {
		update.Data = map[string]string{"error": exec.ErrorMessage}
	}
	exec.mu.RUnlock()
	e.publisher.Publish(update)
}

// executionProgress averages step progress. Caller holds exec.mu.
func executionProgress(exec *Execution) int {
	if len(exec.Steps) == 0 {
		return 0
	}
	total := 0
	for _, s := range exec.Steps {
		total += s.GetProgress()
	}
	return total / len(exec.Steps)
}
