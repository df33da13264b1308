package pipeline

import (
	"sync"
	"time"

	"eltpulse/internal/dataset"
)

// ExecutionStatus represents the overall execution status.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// StepStatus represents the current status of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepType identifies one of the three fixed pipeline steps.
type StepType string

const (
	StepTypeExtract   StepType = "extract"
	StepTypeLoad      StepType = "load"
	StepTypeTransform StepType = "transform"
)

// Step is the runtime state of one pipeline step. A step is owned
// exclusively by its execution and never shared across executions.
type Step struct {
	mu sync.RWMutex

	ID           string      `json:"id"`
	Name         string      `json:"name"`
	StepType     StepType    `json:"stepType"`
	Status       StepStatus  `json:"status"`
	Progress     int         `json:"progress"`
	StartTime    *time.Time  `json:"startTime,omitempty"`
	EndTime      *time.Time  `json:"endTime,omitempty"`
	Input        interface{} `json:"-"`
	Output       interface{} `json:"outputData,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Skipped      bool        `json:"skipped,omitempty"`
}

// NewStep creates a pending step.
func NewStep(id, name string, stepType StepType) *Step {
	return &Step{
		ID:       id,
		Name:     name,
		StepType: stepType,
		Status:   StepStatusPending,
	}
}

// Start marks the step running and resets progress.
func (s *Step) Start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartTime = &now
	s.EndTime = nil
	s.Status = StepStatusRunning
	s.Progress = 0
	s.ErrorMessage = ""
}

// Complete marks the step completed. A completed step always reports
// progress 100, even if the last tick undershot it.
func (s *Step) Complete(now time.Time, output interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndTime = &now
	s.Status = StepStatusCompleted
	s.Progress = 100
	s.Output = output
	s.ErrorMessage = ""
}

// Fail marks the step failed with the given error.
func (s *Step) Fail(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndTime = &now
	s.Status = StepStatusFailed
	if err != nil {
		s.ErrorMessage = err.Error()
	}
}

// ResetForRetry returns the step to pending before another attempt.
func (s *Step) ResetForRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StepStatusPending
	s.Progress = 0
	s.StartTime = nil
	s.EndTime = nil
	s.Output = nil
	s.ErrorMessage = ""
}

// MarkSkipped completes the step by passing its input through unchanged,
// annotating it as skipped.
func (s *Step) MarkSkipped(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndTime = &now
	s.Status = StepStatusCompleted
	s.Progress = 100
	s.Output = s.Input
	s.ErrorMessage = ""
	s.Skipped = true
}

// AdvanceProgress adds delta to the step progress, clamped to [0, limit].
func (s *Step) AdvanceProgress(delta, limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.Progress + delta
	if p > limit {
		p = limit
	}
	if p < 0 {
		p = 0
	}
	s.Progress = p
	return p
}

// GetStatus returns the current step status.
func (s *Step) GetStatus() StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// GetProgress returns the current step progress.
func (s *Step) GetProgress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Progress
}

// GetInput returns the step's input.
func (s *Step) GetInput() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Input
}

// GetOutput returns the step's output.
func (s *Step) GetOutput() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Output
}

// GetSkipped reports whether the step was skipped by recovery.
func (s *Step) GetSkipped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Skipped
}

// SetInput records the step's input before an attempt.
func (s *Step) SetInput(input interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Input = input
}

// Execution represents one run of the three-step pipeline against one
// dataset. It is created by the engine, mutated only during execution, and
// appended to the engine's history on reaching a terminal state.
type Execution struct {
	mu sync.RWMutex

	ID            string          `json:"id"`
	PipelineID    string          `json:"pipelineId"`
	DatasetID     string          `json:"datasetId"`
	Status        ExecutionStatus `json:"status"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
	ExecutionTime time.Duration   `json:"executionTime,omitempty"`
	Steps         []*Step         `json:"steps"`
	Input         []dataset.Record `json:"-"`
	Output        interface{}     `json:"outputData,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`

	config   ExecutionConfig
	recorded bool
}

// Start marks the execution running.
func (e *Execution) Start(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = ExecutionStatusRunning
	e.StartTime = now
}

// Complete marks the execution completed and records its duration.
func (e *Execution) Complete(now time.Time, output interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != ExecutionStatusRunning {
		return
	}
	e.EndTime = &now
	e.ExecutionTime = now.Sub(e.StartTime)
	e.Status = ExecutionStatusCompleted
	e.Output = output
	e.ErrorMessage = ""
}

// Fail marks the execution failed with the given error.
func (e *Execution) Fail(now time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != ExecutionStatusRunning {
		return
	}
	e.EndTime = &now
	e.ExecutionTime = now.Sub(e.StartTime)
	e.Status = ExecutionStatusFailed
	if err != nil {
		e.ErrorMessage = err.Error()
	}
}

// Cancel marks the execution cancelled immediately. A cancelled execution
// is never mutated back to running or completed; in-flight step timers are
// ignored once observed.
func (e *Execution) Cancel(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != ExecutionStatusRunning && e.Status != ExecutionStatusPending {
		return
	}
	e.EndTime = &now
	e.ExecutionTime = now.Sub(e.StartTime)
	e.Status = ExecutionStatusCancelled
}

// Reopen returns a failed execution to running so recovery can resume it.
// The existing history entry is updated in place rather than duplicated.
func (e *Execution) Reopen() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = ExecutionStatusRunning
	e.EndTime = nil
	e.ExecutionTime = 0
	e.ErrorMessage = ""
}

// GetStatus returns the current execution status.
func (e *Execution) GetStatus() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Status
}

// FailedStepIndex returns the index of the first failed step, or -1.
func (e *Execution) FailedStepIndex() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, step := range e.Steps {
		if step.GetStatus() == StepStatusFailed {
			return i
		}
	}
	return -1
}

// Config returns the configuration the execution was started with.
func (e *Execution) Config() ExecutionConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Clone creates a detached copy of the execution for read-only consumers.
func (e *Execution) Clone() *Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	clone := &Execution{
		ID:            e.ID,
		PipelineID:    e.PipelineID,
		DatasetID:     e.DatasetID,
		Status:        e.Status,
		StartTime:     e.StartTime,
		ExecutionTime: e.ExecutionTime,
		Output:        e.Output,
		ErrorMessage:  e.ErrorMessage,
		config:        e.config,
	}
	if e.EndTime != nil {
		end := *e.EndTime
		clone.EndTime = &end
	}
	clone.Steps = make([]*Step, len(e.Steps))
	for i, s := range e.Steps {
		s.mu.RLock()
		stepCopy := &Step{
			ID:           s.ID,
			Name:         s.Name,
			StepType:     s.StepType,
			Status:       s.Status,
			Progress:     s.Progress,
			Input:        s.Input,
			Output:       s.Output,
			ErrorMessage: s.ErrorMessage,
			Skipped:      s.Skipped,
		}
		if s.StartTime != nil {
			t := *s.StartTime
			stepCopy.StartTime = &t
		}
		if s.EndTime != nil {
			t := *s.EndTime
			stepCopy.EndTime = &t
		}
		s.mu.RUnlock()
		clone.Steps[i] = stepCopy
	}
	return clone
}
