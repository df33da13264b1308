package pipeline

import (
	"context"
	"fmt"
	"time"

	"eltpulse/internal/dataset"
)

// Step identifiers and names.
const (
	StepIDExtract   = "extract"
	StepIDLoad      = "load"
	StepIDTransform = "transform"

	StepNameExtract   = "Extract Records"
	StepNameLoad      = "Load Staging"
	StepNameTransform = "Transform Aggregates"
)

// StepRunner is the body of one pipeline step. The engine validates the
// upstream input, simulates the step's working duration, then calls Run to
// produce the output handed to the next step.
type StepRunner interface {
	ID() string
	Name() string
	Type() StepType

	// EstimatedDuration is how long the simulated step body takes.
	EstimatedDuration() time.Duration

	// ValidateInput checks the upstream output against this step's input
	// contract. A validation failure fails the step immediately, with no
	// retry benefit.
	ValidateInput(input interface{}) error

	// Run produces the step output from its validated input.
	Run(ctx context.Context, input interface{}) (interface{}, error)
}

// DefaultSteps returns the fixed extract, load, transform sequence.
func DefaultSteps() []StepRunner {
	return []StepRunner{
		&extractStep{},
		&loadStep{},
		&transformStep{},
	}
}

// ExtractResult is the extract step's output and the load step's input.
type ExtractResult struct {
	Records     []dataset.Record `json:"records"`
	RecordCount int              `json:"recordCount"`
	Fields      []string         `json:"fields"`
	ExtractedAt time.Time        `json:"extractedAt"`
}

// LoadResult is the load step's output and the transform step's input.
type LoadResult struct {
	Records    []dataset.Record `json:"records"`
	LoadedRows int              `json:"loadedRows"`
	Table      string           `json:"table"`
	LoadedAt   time.Time        `json:"loadedAt"`
}

// TransformResult is the transform step's output and the execution output.
type TransformResult struct {
	RowCount      int                    `json:"rowCount"`
	NumericTotals map[string]float64     `json:"numericTotals"`
	FieldSummary  map[string]int         `json:"fieldSummary"`
	Sample        map[string]interface{} `json:"sample,omitempty"`
	TransformedAt time.Time              `json:"transformedAt"`
}

type extractStep struct{}

func (s *extractStep) ID() string                       { return StepIDExtract }
func (s *extractStep) Name() string                     { return StepNameExtract }
func (s *extractStep) Type() StepType                   { return StepTypeExtract }
func (s *extractStep) EstimatedDuration() time.Duration { return 2 * time.Second }

// ValidateInput requires an array of uniform records.
func (s *extractStep) ValidateInput(input interface{}) error {
	records, ok := input.([]dataset.Record)
	if !ok {
		return fmt.Errorf("extract requires sample records, got %T", input)
	}
	if len(records) == 0 {
		return fmt.Errorf("extract requires at least one record")
	}
	fields := len(records[0])
	for i, r := range records {
		if len(r) != fields {
			return fmt.Errorf("record %d has %d fields, expected %d", i, len(r), fields)
		}
		for k := range records[0] {
			if _, ok := r[k]; !ok {
				return fmt.Errorf("record %d is missing field %q", i, k)
			}
		}
	}
	return nil
}

func (s *extractStep) Run(ctx context.Context, input interface{}) (interface{}, error) {
	records := input.([]dataset.Record)
	fields := make([]string, 0, len(records[0]))
	for k := range records[0] {
		fields = append(fields, k)
	}
	return &ExtractResult{
		Records:     records,
		RecordCount: len(records),
		Fields:      fields,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

type loadStep struct{}

func (s *loadStep) ID() string                       { return StepIDLoad }
func (s *loadStep) Name() string                     { return StepNameLoad }
func (s *loadStep) Type() StepType                   { return StepTypeLoad }
func (s *loadStep) EstimatedDuration() time.Duration { return 3 * time.Second }

// ValidateInput requires the extract step's metadata.
func (s *loadStep) ValidateInput(input interface{}) error {
	result, ok := input.(*ExtractResult)
	if !ok {
		return fmt.Errorf("load requires extract output, got %T", input)
	}
	if result.RecordCount == 0 || len(result.Records) == 0 {
		return fmt.Errorf("load requires extracted records")
	}
	if result.RecordCount != len(result.Records) {
		return fmt.Errorf("extract metadata reports %d records but carries %d", result.RecordCount, len(result.Records))
	}
	return nil
}

func (s *loadStep) Run(ctx context.Context, input interface{}) (interface{}, error) {
	extracted := input.(*ExtractResult)
	return &LoadResult{
		Records:    extracted.Records,
		LoadedRows: extracted.RecordCount,
		Table:      "staging_records",
		LoadedAt:   time.Now().UTC(),
	}, nil
}

type transformStep struct{}

func (s *transformStep) ID() string                       { return StepIDTransform }
func (s *transformStep) Name() string                     { return StepNameTransform }
func (s *transformStep) Type() StepType                   { return StepTypeTransform }
func (s *transformStep) EstimatedDuration() time.Duration { return 2500 * time.Millisecond }

// ValidateInput requires the load step's metadata.
func (s *transformStep) ValidateInput(input interface{}) error {
	result, ok := input.(*LoadResult)
	if !ok {
		return fmt.Errorf("transform requires load output, got %T", input)
	}
	if result.LoadedRows == 0 || len(result.Records) == 0 {
		return fmt.Errorf("transform requires loaded rows")
	}
	return nil
}

func (s *transformStep) Run(ctx context.Context, input interface{}) (interface{}, error) {
	loaded := input.(*LoadResult)

	totals := make(map[string]float64)
	fieldKinds := make(map[string]int)
	for _, r := range loaded.Records {
		for k, v := range r {
			switch n := v.(type) {
			case int:
				totals[k] += float64(n)
			case int64:
				totals[k] += float64(n)
			case float64:
				totals[k] += n
			default:
				fieldKinds[k]++
			}
		}
	}

	return &TransformResult{
		RowCount:      loaded.LoadedRows,
		NumericTotals: totals,
		FieldSummary:  fieldKinds,
		Sample:        loaded.Records[0],
		TransformedAt: time.Now().UTC(),
	}, nil
}
