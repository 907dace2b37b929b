// Package pipeline implements the question-to-answer run: generate a
// candidate SQL query, validate it locally, execute it through the
// bounded tool surface, synthesize a text answer, and optionally chart
// the result in the background.
package pipeline

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Status tracks a candidate query through validation.
type Status string

const (
	StatusGenerated     Status = "generated"
	StatusSyntaxChecked Status = "syntax_checked"
	StatusAccepted      Status = "accepted"
	StatusRejected      Status = "rejected"
)

// RunState is the mutable state of one pipeline run. It is owned by a
// single goroutine; the chart worker receives copies, never the state
// itself.
type RunState struct {
	RunID    string
	Question string
	History  []*schema.Message

	CandidateSQL string
	Status       Status

	AttemptCount     int
	ValidationErrors []string

	ResultRows  []map[string]any
	FinalAnswer string
	ChartRef    string
}

// ValidationError is a local rejection of a candidate query, carrying
// the detail fed back into the next generation attempt.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Detail)
}

// BudgetExhaustedError indicates the shared attempt budget ran out
// before any candidate query executed successfully.
type BudgetExhaustedError struct {
	Attempts int
	LastErr  string
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("attempt budget exhausted after %d attempts: %s", e.Attempts, e.LastErr)
}
