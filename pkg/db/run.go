// Database models for pipeline runs
package db

import "time"

// Run records one question-to-answer pipeline run.
type Run struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Question    string    `json:"question" gorm:"type:text;not null"`
	SQL         string    `json:"sql,omitempty" gorm:"type:text"`
	FinalAnswer string    `json:"final_answer,omitempty" gorm:"type:text"`
	ChartRef    string    `json:"chart_ref,omitempty" gorm:"size:500"`
	Attempts    int       `json:"attempts"`
	Status      string    `json:"status" gorm:"size:20;default:'running'"` // running, completed, exhausted, failed
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Run) TableName() string {
	return "runs"
}

// Run status
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusExhausted = "exhausted"
	RunStatusFailed    = "failed"
)

// ToolInvocation records one tool call made during a run.
type ToolInvocation struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID      string    `json:"run_id" gorm:"index;size:36;not null"`
	ToolName   string    `json:"tool_name" gorm:"size:50;not null"`
	Args       string    `json:"args,omitempty" gorm:"type:text"`
	Result     string    `json:"result,omitempty" gorm:"type:text"`
	Error      string    `json:"error,omitempty" gorm:"type:text"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ToolInvocation) TableName() string {
	return "tool_invocations"
}
