// Package api defines the request and response types of the HTTP
// surface.
package api

// ChatMessage is one prior conversation turn.
type ChatMessage struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// AskRequest is a question posed against the configured database.
// Messages optionally carries earlier turns so follow-up questions can
// reference them.
type AskRequest struct {
	Question string        `json:"question" binding:"required"`
	Messages []ChatMessage `json:"messages,omitempty"`
}

// AskResponse carries the synthesized answer. ChartRef is empty on the
// synchronous path; streaming clients receive it as a later event, and
// it is also persisted on the run record once rendered.
type AskResponse struct {
	RunID       string           `json:"run_id"`
	Answer      string           `json:"answer"`
	SQL         string           `json:"sql,omitempty"`
	Rows        []map[string]any `json:"rows,omitempty"`
	Attempts    int              `json:"attempts"`
	Exhausted   bool             `json:"exhausted,omitempty"`
	ChartRef    string           `json:"chart_ref,omitempty"`
	ChartWanted bool             `json:"chart_pending,omitempty"`
}

// ChartEvent is the late visualization update on the streaming path.
type ChartEvent struct {
	RunID    string `json:"run_id"`
	ChartRef string `json:"chart_ref,omitempty"`
	Error    string `json:"error,omitempty"`
}
