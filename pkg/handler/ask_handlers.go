// HTTP handlers for the question answering API
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"

	"github.com/querypilot/querypilot/pkg/api"
	"github.com/querypilot/querypilot/pkg/catalog"
	"github.com/querypilot/querypilot/pkg/service"
	"github.com/querypilot/querypilot/pkg/utils"
)

// AskHandler serves the pipeline over HTTP.
type AskHandler struct {
	answerService *service.AnswerService
	logger        *slog.Logger
}

func NewAskHandler(answerService *service.AnswerService) *AskHandler {
	return &AskHandler{
		answerService: answerService,
		logger:        utils.GetLogger(),
	}
}

// HandleAsk answers a question synchronously. The chart reference, if
// one is produced, lands on the run record; clients poll the run or
// use the streaming endpoint to receive it.
func (h *AskHandler) HandleAsk(c *gin.Context) {
	var req api.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	result, err := h.answerService.Ask(c.Request.Context(), req.Question, toSchemaMessages(req.Messages))
	if err != nil {
		status := http.StatusInternalServerError
		var connErr *catalog.ConnectionError
		if errors.As(err, &connErr) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.AskResponse{
		RunID:       result.RunID,
		Answer:      result.FinalAnswer,
		SQL:         result.SQL,
		Rows:        result.Rows,
		Attempts:    result.Attempts,
		Exhausted:   result.Exhausted,
		ChartWanted: result.Chart != nil,
	})
}

// HandleAskStream answers over SSE: one "answer" event as soon as the
// text answer is ready, then a "chart" event if a chart arrives, then
// [DONE].
func (h *AskHandler) HandleAskStream(c *gin.Context) {
	var req api.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sseWriter := NewSSEWriter(c.Writer)

	result, err := h.answerService.Ask(c.Request.Context(), req.Question, toSchemaMessages(req.Messages))
	if err != nil {
		_ = sseWriter.WriteEvent("error", gin.H{"error": err.Error()})
		return
	}

	if err := sseWriter.WriteEvent("answer", api.AskResponse{
		RunID:       result.RunID,
		Answer:      result.FinalAnswer,
		SQL:         result.SQL,
		Rows:        result.Rows,
		Attempts:    result.Attempts,
		Exhausted:   result.Exhausted,
		ChartWanted: result.Chart != nil,
	}); err != nil {
		return
	}

	if result.Chart != nil {
		select {
		case update, ok := <-result.Chart:
			if ok {
				event := api.ChartEvent{RunID: result.RunID, ChartRef: update.Ref}
				if update.Err != nil {
					event.Error = update.Err.Error()
				}
				_ = sseWriter.WriteEvent("chart", event)
			}
		case <-c.Request.Context().Done():
			// Client disconnected; the chart ref is still persisted on
			// the run record by the answer service.
			return
		}
	}

	sseWriter.WriteDone()
}

// HandleListRuns returns recent runs.
func (h *AskHandler) HandleListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.answerService.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleGetRun returns one run with its tool invocations.
func (h *AskHandler) HandleGetRun(c *gin.Context) {
	runID := c.Param("id")

	run, invocations, err := h.answerService.RunDetail(runID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "tool_invocations": invocations})
}

// toSchemaMessages converts API conversation turns to model messages.
// Unknown roles are treated as user turns.
func toSchemaMessages(messages []api.ChatMessage) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		if m.Role == "assistant" {
			out = append(out, schema.AssistantMessage(m.Content, nil))
		} else {
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// SSEWriter wraps gin.ResponseWriter for proper SSE streaming
type SSEWriter struct {
	writer  gin.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w gin.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{
		writer:  w,
		flusher: flusher,
	}
}

// WriteEvent writes an SSE event
func (w *SSEWriter) WriteEvent(event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if event != "" {
		fmt.Fprintf(w.writer, "event: %s\n", event)
	}
	fmt.Fprintf(w.writer, "data: %s\n\n", jsonData)

	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// WriteDone writes the done event
func (w *SSEWriter) WriteDone() {
	fmt.Fprintf(w.writer, "data: [DONE]\n\n")
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
