package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/querypilot/querypilot/pkg/catalog"
	"github.com/querypilot/querypilot/pkg/sqlcheck"
	"github.com/querypilot/querypilot/pkg/tools"
	"github.com/querypilot/querypilot/pkg/utils"
	"github.com/querypilot/querypilot/pkg/viz"
)

// ChartUpdate is the late visualization result delivered after the
// text answer. A zero Ref with a non-nil Err means charting failed and
// no reference will arrive.
type ChartUpdate struct {
	Ref string
	Err error
}

// Result is the outcome of one pipeline run. Chart is non-nil only
// when a chart worker was started; it delivers at most one update and
// is then closed.
type Result struct {
	RunID       string
	Question    string
	SQL         string
	FinalAnswer string
	Rows        []map[string]any
	Attempts    int
	Exhausted   bool
	Chart       <-chan ChartUpdate
}

// Controller drives the generate, validate, execute, answer loop. One
// Controller serves concurrent runs; all per-run state lives in the
// Run call.
type Controller struct {
	catalog     *catalog.Catalog
	toolset     *tools.Toolset
	generator   Generator
	answerer    Answerer
	renderer    viz.Renderer
	maxAttempts int
	enableViz   bool
	chartWait   time.Duration
	runID       string
	history     []*schema.Message
	logger      *slog.Logger
}

type ControllerOption func(*Controller)

// WithRenderer enables background chart generation.
func WithRenderer(r viz.Renderer, timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		c.renderer = r
		c.enableViz = r != nil
		if timeout > 0 {
			c.chartWait = timeout
		}
	}
}

func WithMaxAttempts(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRunID pins the run identifier, letting callers create the run
// record before the pipeline starts.
func WithRunID(id string) ControllerOption {
	return func(c *Controller) { c.runID = id }
}

// WithHistory supplies prior conversation turns for follow-up
// questions.
func WithHistory(history []*schema.Message) ControllerOption {
	return func(c *Controller) { c.history = history }
}

func NewController(cat *catalog.Catalog, ts *tools.Toolset, gen Generator, ans Answerer, opts ...ControllerOption) *Controller {
	c := &Controller{
		catalog:     cat,
		toolset:     ts,
		generator:   gen,
		answerer:    ans,
		maxAttempts: 3,
		chartWait:   60 * time.Second,
		logger:      utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run answers one question. Validation failures and execution failures
// draw from the same attempt budget; once a query executes, answer
// synthesis proceeds and any chart is produced in the background. A
// connection failure aborts the run immediately.
func (c *Controller) Run(ctx context.Context, question string) (*Result, error) {
	runID := c.runID
	if runID == "" {
		runID = uuid.New().String()
	}
	state := &RunState{
		RunID:    runID,
		Question: question,
		History:  c.history,
	}
	logger := c.logger.With("run_id", state.RunID)

	tableNames, err := c.catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := c.catalog.GetSchema(ctx, tableNames)
	if err != nil {
		return nil, err
	}
	schemaContext := snap.PromptContext()

	var executed bool
	for state.AttemptCount < c.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state.AttemptCount++

		sqlText, err := c.generator.GenerateSQL(ctx, question, schemaContext, state.History, state.ValidationErrors)
		if err != nil {
			logger.Warn("Generation attempt failed", "attempt", state.AttemptCount, "error", err)
			state.ValidationErrors = append(state.ValidationErrors, err.Error())
			continue
		}
		state.CandidateSQL = sqlText
		state.Status = StatusGenerated

		vErr := Validate(sqlText, tableNames)
		if vErr == nil || vErr.Reason != string(sqlcheck.ReasonSyntax) {
			state.Status = StatusSyntaxChecked
		}
		if vErr != nil {
			state.Status = StatusRejected
			state.ValidationErrors = append(state.ValidationErrors, vErr.Error())
			logger.Info("Candidate rejected", "attempt", state.AttemptCount, "reason", vErr.Reason)
			continue
		}
		state.Status = StatusAccepted

		rows, err := c.toolset.QueryRows(ctx, sqlText)
		if err != nil {
			var connErr *catalog.ConnectionError
			if errors.As(err, &connErr) {
				return nil, connErr
			}
			// Execution failures re-enter the repair loop with the
			// database's own error text as feedback.
			state.ValidationErrors = append(state.ValidationErrors, err.Error())
			logger.Info("Execution attempt failed", "attempt", state.AttemptCount, "error", err)
			continue
		}

		state.ResultRows = rows
		executed = true
		break
	}

	if !executed {
		lastErr := ""
		if n := len(state.ValidationErrors); n > 0 {
			lastErr = state.ValidationErrors[n-1]
		}
		logger.Warn("Attempt budget exhausted", "attempts", state.AttemptCount)
		return &Result{
			RunID:       state.RunID,
			Question:    question,
			FinalAnswer: exhaustedAnswer(question, state.AttemptCount, lastErr),
			Attempts:    state.AttemptCount,
			Exhausted:   true,
		}, nil
	}

	answer, err := c.answerer.SynthesizeAnswer(ctx, question, state.CandidateSQL, state.ResultRows)
	if err != nil {
		return nil, err
	}
	state.FinalAnswer = answer

	result := &Result{
		RunID:       state.RunID,
		Question:    question,
		SQL:         state.CandidateSQL,
		FinalAnswer: answer,
		Rows:        state.ResultRows,
		Attempts:    state.AttemptCount,
	}

	if c.enableViz && viz.ShouldChart(question, state.ResultRows) {
		result.Chart = c.startChartWorker(state.RunID, question, state.ResultRows)
	}

	return result, nil
}

// startChartWorker renders the chart off the answer path. The worker
// gets its own deadline so a stuck renderer cannot leak; failures are
// logged and delivered as an update with no reference.
func (c *Controller) startChartWorker(runID, question string, rows []map[string]any) <-chan ChartUpdate {
	updates := make(chan ChartUpdate, 1)

	go func() {
		defer close(updates)

		ctx, cancel := context.WithTimeout(context.Background(), c.chartWait)
		defer cancel()

		cfg := viz.BuildConfig(question, rows)
		if cfg == nil {
			c.logger.Debug("No chartable series in result", "run_id", runID)
			return
		}

		rawURL, err := c.renderer.Render(ctx, cfg)
		if err != nil {
			c.logger.Warn("Chart generation failed", "run_id", runID, "error", err)
			updates <- ChartUpdate{Err: err}
			return
		}

		ref := viz.SelectChartRef([]string{rawURL})
		if ref == "" {
			c.logger.Warn("Chart endpoint returned unusable url", "run_id", runID, "url", rawURL)
			updates <- ChartUpdate{Err: &viz.VisualizationError{Err: errors.New("unusable chart url")}}
			return
		}
		updates <- ChartUpdate{Ref: ref}
	}()

	return updates
}
