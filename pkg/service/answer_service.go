// Answer service - wires the pipeline to the catalog, the chat model,
// the run store, and the chart renderer
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/querypilot/querypilot/pkg/catalog"
	"github.com/querypilot/querypilot/pkg/config"
	"github.com/querypilot/querypilot/pkg/db"
	"github.com/querypilot/querypilot/pkg/pipeline"
	"github.com/querypilot/querypilot/pkg/tools"
	"github.com/querypilot/querypilot/pkg/utils"
	"github.com/querypilot/querypilot/pkg/viz"
)

// AnswerService runs the question-to-answer pipeline for API callers.
// The chat model and catalog are shared; each Ask gets its own toolset
// and controller so tool invocations are recorded under the right run.
type AnswerService struct {
	cfg       *config.AppConfig
	catalog   *catalog.Catalog
	store     *StoreService
	generator pipeline.Generator
	answerer  pipeline.Answerer
	renderer  viz.Renderer
	logger    *slog.Logger
}

func NewAnswerService(ctx context.Context, cfg *config.AppConfig, cat *catalog.Catalog, store *StoreService, modelService *ModelService) (*AnswerService, error) {
	chatModel, err := modelService.CreateChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	s := &AnswerService{
		cfg:       cfg,
		catalog:   cat,
		store:     store,
		generator: pipeline.NewModelGenerator(chatModel, string(cat.Dialect()), cfg.MaxRows()),
		answerer:  pipeline.NewModelAnswerer(chatModel),
		logger:    utils.GetLogger(),
	}
	if cfg.EnableVisualization() {
		s.renderer = viz.NewQuickChartRenderer(cfg.ChartEndpoint(), time.Duration(cfg.ChartTimeoutSeconds())*time.Second)
	}
	return s, nil
}

// Ask answers one question, optionally in the context of prior turns.
// The returned result's Chart channel, when non-nil, delivers the late
// chart reference; the reference is also persisted on the run record
// regardless of whether the caller consumes the channel.
func (s *AnswerService) Ask(ctx context.Context, question string, history []*schema.Message) (*pipeline.Result, error) {
	runID := uuid.New().String()
	if _, err := s.store.CreateRun(runID, question); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	toolset := tools.NewToolset(s.catalog, s.cfg.MaxRows(),
		tools.WithRecorder(s.store, runID),
		tools.WithQueryTimeout(time.Duration(s.cfg.QueryTimeoutSeconds())*time.Second),
	)

	opts := []pipeline.ControllerOption{
		pipeline.WithRunID(runID),
		pipeline.WithMaxAttempts(s.cfg.MaxAttempts()),
		pipeline.WithHistory(history),
	}
	if s.renderer != nil {
		opts = append(opts, pipeline.WithRenderer(s.renderer, time.Duration(s.cfg.ChartTimeoutSeconds())*time.Second))
	}
	controller := pipeline.NewController(s.catalog, toolset, s.generator, s.answerer, opts...)

	result, err := controller.Run(ctx, question)
	if err != nil {
		if storeErr := s.store.CompleteRun(runID, "", "", db.RunStatusFailed, 0); storeErr != nil {
			s.logger.Warn("Failed to record failed run", "run_id", runID, "error", storeErr)
		}
		return nil, err
	}

	status := db.RunStatusCompleted
	if result.Exhausted {
		status = db.RunStatusExhausted
	}
	if err := s.store.CompleteRun(runID, result.SQL, result.FinalAnswer, status, result.Attempts); err != nil {
		s.logger.Warn("Failed to record run outcome", "run_id", runID, "error", err)
	}

	if result.Chart != nil {
		result.Chart = s.persistChart(runID, result.Chart)
	}
	return result, nil
}

// persistChart tees the chart channel: the reference is written to the
// run record, then forwarded to the caller.
func (s *AnswerService) persistChart(runID string, updates <-chan pipeline.ChartUpdate) <-chan pipeline.ChartUpdate {
	out := make(chan pipeline.ChartUpdate, 1)
	go func() {
		defer close(out)
		update, ok := <-updates
		if !ok {
			return
		}
		if update.Ref != "" {
			if err := s.store.SetChartRef(runID, update.Ref); err != nil {
				s.logger.Warn("Failed to persist chart ref", "run_id", runID, "error", err)
			}
		}
		out <- update
	}()
	return out
}

// History returns recent runs from the store.
func (s *AnswerService) History(limit int) ([]db.Run, error) {
	return s.store.ListRuns(limit)
}

// RunDetail returns one run with its recorded tool invocations.
func (s *AnswerService) RunDetail(runID string) (*db.Run, []db.ToolInvocation, error) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return nil, nil, err
	}
	invocations, err := s.store.ListInvocations(runID)
	if err != nil {
		return nil, nil, err
	}
	return run, invocations, nil
}
