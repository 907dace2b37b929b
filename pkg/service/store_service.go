// Run store - persists pipeline runs and their tool invocations
package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/querypilot/querypilot/pkg/db"
	"github.com/querypilot/querypilot/pkg/utils"
)

var ErrRunNotFound = errors.New("run not found")

// StoreService persists runs and tool invocations to a local SQLite
// database, independent of the target database being queried.
type StoreService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStoreService opens (or creates) the run store at path.
func NewStoreService(path string) (*StoreService, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &StoreService{db: gdb, logger: utils.GetLogger()}, nil
}

// NewStoreServiceWithDB wraps an existing gorm handle. Used by tests.
func NewStoreServiceWithDB(gdb *gorm.DB) *StoreService {
	return &StoreService{db: gdb, logger: utils.GetLogger()}
}

// AutoMigrate creates database tables
func (s *StoreService) AutoMigrate() error {
	return s.db.AutoMigrate(&db.Run{}, &db.ToolInvocation{})
}

// CreateRun records the start of a pipeline run.
func (s *StoreService) CreateRun(runID, question string) (*db.Run, error) {
	run := &db.Run{
		ID:       runID,
		Question: question,
		Status:   db.RunStatusRunning,
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun records the outcome of a run.
func (s *StoreService) CompleteRun(runID, sqlText, finalAnswer, status string, attempts int) error {
	result := s.db.Model(&db.Run{}).Where("id = ?", runID).Updates(map[string]any{
		"sql":          sqlText,
		"final_answer": finalAnswer,
		"status":       status,
		"attempts":     attempts,
		"updated_at":   time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SetChartRef attaches the late chart reference to a completed run.
func (s *StoreService) SetChartRef(runID, chartRef string) error {
	result := s.db.Model(&db.Run{}).Where("id = ?", runID).Update("chart_ref", chartRef)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun fetches one run.
func (s *StoreService) GetRun(runID string) (*db.Run, error) {
	var run db.Run
	if err := s.db.First(&run, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *StoreService) ListRuns(limit int) ([]db.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []db.Run
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// RecordInvocation satisfies the tool invocation recorder. Failures
// are logged, never propagated: audit storage must not break a run.
func (s *StoreService) RecordInvocation(runID, toolName, args, result string, elapsed time.Duration, invokeErr error) {
	record := &db.ToolInvocation{
		RunID:      runID,
		ToolName:   toolName,
		Args:       args,
		Result:     truncate(result, 4000),
		DurationMS: elapsed.Milliseconds(),
	}
	if invokeErr != nil {
		record.Error = invokeErr.Error()
	}
	if err := s.db.Create(record).Error; err != nil {
		s.logger.Warn("Failed to record tool invocation", "run_id", runID, "tool", toolName, "error", err)
	}
}

// ListInvocations returns the tool calls of one run in order.
func (s *StoreService) ListInvocations(runID string) ([]db.ToolInvocation, error) {
	var invocations []db.ToolInvocation
	if err := s.db.Where("run_id = ?", runID).Order("id ASC").Find(&invocations).Error; err != nil {
		return nil, err
	}
	return invocations, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
