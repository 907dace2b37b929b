package service

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/querypilot/querypilot/pkg/db"
)

func newTestStore(t *testing.T) *StoreService {
	t.Helper()
	store, err := NewStoreService(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStoreService: %v", err)
	}
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)

	run, err := store.CreateRun("run-1", "how many orders?")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != db.RunStatusRunning {
		t.Fatalf("status = %s, want running", run.Status)
	}

	if err := store.CompleteRun("run-1", "SELECT count(*) FROM orders", "There are 42 orders.", db.RunStatusCompleted, 2); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if err := store.SetChartRef("run-1", "https://quickchart.io/chart/render/a"); err != nil {
		t.Fatalf("SetChartRef: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != db.RunStatusCompleted || got.Attempts != 2 {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.ChartRef != "https://quickchart.io/chart/render/a" {
		t.Fatalf("chart_ref = %q", got.ChartRef)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.CompleteRun("missing", "", "", db.RunStatusFailed, 0); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRecordAndListInvocations(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateRun("run-2", "list tables"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	store.RecordInvocation("run-2", "list_tables", "{}", `{"tables":["orders"]}`, 3*time.Millisecond, nil)
	store.RecordInvocation("run-2", "run_query", `{"sql":"SELECT nope"}`, "", time.Millisecond, errors.New("no such column"))

	invocations, err := store.ListInvocations("run-2")
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(invocations) != 2 {
		t.Fatalf("invocations = %d, want 2", len(invocations))
	}
	if invocations[0].ToolName != "list_tables" {
		t.Fatalf("first invocation = %s", invocations[0].ToolName)
	}
	if invocations[0].DurationMS != 3 {
		t.Fatalf("first invocation duration = %dms, want 3", invocations[0].DurationMS)
	}
	if invocations[1].Error == "" {
		t.Fatal("second invocation should carry error text")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.CreateRun(id, "q "+id); err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
	}

	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
}
