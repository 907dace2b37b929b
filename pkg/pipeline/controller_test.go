package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cloudwego/eino/schema"

	"github.com/querypilot/querypilot/pkg/catalog"
	"github.com/querypilot/querypilot/pkg/tools"
)

type scriptedGenerator struct {
	outputs     []string
	calls       int
	seenHistory int
}

func (g *scriptedGenerator) GenerateSQL(ctx context.Context, question, schemaContext string, history []*schema.Message, priorErrors []string) (string, error) {
	idx := g.calls
	if idx >= len(g.outputs) {
		idx = len(g.outputs) - 1
	}
	g.calls++
	g.seenHistory = len(history)
	return g.outputs[idx], nil
}

type fakeAnswerer struct {
	answer string
	calls  int
}

func (a *fakeAnswerer) SynthesizeAnswer(ctx context.Context, question, sqlText string, rows []map[string]any) (string, error) {
	a.calls++
	return a.answer, nil
}

type fakeRenderer struct {
	url string
	err error
}

func (r *fakeRenderer) Render(ctx context.Context, chartConfig map[string]any) (string, error) {
	return r.url, r.err
}

func newTestCatalog(t *testing.T) (*catalog.Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return catalog.NewWithDB(db, catalog.DialectSQLite, 2), mock
}

// expectSchemaPhase wires the table listing and schema snapshot
// queries every run performs before its first generation attempt.
func expectSchemaPhase(mock sqlmock.Sqlmock) {
	tableRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"name"}).AddRow("orders")
	}
	mock.ExpectQuery("SELECT name FROM sqlite_master").WillReturnRows(tableRows())
	mock.ExpectQuery("SELECT name FROM sqlite_master").WillReturnRows(tableRows())
	mock.ExpectQuery("PRAGMA table_info").
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "region", "TEXT", 0, nil, 0).
			AddRow(1, "total", "REAL", 0, nil, 0))
	mock.ExpectQuery(`SELECT \* FROM "orders" LIMIT 2`).
		WillReturnRows(sqlmock.NewRows([]string{"region", "total"}).AddRow("north", 10.0))
}

func TestRunRepairsRejectedCandidate(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)
	mock.ExpectQuery("SELECT region, total FROM orders LIMIT 3").
		WillReturnRows(sqlmock.NewRows([]string{"region", "total"}).AddRow("north", 10.0))

	gen := &scriptedGenerator{outputs: []string{
		"DELETE FROM orders",
		"SELECT region, total FROM orders",
	}}
	ans := &fakeAnswerer{answer: "The north region leads."}
	ts := tools.NewToolset(cat, 3)

	c := NewController(cat, ts, gen, ans, WithMaxAttempts(3))
	result, err := c.Run(context.Background(), "which region leads?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", result.Attempts)
	}
	if result.Exhausted {
		t.Fatal("run should not be exhausted")
	}
	if result.FinalAnswer != "The north region leads." {
		t.Fatalf("answer = %q", result.FinalAnswer)
	}
	if gen.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", gen.calls)
	}
}

func TestRunRepairsExecutionFailure(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)
	mock.ExpectQuery("SELECT nope FROM orders LIMIT 3").
		WillReturnError(errors.New("no such column: nope"))
	mock.ExpectQuery("SELECT region FROM orders LIMIT 3").
		WillReturnRows(sqlmock.NewRows([]string{"region"}).AddRow("north"))

	gen := &scriptedGenerator{outputs: []string{
		"SELECT nope FROM orders",
		"SELECT region FROM orders",
	}}
	ans := &fakeAnswerer{answer: "north"}
	ts := tools.NewToolset(cat, 3)

	c := NewController(cat, ts, gen, ans)
	result, err := c.Run(context.Background(), "which regions exist?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", result.Attempts)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(result.Rows))
	}
}

func TestRunExhaustsBudgetGracefully(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)
	// No execution queries expected: every candidate is rejected
	// before reaching the database.

	gen := &scriptedGenerator{outputs: []string{"DELETE FROM orders"}}
	ans := &fakeAnswerer{answer: "unused"}
	ts := tools.NewToolset(cat, 3)

	c := NewController(cat, ts, gen, ans, WithMaxAttempts(3))
	result, err := c.Run(context.Background(), "remove everything")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.Exhausted {
		t.Fatal("expected exhausted run")
	}
	if result.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.Attempts)
	}
	if ans.calls != 0 {
		t.Fatal("answerer must not run for an exhausted budget")
	}
	if !strings.Contains(result.FinalAnswer, "3 attempts") {
		t.Fatalf("unexpected graceful answer: %q", result.FinalAnswer)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("rejected candidates must not execute: %v", err)
	}
}

func TestRunCapsResultRows(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)

	returned := sqlmock.NewRows([]string{"region", "total"})
	for i := 0; i < 10; i++ {
		returned.AddRow("r", float64(i))
	}
	mock.ExpectQuery("SELECT region, total FROM orders LIMIT 50").WillReturnRows(returned)

	gen := &scriptedGenerator{outputs: []string{"SELECT region, total FROM orders LIMIT 50"}}
	ans := &fakeAnswerer{answer: "ok"}
	ts := tools.NewToolset(cat, 3)

	c := NewController(cat, ts, gen, ans)
	result, err := c.Run(context.Background(), "totals per region")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d, want cap of 3", len(result.Rows))
	}
}

func TestRunDeliversChartUpdate(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)
	mock.ExpectQuery("SELECT region, total FROM orders LIMIT 3").
		WillReturnRows(sqlmock.NewRows([]string{"region", "total"}).
			AddRow("north", 10.0).
			AddRow("south", 20.0))

	gen := &scriptedGenerator{outputs: []string{"SELECT region, total FROM orders"}}
	ans := &fakeAnswerer{answer: "see chart"}
	ts := tools.NewToolset(cat, 3)
	renderer := &fakeRenderer{url: "https://quickchart.io/chart/render/x1?w=640"}

	c := NewController(cat, ts, gen, ans, WithRenderer(renderer, 5*time.Second))
	result, err := c.Run(context.Background(), "chart totals per region")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Chart == nil {
		t.Fatal("expected chart channel")
	}

	select {
	case update, ok := <-result.Chart:
		if !ok {
			t.Fatal("chart channel closed without update")
		}
		if update.Err != nil {
			t.Fatalf("chart error: %v", update.Err)
		}
		if update.Ref != "https://quickchart.io/chart/render/x1" {
			t.Fatalf("chart ref = %q", update.Ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chart update")
	}
}

func TestRunChartFailureIsNonFatal(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)
	mock.ExpectQuery("SELECT region, total FROM orders LIMIT 3").
		WillReturnRows(sqlmock.NewRows([]string{"region", "total"}).
			AddRow("north", 10.0).
			AddRow("south", 20.0))

	gen := &scriptedGenerator{outputs: []string{"SELECT region, total FROM orders"}}
	ans := &fakeAnswerer{answer: "totals computed"}
	ts := tools.NewToolset(cat, 3)
	renderer := &fakeRenderer{err: errors.New("endpoint down")}

	c := NewController(cat, ts, gen, ans, WithRenderer(renderer, 5*time.Second))
	result, err := c.Run(context.Background(), "chart totals per region")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "totals computed" {
		t.Fatalf("answer = %q", result.FinalAnswer)
	}

	select {
	case update := <-result.Chart:
		if update.Err == nil {
			t.Fatal("expected chart error update")
		}
		if update.Ref != "" {
			t.Fatalf("failed chart must not carry a ref, got %q", update.Ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chart update")
	}
}

func TestRunPassesHistoryToGenerator(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)
	mock.ExpectQuery("SELECT region FROM orders LIMIT 3").
		WillReturnRows(sqlmock.NewRows([]string{"region"}).AddRow("north"))

	gen := &scriptedGenerator{outputs: []string{"SELECT region FROM orders"}}
	ts := tools.NewToolset(cat, 3)
	history := []*schema.Message{
		schema.UserMessage("show sales by region"),
		schema.AssistantMessage("The north region leads with 10.", nil),
	}

	c := NewController(cat, ts, gen, &fakeAnswerer{answer: "ok"}, WithHistory(history))
	if _, err := c.Run(context.Background(), "and which regions were those?"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gen.seenHistory != 2 {
		t.Fatalf("generator saw %d history messages, want 2", gen.seenHistory)
	}
}

func TestRunCancelledContext(t *testing.T) {
	cat, mock := newTestCatalog(t)
	expectSchemaPhase(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &scriptedGenerator{outputs: []string{"SELECT region FROM orders"}}
	ts := tools.NewToolset(cat, 3)
	c := NewController(cat, ts, gen, &fakeAnswerer{})

	_, err := c.Run(ctx, "anything")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	_ = mock
}
