package viz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShouldChart(t *testing.T) {
	series := []map[string]any{
		{"region": "north", "total": 10.0},
		{"region": "south", "total": 20.0},
	}

	if !ShouldChart("plot sales by region", series) {
		t.Fatal("explicit chart request should chart")
	}
	if !ShouldChart("sales by region", series) {
		t.Fatal("series-shaped result should chart")
	}
	if ShouldChart("how many users are there", []map[string]any{{"count": 42}}) {
		t.Fatal("single scalar row should not chart")
	}
	if ShouldChart("chart the sales", nil) {
		t.Fatal("no rows should not chart")
	}
}

func TestChartType(t *testing.T) {
	cases := map[string]string{
		"show me a pie of market share":   "pie",
		"revenue trend over time":         "line",
		"compare totals per region":       "bar",
		"what are the top five products?": "bar",
	}
	for question, want := range cases {
		if got := ChartType(question); got != want {
			t.Fatalf("ChartType(%q) = %s, want %s", question, got, want)
		}
	}
}

func TestBuildConfig(t *testing.T) {
	rows := []map[string]any{
		{"region": "north", "total": 10.5},
		{"region": "south", "total": 20.0},
	}
	cfg := BuildConfig("totals per region", rows)
	if cfg == nil {
		t.Fatal("expected config")
	}
	if cfg["type"] != "bar" {
		t.Fatalf("type = %v", cfg["type"])
	}

	if cfg := BuildConfig("anything", []map[string]any{{"a": "x", "b": "y"}, {"a": "z", "b": "w"}}); cfg != nil {
		t.Fatal("no numeric column should yield nil config")
	}
}

func TestRendererDefaultsToHostedEndpoint(t *testing.T) {
	r := NewQuickChartRenderer("", 5*time.Second)
	if r.endpoint != DefaultEndpoint {
		t.Fatalf("endpoint = %q, want %q", r.endpoint, DefaultEndpoint)
	}
}

func TestSeriesColumnsStableOrder(t *testing.T) {
	rows := []map[string]any{
		{"region": "north", "city": "oslo", "total": 10.0, "count": 3},
		{"region": "south", "city": "rome", "total": 20.0, "count": 5},
	}
	label, value := seriesColumns(rows)
	for i := 0; i < 20; i++ {
		l, v := seriesColumns(rows)
		if l != label || v != value {
			t.Fatalf("series columns changed between calls: (%s,%s) vs (%s,%s)", label, value, l, v)
		}
	}
	if label != "city" || value != "count" {
		t.Fatalf("label,value = %s,%s; want first columns in name order", label, value)
	}
}

func TestQuickChartRendererRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chart/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req quickChartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(quickChartResponse{Success: true, URL: "https://quickchart.io/chart/render/abc"})
	}))
	defer srv.Close()

	r := NewQuickChartRenderer(srv.URL, 5*time.Second)
	url, err := r.Render(context.Background(), map[string]any{"type": "bar"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if url != "https://quickchart.io/chart/render/abc" {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestQuickChartRendererFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewQuickChartRenderer(srv.URL, 5*time.Second)
	_, err := r.Render(context.Background(), map[string]any{"type": "bar"})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*VisualizationError); !ok {
		t.Fatalf("expected VisualizationError, got %T", err)
	}
}
