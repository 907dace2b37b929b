// Package viz turns query results into chart references. Rendering is
// delegated to a QuickChart-compatible endpoint; everything else here
// is heuristics over the question text and result shape.
package viz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/pkg/utils"
)

// VisualizationError indicates chart generation failed. It never fails
// a pipeline run; callers log it and omit the chart reference.
type VisualizationError struct {
	Err error
}

func (e *VisualizationError) Error() string {
	return fmt.Sprintf("visualization failed: %v", e.Err)
}

func (e *VisualizationError) Unwrap() error { return e.Err }

// Renderer produces a chart URL from a chart configuration.
type Renderer interface {
	Render(ctx context.Context, chartConfig map[string]any) (string, error)
}

// QuickChartRenderer renders through a QuickChart /chart/create
// endpoint.
type QuickChartRenderer struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// DefaultEndpoint is the hosted QuickChart service, used when no
// endpoint is configured.
const DefaultEndpoint = "https://quickchart.io"

// NewQuickChartRenderer builds a renderer for the given endpoint. An
// empty endpoint selects the hosted quickchart.io service.
func NewQuickChartRenderer(endpoint string, timeout time.Duration) *QuickChartRenderer {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &QuickChartRenderer{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   utils.GetLogger(),
	}
}

type quickChartRequest struct {
	Chart  map[string]any `json:"chart"`
	Width  int            `json:"width,omitempty"`
	Height int            `json:"height,omitempty"`
}

type quickChartResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// Render posts the chart configuration and returns the hosted chart
// URL.
func (r *QuickChartRenderer) Render(ctx context.Context, chartConfig map[string]any) (string, error) {
	body, err := json.Marshal(quickChartRequest{Chart: chartConfig, Width: 640, Height: 480})
	if err != nil {
		return "", &VisualizationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/chart/create", bytes.NewReader(body))
	if err != nil {
		return "", &VisualizationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &VisualizationError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &VisualizationError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &VisualizationError{Err: fmt.Errorf("chart endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var parsed quickChartResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &VisualizationError{Err: fmt.Errorf("decode chart response: %w", err)}
	}
	if !parsed.Success || parsed.URL == "" {
		return "", &VisualizationError{Err: fmt.Errorf("chart endpoint reported failure")}
	}

	r.logger.Debug("Rendered chart", "url", parsed.URL)
	return parsed.URL, nil
}

var chartKeywords = []string{
	"chart", "plot", "graph", "visualize", "visualise", "visualization",
	"trend", "distribution", "compare", "comparison", "over time",
	"breakdown", "histogram",
}

// ShouldChart decides whether a run warrants a chart: either the
// question asks for one, or the result has the shape of a series (two
// or more rows with a label column and a numeric column).
func ShouldChart(question string, rows []map[string]any) bool {
	lower := strings.ToLower(question)
	for _, kw := range chartKeywords {
		if strings.Contains(lower, kw) {
			return len(rows) > 0
		}
	}

	if len(rows) < 2 {
		return false
	}
	label, value := seriesColumns(rows)
	return label != "" && value != ""
}

// ChartType picks a chart kind from the question, defaulting to bar.
func ChartType(question string) string {
	lower := strings.ToLower(question)
	switch {
	case strings.Contains(lower, "pie") || strings.Contains(lower, "share") || strings.Contains(lower, "proportion"):
		return "pie"
	case strings.Contains(lower, "line") || strings.Contains(lower, "trend") || strings.Contains(lower, "over time"):
		return "line"
	default:
		return "bar"
	}
}

// BuildConfig assembles a Chart.js configuration from the rows, or nil
// when no usable series can be extracted.
func BuildConfig(question string, rows []map[string]any) map[string]any {
	labelCol, valueCol := seriesColumns(rows)
	if labelCol == "" || valueCol == "" {
		return nil
	}

	labels := make([]string, 0, len(rows))
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, fmt.Sprintf("%v", row[labelCol]))
		v, ok := numericValue(row[valueCol])
		if !ok {
			return nil
		}
		values = append(values, v)
	}

	return map[string]any{
		"type": ChartType(question),
		"data": map[string]any{
			"labels": labels,
			"datasets": []map[string]any{
				{"label": valueCol, "data": values},
			},
		},
	}
}

// seriesColumns finds one textual label column and one numeric value
// column common to all rows. Columns are considered in name order so
// the same result set always yields the same series.
func seriesColumns(rows []map[string]any) (label, value string) {
	if len(rows) == 0 {
		return "", ""
	}
	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	for _, col := range cols {
		if _, numeric := numericValue(rows[0][col]); numeric {
			if value == "" {
				value = col
			}
		} else if label == "" {
			label = col
		}
	}
	return label, value
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
