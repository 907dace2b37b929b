// Package tools exposes the closed set of database capabilities the
// query agent may call: list tables, fetch schema, check a statement,
// run a read query. The set is fixed at startup; there is no runtime
// registration surface.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/querypilot/querypilot/pkg/catalog"
	"github.com/querypilot/querypilot/pkg/sqlcheck"
	myutils "github.com/querypilot/querypilot/pkg/utils"
)

const (
	ToolListTables  = "list_tables"
	ToolGetSchema   = "get_schema"
	ToolCheckSyntax = "check_syntax"
	ToolRunQuery    = "run_query"
)

// InvocationRecorder receives a record of every tool call for audit
// storage. Implementations must be safe for concurrent use.
type InvocationRecorder interface {
	RecordInvocation(runID, toolName, args, result string, elapsed time.Duration, invokeErr error)
}

// Toolset binds the capability set to one catalog. MaxRows bounds every
// run_query result regardless of what the generated SQL asks for.
type Toolset struct {
	catalog      *catalog.Catalog
	maxRows      int
	queryTimeout time.Duration
	recorder     InvocationRecorder
	runID        string
	logger       *slog.Logger
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithRecorder attaches an invocation recorder scoped to runID.
func WithRecorder(r InvocationRecorder, runID string) Option {
	return func(ts *Toolset) {
		ts.recorder = r
		ts.runID = runID
	}
}

// WithQueryTimeout bounds the execution time of one run_query call.
func WithQueryTimeout(d time.Duration) Option {
	return func(ts *Toolset) { ts.queryTimeout = d }
}

func NewToolset(cat *catalog.Catalog, maxRows int, opts ...Option) *Toolset {
	if maxRows <= 0 {
		maxRows = 5
	}
	ts := &Toolset{
		catalog:      cat,
		maxRows:      maxRows,
		queryTimeout: 30 * time.Second,
		logger:       myutils.GetLogger(),
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// MaxRows reports the row cap applied to run_query results.
func (ts *Toolset) MaxRows() int { return ts.maxRows }

// Tools returns the complete capability set for binding to a chat
// model. The model sees exactly these four tools and nothing else.
func (ts *Toolset) Tools() []tool.BaseTool {
	return []tool.BaseTool{
		ts.newListTablesTool(),
		ts.newGetSchemaTool(),
		ts.newCheckSyntaxTool(),
		ts.newRunQueryTool(),
	}
}

type ListTablesInput struct{}

func (ts *Toolset) newListTablesTool() tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name:        ToolListTables,
		Desc:        "List the names of all tables in the connected database. Call this first to discover what data exists.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, func(ctx context.Context, input *ListTablesInput) (string, error) {
		start := time.Now()
		out, err := ts.ListTables(ctx)
		ts.record(ToolListTables, "{}", out, time.Since(start), err)
		return out, err
	})
}

type GetSchemaInput struct {
	Tables []string `json:"tables"`
}

func (ts *Toolset) newGetSchemaTool() tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: ToolGetSchema,
		Desc: "Get column definitions and a few sample rows for the named tables. Only request tables returned by list_tables.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"tables": {
				Type:     schema.Array,
				Required: true,
				Desc:     "Table names to describe",
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
			},
		}),
	}, func(ctx context.Context, input *GetSchemaInput) (string, error) {
		start := time.Now()
		out, err := ts.GetSchema(ctx, input.Tables)
		args, _ := json.Marshal(input)
		ts.record(ToolGetSchema, string(args), out, time.Since(start), err)
		return out, err
	})
}

type CheckSyntaxInput struct {
	SQL string `json:"sql"`
}

func (ts *Toolset) newCheckSyntaxTool() tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: ToolCheckSyntax,
		Desc: "Check a SQL statement locally before running it: single read-only SELECT/WITH statement, balanced quotes and parentheses, no write keywords.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"sql": {Type: schema.String, Required: true, Desc: "SQL statement to check"},
		}),
	}, func(ctx context.Context, input *CheckSyntaxInput) (string, error) {
		start := time.Now()
		out := ts.CheckSyntax(input.SQL)
		args, _ := json.Marshal(input)
		ts.record(ToolCheckSyntax, string(args), out, time.Since(start), nil)
		return out, nil
	})
}

type RunQueryInput struct {
	SQL string `json:"sql"`
}

func (ts *Toolset) newRunQueryTool() tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: ToolRunQuery,
		Desc: fmt.Sprintf("Execute a read-only SQL query and return up to %d rows as JSON. Only SELECT and WITH statements are allowed.", ts.maxRows),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"sql": {Type: schema.String, Required: true, Desc: "SQL SELECT query to execute"},
		}),
	}, func(ctx context.Context, input *RunQueryInput) (string, error) {
		start := time.Now()
		out, err := ts.RunQuery(ctx, input.SQL)
		args, _ := json.Marshal(input)
		ts.record(ToolRunQuery, string(args), out, time.Since(start), err)
		return out, err
	})
}

// ListTables returns the table names as JSON.
func (ts *Toolset) ListTables(ctx context.Context) (string, error) {
	tables, err := ts.catalog.ListTables(ctx)
	if err != nil {
		return "", err
	}
	output := map[string]interface{}{
		"tables": tables,
		"count":  len(tables),
	}
	data, _ := json.MarshalIndent(output, "", "  ")
	return string(data), nil
}

// GetSchema returns the snapshot for the named tables as prompt text.
// An unknown table surfaces as content rather than an error so the
// model can correct itself.
func (ts *Toolset) GetSchema(ctx context.Context, tableNames []string) (string, error) {
	if len(tableNames) == 0 {
		return "Error: no tables requested; call list_tables first", nil
	}
	snap, err := ts.catalog.GetSchema(ctx, tableNames)
	if err != nil {
		var unknown *catalog.UnknownTableError
		if errors.As(err, &unknown) {
			return fmt.Sprintf("Error: %v; call list_tables to see available tables", unknown), nil
		}
		return "", err
	}
	return snap.PromptContext(), nil
}

// CheckSyntax runs the local checks and renders either an OK marker or
// the failure detail for the model.
func (ts *Toolset) CheckSyntax(sqlText string) string {
	if checkErr := sqlcheck.CheckSyntax(sqlText); checkErr != nil {
		return fmt.Sprintf("Error: %s", checkErr.Detail)
	}
	if checkErr := sqlcheck.CheckReadOnly(sqlText); checkErr != nil {
		return fmt.Sprintf("Error: %s", checkErr.Detail)
	}
	if checkErr := sqlcheck.CheckSelectPrefix(sqlText); checkErr != nil {
		return fmt.Sprintf("Error: %s", checkErr.Detail)
	}
	return "OK: statement passed local checks"
}

// RunQuery validates then executes a query, returning at most MaxRows
// rows rendered as JSON. Validation failures and execution failures
// come back as errors so the caller can drive a repair attempt.
func (ts *Toolset) RunQuery(ctx context.Context, sqlText string) (string, error) {
	if checkErr := sqlcheck.CheckSyntax(sqlText); checkErr != nil {
		return "", checkErr
	}
	if checkErr := sqlcheck.CheckReadOnly(sqlText); checkErr != nil {
		return "", checkErr
	}
	if checkErr := sqlcheck.CheckSelectPrefix(sqlText); checkErr != nil {
		return "", checkErr
	}

	queryCtx := ctx
	if ts.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, ts.queryTimeout)
		defer cancel()
	}

	rows, err := ts.catalog.Query(queryCtx, sqlText, ts.maxRows)
	if err != nil {
		return "", err
	}

	output := map[string]interface{}{
		"query": sqlText,
		"rows":  len(rows),
		"data":  rows,
	}
	data, _ := json.MarshalIndent(output, "", "  ")
	ts.logger.Debug("Executed read query", "rows", len(rows))
	return string(data), nil
}

// QueryRows executes a validated query and returns the raw row
// mappings, for callers that need structured results rather than the
// JSON rendering.
func (ts *Toolset) QueryRows(ctx context.Context, sqlText string) ([]map[string]any, error) {
	queryCtx := ctx
	if ts.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, ts.queryTimeout)
		defer cancel()
	}
	return ts.catalog.Query(queryCtx, sqlText, ts.maxRows)
}

func (ts *Toolset) record(name, args, result string, elapsed time.Duration, err error) {
	if ts.recorder == nil {
		return
	}
	ts.recorder.RecordInvocation(ts.runID, name, args, result, elapsed, err)
}
