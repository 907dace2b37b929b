package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableSchema is the structural description of one table plus a small
// sample of its rows.
type TableSchema struct {
	Name       string           `json:"name"`
	Columns    []Column         `json:"columns"`
	SampleRows []map[string]any `json:"sample_rows,omitempty"`
}

// Snapshot is a point-in-time view of a subset of the database schema.
// It is built per request and never reused across pipeline runs.
type Snapshot struct {
	Dialect Dialect
	tables  map[string]*TableSchema
	order   []string
}

func (s *Snapshot) add(t *TableSchema) {
	if _, exists := s.tables[t.Name]; !exists {
		s.order = append(s.order, t.Name)
	}
	s.tables[t.Name] = t
}

// HasTable reports whether the snapshot contains the named table.
func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// TableNames returns the snapshot's table names in request order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Table returns the schema for the named table, or nil.
func (s *Snapshot) Table(name string) *TableSchema {
	return s.tables[name]
}

// PromptContext renders the snapshot as text suitable for grounding a
// SQL generator: one block per table with column definitions and the
// sampled rows.
func (s *Snapshot) PromptContext() string {
	var b strings.Builder
	for i, name := range s.order {
		if i > 0 {
			b.WriteString("\n")
		}
		t := s.tables[name]
		fmt.Fprintf(&b, "Table %s (dialect: %s):\n", t.Name, s.Dialect)
		for _, col := range t.Columns {
			nullable := "NOT NULL"
			if col.Nullable {
				nullable = "NULL"
			}
			fmt.Fprintf(&b, "  %s %s %s\n", col.Name, col.Type, nullable)
		}
		if len(t.SampleRows) > 0 {
			fmt.Fprintf(&b, "Sample rows (%d):\n", len(t.SampleRows))
			for _, row := range t.SampleRows {
				b.WriteString("  " + formatRow(row) + "\n")
			}
		}
	}
	return b.String()
}

func formatRow(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, row[k]))
	}
	return strings.Join(parts, ", ")
}
