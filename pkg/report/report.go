// Package report assembles pipeline output and renders it.
package report

import (
	"context"

	"github.com/eunmann/tabx/pkg/aggregate"
	"github.com/eunmann/tabx/pkg/table"
)

// Report is everything a pipeline run produced. Optional sections are nil
// when they were not requested.
type Report struct {
	Command   string                    `json:"command"`
	RunID     string                    `json:"run_id,omitempty"`
	Sources   []string                  `json:"sources"`
	Stages    []StageCount              `json:"stages"`
	Schema    []ColumnInfo              `json:"schema"`
	Describe  []aggregate.ColumnSummary `json:"describe,omitempty"`
	Groups    *aggregate.Result         `json:"groups,omitempty"`
	TopValues *TopValues                `json:"top_values,omitempty"`
	TopWords  *TopValues                `json:"top_words,omitempty"`
	Histogram *aggregate.Histogram      `json:"histogram,omitempty"`
	Head      *Sample                   `json:"head,omitempty"`
}

// StageCount is the row count after one pipeline stage.
type StageCount struct {
	Stage string `json:"stage"`
	Rows  int    `json:"rows"`
}

// ColumnInfo describes one column of the final table.
type ColumnInfo struct {
	Name    string     `json:"name"`
	Kind    table.Kind `json:"kind"`
	NonNull int        `json:"non_null"`
	Missing int        `json:"missing"`
}

// TopValues is the most frequent values, or words, of one column.
type TopValues struct {
	Column string                 `json:"column"`
	Counts []aggregate.ValueCount `json:"counts"`
}

// Sample is the first rows of a table.
type Sample struct {
	Columns []string        `json:"columns"`
	Rows    [][]table.Value `json:"rows"`
}

// Sink renders a report.
type Sink interface {
	Write(ctx context.Context, r *Report) error
}

// SchemaOf lists the columns of t with their missing-cell counts.
func SchemaOf(t *table.Table) []ColumnInfo {
	nulls := t.NullCounts()
	info := make([]ColumnInfo, t.NumCols())
	for i, c := range t.Columns() {
		info[i] = ColumnInfo{
			Name:    c.Name(),
			Kind:    c.Kind(),
			NonNull: t.NumRows() - nulls[i],
			Missing: nulls[i],
		}
	}
	return info
}

// SampleOf captures the first n rows of t. n <= 0 returns nil.
func SampleOf(t *table.Table, n int) *Sample {
	if n <= 0 {
		return nil
	}
	head := t.Head(n)
	s := &Sample{Columns: head.Names(), Rows: make([][]table.Value, head.NumRows())}
	for i := range s.Rows {
		s.Rows[i] = head.Row(i).Values()
	}
	return s
}
