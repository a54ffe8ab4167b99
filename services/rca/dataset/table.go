// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset loads the RCA fact tables and provides the small set of
// tabular operations the analyzers need: scope filtering, distinct values
// and null-aware numeric access.
//
// Tables are immutable once built. Filtering returns a new Table that
// shares row storage with its parent, so a cached table can be read by
// any number of concurrent scopes without copying.
package dataset

import (
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// MonthColumn is the column every fact table is partitioned by.
const MonthColumn = "month"

// nullTokens are numeric cell values read as missing. Text cells are never
// nulled: "NA" is the North America region code.
var nullTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "NaN": {}, "nan": {}, "null": {}, "NULL": {}, "None": {},
}

// IsNull reports whether a raw numeric cell value denotes a missing value.
func IsNull(cell string) bool {
	_, ok := nullTokens[strings.TrimSpace(cell)]
	return ok
}

// Table is a named, column-addressed set of string rows.
type Table struct {
	name    string
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewTable builds a table. Rows shorter than the header are padded with
// empty (null) cells.
func NewTable(name string, columns []string, rows [][]string) *Table {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.TrimSpace(c)] = i
	}
	for i, row := range rows {
		if len(row) < len(columns) {
			padded := make([]string, len(columns))
			copy(padded, row)
			rows[i] = padded
		}
	}
	return &Table{name: name, columns: columns, index: index, rows: rows}
}

// Name returns the dataset name.
func (t *Table) Name() string { return t.name }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return len(t.rows) == 0 }

// Columns returns the header.
func (t *Table) Columns() []string { return t.columns }

// HasColumn reports whether col exists.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.index[col]
	return ok
}

// String returns the trimmed cell at (row, col), or "" when the column is
// missing. Null tokens are returned as written.
func (t *Table) String(row int, col string) string {
	i, ok := t.index[col]
	if !ok {
		return ""
	}
	return strings.TrimSpace(t.rows[row][i])
}

// Float parses the cell at (row, col). ok is false for missing columns,
// null cells, NaN and unparseable values.
func (t *Table) Float(row int, col string) (float64, bool) {
	s := t.String(row, col)
	if IsNull(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	var rows [][]string
	for i := range t.rows {
		if keep(i) {
			rows = append(rows, t.rows[i])
		}
	}
	return &Table{name: t.name, columns: t.columns, index: t.index, rows: rows}
}

// Where keeps the rows whose col equals value. A missing column matches
// nothing.
func (t *Table) Where(col, value string) *Table {
	if !t.HasColumn(col) {
		return t.Filter(func(int) bool { return false })
	}
	return t.Filter(func(row int) bool { return t.String(row, col) == value })
}

// FilterByScope restricts the table to month and to every fixed filter
// dimension that exists as a column. Dimensions the table does not carry
// are ignored, so a dataset without a segment column is still scoped by
// region. A table without a month column yields no rows.
func (t *Table) FilterByScope(month string, filters datatypes.Filters) *Table {
	scoped := t.Where(MonthColumn, month)
	for _, dim := range datatypes.Dimensions {
		value := filters.Get(dim)
		if value == "" || !scoped.HasColumn(string(dim)) {
			continue
		}
		scoped = scoped.Where(string(dim), value)
	}
	return scoped
}

// Distinct returns the non-blank values of col in first-seen order.
func (t *Table) Distinct(col string) []string {
	if !t.HasColumn(col) {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for i := range t.rows {
		v := t.String(i, col)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Sum adds the non-null values of col. present is false when no row
// carries a value.
func (t *Table) Sum(col string) (sum float64, present bool) {
	for i := range t.rows {
		if v, ok := t.Float(i, col); ok {
			sum += v
			present = true
		}
	}
	return sum, present
}

// Mean averages the non-null values of col. ok is false when no row
// carries a value.
func (t *Table) Mean(col string) (float64, bool) {
	var sum float64
	var n int
	for i := range t.rows {
		if v, ok := t.Float(i, col); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
