// Package table provides helpers over arrow tables: zero-copy slicing,
// record iteration and conversion of cells into plain Go values.
package table

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Allocator is the allocator shared by every builder in the toolkit
var Allocator memory.Allocator = memory.NewGoAllocator()

// Empty returns a table with the given schema and no rows
func Empty(schema *arrow.Schema) arrow.Table {
	return array.NewTableFromRecords(schema, nil)
}

// FromRecords builds a table over recs. The table retains the records;
// callers may release their own references.
func FromRecords(schema *arrow.Schema, recs []arrow.Record) arrow.Table {
	return array.NewTableFromRecords(schema, recs)
}

// Slice returns rows [offset, offset+n) of tbl, clipped to its bounds.
// The result shares buffers with tbl.
func Slice(tbl arrow.Table, offset, n int64) arrow.Table {
	total := tbl.NumRows()
	start := clamp(offset, 0, total)
	end := total
	if n >= 0 {
		end = clamp(start+n, start, total)
	}

	cols := make([]arrow.Column, tbl.NumCols())
	for i := range cols {
		col := array.NewColumnSlice(tbl.Column(i), start, end)
		cols[i] = *col
	}
	out := array.NewTable(tbl.Schema(), cols, end-start)
	for i := range cols {
		cols[i].Release()
	}
	return out
}

// Head returns the first n rows
func Head(tbl arrow.Table, n int64) arrow.Table {
	return Slice(tbl, 0, n)
}

// Tail returns the last n rows in order
func Tail(tbl arrow.Table, n int64) arrow.Table {
	if n < 0 {
		n = 0
	}
	return Slice(tbl, tbl.NumRows()-n, n)
}

// Records splits tbl into records of at most chunkSize rows. A chunkSize
// of zero or less keeps the table's own chunking. Callers release the records.
func Records(tbl arrow.Table, chunkSize int64) []arrow.Record {
	tr := array.NewTableReader(tbl, chunkSize)
	defer tr.Release()

	var recs []arrow.Record
	for tr.Next() {
		rec := tr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	return recs
}

// ForEachRecord calls fn for every record of tbl, stopping at the first error
func ForEachRecord(tbl arrow.Table, fn func(arrow.Record) error) error {
	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()

	for tr.Next() {
		if err := fn(tr.Record()); err != nil {
			return err
		}
	}
	return tr.Err()
}

// ForEachRow calls fn with every row of tbl as a column-name keyed map
func ForEachRow(tbl arrow.Table, fn func(row map[string]any) error) error {
	return ForEachRecord(tbl, func(rec arrow.Record) error {
		for i := 0; i < int(rec.NumRows()); i++ {
			if err := fn(Row(rec, i)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Row returns row i of rec keyed by column name
func Row(rec arrow.Record, i int) map[string]any {
	row := make(map[string]any, rec.NumCols())
	for c, col := range rec.Columns() {
		row[rec.ColumnName(c)] = ValueAt(col, i)
	}
	return row
}

// RowValues returns row i of rec in column order
func RowValues(rec arrow.Record, i int) []any {
	vals := make([]any, rec.NumCols())
	for c, col := range rec.Columns() {
		vals[c] = ValueAt(col, i)
	}
	return vals
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
