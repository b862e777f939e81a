// Package table implements the in-memory tabular model the ETL stages operate
// on: a named column list plus rows of loosely typed cells. Cells hold string,
// int64, float64, bool, time.Time or nil. Every operation returns a new table;
// inputs are never mutated.
package table

import (
	"fmt"
	"time"
)

type Table struct {
	Cols []string
	Rows [][]any
}

func New(cols ...string) *Table {
	return &Table{Cols: cols}
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// ColIndex returns the position of a column or -1 if it doesn't exist.
func (t *Table) ColIndex(name string) int {
	for i, c := range t.Cols {
		if c == name {
			return i
		}
	}
	return -1
}

// mustCol panics on a missing column. A table reaching an operation without
// its expected columns is a programmer error, not a runtime condition.
func (t *Table) mustCol(name string) int {
	i := t.ColIndex(name)
	if i < 0 {
		panic(fmt.Sprintf("table: no column %q in %v", name, t.Cols))
	}
	return i
}

// Col returns all values of a column in row order.
func (t *Table) Col(name string) []any {
	i := t.mustCol(name)
	vals := make([]any, 0, len(t.Rows))
	for _, r := range t.Rows {
		vals = append(vals, r[i])
	}
	return vals
}

// Clone deep-copies the row slices. Cell values are copied by value.
func (t *Table) Clone() *Table {
	n := &Table{Cols: append([]string(nil), t.Cols...)}
	n.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		n.Rows[i] = append([]any(nil), r...)
	}
	return n
}

// AddCol returns a copy of the table with an extra column appended.
// vals must have one entry per row.
func (t *Table) AddCol(name string, vals []any) *Table {
	if len(vals) != len(t.Rows) {
		panic(fmt.Sprintf("table: AddCol %q got %d values for %d rows", name, len(vals), len(t.Rows)))
	}
	n := t.Clone()
	n.Cols = append(n.Cols, name)
	for i := range n.Rows {
		n.Rows[i] = append(n.Rows[i], vals[i])
	}
	return n
}

// Reorder returns a table containing exactly the named columns in the given
// order. Columns not named are dropped.
func (t *Table) Reorder(order []string) *Table {
	idx := make([]int, len(order))
	for i, c := range order {
		idx[i] = t.mustCol(c)
	}
	n := &Table{Cols: append([]string(nil), order...)}
	n.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, len(idx))
		for j, k := range idx {
			row[j] = r[k]
		}
		n.Rows[i] = row
	}
	return n
}

// DistinctValues returns the distinct values of a column in order of first
// appearance. Nil cells count as one distinct value like any other.
func (t *Table) DistinctValues(col string) []any {
	i := t.mustCol(col)
	seen := make(map[any]bool)
	var vals []any
	for _, r := range t.Rows {
		k := CellKey(r[i])
		if seen[k] {
			continue
		}
		seen[k] = true
		vals = append(vals, r[i])
	}
	return vals
}

// LeftJoin joins every left row against the first right row with an equal
// value in the on column. The result keeps the left row count: rows without a
// match get nil for every right column. The right on column is not duplicated.
func LeftJoin(left, right *Table, on string) *Table {
	li := left.mustCol(on)
	ri := right.mustCol(on)

	cols := append([]string(nil), left.Cols...)
	var rIdx []int
	for i, c := range right.Cols {
		if i == ri {
			continue
		}
		cols = append(cols, c)
		rIdx = append(rIdx, i)
	}

	lookup := make(map[any]int, len(right.Rows))
	for i, r := range right.Rows {
		k := CellKey(r[ri])
		if _, ok := lookup[k]; !ok {
			lookup[k] = i
		}
	}

	n := &Table{Cols: cols}
	n.Rows = make([][]any, len(left.Rows))
	for i, lr := range left.Rows {
		row := make([]any, 0, len(cols))
		row = append(row, lr...)
		if j, ok := lookup[CellKey(lr[li])]; ok {
			for _, k := range rIdx {
				row = append(row, right.Rows[j][k])
			}
		} else {
			for range rIdx {
				row = append(row, nil)
			}
		}
		n.Rows[i] = row
	}
	return n
}

// Concat appends the tables in order into one table with a fresh dense row
// order. Later tables may list the first table's columns in any order but
// must carry the same column set.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return &Table{}, nil
	}
	n := &Table{Cols: append([]string(nil), tables[0].Cols...)}
	for _, t := range tables {
		if len(t.Cols) != len(n.Cols) {
			return nil, fmt.Errorf("table: cannot concat %v with %v in Concat", t.Cols, n.Cols)
		}
		idx := make([]int, len(n.Cols))
		for i, c := range n.Cols {
			j := t.ColIndex(c)
			if j < 0 {
				return nil, fmt.Errorf("table: cannot concat, missing column %q in Concat", c)
			}
			idx[i] = j
		}
		for _, r := range t.Rows {
			row := make([]any, len(idx))
			for i, j := range idx {
				row[i] = r[j]
			}
			n.Rows = append(n.Rows, row)
		}
	}
	return n, nil
}

// DropDuplicates removes rows whose value in col was already seen in an
// earlier row, keeping the first occurrence.
func (t *Table) DropDuplicates(col string) *Table {
	i := t.mustCol(col)
	seen := make(map[any]bool)
	n := &Table{Cols: append([]string(nil), t.Cols...)}
	for _, r := range t.Rows {
		k := CellKey(r[i])
		if seen[k] {
			continue
		}
		seen[k] = true
		n.Rows = append(n.Rows, append([]any(nil), r...))
	}
	return n
}

// CellKey normalizes a cell value into something usable as a map key.
// Timestamps compare by instant, integer widths collapse to int64.
func CellKey(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UnixNano()
	case int:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// AsInt64 converts any integer-width cell to int64.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	default:
		return 0, false
	}
}
