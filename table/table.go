// Copyright 2019 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package table is a minimal stand-in for the table implementation named as
// an external collaborator (columns, B+-tree, search indexes,
// link/backlink columns). It implements just enough — a column list with
// link/backlink bookkeeping, row count, and the detach/mark lifecycle the
// group coordinator drives — to exercise the registry and accessor-refresh
// algorithms this repo actually needs to build.
package table

import (
	"github.com/pkg/errors"

	"github.com/undeadinu/groupstore/array"
)

// ColumnType enumerates the column kinds the registry needs to reason
// about. Scalar columns are collapsed into ColScalar; only link/backlink
// columns carry the index-rewriting invariants that matter here.
type ColumnType int

const (
	ColScalar ColumnType = iota
	ColLink
	ColBacklink
)

// Column is one column of a Table.
type Column struct {
	Name string
	Type ColumnType

	// OppositeTable is valid for ColLink and ColBacklink: for a link
	// column, the index of the table it points into; for a backlink
	// column, the index of the table whose link column it answers.
	OppositeTable int

	// OppositeColumn is valid for ColLink and ColBacklink: the index, in
	// the opposite table, of the paired backlink/link column.
	OppositeColumn int
}

// Table is a live accessor for one group-level table's on-disk root.
//
// Table is a handle, not a value: the registry caches *Table by table
// index, and the same *Table must keep working across index shifts caused
// by sibling insert/remove (its Index field is rewritten in place, never
// its identity).
type Table struct {
	ref     array.Ref
	index   int
	name    string
	columns []Column
	rows    int

	marked   bool
	detached bool
}

// New returns a fresh, unmarked Table accessor with no columns, no rows and
// a null ref; the registry allocates its root and binds it with SetRef.
func New(name string) *Table {
	return &Table{name: name}
}

// Ref returns the table's on-disk root ref.
func (t *Table) Ref() array.Ref { return t.ref }

// SetRef rebinds the table's root ref, used when a commit or advance moves
// the table's root to a new location.
func (t *Table) SetRef(r array.Ref) { t.ref = r }

// Index returns the table's current group-level index.
func (t *Table) Index() int { return t.index }

// SetIndex rewrites the table's cached index. Called whenever a sibling
// insert/remove shifts indices ("write its index
// back into its parent pointer").
func (t *Table) SetIndex(i int) { t.index = i }

// Name returns the table's current name.
func (t *Table) Name() string { return t.name }

// SetName renames the accessor's cached name; does not touch storage.
func (t *Table) SetName(name string) { t.name = name }

// RowCount returns the table's row count.
func (t *Table) RowCount() int { return t.rows }

// SetRowCount overwrites the cached row count.
func (t *Table) SetRowCount(n int) { t.rows = n }

// InsertEmptyRow inserts one empty row before the given ordered index (or
// appends if at == RowCount()), following the "ordered" adjustment rule of
// the surrounding operation.
func (t *Table) InsertEmptyRow(at int) {
	t.rows++
	_ = at // no per-row data is modeled; only the count matters here
}

// EraseOrderedRow removes the row at the given ordered index.
func (t *Table) EraseOrderedRow(at int) {
	if t.rows > 0 {
		t.rows--
	}
}

// EraseUnorderedRow implements "move-last-over-target": the last row takes
// the erased row's place, and the count drops by one.
func (t *Table) EraseUnorderedRow(at int) {
	if t.rows > 0 {
		t.rows--
	}
}

// ClearRows empties the table without touching its schema.
func (t *Table) ClearRows() { t.rows = 0 }

// Mark flags the accessor as needing a refresh once the surrounding commit
// or advance_transact completes.
func (t *Table) Mark() { t.marked = true }

// Unmark clears the mark flag, called once the accessor's cycle-tolerant
// construction has completed.
func (t *Table) Unmark() { t.marked = false }

// Marked reports whether the accessor is currently marked dirty.
func (t *Table) Marked() bool { return t.marked }

// Detach invalidates the accessor. Every operation but Detach itself
// becomes illegal afterwards; callers are expected to check Detached()
// before use, mirroring the LogicError(detached_accessor) surfaced by the
// group coordinator.
func (t *Table) Detach() { t.detached = true }

// Detached reports whether Detach has been called.
func (t *Table) Detached() bool { return t.detached }

// Columns returns the table's column list. Callers must not mutate the
// returned slice directly; use InsertColumn/EraseColumn.
func (t *Table) Columns() []Column {
	return t.columns
}

// ColumnByName returns the index of the column named name, or -1.
func (t *Table) ColumnByName(name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// InsertColumn appends a column to the end of the column list and returns
// its index. Link/backlink pairing is the registry's job (table.Column's
// OppositeTable/OppositeColumn fields are set by the caller).
func (t *Table) InsertColumn(col Column) int {
	t.columns = append(t.columns, col)
	return len(t.columns) - 1
}

// EraseColumn removes the column at index i.
func (t *Table) EraseColumn(i int) error {
	if i < 0 || i >= len(t.columns) {
		return errors.Errorf("table: column index %d out of range", i)
	}
	t.columns = append(t.columns[:i], t.columns[i+1:]...)
	return nil
}

// LinkColumns returns the indices of every ColLink column.
func (t *Table) LinkColumns() []int {
	var out []int
	for i, c := range t.columns {
		if c.Type == ColLink {
			out = append(out, i)
		}
	}
	return out
}

// HasBacklinkTo reports whether the table has any backlink column whose
// OppositeTable equals targetIdx, i.e. whether this table answers a live
// link from targetIdx into it.
func (t *Table) HasBacklinkTo(targetIdx int) bool {
	for _, c := range t.columns {
		if c.Type == ColBacklink && c.OppositeTable == targetIdx {
			return true
		}
	}
	return false
}

// HasLinkTo reports whether the table has any link column pointing into
// targetIdx, i.e. whether this table holds a live link into targetIdx. Used
// by the registry to enforce CrossTableLinkTarget on remove: a table cannot
// be removed while some other table still links into it.
func (t *Table) HasLinkTo(targetIdx int) bool {
	for _, c := range t.columns {
		if c.Type == ColLink && c.OppositeTable == targetIdx {
			return true
		}
	}
	return false
}

// UpdateOppositeIndices rewrites every link/backlink column's OppositeTable
// field via remap, and returns whether anything changed. This is the
// per-table half of the registry's update_table_indices: it calls it
// on every live table after an insert/remove shifts indices.
func (t *Table) UpdateOppositeIndices(remap func(old int) int) (changed bool) {
	for i := range t.columns {
		c := &t.columns[i]
		if c.Type != ColLink && c.Type != ColBacklink {
			continue
		}
		newIdx := remap(c.OppositeTable)
		if newIdx != c.OppositeTable {
			c.OppositeTable = newIdx
			changed = true
		}
	}
	return changed
}
