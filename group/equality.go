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

package group

import (
	"github.com/dustin/go-humanize"
)

// Equal reports whether g and other currently describe the same table
// shape — names, in order, with matching column lists and row counts. Row
// contents are out of scope for this repo's table accessor, so Equal only
// ever compares shape, never data.
func (g *Group) Equal(other *Group) bool {
	if !g.attached || other == nil || !other.attached {
		return false
	}
	if len(g.tableNames) != len(other.tableNames) {
		return false
	}
	for i := range g.tableNames {
		if g.tableNames[i] != other.tableNames[i] {
			return false
		}
		a, err := g.GetTableByIndex(i)
		if err != nil {
			return false
		}
		b, err := other.GetTableByIndex(i)
		if err != nil {
			return false
		}
		if a.RowCount() != b.RowCount() {
			return false
		}
		if len(a.Columns()) != len(b.Columns()) {
			return false
		}
		for ci := range a.Columns() {
			if a.Columns()[ci] != b.Columns()[ci] {
				return false
			}
		}
	}
	return true
}

// SizeAggregateControl selects which part of the attached image
// ComputeAggregatedByteSize measures.
type SizeAggregateControl int

const (
	// SizeAggregateTotal counts the whole attached image: durable data plus
	// any space already reclaimed onto the free list.
	SizeAggregateTotal SizeAggregateControl = iota
	// SizeAggregateDataOnly counts only bytes still in active use.
	SizeAggregateDataOnly
	// SizeAggregateFreeOnly counts only reclaimed, not-yet-reused space.
	SizeAggregateFreeOnly
	// SizeAggregateHistoryOnly counts only the attached sync history root,
	// if one is present.
	SizeAggregateHistoryOnly
)

// ComputeAggregatedByteSize reports the size of the attached image under
// ctrl, both as a raw byte count and as a humanized string (via
// github.com/dustin/go-humanize) for CLI-friendly output.
func (g *Group) ComputeAggregatedByteSize(ctrl SizeAggregateControl) (uint64, string) {
	baseline := g.alloc.Baseline()
	free := g.alloc.FreeBytes()

	var n uint64
	switch ctrl {
	case SizeAggregateDataOnly:
		n = baseline - free
	case SizeAggregateFreeOnly:
		n = free
	case SizeAggregateHistoryOnly:
		n = g.historyByteSize()
	default:
		n = baseline
	}
	return n, humanize.Bytes(n)
}

// historyByteSize returns the size of the attached history root's payload,
// or 0 if the group has no history root attached.
func (g *Group) historyByteSize() uint64 {
	if g.top == nil || !g.top.HasHistory() || g.historyRef.IsNull() {
		return 0
	}
	blob, err := g.alloc.Get(g.historyRef)
	if err != nil {
		return 0
	}
	return uint64(len(blob))
}

// updateNumObjects recomputes g.numObjects as the sum of
// every live table's row count, and returns it. NumObjects is its only
// caller; no other operation refreshes g.numObjects.
func (g *Group) updateNumObjects() (int, error) {
	total := 0
	for i := range g.tableRefs {
		tbl, err := g.GetTableByIndex(i)
		if err != nil {
			return 0, err
		}
		total += tbl.RowCount()
	}
	g.numObjects = total
	return total, nil
}

// NumObjects returns the group's total row count across every table,
// recomputing it first.
func (g *Group) NumObjects() (int, error) {
	return g.updateNumObjects()
}
