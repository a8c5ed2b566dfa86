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
	"github.com/pkg/errors"

	"github.com/undeadinu/groupstore/array"
	"github.com/undeadinu/groupstore/table"
)

// Size returns the number of group-level tables.
func (g *Group) Size() int {
	return len(g.tableRefs)
}

// HasTable reports whether name names a live group-level table.
func (g *Group) HasTable(name string) bool {
	return g.indexOf(name) >= 0
}

func (g *Group) indexOf(name string) int {
	for i, n := range g.tableNames {
		if n == name {
			return i
		}
	}
	return -1
}

// GetTableByIndex returns a live accessor for the table at index i,
// materializing it from storage on first access (the cycle-tolerant
// accessor construction: register incomplete, mark, complete, unmark).
func (g *Group) GetTableByIndex(i int) (*table.Table, error) {
	if err := g.requireAttached(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(g.tableRefs) {
		return nil, newLogicError(TableIndexOutOfRange, errors.Errorf("index %d, size %d", i, len(g.tableRefs)).Error())
	}
	return g.materializeAccessor(i, map[int]bool{})
}

// GetTableByName returns a live accessor for the table named name, or
// ErrNoSuchTable.
func (g *Group) GetTableByName(name string) (*table.Table, error) {
	if err := g.requireAttached(); err != nil {
		return nil, err
	}
	i := g.indexOf(name)
	if i < 0 {
		return nil, errors.Wrapf(ErrNoSuchTable, "%q", name)
	}
	return g.materializeAccessor(i, map[int]bool{})
}

// materializeAccessor implements the four-step construction: a placeholder
// is registered (and marked) before the table's root is
// decoded, so that any re-entrant lookup during decode (a link column
// checking its opposite table's shape) finds a usable accessor rather than
// recursing forever through a link/backlink cycle. DecodeTable itself never
// recurses, so the in-progress branch is never taken today, but every other
// caller of this method relies on the same four steps, so it is kept as the
// single construction path rather than forked into a "simple" and a
// "cycle-safe" version.
func (g *Group) materializeAccessor(i int, inProgress map[int]bool) (*table.Table, error) {
	if g.accessors[i] != nil && !g.accessors[i].Marked() {
		return g.accessors[i], nil
	}
	if inProgress[i] {
		return g.accessors[i], nil
	}

	placeholder := table.New(g.tableNames[i])
	placeholder.SetRef(g.tableRefs[i])
	placeholder.SetIndex(i)
	g.accessors[i] = placeholder

	inProgress[i] = true
	placeholder.Mark()

	blob, err := g.alloc.Get(g.tableRefs[i])
	if err != nil {
		return nil, errors.Wrapf(err, "group: reading table %q root", g.tableNames[i])
	}
	raw, err := decodeTablePayload(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "group: unwrapping table %q payload", g.tableNames[i])
	}
	decoded, err := table.DecodeTable(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "group: decoding table %q root", g.tableNames[i])
	}
	decoded.SetRef(g.tableRefs[i])
	decoded.SetIndex(i)
	decoded.SetName(g.tableNames[i])
	g.accessors[i] = decoded

	decoded.Unmark()
	inProgress[i] = false

	return decoded, nil
}

// refreshAccessors materializes every table accessor that is nil or marked,
// following the same cycle-tolerant construction GetTableByIndex uses;
// cached unmarked accessors are kept as they are. It is called by Commit,
// AdvanceTransact's Phase C, serializeSnapshot, and RemoveTableByIndex.
func (g *Group) refreshAccessors() error {
	inProgress := make(map[int]bool)
	for i := range g.tableRefs {
		if _, err := g.materializeAccessor(i, inProgress); err != nil {
			return err
		}
	}
	return nil
}

// markAllTableAccessors flags every live accessor dirty, forcing the next
// GetTableByIndex/GetTableByName or refreshAccessors call to re-decode it
// from storage rather than returning the cached accessor. Nothing in this
// package calls it at present: AdvanceTransact's replayLog marks only the
// accessor each non-structural instruction targets.
func (g *Group) markAllTableAccessors() {
	for _, acc := range g.accessors {
		if acc != nil {
			acc.Mark()
		}
	}
}

func validateTableName(name string) error {
	if len(name) > array.MaxNameLength {
		return newLogicError(TableNameTooLong, errors.Errorf("%q is %d bytes, max %d", name, len(name), array.MaxNameLength).Error())
	}
	return nil
}

// AddTable creates a new, empty group-level table named name at the end of
// the registry and returns its accessor. It fails with ErrTableNameInUse if
// a table by that name already exists.
func (g *Group) AddTable(name string) (*table.Table, error) {
	if err := g.requireAttached(); err != nil {
		return nil, err
	}
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if g.HasTable(name) {
		return nil, errors.Wrapf(ErrTableNameInUse, "%q", name)
	}
	return g.insertTableLocked(len(g.tableRefs), name)
}

// InsertTable creates a new, empty group-level table named name at index i,
// shifting every table at or after i up by one and rewriting every live
// accessor's link/backlink OppositeTable fields to match. It fails with
// ErrTableNameInUse if a table by that name already exists, or with
// TableIndexOutOfRange if i is not in [0, Size()].
func (g *Group) InsertTable(i int, name string) (*table.Table, error) {
	if err := g.requireAttached(); err != nil {
		return nil, err
	}
	if i < 0 || i > len(g.tableRefs) {
		return nil, newLogicError(TableIndexOutOfRange, errors.Errorf("index %d, size %d", i, len(g.tableRefs)).Error())
	}
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if g.HasTable(name) {
		return nil, errors.Wrapf(ErrTableNameInUse, "%q", name)
	}
	return g.insertTableLocked(i, name)
}

// GetOrAddTable returns the existing table named name, or appends it if it
// does not yet exist. The second return value reports whether a table was
// created.
func (g *Group) GetOrAddTable(name string) (*table.Table, bool, error) {
	if err := g.requireAttached(); err != nil {
		return nil, false, err
	}
	if i := g.indexOf(name); i >= 0 {
		tbl, err := g.materializeAccessor(i, map[int]bool{})
		return tbl, false, err
	}
	if err := validateTableName(name); err != nil {
		return nil, false, err
	}
	tbl, err := g.insertTableLocked(len(g.tableRefs), name)
	return tbl, true, err
}

// insertTableLocked splices a new, empty table named name into the registry
// at index i (i == len(g.tableRefs) is an append), shifting every
// table-indexed slice and every live accessor's OppositeTable columns at or
// beyond i up by one.
func (g *Group) insertTableLocked(i int, name string) (*table.Table, error) {
	priorCount := len(g.tableRefs)

	root := table.New(name)
	ref, err := g.alloc.Alloc(encodeTablePayload(root.Encode(), g.opts.CompressTableRoots))
	if err != nil {
		return nil, errors.Wrap(err, "group: allocating new table root")
	}
	root.SetRef(ref)
	root.SetIndex(i)

	names := make([]string, 0, priorCount+1)
	names = append(names, g.tableNames[:i]...)
	names = append(names, name)
	g.tableNames = append(names, g.tableNames[i:]...)

	refs := make([]array.Ref, 0, priorCount+1)
	refs = append(refs, g.tableRefs[:i]...)
	refs = append(refs, ref)
	g.tableRefs = append(refs, g.tableRefs[i:]...)

	accs := make([]*table.Table, 0, priorCount+1)
	accs = append(accs, g.accessors[:i]...)
	accs = append(accs, root)
	g.accessors = append(accs, g.accessors[i:]...)

	g.updateTableIndices(func(old int) int {
		if old >= i {
			return old + 1
		}
		return old
	})
	for idx := i + 1; idx < len(g.accessors); idx++ {
		if g.accessors[idx] != nil {
			g.accessors[idx].SetIndex(idx)
		}
	}

	if g.replicator != nil {
		g.replicator.InsertGroupLevelTable(i, priorCount, name)
	}
	return root, nil
}

// RemoveTableByName removes the table named name, failing with
// ErrNoSuchTable if it does not exist or ErrCrossTableLinkTarget if some
// other live table holds a link column pointing into it.
func (g *Group) RemoveTableByName(name string) error {
	i := g.indexOf(name)
	if i < 0 {
		return errors.Wrapf(ErrNoSuchTable, "%q", name)
	}
	return g.RemoveTableByIndex(i)
}

// RemoveTableByIndex removes the table at index i, shifting every following
// table's index down by one and rewriting every remaining table's
// link/backlink OppositeTable fields to match.
func (g *Group) RemoveTableByIndex(i int) error {
	if err := g.requireAttached(); err != nil {
		return err
	}
	if i < 0 || i >= len(g.tableRefs) {
		return newLogicError(TableIndexOutOfRange, errors.Errorf("index %d, size %d", i, len(g.tableRefs)).Error())
	}

	if err := g.refreshAccessors(); err != nil {
		return err
	}
	for idx, acc := range g.accessors {
		if idx == i {
			continue
		}
		if acc.HasLinkTo(i) {
			return errors.Wrapf(ErrCrossTableLinkTarget, "table %q", g.tableNames[i])
		}
	}

	priorCount := len(g.tableRefs)
	name := g.tableNames[i]

	g.tableNames = append(g.tableNames[:i], g.tableNames[i+1:]...)
	g.tableRefs = append(g.tableRefs[:i], g.tableRefs[i+1:]...)
	g.accessors = append(g.accessors[:i], g.accessors[i+1:]...)

	g.updateTableIndices(func(old int) int {
		switch {
		case old == i:
			return -1
		case old > i:
			return old - 1
		default:
			return old
		}
	})
	for idx := i; idx < len(g.accessors); idx++ {
		if g.accessors[idx] != nil {
			g.accessors[idx].SetIndex(idx)
		}
	}

	if g.replicator != nil {
		g.replicator.EraseGroupLevelTable(i, priorCount, name)
	}
	return nil
}

// RenameTable renames the table at index i, failing with ErrTableNameInUse
// if newName already names a different live table.
func (g *Group) RenameTable(i int, newName string) error {
	if err := g.requireAttached(); err != nil {
		return err
	}
	if i < 0 || i >= len(g.tableRefs) {
		return newLogicError(TableIndexOutOfRange, errors.Errorf("index %d, size %d", i, len(g.tableRefs)).Error())
	}
	if err := validateTableName(newName); err != nil {
		return err
	}
	if existing := g.indexOf(newName); existing >= 0 && existing != i {
		return errors.Wrapf(ErrTableNameInUse, "%q", newName)
	}

	g.tableNames[i] = newName
	if g.accessors[i] != nil {
		g.accessors[i].SetName(newName)
	}

	if g.replicator != nil {
		g.replicator.RenameGroupLevelTable(i, newName)
	}
	return nil
}

// updateTableIndices applies remap to every live accessor's link/backlink
// columns. remap may map the removed index to -1. RemoveTableByIndex only
// reaches this call after confirming no other table's link column points
// into the removed table, so no link column receives -1; a backlink column
// answering a link from the removed table does receive -1, as does any
// column touched by replayEraseTable, which performs no such check.
func (g *Group) updateTableIndices(remap func(old int) int) {
	for _, acc := range g.accessors {
		if acc == nil {
			continue
		}
		acc.UpdateOppositeIndices(remap)
	}
}
