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
	"github.com/undeadinu/groupstore/replog"
	"github.com/undeadinu/groupstore/table"
)

// AdvanceTransact moves an attached, Shared group forward to a peer's new
// snapshot (newTopRef, newFileSize), replaying log's consequences onto the
// live accessor cache instead of blanket-detaching every table.
//
// Exception safety follows the "detach-only-on-error" rule: every operation
// that can fail (growing the baseline, reading and validating the peer's
// root) runs first, before anything mutates the group's live state. If
// either fails, the deferred cleanup below detaches the group entirely —
// the always-safe fallback — rather than leaving it part-migrated between
// two snapshots. Once the root has been read and validated, the remaining
// steps are in-memory bookkeeping, except Phase C's accessor refresh, which
// reads table roots and, if that fails, detaches the group the same way.
func (g *Group) AdvanceTransact(newTopRef array.Ref, newFileSize uint64, log replog.Log) (err error) {
	if err := g.requireAttached(); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			g.Detach()
		}
	}()

	if err = g.alloc.GrowBaseline(newFileSize); err != nil {
		return errors.Wrap(err, "group: growing baseline for advance_transact")
	}
	var top *array.TopArray
	var freshNames []string
	var freshRefs []array.Ref
	top, freshNames, freshRefs, err = g.readAndValidate(newTopRef)
	if err != nil {
		return errors.Wrap(err, "group: validating peer root")
	}

	// Phase A: replay the log's structural consequences onto the live
	// accessor cache, preserving each surviving table's accessor identity
	// (just its Index/Name/Ref updated) across the transaction.
	g.replayLog(log)

	if len(g.tableNames) != len(freshNames) {
		// Our replay didn't reconstruct the shape the peer's commit
		// actually produced — some instruction kind carried more structural
		// weight than this function modeled. Falling back to detaching
		// every existing accessor and adopting the peer's arrays wholesale
		// is always safe: it is strictly more detaching than necessary,
		// never less.
		for _, acc := range g.accessors {
			if acc != nil {
				acc.Detach()
			}
		}
		g.accessors = make([]*table.Table, len(freshRefs))
	}

	// Phase B: install the peer's validated root and refs.
	g.topRef = newTopRef
	g.top = top
	g.tableNames = freshNames
	g.tableRefs = freshRefs
	for i, acc := range g.accessors {
		if acc != nil {
			acc.SetRef(freshRefs[i])
			acc.SetName(freshNames[i])
			acc.SetIndex(i)
		}
	}

	// Phase C: invalidate the allocator's decode cache and refresh every
	// accessor that is nil or marked dirty.
	g.alloc.BumpVersion()
	if err = g.refreshAccessors(); err != nil {
		return errors.Wrap(err, "group: refreshing accessors after advance_transact")
	}

	// Phase D: notify of a schema change, if this log could have caused
	// one and a caller is listening for it.
	if log.ChangesSchema() && g.schemaChangeHook != nil {
		g.schemaChangeHook()
	}
	return nil
}

func (g *Group) accessorAt(i int) *table.Table {
	if i < 0 || i >= len(g.accessors) {
		return nil
	}
	return g.accessors[i]
}

// replayLog applies every instruction's structural consequence to the live
// tableNames/tableRefs/accessors slices (inserts and erases shift and
// splice them exactly as the registry operations in tables.go do) and marks
// any accessor a non-structural instruction targets dirty. The rule is:
// over-marking is always safe; this switch marks dirty on every kind it
// does not specifically understand, rather than risk a false negative.
func (g *Group) replayLog(log replog.Log) {
	for _, instr := range log.Instructions {
		switch instr.Kind {
		case replog.InsertGroupLevelTable:
			g.replayInsertTable(instr)
		case replog.EraseGroupLevelTable:
			g.replayEraseTable(instr)
		case replog.RenameGroupLevelTable:
			if instr.TableIndex >= 0 && instr.TableIndex < len(g.tableNames) {
				g.tableNames[instr.TableIndex] = instr.Name
				if acc := g.accessorAt(instr.TableIndex); acc != nil {
					acc.SetName(instr.Name)
				}
			}
		default:
			if acc := g.accessorAt(instr.TableIndex); acc != nil {
				acc.Mark()
			}
		}
	}
}

func (g *Group) replayInsertTable(instr replog.Instruction) {
	idx := instr.TableIndex
	if idx < 0 || idx > len(g.tableNames) {
		idx = len(g.tableNames)
	}

	names := make([]string, 0, len(g.tableNames)+1)
	names = append(names, g.tableNames[:idx]...)
	names = append(names, instr.Name)
	g.tableNames = append(append(names, g.tableNames[idx:]...))

	refs := make([]array.Ref, 0, len(g.tableRefs)+1)
	refs = append(refs, g.tableRefs[:idx]...)
	refs = append(refs, array.NullRef)
	g.tableRefs = append(append(refs, g.tableRefs[idx:]...))

	accs := make([]*table.Table, 0, len(g.accessors)+1)
	accs = append(accs, g.accessors[:idx]...)
	accs = append(accs, nil)
	g.accessors = append(append(accs, g.accessors[idx:]...))

	g.updateTableIndices(func(old int) int {
		if old >= idx {
			return old + 1
		}
		return old
	})
	for i := idx + 1; i < len(g.accessors); i++ {
		if g.accessors[i] != nil {
			g.accessors[i].SetIndex(i)
		}
	}
}

func (g *Group) replayEraseTable(instr replog.Instruction) {
	idx := instr.TableIndex
	if idx < 0 || idx >= len(g.tableNames) {
		return
	}
	if acc := g.accessors[idx]; acc != nil {
		acc.Detach()
	}

	g.tableNames = append(g.tableNames[:idx], g.tableNames[idx+1:]...)
	g.tableRefs = append(g.tableRefs[:idx], g.tableRefs[idx+1:]...)
	g.accessors = append(g.accessors[:idx], g.accessors[idx+1:]...)

	g.updateTableIndices(func(old int) int {
		switch {
		case old == idx:
			return -1
		case old > idx:
			return old - 1
		default:
			return old
		}
	})
	for i := idx; i < len(g.accessors); i++ {
		if g.accessors[i] != nil {
			g.accessors[i].SetIndex(i)
		}
	}
}
