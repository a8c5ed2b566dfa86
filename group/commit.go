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

	"github.com/undeadinu/groupstore/alloc"
	"github.com/undeadinu/groupstore/array"
)

// Commit durably publishes the group's current in-memory snapshot as a new
// version of the attached file or buffer, following four steps: discard
// provisional slab state, place fresh copies of every
// structure through the allocator's GroupWriter (which grows the baseline
// as needed), publish the new top-ref via the streaming footer, and refresh
// the accessor cache against the published refs.
//
// Commit is illegal while the group is marked Shared — a SharedOwner
// collaborator (unimplemented here) is responsible for commits
// against a file other processes may also be writing to.
func (g *Group) Commit() error {
	if err := g.requireAttached(); err != nil {
		return err
	}
	if g.shared {
		return newLogicError(WrongGroupState, "Commit is illegal on a group attached to a shared owner; use AdvanceTransact")
	}

	baseline := g.alloc.Baseline()
	oldTopRef := g.topRef
	var oldNamesRef, oldTablesRef array.Ref
	if g.top != nil {
		oldNamesRef = g.top.TableNamesRef()
		oldTablesRef = g.top.TablesRef()
	}
	oldTableRefs := append([]array.Ref(nil), g.tableRefs...)

	g.alloc.ResetSlabs()

	gw := g.alloc.NewGroupWriter()
	newTopRef, _, err := g.serializeSnapshot(gw, 0)
	if err != nil {
		return errors.Wrap(err, "group: serializing commit")
	}
	// gw.Offset() is the allocator's real baseline after placing the top
	// array, not the (narrower) logical size recorded in its own slot 2 —
	// using it here guarantees the footer never lands inside the array it
	// is meant to follow, regardless of whether a WriteArray call above
	// reused a free span or grew the file.
	if err := gw.Publish(newTopRef, gw.Offset()); err != nil {
		return errors.Wrap(err, "group: publishing commit")
	}

	releaseDurable(gw, baseline, oldTopRef)
	releaseDurable(gw, baseline, oldNamesRef)
	releaseDurable(gw, baseline, oldTablesRef)
	for _, ref := range oldTableRefs {
		releaseDurable(gw, baseline, ref)
	}

	top, names, refs, err := g.readAndValidate(newTopRef)
	if err != nil {
		return errors.Wrap(err, "group: re-reading just-published commit")
	}
	g.topRef = newTopRef
	g.top = top
	g.tableNames = names
	g.tableRefs = refs

	if err := g.refreshAccessors(); err != nil {
		return err
	}

	g.alloc.BumpVersion()
	g.log.WithField("topRef", uint64(newTopRef)).Debug("committed")
	return nil
}

// releaseDurable returns ref's span to the free list if it was already part
// of the durable image as of baseline. Refs that were never durable — the
// null ref, or a slab ref from before this commit's ResetSlabs — are
// silently skipped rather than treated as an error: failing to reclaim a
// span never threatens correctness, only how soon the space is reused.
func releaseDurable(gw *alloc.GroupWriter, baseline uint64, ref array.Ref) {
	if ref.IsNull() || uint64(ref) >= baseline {
		return
	}
	_ = gw.Release(ref)
}
