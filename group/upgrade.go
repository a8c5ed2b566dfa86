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
)

// historySchemaUpgradeVersion is the file-format version at which the top
// array gained its history schema version slot (slot 9, a 9-slot array
// widening to 10).
const historySchemaUpgradeVersion = 7

// legacyVersionFloor is the highest file-format version whose top array
// never carried a history schema version slot.
const legacyVersionFloor = 6

// UpgradeFileFormat advances the group's on-disk format version to target,
// performing whatever structural top-array changes each crossed version
// boundary requires before rewriting the 24-byte header to record the new
// version. It refuses to downgrade, and repeated calls with the same target
// are a no-op — UpgradeFileFormat is always safe to call unconditionally on
// attach.
func (g *Group) UpgradeFileFormat(target int) error {
	if err := g.requireAttached(); err != nil {
		return err
	}
	if target < g.fileFormatVersion {
		return newLogicError(WrongGroupState, errors.Errorf("cannot downgrade file format from %d to %d", g.fileFormatVersion, target).Error())
	}
	if target == g.fileFormatVersion {
		return nil
	}

	for v := g.fileFormatVersion + 1; v <= target; v++ {
		g.log.WithFields(map[string]interface{}{"from": v - 1, "to": v}).Debug("upgrading file format")
	}

	if g.fileFormatVersion <= legacyVersionFloor && target >= historySchemaUpgradeVersion {
		if err := g.appendHistorySchemaVersionSlot(); err != nil {
			return errors.Wrap(err, "group: appending history schema version slot")
		}
	}

	g.fileFormatVersion = target
	if err := g.alloc.WriteHeaderBytes(encodeHeader(g.fileFormatVersion)); err != nil {
		return errors.Wrap(err, "group: writing upgraded header")
	}
	return nil
}

// appendHistorySchemaVersionSlot grows a 9-slot top array (versioning and
// free lists, but no history schema version slot yet) to 10 slots, records
// a fresh history schema version of 0 in the new slot, and durably
// republishes it. A top array already at 10 slots, or narrower than 9 (no
// history support to begin with), is left untouched — crossing the version
// boundary with nothing to widen is not an error.
func (g *Group) appendHistorySchemaVersionSlot() error {
	if g.top == nil || len(g.top.Slots) != 9 {
		return nil
	}

	baseline := g.alloc.Baseline()
	oldTopRef := g.topRef

	grown := &array.TopArray{Slots: append([]array.Slot(nil), g.top.Slots...)}
	if err := grown.Grow(10); err != nil {
		return err
	}
	if err := grown.SetTagged(array.SlotHistorySchemaVersion, 0); err != nil {
		return err
	}

	gw := g.alloc.NewGroupWriter()
	newTopRef, err := gw.WriteArray(grown.Encode())
	if err != nil {
		return errors.Wrap(err, "group: placing widened top array")
	}
	// gw.Offset() is the allocator's real baseline after placing the new top
	// array, not the (narrower) logical size recorded in slot 2 — using it
	// for Publish guarantees the footer never lands inside the array it is
	// meant to follow, regardless of whether WriteArray reused a free span
	// or grew the file.
	if err := gw.Publish(newTopRef, gw.Offset()); err != nil {
		return errors.Wrap(err, "group: publishing widened top array")
	}
	releaseDurable(gw, baseline, oldTopRef)

	g.topRef = newTopRef
	g.top = grown
	g.historySchemaVersion = 0
	return nil
}

// TargetFileFormatForSession picks the file-format version a session
// attaching with the given current on-disk version and requested history
// kind should upgrade to. History support first appeared at version 7; this
// repo's baseline target is version 9, which already satisfies that floor,
// so requestedHistory only matters for documenting the constraint, not for
// changing the arithmetic below it.
func TargetFileFormatForSession(current int, requestedHistory HistoryKind) int {
	const baselineTarget = 9
	const minHistoryVersion = 7

	target := baselineTarget
	if requestedHistory != HistoryNone && target < minHistoryVersion {
		target = minHistoryVersion
	}
	if current > target {
		target = current
	}
	return target
}
