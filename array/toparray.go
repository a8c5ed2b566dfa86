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

package array

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Slot indices within a TopArray. Presence of indices beyond 2 depends on
// the array's size; see ValidSizes.
const (
	SlotTableNamesRef = iota
	SlotTablesRef
	SlotFileSize
	SlotFreeListPositions
	SlotFreeListLengths
	SlotFreeListVersions
	SlotVersion
	SlotHistoryType
	SlotHistoryRoot
	SlotHistorySchemaVersion
)

// ValidSizes enumerates the only top-array slot counts the format allows.
var ValidSizes = map[int]bool{3: true, 5: true, 7: true, 9: true, 10: true}

// ErrInvalidSize is wrapped by any attempt to decode or construct a top
// array whose slot count is not in ValidSizes.
var ErrInvalidSize = errors.New("array: invalid top array size")

// TopArray is the root array of one snapshot: an ordered sequence of 3, 5,
// 7, 9, or 10 ref-or-tagged slots.
type TopArray struct {
	Slots []Slot
}

// NewTopArray allocates a top array with the given number of slots, which
// must be one of ValidSizes. All slots start zeroed (a zero slot decodes as
// Ref(0), i.e. absent).
func NewTopArray(size int) (*TopArray, error) {
	if !ValidSizes[size] {
		return nil, errors.Wrapf(ErrInvalidSize, "size %d", size)
	}
	return &TopArray{Slots: make([]Slot, size)}, nil
}

// HasVersioning reports whether the array is wide enough to carry the
// free-list position and length slots (3 and 4). The free-list versions and
// version slots (5 and 6) are present only from 7 slots on.
func (t *TopArray) HasVersioning() bool {
	return len(t.Slots) >= 5
}

// HasHistory reports whether the array is wide enough to carry history
// slots (7..9).
func (t *TopArray) HasHistory() bool {
	return len(t.Slots) >= 10
}

// Grow widens t in place to newSize, which must be >= len(t.Slots) and in
// ValidSizes. Existing slots keep their values; new slots are zeroed.
//
// This is the mechanism behind the two-pass sizing rule: callers
// must grow the array to its final slot count *before* computing the
// array's own on-disk offset, so that patching slot 2 afterwards can never
// retroactively change the array's size.
func (t *TopArray) Grow(newSize int) error {
	if !ValidSizes[newSize] {
		return errors.Wrapf(ErrInvalidSize, "size %d", newSize)
	}
	if newSize < len(t.Slots) {
		return errors.Errorf("array: cannot shrink top array from %d to %d slots", len(t.Slots), newSize)
	}
	grown := make([]Slot, newSize)
	copy(grown, t.Slots)
	t.Slots = grown
	return nil
}

func (t *TopArray) slot(i int) Slot {
	if i >= len(t.Slots) {
		return 0
	}
	return t.Slots[i]
}

// TableNamesRef returns slot 0.
func (t *TopArray) TableNamesRef() Ref { return t.slot(SlotTableNamesRef).AsRef() }

// TablesRef returns slot 1.
func (t *TopArray) TablesRef() Ref { return t.slot(SlotTablesRef).AsRef() }

// FileSize returns slot 2, the logical file size, decoded as a tagged int.
func (t *TopArray) FileSize() int64 { return t.slot(SlotFileSize).AsTagged() }

// Version returns slot 6 if present, else 0 ("no versioning info").
func (t *TopArray) Version() int64 {
	if len(t.Slots) < 7 {
		return 0
	}
	return t.slot(SlotVersion).AsTagged()
}

// HistorySchemaVersion returns slot 9 if present, else 0.
func (t *TopArray) HistorySchemaVersion() int64 {
	if len(t.Slots) < 10 {
		return 0
	}
	return t.slot(SlotHistorySchemaVersion).AsTagged()
}

// SetRef sets slot i to a ref. i must already be within len(t.Slots).
func (t *TopArray) SetRef(i int, r Ref) {
	t.Slots[i] = NewRefSlot(r)
}

// SetTagged sets slot i to a tagged integer. i must already be within
// len(t.Slots).
func (t *TopArray) SetTagged(i int, v int64) error {
	s, err := NewTaggedSlot(v)
	if err != nil {
		return err
	}
	t.Slots[i] = s
	return nil
}

// Encode serializes t as a flat sequence of 8-byte big-endian slots,
// matching the big-endian on-disk integer convention used throughout this
// codebase's binary formats.
func (t *TopArray) Encode() []byte {
	buf := make([]byte, len(t.Slots)*8)
	for i, s := range t.Slots {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(s))
	}
	return buf
}

// ByteSize returns the encoded size of t in bytes.
func (t *TopArray) ByteSize() int {
	return len(t.Slots) * 8
}

// DecodeTopArray parses data as a top array. It does not perform the
// structural validation done by the group package's validateTopArray;
// it only checks that data decodes to one of ValidSizes.
func DecodeTopArray(data []byte) (*TopArray, error) {
	if len(data)%8 != 0 {
		return nil, errors.Errorf("array: top array byte length %d is not a multiple of 8", len(data))
	}
	size := len(data) / 8
	if !ValidSizes[size] {
		return nil, errors.Wrapf(ErrInvalidSize, "size %d", size)
	}
	slots := make([]Slot, size)
	for i := range slots {
		slots[i] = Slot(binary.BigEndian.Uint64(data[i*8:]))
	}
	return &TopArray{Slots: slots}, nil
}
