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

// Package array implements the on-disk encoding of the group's top array:
// the tagged ref/integer slot representation and the variable-length top
// array that roots a snapshot.
package array

import "github.com/pkg/errors"

// Ref is an 8-byte-aligned offset into the logical address space spanned by
// the file plus any in-memory slab extensions. Ref 0 means "absent".
type Ref uint64

// NullRef is the sentinel "absent" ref.
const NullRef Ref = 0

// IsNull reports whether r is the absent ref.
func (r Ref) IsNull() bool {
	return r == NullRef
}

// Aligned reports whether r sits on an 8-byte boundary, as every ref into
// the address space must.
func (r Ref) Aligned() bool {
	return uint64(r)%8 == 0
}

// Slot is one cell of a top (or free-list) array: either a Ref, with its low
// bit clear, or a tagged integer, shifted left by one with the low bit set.
type Slot uint64

// ErrTaggedOverflow is returned by NewTaggedSlot when the integer does not
// survive the <<1 encoding without losing its sign or high bit.
var ErrTaggedOverflow = errors.New("array: tagged integer does not fit in a slot")

// NewRefSlot encodes a Ref as a slot. The caller is responsible for ensuring
// r is 8-byte aligned (which also keeps the tag bit clear); NewRefSlot itself
// performs no checks.
func NewRefSlot(r Ref) Slot {
	return Slot(r)
}

// NewTaggedSlot encodes a small signed integer as a tagged slot. It fails if
// shifting v left by one would change its value once shifted back, i.e. if v
// does not fit in 63 bits.
func NewTaggedSlot(v int64) (Slot, error) {
	encoded := uint64(v)<<1 | 1
	if int64(encoded)>>1 != v {
		return 0, errors.Wrapf(ErrTaggedOverflow, "value %d", v)
	}
	return Slot(encoded), nil
}

// IsTagged reports whether the slot holds a tagged integer rather than a ref.
func (s Slot) IsTagged() bool {
	return s&1 == 1
}

// AsRef returns the slot's value as a Ref. Callers must check !IsTagged first.
func (s Slot) AsRef() Ref {
	return Ref(s)
}

// AsTagged returns the slot's value as a signed integer. Callers must check
// IsTagged first.
func (s Slot) AsTagged() int64 {
	return int64(s) >> 1
}
