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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaggedSlotRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40)} {
		s, err := NewTaggedSlot(v)
		require.NoError(t, err)
		assert.True(t, s.IsTagged())
		assert.Equal(t, v, s.AsTagged())
	}
}

func TestTaggedSlotOverflow(t *testing.T) {
	_, err := NewTaggedSlot(1 << 62)
	assert.ErrorIs(t, err, ErrTaggedOverflow)
}

func TestRefSlotNotTagged(t *testing.T) {
	s := NewRefSlot(Ref(800))
	assert.False(t, s.IsTagged())
	assert.Equal(t, Ref(800), s.AsRef())
}

func TestTopArrayValidSizes(t *testing.T) {
	for size := range ValidSizes {
		ta, err := NewTopArray(size)
		require.NoError(t, err)
		assert.Len(t, ta.Slots, size)
	}
	_, err := NewTopArray(4)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = NewTopArray(6)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestTopArrayEncodeDecodeRoundTrip(t *testing.T) {
	ta, err := NewTopArray(7)
	require.NoError(t, err)
	ta.SetRef(SlotTableNamesRef, Ref(24))
	ta.SetRef(SlotTablesRef, Ref(96))
	require.NoError(t, ta.SetTagged(SlotFileSize, 512))
	ta.SetRef(SlotFreeListPositions, Ref(0))
	ta.SetRef(SlotFreeListLengths, Ref(0))
	ta.SetRef(SlotFreeListVersions, Ref(0))
	require.NoError(t, ta.SetTagged(SlotVersion, 3))

	encoded := ta.Encode()
	assert.Equal(t, ta.ByteSize(), len(encoded))

	decoded, err := DecodeTopArray(encoded)
	require.NoError(t, err)
	assert.Equal(t, ta.Slots, decoded.Slots)
	assert.Equal(t, Ref(24), decoded.TableNamesRef())
	assert.Equal(t, Ref(96), decoded.TablesRef())
	assert.Equal(t, int64(512), decoded.FileSize())
	assert.Equal(t, int64(3), decoded.Version())
}

func TestTopArrayGrowPreservesExistingSlots(t *testing.T) {
	ta, err := NewTopArray(3)
	require.NoError(t, err)
	ta.SetRef(SlotTableNamesRef, Ref(8))
	ta.SetRef(SlotTablesRef, Ref(16))
	require.NoError(t, ta.SetTagged(SlotFileSize, 24))

	require.NoError(t, ta.Grow(10))
	assert.Len(t, ta.Slots, 10)
	assert.Equal(t, Ref(8), ta.TableNamesRef())
	assert.Equal(t, Ref(16), ta.TablesRef())
	assert.Equal(t, int64(24), ta.FileSize())
	assert.True(t, ta.HasHistory())
}

func TestStringArrayRoundTrip(t *testing.T) {
	names := []string{"A", "B", "C"}
	encoded, err := EncodeStringArray(names)
	require.NoError(t, err)
	decoded, err := DecodeStringArray(encoded)
	require.NoError(t, err)
	assert.Equal(t, names, decoded)
}

func TestStringArrayRejectsLongName(t *testing.T) {
	long := make([]byte, MaxNameLength+1)
	_, err := EncodeStringArray([]string{string(long)})
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestRefArrayRoundTrip(t *testing.T) {
	refs := []Ref{8, 800, 8000}
	decoded, err := DecodeRefArray(EncodeRefArray(refs))
	require.NoError(t, err)
	assert.Equal(t, refs, decoded)
}
