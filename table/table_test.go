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

package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateOppositeIndicesShiftsOnlyLinkColumns(t *testing.T) {
	tbl := New("A")
	tbl.InsertColumn(Column{Name: "n", Type: ColScalar})
	tbl.InsertColumn(Column{Name: "toB", Type: ColLink, OppositeTable: 1})
	tbl.InsertColumn(Column{Name: "fromB", Type: ColBacklink, OppositeTable: 1})

	changed := tbl.UpdateOppositeIndices(func(old int) int {
		if old >= 1 {
			return old + 1
		}
		return old
	})

	assert.True(t, changed)
	assert.Equal(t, 2, tbl.Columns()[1].OppositeTable)
	assert.Equal(t, 2, tbl.Columns()[2].OppositeTable)
	assert.Equal(t, ColScalar, tbl.Columns()[0].Type)
}

func TestHasBacklinkTo(t *testing.T) {
	tbl := New("B")
	tbl.InsertColumn(Column{Name: "fromA", Type: ColBacklink, OppositeTable: 0})
	assert.True(t, tbl.HasBacklinkTo(0))
	assert.False(t, tbl.HasBacklinkTo(1))
}

func TestMarkUnmarkAndDetach(t *testing.T) {
	tbl := New("A")
	assert.False(t, tbl.Marked())
	tbl.Mark()
	assert.True(t, tbl.Marked())
	tbl.Unmark()
	assert.False(t, tbl.Marked())

	assert.False(t, tbl.Detached())
	tbl.Detach()
	assert.True(t, tbl.Detached())
}

func TestEraseColumnOutOfRange(t *testing.T) {
	tbl := New("A")
	err := tbl.EraseColumn(0)
	assert.Error(t, err)
}
