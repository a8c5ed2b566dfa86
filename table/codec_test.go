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
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl := New("people")
	tbl.InsertColumn(Column{Name: "age", Type: ColScalar})
	tbl.InsertColumn(Column{Name: "employer", Type: ColLink, OppositeTable: 2, OppositeColumn: 3})
	tbl.SetRowCount(7)

	decoded, err := DecodeTable(tbl.Encode())
	require.NoError(t, err)

	assert.Equal(t, 7, decoded.RowCount())
	require.Len(t, decoded.Columns(), 2)
	assert.Equal(t, Column{Name: "age", Type: ColScalar}, decoded.Columns()[0])
	assert.Equal(t, Column{Name: "employer", Type: ColLink, OppositeTable: 2, OppositeColumn: 3}, decoded.Columns()[1])

	assert.Equal(t, "", decoded.Name(), "name lives in the parent table-names array, not the root")
}

func TestDecodeTableRejectsTruncatedHeader(t *testing.T) {
	_, err := DecodeTable([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeTableRejectsTruncatedColumn(t *testing.T) {
	tbl := New("x")
	tbl.InsertColumn(Column{Name: "a", Type: ColScalar})
	data := tbl.Encode()
	_, err := DecodeTable(data[:len(data)-1])
	assert.Error(t, err)
}
