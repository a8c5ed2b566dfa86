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
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encode serializes the table's schema and row count into the byte blob the
// group coordinator stores at t.Ref() (the per-table root). The name is
// deliberately excluded: it lives in the parent table-names array, not the
// table root itself, so renaming a table never touches this encoding.
func (t *Table) Encode() []byte {
	out := make([]byte, 0, 8+len(t.columns)*24)
	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(len(t.columns)))
	binary.BigEndian.PutUint32(head[4:8], uint32(t.rows))
	out = append(out, head[:]...)

	for _, c := range t.columns {
		var rec [9]byte
		rec[0] = byte(c.Type)
		binary.BigEndian.PutUint32(rec[1:5], uint32(int32(c.OppositeTable)))
		binary.BigEndian.PutUint32(rec[5:9], uint32(int32(c.OppositeColumn)))
		out = append(out, rec[:]...)

		var nameLen [2]byte
		binary.BigEndian.PutUint16(nameLen[:], uint16(len(c.Name)))
		out = append(out, nameLen[:]...)
		out = append(out, c.Name...)
	}
	return out
}

// DecodeTable parses the blob Encode produces back into a Table accessor.
// The caller (the registry, on attach) still owns setting Ref, Index, and
// Name from the parallel tables/table-names arrays.
func DecodeTable(data []byte) (*Table, error) {
	if len(data) < 8 {
		return nil, errors.New("table: root truncated before header")
	}
	numCols := int(binary.BigEndian.Uint32(data[0:4]))
	rows := int(binary.BigEndian.Uint32(data[4:8]))

	t := &Table{rows: rows}
	pos := 8
	for i := 0; i < numCols; i++ {
		if pos+9 > len(data) {
			return nil, errors.Errorf("table: root truncated in column %d header", i)
		}
		typ := ColumnType(data[pos])
		oppTable := int(int32(binary.BigEndian.Uint32(data[pos+1 : pos+5])))
		oppColumn := int(int32(binary.BigEndian.Uint32(data[pos+5 : pos+9])))
		pos += 9

		if pos+2 > len(data) {
			return nil, errors.Errorf("table: root truncated before column %d name length", i)
		}
		nameLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+nameLen > len(data) {
			return nil, errors.Errorf("table: root truncated in column %d name", i)
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen

		t.columns = append(t.columns, Column{
			Name:           name,
			Type:           typ,
			OppositeTable:  oppTable,
			OppositeColumn: oppColumn,
		})
	}
	return t, nil
}
