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

// Package replog defines the transaction-log grammar consumed by
// Group.AdvanceTransact. Production and durable storage of
// the log is the job of the replication/transaction-log collaborator named
// as out of scope; this package only carries the instruction
// shapes a peer's writer emits. The replay itself is Group.replayLog in
// package group.
package replog

import "github.com/google/uuid"

// Kind identifies one instruction in a transaction log.
type Kind int

const (
	InsertGroupLevelTable Kind = iota
	EraseGroupLevelTable
	RenameGroupLevelTable
	SelectTable
	InsertEmptyRows
	EraseRows
	SwapRows
	MoveRow
	MergeRows
	ClearTable
	InsertColumn
	EraseColumn
	InsertLinkColumn
	EraseLinkColumn
	SetLink
	SelectLinkList
	SetValue
)

func (k Kind) String() string {
	switch k {
	case InsertGroupLevelTable:
		return "insert_group_level_table"
	case EraseGroupLevelTable:
		return "erase_group_level_table"
	case RenameGroupLevelTable:
		return "rename_group_level_table"
	case SelectTable:
		return "select_table"
	case InsertEmptyRows:
		return "insert_empty_rows"
	case EraseRows:
		return "erase_rows"
	case SwapRows:
		return "swap_rows"
	case MoveRow:
		return "move_row"
	case MergeRows:
		return "merge_rows"
	case ClearTable:
		return "clear_table"
	case InsertColumn:
		return "insert_column"
	case EraseColumn:
		return "erase_column"
	case InsertLinkColumn:
		return "insert_link_column"
	case EraseLinkColumn:
		return "erase_link_column"
	case SetLink:
		return "set_link"
	case SelectLinkList:
		return "select_link_list"
	case SetValue:
		return "set_value"
	default:
		return "unknown"
	}
}

// ColumnKind mirrors table.ColumnType without importing package table, to
// keep the log grammar free of a dependency on the table accessor it is
// replayed against.
type ColumnKind int

const (
	ColumnScalar ColumnKind = iota
	ColumnLink
	ColumnBacklink
)

// Instruction is one entry of a transaction log. Not every field applies to
// every Kind. Group.replayLog (group/transact.go) reads only TableIndex, for
// every Kind, and Name, for InsertGroupLevelTable and RenameGroupLevelTable.
type Instruction struct {
	Kind Kind

	TableIndex int    // group-level table index this instruction targets
	PriorCount int    // table count before this instruction, for insert/erase
	Name       string // new/renamed table or column name

	Path []int // select_table: subtable column path from the group-level table

	RowIndex  int  // primary row index for row instructions
	RowIndex2 int  // secondary row index (swap_rows, move_row, merge_rows)
	Ordered   bool // insert_empty_rows/erase_rows: ordered vs unordered (move-last-over)

	ColumnIndex     int
	ColumnKind      ColumnKind
	LinkTargetTable int // insert_link_column/erase_link_column: target table index
	BacklinkColumn  int // insert_link_column/erase_link_column: backlink column index in the target
}

// Log is an ordered sequence of instructions, as produced by a peer writer
// and consumed by Group.AdvanceTransact.
type Log struct {
	// BatchID opaquely identifies this log for tracing/dedup in a
	// replication collaborator; AdvanceTransact itself never inspects it.
	BatchID      uuid.UUID
	Instructions []Instruction
}

// NewLog wraps instructions with a fresh batch id.
func NewLog(instructions []Instruction) Log {
	return Log{BatchID: uuid.New(), Instructions: instructions}
}

// ChangesSchema reports whether any instruction in the log can change table
// shape (used to drive AdvanceTransact's post-replay schema-change
// notification).
func (l Log) ChangesSchema() bool {
	for _, instr := range l.Instructions {
		switch instr.Kind {
		case InsertGroupLevelTable, EraseGroupLevelTable,
			InsertColumn, EraseColumn, InsertLinkColumn, EraseLinkColumn:
			return true
		}
	}
	return false
}
