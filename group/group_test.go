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
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/undeadinu/groupstore/alloc"
	"github.com/undeadinu/groupstore/array"
	"github.com/undeadinu/groupstore/replog"
	"github.com/undeadinu/groupstore/table"
)

func TestGroup(t *testing.T) {
	suite.Run(t, &GroupSuite{})
}

type GroupSuite struct {
	suite.Suite
	g *Group
}

func (s *GroupSuite) SetupTest() {
	g, err := OpenBuffer(nil, true, nil)
	s.Require().NoError(err)
	s.g = g
}

func (s *GroupSuite) TestOpenBufferCreatesEmptyAttachedGroup() {
	s.True(s.g.Attached())
	s.Equal(0, s.g.Size())
	s.False(s.g.Shared())
}

func (s *GroupSuite) TestAddTableAndGetTableByName() {
	tbl, err := s.g.AddTable("people")
	s.Require().NoError(err)
	s.Equal(0, tbl.Index())
	s.Equal("people", tbl.Name())

	found, err := s.g.GetTableByName("people")
	s.Require().NoError(err)
	s.Same(tbl, found, "repeated lookups before any refresh return the same accessor")
	s.True(s.g.HasTable("people"))
	s.False(s.g.HasTable("nope"))
}

func (s *GroupSuite) TestAddTableDuplicateNameFails() {
	_, err := s.g.AddTable("people")
	s.Require().NoError(err)
	_, err = s.g.AddTable("people")
	s.ErrorIs(err, ErrTableNameInUse)
}

func (s *GroupSuite) TestAddTableNameTooLong() {
	long := make([]byte, array.MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := s.g.AddTable(string(long))
	var logicErr *LogicError
	s.ErrorAs(err, &logicErr)
	s.Equal(TableNameTooLong, logicErr.Kind)
}

func (s *GroupSuite) TestGetOrAddTableCreatesOnce() {
	tbl, created, err := s.g.GetOrAddTable("people")
	s.Require().NoError(err)
	s.True(created)

	again, created, err := s.g.GetOrAddTable("people")
	s.Require().NoError(err)
	s.False(created)
	s.Same(tbl, again)
}

func (s *GroupSuite) TestGetTableByIndexOutOfRange() {
	_, err := s.g.GetTableByIndex(0)
	var logicErr *LogicError
	s.ErrorAs(err, &logicErr)
	s.Equal(TableIndexOutOfRange, logicErr.Kind)
}

func (s *GroupSuite) TestRemoveTableByIndexShiftsSurvivorIndicesAndNames() {
	_, err := s.g.AddTable("a")
	s.Require().NoError(err)
	_, err = s.g.AddTable("b")
	s.Require().NoError(err)
	c, err := s.g.AddTable("c")
	s.Require().NoError(err)

	s.Require().NoError(s.g.RemoveTableByIndex(0))

	s.Equal(2, s.g.Size())
	s.False(s.g.HasTable("a"))
	b, err := s.g.GetTableByName("b")
	s.Require().NoError(err)
	s.Equal(0, b.Index())
	s.Equal(1, c.Index(), "surviving accessor's cached index is rewritten in place")
}

func (s *GroupSuite) TestRemoveTableByIndexRejectsCrossTableLinkTarget() {
	_, err := s.g.AddTable("target")
	s.Require().NoError(err)
	source, err := s.g.AddTable("source")
	s.Require().NoError(err)
	source.InsertColumn(table.Column{Name: "toTarget", Type: table.ColLink, OppositeTable: 0})

	err = s.g.RemoveTableByIndex(0)
	s.ErrorIs(err, ErrCrossTableLinkTarget)
	s.Equal(2, s.g.Size(), "a rejected remove leaves the table count unchanged")
}

func (s *GroupSuite) TestRemoveTableByNameNoSuchTable() {
	err := s.g.RemoveTableByName("ghost")
	s.ErrorIs(err, ErrNoSuchTable)
}

func (s *GroupSuite) TestRenameTableNameInUseRejected() {
	_, err := s.g.AddTable("a")
	s.Require().NoError(err)
	_, err = s.g.AddTable("b")
	s.Require().NoError(err)

	err = s.g.RenameTable(0, "b")
	s.ErrorIs(err, ErrTableNameInUse)
}

func (s *GroupSuite) TestRenameTableToItsOwnCurrentNameIsFine() {
	tbl, err := s.g.AddTable("a")
	s.Require().NoError(err)
	s.Require().NoError(s.g.RenameTable(0, "a"))
	s.Equal("a", tbl.Name())
}

func (s *GroupSuite) TestCommitKeepsTableShapeAndBaseline() {
	tbl, err := s.g.AddTable("people")
	s.Require().NoError(err)
	tbl.SetRowCount(3)

	baselineBefore := s.g.alloc.Baseline()
	s.Require().NoError(s.g.Commit())

	s.Equal(1, s.g.Size())
	refreshed, err := s.g.GetTableByName("people")
	s.Require().NoError(err)
	s.Equal(3, refreshed.RowCount())
	s.GreaterOrEqual(s.g.alloc.Baseline(), baselineBefore, "commit only ever grows or holds the baseline steady")
}

func (s *GroupSuite) TestCommitIllegalOnSharedGroup() {
	s.g.SetShared(true)
	err := s.g.Commit()
	var logicErr *LogicError
	s.ErrorAs(err, &logicErr)
	s.Equal(WrongGroupState, logicErr.Kind)
}

func (s *GroupSuite) TestWriteThenOpenBufferRoundTrip() {
	tbl, err := s.g.AddTable("people")
	s.Require().NoError(err)
	tbl.SetRowCount(5)
	tbl.InsertColumn(table.Column{Name: "age", Type: table.ColScalar})

	var buf bytes.Buffer
	s.Require().NoError(s.g.Write(&buf, 0, false))

	reopened, err := OpenBuffer(buf.Bytes(), true, nil)
	s.Require().NoError(err)
	s.Equal(1, reopened.Size())

	got, err := reopened.GetTableByName("people")
	s.Require().NoError(err)
	s.Equal(5, got.RowCount())
	s.Require().Len(got.Columns(), 1)
	s.Equal("age", got.Columns()[0].Name)
}

func (s *GroupSuite) TestUpgradeFileFormatRejectsDowngrade() {
	current := s.g.FileFormatVersion()
	err := s.g.UpgradeFileFormat(current - 1)
	var logicErr *LogicError
	s.ErrorAs(err, &logicErr)
	s.Equal(WrongGroupState, logicErr.Kind)
}

func (s *GroupSuite) TestUpgradeFileFormatIsIdempotent() {
	current := s.g.FileFormatVersion()
	s.Require().NoError(s.g.UpgradeFileFormat(current))
	s.Equal(current, s.g.FileFormatVersion())

	s.Require().NoError(s.g.UpgradeFileFormat(current + 2))
	s.Equal(current+2, s.g.FileFormatVersion())

	s.Require().NoError(s.g.UpgradeFileFormat(current + 2))
	s.Equal(current+2, s.g.FileFormatVersion())
}

func (s *GroupSuite) TestTargetFileFormatForSessionFloorsAtNine() {
	s.Equal(9, TargetFileFormatForSession(3, HistoryNone))
	s.Equal(9, TargetFileFormatForSession(3, HistorySyncClient))
	s.Equal(12, TargetFileFormatForSession(12, HistoryNone))
}

func (s *GroupSuite) TestDetachInvalidatesLiveAccessors() {
	tbl, err := s.g.AddTable("people")
	s.Require().NoError(err)

	s.g.Detach()
	s.False(s.g.Attached())
	s.True(tbl.Detached())
}

func (s *GroupSuite) TestEqualComparesShapeNotIdentity() {
	tbl, err := s.g.AddTable("people")
	s.Require().NoError(err)
	tbl.SetRowCount(2)
	tbl.InsertColumn(table.Column{Name: "age", Type: table.ColScalar})

	other, err := OpenBuffer(nil, true, nil)
	s.Require().NoError(err)
	otherTbl, err := other.AddTable("people")
	s.Require().NoError(err)
	otherTbl.SetRowCount(2)
	otherTbl.InsertColumn(table.Column{Name: "age", Type: table.ColScalar})

	s.True(s.g.Equal(other))

	otherTbl.SetRowCount(3)
	s.False(s.g.Equal(other))
}

func (s *GroupSuite) TestNumObjectsSumsRowCountsAcrossTables() {
	a, err := s.g.AddTable("a")
	s.Require().NoError(err)
	a.SetRowCount(2)
	b, err := s.g.AddTable("b")
	s.Require().NoError(err)
	b.SetRowCount(5)

	n, err := s.g.NumObjects()
	s.Require().NoError(err)
	s.Equal(7, n)
}

func (s *GroupSuite) TestComputeAggregatedByteSizeTotalAtLeastDataOnly() {
	tbl, err := s.g.AddTable("people")
	s.Require().NoError(err)
	tbl.SetRowCount(1)
	s.Require().NoError(s.g.Commit())

	total, _ := s.g.ComputeAggregatedByteSize(SizeAggregateTotal)
	data, _ := s.g.ComputeAggregatedByteSize(SizeAggregateDataOnly)
	free, _ := s.g.ComputeAggregatedByteSize(SizeAggregateFreeOnly)
	s.Equal(total, data+free)
}

// publishPeerTableInsert writes a second table ("bar") directly through
// g's own allocator and publishes it as a new root, simulating a peer that
// shares the same underlying file/buffer and has just committed a
// structural change. It returns the new root ref and the file size
// AdvanceTransact should be told about.
func (s *GroupSuite) publishPeerTableInsert(existingRef array.Ref) (array.Ref, uint64) {
	gw := s.g.alloc.NewGroupWriter()

	barPayload := encodeTablePayload(table.New("bar").Encode(), false)
	barRef, err := gw.WriteArray(barPayload)
	s.Require().NoError(err)

	namesBlob, err := array.EncodeStringArray([]string{"foo", "bar"})
	s.Require().NoError(err)
	namesRef, err := gw.WriteArray(namesBlob)
	s.Require().NoError(err)

	tablesRef, err := gw.WriteArray(array.EncodeRefArray([]array.Ref{existingRef, barRef}))
	s.Require().NoError(err)

	top, err := array.NewTopArray(3)
	s.Require().NoError(err)
	top.SetRef(array.SlotTableNamesRef, namesRef)
	top.SetRef(array.SlotTablesRef, tablesRef)
	logicalSize := gw.Offset() + uint64(top.ByteSize())
	s.Require().NoError(top.SetTagged(array.SlotFileSize, int64(logicalSize)))

	topRef, err := gw.WriteArray(top.Encode())
	s.Require().NoError(err)
	preFooterOffset := gw.Offset()
	s.Require().NoError(gw.Publish(topRef, preFooterOffset))

	return topRef, preFooterOffset + alloc.FooterSize
}

// TestAdvanceTransactPreservesAccessorIdentity drives a peer's structural
// change directly through g's own allocator (as if a SharedOwner had
// mmap'd the same file and just published a new root), then replays the
// matching log so AdvanceTransact can reconcile the live accessor cache
// without detaching the surviving table.
func (s *GroupSuite) TestAdvanceTransactPreservesAccessorIdentity() {
	foo, err := s.g.AddTable("foo")
	s.Require().NoError(err)
	s.Require().NoError(s.g.Commit())

	topRef, newFileSize := s.publishPeerTableInsert(foo.Ref())

	log := replog.NewLog([]replog.Instruction{
		{Kind: replog.InsertGroupLevelTable, TableIndex: 1, PriorCount: 1, Name: "bar"},
	})
	s.Require().NoError(s.g.AdvanceTransact(topRef, newFileSize, log))

	s.Equal(2, s.g.Size())
	s.Same(foo, s.g.accessors[0], "surviving table keeps its original Go accessor identity across AdvanceTransact")
	s.False(foo.Detached())
	s.Equal(0, foo.Index())

	bar, err := s.g.GetTableByName("bar")
	s.Require().NoError(err)
	s.Equal(1, bar.Index())
}

// TestAdvanceTransactFallsBackToWholesaleAdoptOnShapeMismatch exercises the
// safety net: if the supplied log under-describes the peer's structural
// change (here, an empty log against a root that actually gained a table),
// AdvanceTransact detects the shape mismatch and detaches every existing
// accessor rather than leaving stale ones pointing at the wrong index.
func (s *GroupSuite) TestAdvanceTransactFallsBackToWholesaleAdoptOnShapeMismatch() {
	foo, err := s.g.AddTable("foo")
	s.Require().NoError(err)
	s.Require().NoError(s.g.Commit())

	topRef, newFileSize := s.publishPeerTableInsert(foo.Ref())

	s.Require().NoError(s.g.AdvanceTransact(topRef, newFileSize, replog.NewLog(nil)))

	s.Equal(2, s.g.Size())
	s.True(foo.Detached(), "the mismatched-shape fallback detaches every pre-existing accessor")

	bar, err := s.g.GetTableByName("bar")
	s.Require().NoError(err)
	s.Equal("bar", bar.Name())
}
