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

// Package group implements the group/snapshot coordinator: attach/validate,
// the table registry, the copy-on-write writer and committer, the
// file-format upgrade ladder, and AdvanceTransact. It is the only package
// in this repo that understands the on-disk top-array shape end to end;
// alloc, table, and replog are its collaborators.
package group

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/undeadinu/groupstore/alloc"
	"github.com/undeadinu/groupstore/array"
	"github.com/undeadinu/groupstore/config"
	"github.com/undeadinu/groupstore/table"
)

// HeaderMagic is the 8-byte cookie at the start of the streaming header
// (a 24-byte header that carries a magic cookie).
const HeaderMagic uint64 = 0x9e3779b97f4a7c15

// Replicator is the out-of-scope replication/transaction-log collaborator
// named as an external collaborator: the table registry emits one log entry per structural
// mutation by calling into it, when one is installed.
type Replicator interface {
	InsertGroupLevelTable(index, priorCount int, name string)
	EraseGroupLevelTable(index, priorCount int, name string)
	RenameGroupLevelTable(index int, newName string)
	EraseColumn(tableIndex, columnIndex int)
}

// SharedOwner is the shared-group concurrency collaborator, named as an
// external dependency. It is not implemented by this repo (multi-process
// coordination is an explicit Non-goal), and nothing in this package calls
// it; a Group only records whether it is shared (SetShared), which decides
// whether Commit is legal.
type SharedOwner interface {
	BeginRead() (topRef array.Ref, fileSize uint64, err error)
	BeginWrite() (topRef array.Ref, fileSize uint64, err error)
	PublishWrite(topRef array.Ref, fileSize uint64) error
	EndRead()
}

// HistoryKind distinguishes the history roots Write preserves (sync
// histories) from those it drops when writing to a fresh image.
type HistoryKind int

const (
	HistoryNone HistoryKind = iota
	HistorySyncClient
	HistorySyncServer
	HistoryOther
)

// Group is the group/snapshot coordinator. A zero Group is not usable;
// construct one with New, then Attach it to a top-ref.
type Group struct {
	alloc *alloc.Allocator
	opts  *config.Options

	attached bool
	shared   bool

	topRef array.Ref
	top    *array.TopArray

	tableNames []string
	tableRefs  []array.Ref
	accessors  []*table.Table

	fileFormatVersion int

	historyKind          HistoryKind
	historyRef           array.Ref
	historySchemaVersion int64

	numObjects int

	replicator       Replicator
	schemaChangeHook func()

	log *logrus.Entry
}

// New constructs an unattached Group bound to a. Pass nil for opts to use
// config.DefaultOptions().
func New(a *alloc.Allocator, opts *config.Options) (*Group, error) {
	if opts == nil {
		var err error
		opts, err = config.DefaultOptions()
		if err != nil {
			return nil, errors.Wrap(err, "group: building default options")
		}
	}
	return &Group{
		alloc: a,
		opts:  opts,
		log:   logrus.WithField("component", "group"),
	}, nil
}

// SetReplicator installs (or clears, with nil) the replication collaborator
// that the table registry emits log entries to.
func (g *Group) SetReplicator(r Replicator) {
	g.replicator = r
}

// SetSchemaChangeHook installs (or clears, with nil) the callback invoked
// by AdvanceTransact's Phase D when a replayed log changed table shape.
func (g *Group) SetSchemaChangeHook(fn func()) {
	g.schemaChangeHook = fn
}

// Allocator returns the allocator collaborator g is attached to.
func (g *Group) Allocator() *alloc.Allocator {
	return g.alloc
}

// Attached reports whether the group currently has a valid top array.
func (g *Group) Attached() bool {
	return g.attached
}

// Shared reports whether the group is operating under a shared-group
// collaborator: if true, Commit is illegal.
func (g *Group) Shared() bool {
	return g.shared
}

// SetShared marks the group as operating under a SharedOwner collaborator.
// Only relevant to which operations (Commit vs AdvanceTransact) are legal;
// this repo does not implement the shared-group collaborator itself.
func (g *Group) SetShared(shared bool) {
	g.shared = shared
}

// FileFormatVersion returns the group's current on-disk format version.
func (g *Group) FileFormatVersion() int {
	return g.fileFormatVersion
}

func (g *Group) requireAttached() error {
	if !g.attached {
		return newLogicError(WrongGroupState, "group is not attached")
	}
	return nil
}

// encodeHeader builds the 24-byte streaming header: an 8-byte magic
// cookie, an 8-byte reserved field, a 4-byte file-format version, and 4
// bytes of trailing padding.
func encodeHeader(fileFormatVersion int) []byte {
	buf := make([]byte, alloc.HeaderSize)
	binary.BigEndian.PutUint64(buf, HeaderMagic)
	binary.BigEndian.PutUint32(buf[16:], uint32(fileFormatVersion))
	return buf
}

func decodeHeader(buf []byte) (version int, err error) {
	if len(buf) < alloc.HeaderSize {
		return 0, errors.New("group: header truncated")
	}
	magic := binary.BigEndian.Uint64(buf)
	if magic != HeaderMagic {
		return 0, errors.New("group: header magic mismatch")
	}
	return int(binary.BigEndian.Uint32(buf[16:])), nil
}
