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
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/undeadinu/groupstore/alloc"
	"github.com/undeadinu/groupstore/array"
)

// Table payload marker bytes: every table root this package writes is
// prefixed with one of these before framing, so decodeTablePayload knows
// whether to snappy-decompress before handing the bytes to table.DecodeTable.
const (
	tablePayloadRaw    byte = 0
	tablePayloadSnappy byte = 1
)

func encodeTablePayload(raw []byte, compress bool) []byte {
	if !compress {
		return append([]byte{tablePayloadRaw}, raw...)
	}
	return append([]byte{tablePayloadSnappy}, snappy.Encode(nil, raw)...)
}

func decodeTablePayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("group: empty table payload")
	}
	switch data[0] {
	case tablePayloadRaw:
		return data[1:], nil
	case tablePayloadSnappy:
		return snappy.Decode(nil, data[1:])
	default:
		return nil, errors.Errorf("group: unknown table payload marker %d", data[0])
	}
}

// arraySink is the minimal capability both Write and Commit need from their
// destination: somewhere to place a freshly serialized array and a ref back
// to it, plus the current logical offset for the two-pass top-array sizing
// rule. alloc.GroupWriter satisfies it directly for Commit;
// Write uses streamSink below, since it targets an arbitrary io.Writer with
// no existing image to place arrays into.
type arraySink interface {
	WriteArray(payload []byte) (array.Ref, error)
	Offset() uint64
}

// streamSink is the io.Writer-backed arraySink Write serializes through: it
// appends every array sequentially starting just past the header, never
// reusing space, since there is no existing free list to reuse it from.
type streamSink struct {
	w      io.Writer
	offset uint64
}

func newStreamSink(w io.Writer, startOffset uint64) *streamSink {
	return &streamSink{w: w, offset: startOffset}
}

func (s *streamSink) WriteArray(payload []byte) (array.Ref, error) {
	framed := alloc.Frame(payload)
	padded := alloc.PaddedFrameLen(len(payload))
	ref := array.Ref(s.offset)
	if _, err := s.w.Write(framed); err != nil {
		return 0, errors.Wrap(err, "group: writing array")
	}
	if pad := padded - uint64(len(framed)); pad > 0 {
		if _, err := s.w.Write(make([]byte, pad)); err != nil {
			return 0, errors.Wrap(err, "group: writing array padding")
		}
	}
	s.offset += padded
	return ref, nil
}

func (s *streamSink) Offset() uint64 {
	return s.offset
}

// Write serializes the attached group's current snapshot to w as a
// complete, freestanding streaming-format image: a 24-byte
// header, every live table's root and the table-names/tables arrays that
// index them, a versioned top array, and a 16-byte footer. It never touches
// the allocator this Group is attached to — a Group can Write itself out
// while still attached to its original file.
//
// versionNumber == 0 produces a bare 3-slot top array with no versioning
// info. A non-zero versionNumber additionally serializes three empty
// free-list placeholder arrays and records versionNumber in the top array's
// version slot, matching what a later AdvanceTransact against this image
// would expect to find. History slots are written only when the group's own
// history fields name a sync history with a non-null root, and the root ref
// is then copied as is rather than re-serialized into w. Attach does not load
// those fields from an attached image's history slots, so a history present
// on disk is not carried into the written image.
func (g *Group) Write(w io.Writer, versionNumber uint64, padForEncryption bool) error {
	if err := g.requireAttached(); err != nil {
		return err
	}

	header := encodeHeader(g.fileFormatVersion)
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "group: writing header")
	}
	sink := newStreamSink(w, uint64(len(header)))

	topRef, logicalSize, err := g.serializeSnapshot(sink, versionNumber)
	// serializeSnapshot points every accessor at its ref inside w; point them
	// back at the attached image.
	for i, acc := range g.accessors {
		if acc != nil && i < len(g.tableRefs) {
			acc.SetRef(g.tableRefs[i])
		}
	}
	if err != nil {
		return err
	}

	if padForEncryption && g.opts.PageSize > 0 {
		pageSize := uint64(g.opts.PageSize)
		total := sink.Offset() + alloc.FooterSize
		if rem := total % pageSize; rem != 0 {
			if _, err := w.Write(make([]byte, pageSize-rem)); err != nil {
				return errors.Wrap(err, "group: writing encryption padding")
			}
		}
	}

	footer := make([]byte, alloc.FooterSize)
	binary.BigEndian.PutUint64(footer, uint64(topRef))
	binary.BigEndian.PutUint64(footer[8:], alloc.FooterMagic)
	if _, err := w.Write(footer); err != nil {
		return errors.Wrap(err, "group: writing footer")
	}

	g.log.WithFields(map[string]interface{}{"topRef": uint64(topRef), "logicalSize": logicalSize}).Debug("wrote streaming image")
	return nil
}

// serializeSnapshot is the shared half of Write and Commit: it places every
// live table's root, the table-names and tables arrays, and a correctly
// sized top array into sink, and returns a ref to the top array plus the
// logical file size recorded in its slot 2.
//
// Every table is re-serialized from its current accessor on every call:
// this repo's table accessors have no sub-tree structure to diff against a
// prior version, so there is no cheaper partial-rewrite path to take here
// the way a B+-tree-backed table implementation would have.
func (g *Group) serializeSnapshot(sink arraySink, versionNumber uint64) (array.Ref, uint64, error) {
	if err := g.refreshAccessors(); err != nil {
		return 0, 0, err
	}

	// Encoding each table's root is pure CPU work independent of every
	// other table, so it runs concurrently; only the actual placement
	// through sink below needs to happen one at a time, in index order, so
	// that table i's ref always lands at tableRefs[i].
	payloads := make([][]byte, len(g.accessors))
	var eg errgroup.Group
	for i, acc := range g.accessors {
		i, acc := i, acc
		eg.Go(func() error {
			payloads[i] = encodeTablePayload(acc.Encode(), g.opts.CompressTableRoots)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, 0, err
	}

	tableRefs := make([]array.Ref, len(g.accessors))
	for i, payload := range payloads {
		ref, err := sink.WriteArray(payload)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "group: writing table %q", g.tableNames[i])
		}
		tableRefs[i] = ref
		g.accessors[i].SetRef(ref)
	}

	namesBlob, err := array.EncodeStringArray(g.tableNames)
	if err != nil {
		return 0, 0, err
	}
	namesRef, err := sink.WriteArray(namesBlob)
	if err != nil {
		return 0, 0, err
	}

	tablesRef, err := sink.WriteArray(array.EncodeRefArray(tableRefs))
	if err != nil {
		return 0, 0, err
	}

	// First pass of the two-pass sizing rule: settle on the top array's
	// final slot count before computing its own logical-size slot, so that
	// slot 2 can never retroactively change how many slots precede it.
	// Only the two sync histories are preserved into a freshly written
	// image; HistoryOther is dropped the same as HistoryNone. A sync
	// history with no root ref yet attached has nothing to preserve either,
	// since g.historyRef would otherwise point nowhere useful.
	preservingHistory := (g.historyKind == HistorySyncClient || g.historyKind == HistorySyncServer) && !g.historyRef.IsNull()
	size := 3
	switch {
	case preservingHistory:
		size = 10
	case versionNumber != 0:
		size = 7
	}
	top, err := array.NewTopArray(size)
	if err != nil {
		return 0, 0, err
	}
	top.SetRef(array.SlotTableNamesRef, namesRef)
	top.SetRef(array.SlotTablesRef, tablesRef)

	if size >= 5 && versionNumber != 0 {
		emptyRefs := array.EncodeRefArray(nil)
		posRef, err := sink.WriteArray(emptyRefs)
		if err != nil {
			return 0, 0, err
		}
		lenRef, err := sink.WriteArray(emptyRefs)
		if err != nil {
			return 0, 0, err
		}
		verRef, err := sink.WriteArray(emptyRefs)
		if err != nil {
			return 0, 0, err
		}
		top.SetRef(array.SlotFreeListPositions, posRef)
		top.SetRef(array.SlotFreeListLengths, lenRef)
		top.SetRef(array.SlotFreeListVersions, verRef)
		if err := top.SetTagged(array.SlotVersion, int64(versionNumber)); err != nil {
			return 0, 0, err
		}
	}

	if size >= 10 {
		if err := top.SetTagged(array.SlotHistoryType, int64(g.historyKind)); err != nil {
			return 0, 0, err
		}
		top.SetRef(array.SlotHistoryRoot, g.historyRef)
		if err := top.SetTagged(array.SlotHistorySchemaVersion, g.historySchemaVersion); err != nil {
			return 0, 0, err
		}
	}

	// Second pass: now that the array is at its final size, its logical
	// file size slot can be computed as the offset the top array itself
	// will occupy plus its own byte width — get_ref_of_next_array() in the
	// original's terms, the offset one past the top array's own content,
	// not one array short of it.
	logicalSize := sink.Offset() + uint64(top.ByteSize())
	if err := top.SetTagged(array.SlotFileSize, int64(logicalSize)); err != nil {
		return 0, 0, err
	}

	topRef, err := sink.WriteArray(top.Encode())
	if err != nil {
		return 0, 0, err
	}
	return topRef, logicalSize, nil
}
