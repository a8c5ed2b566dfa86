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

package alloc

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/edsrzf/mmap-go"

	"github.com/undeadinu/groupstore/array"
)

// Frame prepends a 4-byte big-endian length to payload. Every ref this
// package hands out points at the start of a Frame, so a ref alone is
// enough to recover the payload's length on a later Get/WriteArray reuse —
// callers never need to carry byte lengths alongside their Refs.
func Frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// Unframe strips the 4-byte length prefix written by Frame and returns the
// payload it describes.
func Unframe(framed []byte) ([]byte, error) {
	if len(framed) < 4 {
		return nil, errors.New("alloc: frame truncated before length")
	}
	n := binary.BigEndian.Uint32(framed)
	if len(framed) < int(4+n) {
		return nil, errors.New("alloc: frame shorter than declared length")
	}
	out := make([]byte, n)
	copy(out, framed[4:4+n])
	return out, nil
}

// PaddedFrameLen returns the total on-disk size (length prefix + payload +
// 8-byte-alignment padding) of a Frame wrapping a payload of n bytes.
func PaddedFrameLen(n int) uint64 {
	total := uint64(4 + n)
	if total%8 != 0 {
		total += 8 - (total % 8)
	}
	return total
}

func mmapRDWR(f *os.File) (mmap.MMap, error) {
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "alloc: remap after growth")
	}
	return m, nil
}

// FooterSize is the fixed size in bytes of the streaming footer appended
// after the top array: an 8-byte top-ref followed by an 8-byte magic
// cookie.
const FooterSize = 16

// FooterMagic is the trailing magic cookie written by Publish and checked
// by ReadFooter.
const FooterMagic uint64 = 0x468db75c98df2a27

// ErrBadFooter is returned when the trailing bytes of an attached image do
// not end in FooterMagic.
var ErrBadFooter = errors.New("alloc: footer magic mismatch")

// GroupWriter is the durable-commit collaborator: it
// knows how to place newly serialized arrays into the free space of an
// already-open file (or buffer) and then publish a new top-ref, the moment
// the file's authoritative root flips to the new snapshot.
type GroupWriter struct {
	a *Allocator
}

// NewGroupWriter returns a GroupWriter bound to a.
func (a *Allocator) NewGroupWriter() *GroupWriter {
	return &GroupWriter{a: a}
}

// WriteArray Frames payload and places it into the file's free space
// (reusing a released span if one fits, otherwise growing the file),
// returning a ref to the Frame. Unlike Alloc, the returned ref is always
// below the (possibly just-grown) baseline: this is in-place durable
// placement, not a provisional slab.
func (w *GroupWriter) WriteArray(payload []byte) (array.Ref, error) {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	if w.a.closed {
		return 0, ErrDetached
	}

	framed := Frame(payload)
	padded := PaddedFrameLen(len(payload))

	if pos, ok := w.a.free.Take(padded); ok {
		if err := w.writeAt(pos, framed); err != nil {
			return 0, err
		}
		return array.Ref(pos), nil
	}

	pos := w.a.baseline
	if err := w.growLocked(pos + padded); err != nil {
		return 0, err
	}
	if err := w.writeAt(pos, framed); err != nil {
		return 0, err
	}
	return array.Ref(pos), nil
}

// Offset returns the allocator's current baseline: the byte offset one past
// the end of everything durably written through w so far. Group.Commit uses
// this (through serializeSnapshot) to compute the top array's logical
// file-size slot before writing the top array itself, and, like
// appendHistorySchemaVersionSlot, to place the footer. Group.Write uses its
// own stream sink's offset instead.
func (w *GroupWriter) Offset() uint64 {
	w.a.mu.RLock()
	defer w.a.mu.RUnlock()
	return w.a.baseline
}

// Release returns a previously written array's span to the free list so a
// later WriteArray may reuse it, without ever overwriting the array that is
// still live until this call (copy-on-write: old data stays readable by any
// outstanding reader until its snapshot is no longer referenced).
func (w *GroupWriter) Release(ref array.Ref) error {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	pos := uint64(ref)
	if pos+4 > w.a.baseline {
		return errors.Errorf("alloc: release ref %d out of range", ref)
	}
	n := binary.BigEndian.Uint32(w.a.backingLocked()[pos:])
	w.a.free.Release(pos, PaddedFrameLen(int(n)))
	return nil
}

func (w *GroupWriter) writeAt(pos uint64, data []byte) error {
	dst := w.a.backingLocked()
	if pos+uint64(len(data)) > uint64(len(dst)) {
		return errors.Errorf("alloc: write at %d length %d exceeds backing store of size %d", pos, len(data), len(dst))
	}
	copy(dst[pos:], data)
	return nil
}

func (w *Allocator) backingLocked() []byte {
	if w.mapping != nil {
		return w.mapping
	}
	return w.buffer
}

func (w *GroupWriter) growLocked(newSize uint64) error {
	a := w.a
	if a.file != nil {
		if err := a.mapping.Unmap(); err != nil {
			return errors.Wrap(err, "alloc: unmap before growth")
		}
		if err := a.file.Truncate(int64(newSize)); err != nil {
			return errors.Wrap(err, "alloc: truncate")
		}
		m, err := mmapRDWR(a.file)
		if err != nil {
			return err
		}
		a.mapping = m
	} else {
		grown := make([]byte, newSize)
		copy(grown, a.buffer)
		a.buffer = grown
	}
	a.baseline = newSize
	return nil
}

// Publish writes the streaming footer (top-ref + magic) at the very end of
// the file/buffer and, for a file-backed allocator, flushes it to durable
// storage. This is the moment the file's
// authoritative root flips to the new snapshot only once this call
// returns.
func (w *GroupWriter) Publish(topRef array.Ref, fileSize uint64) error {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	if w.a.closed {
		return ErrDetached
	}

	footer := make([]byte, FooterSize)
	binary.BigEndian.PutUint64(footer, uint64(topRef))
	binary.BigEndian.PutUint64(footer[8:], FooterMagic)

	needed := fileSize + FooterSize
	if needed > w.a.baseline {
		if err := w.growLocked(needed); err != nil {
			return err
		}
	}
	dst := w.a.backingLocked()
	copy(dst[fileSize:], footer)

	if w.a.mapping != nil {
		if err := w.a.mapping.Flush(); err != nil {
			return errors.Wrap(err, "alloc: flush footer")
		}
	}
	w.a.log.WithFields(map[string]interface{}{"topRef": uint64(topRef), "fileSize": fileSize}).Debug("published new root")
	return nil
}

// ReadFooter reads and validates the footer at the end of data, returning
// the top-ref it records.
func ReadFooter(data []byte) (topRef uint64, err error) {
	if len(data) < FooterSize {
		return 0, errors.New("alloc: image too small to contain a footer")
	}
	tail := data[len(data)-FooterSize:]
	magic := binary.BigEndian.Uint64(tail[8:])
	if magic != FooterMagic {
		return 0, ErrBadFooter
	}
	return binary.BigEndian.Uint64(tail), nil
}

// ReadFooter reads the footer occupying the last FooterSize bytes of a's
// attached image, returning the top-ref it authoritatively records. It
// returns 0, nil for a freshly attached, footer-less image (baseline ==
// HeaderSize).
func (a *Allocator) ReadFooter() (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, ErrDetached
	}
	if a.baseline <= HeaderSize {
		return 0, nil
	}
	return ReadFooter(a.backing())
}

// WriteHeaderBytes writes data at offset 0 of a's backing store. Used once,
// at group creation, to lay down the 24-byte streaming header described in
// the streaming header; data must fit within the current baseline.
func (a *Allocator) WriteHeaderBytes(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrDetached
	}
	dst := a.backingLocked()
	if len(data) > len(dst) {
		return errors.New("alloc: header larger than baseline")
	}
	copy(dst, data)
	return nil
}

// HeaderBytes returns a copy of the first HeaderSize bytes of a's backing
// store.
func (a *Allocator) HeaderBytes() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrDetached
	}
	dst := a.backingLocked()
	if len(dst) < HeaderSize {
		return nil, errors.New("alloc: backing store smaller than header")
	}
	out := make([]byte, HeaderSize)
	copy(out, dst[:HeaderSize])
	return out, nil
}
