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

// Package alloc is the external slab-allocator collaborator the group
// coordinator is built on: it attaches to a file or buffer image, tracks the
// baseline that separates file-backed refs from in-memory slab extensions,
// and translates refs to bytes. The group/snapshot format (top array
// layout, commit protocol, upgrade ladder) lives in package group; this
// package only owns storage.
package alloc

import (
	"encoding/binary"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/edsrzf/mmap-go"

	"github.com/undeadinu/groupstore/array"
)

// Mode controls how AttachFile opens the underlying file.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	ReadWriteNoCreate
)

// HeaderSize is the size in bytes reserved at offset 0 for the streaming
// header (see group.WriteHeader). A freshly created empty group's top array
// sits just past it.
const HeaderSize = 24

// decodeCacheSize bounds the number of decoded array payloads the allocator
// keeps around across lookups, avoiding a re-decode of hot nodes (table
// roots, table-name arrays) during repeated table-registry traversals.
const decodeCacheSize = 4096

// ErrDetached is returned after Close by the Allocator and GroupWriter
// operations that check for it (see Close).
var ErrDetached = errors.New("alloc: allocator is closed")

// Allocator owns one open file or buffer image: the physical bytes below
// Baseline(), and a set of in-memory slab extensions at or above it.
type Allocator struct {
	mu sync.RWMutex

	mode Mode
	path string

	file    *os.File
	mapping mmap.MMap // nil when attached to an in-memory buffer
	buffer  []byte    // backing bytes when attached to a buffer; nil when attached to a file

	baseline uint64 // physical size of the mapped/buffered region
	closed   bool

	slabs  map[array.Ref][]byte
	nextOff uint64 // next free in-memory slab offset, always >= baseline

	free *freeList

	version uint64

	decodeCache *lru.Cache[array.Ref, []byte]

	log *logrus.Entry
}

func newAllocator(mode Mode, path string) (*Allocator, error) {
	cache, err := lru.New[array.Ref, []byte](decodeCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "alloc: failed to build decode cache")
	}
	return &Allocator{
		mode:        mode,
		path:        path,
		slabs:       make(map[array.Ref][]byte),
		free:        newFreeList(),
		decodeCache: cache,
		log:         logrus.WithFields(logrus.Fields{"component": "alloc"}),
	}, nil
}

// AttachFile opens (and, depending on mode, creates) the file at path and
// maps it for ref translation. An empty or newly created file has a
// baseline of HeaderSize bytes reserved for the streaming header; it is the
// caller's (group.Attach's) job to lay down an initial empty group there.
func AttachFile(path string, mode Mode) (*Allocator, error) {
	a, err := newAllocator(mode, path)
	if err != nil {
		return nil, err
	}

	flags := os.O_RDWR
	if mode == ReadOnly {
		flags = os.O_RDONLY
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if !exists {
		if mode == ReadOnly || mode == ReadWriteNoCreate {
			return nil, errors.Wrapf(os.ErrNotExist, "alloc: %s", path)
		}
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "alloc: opening %s", path)
	}
	a.file = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "alloc: stat")
	}

	if info.Size() == 0 {
		if mode == ReadOnly {
			f.Close()
			return nil, errors.New("alloc: cannot open empty file read-only")
		}
		if err := f.Truncate(int64(HeaderSize)); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "alloc: truncate")
		}
	}

	mmapFlag := mmap.RDONLY
	if mode != ReadOnly {
		mmapFlag = mmap.RDWR
	}
	m, err := mmap.Map(f, mmapFlag, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "alloc: mmap")
	}
	a.mapping = m
	a.baseline = uint64(len(m))
	a.nextOff = a.baseline

	a.log.WithFields(logrus.Fields{"path": path, "baseline": a.baseline}).Debug("attached file")
	return a, nil
}

// AttachBuffer attaches to an in-memory byte buffer instead of a file. If
// takeOwnership is true, the allocator may mutate buf in place (growth still
// reallocates); otherwise buf is copied first.
func AttachBuffer(buf []byte, takeOwnership bool) (*Allocator, error) {
	a, err := newAllocator(ReadWrite, "")
	if err != nil {
		return nil, err
	}
	if takeOwnership {
		a.buffer = buf
	} else {
		a.buffer = append([]byte(nil), buf...)
	}
	if len(a.buffer) == 0 {
		a.buffer = make([]byte, HeaderSize)
	}
	a.baseline = uint64(len(a.buffer))
	a.nextOff = a.baseline
	return a, nil
}

// Baseline returns the physical size of the mapped/buffered region. Refs
// below it resolve into the file/buffer; refs at or above it resolve into
// in-memory slabs.
//
// The gap between the end of the last live structure and Baseline (the
// difference between the physical baseline and the logical file size
// recorded in the top array) is an allocator-layer invariant here: the free
// list (see freelist.go) never returns a span straddling or beyond
// Baseline, so callers above this package never need to reason about it.
func (a *Allocator) Baseline() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.baseline
}

// Version returns the allocator's structural-change counter, bumped by
// BumpVersion. Cached decodes are invalidated whenever it changes.
func (a *Allocator) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// BumpVersion increments the allocator's version counter and drops the
// decode cache, as required before refreshing accessors in
// Group.AdvanceTransact.
func (a *Allocator) BumpVersion() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version++
	a.decodeCache.Purge()
	return a.version
}

// Get resolves ref to the payload of the self-framed blob stored there (see
// Frame/Unframe in writer.go): a 4-byte big-endian length followed by that
// many content bytes. Every ref this package hands out — from Alloc,
// GroupWriter.WriteArray, or a decoded top array's slots — points at a
// frame's start, so Get never needs an externally supplied length.
func (a *Allocator) Get(ref array.Ref) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrDetached
	}
	if cached, ok := a.decodeCache.Get(ref); ok {
		return cached, nil
	}
	data, err := a.getLocked(ref)
	if err != nil {
		return nil, err
	}
	a.decodeCache.Add(ref, data)
	return data, nil
}

func (a *Allocator) getLocked(ref array.Ref) ([]byte, error) {
	off := uint64(ref)
	if off < a.baseline {
		src := a.backing()
		if off+4 > uint64(len(src)) {
			return nil, errors.Errorf("alloc: ref %d has no frame header in backing store", ref)
		}
		n := binary.BigEndian.Uint32(src[off:])
		if off+4+uint64(n) > uint64(len(src)) {
			return nil, errors.Errorf("alloc: ref %d frame of length %d exceeds backing store", ref, n)
		}
		out := make([]byte, n)
		copy(out, src[off+4:off+4+uint64(n)])
		return out, nil
	}
	if slab, ok := a.slabs[ref]; ok {
		return Unframe(slab)
	}
	return nil, errors.Errorf("alloc: no data at ref %d", ref)
}

func (a *Allocator) backing() []byte {
	if a.mapping != nil {
		return a.mapping
	}
	return a.buffer
}

// Alloc frames payload and places it in an in-memory slab beyond Baseline,
// returning a ref to the frame. This is the allocator's half of the
// out-of-scope "slab allocator" collaborator: ordinary
// table mutations allocate here, and the space is reclaimed wholesale by
// ResetSlabs on commit or by GrowBaseline.
func (a *Allocator) Alloc(payload []byte) (array.Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrDetached
	}
	ref := array.Ref(a.nextOff)
	if !ref.Aligned() {
		pad := 8 - (a.nextOff % 8)
		a.nextOff += pad
		ref = array.Ref(a.nextOff)
	}
	framed := Frame(payload)
	a.slabs[ref] = framed
	a.nextOff += uint64(len(framed))
	if a.nextOff%8 != 0 {
		a.nextOff += 8 - (a.nextOff % 8)
	}
	return ref, nil
}

// ResetSlabs discards every in-memory slab, as Group.Commit does in its
// first step before asking the writer for a new top-ref: everything above
// the currently attached baseline is provisional until publish.
func (a *Allocator) ResetSlabs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slabs = make(map[array.Ref][]byte)
	a.nextOff = a.baseline
}

// GrowBaseline advances the baseline to newSize, remapping the backing file
// if one is attached, and discards every in-memory slab. It is used by
// Group.AdvanceTransact (reattach to a peer's new file size); Group.Commit
// does not call it, since its GroupWriter grows the baseline itself as it
// places arrays.
func (a *Allocator) GrowBaseline(newSize uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrDetached
	}
	if newSize < a.baseline {
		return errors.Errorf("alloc: baseline cannot shrink (%d -> %d)", a.baseline, newSize)
	}
	if a.file != nil {
		if err := a.mapping.Unmap(); err != nil {
			return errors.Wrap(err, "alloc: unmap before growth")
		}
		if err := a.file.Truncate(int64(newSize)); err != nil {
			return errors.Wrap(err, "alloc: truncate")
		}
		flag := mmap.RDWR
		if a.mode == ReadOnly {
			flag = mmap.RDONLY
		}
		m, err := mmap.Map(a.file, flag, 0)
		if err != nil {
			return errors.Wrap(err, "alloc: remap after growth")
		}
		a.mapping = m
	} else {
		grown := make([]byte, newSize)
		copy(grown, a.buffer)
		a.buffer = grown
	}
	a.baseline = newSize
	a.slabs = make(map[array.Ref][]byte)
	a.nextOff = newSize
	a.decodeCache.Purge()
	return nil
}

// FreeBytes returns the total size of every reclaimed span in the
// allocator's free list: durable space below Baseline that a future
// GroupWriter.WriteArray may reuse before growing the file further.
func (a *Allocator) FreeBytes() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.free.TotalFree()
}

// Close releases the underlying file mapping. After Close, Get, Alloc,
// GrowBaseline, ReadFooter, WriteHeaderBytes, HeaderBytes and the
// GroupWriter's WriteArray and Publish return ErrDetached; the remaining
// methods do not check for a closed allocator.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.mapping != nil {
		return a.mapping.Unmap()
	}
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// Closed reports whether Close has been called.
func (a *Allocator) Closed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}
