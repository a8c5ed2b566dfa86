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
	"github.com/pkg/errors"

	"github.com/undeadinu/groupstore/alloc"
	"github.com/undeadinu/groupstore/array"
	"github.com/undeadinu/groupstore/config"
	"github.com/undeadinu/groupstore/table"
)

// OpenFile attaches to the group image at path, creating an empty one if the
// file did not already exist and mode is alloc.ReadWrite (the other modes
// fail on a missing file), and returns a ready-to-use Group. Pass nil
// for opts to use config.DefaultOptions().
func OpenFile(path string, mode alloc.Mode, opts *config.Options) (*Group, error) {
	a, err := alloc.AttachFile(path, mode)
	if err != nil {
		return nil, err
	}
	g, err := openAttached(a, opts, mode == alloc.ReadOnly)
	if err != nil {
		a.Close()
		return nil, err
	}
	return g, nil
}

// OpenBuffer attaches to an in-memory image the same way OpenFile attaches to
// a file. If takeOwnership is true, buf may be mutated in place.
func OpenBuffer(buf []byte, takeOwnership bool, opts *config.Options) (*Group, error) {
	a, err := alloc.AttachBuffer(buf, takeOwnership)
	if err != nil {
		return nil, err
	}
	g, err := openAttached(a, opts, false)
	if err != nil {
		a.Close()
		return nil, err
	}
	return g, nil
}

func openAttached(a *alloc.Allocator, opts *config.Options, readOnly bool) (*Group, error) {
	g, err := New(a, opts)
	if err != nil {
		return nil, err
	}

	headerBytes, err := a.HeaderBytes()
	if err != nil {
		return nil, errors.Wrap(err, "group: reading header")
	}
	version, headerErr := decodeHeader(headerBytes)

	topRefRaw, err := a.ReadFooter()
	if err != nil {
		return nil, errors.Wrap(err, "group: reading footer")
	}

	if topRefRaw == 0 {
		// No footer yet: either a brand-new image (header also absent) or a
		// corrupt one (header present but no root was ever published).
		if headerErr == nil {
			return nil, newInvalidDatabaseError("", "header present but no root array was ever published")
		}
		if readOnly {
			return nil, newInvalidDatabaseError("", "empty image opened read-only")
		}
		if err := g.createEmptyGroup(); err != nil {
			return nil, err
		}
		return g, nil
	}

	if headerErr != nil {
		return nil, errors.Wrap(headerErr, "group: decoding header")
	}
	g.fileFormatVersion = version

	if err := g.Attach(array.Ref(topRefRaw), false); err != nil {
		return nil, err
	}
	return g, nil
}

// createEmptyGroup lays down a brand-new, minimal (3-slot) top array with
// empty table-names and tables children, and a freshly written header. It is
// the create_when_missing branch of Attach, and the path OpenFile/OpenBuffer
// take for a file or buffer with no root yet.
func (g *Group) createEmptyGroup() error {
	header := encodeHeader(g.opts.TargetFileFormatVersion)
	if err := g.alloc.WriteHeaderBytes(header); err != nil {
		return errors.Wrap(err, "group: writing initial header")
	}

	tableNamesBlob, err := array.EncodeStringArray(nil)
	if err != nil {
		return err
	}
	tableNamesRef, err := g.alloc.Alloc(tableNamesBlob)
	if err != nil {
		return errors.Wrap(err, "group: allocating empty table-names array")
	}

	tablesRef, err := g.alloc.Alloc(array.EncodeRefArray(nil))
	if err != nil {
		return errors.Wrap(err, "group: allocating empty tables array")
	}

	top, err := array.NewTopArray(3)
	if err != nil {
		return err
	}
	top.SetRef(array.SlotTableNamesRef, tableNamesRef)
	top.SetRef(array.SlotTablesRef, tablesRef)
	if err := top.SetTagged(array.SlotFileSize, int64(g.alloc.Baseline())); err != nil {
		return err
	}

	topRef, err := g.alloc.Alloc(top.Encode())
	if err != nil {
		return errors.Wrap(err, "group: allocating empty top array")
	}

	g.topRef = topRef
	g.top = top
	g.tableNames = nil
	g.tableRefs = nil
	g.accessors = nil
	g.fileFormatVersion = g.opts.TargetFileFormatVersion
	g.attached = true
	g.log.Debug("created empty group")
	return nil
}

// Attach makes topRef the group's current root, validating its structure
// before touching any existing state (all-or-nothing — a rejected
// attach leaves a previously-attached Group exactly as it was). If topRef is
// the null ref, it either creates an empty group (createWhenMissing) or
// fails with InvalidDatabaseError.
func (g *Group) Attach(topRef array.Ref, createWhenMissing bool) error {
	if topRef.IsNull() {
		if !createWhenMissing {
			return newInvalidDatabaseError("", "no root array and create_when_missing is false")
		}
		return g.createEmptyGroup()
	}

	top, names, refs, err := g.readAndValidate(topRef)
	if err != nil {
		return err
	}

	g.topRef = topRef
	g.top = top
	g.tableNames = names
	g.tableRefs = refs
	g.accessors = make([]*table.Table, len(refs))
	g.attached = true
	return nil
}

// readAndValidate reads and structurally validates the top array at topRef
// and its two direct children, without mutating g. Any failure here is
// reported as *InvalidDatabaseError and leaves the caller free to preserve
// whatever state the group had before the attempt.
func (g *Group) readAndValidate(topRef array.Ref) (*array.TopArray, []string, []array.Ref, error) {
	if !topRef.Aligned() {
		return nil, nil, nil, newInvalidDatabaseError("", "root ref is not 8-byte aligned")
	}

	topBlob, err := g.alloc.Get(topRef)
	if err != nil {
		return nil, nil, nil, newInvalidDatabaseError("", errors.Wrap(err, "reading root array").Error())
	}
	top, err := array.DecodeTopArray(topBlob)
	if err != nil {
		return nil, nil, nil, newInvalidDatabaseError("", errors.Wrap(err, "decoding root array").Error())
	}

	baseline := g.alloc.Baseline()
	if err := validateTopArray(top, baseline); err != nil {
		return nil, nil, nil, err
	}

	namesBlob, err := g.alloc.Get(top.TableNamesRef())
	if err != nil {
		return nil, nil, nil, newInvalidDatabaseError("", errors.Wrap(err, "reading table-names array").Error())
	}
	names, err := array.DecodeStringArray(namesBlob)
	if err != nil {
		return nil, nil, nil, newInvalidDatabaseError("", errors.Wrap(err, "decoding table-names array").Error())
	}

	tablesBlob, err := g.alloc.Get(top.TablesRef())
	if err != nil {
		return nil, nil, nil, newInvalidDatabaseError("", errors.Wrap(err, "reading tables array").Error())
	}
	refs, err := array.DecodeRefArray(tablesBlob)
	if err != nil {
		return nil, nil, nil, newInvalidDatabaseError("", errors.Wrap(err, "decoding tables array").Error())
	}

	if len(names) != len(refs) {
		return nil, nil, nil, newInvalidDatabaseError("", "table-names and tables arrays have different lengths")
	}

	return top, names, refs, nil
}

// validateTopArray implements the structural checks: slot count in
// array.ValidSizes (already enforced by DecodeTopArray), a logical file size
// that does not exceed the allocator's baseline, and table-names/tables refs
// that are non-null, 8-byte aligned, and fall strictly within that file
// size.
func validateTopArray(top *array.TopArray, baseline uint64) error {
	fileSize := top.FileSize()
	if fileSize < 0 || uint64(fileSize) > baseline {
		return newInvalidDatabaseError("", "logical file size exceeds allocator baseline")
	}

	namesRef := top.TableNamesRef()
	if namesRef.IsNull() || !namesRef.Aligned() || uint64(namesRef) >= uint64(fileSize) {
		return newInvalidDatabaseError("", "table-names ref is out of range")
	}

	tablesRef := top.TablesRef()
	if tablesRef.IsNull() || !tablesRef.Aligned() || uint64(tablesRef) >= uint64(fileSize) {
		return newInvalidDatabaseError("", "tables ref is out of range")
	}

	return nil
}

// Detach invalidates the group's current root and every live table
// accessor, mirroring the detached_accessor LogicError surfaced by any
// operation attempted afterwards.
func (g *Group) Detach() {
	for _, acc := range g.accessors {
		if acc != nil {
			acc.Detach()
		}
	}
	g.attached = false
	g.top = nil
	g.topRef = array.NullRef
	g.tableNames = nil
	g.tableRefs = nil
	g.accessors = nil
}
