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

import "github.com/pkg/errors"

// LogicErrorKind enumerates the programmer-misuse errors this package
// classifies as "surface, caller must fix, state unchanged".
type LogicErrorKind int

const (
	DetachedAccessor LogicErrorKind = iota
	WrongGroupState
	TableIndexOutOfRange
	TableNameTooLong
)

func (k LogicErrorKind) String() string {
	switch k {
	case DetachedAccessor:
		return "detached_accessor"
	case WrongGroupState:
		return "wrong_group_state"
	case TableIndexOutOfRange:
		return "table_index_out_of_range"
	case TableNameTooLong:
		return "table_name_too_long"
	default:
		return "unknown"
	}
}

// LogicError is a programmer-misuse error: surfaced, never retried
// automatically, and never leaves the group in a changed state.
type LogicError struct {
	Kind LogicErrorKind
	Msg  string
}

func (e *LogicError) Error() string {
	return "group: logic error (" + e.Kind.String() + "): " + e.Msg
}

func newLogicError(kind LogicErrorKind, msg string) *LogicError {
	return &LogicError{Kind: kind, Msg: msg}
}

// InvalidDatabaseError reports a corrupted image: validate_top_array or a
// caller of DecodeTopArray/DecodeStringArray found the bytes on
// disk structurally inconsistent. It is always fatal for the attach
// attempt that produced it; the Group stays unattached.
type InvalidDatabaseError struct {
	Reason string
	Path   string
}

func (e *InvalidDatabaseError) Error() string {
	if e.Path == "" {
		return "group: invalid database: " + e.Reason
	}
	return "group: invalid database (" + e.Path + "): " + e.Reason
}

func newInvalidDatabaseError(path, reason string) *InvalidDatabaseError {
	return &InvalidDatabaseError{Reason: reason, Path: path}
}

// Domain-violation sentinels: surfaced, caller may retry
// differently, group state unchanged.
var (
	ErrNoSuchTable          = errors.New("group: no such table")
	ErrTableNameInUse       = errors.New("group: table name in use")
	ErrCrossTableLinkTarget = errors.New("group: table is the target of a cross-table link")
	ErrDescriptorMismatch   = errors.New("group: descriptor mismatch")
)

// ErrOptimisticLockFailed is the error for a shared collaborator that
// observes the file changed underneath a commit. Nothing in this package
// returns it: Commit refuses a Shared group outright with a WrongGroupState
// LogicError, and detecting that race is the shared group's job.
var ErrOptimisticLockFailed = errors.New("group: optimistic lock failed on commit")
