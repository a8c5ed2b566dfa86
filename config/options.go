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

// Package config holds the group coordinator's ambient configuration: the
// knobs left as collaborator details (page size, history target,
// encryption padding) rather than as modeled group operations.
package config

import "github.com/creasty/defaults"

// Options configures a Group. Zero-value fields are filled in by
// DefaultOptions using the struct's `default` tags, the tag-driven-defaults
// idiom github.com/creasty/defaults implements.
type Options struct {
	// PageSize is the boundary Write pads output to when PadForEncryption
	// is requested.
	PageSize int `default:"4096"`

	// TargetFileFormatVersion is the file-format version recorded in the
	// header of a newly created empty group. UpgradeFileFormat does not read
	// it; callers pass their target explicitly.
	TargetFileFormatVersion int `default:"9"`

	// PadForEncryption is carried for callers to pass as Write's
	// padForEncryption argument; Write itself reads only that argument.
	PadForEncryption bool `default:"false"`

	// EncryptionKey, when non-nil, is passed through to the (unimplemented,
	// named-out-of-scope encryption collaborator. Carried here
	// only so OpenFile has a place to accept it.
	EncryptionKey []byte

	// CompressTableRoots snappy-compresses each table's serialized root
	// before it is written (the writer and committer collaborators both
	// respect it). Off by default since this repo's
	// table roots are tiny; large schemas benefit more.
	CompressTableRoots bool `default:"false"`
}

// DefaultOptions returns an Options populated entirely from the `default`
// struct tags above.
func DefaultOptions() (*Options, error) {
	o := &Options{}
	if err := defaults.Set(o); err != nil {
		return nil, err
	}
	return o, nil
}
