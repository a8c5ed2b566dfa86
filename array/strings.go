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

package array

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MaxNameLength is the longest table (or column) name the format allows.
const MaxNameLength = 63

// ErrNameTooLong is wrapped whenever a name exceeds MaxNameLength bytes.
var ErrNameTooLong = errors.New("array: name too long")

// EncodeStringArray serializes an ordered sequence of strings as a length-
// prefixed stream: a uint32 count, followed by, for each string, a uint32
// byte length and the raw bytes.
func EncodeStringArray(values []string) ([]byte, error) {
	for _, v := range values {
		if len(v) > MaxNameLength {
			return nil, errors.Wrapf(ErrNameTooLong, "%q (%d bytes)", v, len(v))
		}
	}
	size := 4
	for _, v := range values {
		size += 4 + len(v)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf, uint32(len(values)))
	off := 4
	for _, v := range values {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(v)))
		off += 4
		copy(buf[off:], v)
		off += len(v)
	}
	return buf, nil
}

// DecodeStringArray parses the encoding produced by EncodeStringArray.
func DecodeStringArray(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, errors.New("array: string array truncated before count")
	}
	count := binary.BigEndian.Uint32(data)
	off := 4
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(data) {
			return nil, errors.New("array: string array truncated before length")
		}
		n := binary.BigEndian.Uint32(data[off:])
		off += 4
		if off+int(n) > len(data) {
			return nil, errors.New("array: string array truncated before value")
		}
		out = append(out, string(data[off:off+int(n)]))
		off += int(n)
	}
	return out, nil
}

// EncodeRefArray serializes an ordered sequence of refs as a uint32 count
// followed by 8-byte big-endian refs.
func EncodeRefArray(refs []Ref) []byte {
	buf := make([]byte, 4+len(refs)*8)
	binary.BigEndian.PutUint32(buf, uint32(len(refs)))
	for i, r := range refs {
		binary.BigEndian.PutUint64(buf[4+i*8:], uint64(r))
	}
	return buf
}

// DecodeRefArray parses the encoding produced by EncodeRefArray.
func DecodeRefArray(data []byte) ([]Ref, error) {
	if len(data) < 4 {
		return nil, errors.New("array: ref array truncated before count")
	}
	count := binary.BigEndian.Uint32(data)
	if len(data) != 4+int(count)*8 {
		return nil, errors.New("array: ref array length mismatch")
	}
	out := make([]Ref, count)
	for i := range out {
		out[i] = Ref(binary.BigEndian.Uint64(data[4+i*8:]))
	}
	return out, nil
}
