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

import "sort"

// span is one free byte range below the allocator's baseline, available for
// reuse by a GroupWriter. Spans never straddle or extend past Baseline; the
// allocator only ever returns reclaimed file-backed space here, never the
// provisional slab region above Baseline.
type span struct {
	pos uint64
	len uint64
}

// freeList is a minimal first-fit free-space tracker. It stands in for the
// real slab allocator's free-space tracker named as an external
// collaborator; GroupWriter consults it before growing the file.
type freeList struct {
	spans []span
}

func newFreeList() *freeList {
	return &freeList{}
}

// Release returns [pos, pos+length) to the free list for future reuse and
// coalesces it with any adjacent span.
func (f *freeList) Release(pos, length uint64) {
	if length == 0 {
		return
	}
	f.spans = append(f.spans, span{pos: pos, len: length})
	f.coalesce()
}

// Take finds and removes the smallest span that fits length, first-fit among
// best-fit candidates, returning its start offset. ok is false if no span is
// large enough.
func (f *freeList) Take(length uint64) (pos uint64, ok bool) {
	bestIdx := -1
	for i, s := range f.spans {
		if s.len < length {
			continue
		}
		if bestIdx == -1 || s.len < f.spans[bestIdx].len {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return 0, false
	}
	chosen := f.spans[bestIdx]
	remainder := span{pos: chosen.pos + length, len: chosen.len - length}
	f.spans = append(f.spans[:bestIdx], f.spans[bestIdx+1:]...)
	if remainder.len > 0 {
		f.spans = append(f.spans, remainder)
	}
	return chosen.pos, true
}

func (f *freeList) coalesce() {
	if len(f.spans) < 2 {
		return
	}
	sort.Slice(f.spans, func(i, j int) bool { return f.spans[i].pos < f.spans[j].pos })
	merged := f.spans[:1]
	for _, s := range f.spans[1:] {
		last := &merged[len(merged)-1]
		if last.pos+last.len == s.pos {
			last.len += s.len
		} else {
			merged = append(merged, s)
		}
	}
	f.spans = merged
}

// Len reports the number of distinct free spans currently tracked.
func (f *freeList) Len() int {
	return len(f.spans)
}

// TotalFree reports the sum of all free span lengths.
func (f *freeList) TotalFree() uint64 {
	var total uint64
	for _, s := range f.spans {
		total += s.len
	}
	return total
}
