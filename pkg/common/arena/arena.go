// Copyright 2023 Matrix Origin
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

package arena

import (
	"unsafe"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
)

const (
	initialChunkSize = 4 << 10
	// chunks double until they reach this size, and then grow linearly.
	linearGrowthThreshold = 128 << 20
	maxAlign              = 64
)

// Arena is a bump allocator.  Memory is never freed piece by piece; all of
// it goes back to the mpool when the arena is freed.  An Arena is not safe
// for concurrent use.
type Arena struct {
	mp     *mpool.MPool
	chunks [][]byte
	// head is the chunk memory is currently carved from.
	head []byte
	pos  int
	// size of the next chunk.
	next int

	used      int64
	allocated int64
}

func New(mp *mpool.MPool) *Arena {
	return &Arena{
		mp:   mp,
		next: initialChunkSize,
	}
}

// Alloc returns size bytes aligned to 8.
func (a *Arena) Alloc(size int) ([]byte, error) {
	return a.AlignedAlloc(size, 8)
}

// AlignedAlloc returns size zeroed bytes whose address is a multiple of
// align.  The returned slice has cap == len so appending to it never
// writes into neighbouring allocations.
func (a *Arena) AlignedAlloc(size, align int) ([]byte, error) {
	if size < 0 {
		return nil, moerr.NewInternalErrorNoCtxf("arena: negative alloc size %d", size)
	}
	if align <= 0 || align > maxAlign || align&(align-1) != 0 {
		return nil, moerr.NewInternalErrorNoCtxf("arena: bad alignment %d", align)
	}
	if size == 0 {
		return []byte{}, nil
	}
	pad := a.padding(align)
	if a.head == nil || a.pos+pad+size > len(a.head) {
		if err := a.addChunk(size + align); err != nil {
			return nil, err
		}
		pad = a.padding(align)
	}
	start := a.pos + pad
	a.pos = start + size
	a.used += int64(pad + size)
	return a.head[start:a.pos:a.pos], nil
}

// Insert copies data into the arena.
func (a *Arena) Insert(data []byte) ([]byte, error) {
	buf, err := a.AlignedAlloc(len(data), 1)
	if err != nil {
		return nil, err
	}
	copy(buf, data)
	return buf, nil
}

// AllocContinue grows the last allocation of the current chunk, prev, by
// more bytes and returns the whole region.  When the chunk is exhausted the
// region is moved to a new chunk, so callers must use the returned slice.
func (a *Arena) AllocContinue(prev []byte, more int) ([]byte, error) {
	if len(prev) == 0 {
		return a.AlignedAlloc(more, 1)
	}
	if a.isLast(prev) && a.pos+more <= len(a.head) {
		start := a.pos - len(prev)
		a.pos += more
		a.used += int64(more)
		return a.head[start:a.pos:a.pos], nil
	}
	buf, err := a.AlignedAlloc(len(prev)+more, 1)
	if err != nil {
		return nil, err
	}
	copy(buf, prev)
	return buf, nil
}

// Rollback gives back the last n bytes handed out.  It is only valid right
// after the allocation being undone.
func (a *Arena) Rollback(n int) {
	if n < 0 || n > a.pos {
		panic(moerr.NewLogicalErrorNoCtx("arena: rollback of %d bytes, only %d in chunk", n, a.pos))
	}
	a.pos -= n
	a.used -= int64(n)
	tail := a.head[a.pos : a.pos+n]
	for i := range tail {
		tail[i] = 0
	}
}

// Pool is the mpool chunks come from.  Values built next to the arena's
// states, such as result columns, are accounted there too.
func (a *Arena) Pool() *mpool.MPool {
	return a.mp
}

// Size is the number of bytes reserved from the mpool.
func (a *Arena) Size() int64 {
	return a.allocated
}

// Used is the number of bytes handed out, padding included.
func (a *Arena) Used() int64 {
	return a.used
}

func (a *Arena) RemainingInCurrentChunk() int {
	return len(a.head) - a.pos
}

// Free returns every chunk to the mpool.  The arena may be reused.
func (a *Arena) Free() {
	if a == nil {
		return
	}
	for _, c := range a.chunks {
		a.mp.Free(c)
	}
	a.chunks = nil
	a.head = nil
	a.pos = 0
	a.next = initialChunkSize
	a.used = 0
	a.allocated = 0
}

func (a *Arena) padding(align int) int {
	if a.head == nil || a.pos == len(a.head) {
		return 0
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(a.head))) + uintptr(a.pos)
	return int((uintptr(align) - addr%uintptr(align)) % uintptr(align))
}

func (a *Arena) isLast(b []byte) bool {
	if a.head == nil || a.pos < len(b) {
		return false
	}
	return unsafe.SliceData(b) == unsafe.SliceData(a.head[a.pos-len(b):])
}

func (a *Arena) addChunk(min int) error {
	sz := a.next
	for sz < min {
		sz *= 2
	}
	chunk, err := a.mp.Alloc(sz)
	if err != nil {
		return err
	}
	a.chunks = append(a.chunks, chunk)
	a.head = chunk
	a.pos = 0
	a.allocated += int64(sz)
	if a.next < linearGrowthThreshold {
		a.next *= 2
	} else {
		a.next += linearGrowthThreshold
	}
	return nil
}
