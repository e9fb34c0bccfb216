// Copyright 2024 Matrix Origin
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

package aggexec

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/axiomhq/hyperloglog"
	"github.com/panjf2000/ants/v2"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/hashtable"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
)

const uniqShards = 16

type uniqKey = [2]uint64

// uniqExactSet is split in shards by the top bits of the key hash so two
// sets can be merged shard by shard in parallel.
type uniqExactSet struct {
	shards [uniqShards]map[uniqKey]struct{}
}

func (u *uniqExactSet) insert(k uniqKey) {
	i := hashtable.Int128Hash(k) >> 60
	if u.shards[i] == nil {
		u.shards[i] = make(map[uniqKey]struct{})
	}
	u.shards[i][k] = struct{}{}
}

func (u *uniqExactSet) size() uint64 {
	var n uint64
	for _, m := range u.shards {
		n += uint64(len(m))
	}
	return n
}

func (u *uniqExactSet) mergeShard(o *uniqExactSet, i int) {
	if len(o.shards[i]) == 0 {
		return
	}
	if u.shards[i] == nil {
		u.shards[i] = make(map[uniqKey]struct{}, len(o.shards[i]))
	}
	for k := range o.shards[i] {
		u.shards[i][k] = struct{}{}
	}
}

// uniqExact counts distinct tuples of its arguments.  Values up to 16
// bytes are kept as they are, longer ones and tuples by a 128 bit
// fingerprint.  Rows with a null argument are skipped.
type uniqExact struct {
	aggInfo
	packed bool
}

var _ ParallelMerger = (*uniqExact)(nil)

func newUniqExact(args []types.Type) *uniqExact {
	return &uniqExact{
		aggInfo: aggInfo{name: "uniqExact", args: args, ret: types.T_uint64.ToType()},
		packed:  len(args) == 1 && args[0].IsFixedLen() && args[0].TypeSize() <= 16,
	}
}

func (f *uniqExact) SizeOfData() int  { return 0 }
func (f *uniqExact) AlignOfData() int { return 1 }

func (f *uniqExact) Create(s State) error {
	s.SetRef(&uniqExactSet{})
	return nil
}

func (f *uniqExact) Destroy(s State) {
	s.SetRef(nil)
}

func setOf(s State) *uniqExactSet {
	return s.Ref().(*uniqExactSet)
}

func (f *uniqExact) keyOf(args []*vector.Vector, row int) (uniqKey, bool) {
	var k uniqKey
	if f.packed {
		if args[0].IsNull(uint64(row)) {
			return k, false
		}
		raw := args[0].GetRawBytesAt(row)
		var b [16]byte
		copy(b[:], raw)
		k[0] = binary.LittleEndian.Uint64(b[:8])
		k[1] = binary.LittleEndian.Uint64(b[8:])
		return k, true
	}
	buf := make([]byte, 0, 64)
	for _, vec := range args {
		if vec.IsNull(uint64(row)) {
			return k, false
		}
		raw := vec.GetRawBytesAt(row)
		buf = binary.AppendUvarint(buf, uint64(len(raw)))
		buf = append(buf, raw...)
	}
	return hashtable.Fingerprint128(buf), true
}

func (f *uniqExact) Add(s State, args []*vector.Vector, row int, _ *arena.Arena) error {
	if k, ok := f.keyOf(args, row); ok {
		setOf(s).insert(k)
	}
	return nil
}

func (f *uniqExact) Merge(dst, src State, _ *arena.Arena) error {
	d, o := setOf(dst), setOf(src)
	for i := 0; i < uniqShards; i++ {
		d.mergeShard(o, i)
	}
	return nil
}

// MergeParallel merges every shard in its own task of pool.
func (f *uniqExact) MergeParallel(dst, src State, pool *ants.Pool, cancelled *atomic.Bool, _ *arena.Arena) error {
	d, o := setOf(dst), setOf(src)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex
	interrupted := false
	for i := 0; i < uniqShards; i++ {
		if cancelled != nil && cancelled.Load() {
			interrupted = true
			break
		}
		i := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			d.mergeShard(o, i)
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	if firstErr != nil {
		return moerr.ConvertGoError(moerr.Context(), firstErr)
	}
	// dst holds only part of src
	if interrupted {
		return moerr.NewQueryInterruptedNoCtx()
	}
	return nil
}

func (f *uniqExact) Serialize(s State, w io.Writer) error {
	u := setOf(s)
	if err := writeUvarint(w, u.size()); err != nil {
		return err
	}
	var b [16]byte
	for _, m := range u.shards {
		for k := range m {
			binary.LittleEndian.PutUint64(b[:8], k[0])
			binary.LittleEndian.PutUint64(b[8:], k[1])
			if _, err := w.Write(b[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *uniqExact) Deserialize(s State, r io.Reader, _ *arena.Arena) error {
	n, err := readUvarint(r)
	if err != nil {
		return err
	}
	u := setOf(s)
	var b [16]byte
	for i := uint64(0); i < n; i++ {
		if _, err = io.ReadFull(r, b[:]); err != nil {
			return moerr.ConvertGoError(moerr.Context(), err)
		}
		u.insert(uniqKey{binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])})
	}
	return nil
}

func (f *uniqExact) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	return vector.Append(to, setOf(s).size(), false, a.Pool())
}

// uniq estimates the number of distinct values with a HyperLogLog sketch.
type uniq struct {
	aggInfo
}

func newUniq(args []types.Type) *uniq {
	return &uniq{aggInfo{name: "uniq", args: args, ret: types.T_uint64.ToType()}}
}

func (f *uniq) SizeOfData() int  { return 0 }
func (f *uniq) AlignOfData() int { return 1 }

func (f *uniq) Create(s State) error {
	s.SetRef(hyperloglog.New())
	return nil
}

func (f *uniq) Destroy(s State) {
	s.SetRef(nil)
}

func sketchOf(s State) *hyperloglog.Sketch {
	return s.Ref().(*hyperloglog.Sketch)
}

func (f *uniq) Add(s State, args []*vector.Vector, row int, _ *arena.Arena) error {
	if args[0].IsNull(uint64(row)) {
		return nil
	}
	sketchOf(s).Insert(args[0].GetRawBytesAt(row))
	return nil
}

func (f *uniq) Merge(dst, src State, _ *arena.Arena) error {
	if err := sketchOf(dst).Merge(sketchOf(src)); err != nil {
		return moerr.NewCorruptedAggregateStateNoCtx(f.name, "%v", err)
	}
	return nil
}

func (f *uniq) Serialize(s State, w io.Writer) error {
	data, err := sketchOf(s).MarshalBinary()
	if err != nil {
		return moerr.ConvertGoError(moerr.Context(), err)
	}
	return writeBytes(w, data)
}

func (f *uniq) Deserialize(s State, r io.Reader, a *arena.Arena) error {
	data, err := readBytes(r, a)
	if err != nil {
		return err
	}
	if err = sketchOf(s).UnmarshalBinary(data); err != nil {
		return moerr.NewCorruptedAggregateStateNoCtx(f.name, "%v", err)
	}
	return nil
}

func (f *uniq) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	return vector.Append(to, sketchOf(s).Estimate(), false, a.Pool())
}
