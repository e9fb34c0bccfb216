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

package aggregator

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/container/hashtable"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// rows of a two level variant from which buckets are converted in
// parallel.
var minRowsForParallelConvert uint64 = 100000

// blockBuilder fills one output block with the keys and places handed to
// add.  A final block gets the results of the functions and destroys the
// places, an intermediate one takes their states over.
type blockBuilder struct {
	a     *Aggregator
	final bool
	ar    *arena.Arena

	bat     *batch.Batch
	keys    []*vector.Vector
	results []*vector.Vector
	rows    int
}

func (a *Aggregator) newBlockBuilder(final bool, arenas []*arena.Arena, ar *arena.Arena) *blockBuilder {
	b := &blockBuilder{a: a, final: final, ar: ar, keys: make([]*vector.Vector, len(a.keyTypes))}
	for i, t := range a.keyTypes {
		b.keys[i] = vector.NewVec(t)
	}
	if final {
		attrs := append(append([]string{}, a.keyNames...), a.aggNames...)
		b.bat = batch.New(attrs)
		b.results = make([]*vector.Vector, len(a.fns))
		for i, fn := range a.fns {
			b.results[i] = vector.NewVec(fn.ReturnType())
		}
		copy(b.bat.Vecs, b.keys)
		copy(b.bat.Vecs[len(b.keys):], b.results)
		return b
	}
	b.bat = batch.NewIntermediate(append([]string{}, a.keyNames...), append([]string{}, a.aggNames...), a.fns)
	copy(b.bat.Vecs, b.keys)
	for _, col := range b.bat.Aggs {
		for _, x := range arenas {
			col.AddArena(x)
		}
	}
	return b
}

func (b *blockBuilder) add(p *aggexec.Place) error {
	a := b.a
	b.rows++
	if !b.final {
		aggexec.MovePlace(a.fns, &a.layout, p, b.bat.Aggs)
		return nil
	}
	for i, fn := range a.fns {
		if err := fn.InsertResultInto(p.State(&a.layout, i), b.results[i], b.ar); err != nil {
			aggexec.DestroyPlace(a.fns, &a.layout, p)
			return err
		}
	}
	aggexec.DestroyPlace(a.fns, &a.layout, p)
	return nil
}

func (b *blockBuilder) finish() *batch.Batch {
	b.bat.SetRowCount(b.rows)
	return b.bat
}

func (b *blockBuilder) clean() {
	b.bat.Clean(b.a.mp)
}

// ConvertToBlocks materializes v.  With final the blocks hold the results
// of the functions, otherwise their states, which the blocks own from now
// on.  The overflow row comes first as a block of its own; a two level
// variant gives one block per non empty bucket.
func (a *Aggregator) ConvertToBlocks(v *AggregatedDataVariants, final bool) (blocks []*batch.Batch, err error) {
	if v.Empty() {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		if err != nil {
			for _, bat := range blocks {
				bat.Clean(a.mp)
			}
			blocks = nil
		}
	}()

	if v.withoutKey != nil {
		bat, err := a.withoutKeyBlock(v, final, v.typ != WithoutKey)
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, bat)
	}
	if v.typ != WithoutKey {
		var out []*batch.Batch
		if v.IsTwoLevel() {
			out, err = a.twoLevelBlocks(v, final)
		} else {
			out, err = a.singleLevelBlocks(v, final, a.params.MaxBlockSize)
		}
		blocks = append(blocks, out...)
		if err != nil {
			return blocks, err
		}
	}

	rows, bytes := 0, 0
	for _, bat := range blocks {
		rows += bat.RowCount()
		bytes += bat.Size()
	}
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		logutil.Debugf("Converted aggregated data to blocks. %d rows, %.3f MiB in %.3f sec. (%.3f rows/sec., %.3f MiB/sec.)",
			rows, float64(bytes)/(1<<20), elapsed, float64(rows)/elapsed, float64(bytes)/(1<<20)/elapsed)
	}
	return blocks, nil
}

// withoutKeyBlock turns the single place of v into a block of one row,
// whose keys are default values.
func (a *Aggregator) withoutKeyBlock(v *AggregatedDataVariants, final, isOverflows bool) (*batch.Batch, error) {
	b := a.newBlockBuilder(final, v.arenas, v.arena)
	for i, col := range b.keys {
		t := a.keyTypes[i]
		var err error
		if t.Nullable {
			err = vector.AppendBytes(col, nil, true, a.mp)
		} else {
			err = vector.AppendBytes(col, make([]byte, t.TypeSize()), false, a.mp)
		}
		if err != nil {
			b.clean()
			return nil, err
		}
	}
	p := v.withoutKey
	v.withoutKey = nil
	if err := b.add(p); err != nil {
		b.clean()
		return nil, err
	}
	bat := b.finish()
	bat.IsOverflows = isOverflows
	return bat, nil
}

// singleLevelBlocks materializes the table of v in blocks of at most
// maxRows rows.
func (a *Aggregator) singleLevelBlocks(v *AggregatedDataVariants, final bool, maxRows int) (blocks []*batch.Batch, err error) {
	if maxRows <= 0 {
		maxRows = math.MaxInt
	}
	b := a.newBlockBuilder(final, v.arenas, v.arena)
	keys := append([]*vector.Vector{}, b.keys...)
	err = v.method.convert(-1, keys, a.mp, func(p *aggexec.Place) error {
		if err := b.add(p); err != nil {
			return err
		}
		if b.rows >= maxRows {
			blocks = append(blocks, b.finish())
			b = a.newBlockBuilder(final, v.arenas, v.arena)
			copy(keys, b.keys)
		}
		return nil
	})
	if err != nil || b.rows == 0 {
		b.clean()
		return blocks, err
	}
	return append(blocks, b.finish()), nil
}

func (a *Aggregator) bucketBlock(v *AggregatedDataVariants, m keyMethod, bucket int, final bool, ar *arena.Arena) (*batch.Batch, error) {
	b := a.newBlockBuilder(final, v.arenas, ar)
	if err := m.convert(bucket, b.keys, a.mp, b.add); err != nil {
		b.clean()
		return nil, err
	}
	if b.rows == 0 {
		b.clean()
		return nil, nil
	}
	bat := b.finish()
	bat.BucketNum = int32(bucket)
	return bat, nil
}

func (a *Aggregator) twoLevelBlocks(v *AggregatedDataVariants, final bool) ([]*batch.Batch, error) {
	var out [hashtable.NumBuckets]*batch.Batch
	collect := func() []*batch.Batch {
		var blocks []*batch.Batch
		for _, bat := range out {
			if bat != nil {
				blocks = append(blocks, bat)
			}
		}
		return blocks
	}

	if a.params.MaxThreads <= 1 || v.Size() <= minRowsForParallelConvert {
		for bucket := range out {
			bat, err := a.bucketBlock(v, v.method, bucket, final, v.arena)
			if err != nil {
				return collect(), err
			}
			out[bucket] = bat
		}
		return collect(), nil
	}

	workers := a.params.MaxThreads
	if workers > hashtable.NumBuckets {
		workers = hashtable.NumBuckets
	}
	arenas := make([]*arena.Arena, workers)
	for i := range arenas {
		arenas[i] = a.newArena()
	}
	var next atomic.Int64
	err := a.parallel(workers, func(worker int) error {
		for {
			bucket := int(next.Add(1) - 1)
			if bucket >= hashtable.NumBuckets {
				return nil
			}
			bat, err := a.bucketBlock(v, v.method, bucket, final, arenas[worker])
			if err != nil {
				return err
			}
			out[bucket] = bat
		}
	})
	for _, ar := range arenas {
		v.addArena(ar)
	}
	return collect(), err
}

// ConvertBlockToTwoLevel splits an intermediate block into one block per
// bucket of its keys, null keys going to bucket 0.  bat is consumed: its
// states move to the returned blocks.
func (a *Aggregator) ConvertBlockToTwoLevel(bat *batch.Batch) ([]*batch.Batch, error) {
	if bat.RowCount() == 0 {
		bat.Clean(a.mp)
		return nil, nil
	}
	if !a.method.IsConvertibleToTwoLevel() {
		return nil, moerr.NewLogicalErrorNoCtx("block of method %s can not be split in buckets", a.method)
	}
	keys, err := a.intermediateKeyColumns(bat)
	if err != nil {
		return nil, err
	}
	m, err := newMethod(a.method.TwoLevel(), a.keySizes)
	if err != nil {
		return nil, err
	}
	if err = m.prepare(keys, false); err != nil {
		return nil, err
	}
	scratch := arena.New(a.mp)
	defer scratch.Free()

	var sels [hashtable.NumBuckets][]int64
	for row := 0; row < bat.RowCount(); row++ {
		bucket, err := m.bucketOf(row, scratch)
		if err != nil {
			return nil, err
		}
		sels[bucket] = append(sels[bucket], int64(row))
	}

	var out []*batch.Batch
	var buckets []int
	for bucket, sel := range sels {
		if len(sel) == 0 {
			continue
		}
		nb := batch.NewIntermediate(append([]string{}, bat.Attrs...), append([]string{}, bat.AggAttrs...), a.fns)
		nb.BucketNum = int32(bucket)
		nb.SetRowCount(len(sel))
		out = append(out, nb)
		buckets = append(buckets, bucket)
		for i, vec := range bat.Vecs {
			nv := vector.NewVec(*vec.GetType())
			nb.Vecs[i] = nv
			if err = nv.Union(vec, sel, a.mp); err != nil {
				for _, x := range out {
					x.Clean(a.mp)
				}
				return nil, err
			}
		}
	}

	for i, col := range bat.Aggs {
		states := col.TakeStates()
		for j, nb := range out {
			for _, ar := range col.Arenas() {
				nb.Aggs[i].AddArena(ar)
			}
			for _, row := range sels[buckets[j]] {
				nb.Aggs[i].Append(states[row])
			}
		}
	}
	bat.Clean(a.mp)
	return out, nil
}
