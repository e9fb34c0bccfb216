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
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/container/hashtable"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// keys or rows from which buckets are merged in parallel.
var minSizeForParallelMerge uint64 = 100000

func isCancelled(cancelled *atomic.Bool) bool {
	return cancelled != nil && cancelled.Load()
}

// PrepareVariantsToMerge drops empty variants and sorts the others by
// size, biggest first, converting them all to two level if one of them is.
// The first variant takes the arenas of the others over.
func (a *Aggregator) PrepareVariantsToMerge(vs []*AggregatedDataVariants) ([]*AggregatedDataVariants, error) {
	if len(vs) == 0 {
		return nil, moerr.NewEmptyDataPassedNoCtx("PrepareVariantsToMerge")
	}
	nonEmpty := make([]*AggregatedDataVariants, 0, len(vs))
	for _, v := range vs {
		if !v.Empty() {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return vs[:1], nil
	}
	if len(nonEmpty) == 1 {
		return nonEmpty, nil
	}

	slices.SortFunc(nonEmpty, func(x, y *AggregatedDataVariants) bool {
		return x.Size() > y.Size()
	})

	twoLevel := false
	for _, v := range nonEmpty {
		twoLevel = twoLevel || v.IsTwoLevel()
	}
	if twoLevel {
		for _, v := range nonEmpty {
			if err := v.ConvertToTwoLevel(); err != nil {
				return nil, err
			}
		}
	}

	first := nonEmpty[0]
	for _, v := range nonEmpty[1:] {
		if v.typ != first.typ {
			return nil, moerr.NewCannotMergeDifferentVariantsNoCtx(first.typ.String(), v.typ.String())
		}
	}
	for _, v := range nonEmpty[1:] {
		for _, ar := range v.arenas {
			first.addArena(ar)
		}
		v.arenas = nil
	}
	return nonEmpty, nil
}

// Merge folds every variant of vs into one and returns it, the others are
// left empty.  On error every variant is destroyed.
func (a *Aggregator) Merge(vs []*AggregatedDataVariants, cancelled *atomic.Bool) (*AggregatedDataVariants, error) {
	vs, err := a.PrepareVariantsToMerge(vs)
	if err != nil {
		return nil, err
	}
	res := vs[0]
	if len(vs) == 1 {
		return res, nil
	}
	fail := func(err error) (*AggregatedDataVariants, error) {
		for _, v := range vs {
			v.Destroy()
		}
		return nil, err
	}

	for _, v := range vs[1:] {
		if isCancelled(cancelled) {
			return fail(moerr.NewQueryInterruptedNoCtx())
		}
		if v.withoutKey == nil {
			continue
		}
		p := v.withoutKey
		v.withoutKey = nil
		if res.withoutKey == nil {
			res.withoutKey = p
			continue
		}
		if err = a.mergePlace(res.withoutKey, p, res.arena, cancelled); err != nil {
			return fail(err)
		}
	}
	if res.typ == WithoutKey {
		return res, nil
	}

	if res.IsTwoLevel() {
		err = a.mergeTwoLevel(vs, cancelled)
	} else {
		err = a.mergeSingleLevel(vs, cancelled)
	}
	if err != nil {
		return fail(err)
	}
	return res, nil
}

// mergePlace folds src into dst and destroys src.  Functions able to split
// the merge of two states run it on the worker pool.
func (a *Aggregator) mergePlace(dst, src *aggexec.Place, ar *arena.Arena, cancelled *atomic.Bool) error {
	defer aggexec.DestroyPlace(a.fns, &a.layout, src)
	if cancelled == nil {
		cancelled = new(atomic.Bool)
	}
	for i, fn := range a.fns {
		pm, ok := fn.(aggexec.ParallelMerger)
		if !ok || a.params.MaxThreads <= 1 {
			if err := fn.Merge(dst.State(&a.layout, i), src.State(&a.layout, i), ar); err != nil {
				return err
			}
			continue
		}
		pool, err := a.workerPool()
		if err != nil {
			return err
		}
		if err = pm.MergeParallel(dst.State(&a.layout, i), src.State(&a.layout, i), pool, cancelled, ar); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) mergeBucket(vs []*AggregatedDataVariants, bucket int, ar *arena.Arena) error {
	res := vs[0]
	for _, v := range vs[1:] {
		if err := res.method.mergeFrom(v.method, bucket, mergeAll, nil, a.fns, &a.layout, ar); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) mergeTwoLevel(vs []*AggregatedDataVariants, cancelled *atomic.Bool) error {
	res := vs[0]
	var total uint64
	for _, v := range vs {
		total += v.Size()
	}

	if a.params.MaxThreads <= 1 || total <= minSizeForParallelMerge {
		for bucket := 0; bucket < hashtable.NumBuckets; bucket++ {
			if isCancelled(cancelled) {
				return moerr.NewQueryInterruptedNoCtx()
			}
			if err := a.mergeBucket(vs, bucket, res.arena); err != nil {
				return err
			}
		}
		return nil
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
			if isCancelled(cancelled) {
				return moerr.NewQueryInterruptedNoCtx()
			}
			if err := a.mergeBucket(vs, bucket, arenas[worker]); err != nil {
				return err
			}
		}
	})
	for _, ar := range arenas {
		res.addArena(ar)
	}
	return err
}

// mergeSingleLevel merges the variants one after the other into the first,
// applying max_rows_to_group_by between them.
func (a *Aggregator) mergeSingleLevel(vs []*AggregatedDataVariants, cancelled *atomic.Bool) error {
	res := vs[0]
	noMoreKeys := false
	for i := 1; i < len(vs); i++ {
		if isCancelled(cancelled) {
			return moerr.NewQueryInterruptedNoCtx()
		}
		ok, err := a.checkLimits(res.Size(), &noMoreKeys)
		if err != nil {
			return err
		}
		if !ok {
			for _, v := range vs[i:] {
				v.Destroy()
			}
			return nil
		}
		mode := mergeAll
		var overflow *aggexec.Place
		if noMoreKeys {
			mode = mergeOnlyExisting
			if a.needsOverflowRow(noMoreKeys) {
				if res.withoutKey == nil {
					if res.withoutKey, err = a.createPlace(res.arena); err != nil {
						return err
					}
				}
				mode, overflow = mergeNoMoreKeys, res.withoutKey
			}
		}
		if err = res.method.mergeFrom(vs[i].method, -1, mode, overflow, a.fns, &a.layout, res.arena); err != nil {
			return err
		}
	}
	return nil
}

// MergeAndConvertToBlocks merges vs and materializes the result.
func (a *Aggregator) MergeAndConvertToBlocks(vs []*AggregatedDataVariants, final bool, cancelled *atomic.Bool) ([]*batch.Batch, error) {
	res, err := a.Merge(vs, cancelled)
	if err != nil {
		return nil, err
	}
	blocks, err := a.ConvertToBlocks(res, final)
	res.Destroy()
	if final {
		a.releaseArenas(res)
	}
	return blocks, err
}

func (a *Aggregator) initMergeResult(result *AggregatedDataVariants) error {
	if !result.Empty() {
		return nil
	}
	if err := a.initVariant(result, a.method); err != nil {
		return err
	}
	if a.params.OverflowRow || result.typ == WithoutKey {
		p, err := a.createPlace(result.arena)
		if err != nil {
			return err
		}
		result.withoutKey = p
	}
	return nil
}

// MergeOnBlock folds an intermediate block into result.  The states of bat
// are merged, not moved: bat still has to be cleaned by the caller.
func (a *Aggregator) MergeOnBlock(bat *batch.Batch, result *AggregatedDataVariants, noMoreKeys *bool, cancelled *atomic.Bool) (bool, error) {
	if isCancelled(cancelled) {
		return false, moerr.NewQueryInterruptedNoCtx()
	}
	if err := a.initMergeResult(result); err != nil {
		return false, err
	}
	if noMoreKeys == nil {
		noMoreKeys = new(bool)
	}
	if err := a.mergeBlockInto(bat, result, *noMoreKeys); err != nil {
		return false, err
	}
	return a.afterBlock(result, noMoreKeys)
}

func (a *Aggregator) mergeBlockInto(bat *batch.Batch, v *AggregatedDataVariants, noMoreKeys bool) error {
	if bat.RowCount() == 0 {
		return nil
	}
	if bat.IsOverflows || v.typ == WithoutKey {
		return a.mergeWithoutKeyBlock(bat, v)
	}
	keys, err := a.intermediateKeyColumns(bat)
	if err != nil {
		return err
	}
	var overflow *aggexec.Place
	if noMoreKeys && a.needsOverflowRow(noMoreKeys) {
		if v.withoutKey == nil {
			if v.withoutKey, err = a.createPlace(v.arena); err != nil {
				return err
			}
		}
		overflow = v.withoutKey
	}
	return a.mergeStreamsImpl(bat, keys, v.method, v.arena, v.arena, a.useConsecutiveCache(v), noMoreKeys, overflow)
}

// mergeWithoutKeyBlock folds every row of bat into the single place of v.
func (a *Aggregator) mergeWithoutKeyBlock(bat *batch.Batch, v *AggregatedDataVariants) error {
	if len(bat.Aggs) != len(a.fns) {
		return moerr.NewInvalidInputNoCtx("block has %d state columns, expected %d", len(bat.Aggs), len(a.fns))
	}
	if v.withoutKey == nil {
		p, err := a.createPlace(v.arena)
		if err != nil {
			return err
		}
		v.withoutKey = p
	}
	for i, fn := range a.fns {
		dst := v.withoutKey.State(&a.layout, i)
		for row := 0; row < bat.Aggs[i].Len(); row++ {
			if err := fn.Merge(dst, bat.Aggs[i].State(row), v.arena); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeStreamsImpl merges the states of bat into the places of its keys in
// m.  Keys are persisted in keysArena, new places taken from statesArena.
func (a *Aggregator) mergeStreamsImpl(bat *batch.Batch, keys []*vector.Vector, m keyMethod, keysArena, statesArena *arena.Arena,
	useCache, noMoreKeys bool, overflow *aggexec.Place) error {
	if err := m.prepare(keys, useCache); err != nil {
		return err
	}
	create := func() (*aggexec.Place, error) {
		return a.createPlace(statesArena)
	}
	rows := bat.RowCount()
	places := make([]*aggexec.Place, rows)
	for row := 0; row < rows; row++ {
		p, err := lookup(m, row, keysArena, noMoreKeys, overflow, create)
		if err != nil {
			return err
		}
		places[row] = p
	}
	for i, fn := range a.fns {
		col := bat.Aggs[i]
		for row, p := range places {
			if p == nil {
				continue
			}
			if err := fn.Merge(p.State(&a.layout, i), col.State(row), statesArena); err != nil {
				return err
			}
		}
	}
	return nil
}

// MergeBlocksByBucket merges blocks read back from temporary data into
// result, bucket by bucket, the blocks of bucket -1 last.  Every block of
// bb is cleaned.
func (a *Aggregator) MergeBlocksByBucket(bb *BucketToBlocks, result *AggregatedDataVariants, cancelled *atomic.Bool) error {
	defer bb.Clean(a.mp)
	if bb.Len() == 0 {
		return nil
	}
	if err := a.initMergeResult(result); err != nil {
		return err
	}

	type bucketJob struct {
		bucket int32
		blocks []*batch.Batch
	}
	var jobs []bucketJob
	var unbounded []*batch.Batch
	bb.Ascend(func(bucket int32, blocks []*batch.Batch) bool {
		if bucket < 0 {
			unbounded = blocks
		} else {
			jobs = append(jobs, bucketJob{bucket, blocks})
		}
		return true
	})

	if len(jobs) > 0 {
		if err := result.ConvertToTwoLevel(); err != nil {
			return err
		}
		mergeJob := func(job bucketJob, m keyMethod, ar *arena.Arena) error {
			for _, bat := range job.blocks {
				if isCancelled(cancelled) {
					return moerr.NewQueryInterruptedNoCtx()
				}
				if bat.IsOverflows {
					continue
				}
				keys, err := a.intermediateKeyColumns(bat)
				if err != nil {
					return err
				}
				if err = a.mergeStreamsImpl(bat, keys, m, ar, ar, true, false, nil); err != nil {
					return err
				}
			}
			return nil
		}

		if a.params.MaxThreads <= 1 || uint64(bb.TotalRows()) <= minSizeForParallelMerge || len(jobs) == 1 {
			for _, job := range jobs {
				if err := mergeJob(job, result.method, result.arena); err != nil {
					return err
				}
			}
		} else {
			workers := a.params.MaxThreads
			if workers > len(jobs) {
				workers = len(jobs)
			}
			arenas := make([]*arena.Arena, workers)
			for i := range arenas {
				arenas[i] = a.newArena()
			}
			var next atomic.Int64
			// rows of one bucket only reach the sub table of that bucket,
			// workers never share one.
			err := a.parallel(workers, func(worker int) error {
				m := result.method.fork()
				for {
					i := int(next.Add(1) - 1)
					if i >= len(jobs) {
						return nil
					}
					if err := mergeJob(jobs[i], m, arenas[worker]); err != nil {
						return err
					}
				}
			})
			for _, ar := range arenas {
				result.addArena(ar)
			}
			if err != nil {
				return err
			}
		}
	}

	noMoreKeys := false
	for _, bat := range unbounded {
		if isCancelled(cancelled) {
			return moerr.NewQueryInterruptedNoCtx()
		}
		if !bat.IsOverflows {
			ok, err := a.checkLimits(result.Size(), &noMoreKeys)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
		if err := a.mergeBlockInto(bat, result, noMoreKeys); err != nil {
			return err
		}
	}
	logutil.Debugf("merged %d blocks of %d rows by bucket into %d keys", bb.Len(), bb.TotalRows(), result.Size())
	return nil
}

// MergeBlocks merges intermediate blocks, typically of one bucket, into a
// single block.  Keys are hashed with a 64 bit hash whatever the method is.
// The blocks are cleaned.
func (a *Aggregator) MergeBlocks(blocks []*batch.Batch, final bool, cancelled *atomic.Bool) (*batch.Batch, error) {
	if len(blocks) == 0 {
		return nil, moerr.NewEmptyDataPassedNoCtx("MergeBlocks")
	}
	defer func() {
		for _, bat := range blocks {
			bat.Clean(a.mp)
		}
	}()

	bucket := blocks[0].BucketNum
	isOverflows := blocks[0].IsOverflows
	for _, bat := range blocks[1:] {
		if bat.BucketNum != bucket {
			bucket = -1
		}
	}

	t := a.method
	if h, ok := hash64Of[t]; ok {
		t = h
	}
	v := NewAggregatedDataVariants()
	if err := a.initVariant(v, t); err != nil {
		return nil, err
	}
	defer v.Destroy()
	keysArena := a.newArena()
	defer a.freeArenas([]*arena.Arena{keysArena})

	if isOverflows || t == WithoutKey {
		for _, bat := range blocks {
			if err := a.mergeWithoutKeyBlock(bat, v); err != nil {
				return nil, err
			}
		}
	} else {
		for _, bat := range blocks {
			if isCancelled(cancelled) {
				return nil, moerr.NewQueryInterruptedNoCtx()
			}
			if bat.RowCount() == 0 {
				continue
			}
			keys, err := a.intermediateKeyColumns(bat)
			if err != nil {
				return nil, err
			}
			if err = a.mergeStreamsImpl(bat, keys, v.method, keysArena, v.arena, a.useConsecutiveCache(v), false, nil); err != nil {
				return nil, err
			}
		}
	}

	var out *batch.Batch
	if v.withoutKey != nil {
		bat, err := a.withoutKeyBlock(v, final, isOverflows)
		if err != nil {
			return nil, err
		}
		out = bat
	} else {
		bs, err := a.singleLevelBlocks(v, final, 0)
		if err != nil {
			return nil, err
		}
		if len(bs) == 0 {
			out = a.newBlockBuilder(final, v.arenas, v.arena).finish()
		} else {
			out = bs[0]
		}
	}
	out.BucketNum = bucket
	out.IsOverflows = isOverflows
	if final {
		a.releaseArenas(v)
	}
	return out, nil
}
