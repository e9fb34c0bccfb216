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
	"context"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/fileservice"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// currentMemoryUsage is the memory the aggregation holds right now.
var currentMemoryUsage = func(a *Aggregator) int64 {
	return a.mp.CurrNB()
}

// Aggregator groups the rows of blocks by a list of keys and computes a
// list of aggregate functions per key.  One Aggregator is shared by every
// worker of an aggregation; each worker executes blocks on its own
// AggregatedDataVariants, which are merged at the end.
type Aggregator struct {
	params Params

	keyNames []string
	keyTypes []types.Type
	keyPos   []int

	aggs     []AggregateDescription
	aggNames []string
	fns      []aggexec.AggregateFunction
	argPos   [][]int
	layout   aggexec.Layout

	method   Type
	keySizes []int

	mp *mpool.MPool
	// memory used before the first block, the byte threshold of two level
	// conversion counts from here.
	memBaseline int64

	mu     sync.Mutex
	arenas map[*arena.Arena]struct{}

	tmpMu   sync.Mutex
	tmpData *fileservice.TemporaryData
	spills  SpillStat

	poolMu sync.Mutex
	pool   *ants.Pool

	closed atomic.Bool
}

// SpillStat sums up what an Aggregator wrote to temporary data.
type SpillStat struct {
	Files             int
	Rows              int
	MaxBlockRows      int
	MaxBlockBytes     int64
	UncompressedBytes int64
	CompressedBytes   int64
}

// NewAggregator makes an aggregator of the blocks laid out like header.
// keys and the arguments of aggs are names of header columns.
func NewAggregator(header *batch.Batch, keys []string, aggs []AggregateDescription, params Params) (*Aggregator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		params:   params,
		keyNames: keys,
		keyTypes: make([]types.Type, len(keys)),
		keyPos:   make([]int, len(keys)),
		aggs:     aggs,
		aggNames: make([]string, len(aggs)),
		fns:      make([]aggexec.AggregateFunction, len(aggs)),
		argPos:   make([][]int, len(aggs)),
		arenas:   make(map[*arena.Arena]struct{}),
	}
	for i, key := range keys {
		pos, ok := header.PosOf(key)
		if !ok {
			return nil, moerr.NewInvalidInputNoCtx("group by key %s is not a column of the block", key)
		}
		a.keyPos[i] = pos
		a.keyTypes[i] = *header.Vecs[pos].GetType()
	}
	for i, desc := range aggs {
		if desc.Function == nil {
			return nil, moerr.NewInvalidInputNoCtx("aggregate %s has no function", desc.ColumnName)
		}
		a.fns[i] = desc.Function
		a.aggNames[i] = desc.ColumnName
		a.argPos[i] = make([]int, len(desc.ArgumentNames))
		for j, arg := range desc.ArgumentNames {
			pos, ok := header.PosOf(arg)
			if !ok {
				return nil, moerr.NewInvalidInputNoCtx("argument %s of %s is not a column of the block", arg, desc.ColumnName)
			}
			a.argPos[i][j] = pos
		}
	}
	a.layout = aggexec.NewLayout(a.fns)

	var err error
	if a.method, a.keySizes, err = ChooseMethod(a.keyTypes); err != nil {
		return nil, err
	}
	if a.mp, err = mpool.NewMPool("aggregator", mpool.NoLimit); err != nil {
		return nil, err
	}
	a.memBaseline = currentMemoryUsage(a)
	logutil.Debug("aggregation method chosen",
		zap.String("method", a.method.String()),
		zap.Strings("keys", keys),
		zap.Int("aggregates", len(aggs)))
	return a, nil
}

func (a *Aggregator) Method() Type {
	return a.method
}

func (a *Aggregator) Params() Params {
	return a.params
}

// Pool is the memory pool of the blocks the aggregator returns.
func (a *Aggregator) Pool() *mpool.MPool {
	return a.mp
}

func (a *Aggregator) SpillStat() SpillStat {
	a.tmpMu.Lock()
	defer a.tmpMu.Unlock()
	return a.spills
}

// HasTemporaryData is true once a variant was spilled and not restored.
func (a *Aggregator) HasTemporaryData() bool {
	a.tmpMu.Lock()
	defer a.tmpMu.Unlock()
	return a.tmpData != nil && a.tmpData.HasStreams()
}

func (a *Aggregator) newArena() *arena.Arena {
	ar := arena.New(a.mp)
	a.mu.Lock()
	a.arenas[ar] = struct{}{}
	a.mu.Unlock()
	return ar
}

// freeArenas gives back the memory of arenas no state lives in anymore.
func (a *Aggregator) freeArenas(ars []*arena.Arena) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ar := range ars {
		if _, ok := a.arenas[ar]; ok {
			delete(a.arenas, ar)
			ar.Free()
		}
	}
}

// releaseArenas frees the arenas of a variant whose states were all
// destroyed or copied out as final values.  v can not take rows anymore.
func (a *Aggregator) releaseArenas(v *AggregatedDataVariants) {
	a.freeArenas(v.arenas)
	v.arenas = nil
	v.arena = nil
}

func (a *Aggregator) initVariant(v *AggregatedDataVariants, t Type) error {
	if err := v.init(t, a.keySizes); err != nil {
		return err
	}
	v.fns = a.fns
	v.layout = &a.layout
	v.arena = a.newArena()
	v.addArena(v.arena)
	return nil
}

// needsOverflowRow is true when the rows of keys missing from the table go
// to the without-key place rather than being skipped.  ANY mode always
// keeps them once the key set is frozen.
func (a *Aggregator) needsOverflowRow(noMoreKeys bool) bool {
	return a.params.OverflowRow || (noMoreKeys && a.params.GroupByOverflowMode == OverflowAny)
}

func (a *Aggregator) createPlace(ar *arena.Arena) (*aggexec.Place, error) {
	return aggexec.CreatePlace(a.fns, &a.layout, ar)
}

func (a *Aggregator) workerPool() (*ants.Pool, error) {
	a.poolMu.Lock()
	defer a.poolMu.Unlock()
	if a.pool == nil {
		pool, err := ants.NewPool(a.params.MaxThreads)
		if err != nil {
			return nil, moerr.ConvertGoError(context.Background(), err)
		}
		a.pool = pool
	}
	return a.pool, nil
}

// parallel runs task(worker) on n workers of the pool and waits for all.
func (a *Aggregator) parallel(n int, task func(worker int) error) error {
	pool, err := a.workerPool()
	if err != nil {
		return err
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	setErr := func(e error) {
		mu.Lock()
		if errs == nil {
			errs = e
		}
		mu.Unlock()
	}
	for i := 0; i < n; i++ {
		worker := i
		wg.Add(1)
		err = pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if e := recover(); e != nil {
					setErr(moerr.ConvertPanicError(context.Background(), e))
				}
			}()
			if e := task(worker); e != nil {
				setErr(e)
			}
		})
		if err != nil {
			wg.Done()
			setErr(moerr.ConvertGoError(context.Background(), err))
			break
		}
	}
	wg.Wait()
	return errs
}

func (a *Aggregator) temporaryData() (*fileservice.TemporaryData, error) {
	if a.tmpData == nil {
		tmp, err := fileservice.NewService(a.params.TmpData)
		if err != nil {
			return nil, err
		}
		a.tmpData = tmp
	}
	return a.tmpData, nil
}

// keyColumns returns the key columns of an input block.
func (a *Aggregator) keyColumns(bat *batch.Batch) ([]*vector.Vector, error) {
	keys := make([]*vector.Vector, len(a.keyPos))
	for i, pos := range a.keyPos {
		if pos >= len(bat.Vecs) {
			return nil, moerr.NewInvalidInputNoCtx("block has %d columns, key %s is column %d", len(bat.Vecs), a.keyNames[i], pos)
		}
		keys[i] = bat.Vecs[pos]
	}
	return keys, nil
}

func (a *Aggregator) argColumns(bat *batch.Batch) ([][]*vector.Vector, error) {
	args := make([][]*vector.Vector, len(a.argPos))
	for i, poses := range a.argPos {
		args[i] = make([]*vector.Vector, len(poses))
		for j, pos := range poses {
			if pos >= len(bat.Vecs) {
				return nil, moerr.NewInvalidInputNoCtx("block has %d columns, argument %d of %s is column %d",
					len(bat.Vecs), j, a.aggNames[i], pos)
			}
			args[i][j] = bat.Vecs[pos]
		}
	}
	return args, nil
}

// intermediateKeyColumns returns the key columns of a block made by
// ConvertToBlocks, found by name.
func (a *Aggregator) intermediateKeyColumns(bat *batch.Batch) ([]*vector.Vector, error) {
	if len(bat.Aggs) != len(a.fns) {
		return nil, moerr.NewInvalidInputNoCtx("block has %d state columns, expected %d", len(bat.Aggs), len(a.fns))
	}
	keys := make([]*vector.Vector, len(a.keyNames))
	for i, name := range a.keyNames {
		pos, ok := bat.PosOf(name)
		if !ok {
			return nil, moerr.NewInvalidInputNoCtx("intermediate block has no key column %s", name)
		}
		keys[i] = bat.Vecs[pos]
	}
	return keys, nil
}

// Close releases the worker pool, the temporary data and every arena.  The
// blocks returned by the aggregator must have been cleaned before.
func (a *Aggregator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.poolMu.Lock()
	if a.pool != nil {
		a.pool.Release()
		a.pool = nil
	}
	a.poolMu.Unlock()

	var err error
	a.tmpMu.Lock()
	if a.tmpData != nil {
		err = a.tmpData.Close()
		a.tmpData = nil
	}
	a.tmpMu.Unlock()

	a.mu.Lock()
	for ar := range a.arenas {
		ar.Free()
	}
	a.arenas = make(map[*arena.Arena]struct{})
	a.mu.Unlock()
	mpool.DeleteMPool(a.mp)
	return err
}
