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
	"sync/atomic"
	"testing"

	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/fileservice"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// countingFunction counts the states its wrapped function creates and
// destroys.
type countingFunction struct {
	aggexec.AggregateFunction
	created, destroyed *atomic.Int64
}

func newCountingFunction(fn aggexec.AggregateFunction) countingFunction {
	return countingFunction{AggregateFunction: fn, created: new(atomic.Int64), destroyed: new(atomic.Int64)}
}

func (f countingFunction) Create(s aggexec.State) error {
	f.created.Add(1)
	return f.AggregateFunction.Create(s)
}

func (f countingFunction) Destroy(s aggexec.State) {
	f.destroyed.Add(1)
	f.AggregateFunction.Destroy(s)
}

func stubSpill(t *testing.T) *gostub.Stubs {
	stubs := gostub.Stub(&currentMemoryUsage, func(*Aggregator) int64 { return 1 << 30 })
	stubs.Stub(&fileservice.FreeDiskSpace, func(string) (uint64, error) { return 1 << 40, nil })
	t.Cleanup(stubs.Reset)
	return stubs
}

func TestSpillAndRestore(t *testing.T) {
	stubSpill(t)
	mp := newTestPool(t)
	header := kvBlock(t, mp, []int64{0}, []int64{0})
	sum := aggOf(t, header, "sum", "v")
	counting := newCountingFunction(sum.Function)
	sum.Function = counting

	params := testParams()
	params.GroupByTwoLevelThreshold = 1
	params.MaxBytesBeforeExternalGroupBy = 1
	params.TmpData.Dir = t.TempDir()
	a := newTestAggregator(t, header, []string{"k"}, []AggregateDescription{sum}, params)

	v := NewAggregatedDataVariants()
	inputs := [][]int64{{1, 2, 3}, {2, 3, 4}, {3, 4, 5}}
	for _, keys := range inputs {
		ok, err := a.ExecuteOnBlock(kvBlock(t, mp, keys, keys), 0, len(keys), v, nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, v.IsTwoLevel())
		require.Equal(t, uint64(0), v.Size())
	}
	require.True(t, a.HasTemporaryData())
	stat := a.SpillStat()
	require.Equal(t, 3, stat.Files)
	require.Equal(t, 9, stat.Rows)
	require.Greater(t, stat.CompressedBytes, int64(0))

	bb, err := a.RestoreTemporaryData(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9, bb.TotalRows())
	require.GreaterOrEqual(t, bb.MaxBucket(), int32(0))

	// restoring twice gives nothing more
	again, err := a.RestoreTemporaryData(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, again.Len())

	require.NoError(t, a.MergeBlocksByBucket(bb, v, nil))
	spilled := finalize(t, a, v)
	require.Equal(t, map[string][]string{"1": {"1"}, "2": {"4"}, "3": {"9"}, "4": {"8"}, "5": {"5"}}, spilled)
	require.Equal(t, counting.created.Load(), counting.destroyed.Load())

	// the same blocks aggregated in memory
	params.MaxBytesBeforeExternalGroupBy = 0
	b := newTestAggregator(t, header, []string{"k"}, []AggregateDescription{aggOf(t, header, "sum", "v")}, params)
	inMemory := NewAggregatedDataVariants()
	for _, keys := range inputs {
		_, err := b.ExecuteOnBlock(kvBlock(t, mp, keys, keys), 0, len(keys), inMemory, nil)
		require.NoError(t, err)
	}
	require.False(t, b.HasTemporaryData())
	require.Equal(t, spilled, finalize(t, b, inMemory))
}

func TestSpillWithoutKey(t *testing.T) {
	stubSpill(t)
	mp := newTestPool(t)
	bat := kvBlock(t, mp, []int64{1, 2, 3}, []int64{1, 2, 3})
	params := testParams()
	params.TmpData.Dir = t.TempDir()
	a := newTestAggregator(t, bat, nil, []AggregateDescription{aggOf(t, bat, "sum", "v")}, params)

	v := NewAggregatedDataVariants()
	for i := 0; i < 2; i++ {
		_, err := a.ExecuteOnBlock(bat, 0, 3, v, nil)
		require.NoError(t, err)
		require.NoError(t, a.WriteToTemporaryFile(v, 0))
	}
	bb, err := a.RestoreTemporaryData(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(-1), bb.MaxBucket())
	require.NoError(t, a.MergeBlocksByBucket(bb, v, nil))
	require.Equal(t, map[string][]string{"": {"12"}}, finalize(t, a, v))
}

func TestSpillOfSingleLevel(t *testing.T) {
	mp := newTestPool(t)
	bat := kvBlock(t, mp, []int64{1}, []int64{1})
	a := newTestAggregator(t, bat, []string{"k"}, []AggregateDescription{aggOf(t, bat, "sum", "v")}, testParams())
	v := NewAggregatedDataVariants()
	defer v.Destroy()
	_, err := a.ExecuteOnBlock(bat, 0, 1, v, nil)
	require.NoError(t, err)
	err = a.WriteToTemporaryFile(v, 0)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrUnknownAggregatedDataVariant))
}

func TestSpillNotEnoughSpace(t *testing.T) {
	stubs := stubSpill(t)
	stubs.Stub(&fileservice.FreeDiskSpace, func(string) (uint64, error) { return 10, nil })
	mp := newTestPool(t)
	bat := kvBlock(t, mp, []int64{1, 2}, []int64{1, 2})
	params := testParams()
	params.GroupByTwoLevelThreshold = 1
	params.MaxBytesBeforeExternalGroupBy = 1
	params.TmpData.Dir = t.TempDir()
	a := newTestAggregator(t, bat, []string{"k"}, []AggregateDescription{aggOf(t, bat, "sum", "v")}, params)
	v := NewAggregatedDataVariants()
	defer v.Destroy()
	ok, err := a.ExecuteOnBlock(bat, 0, 2, v, nil)
	require.False(t, ok)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNotEnoughSpace))
	require.Equal(t, uint64(2), v.Size())
}

func TestBucketToBlocksOrder(t *testing.T) {
	mp := newTestPool(t)
	bb := NewBucketToBlocks()
	for _, bucket := range []int32{7, -1, 3, 7, 0} {
		bat := kvBlock(t, mp, []int64{1}, []int64{1})
		bat.BucketNum = bucket
		bb.Add(bat)
	}
	require.Equal(t, int32(7), bb.MaxBucket())
	require.Equal(t, 5, bb.Len())

	var order []int32
	var sizes []int
	bb.Ascend(func(bucket int32, blocks []*batch.Batch) bool {
		order = append(order, bucket)
		sizes = append(sizes, len(blocks))
		return true
	})
	require.Equal(t, []int32{0, 3, 7, -1}, order)
	require.Equal(t, []int{1, 1, 2, 1}, sizes)
}
