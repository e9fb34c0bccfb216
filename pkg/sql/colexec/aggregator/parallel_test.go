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
	"fmt"
	"testing"

	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
)

// partialInput is the input of one worker: nullable keys with many
// duplicates across workers.
type partialInput struct {
	keys  []int64
	nulls []bool
	vals  []int64
}

func partialInputs(workers, rows int) []partialInput {
	inputs := make([]partialInput, workers)
	for w := range inputs {
		in := &inputs[w]
		for i := 0; i < rows; i++ {
			in.keys = append(in.keys, int64((i*7+w*13)%1500))
			in.nulls = append(in.nulls, i%97 == 0)
			in.vals = append(in.vals, int64(i+w))
		}
	}
	return inputs
}

func (in partialInput) block(t *testing.T, mp *mpool.MPool) *batch.Batch {
	return newBlock(t, mp, []string{"k", "v"}, int64Vec(t, mp, in.keys, in.nulls), int64Vec(t, mp, in.vals, nil))
}

func expectedSums(inputs []partialInput) map[string][]string {
	sums := make(map[string]int64)
	for _, in := range inputs {
		for i, k := range in.keys {
			key := fmt.Sprint(k)
			if in.nulls[i] {
				key = "null"
			}
			sums[key] += in.vals[i]
		}
	}
	want := make(map[string][]string, len(sums))
	for k, s := range sums {
		want[k] = []string{fmt.Sprint(s)}
	}
	return want
}

// stubParallel makes every bucket parallel path run whatever the size.
func stubParallel(t *testing.T) {
	stubs := gostub.Stub(&minSizeForParallelMerge, uint64(0))
	stubs.Stub(&minRowsForParallelConvert, uint64(0))
	t.Cleanup(stubs.Reset)
}

func parallelParams() Params {
	params := testParams()
	params.MaxThreads = 4
	params.GroupByTwoLevelThreshold = 1
	return params
}

func executePartials(t *testing.T, a *Aggregator, mp *mpool.MPool, inputs []partialInput) []*AggregatedDataVariants {
	vs := make([]*AggregatedDataVariants, len(inputs))
	for i, in := range inputs {
		vs[i] = NewAggregatedDataVariants()
		bat := in.block(t, mp)
		ok, err := a.ExecuteOnBlock(bat, 0, bat.RowCount(), vs[i], nil)
		require.NoError(t, err)
		require.True(t, ok)
	}
	return vs
}

func TestParallelMergeTwoLevel(t *testing.T) {
	stubParallel(t)
	mp := newTestPool(t)
	inputs := partialInputs(4, 3000)
	header := inputs[0].block(t, mp)

	for _, final := range []bool{true, false} {
		t.Run(fmt.Sprintf("final=%v", final), func(t *testing.T) {
			a := newTestAggregator(t, header, []string{"k"}, []AggregateDescription{aggOf(t, header, "sum", "v")}, parallelParams())
			require.Equal(t, NullableKey64, a.Method())
			vs := executePartials(t, a, mp, inputs)
			for _, v := range vs {
				require.True(t, v.IsTwoLevel())
			}

			blocks, err := a.MergeAndConvertToBlocks(vs, final, nil)
			require.NoError(t, err)
			if final {
				require.Equal(t, expectedSums(inputs), collect(t, a, blocks))
				return
			}
			// states of intermediate blocks fold back into the same result
			buckets := make(map[int32]bool)
			res := NewAggregatedDataVariants()
			for _, bat := range blocks {
				require.False(t, buckets[bat.BucketNum], "bucket %d twice", bat.BucketNum)
				buckets[bat.BucketNum] = true
				_, err := a.MergeOnBlock(bat, res, nil, nil)
				require.NoError(t, err)
				bat.Clean(a.Pool())
			}
			require.Greater(t, len(buckets), 1)
			require.Equal(t, expectedSums(inputs), finalize(t, a, res))
		})
	}
}

func TestParallelMergeBlocksByBucket(t *testing.T) {
	stubSpill(t)
	stubParallel(t)
	mp := newTestPool(t)
	inputs := partialInputs(3, 2000)
	header := inputs[0].block(t, mp)

	spilling := parallelParams()
	spilling.MaxBytesBeforeExternalGroupBy = 1
	spilling.TmpData.Dir = t.TempDir()
	a := newTestAggregator(t, header, []string{"k"}, []AggregateDescription{aggOf(t, header, "sum", "v")}, spilling)
	vs := executePartials(t, a, mp, inputs)
	for _, v := range vs {
		require.Equal(t, uint64(0), v.Size())
		v.Destroy()
	}
	require.True(t, a.HasTemporaryData())

	bb, err := a.RestoreTemporaryData(context.Background())
	require.NoError(t, err)
	require.Greater(t, bb.MaxBucket(), int32(0))
	res := NewAggregatedDataVariants()
	require.NoError(t, a.MergeBlocksByBucket(bb, res, nil))
	spilled := finalize(t, a, res)

	// the same partials merged in memory
	b := newTestAggregator(t, header, []string{"k"}, []AggregateDescription{aggOf(t, header, "sum", "v")}, parallelParams())
	blocks, err := b.MergeAndConvertToBlocks(executePartials(t, b, mp, inputs), true, nil)
	require.NoError(t, err)
	inMemory := collect(t, b, blocks)

	require.Equal(t, inMemory, spilled)
	require.Equal(t, expectedSums(inputs), spilled)
}
