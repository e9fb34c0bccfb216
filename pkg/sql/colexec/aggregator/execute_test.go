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
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	mock_aggexec "github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec/test"
)

func TestCreateFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	mp := newTestPool(t)
	bat := kvBlock(t, mp, []int64{1, 2}, []int64{1, 2})

	sum := aggOf(t, bat, "sum", "v")
	counting := newCountingFunction(sum.Function)
	sum.Function = counting

	failing := mock_aggexec.NewMockAggregateFunction(ctrl)
	failing.EXPECT().Name().Return("failing").AnyTimes()
	failing.EXPECT().ArgTypes().Return(nil).AnyTimes()
	failing.EXPECT().ReturnType().Return(types.T_int64.ToType()).AnyTimes()
	failing.EXPECT().SizeOfData().Return(8).AnyTimes()
	failing.EXPECT().AlignOfData().Return(8).AnyTimes()
	failing.EXPECT().Create(gomock.Any()).Return(moerr.NewInternalErrorNoCtx("no state for you")).Times(1)
	failing.EXPECT().Destroy(gomock.Any()).Times(0)

	a := newTestAggregator(t, bat, []string{"k"},
		[]AggregateDescription{sum, {Function: failing, ColumnName: "failing()"}}, testParams())
	v := NewAggregatedDataVariants()
	ok, err := a.ExecuteOnBlock(bat, 0, 2, v, nil)
	require.False(t, ok)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInternal))
	v.Destroy()
	require.Equal(t, int64(1), counting.created.Load())
	require.Equal(t, int64(1), counting.destroyed.Load())
}

func TestWorkerPoolReleased(t *testing.T) {
	defer leaktest.AfterTest(t)()
	mp := newTestPool(t)
	bat := kvBlock(t, mp, []int64{1}, []int64{1})
	params := testParams()
	params.MaxThreads = 4
	a, err := NewAggregator(bat, []string{"k"}, []AggregateDescription{aggOf(t, bat, "sum", "v")}, params)
	require.NoError(t, err)

	var ran atomic.Int64
	require.NoError(t, a.parallel(4, func(int) error {
		ran.Add(1)
		return nil
	}))
	require.Equal(t, int64(4), ran.Load())

	err = a.parallel(2, func(worker int) error {
		if worker == 1 {
			panic("worker failure")
		}
		return nil
	})
	require.Error(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
