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

package aggexec_test

import (
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
	mock_aggexec "github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec/test"
)

func mockFunctions(ctrl *gomock.Controller, n int) ([]aggexec.AggregateFunction, []*mock_aggexec.MockAggregateFunction) {
	fns := make([]aggexec.AggregateFunction, n)
	mocks := make([]*mock_aggexec.MockAggregateFunction, n)
	for i := range fns {
		m := mock_aggexec.NewMockAggregateFunction(ctrl)
		m.EXPECT().SizeOfData().Return(8).AnyTimes()
		m.EXPECT().AlignOfData().Return(8).AnyTimes()
		fns[i], mocks[i] = m, m
	}
	return fns, mocks
}

func TestCreateStatesRollback(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mp := mpool.MustNew("layout_test")
	defer mpool.DeleteMPool(mp)
	a := arena.New(mp)
	defer a.Free()

	fns, mocks := mockFunctions(ctrl, 4)
	l := aggexec.NewLayout(fns)
	require.Equal(t, 32, l.TotalSize)

	mocks[0].EXPECT().Create(gomock.Any()).Return(nil)
	mocks[1].EXPECT().Create(gomock.Any()).Return(nil)
	mocks[2].EXPECT().Create(gomock.Any()).Return(moerr.NewOOMNoCtx())
	gomock.InOrder(
		mocks[1].EXPECT().Destroy(gomock.Any()).Times(1),
		mocks[0].EXPECT().Destroy(gomock.Any()).Times(1),
	)

	p, err := aggexec.CreatePlace(fns, &l, a)
	require.Nil(t, p)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrOOM))
}

func TestCreateStatesPanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mp := mpool.MustNew("layout_test")
	defer mpool.DeleteMPool(mp)
	a := arena.New(mp)
	defer a.Free()

	fns, mocks := mockFunctions(ctrl, 2)
	l := aggexec.NewLayout(fns)
	mocks[0].EXPECT().Create(gomock.Any()).Return(nil)
	mocks[1].EXPECT().Create(gomock.Any()).Do(func(aggexec.State) { panic("bad state") })
	mocks[0].EXPECT().Destroy(gomock.Any()).Times(1)

	p, err := aggexec.AllocPlace(&l, len(fns), a)
	require.NoError(t, err)
	err = aggexec.CreateStates(fns, &l, p)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInternal))
	require.Equal(t, aggexec.PlaceDestroyed, p.Status())
}

func TestMovePlace(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mp := mpool.MustNew("layout_test")
	defer mpool.DeleteMPool(mp)
	a := arena.New(mp)
	defer a.Free()

	fns, mocks := mockFunctions(ctrl, 2)
	l := aggexec.NewLayout(fns)
	for _, m := range mocks {
		m.EXPECT().Create(gomock.Any()).Return(nil)
		// once by the column, never by the place.
		m.EXPECT().Destroy(gomock.Any()).Times(1)
	}
	p, err := aggexec.CreatePlace(fns, &l, a)
	require.NoError(t, err)

	cols := []*aggexec.StateColumn{aggexec.NewStateColumn(fns[0]), aggexec.NewStateColumn(fns[1])}
	aggexec.MovePlace(fns, &l, p, cols)
	require.Equal(t, aggexec.PlaceMoved, p.Status())
	require.Equal(t, 1, cols[0].Len())
	require.Panics(t, func() { aggexec.DestroyPlace(fns, &l, p) })
	for _, c := range cols {
		c.Free()
	}
}
