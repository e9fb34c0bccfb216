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

package batch

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

func newKeyBatch(t *testing.T, mp *mpool.MPool, keys []int64, names []string) *Batch {
	bat := New([]string{"k", "s"})
	bat.Vecs[0] = vector.NewVec(types.T_int64.ToType())
	bat.Vecs[1] = vector.NewVec(types.T_varchar.ToType())
	require.NoError(t, vector.AppendList(bat.Vecs[0], keys, nil, mp))
	require.NoError(t, vector.AppendStringList(bat.Vecs[1], names, nil, mp))
	bat.SetRowCount(len(keys))
	return bat
}

func TestBatchBasics(t *testing.T) {
	mp := mpool.MustNew("batch_test")
	defer mpool.DeleteMPool(mp)

	bat := newKeyBatch(t, mp, []int64{1, 2}, []string{"a", "b"})
	require.Equal(t, int32(-1), bat.BucketNum)
	require.False(t, bat.IsIntermediate())
	pos, ok := bat.PosOf("s")
	require.True(t, ok)
	require.Equal(t, 1, pos)

	sub := bat.GetSubBatch([]string{"s"})
	require.Equal(t, 2, sub.RowCount())
	require.Equal(t, "[a b]", sub.Vecs[0].String())

	other := newKeyBatch(t, mp, []int64{3}, []string{"c"})
	bat, err := bat.Append(context.Background(), mp, other)
	require.NoError(t, err)
	require.Equal(t, 3, bat.RowCount())
	require.Equal(t, "[1 2 3]", bat.Vecs[0].String())

	dup, err := bat.Dup(mp)
	require.NoError(t, err)
	require.Equal(t, bat.String(), dup.String())

	bat.AddCnt(1)
	bat.Clean(mp)
	require.Equal(t, int64(1), bat.GetCnt())
	for _, b := range []*Batch{bat, other, dup} {
		b.Clean(mp)
	}
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestBlockStream(t *testing.T) {
	mp := mpool.MustNew("batch_test")
	defer mpool.DeleteMPool(mp)
	a := arena.New(mp)
	defer a.Free()

	sum, err := aggexec.New("sum", types.T_int64.ToType())
	require.NoError(t, err)
	fns := []aggexec.AggregateFunction{sum}
	l := aggexec.NewLayout(fns)

	bat := NewIntermediate([]string{"k", "s"}, []string{"sum(v)"}, fns)
	keys := newKeyBatch(t, mp, []int64{7, 8}, []string{"x", "y"})
	bat.Vecs, bat.Attrs = keys.Vecs, keys.Attrs
	bat.SetRowCount(2)
	bat.BucketNum = 42
	v := vector.NewVec(types.T_int64.ToType())
	require.NoError(t, vector.AppendList(v, []int64{5, 6}, nil, mp))
	for i := 0; i < 2; i++ {
		p, err := aggexec.CreatePlace(fns, &l, a)
		require.NoError(t, err)
		require.NoError(t, sum.Add(p.State(&l, 0), []*vector.Vector{v}, i, a))
		aggexec.MovePlace(fns, &l, p, bat.Aggs)
	}
	require.True(t, bat.IsIntermediate())

	var buf bytes.Buffer
	n, err := bat.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	_, err = EmptyBatch.WriteTo(&buf)
	require.NoError(t, err)

	r := bufio.NewReader(&buf)
	got, err := ReadFrom(r, mp, fns, a)
	require.NoError(t, err)
	require.Equal(t, int32(42), got.BucketNum)
	require.Equal(t, bat.Attrs, got.Attrs)
	require.Equal(t, []string{"sum(v)"}, got.AggAttrs)
	require.Equal(t, bat.Vecs[1].String(), got.Vecs[1].String())

	res := vector.NewVec(sum.ReturnType())
	for i := 0; i < got.Aggs[0].Len(); i++ {
		require.NoError(t, sum.InsertResultInto(got.Aggs[0].State(i), res, a))
	}
	require.Equal(t, "[5 6]", res.String())

	empty, err := ReadFrom(r, mp, fns[:0], a)
	require.NoError(t, err)
	require.Equal(t, 0, empty.RowCount())
	require.Equal(t, int32(-1), empty.BucketNum)

	_, err = ReadFrom(r, mp, fns, a)
	require.Equal(t, io.EOF, err)

	_, err = ReadFrom(bufio.NewReader(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})), mp, fns, a)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))

	res.Free(mp)
	v.Free(mp)
	for _, b := range []*Batch{bat, got, empty} {
		b.Clean(mp)
	}
}
