// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
)

func TestAppendFixed(t *testing.T) {
	mp := mpool.MustNew("test")
	defer mpool.DeleteMPool(mp)

	v := NewVec(types.T_int64.ToType())
	for i := 0; i < 100; i++ {
		require.NoError(t, Append(v, int64(i), i%10 == 0, mp))
	}
	require.Equal(t, 100, v.Length())
	col := MustFixedCol[int64](v)
	require.Equal(t, 100, len(col))
	require.Equal(t, int64(42), col[42])
	require.True(t, v.IsNull(30))
	require.False(t, v.IsNull(31))
	require.Equal(t, int64(7), GetFixedAt[int64](v, 7))
	require.NoError(t, AppendList(v, []int64{1, 2}, []bool{false, true}, mp))
	require.True(t, v.IsNull(101))

	v.Free(mp)
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestAppendString(t *testing.T) {
	mp := mpool.MustNew("test")
	defer mpool.DeleteMPool(mp)

	v := NewVec(types.T_varchar.ToType())
	require.NoError(t, AppendStringList(v, []string{"a", "", "ccc"}, []bool{false, true, false}, mp))
	require.Equal(t, 3, v.Length())
	require.Equal(t, "ccc", v.GetStringAt(2))
	require.True(t, v.IsNull(1))
	require.Equal(t, "[a null ccc]", v.String())

	c := NewVec(types.New(types.T_char, 4, 0))
	require.NoError(t, AppendString(c, "ab", false, mp))
	require.Equal(t, []byte{'a', 'b', 0, 0}, c.GetRawBytesAt(0))
	require.Equal(t, "ab", ValueString(c, 0))
	c.Free(mp)
}

func TestConstAndDict(t *testing.T) {
	mp := mpool.MustNew("test")
	defer mpool.DeleteMPool(mp)

	c := NewConst(types.T_int32.ToType(), int32(9), 5)
	require.True(t, c.IsConst())
	require.Equal(t, int32(9), GetFixedAt[int32](c, 4))
	require.False(t, c.IsNull(3))
	require.True(t, NewConstNull(types.T_int32.ToType(), 5).IsNull(2))

	dict := NewVec(types.T_varchar.ToType())
	require.NoError(t, AppendStringList(dict, []string{"", "x", "y"}, []bool{true, false, false}, mp))
	d := NewDict(dict, []uint32{1, 2, 0, 1})
	require.True(t, d.IsDist())
	require.Equal(t, 4, d.Length())
	require.Equal(t, "y", d.GetStringAt(1))
	require.True(t, d.IsNull(2))
	require.True(t, d.HasNull())

	f, err := d.ToFlat(mp)
	require.NoError(t, err)
	require.Equal(t, "[x y null x]", f.String())

	f2, err := c.ToFlat(mp)
	require.NoError(t, err)
	require.Equal(t, []int32{9, 9, 9, 9, 9}, MustFixedCol[int32](f2))
	f2.Free(mp)
}

func TestMarshal(t *testing.T) {
	mp := mpool.MustNew("test")
	defer mpool.DeleteMPool(mp)

	vs := []*Vector{
		NewVec(types.T_uint16.ToType()),
		NewVec(types.T_varchar.ToType()),
		NewConstString(types.T_varchar.ToType(), "k", 3),
	}
	require.NoError(t, AppendList(vs[0], []uint16{1, 2, 3}, []bool{false, true, false}, mp))
	require.NoError(t, AppendStringList(vs[1], []string{"hello", "", "world"}, nil, mp))
	dict := NewVec(types.T_int8.ToType())
	require.NoError(t, AppendList(dict, []int8{5, 6}, nil, mp))
	vs = append(vs, NewDict(dict, []uint32{1, 1, 0}))

	for _, v := range vs {
		data, err := v.MarshalBinary()
		require.NoError(t, err)
		w := &Vector{}
		require.NoError(t, w.UnmarshalBinaryWithMpool(data, mp))
		require.Equal(t, v.String(), w.String())
		require.Equal(t, v.GetClass(), w.GetClass())
		require.True(t, v.GetType().Eq(*w.GetType()))

		require.Error(t, (&Vector{}).UnmarshalBinaryWithMpool(data[:5], mp))
	}
}

func TestUnion(t *testing.T) {
	mp := mpool.MustNew("test")
	defer mpool.DeleteMPool(mp)

	src := NewVec(types.T_float64.ToType())
	require.NoError(t, AppendList(src, []float64{1.5, 2.5, 3.5}, []bool{false, false, true}, mp))
	dst := NewVec(types.T_float64.ToType())
	require.NoError(t, dst.Union(src, []int64{2, 0}, mp))
	require.Equal(t, "[null 1.5]", dst.String())

	dup, err := src.Dup(mp)
	require.NoError(t, err)
	require.Equal(t, src.String(), dup.String())
	dup.Free(mp)
	src.Free(mp)
	dst.Free(mp)
	require.Equal(t, int64(0), mp.CurrNB())
}
