// Copyright 2023 Matrix Origin
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

package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
)

func TestAlignedAlloc(t *testing.T) {
	mp := mpool.MustNew("arena-test")
	defer mpool.DeleteMPool(mp)
	a := New(mp)
	defer a.Free()

	for _, align := range []int{1, 2, 4, 8, 16, 32, 64} {
		for size := 1; size < 100; size += 7 {
			buf, err := a.AlignedAlloc(size, align)
			require.NoError(t, err)
			require.Equal(t, size, len(buf))
			require.Equal(t, size, cap(buf))
			addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
			require.Zero(t, addr%uintptr(align))
			for _, b := range buf {
				require.Zero(t, b)
			}
		}
	}
	require.True(t, a.Used() <= a.Size())
	require.Equal(t, a.Size(), mp.CurrNB())

	_, err := a.AlignedAlloc(8, 3)
	require.Error(t, err)
	_, err = a.AlignedAlloc(-1, 8)
	require.Error(t, err)
}

func TestAllocDoesNotOverlap(t *testing.T) {
	mp := mpool.MustNew("arena-overlap")
	defer mpool.DeleteMPool(mp)
	a := New(mp)
	defer a.Free()

	bufs := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		buf, err := a.Alloc(24)
		require.NoError(t, err)
		for j := range buf {
			buf[j] = byte(i)
		}
		bufs = append(bufs, buf)
	}
	for i, buf := range bufs {
		for _, b := range buf {
			require.Equal(t, byte(i), b)
		}
	}
	// large allocations get a chunk of their own size.
	big, err := a.Alloc(1 << 20)
	require.NoError(t, err)
	require.Equal(t, 1<<20, len(big))
}

func TestRollbackAndContinue(t *testing.T) {
	mp := mpool.MustNew("arena-rollback")
	defer mpool.DeleteMPool(mp)
	a := New(mp)
	defer a.Free()

	k1, err := a.Insert([]byte("abc"))
	require.NoError(t, err)
	used := a.Used()
	k2, err := a.Insert([]byte("abcdef"))
	require.NoError(t, err)
	a.Rollback(len(k2))
	require.Equal(t, used, a.Used())
	require.Equal(t, "abc", string(k1))

	k3, err := a.AllocContinue(k1, 2)
	require.NoError(t, err)
	require.Equal(t, 5, len(k3))
	require.Equal(t, "abc", string(k3[:3]))
	require.Equal(t, unsafe.SliceData(k1), unsafe.SliceData(k3))

	defer func() {
		r := recover()
		require.NotNil(t, r)
		require.True(t, moerr.IsMoErrCode(r.(*moerr.Error), moerr.ErrLogicalError))
	}()
	a.Rollback(1 << 30)
}

func TestFreeReturnsMemory(t *testing.T) {
	mp := mpool.MustNew("arena-free")
	defer mpool.DeleteMPool(mp)
	a := New(mp)
	for i := 0; i < 100; i++ {
		_, err := a.Alloc(1000)
		require.NoError(t, err)
	}
	require.NotZero(t, mp.CurrNB())
	a.Free()
	require.Zero(t, mp.CurrNB())
	require.Zero(t, a.Size())

	capped, err := mpool.NewMPool("arena-capped", 1024)
	require.NoError(t, err)
	defer mpool.DeleteMPool(capped)
	b := New(capped)
	_, err = b.Alloc(10 << 10)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrOOM))
}
