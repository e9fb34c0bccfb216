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

package batch

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

func New(attrs []string) *Batch {
	return &Batch{
		Cnt:       1,
		Attrs:     attrs,
		Vecs:      make([]*vector.Vector, len(attrs)),
		BucketNum: -1,
	}
}

func NewWithSize(n int) *Batch {
	return &Batch{
		Cnt:       1,
		Vecs:      make([]*vector.Vector, n),
		BucketNum: -1,
	}
}

// NewIntermediate makes a block of key columns followed by one state
// column per function.
func NewIntermediate(attrs []string, aggAttrs []string, fns []aggexec.AggregateFunction) *Batch {
	bat := New(attrs)
	bat.AggAttrs = aggAttrs
	bat.Aggs = make([]*aggexec.StateColumn, len(fns))
	for i, fn := range fns {
		bat.Aggs[i] = aggexec.NewStateColumn(fn)
	}
	return bat
}

func SetLength(bat *Batch, n int) {
	for _, vec := range bat.Vecs {
		vec.SetLength(n)
	}
	bat.rowCount = n
}

func (bat *Batch) Size() int {
	var size int

	for _, vec := range bat.Vecs {
		size += vec.Size()
	}
	for _, a := range bat.Aggs {
		size += a.Len() * (a.Fn().SizeOfData() + 16)
	}
	return size
}

func (bat *Batch) RowCount() int {
	return bat.rowCount
}

func (bat *Batch) SetRowCount(rowCount int) {
	bat.rowCount = rowCount
}

func (bat *Batch) AddRowCount(rowCount int) {
	bat.rowCount += rowCount
}

func (bat *Batch) VectorCount() int {
	return len(bat.Vecs)
}

func (bat *Batch) SetAttributes(attrs []string) {
	bat.Attrs = attrs
}

func (bat *Batch) SetVector(pos int32, vec *vector.Vector) {
	bat.Vecs[pos] = vec
}

func (bat *Batch) GetVector(pos int32) *vector.Vector {
	return bat.Vecs[pos]
}

// IsIntermediate is true for blocks carrying aggregate states rather than
// final values.
func (bat *Batch) IsIntermediate() bool {
	return len(bat.Aggs) > 0
}

// PosOf returns the position of the column named attr.
func (bat *Batch) PosOf(attr string) (int, bool) {
	for i, a := range bat.Attrs {
		if a == attr {
			return i, true
		}
	}
	return -1, false
}

func (bat *Batch) GetSubBatch(cols []string) *Batch {
	mp := make(map[string]int)
	for i, attr := range bat.Attrs {
		mp[attr] = i
	}
	rbat := NewWithSize(len(cols))
	rbat.Attrs = cols
	for i, col := range cols {
		rbat.Vecs[i] = bat.Vecs[mp[col]]
	}
	rbat.rowCount = bat.rowCount
	rbat.BucketNum = bat.BucketNum
	return rbat
}

// Clean drops one reference, the last one frees the columns and destroys
// the aggregate states still owned by the block.
func (bat *Batch) Clean(m *mpool.MPool) {
	if bat == EmptyBatch {
		return
	}
	if atomic.LoadInt64(&bat.Cnt) == 0 {
		return
	}
	if atomic.AddInt64(&bat.Cnt, -1) > 0 {
		return
	}
	for _, vec := range bat.Vecs {
		if vec != nil {
			vec.Free(m)
		}
	}
	for _, agg := range bat.Aggs {
		if agg != nil {
			agg.Free()
		}
	}
	bat.Attrs = nil
	bat.rowCount = 0
	bat.Vecs = nil
	bat.Aggs = nil
}

func (bat *Batch) String() string {
	var buf bytes.Buffer

	if bat.BucketNum >= 0 || bat.IsOverflows {
		buf.WriteString(fmt.Sprintf("bucket %d overflows %v\n", bat.BucketNum, bat.IsOverflows))
	}
	for i, vec := range bat.Vecs {
		buf.WriteString(fmt.Sprintf("%d : %s\n", i, vec.String()))
	}
	for i, agg := range bat.Aggs {
		buf.WriteString(fmt.Sprintf("%d : %s states %d\n", len(bat.Vecs)+i, agg.Fn().Name(), agg.Len()))
	}
	return buf.String()
}

func (bat *Batch) Log(tag string) {
	if bat == nil || bat.rowCount < 1 {
		return
	}
	logutil.Infof("\n" + tag + "\n" + bat.String())
}

// Dup copies the columns of bat.  Aggregate states have a single owner and
// are not copied.
func (bat *Batch) Dup(mp *mpool.MPool) (*Batch, error) {
	if bat.IsIntermediate() {
		return nil, moerr.NewInternalErrorNoCtx("dup of a block of aggregate states")
	}
	rbat := NewWithSize(len(bat.Vecs))
	rbat.SetAttributes(bat.Attrs)
	rbat.BucketNum = bat.BucketNum
	rbat.IsOverflows = bat.IsOverflows
	for j, vec := range bat.Vecs {
		rvec, err := vec.Dup(mp)
		if err != nil {
			rbat.Clean(mp)
			return nil, err
		}
		rbat.SetVector(int32(j), rvec)
	}
	rbat.rowCount = bat.rowCount
	return rbat, nil
}

func (bat *Batch) PreExtend(m *mpool.MPool, rows int) error {
	for i := range bat.Vecs {
		if err := bat.Vecs[i].PreExtend(rows, m); err != nil {
			return err
		}
	}
	return nil
}

// Append copies the rows of b to the end of bat.
func (bat *Batch) Append(ctx context.Context, mh *mpool.MPool, b *Batch) (*Batch, error) {
	if bat == nil {
		return b.Dup(mh)
	}
	if len(bat.Vecs) != len(b.Vecs) || b.IsIntermediate() {
		return nil, moerr.NewInternalError(ctx, "unexpected error happens in batch append")
	}
	sels := make([]int64, b.rowCount)
	for i := range sels {
		sels[i] = int64(i)
	}
	for i := range bat.Vecs {
		if err := bat.Vecs[i].Union(b.Vecs[i], sels, mh); err != nil {
			return bat, err
		}
	}
	bat.rowCount += b.rowCount
	return bat, nil
}

func (bat *Batch) AddCnt(cnt int) {
	atomic.AddInt64(&bat.Cnt, int64(cnt))
}

func (bat *Batch) SetCnt(cnt int64) {
	atomic.StoreInt64(&bat.Cnt, cnt)
}

func (bat *Batch) GetCnt() int64 {
	return atomic.LoadInt64(&bat.Cnt)
}

func (bat *Batch) IsEmpty() bool {
	return bat.rowCount == 0 && !bat.IsOverflows
}
