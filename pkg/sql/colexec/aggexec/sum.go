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

package aggexec

import (
	"io"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
)

type sumResult interface {
	int64 | uint64 | float64
}

// sum of a number column, nulls are skipped and an empty group sums to 0.
type sum[T types.Number, R sumResult] struct {
	aggInfo
}

var _ SinglePlaceAdder = (*sum[int64, int64])(nil)

func newSum[T types.Number, R sumResult](arg types.Type, ret types.T) *sum[T, R] {
	return &sum[T, R]{aggInfo{name: "sum", args: []types.Type{arg}, ret: ret.ToType()}}
}

func (f *sum[T, R]) SizeOfData() int  { return 8 }
func (f *sum[T, R]) AlignOfData() int { return 8 }

func (f *sum[T, R]) Create(s State) error {
	*stateAs[R](s) = 0
	return nil
}

func (f *sum[T, R]) Destroy(State) {}

func (f *sum[T, R]) Add(s State, args []*vector.Vector, row int, _ *arena.Arena) error {
	if args[0].IsNull(uint64(row)) {
		return nil
	}
	*stateAs[R](s) += R(vector.GetFixedAt[T](args[0], row))
	return nil
}

func (f *sum[T, R]) AddBatchSinglePlace(s State, rowBegin, rowEnd int, args []*vector.Vector, _ *arena.Arena) error {
	vec := args[0]
	if vec.IsConstNull() {
		return nil
	}
	if vec.IsConst() {
		*stateAs[R](s) += R(vector.GetFixedAt[T](vec, 0)) * R(rowEnd-rowBegin)
		return nil
	}
	var acc R
	hasNull := vec.HasNull()
	for i := rowBegin; i < rowEnd; i++ {
		if hasNull && vec.IsNull(uint64(i)) {
			continue
		}
		acc += R(vector.GetFixedAt[T](vec, i))
	}
	*stateAs[R](s) += acc
	return nil
}

func (f *sum[T, R]) Merge(dst, src State, _ *arena.Arena) error {
	*stateAs[R](dst) += *stateAs[R](src)
	return nil
}

func (f *sum[T, R]) Serialize(s State, w io.Writer) error {
	return writeFixed(s, w)
}

func (f *sum[T, R]) Deserialize(s State, r io.Reader, _ *arena.Arena) error {
	return readFixed(s, r)
}

func (f *sum[T, R]) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	return vector.Append(to, *stateAs[R](s), false, a.Pool())
}

type avgState struct {
	sum float64
	cnt uint64
}

// avg is null for a group without a non null value.
type avg[T types.Number] struct {
	aggInfo
}

func newAvg[T types.Number](arg types.Type) *avg[T] {
	return &avg[T]{aggInfo{name: "avg", args: []types.Type{arg}, ret: types.T_float64.ToType().WithNullable()}}
}

func (f *avg[T]) SizeOfData() int  { return 16 }
func (f *avg[T]) AlignOfData() int { return 8 }

func (f *avg[T]) Create(s State) error {
	*stateAs[avgState](s) = avgState{}
	return nil
}

func (f *avg[T]) Destroy(State) {}

func (f *avg[T]) Add(s State, args []*vector.Vector, row int, _ *arena.Arena) error {
	if args[0].IsNull(uint64(row)) {
		return nil
	}
	st := stateAs[avgState](s)
	st.sum += float64(vector.GetFixedAt[T](args[0], row))
	st.cnt++
	return nil
}

func (f *avg[T]) Merge(dst, src State, _ *arena.Arena) error {
	d, o := stateAs[avgState](dst), stateAs[avgState](src)
	d.sum += o.sum
	d.cnt += o.cnt
	return nil
}

func (f *avg[T]) Serialize(s State, w io.Writer) error {
	return writeFixed(s, w)
}

func (f *avg[T]) Deserialize(s State, r io.Reader, _ *arena.Arena) error {
	return readFixed(s, r)
}

func (f *avg[T]) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	st := stateAs[avgState](s)
	if st.cnt == 0 {
		return vector.Append(to, float64(0), true, a.Pool())
	}
	return vector.Append(to, st.sum/float64(st.cnt), false, a.Pool())
}
