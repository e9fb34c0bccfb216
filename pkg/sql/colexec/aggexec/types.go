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
	"sync/atomic"
	"unsafe"

	"github.com/panjf2000/ants/v2"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
)

// AggregateFunction is the contract between the group by engine and one
// aggregate function.  The engine owns the memory of every state: it
// allocates SizeOfData bytes aligned to AlignOfData, calls Create exactly
// once, and Destroy exactly once unless the state was handed over to a
// StateColumn, which then destroys it.
type AggregateFunction interface {
	Name() string
	ArgTypes() []types.Type
	ReturnType() types.Type

	SizeOfData() int
	AlignOfData() int

	Create(s State) error
	Destroy(s State)

	// Add folds row of args into s.
	Add(s State, args []*vector.Vector, row int, a *arena.Arena) error
	// Merge folds src into dst.  src stays valid and must still be
	// destroyed by its owner.
	Merge(dst, src State, a *arena.Arena) error

	Serialize(s State, w io.Writer) error
	Deserialize(s State, r io.Reader, a *arena.Arena) error

	// InsertResultInto appends the final value of s to to.
	InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error
}

// SinglePlaceAdder is implemented by functions that can fold a whole row
// range into one state faster than row by row.
type SinglePlaceAdder interface {
	AddBatchSinglePlace(s State, rowBegin, rowEnd int, args []*vector.Vector, a *arena.Arena) error
}

// ParallelMerger is implemented by functions whose states are large
// enough that merging two of them is worth splitting across a pool.
type ParallelMerger interface {
	MergeParallel(dst, src State, pool *ants.Pool, cancelled *atomic.Bool, a *arena.Arena) error
}

// State is the part of an aggregate place owned by one function.  Data is
// the fixed size region inside the arena, it must never hold go pointers;
// values the garbage collector has to see go to the ref slot.
type State struct {
	Data []byte
	ref  *any
}

func (s State) Ref() any {
	if s.ref == nil {
		return nil
	}
	return *s.ref
}

func (s State) SetRef(v any) {
	*s.ref = v
}

// stateAs views the fixed region of s as a T.  T must not contain
// pointers and the layout guarantees the alignment.
func stateAs[T any](s State) *T {
	return (*T)(unsafe.Pointer(unsafe.SliceData(s.Data)))
}

// standaloneState allocates a state of fn outside any place, used when a
// column of states is rebuilt from a stream.
func standaloneState(fn AggregateFunction, a *arena.Arena) (State, error) {
	data, err := a.AlignedAlloc(fn.SizeOfData(), fn.AlignOfData())
	if err != nil {
		return State{}, err
	}
	return State{Data: data, ref: new(any)}, nil
}
