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
	"bytes"
	"io"
	"unsafe"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
)

// keep decides which value min, max and any hold on to.
type keep uint8

const (
	keepFirst keep = iota
	keepMin
	keepMax
)

// valueOffset is where the value of a fixed extreme state starts, byte 0
// tells whether a value was seen.
const valueOffset = 8

func lessOf[T types.Ordered]() func(a, b []byte) bool {
	return func(a, b []byte) bool {
		return *(*T)(unsafe.Pointer(unsafe.SliceData(a))) < *(*T)(unsafe.Pointer(unsafe.SliceData(b)))
	}
}

func lessBytes(a, b []byte) bool {
	return bytes.Compare(a, b) < 0
}

// extremeFixed is min, max or any over a fixed length column.  The result
// is null for a group without a non null value.
type extremeFixed struct {
	aggInfo
	keep keep
	size int
	less func(a, b []byte) bool
}

func newExtremeFixed(name string, k keep, arg types.Type, less func(a, b []byte) bool) *extremeFixed {
	return &extremeFixed{
		aggInfo: aggInfo{name: name, args: []types.Type{arg}, ret: arg.Base().WithNullable()},
		keep:    k,
		size:    arg.TypeSize(),
		less:    less,
	}
}

func (f *extremeFixed) SizeOfData() int  { return valueOffset + f.size }
func (f *extremeFixed) AlignOfData() int { return 8 }

func (f *extremeFixed) Create(s State) error {
	for i := range s.Data {
		s.Data[i] = 0
	}
	return nil
}

func (f *extremeFixed) Destroy(State) {}

func (f *extremeFixed) better(v, cur []byte) bool {
	switch f.keep {
	case keepMin:
		return f.less(v, cur)
	case keepMax:
		return f.less(cur, v)
	}
	return false
}

func (f *extremeFixed) offer(s State, v []byte) {
	cur := s.Data[valueOffset:]
	if s.Data[0] == 0 || f.better(v, cur) {
		copy(cur, v)
		s.Data[0] = 1
	}
}

func (f *extremeFixed) Add(s State, args []*vector.Vector, row int, _ *arena.Arena) error {
	if args[0].IsNull(uint64(row)) {
		return nil
	}
	f.offer(s, args[0].GetRawBytesAt(row))
	return nil
}

func (f *extremeFixed) Merge(dst, src State, _ *arena.Arena) error {
	if src.Data[0] != 0 {
		f.offer(dst, src.Data[valueOffset:])
	}
	return nil
}

func (f *extremeFixed) Serialize(s State, w io.Writer) error {
	return writeFixed(s, w)
}

func (f *extremeFixed) Deserialize(s State, r io.Reader, _ *arena.Arena) error {
	return readFixed(s, r)
}

func (f *extremeFixed) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	return vector.AppendBytes(to, s.Data[valueOffset:], s.Data[0] == 0, a.Pool())
}

// extremeVarlen is min, max or any over a variable length column.  The
// value is copied into the arena and held by the ref slot.
type extremeVarlen struct {
	aggInfo
	keep keep
}

func newExtremeVarlen(name string, k keep, arg types.Type) *extremeVarlen {
	return &extremeVarlen{
		aggInfo: aggInfo{name: name, args: []types.Type{arg}, ret: arg.Base().WithNullable()},
		keep:    k,
	}
}

func (f *extremeVarlen) SizeOfData() int  { return 1 }
func (f *extremeVarlen) AlignOfData() int { return 1 }

func (f *extremeVarlen) Create(s State) error {
	s.Data[0] = 0
	s.SetRef(nil)
	return nil
}

func (f *extremeVarlen) Destroy(s State) {
	s.SetRef(nil)
}

func current(s State) string {
	v, _ := s.Ref().(string)
	return v
}

func (f *extremeVarlen) better(v []byte, cur string) bool {
	switch f.keep {
	case keepMin:
		return string(v) < cur
	case keepMax:
		return string(v) > cur
	}
	return false
}

func (f *extremeVarlen) offer(s State, v []byte, a *arena.Arena) error {
	if s.Data[0] != 0 && !f.better(v, current(s)) {
		return nil
	}
	s.Data[0] = 1
	if len(v) == 0 {
		s.SetRef("")
		return nil
	}
	b, err := a.Insert(v)
	if err != nil {
		return err
	}
	s.SetRef(unsafe.String(unsafe.SliceData(b), len(b)))
	return nil
}

func (f *extremeVarlen) Add(s State, args []*vector.Vector, row int, a *arena.Arena) error {
	if args[0].IsNull(uint64(row)) {
		return nil
	}
	return f.offer(s, args[0].GetRawBytesAt(row), a)
}

func (f *extremeVarlen) Merge(dst, src State, a *arena.Arena) error {
	if src.Data[0] == 0 {
		return nil
	}
	v := current(src)
	return f.offer(dst, unsafe.Slice(unsafe.StringData(v), len(v)), a)
}

func (f *extremeVarlen) Serialize(s State, w io.Writer) error {
	if _, err := w.Write(s.Data[:1]); err != nil {
		return err
	}
	if s.Data[0] == 0 {
		return nil
	}
	v := current(s)
	return writeBytes(w, unsafe.Slice(unsafe.StringData(v), len(v)))
}

func (f *extremeVarlen) Deserialize(s State, r io.Reader, a *arena.Arena) error {
	if err := readFixed(State{Data: s.Data[:1]}, r); err != nil {
		return err
	}
	switch s.Data[0] {
	case 0:
		return nil
	case 1:
	default:
		return moerr.NewCorruptedAggregateStateNoCtx(f.name, "bad presence flag %d", s.Data[0])
	}
	b, err := readBytes(r, a)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		s.SetRef("")
	} else {
		s.SetRef(unsafe.String(unsafe.SliceData(b), len(b)))
	}
	return nil
}

func (f *extremeVarlen) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	return vector.AppendString(to, current(s), s.Data[0] == 0, a.Pool())
}
