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

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
)

// groupBitmap collects integer values into a roaring bitmap and returns
// its cardinality.
type groupBitmap struct {
	aggInfo
}

func newGroupBitmap(arg types.Type) *groupBitmap {
	return &groupBitmap{aggInfo{name: "groupBitmap", args: []types.Type{arg}, ret: types.T_uint64.ToType()}}
}

func (f *groupBitmap) SizeOfData() int  { return 0 }
func (f *groupBitmap) AlignOfData() int { return 1 }

func (f *groupBitmap) Create(s State) error {
	s.SetRef(roaring64.New())
	return nil
}

func (f *groupBitmap) Destroy(s State) {
	s.SetRef(nil)
}

func bitmapOf(s State) *roaring64.Bitmap {
	return s.Ref().(*roaring64.Bitmap)
}

func (f *groupBitmap) Add(s State, args []*vector.Vector, row int, _ *arena.Arena) error {
	if args[0].IsNull(uint64(row)) {
		return nil
	}
	bitmapOf(s).Add(getInteger(args[0], row))
	return nil
}

func getInteger(v *vector.Vector, row int) uint64 {
	switch v.GetType().Oid {
	case types.T_int8:
		return uint64(vector.GetFixedAt[int8](v, row))
	case types.T_int16:
		return uint64(vector.GetFixedAt[int16](v, row))
	case types.T_int32:
		return uint64(vector.GetFixedAt[int32](v, row))
	case types.T_int64:
		return uint64(vector.GetFixedAt[int64](v, row))
	case types.T_uint8:
		return uint64(vector.GetFixedAt[uint8](v, row))
	case types.T_uint16:
		return uint64(vector.GetFixedAt[uint16](v, row))
	case types.T_uint32:
		return uint64(vector.GetFixedAt[uint32](v, row))
	}
	return vector.GetFixedAt[uint64](v, row)
}

func (f *groupBitmap) Merge(dst, src State, _ *arena.Arena) error {
	bitmapOf(dst).Or(bitmapOf(src))
	return nil
}

func (f *groupBitmap) Serialize(s State, w io.Writer) error {
	data, err := bitmapOf(s).MarshalBinary()
	if err != nil {
		return moerr.ConvertGoError(moerr.Context(), err)
	}
	return writeBytes(w, data)
}

func (f *groupBitmap) Deserialize(s State, r io.Reader, a *arena.Arena) error {
	data, err := readBytes(r, a)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err = bitmapOf(s).UnmarshalBinary(data); err != nil {
		return moerr.NewCorruptedAggregateStateNoCtx(f.name, "%v", err)
	}
	return nil
}

func (f *groupBitmap) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	return vector.Append(to, bitmapOf(s).GetCardinality(), false, a.Pool())
}
