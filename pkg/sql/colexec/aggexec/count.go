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

// aggInfo carries the parts of an AggregateFunction every implementation
// shares.
type aggInfo struct {
	name string
	args []types.Type
	ret  types.Type
}

func (info *aggInfo) Name() string {
	return info.name
}

func (info *aggInfo) ArgTypes() []types.Type {
	return info.args
}

func (info *aggInfo) ReturnType() types.Type {
	return info.ret
}

// count() counts rows, count(x) counts rows where x is not null.
type count struct {
	aggInfo
}

var _ SinglePlaceAdder = (*count)(nil)

func newCount(args []types.Type) *count {
	return &count{aggInfo{name: "count", args: args, ret: types.T_uint64.ToType()}}
}

func (c *count) SizeOfData() int  { return 8 }
func (c *count) AlignOfData() int { return 8 }

func (c *count) Create(s State) error {
	*stateAs[uint64](s) = 0
	return nil
}

func (c *count) Destroy(State) {}

func (c *count) Add(s State, args []*vector.Vector, row int, _ *arena.Arena) error {
	if len(args) > 0 && args[0].IsNull(uint64(row)) {
		return nil
	}
	*stateAs[uint64](s)++
	return nil
}

func (c *count) AddBatchSinglePlace(s State, rowBegin, rowEnd int, args []*vector.Vector, _ *arena.Arena) error {
	n := uint64(rowEnd - rowBegin)
	if len(args) > 0 && args[0].HasNull() {
		for i := rowBegin; i < rowEnd; i++ {
			if args[0].IsNull(uint64(i)) {
				n--
			}
		}
	}
	*stateAs[uint64](s) += n
	return nil
}

func (c *count) Merge(dst, src State, _ *arena.Arena) error {
	*stateAs[uint64](dst) += *stateAs[uint64](src)
	return nil
}

func (c *count) Serialize(s State, w io.Writer) error {
	return writeUvarint(w, *stateAs[uint64](s))
}

func (c *count) Deserialize(s State, r io.Reader, _ *arena.Arena) error {
	n, err := readUvarint(r)
	if err != nil {
		return err
	}
	*stateAs[uint64](s) = n
	return nil
}

func (c *count) InsertResultInto(s State, to *vector.Vector, a *arena.Arena) error {
	return vector.Append(to, *stateAs[uint64](s), false, a.Pool())
}
