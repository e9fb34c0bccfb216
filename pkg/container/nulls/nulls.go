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

// Package nulls wrap up functions for the manipulation of bitmap library roaring.
// A column keeps the row numbers of its NULL values in a Nulls.
package nulls

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
)

type Nulls struct {
	Np *roaring64.Bitmap
}

func (nsp *Nulls) Clone() *Nulls {
	if nsp == nil {
		return nil
	}
	if nsp.Np == nil {
		return &Nulls{Np: nil}
	}
	return &Nulls{
		Np: nsp.Np.Clone(),
	}
}

func Build(rows ...uint64) *Nulls {
	nsp := &Nulls{}
	Add(nsp, rows...)
	return nsp
}

func Reset(nsp *Nulls) {
	if nsp.Np != nil {
		nsp.Np.Clear()
	}
}

// Any returns true if any bit in the Nulls is set, otherwise it will return false.
func Any(nsp *Nulls) bool {
	if nsp == nil || nsp.Np == nil {
		return false
	}
	return !nsp.Np.IsEmpty()
}

// Length returns the number of integers contained in the Nulls
func Length(nsp *Nulls) int {
	if nsp == nil || nsp.Np == nil {
		return 0
	}
	return int(nsp.Np.GetCardinality())
}

func String(nsp *Nulls) string {
	if nsp == nil || nsp.Np == nil {
		return "[]"
	}
	return fmt.Sprintf("%v", nsp.Np.ToArray())
}

// Contains returns true if the integer is contained in the Nulls
func Contains(nsp *Nulls, row uint64) bool {
	if nsp != nil && nsp.Np != nil {
		return nsp.Np.Contains(row)
	}
	return false
}

func Add(nsp *Nulls, rows ...uint64) {
	if len(rows) == 0 {
		return
	}
	if nsp.Np == nil {
		nsp.Np = roaring64.New()
	}
	nsp.Np.AddMany(rows)
}

// AddRange sets [start, end).
func AddRange(nsp *Nulls, start, end uint64) {
	if start >= end {
		return
	}
	if nsp.Np == nil {
		nsp.Np = roaring64.New()
	}
	nsp.Np.AddRange(start, end)
}

func Del(nsp *Nulls, rows ...uint64) {
	if nsp.Np == nil {
		return
	}
	for _, row := range rows {
		nsp.Np.Remove(row)
	}
}

// Set performs union operation on Nulls nsp,m and store the result in nsp
func Set(nsp, m *Nulls) {
	if m != nil && m.Np != nil {
		if nsp.Np == nil {
			nsp.Np = roaring64.New()
		}
		nsp.Np.Or(m.Np)
	}
}

// Range adds the numbers of m in [start, end), shifted down by bias, to nsp.
func Range(nsp *Nulls, start, end, bias uint64, m *Nulls) *Nulls {
	if nsp == nil || nsp.Np == nil {
		return m
	}
	it := nsp.Np.Iterator()
	it.AdvanceIfNeeded(start)
	for it.HasNext() {
		row := it.Next()
		if row >= end {
			break
		}
		Add(m, row-bias)
	}
	return m
}

// Filter keeps the rows listed in sels, renumbered by their position in
// sels.
func Filter(nsp *Nulls, sels []int64) *Nulls {
	if !Any(nsp) {
		return &Nulls{}
	}
	m := &Nulls{}
	for i, sel := range sels {
		if nsp.Np.Contains(uint64(sel)) {
			Add(m, uint64(i))
		}
	}
	return m
}

func (nsp *Nulls) Any() bool {
	return Any(nsp)
}

func (nsp *Nulls) Contains(row uint64) bool {
	return Contains(nsp, row)
}

func (nsp *Nulls) Count() int {
	return Length(nsp)
}

func (nsp *Nulls) Show() ([]byte, error) {
	if nsp == nil || nsp.Np == nil {
		return nil, nil
	}
	return nsp.Np.MarshalBinary()
}

func (nsp *Nulls) Read(data []byte) error {
	if len(data) == 0 {
		nsp.Np = nil
		return nil
	}
	nsp.Np = roaring64.New()
	return nsp.Np.UnmarshalBinary(data)
}

func (nsp *Nulls) IsSame(m *Nulls) bool {
	return Length(nsp) == Length(m) && (Length(nsp) == 0 || nsp.Np.Equals(m.Np))
}

func (nsp *Nulls) ToArray() []uint64 {
	if nsp == nil || nsp.Np == nil {
		return []uint64{}
	}
	return nsp.Np.ToArray()
}
