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
	"bytes"
	"fmt"
	"unsafe"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/nulls"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
)

const (
	FLAT     = iota // flat vector represent a uncompressed vector
	CONSTANT        // const vector
	DIST            // dictionary vector
)

// Vector represent a column
type Vector struct {
	// vector's class
	class int
	// type represent the type of column
	typ types.Type
	nsp *nulls.Nulls // nulls list

	// values of fixed length types, length*Size bytes taken from the mpool
	data []byte
	// values of variable length types
	strs []string

	// a DIST vector maps every row to a position of dict.
	dict  *Vector
	index []uint32

	length int
}

func NewVec(typ types.Type) *Vector {
	return &Vector{
		typ:   typ,
		class: FLAT,
		nsp:   &nulls.Nulls{},
	}
}

func NewConstNull(typ types.Type, length int) *Vector {
	vec := &Vector{
		typ:    typ,
		class:  CONSTANT,
		nsp:    &nulls.Nulls{},
		length: length,
	}
	if typ.IsFixedLen() {
		vec.data = make([]byte, typ.TypeSize())
	} else {
		vec.strs = []string{""}
	}
	nulls.Add(vec.nsp, 0)
	return vec
}

func NewConst[T types.FixedSizeT](typ types.Type, val T, length int) *Vector {
	vec := &Vector{
		typ:    typ,
		class:  CONSTANT,
		nsp:    &nulls.Nulls{},
		length: length,
	}
	vec.data = make([]byte, typ.TypeSize())
	copy(vec.data, types.EncodeFixed(val))
	return vec
}

func NewConstString(typ types.Type, val string, length int) *Vector {
	vec := &Vector{
		typ:    typ,
		class:  CONSTANT,
		nsp:    &nulls.Nulls{},
		length: length,
	}
	if typ.IsFixedLen() {
		vec.data = make([]byte, typ.TypeSize())
		copy(vec.data, val)
	} else {
		vec.strs = []string{val}
	}
	return vec
}

// NewDict builds a dictionary encoded vector.  Row i holds dict[index[i]],
// nulls are the null entries of dict.
func NewDict(dict *Vector, index []uint32) *Vector {
	return &Vector{
		typ:    dict.typ,
		class:  DIST,
		nsp:    &nulls.Nulls{},
		dict:   dict,
		index:  index,
		length: len(index),
	}
}

func (v *Vector) Length() int {
	return v.length
}

func (v *Vector) SetLength(n int) {
	v.length = n
}

// Size is approximate, used for memory accounting only.
func (v *Vector) Size() int {
	sz := len(v.data) + 4*len(v.index)
	for _, s := range v.strs {
		sz += len(s) + 16
	}
	if v.dict != nil {
		sz += v.dict.Size()
	}
	return sz
}

func (v *Vector) GetType() *types.Type {
	return &v.typ
}

func (v *Vector) GetNulls() *nulls.Nulls {
	return v.nsp
}

func (v *Vector) SetNulls(nsp *nulls.Nulls) {
	v.nsp = nsp
}

func (v *Vector) IsConst() bool {
	return v.class == CONSTANT
}

func (v *Vector) IsDist() bool {
	return v.class == DIST
}

func (v *Vector) GetClass() int {
	return v.class
}

func (v *Vector) Dict() *Vector {
	return v.dict
}

func (v *Vector) Index() []uint32 {
	return v.index
}

// IsConstNull return true if the vector means a scalar Null.
func (v *Vector) IsConstNull() bool {
	return v.IsConst() && nulls.Contains(v.nsp, 0)
}

func (v *Vector) IsNull(i uint64) bool {
	switch v.class {
	case CONSTANT:
		return nulls.Contains(v.nsp, 0)
	case DIST:
		return v.dict.IsNull(uint64(v.index[i]))
	}
	return nulls.Contains(v.nsp, i)
}

// HasNull is true when at least one row may be null.
func (v *Vector) HasNull() bool {
	if v.class == DIST {
		return v.dict.HasNull()
	}
	return nulls.Any(v.nsp)
}

// MustFixedCol returns the typed view of a FLAT vector, or the single value
// of a CONSTANT one.
func MustFixedCol[T types.FixedSizeT](v *Vector) []T {
	if v.class == DIST {
		panic(moerr.NewInternalErrorNoCtx("typed view of a dictionary vector"))
	}
	n := v.length
	if v.class == CONSTANT {
		n = 1
	}
	if n == 0 || len(v.data) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&v.data[0])), n)
}

// GetFixedAt returns row i whatever the vector class.
func GetFixedAt[T types.FixedSizeT](v *Vector, i int) T {
	switch v.class {
	case CONSTANT:
		i = 0
	case DIST:
		return GetFixedAt[T](v.dict, int(v.index[i]))
	}
	return *(*T)(unsafe.Pointer(&v.data[i*v.typ.TypeSize()]))
}

func MustStrCol(v *Vector) []string {
	if v.class == DIST {
		panic(moerr.NewInternalErrorNoCtx("string view of a dictionary vector"))
	}
	return v.strs
}

func (v *Vector) GetStringAt(i int) string {
	switch v.class {
	case CONSTANT:
		i = 0
	case DIST:
		return v.dict.GetStringAt(int(v.index[i]))
	}
	if v.typ.IsFixedLen() {
		sz := v.typ.TypeSize()
		return string(v.data[i*sz : (i+1)*sz])
	}
	return v.strs[i]
}

// GetRawBytesAt returns the bytes of row i without copying.  The result
// must not be modified.
func (v *Vector) GetRawBytesAt(i int) []byte {
	switch v.class {
	case CONSTANT:
		i = 0
	case DIST:
		return v.dict.GetRawBytesAt(int(v.index[i]))
	}
	if v.typ.IsFixedLen() {
		sz := v.typ.TypeSize()
		return v.data[i*sz : (i+1)*sz : (i+1)*sz]
	}
	s := v.strs[i]
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// UnsafeGetRawData returns the fixed length values of a FLAT or CONSTANT
// vector.
func (v *Vector) UnsafeGetRawData() []byte {
	length := 1
	if !v.IsConst() {
		length = v.length
	}
	return v.data[:length*v.typ.TypeSize()]
}

func (v *Vector) Free(m *mpool.MPool) {
	if v.class == FLAT {
		m.Free(v.data)
	}
	if v.dict != nil {
		v.dict.Free(m)
	}
	v.data = nil
	v.strs = nil
	v.dict = nil
	v.index = nil
	v.length = 0
}

func (v *Vector) PreExtend(rows int, mp *mpool.MPool) error {
	return extend(v, rows, mp)
}

func extend(v *Vector, rows int, m *mpool.MPool) error {
	if v.class != FLAT {
		return moerr.NewInternalErrorNoCtx("append to a non flat vector")
	}
	if !v.typ.IsFixedLen() {
		if need := v.length + rows; need > cap(v.strs) {
			strs := make([]string, len(v.strs), need*2)
			copy(strs, v.strs)
			v.strs = strs
		}
		return nil
	}
	sz := v.typ.TypeSize()
	if need := (v.length + rows) * sz; need > len(v.data) {
		newSize := len(v.data) * 2
		if newSize < need {
			newSize = need
		}
		if newSize < 8*sz {
			newSize = 8 * sz
		}
		data, err := m.Realloc(v.data, newSize)
		if err != nil {
			return err
		}
		v.data = data[:newSize]
	}
	return nil
}

func Append[T types.FixedSizeT](vec *Vector, val T, isNull bool, m *mpool.MPool) error {
	if err := extend(vec, 1, m); err != nil {
		return err
	}
	length := vec.length
	vec.length++
	if isNull {
		nulls.Add(vec.nsp, uint64(length))
	} else {
		col := MustFixedCol[T](vec)
		col[length] = val
	}
	return nil
}

func AppendList[T types.FixedSizeT](vec *Vector, vals []T, isNulls []bool, m *mpool.MPool) error {
	if err := extend(vec, len(vals), m); err != nil {
		return err
	}
	length := vec.length
	vec.length += len(vals)
	col := MustFixedCol[T](vec)
	for i, w := range vals {
		if len(isNulls) > 0 && isNulls[i] {
			nulls.Add(vec.nsp, uint64(length+i))
		} else {
			col[length+i] = w
		}
	}
	return nil
}

// AppendBytes appends one value given as raw bytes: the Size bytes of a
// fixed length value or the content of a string.
func AppendBytes(vec *Vector, val []byte, isNull bool, m *mpool.MPool) error {
	if err := extend(vec, 1, m); err != nil {
		return err
	}
	length := vec.length
	vec.length++
	if isNull {
		nulls.Add(vec.nsp, uint64(length))
		if !vec.typ.IsFixedLen() {
			vec.strs = append(vec.strs, "")
		}
		return nil
	}
	if vec.typ.IsFixedLen() {
		sz := vec.typ.TypeSize()
		copy(vec.data[length*sz:(length+1)*sz], val)
		return nil
	}
	vec.strs = append(vec.strs, string(val))
	return nil
}

func AppendString(vec *Vector, val string, isNull bool, m *mpool.MPool) error {
	if !vec.typ.IsFixedLen() {
		if err := extend(vec, 1, m); err != nil {
			return err
		}
		if isNull {
			nulls.Add(vec.nsp, uint64(vec.length))
			val = ""
		}
		vec.length++
		vec.strs = append(vec.strs, val)
		return nil
	}
	return AppendBytes(vec, unsafe.Slice(unsafe.StringData(val), len(val)), isNull, m)
}

func AppendStringList(vec *Vector, ws []string, isNulls []bool, m *mpool.MPool) error {
	for i, w := range ws {
		if err := AppendString(vec, w, len(isNulls) > 0 && isNulls[i], m); err != nil {
			return err
		}
	}
	return nil
}

// UnionOne appends row sel of w to v.
func (v *Vector) UnionOne(w *Vector, sel int64, mp *mpool.MPool) error {
	return AppendBytes(v, w.GetRawBytesAt(int(sel)), w.IsNull(uint64(sel)), mp)
}

// Union appends the rows sels of w to v.
func (v *Vector) Union(w *Vector, sels []int64, mp *mpool.MPool) error {
	if err := extend(v, len(sels), mp); err != nil {
		return err
	}
	for _, sel := range sels {
		if err := v.UnionOne(w, sel, mp); err != nil {
			return err
		}
	}
	return nil
}

// ToFlat materializes a CONSTANT or DIST vector.
func (v *Vector) ToFlat(mp *mpool.MPool) (*Vector, error) {
	if v.class == FLAT {
		return v, nil
	}
	w := NewVec(v.typ)
	if err := extend(w, v.length, mp); err != nil {
		return nil, err
	}
	for i := 0; i < v.length; i++ {
		if err := w.UnionOne(v, int64(i), mp); err != nil {
			w.Free(mp)
			return nil, err
		}
	}
	return w, nil
}

func (v *Vector) Dup(mp *mpool.MPool) (*Vector, error) {
	w := &Vector{
		class:  v.class,
		typ:    v.typ,
		nsp:    v.nsp.Clone(),
		length: v.length,
	}
	if len(v.data) > 0 {
		if v.class == FLAT {
			data, err := mp.Alloc(len(v.data))
			if err != nil {
				return nil, err
			}
			w.data = data
		} else {
			w.data = make([]byte, len(v.data))
		}
		copy(w.data, v.data)
	}
	if v.strs != nil {
		w.strs = append([]string(nil), v.strs...)
	}
	if v.dict != nil {
		dict, err := v.dict.Dup(mp)
		if err != nil {
			w.Free(mp)
			return nil, err
		}
		w.dict = dict
		w.index = append([]uint32(nil), v.index...)
	}
	return w, nil
}

func (v *Vector) String() string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < v.length; i++ {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(ValueString(v, i))
	}
	buf.WriteByte(']')
	return buf.String()
}

// ValueString formats row i.
func ValueString(v *Vector, i int) string {
	if v.IsNull(uint64(i)) {
		return "null"
	}
	switch v.typ.Oid {
	case types.T_bool:
		return fmt.Sprintf("%v", GetFixedAt[bool](v, i))
	case types.T_int8:
		return fmt.Sprintf("%d", GetFixedAt[int8](v, i))
	case types.T_int16:
		return fmt.Sprintf("%d", GetFixedAt[int16](v, i))
	case types.T_int32:
		return fmt.Sprintf("%d", GetFixedAt[int32](v, i))
	case types.T_int64:
		return fmt.Sprintf("%d", GetFixedAt[int64](v, i))
	case types.T_uint8:
		return fmt.Sprintf("%d", GetFixedAt[uint8](v, i))
	case types.T_uint16:
		return fmt.Sprintf("%d", GetFixedAt[uint16](v, i))
	case types.T_uint32:
		return fmt.Sprintf("%d", GetFixedAt[uint32](v, i))
	case types.T_uint64:
		return fmt.Sprintf("%d", GetFixedAt[uint64](v, i))
	case types.T_float32:
		return fmt.Sprintf("%v", GetFixedAt[float32](v, i))
	case types.T_float64:
		return fmt.Sprintf("%v", GetFixedAt[float64](v, i))
	case types.T_date:
		return fmt.Sprintf("%d", GetFixedAt[types.Date](v, i))
	case types.T_datetime:
		return fmt.Sprintf("%d", GetFixedAt[types.Datetime](v, i))
	case types.T_char:
		return string(bytes.TrimRight(v.GetRawBytesAt(i), "\x00"))
	case types.T_varchar, types.T_json:
		return v.GetStringAt(i)
	}
	return fmt.Sprintf("%x", v.GetRawBytesAt(i))
}
