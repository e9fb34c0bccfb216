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

package types

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

type T uint8

const (
	// any family
	T_any T = 0

	// bool family
	T_bool T = 10

	// numeric/integer family
	T_int8    T = 20
	T_int16   T = 21
	T_int32   T = 22
	T_int64   T = 23
	T_uint8   T = 25
	T_uint16  T = 26
	T_uint32  T = 27
	T_uint64  T = 28
	T_float32 T = 30
	T_float64 T = 31

	// decimal family
	T_decimal128 T = 33
	T_decimal256 T = 34

	// date family
	T_date     T = 50
	T_datetime T = 52

	// string family
	T_char    T = 60
	T_varchar T = 61
	T_json    T = 62
	T_uuid    T = 63

	// intermediate aggregate states, see aggexec.StateColumn
	T_aggstate T = 100
)

type Decimal128 struct {
	B0_63   uint64
	B64_127 uint64
}

type Decimal256 struct {
	B0_63    uint64
	B64_127  uint64
	B128_191 uint64
	B192_255 uint64
}

type Uuid [16]byte

// days since 0001-01-01
type Date int32

// microseconds since 0001-01-01 00:00:00
type Datetime int64

type Ints interface {
	int8 | int16 | int32 | int64
}

type UInts interface {
	uint8 | uint16 | uint32 | uint64
}

type Floats interface {
	float32 | float64
}

type Number interface {
	Ints | UInts | Floats
}

// FixedSizeT is every go type a fixed length column can be viewed as.
type FixedSizeT interface {
	bool | Number | Decimal128 | Decimal256 | Uuid | Date | Datetime
}

// Ordered are the fixed types min/max understand.
type Ordered interface {
	constraints.Integer | constraints.Float | Date | Datetime
}

type Type struct {
	Oid T

	// Size is the in-memory width of one value, 0 for variable length
	// types.
	Size int32
	// Width is the declared length of char(n).
	Width int32
	Scale int32

	Nullable       bool
	LowCardinality bool
}

func New(oid T, width, scale int32) Type {
	typ := Type{
		Oid:   oid,
		Width: width,
		Scale: scale,
		Size:  int32(oid.TypeLen()),
	}
	if oid == T_char {
		typ.Size = width
	}
	return typ
}

func (t T) ToType() Type {
	if t == T_char {
		return New(t, 1, 0)
	}
	return New(t, 0, 0)
}

func (t T) String() string {
	switch t {
	case T_any:
		return "ANY"
	case T_bool:
		return "BOOL"
	case T_int8:
		return "TINYINT"
	case T_int16:
		return "SMALLINT"
	case T_int32:
		return "INT"
	case T_int64:
		return "BIGINT"
	case T_uint8:
		return "TINYINT UNSIGNED"
	case T_uint16:
		return "SMALLINT UNSIGNED"
	case T_uint32:
		return "INT UNSIGNED"
	case T_uint64:
		return "BIGINT UNSIGNED"
	case T_float32:
		return "FLOAT"
	case T_float64:
		return "DOUBLE"
	case T_decimal128:
		return "DECIMAL128"
	case T_decimal256:
		return "DECIMAL256"
	case T_date:
		return "DATE"
	case T_datetime:
		return "DATETIME"
	case T_char:
		return "CHAR"
	case T_varchar:
		return "VARCHAR"
	case T_json:
		return "JSON"
	case T_uuid:
		return "UUID"
	case T_aggstate:
		return "AGGREGATE STATE"
	}
	return fmt.Sprintf("unexpected type: %d", t)
}

// TypeLen returns the width of one value, 0 for variable length types and
// for char whose width depends on the declaration.
func (t T) TypeLen() int {
	switch t {
	case T_bool, T_int8, T_uint8:
		return 1
	case T_int16, T_uint16:
		return 2
	case T_int32, T_uint32, T_float32, T_date:
		return 4
	case T_int64, T_uint64, T_float64, T_datetime:
		return 8
	case T_decimal128, T_uuid:
		return 16
	case T_decimal256:
		return 32
	}
	return 0
}

func (t Type) String() string {
	s := t.Oid.String()
	if t.Oid == T_char {
		s = fmt.Sprintf("CHAR(%d)", t.Width)
	}
	if t.Nullable {
		s = "NULLABLE(" + s + ")"
	}
	if t.LowCardinality {
		s = "LOWCARDINALITY(" + s + ")"
	}
	return s
}

func (t Type) Eq(b Type) bool {
	return t.Oid == b.Oid && t.Size == b.Size && t.Width == b.Width && t.Scale == b.Scale &&
		t.Nullable == b.Nullable && t.LowCardinality == b.LowCardinality
}

func (t Type) WithNullable() Type {
	t.Nullable = true
	return t
}

func (t Type) WithLowCardinality() Type {
	t.LowCardinality = true
	return t
}

// Base strips the nullable and low cardinality wrappers.
func (t Type) Base() Type {
	t.Nullable = false
	t.LowCardinality = false
	return t
}

func (t Type) TypeSize() int {
	return int(t.Size)
}

// IsFixedLen reports whether every value occupies exactly Size bytes.
func (t Type) IsFixedLen() bool {
	return t.Size > 0
}

func (t Type) IsVarlen() bool {
	return !t.IsFixedLen()
}

// IsValueRepresentedByNumber is true for types whose values are plain
// little endian numbers of Size bytes.
func (t Type) IsValueRepresentedByNumber() bool {
	switch t.Oid {
	case T_bool, T_int8, T_int16, T_int32, T_int64,
		T_uint8, T_uint16, T_uint32, T_uint64,
		T_float32, T_float64, T_decimal128, T_decimal256,
		T_date, T_datetime, T_uuid:
		return true
	}
	return false
}

func (t Type) IsString() bool {
	return t.Oid == T_varchar
}

func (t Type) IsFixedString() bool {
	return t.Oid == T_char
}

// IsFixedContiguous is true when a value can be packed into a key by
// copying its Size bytes.
func (t Type) IsFixedContiguous() bool {
	return t.IsValueRepresentedByNumber() || t.IsFixedString()
}

func (t Type) IsNumberOrString() bool {
	return t.IsValueRepresentedByNumber() || t.IsString() || t.IsFixedString()
}
