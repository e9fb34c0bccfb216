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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeSize(t *testing.T) {
	tests := []struct {
		typ    Type
		size   int
		number bool
	}{
		{T_bool.ToType(), 1, true},
		{T_int8.ToType(), 1, true},
		{T_uint16.ToType(), 2, true},
		{T_float32.ToType(), 4, true},
		{T_date.ToType(), 4, true},
		{T_int64.ToType(), 8, true},
		{T_datetime.ToType(), 8, true},
		{T_decimal128.ToType(), 16, true},
		{T_uuid.ToType(), 16, true},
		{T_decimal256.ToType(), 32, true},
		{New(T_char, 10, 0), 10, false},
		{T_varchar.ToType(), 0, false},
		{T_json.ToType(), 0, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.size, tt.typ.TypeSize(), tt.typ.String())
		require.Equal(t, tt.number, tt.typ.IsValueRepresentedByNumber(), tt.typ.String())
		require.Equal(t, tt.size > 0, tt.typ.IsFixedLen(), tt.typ.String())
	}
}

func TestTypeClassification(t *testing.T) {
	vc := T_varchar.ToType()
	require.True(t, vc.IsString())
	require.True(t, vc.IsNumberOrString())
	require.False(t, vc.IsFixedContiguous())

	ch := New(T_char, 4, 0)
	require.True(t, ch.IsFixedString())
	require.True(t, ch.IsFixedContiguous())

	js := T_json.ToType()
	require.False(t, js.IsNumberOrString())
	require.False(t, js.IsFixedContiguous())
}

func TestTypeWrappers(t *testing.T) {
	typ := T_int32.ToType().WithNullable().WithLowCardinality()
	require.Equal(t, "LOWCARDINALITY(NULLABLE(INT))", typ.String())
	require.True(t, typ.Base().Eq(T_int32.ToType()))
	require.False(t, typ.Eq(T_int32.ToType()))
	require.Equal(t, "CHAR(3)", New(T_char, 3, 0).String())
}

func TestEncoding(t *testing.T) {
	vs := []int32{1, -2, 3}
	require.Equal(t, vs, DecodeSlice[int32](EncodeSlice(vs)))
	require.Nil(t, EncodeSlice([]int64{}))

	d := Decimal128{B0_63: 7, B64_127: 9}
	require.Equal(t, d, DecodeFixed[Decimal128](EncodeFixed(d)))

	typ := New(T_char, 12, 0).WithNullable()
	require.Equal(t, typ, DecodeType(EncodeType(&typ)))

	require.Panics(t, func() { DecodeSlice[int64](make([]byte, 7)) })
}
