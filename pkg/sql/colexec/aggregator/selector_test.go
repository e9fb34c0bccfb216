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

package aggregator

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/matrixorigin/mogroupby/pkg/container/types"
)

func TestChooseMethod(t *testing.T) {
	i8 := types.T_int8.ToType()
	i16 := types.T_int16.ToType()
	i32 := types.T_int32.ToType()
	i64 := types.T_int64.ToType()
	dec128 := types.T_decimal128.ToType()
	dec256 := types.T_decimal256.ToType()
	str := types.T_varchar.ToType()
	char8 := types.New(types.T_char, 8, 0)
	json := types.T_json.ToType()

	cases := []struct {
		keys []types.Type
		want Type
	}{
		{nil, WithoutKey},
		{[]types.Type{i8}, Key8},
		{[]types.Type{i16}, Key16},
		{[]types.Type{i32}, Key32},
		{[]types.Type{types.T_date.ToType()}, Key32},
		{[]types.Type{i64}, Key64},
		{[]types.Type{dec128}, Keys128},
		{[]types.Type{dec256}, Keys256},
		{[]types.Type{str}, KeyString},
		{[]types.Type{char8}, KeyFixedString},
		{[]types.Type{i8, i8}, Keys16},
		{[]types.Type{i16, i16}, Keys32},
		{[]types.Type{i32, i32}, Keys64},
		{[]types.Type{i64, i64}, Keys128},
		{[]types.Type{i64, i64, i64}, Keys256},
		{[]types.Type{i64, i64, i64, i64, i8}, PreallocSerialized},
		{[]types.Type{i64, str}, PreallocSerialized},
		{[]types.Type{json}, Serialized},
		{[]types.Type{i64, json}, Serialized},

		{[]types.Type{i8.WithNullable()}, NullableKey8},
		{[]types.Type{i16.WithNullable()}, NullableKey16},
		{[]types.Type{i32.WithNullable()}, NullableKey32},
		{[]types.Type{i64.WithNullable()}, NullableKey64},
		{[]types.Type{str.WithNullable()}, NullableKeyString},
		{[]types.Type{char8.WithNullable()}, NullableKeyFixedString},
		{[]types.Type{dec128.WithNullable()}, NullableKeys256},
		{[]types.Type{i32.WithNullable(), i32}, NullableKeys128},
		{[]types.Type{i64.WithNullable(), i32}, NullableKeys128},
		{[]types.Type{i64.WithNullable(), i64}, NullableKeys256},
		{[]types.Type{i64.WithNullable(), i64, i64}, NullableKeys256},
		{[]types.Type{i64.WithNullable(), i64, i64, i64}, NullablePreallocSerialized},
		{[]types.Type{i64.WithNullable(), str}, NullablePreallocSerialized},
		{[]types.Type{json.WithNullable()}, NullableSerialized},

		{[]types.Type{i8.WithLowCardinality()}, LowCardinalityKey8},
		{[]types.Type{i32.WithLowCardinality()}, LowCardinalityKey32},
		{[]types.Type{i64.WithLowCardinality()}, LowCardinalityKey64},
		{[]types.Type{dec128.WithLowCardinality()}, LowCardinalityKeys128},
		{[]types.Type{str.WithLowCardinality()}, LowCardinalityKeyString},
		{[]types.Type{char8.WithLowCardinality()}, LowCardinalityKeyFixedString},
		{[]types.Type{str.WithLowCardinality().WithNullable()}, LowCardinalityKeyString},
		{[]types.Type{i64.WithLowCardinality().WithNullable()}, LowCardinalityKey64},
		{[]types.Type{i32.WithLowCardinality(), i32}, LowCardinalityKeys128},
		{[]types.Type{i64.WithLowCardinality(), i64, i64}, LowCardinalityKeys256},
		{[]types.Type{str.WithLowCardinality(), i64}, PreallocSerialized},
	}

	convey.Convey("choose method by key types", t, func() {
		for _, c := range cases {
			got, sizes, err := ChooseMethod(c.keys)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.String(), convey.ShouldEqual, c.want.String())
			convey.So(len(sizes), convey.ShouldEqual, len(c.keys))
		}
	})

	convey.Convey("two level counterparts", t, func() {
		convey.So(Key8.IsConvertibleToTwoLevel(), convey.ShouldBeFalse)
		convey.So(Key16.IsConvertibleToTwoLevel(), convey.ShouldBeFalse)
		convey.So(WithoutKey.IsConvertibleToTwoLevel(), convey.ShouldBeFalse)
		convey.So(Key64.TwoLevel(), convey.ShouldEqual, Key64TwoLevel)
		convey.So(NullableKeys128.TwoLevel(), convey.ShouldEqual, NullableKeys128TwoLevel)
		convey.So(LowCardinalityKeyString.TwoLevel(), convey.ShouldEqual, LowCardinalityKeyStringTwoLevel)
		convey.So(Key64TwoLevel.IsTwoLevel(), convey.ShouldBeTrue)
		for typ := Empty; typ < numTypes; typ++ {
			convey.So(typ.String(), convey.ShouldNotBeEmpty)
			if typ.IsConvertibleToTwoLevel() {
				convey.So(typ.TwoLevel().IsTwoLevel(), convey.ShouldBeTrue)
			}
		}
	})
}

func TestOverflowModeText(t *testing.T) {
	convey.Convey("overflow mode round trips through text", t, func() {
		for _, m := range []OverflowMode{OverflowThrow, OverflowBreak, OverflowAny} {
			b, err := m.MarshalText()
			convey.So(err, convey.ShouldBeNil)
			var got OverflowMode
			convey.So(got.UnmarshalText(b), convey.ShouldBeNil)
			convey.So(got, convey.ShouldEqual, m)
		}
		var m OverflowMode
		convey.So(m.UnmarshalText([]byte("explode")), convey.ShouldNotBeNil)
	})
}
