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
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
)

// ChooseMethod picks the hash table encoding for keys of the given types,
// and returns the byte size of every fixed size key.  It always returns a
// single level encoding, data is split in buckets later if it grows.
func ChooseMethod(keyTypes []types.Type) (Type, []int, error) {
	if len(keyTypes) == 0 {
		return WithoutKey, nil, nil
	}

	var hasNullable, hasLowCardinality bool
	base := make([]types.Type, len(keyTypes))
	for i, t := range keyTypes {
		hasNullable = hasNullable || t.Nullable
		hasLowCardinality = hasLowCardinality || t.LowCardinality
		base[i] = t.Base()
	}

	keySizes := make([]int, len(keyTypes))
	keysBytes, numFixed := 0, 0
	allNumbersOrStrings := true
	for i, t := range base {
		if t.IsFixedContiguous() {
			numFixed++
			keySizes[i] = t.TypeSize()
			keysBytes += keySizes[i]
		}
		if !t.IsNumberOrString() {
			allNumbersOrStrings = false
		}
	}
	single := len(keyTypes) == 1
	allFixed := numFixed == len(keyTypes)

	if hasNullable {
		if single && !hasLowCardinality {
			if base[0].IsValueRepresentedByNumber() {
				switch keySizes[0] {
				case 1:
					return NullableKey8, keySizes, nil
				case 2:
					return NullableKey16, keySizes, nil
				case 4:
					return NullableKey32, keySizes, nil
				case 8:
					return NullableKey64, keySizes, nil
				}
			}
			if base[0].IsFixedString() {
				return NullableKeyFixedString, keySizes, nil
			}
			if base[0].IsString() {
				return NullableKeyString, keySizes, nil
			}
		}
		if allFixed && !hasLowCardinality {
			if nullMapSize[[2]uint64]()+keysBytes <= 16 {
				return NullableKeys128, keySizes, nil
			}
			if nullMapSize[[4]uint64]()+keysBytes <= 32 {
				return NullableKeys256, keySizes, nil
			}
		}
		if hasLowCardinality && single {
			if base[0].IsValueRepresentedByNumber() {
				switch keySizes[0] {
				case 1:
					return LowCardinalityKey8, keySizes, nil
				case 2:
					return LowCardinalityKey16, keySizes, nil
				case 4:
					return LowCardinalityKey32, keySizes, nil
				case 8:
					return LowCardinalityKey64, keySizes, nil
				}
			} else if base[0].IsString() {
				return LowCardinalityKeyString, keySizes, nil
			} else if base[0].IsFixedString() {
				return LowCardinalityKeyFixedString, keySizes, nil
			}
		}
		if !single && allNumbersOrStrings {
			return NullablePreallocSerialized, keySizes, nil
		}
		return NullableSerialized, keySizes, nil
	}

	if single && base[0].IsValueRepresentedByNumber() {
		if hasLowCardinality {
			switch keySizes[0] {
			case 1:
				return LowCardinalityKey8, keySizes, nil
			case 2:
				return LowCardinalityKey16, keySizes, nil
			case 4:
				return LowCardinalityKey32, keySizes, nil
			case 8:
				return LowCardinalityKey64, keySizes, nil
			case 16:
				return LowCardinalityKeys128, keySizes, nil
			case 32:
				return LowCardinalityKeys256, keySizes, nil
			}
			return Empty, nil, moerr.NewLogicalErrorNoCtx("low cardinality numeric key of %d bytes", keySizes[0])
		}
		switch keySizes[0] {
		case 1:
			return Key8, keySizes, nil
		case 2:
			return Key16, keySizes, nil
		case 4:
			return Key32, keySizes, nil
		case 8:
			return Key64, keySizes, nil
		case 16:
			return Keys128, keySizes, nil
		case 32:
			return Keys256, keySizes, nil
		}
		return Empty, nil, moerr.NewLogicalErrorNoCtx("numeric key of %d bytes", keySizes[0])
	}

	if single && base[0].IsFixedString() {
		if hasLowCardinality {
			return LowCardinalityKeyFixedString, keySizes, nil
		}
		return KeyFixedString, keySizes, nil
	}

	if allFixed {
		if hasLowCardinality {
			if keysBytes <= 16 {
				return LowCardinalityKeys128, keySizes, nil
			}
			if keysBytes <= 32 {
				return LowCardinalityKeys256, keySizes, nil
			}
		}
		switch {
		case keysBytes <= 2:
			return Keys16, keySizes, nil
		case keysBytes <= 4:
			return Keys32, keySizes, nil
		case keysBytes <= 8:
			return Keys64, keySizes, nil
		case keysBytes <= 16:
			return Keys128, keySizes, nil
		case keysBytes <= 32:
			return Keys256, keySizes, nil
		}
	}

	if single && base[0].IsString() {
		if hasLowCardinality {
			return LowCardinalityKeyString, keySizes, nil
		}
		return KeyString, keySizes, nil
	}

	if !single && allNumbersOrStrings {
		return PreallocSerialized, keySizes, nil
	}
	return Serialized, keySizes, nil
}
