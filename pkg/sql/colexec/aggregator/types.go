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
	"runtime"
	"strings"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/fileservice"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// Type is the hash table encoding of an AggregatedDataVariants.
type Type uint8

const (
	Empty Type = iota
	WithoutKey

	Key8
	Key16
	Key32
	Key64
	KeyString
	KeyFixedString
	Keys16
	Keys32
	Keys64
	Keys128
	Keys256
	Serialized
	PreallocSerialized
	NullableSerialized
	NullablePreallocSerialized

	Key32TwoLevel
	Key64TwoLevel
	KeyStringTwoLevel
	KeyFixedStringTwoLevel
	Keys32TwoLevel
	Keys64TwoLevel
	Keys128TwoLevel
	Keys256TwoLevel
	SerializedTwoLevel
	PreallocSerializedTwoLevel
	NullableSerializedTwoLevel
	NullablePreallocSerializedTwoLevel

	// single level encodings with a stronger hash, used when merging spilled
	// data whose key count may be far beyond what one pass produced.
	Key64Hash64
	KeyStringHash64
	KeyFixedStringHash64
	Keys128Hash64
	Keys256Hash64
	SerializedHash64
	PreallocSerializedHash64
	NullableSerializedHash64
	NullablePreallocSerializedHash64

	NullableKey8
	NullableKey16
	NullableKey32
	NullableKey64
	NullableKeyString
	NullableKeyFixedString
	NullableKey32TwoLevel
	NullableKey64TwoLevel
	NullableKeyStringTwoLevel
	NullableKeyFixedStringTwoLevel

	LowCardinalityKey8
	LowCardinalityKey16
	LowCardinalityKey32
	LowCardinalityKey64
	LowCardinalityKeys128
	LowCardinalityKeys256
	LowCardinalityKeyString
	LowCardinalityKeyFixedString
	LowCardinalityKey32TwoLevel
	LowCardinalityKey64TwoLevel
	LowCardinalityKeys128TwoLevel
	LowCardinalityKeys256TwoLevel
	LowCardinalityKeyStringTwoLevel
	LowCardinalityKeyFixedStringTwoLevel

	NullableKeys128
	NullableKeys256
	NullableKeys128TwoLevel
	NullableKeys256TwoLevel

	numTypes
)

type keyKind uint8

const (
	kindNone keyKind = iota
	// keys packed into a fixed width integer.
	kindFixed
	// one string or fixed string key.
	kindString
	// the key tuple serialized to bytes.
	kindSerialized
)

type nullMode uint8

const (
	noNulls nullMode = iota
	// a single nullable key whose null goes to a slot outside the table.
	nullSlot
	// a null bitmap packed in front of the keys.
	nullBitmap
	// one null byte in front of every serialized value.
	nullBytes
)

type typeInfo struct {
	name     string
	kind     keyKind
	width    int
	nulls    nullMode
	lc       bool
	prealloc bool
	twoLevel bool
	hash64   bool
	// two level form of a convertible single level type.
	toTwoLevel Type
}

var typeInfos = [numTypes]typeInfo{
	Empty:      {name: "EMPTY"},
	WithoutKey: {name: "without_key"},

	Key8:                       {name: "key8", kind: kindFixed, width: 1},
	Key16:                      {name: "key16", kind: kindFixed, width: 2},
	Key32:                      {name: "key32", kind: kindFixed, width: 4, toTwoLevel: Key32TwoLevel},
	Key64:                      {name: "key64", kind: kindFixed, width: 8, toTwoLevel: Key64TwoLevel},
	KeyString:                  {name: "key_string", kind: kindString, toTwoLevel: KeyStringTwoLevel},
	KeyFixedString:             {name: "key_fixed_string", kind: kindString, toTwoLevel: KeyFixedStringTwoLevel},
	Keys16:                     {name: "keys16", kind: kindFixed, width: 2},
	Keys32:                     {name: "keys32", kind: kindFixed, width: 4, toTwoLevel: Keys32TwoLevel},
	Keys64:                     {name: "keys64", kind: kindFixed, width: 8, toTwoLevel: Keys64TwoLevel},
	Keys128:                    {name: "keys128", kind: kindFixed, width: 16, toTwoLevel: Keys128TwoLevel},
	Keys256:                    {name: "keys256", kind: kindFixed, width: 32, toTwoLevel: Keys256TwoLevel},
	Serialized:                 {name: "serialized", kind: kindSerialized, toTwoLevel: SerializedTwoLevel},
	PreallocSerialized:         {name: "prealloc_serialized", kind: kindSerialized, prealloc: true, toTwoLevel: PreallocSerializedTwoLevel},
	NullableSerialized:         {name: "nullable_serialized", kind: kindSerialized, nulls: nullBytes, toTwoLevel: NullableSerializedTwoLevel},
	NullablePreallocSerialized: {name: "nullable_prealloc_serialized", kind: kindSerialized, nulls: nullBytes, prealloc: true, toTwoLevel: NullablePreallocSerializedTwoLevel},

	Key32TwoLevel:                      {name: "key32_two_level", kind: kindFixed, width: 4, twoLevel: true},
	Key64TwoLevel:                      {name: "key64_two_level", kind: kindFixed, width: 8, twoLevel: true},
	KeyStringTwoLevel:                  {name: "key_string_two_level", kind: kindString, twoLevel: true},
	KeyFixedStringTwoLevel:             {name: "key_fixed_string_two_level", kind: kindString, twoLevel: true},
	Keys32TwoLevel:                     {name: "keys32_two_level", kind: kindFixed, width: 4, twoLevel: true},
	Keys64TwoLevel:                     {name: "keys64_two_level", kind: kindFixed, width: 8, twoLevel: true},
	Keys128TwoLevel:                    {name: "keys128_two_level", kind: kindFixed, width: 16, twoLevel: true},
	Keys256TwoLevel:                    {name: "keys256_two_level", kind: kindFixed, width: 32, twoLevel: true},
	SerializedTwoLevel:                 {name: "serialized_two_level", kind: kindSerialized, twoLevel: true},
	PreallocSerializedTwoLevel:         {name: "prealloc_serialized_two_level", kind: kindSerialized, prealloc: true, twoLevel: true},
	NullableSerializedTwoLevel:         {name: "nullable_serialized_two_level", kind: kindSerialized, nulls: nullBytes, twoLevel: true},
	NullablePreallocSerializedTwoLevel: {name: "nullable_prealloc_serialized_two_level", kind: kindSerialized, nulls: nullBytes, prealloc: true, twoLevel: true},

	Key64Hash64:                      {name: "key64_hash64", kind: kindFixed, width: 8, hash64: true},
	KeyStringHash64:                  {name: "key_string_hash64", kind: kindString, hash64: true},
	KeyFixedStringHash64:             {name: "key_fixed_string_hash64", kind: kindString, hash64: true},
	Keys128Hash64:                    {name: "keys128_hash64", kind: kindFixed, width: 16, hash64: true},
	Keys256Hash64:                    {name: "keys256_hash64", kind: kindFixed, width: 32, hash64: true},
	SerializedHash64:                 {name: "serialized_hash64", kind: kindSerialized, hash64: true},
	PreallocSerializedHash64:         {name: "prealloc_serialized_hash64", kind: kindSerialized, prealloc: true, hash64: true},
	NullableSerializedHash64:         {name: "nullable_serialized_hash64", kind: kindSerialized, nulls: nullBytes, hash64: true},
	NullablePreallocSerializedHash64: {name: "nullable_prealloc_serialized_hash64", kind: kindSerialized, nulls: nullBytes, prealloc: true, hash64: true},

	NullableKey8:                   {name: "nullable_key8", kind: kindFixed, width: 1, nulls: nullSlot},
	NullableKey16:                  {name: "nullable_key16", kind: kindFixed, width: 2, nulls: nullSlot},
	NullableKey32:                  {name: "nullable_key32", kind: kindFixed, width: 4, nulls: nullSlot, toTwoLevel: NullableKey32TwoLevel},
	NullableKey64:                  {name: "nullable_key64", kind: kindFixed, width: 8, nulls: nullSlot, toTwoLevel: NullableKey64TwoLevel},
	NullableKeyString:              {name: "nullable_key_string", kind: kindString, nulls: nullSlot, toTwoLevel: NullableKeyStringTwoLevel},
	NullableKeyFixedString:         {name: "nullable_key_fixed_string", kind: kindString, nulls: nullSlot, toTwoLevel: NullableKeyFixedStringTwoLevel},
	NullableKey32TwoLevel:          {name: "nullable_key32_two_level", kind: kindFixed, width: 4, nulls: nullSlot, twoLevel: true},
	NullableKey64TwoLevel:          {name: "nullable_key64_two_level", kind: kindFixed, width: 8, nulls: nullSlot, twoLevel: true},
	NullableKeyStringTwoLevel:      {name: "nullable_key_string_two_level", kind: kindString, nulls: nullSlot, twoLevel: true},
	NullableKeyFixedStringTwoLevel: {name: "nullable_key_fixed_string_two_level", kind: kindString, nulls: nullSlot, twoLevel: true},

	LowCardinalityKey8:                   {name: "low_cardinality_key8", kind: kindFixed, width: 1, nulls: nullSlot, lc: true},
	LowCardinalityKey16:                  {name: "low_cardinality_key16", kind: kindFixed, width: 2, nulls: nullSlot, lc: true},
	LowCardinalityKey32:                  {name: "low_cardinality_key32", kind: kindFixed, width: 4, nulls: nullSlot, lc: true, toTwoLevel: LowCardinalityKey32TwoLevel},
	LowCardinalityKey64:                  {name: "low_cardinality_key64", kind: kindFixed, width: 8, nulls: nullSlot, lc: true, toTwoLevel: LowCardinalityKey64TwoLevel},
	LowCardinalityKeys128:                {name: "low_cardinality_keys128", kind: kindFixed, width: 16, lc: true, toTwoLevel: LowCardinalityKeys128TwoLevel},
	LowCardinalityKeys256:                {name: "low_cardinality_keys256", kind: kindFixed, width: 32, lc: true, toTwoLevel: LowCardinalityKeys256TwoLevel},
	LowCardinalityKeyString:              {name: "low_cardinality_key_string", kind: kindString, nulls: nullSlot, lc: true, toTwoLevel: LowCardinalityKeyStringTwoLevel},
	LowCardinalityKeyFixedString:         {name: "low_cardinality_key_fixed_string", kind: kindString, nulls: nullSlot, lc: true, toTwoLevel: LowCardinalityKeyFixedStringTwoLevel},
	LowCardinalityKey32TwoLevel:          {name: "low_cardinality_key32_two_level", kind: kindFixed, width: 4, nulls: nullSlot, lc: true, twoLevel: true},
	LowCardinalityKey64TwoLevel:          {name: "low_cardinality_key64_two_level", kind: kindFixed, width: 8, nulls: nullSlot, lc: true, twoLevel: true},
	LowCardinalityKeys128TwoLevel:        {name: "low_cardinality_keys128_two_level", kind: kindFixed, width: 16, lc: true, twoLevel: true},
	LowCardinalityKeys256TwoLevel:        {name: "low_cardinality_keys256_two_level", kind: kindFixed, width: 32, lc: true, twoLevel: true},
	LowCardinalityKeyStringTwoLevel:      {name: "low_cardinality_key_string_two_level", kind: kindString, nulls: nullSlot, lc: true, twoLevel: true},
	LowCardinalityKeyFixedStringTwoLevel: {name: "low_cardinality_key_fixed_string_two_level", kind: kindString, nulls: nullSlot, lc: true, twoLevel: true},

	NullableKeys128:         {name: "nullable_keys128", kind: kindFixed, width: 16, nulls: nullBitmap, toTwoLevel: NullableKeys128TwoLevel},
	NullableKeys256:         {name: "nullable_keys256", kind: kindFixed, width: 32, nulls: nullBitmap, toTwoLevel: NullableKeys256TwoLevel},
	NullableKeys128TwoLevel: {name: "nullable_keys128_two_level", kind: kindFixed, width: 16, nulls: nullBitmap, twoLevel: true},
	NullableKeys256TwoLevel: {name: "nullable_keys256_two_level", kind: kindFixed, width: 32, nulls: nullBitmap, twoLevel: true},
}

// hash64Of maps the types merged from spilled blocks to their strong hash
// form.
var hash64Of = map[Type]Type{
	Key64:                      Key64Hash64,
	KeyString:                  KeyStringHash64,
	KeyFixedString:             KeyFixedStringHash64,
	Keys128:                    Keys128Hash64,
	Keys256:                    Keys256Hash64,
	Serialized:                 SerializedHash64,
	PreallocSerialized:         PreallocSerializedHash64,
	NullableSerialized:         NullableSerializedHash64,
	NullablePreallocSerialized: NullablePreallocSerializedHash64,
}

func (t Type) valid() bool {
	return t < numTypes
}

func (t Type) info() *typeInfo {
	return &typeInfos[t]
}

func (t Type) String() string {
	if !t.valid() {
		return "unknown"
	}
	return typeInfos[t].name
}

func (t Type) IsTwoLevel() bool {
	return t.valid() && typeInfos[t].twoLevel
}

func (t Type) IsConvertibleToTwoLevel() bool {
	return t.valid() && typeInfos[t].toTwoLevel != Empty
}

func (t Type) IsLowCardinality() bool {
	return t.valid() && typeInfos[t].lc
}

// TwoLevel returns the two level form of t, t itself when there is none.
func (t Type) TwoLevel() Type {
	if t.IsConvertibleToTwoLevel() {
		return typeInfos[t].toTwoLevel
	}
	return t
}

// OverflowMode is what happens when a group by goes beyond
// MaxRowsToGroupBy keys.
type OverflowMode uint8

const (
	// OverflowThrow fails the aggregation.
	OverflowThrow OverflowMode = iota
	// OverflowBreak stops it and keeps what was aggregated so far.
	OverflowBreak
	// OverflowAny keeps the key set and aggregates every further new key
	// into the overflow row.
	OverflowAny
)

func (m OverflowMode) String() string {
	switch m {
	case OverflowThrow:
		return "throw"
	case OverflowBreak:
		return "break"
	case OverflowAny:
		return "any"
	}
	return "unknown"
}

func (m *OverflowMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "throw":
		*m = OverflowThrow
	case "break":
		*m = OverflowBreak
	case "any":
		*m = OverflowAny
	default:
		return moerr.NewBadConfigNoCtx("unknown group by overflow mode %q", string(text))
	}
	return nil
}

func (m OverflowMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Params are the limits and switches of one aggregation.
type Params struct {
	// MaxRowsToGroupBy limits the number of keys, 0 means no limit.
	MaxRowsToGroupBy    uint64       `toml:"max-rows-to-group-by"`
	GroupByOverflowMode OverflowMode `toml:"group-by-overflow-mode"`
	// OverflowRow keeps the overflow row from the first block on, even
	// when no key ever overflows.  OverflowAny creates it on demand.
	OverflowRow bool `toml:"overflow-row"`

	GroupByTwoLevelThreshold      uint64 `toml:"group-by-two-level-threshold"`
	GroupByTwoLevelThresholdBytes uint64 `toml:"group-by-two-level-threshold-bytes"`
	// MaxBytesBeforeExternalGroupBy enables spilling, 0 means never.
	MaxBytesBeforeExternalGroupBy uint64             `toml:"max-bytes-before-external-group-by"`
	MinFreeDiskSpace              uint64             `toml:"min-free-disk-space"`
	TmpData                       fileservice.Config `toml:"tmp-data"`

	MaxBlockSize int `toml:"max-block-size"`
	MaxThreads   int `toml:"max-threads"`

	EnablePrefetch                             bool    `toml:"enable-prefetch"`
	OptimizeGroupByConstantKeys                bool    `toml:"optimize-group-by-constant-keys"`
	MinHitRateToUseConsecutiveKeysOptimization float64 `toml:"min-hit-rate-to-use-consecutive-keys-optimization"`
}

func DefaultParams() Params {
	return Params{
		GroupByOverflowMode:           OverflowThrow,
		GroupByTwoLevelThreshold:      100000,
		GroupByTwoLevelThresholdBytes: 50 << 20,
		MaxBlockSize:                  65409,
		MaxThreads:                    runtime.NumCPU(),
		EnablePrefetch:                true,
		OptimizeGroupByConstantKeys:   true,
		MinHitRateToUseConsecutiveKeysOptimization: 0.5,
		TmpData: fileservice.Config{
			Codec: string(fileservice.LZ4Codec),
		},
	}
}

func (p *Params) Validate() error {
	if p.MinHitRateToUseConsecutiveKeysOptimization < 0 || p.MinHitRateToUseConsecutiveKeysOptimization > 1 {
		return moerr.NewBadConfigNoCtx("min-hit-rate-to-use-consecutive-keys-optimization %v is not in [0, 1]",
			p.MinHitRateToUseConsecutiveKeysOptimization)
	}
	if p.MaxBlockSize <= 0 {
		return moerr.NewBadConfigNoCtx("max-block-size must be positive, got %d", p.MaxBlockSize)
	}
	if p.MaxThreads < 0 {
		return moerr.NewBadConfigNoCtx("max-threads must not be negative, got %d", p.MaxThreads)
	}
	if p.GroupByOverflowMode > OverflowAny {
		return moerr.NewBadConfigNoCtx("unknown group by overflow mode %d", p.GroupByOverflowMode)
	}
	return p.TmpData.Validate()
}

// AggregateDescription is one aggregate of a group by: the function, the
// columns it reads and the name of its result.
type AggregateDescription struct {
	Function      aggexec.AggregateFunction
	ArgumentNames []string
	ColumnName    string
}
