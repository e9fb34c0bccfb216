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
	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// AggregatedDataVariants is the result of aggregating a stream: the key
// table of the chosen encoding, the place of the overflow row or of the
// single row when there is no key, and the arenas their memory lives in.
//
// The zero value is an Empty variant, the first block executed on it
// picks the encoding.
type AggregatedDataVariants struct {
	typ    Type
	method keyMethod

	withoutKey *aggexec.Place

	// arena new places are taken from, arenas holds every arena of this
	// variant including the ones adopted from merged variants.
	arena  *arena.Arena
	arenas []*arena.Arena

	fns    []aggexec.AggregateFunction
	layout *aggexec.Layout
}

func NewAggregatedDataVariants() *AggregatedDataVariants {
	return &AggregatedDataVariants{}
}

// init gives an Empty variant its encoding.
func (v *AggregatedDataVariants) init(t Type, keySizes []int) error {
	if !t.valid() || t == Empty {
		return moerr.NewUnknownAggregatedDataVariantNoCtx(int(t))
	}
	v.typ = t
	if t == WithoutKey {
		return nil
	}
	m, err := newMethod(t, keySizes)
	if err != nil {
		return err
	}
	v.method = m
	return nil
}

func (v *AggregatedDataVariants) Type() Type {
	return v.typ
}

func (v *AggregatedDataVariants) MethodName() string {
	return v.typ.String()
}

func (v *AggregatedDataVariants) Empty() bool {
	return v.typ == Empty
}

// Size is the number of keys, the overflow row excluded.
func (v *AggregatedDataVariants) Size() uint64 {
	switch {
	case v.typ == Empty:
		return 0
	case v.typ == WithoutKey:
		if v.withoutKey != nil {
			return 1
		}
		return 0
	}
	return v.method.size()
}

func (v *AggregatedDataVariants) IsTwoLevel() bool {
	return v.typ.IsTwoLevel()
}

func (v *AggregatedDataVariants) IsConvertibleToTwoLevel() bool {
	return v.typ.IsConvertibleToTwoLevel()
}

// ConvertToTwoLevel splits the key table into buckets, places are kept.
func (v *AggregatedDataVariants) ConvertToTwoLevel() error {
	if v.IsTwoLevel() {
		return nil
	}
	if !v.IsConvertibleToTwoLevel() {
		return moerr.NewLogicalErrorNoCtx("variant %s can not be converted to two level", v.typ)
	}
	if err := v.method.convertToTwoLevel(); err != nil {
		return err
	}
	v.typ = v.typ.TwoLevel()
	return nil
}

func (v *AggregatedDataVariants) Arenas() []*arena.Arena {
	return v.arenas
}

func (v *AggregatedDataVariants) addArena(a *arena.Arena) {
	for _, x := range v.arenas {
		if x == a {
			return
		}
	}
	v.arenas = append(v.arenas, a)
}

// Destroy destroys every aggregate state still owned by the variant.  It
// can be called more than once.
func (v *AggregatedDataVariants) Destroy() {
	if v.withoutKey != nil {
		aggexec.DestroyPlace(v.fns, v.layout, v.withoutKey)
		v.withoutKey = nil
	}
	if v.method != nil {
		v.method.destroy(v.fns, v.layout)
	}
}

func (v *AggregatedDataVariants) cacheStats() (uint64, uint64) {
	if v.method == nil {
		return 0, 0
	}
	return v.method.cacheStats()
}

func newMethod(t Type, keySizes []int) (keyMethod, error) {
	info := t.info()
	switch info.kind {
	case kindFixed:
		switch info.width {
		case 1:
			return newFixedMapMethod[uint8](newFixedCodec[uint8](keySizes, info.nulls), info), nil
		case 2:
			return newFixedMapMethod[uint16](newFixedCodec[uint16](keySizes, info.nulls), info), nil
		case 4:
			return newFixedMethod[uint32](keySizes, info), nil
		case 8:
			return newFixedMethod[uint64](keySizes, info), nil
		case 16:
			return newFixedMethod[[2]uint64](keySizes, info), nil
		case 32:
			return newFixedMethod[[4]uint64](keySizes, info), nil
		}
	case kindString:
		hash := hashString
		if info.hash64 {
			hash = hash64String
		}
		return newHashMethod[string](&stringCodec{}, hash, info), nil
	case kindSerialized:
		hash := hashString
		if info.hash64 {
			hash = hash64String
		}
		return newHashMethod[string](newSerializedCodec(info.nulls == nullBytes, info.prealloc), hash, info), nil
	}
	return nil, moerr.NewUnknownAggregatedDataVariantNoCtx(int(t))
}

func newFixedMethod[K fixedKey](keySizes []int, info *typeInfo) keyMethod {
	hash := hashFixed[K]
	if info.hash64 {
		hash = hash64Fixed[K]
	}
	return newHashMethod[K](newFixedCodec[K](keySizes, info.nulls), hash, info)
}
