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

package hashtable

import (
	"unsafe"
)

// FixedMap is a direct mapped table for 8 and 16 bit keys, the key is the
// index of its cell.
type FixedMap[K uint8 | uint16, V any] struct {
	elemCnt    uint64
	used       []bool
	bucketData []Cell[K, V]
}

func NewFixedMap[K uint8 | uint16, V any]() *FixedMap[K, V] {
	ht := &FixedMap[K, V]{}
	ht.Init()
	return ht
}

func (ht *FixedMap[K, V]) Init() {
	var k K
	bucketCnt := 1 << (8 * unsafe.Sizeof(k))
	ht.elemCnt = 0
	ht.used = make([]bool, bucketCnt)
	ht.bucketData = make([]Cell[K, V], bucketCnt)
}

func (ht *FixedMap[K, V]) Insert(hash uint64, key K) (*Cell[K, V], bool) {
	cell := &ht.bucketData[key]
	if ht.used[key] {
		return cell, false
	}
	ht.used[key] = true
	ht.elemCnt++
	cell.Hash = hash
	cell.Key = key
	return cell, true
}

func (ht *FixedMap[K, V]) Find(hash uint64, key K) *Cell[K, V] {
	if ht.used[key] {
		return &ht.bucketData[key]
	}
	return nil
}

func (ht *FixedMap[K, V]) Prefetch(hash uint64) uint64 {
	return 0
}

// ForEach visits cells in key order.
func (ht *FixedMap[K, V]) ForEach(fn func(*Cell[K, V]) error) error {
	for i := range ht.bucketData {
		if ht.used[i] {
			if err := fn(&ht.bucketData[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ht *FixedMap[K, V]) Cardinality() uint64 {
	return ht.elemCnt
}

func (ht *FixedMap[K, V]) BufferSize() int64 {
	var c Cell[K, V]
	return int64(len(ht.bucketData)) * (int64(unsafe.Sizeof(c)) + 1)
}

func (ht *FixedMap[K, V]) Clear() {
	ht.Init()
}
