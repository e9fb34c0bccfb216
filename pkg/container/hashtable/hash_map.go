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

const (
	kInitialBucketCntBits = 8
	kInitialBucketCnt     = 1 << kInitialBucketCntBits

	kLoadFactorNumerator   = 1
	kLoadFactorDenominator = 2
)

type Cell[K comparable, V any] struct {
	Hash   uint64
	Key    K
	Mapped V
}

// Table is what every hash table of this package offers.  Cell pointers
// are only valid until the next Insert.
type Table[K comparable, V any] interface {
	Insert(hash uint64, key K) (cell *Cell[K, V], inserted bool)
	Find(hash uint64, key K) *Cell[K, V]
	ForEach(fn func(*Cell[K, V]) error) error
	Cardinality() uint64
	BufferSize() int64
	Prefetch(hash uint64) uint64
}

// HashMap is an open addressing hash table with linear probing.  The zero
// key marks an empty cell, so it is kept aside in zeroCell.
type HashMap[K comparable, V any] struct {
	bucketCntBits uint8
	bucketCnt     uint64
	elemCnt       uint64
	maxElemCnt    uint64
	hasZero       bool
	zeroCell      Cell[K, V]
	bucketData    []Cell[K, V]
}

func NewHashMap[K comparable, V any]() *HashMap[K, V] {
	ht := &HashMap[K, V]{}
	ht.Init()
	return ht
}

func (ht *HashMap[K, V]) Init() {
	ht.bucketCntBits = kInitialBucketCntBits
	ht.bucketCnt = kInitialBucketCnt
	ht.elemCnt = 0
	ht.maxElemCnt = kInitialBucketCnt * kLoadFactorNumerator / kLoadFactorDenominator
	ht.hasZero = false
	ht.zeroCell = Cell[K, V]{}
	ht.bucketData = make([]Cell[K, V], kInitialBucketCnt)
}

func (ht *HashMap[K, V]) Insert(hash uint64, key K) (*Cell[K, V], bool) {
	var zero K
	if key == zero {
		if !ht.hasZero {
			ht.hasZero = true
			ht.elemCnt++
			ht.zeroCell.Hash = hash
			return &ht.zeroCell, true
		}
		return &ht.zeroCell, false
	}

	ht.resizeOnDemand(1)

	empty, _, cell := ht.findBucket(hash, key)
	if empty {
		ht.elemCnt++
		cell.Hash = hash
		cell.Key = key
	}
	return cell, empty
}

// Find returns nil if key is absent.
func (ht *HashMap[K, V]) Find(hash uint64, key K) *Cell[K, V] {
	var zero K
	if key == zero {
		if ht.hasZero {
			return &ht.zeroCell
		}
		return nil
	}
	empty, _, cell := ht.findBucket(hash, key)
	if empty {
		return nil
	}
	return cell
}

// Prefetch loads the first cell probed for hash.  The result is
// meaningless, callers fold it into a local so the load is kept.
func (ht *HashMap[K, V]) Prefetch(hash uint64) uint64 {
	return ht.bucketData[hash&(ht.bucketCnt-1)].Hash
}

func (ht *HashMap[K, V]) findBucket(hash uint64, key K) (empty bool, idx uint64, cell *Cell[K, V]) {
	var zero K
	mask := ht.bucketCnt - 1
	var equal bool
	for idx = hash & mask; true; idx = (idx + 1) & mask {
		cell = &ht.bucketData[idx]
		empty, equal = cell.Key == zero, cell.Key == key
		if empty || equal {
			return
		}
	}

	return
}

func (ht *HashMap[K, V]) resizeOnDemand(n int) {
	targetCnt := ht.elemCnt + uint64(n)
	if targetCnt <= ht.maxElemCnt {
		return
	}

	newBucketCntBits := ht.bucketCntBits + 2
	newBucketCnt := uint64(1) << newBucketCntBits
	newMaxElemCnt := newBucketCnt * kLoadFactorNumerator / kLoadFactorDenominator
	for newMaxElemCnt < targetCnt {
		newBucketCntBits++
		newBucketCnt <<= 1
		newMaxElemCnt = newBucketCnt * kLoadFactorNumerator / kLoadFactorDenominator
	}

	oldBucketData := ht.bucketData

	ht.bucketCntBits = newBucketCntBits
	ht.bucketCnt = newBucketCnt
	ht.maxElemCnt = newMaxElemCnt
	ht.bucketData = make([]Cell[K, V], newBucketCnt)

	var zero K
	for i := range oldBucketData {
		cell := &oldBucketData[i]
		if cell.Key != zero {
			_, newIdx, _ := ht.findBucket(cell.Hash, cell.Key)
			ht.bucketData[newIdx] = *cell
		}
	}
}

// ForEach visits every cell, the zero key first.  It stops at the first
// error fn returns.
func (ht *HashMap[K, V]) ForEach(fn func(*Cell[K, V]) error) error {
	if ht.hasZero {
		if err := fn(&ht.zeroCell); err != nil {
			return err
		}
	}
	var zero K
	for i := range ht.bucketData {
		cell := &ht.bucketData[i]
		if cell.Key != zero {
			if err := fn(cell); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ht *HashMap[K, V]) Cardinality() uint64 {
	return ht.elemCnt
}

func (ht *HashMap[K, V]) BufferSize() int64 {
	var c Cell[K, V]
	return int64(ht.bucketCnt) * int64(unsafe.Sizeof(c))
}

// Clear drops every cell and shrinks the table to its initial size.
func (ht *HashMap[K, V]) Clear() {
	ht.Init()
}
