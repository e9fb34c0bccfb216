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

const (
	BucketBits = 8
	NumBuckets = 1 << BucketBits
	MaxBucket  = NumBuckets - 1
)

// BucketOf picks the bucket of a hash from its top bits, the low bits
// choose the cell inside the bucket.
func BucketOf(hash uint64) int {
	return int(hash >> (64 - BucketBits))
}

// TwoLevelHashMap is NumBuckets independent HashMaps.  Buckets never share
// state, so different goroutines may work on different buckets.
type TwoLevelHashMap[K comparable, V any] struct {
	Impls [NumBuckets]*HashMap[K, V]
}

func NewTwoLevelHashMap[K comparable, V any]() *TwoLevelHashMap[K, V] {
	ht := &TwoLevelHashMap[K, V]{}
	for i := range ht.Impls {
		ht.Impls[i] = NewHashMap[K, V]()
	}
	return ht
}

// NewTwoLevelFrom moves every cell of src into a new two level table.
func NewTwoLevelFrom[K comparable, V any](src *HashMap[K, V]) *TwoLevelHashMap[K, V] {
	ht := NewTwoLevelHashMap[K, V]()
	_ = src.ForEach(func(c *Cell[K, V]) error {
		dst, _ := ht.Insert(c.Hash, c.Key)
		dst.Mapped = c.Mapped
		return nil
	})
	return ht
}

func (ht *TwoLevelHashMap[K, V]) Insert(hash uint64, key K) (*Cell[K, V], bool) {
	return ht.Impls[BucketOf(hash)].Insert(hash, key)
}

func (ht *TwoLevelHashMap[K, V]) Find(hash uint64, key K) *Cell[K, V] {
	return ht.Impls[BucketOf(hash)].Find(hash, key)
}

func (ht *TwoLevelHashMap[K, V]) Prefetch(hash uint64) uint64 {
	return ht.Impls[BucketOf(hash)].Prefetch(hash)
}

// ForEach visits the buckets in order.
func (ht *TwoLevelHashMap[K, V]) ForEach(fn func(*Cell[K, V]) error) error {
	for _, impl := range ht.Impls {
		if err := impl.ForEach(fn); err != nil {
			return err
		}
	}
	return nil
}

func (ht *TwoLevelHashMap[K, V]) Cardinality() uint64 {
	var n uint64
	for _, impl := range ht.Impls {
		n += impl.Cardinality()
	}
	return n
}

func (ht *TwoLevelHashMap[K, V]) BufferSize() int64 {
	var n int64
	for _, impl := range ht.Impls {
		n += impl.BufferSize()
	}
	return n
}

func (ht *TwoLevelHashMap[K, V]) Clear() {
	for _, impl := range ht.Impls {
		impl.Clear()
	}
}
