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
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/hashtable"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

type mergeMode uint8

const (
	// every key of the source is added to the destination.
	mergeAll mergeMode = iota
	// keys missing in the destination go to the overflow place.
	mergeNoMoreKeys
	// keys missing in the destination are dropped.
	mergeOnlyExisting
)

// keyMethod is the key set of an AggregatedDataVariants, a hash table from
// keys to aggregate places.
type keyMethod interface {
	// prepare binds the key columns of a block.
	prepare(keys []*vector.Vector, useCache bool) error
	// emplace returns the place of the key of row, calling create for a
	// new key.  The mapped value of a new key is nil until create succeeds.
	emplace(row int, a *arena.Arena, create func() (*aggexec.Place, error)) (*aggexec.Place, error)
	// find returns the place of the key of row if the key exists.
	find(row int, a *arena.Arena) (*aggexec.Place, bool, error)
	prefetch(row int)
	cheapKeys() bool
	fork() keyMethod
	// bucketOf is the two level bucket of the key of row.
	bucketOf(row int, a *arena.Arena) (int, error)

	size() uint64
	bufferSize() int64
	isTwoLevel() bool
	convertToTwoLevel() error
	// forEach visits the keys of bucket, every bucket for -1, the null
	// key first.  fn may not touch the table.
	forEach(bucket int, fn func(null bool, p *aggexec.Place) error) error
	// convert appends the keys of bucket to cols and hands each place to
	// fn.  The places are unlinked from the table.
	convert(bucket int, cols []*vector.Vector, mp *mpool.MPool, fn func(*aggexec.Place) error) error
	mergeFrom(src keyMethod, bucket int, mode mergeMode, overflow *aggexec.Place,
		fns []aggexec.AggregateFunction, l *aggexec.Layout, a *arena.Arena) error
	destroy(fns []aggexec.AggregateFunction, l *aggexec.Layout)
	clear()
	cacheStats() (hits, misses uint64)
}

type table[K comparable] interface {
	hashtable.Table[K, *aggexec.Place]
	Clear()
}

// lcCache holds the keys of the entries of a dictionary, so that a low
// cardinality column is hashed once per distinct value.
type lcCache[K comparable] struct {
	dict   *vector.Vector
	index  []uint32
	keys   []K
	hashes []uint64
	nulls  []bool
}

// nullKey is the place of the null key, kept outside the table.
type nullKey struct {
	has   bool
	place *aggexec.Place
}

type method[K comparable] struct {
	codec keyCodec[K]
	hash  func(K) uint64

	single table[K]
	// the single level table when it can be split in buckets.
	hm  *hashtable.HashMap[K, *aggexec.Place]
	two *hashtable.TwoLevelHashMap[K, *aggexec.Place]

	nullable bool
	null     *nullKey

	lc      bool
	lcCache *lcCache[K]

	// the previous key and its place, for runs of equal keys.
	useCache     bool
	lastValid    bool
	lastKey      K
	lastPlace    *aggexec.Place
	hits, misses uint64
}

func newHashMethod[K comparable](codec keyCodec[K], hash func(K) uint64, info *typeInfo) *method[K] {
	m := &method[K]{
		codec:    codec,
		hash:     hash,
		nullable: info.nulls == nullSlot,
		null:     &nullKey{},
		lc:       info.lc,
	}
	if info.twoLevel {
		m.two = hashtable.NewTwoLevelHashMap[K, *aggexec.Place]()
	} else {
		m.hm = hashtable.NewHashMap[K, *aggexec.Place]()
		m.single = m.hm
	}
	return m
}

func newFixedMapMethod[K uint8 | uint16](codec keyCodec[K], info *typeInfo) *method[K] {
	return &method[K]{
		codec:    codec,
		hash:     func(K) uint64 { return 0 },
		single:   hashtable.NewFixedMap[K, *aggexec.Place](),
		nullable: info.nulls == nullSlot,
		null:     &nullKey{},
		lc:       info.lc,
	}
}

// fork returns a method over the same tables with its own codec and
// cache, for a worker that only touches its own buckets.
func (m *method[K]) fork() keyMethod {
	return &method[K]{
		codec:    m.codec.clone(),
		hash:     m.hash,
		single:   m.single,
		hm:       m.hm,
		two:      m.two,
		nullable: m.nullable,
		null:     m.null,
		lc:       m.lc,
	}
}

func (m *method[K]) table() hashtable.Table[K, *aggexec.Place] {
	if m.two != nil {
		return m.two
	}
	return m.single
}

func (m *method[K]) prepare(keys []*vector.Vector, useCache bool) error {
	m.useCache = useCache
	m.lastValid = false
	m.lastPlace = nil
	if m.lc && len(keys) == 1 && keys[0].IsDist() {
		return m.prepareDict(keys[0])
	}
	m.lcCache = nil
	return m.codec.prepare(keys)
}

func (m *method[K]) prepareDict(col *vector.Vector) error {
	dict := col.Dict()
	if m.lcCache != nil && m.lcCache.dict == dict {
		m.lcCache.index = col.Index()
		return nil
	}
	if err := m.codec.prepare([]*vector.Vector{dict}); err != nil {
		return err
	}
	n := dict.Length()
	c := &lcCache[K]{
		dict:   dict,
		index:  col.Index(),
		keys:   make([]K, n),
		hashes: make([]uint64, n),
		nulls:  make([]bool, n),
	}
	for i := 0; i < n; i++ {
		if m.nullable && m.codec.isNull(i) {
			c.nulls[i] = true
			continue
		}
		k, err := m.codec.key(i, nil)
		if err != nil {
			return err
		}
		c.keys[i] = k
		c.hashes[i] = m.hash(k)
	}
	m.lcCache = c
	return nil
}

func (m *method[K]) isNull(row int) bool {
	if !m.nullable {
		return false
	}
	if m.lcCache != nil {
		return m.lcCache.nulls[m.lcCache.index[row]]
	}
	return m.codec.isNull(row)
}

func (m *method[K]) rowKey(row int, a *arena.Arena) (K, uint64, error) {
	if m.lcCache != nil {
		i := m.lcCache.index[row]
		return m.lcCache.keys[i], m.lcCache.hashes[i], nil
	}
	k, err := m.codec.key(row, a)
	if err != nil {
		return k, 0, err
	}
	return k, m.hash(k), nil
}

func (m *method[K]) emplaceNull(create func() (*aggexec.Place, error)) (*aggexec.Place, error) {
	if !m.null.has {
		p, err := create()
		if err != nil {
			return nil, err
		}
		m.null.has = true
		m.null.place = p
	}
	return m.null.place, nil
}

func (m *method[K]) emplace(row int, a *arena.Arena, create func() (*aggexec.Place, error)) (*aggexec.Place, error) {
	if m.isNull(row) {
		return m.emplaceNull(create)
	}
	k, h, err := m.rowKey(row, a)
	if err != nil {
		return nil, err
	}
	if m.lookupLast(k) {
		m.release(k, a)
		return m.lastPlace, nil
	}
	cell, inserted := m.table().Insert(h, k)
	if inserted {
		cell.Mapped = nil
		if cell.Key, err = m.codec.persist(k, a); err != nil {
			return nil, err
		}
	} else {
		m.release(k, a)
	}
	if cell.Mapped == nil {
		p, err := create()
		if err != nil {
			return nil, err
		}
		cell.Mapped = p
	}
	m.lastValid, m.lastKey, m.lastPlace = true, cell.Key, cell.Mapped
	return cell.Mapped, nil
}

// lookupLast counts a hit when k is the key of the previous row, and
// tells whether the remembered place may be used.
func (m *method[K]) lookupLast(k K) bool {
	if m.lastValid && m.lastKey == k {
		m.hits++
		return m.useCache
	}
	m.misses++
	return false
}

func (m *method[K]) find(row int, a *arena.Arena) (*aggexec.Place, bool, error) {
	if m.isNull(row) {
		return m.null.place, m.null.has, nil
	}
	k, h, err := m.rowKey(row, a)
	if err != nil {
		return nil, false, err
	}
	defer m.release(k, a)
	if m.lookupLast(k) {
		return m.lastPlace, true, nil
	}
	cell := m.table().Find(h, k)
	if cell == nil {
		m.lastValid = false
		return nil, false, nil
	}
	m.lastValid, m.lastKey, m.lastPlace = true, cell.Key, cell.Mapped
	return cell.Mapped, true, nil
}

func (m *method[K]) release(k K, a *arena.Arena) {
	if m.lcCache == nil {
		m.codec.release(k, a)
	}
}

func (m *method[K]) prefetch(row int) {
	if m.isNull(row) {
		return
	}
	k, h, err := m.rowKey(row, nil)
	if err != nil {
		return
	}
	m.release(k, nil)
	m.table().Prefetch(h)
}

func (m *method[K]) cheapKeys() bool {
	return m.lcCache != nil || m.codec.cheap()
}

func (m *method[K]) bucketOf(row int, a *arena.Arena) (int, error) {
	if m.isNull(row) {
		return 0, nil
	}
	k, h, err := m.rowKey(row, a)
	if err != nil {
		return 0, err
	}
	m.release(k, a)
	return hashtable.BucketOf(h), nil
}

func (m *method[K]) size() uint64 {
	n := m.table().Cardinality()
	if m.null.has {
		n++
	}
	return n
}

func (m *method[K]) bufferSize() int64 {
	return m.table().BufferSize()
}

func (m *method[K]) isTwoLevel() bool {
	return m.two != nil
}

func (m *method[K]) convertToTwoLevel() error {
	if m.two != nil {
		return nil
	}
	if m.hm == nil {
		return moerr.NewLogicalErrorNoCtx("conversion to two level of a direct mapped table")
	}
	m.two = hashtable.NewTwoLevelFrom(m.hm)
	m.hm, m.single = nil, nil
	m.lastValid = false
	return nil
}

func (m *method[K]) eachCell(bucket int, fn func(*hashtable.Cell[K, *aggexec.Place]) error) error {
	if bucket >= 0 && m.two != nil {
		return m.two.Impls[bucket].ForEach(fn)
	}
	return m.table().ForEach(fn)
}

// the null key lives in bucket 0.
// withNull is true when bucket holds the null key.  Only the worker of
// bucket 0 may read the null slot during a parallel merge.
func (m *method[K]) withNull(bucket int) bool {
	return bucket <= 0 && m.null.has
}

func (m *method[K]) forEach(bucket int, fn func(null bool, p *aggexec.Place) error) error {
	if m.withNull(bucket) {
		if err := fn(true, m.null.place); err != nil {
			return err
		}
	}
	return m.eachCell(bucket, func(c *hashtable.Cell[K, *aggexec.Place]) error {
		return fn(false, c.Mapped)
	})
}

func (m *method[K]) convert(bucket int, cols []*vector.Vector, mp *mpool.MPool, fn func(*aggexec.Place) error) error {
	if m.withNull(bucket) && m.null.place != nil {
		for _, col := range cols {
			if err := vector.AppendBytes(col, nil, true, mp); err != nil {
				return err
			}
		}
		p := m.null.place
		m.null.place = nil
		if err := fn(p); err != nil {
			return err
		}
	}
	return m.eachCell(bucket, func(c *hashtable.Cell[K, *aggexec.Place]) error {
		if c.Mapped == nil {
			return nil
		}
		if err := m.codec.decode(c.Key, cols, mp); err != nil {
			return err
		}
		p := c.Mapped
		c.Mapped = nil
		return fn(p)
	})
}

func (m *method[K]) mergeFrom(other keyMethod, bucket int, mode mergeMode, overflow *aggexec.Place,
	fns []aggexec.AggregateFunction, l *aggexec.Layout, a *arena.Arena) error {
	src, ok := other.(*method[K])
	if !ok {
		return moerr.NewLogicalErrorNoCtx("merge of hash tables with different key types")
	}
	mergeOne := func(dst, p *aggexec.Place) error {
		err := aggexec.MergePlaces(fns, l, dst, p, a)
		aggexec.DestroyPlace(fns, l, p)
		return err
	}
	// moves p into the table, or merges it into an existing place.
	route := func(dst *aggexec.Place, found bool, p *aggexec.Place) (*aggexec.Place, error) {
		switch {
		case found && dst != nil:
			return dst, mergeOne(dst, p)
		case mode == mergeAll:
			return p, nil
		case mode == mergeNoMoreKeys && overflow != nil:
			return dst, mergeOne(overflow, p)
		default:
			aggexec.DestroyPlace(fns, l, p)
			return dst, nil
		}
	}

	if src.withNull(bucket) && src.null.place != nil {
		p := src.null.place
		*src.null = nullKey{}
		dst, err := route(m.null.place, m.null.has, p)
		if mode == mergeAll && m.null.place == nil {
			m.null.has, m.null.place = true, dst
		}
		if err != nil {
			return err
		}
	}

	var dstTable hashtable.Table[K, *aggexec.Place] = m.table()
	if bucket >= 0 && m.two != nil {
		dstTable = m.two.Impls[bucket]
	}
	err := src.eachCell(bucket, func(c *hashtable.Cell[K, *aggexec.Place]) error {
		p := c.Mapped
		if p == nil {
			return nil
		}
		c.Mapped = nil
		if mode == mergeAll {
			dc, inserted := dstTable.Insert(c.Hash, c.Key)
			if inserted || dc.Mapped == nil {
				dc.Mapped = p
				return nil
			}
			return mergeOne(dc.Mapped, p)
		}
		var dst *aggexec.Place
		dc := dstTable.Find(c.Hash, c.Key)
		if dc != nil {
			dst = dc.Mapped
		}
		_, err := route(dst, dc != nil, p)
		return err
	})
	if err != nil {
		return err
	}
	if bucket >= 0 && src.two != nil {
		src.two.Impls[bucket].Clear()
	} else {
		src.clear()
	}
	return nil
}

func (m *method[K]) destroy(fns []aggexec.AggregateFunction, l *aggexec.Layout) {
	if m.null.has && m.null.place != nil {
		aggexec.DestroyPlace(fns, l, m.null.place)
		m.null.place = nil
	}
	_ = m.table().ForEach(func(c *hashtable.Cell[K, *aggexec.Place]) error {
		if c.Mapped != nil {
			aggexec.DestroyPlace(fns, l, c.Mapped)
			c.Mapped = nil
		}
		return nil
	})
}

func (m *method[K]) clear() {
	if m.two != nil {
		m.two.Clear()
	} else {
		m.single.Clear()
	}
	*m.null = nullKey{}
	m.lastValid, m.lastPlace = false, nil
}

func (m *method[K]) cacheStats() (uint64, uint64) {
	return m.hits, m.misses
}
