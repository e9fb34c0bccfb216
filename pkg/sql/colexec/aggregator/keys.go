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
	"encoding/binary"
	"unsafe"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/hashtable"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
)

// keyCodec turns the key columns of a row into a hash table key and back.
type keyCodec[K comparable] interface {
	// prepare binds the key columns of the next block.
	prepare(cols []*vector.Vector) error
	// isNull is only asked by codecs of single nullable keys.
	isNull(row int) bool
	// key builds the key of row.  It may point into the block or into
	// scratch memory until persist is called.
	key(row int, a *arena.Arena) (K, error)
	// persist makes k own its memory, it is called once k got inserted.
	persist(k K, a *arena.Arena) (K, error)
	// release gives back what key took when k was not inserted.
	release(k K, a *arena.Arena)
	// decode appends k to the key columns.
	decode(k K, cols []*vector.Vector, mp *mpool.MPool) error
	// cheap is true when building a key allocates nothing.
	cheap() bool
	clone() keyCodec[K]
}

type fixedKey interface {
	uint8 | uint16 | uint32 | uint64 | [2]uint64 | [4]uint64
}

func bytesOf[K fixedKey](k *K) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(k)), unsafe.Sizeof(*k))
}

// hashFixed is the hash of the integer encodings.
func hashFixed[K fixedKey](k K) uint64 {
	switch v := any(k).(type) {
	case uint8:
		return hashtable.IntHash64(uint64(v))
	case uint16:
		return hashtable.IntHash64(uint64(v))
	case uint32:
		return hashtable.IntHash64(uint64(v))
	case uint64:
		return hashtable.IntHash64(v)
	case [2]uint64:
		return hashtable.Int128Hash(v)
	case [4]uint64:
		return hashtable.Int256Hash(v)
	}
	panic(moerr.NewLogicalErrorNoCtx("hash of an unexpected key type"))
}

// hash64Fixed hashes the bytes of k with the serialized key hash.
func hash64Fixed[K fixedKey](k K) uint64 {
	return hashtable.SerializedHash(bytesOf(&k))
}

func hashString(k string) uint64 {
	return hashtable.StringHash(k)
}

func hash64String(k string) uint64 {
	return hashtable.SerializedHash(unsafe.Slice(unsafe.StringData(k), len(k)))
}

// nullMapSize is the length of the null bitmap in front of nullable
// packed keys.
func nullMapSize[K fixedKey]() int {
	var k K
	switch unsafe.Sizeof(k) {
	case 32:
		return 4
	case 16:
		return 2
	case 8, 4:
		return 1
	}
	return 0
}

// fixedCodec packs the values of fixed length columns side by side into
// an integer.  With a null bitmap the first bytes flag the null columns,
// whose values are left zero.
type fixedCodec[K fixedKey] struct {
	cols      []*vector.Vector
	sizes     []int
	nulls     nullMode
	bitmapLen int
}

func newFixedCodec[K fixedKey](sizes []int, nulls nullMode) *fixedCodec[K] {
	c := &fixedCodec[K]{sizes: sizes, nulls: nulls}
	if nulls == nullBitmap {
		c.bitmapLen = nullMapSize[K]()
	}
	return c
}

func (c *fixedCodec[K]) prepare(cols []*vector.Vector) error {
	c.cols = cols
	return nil
}

func (c *fixedCodec[K]) isNull(row int) bool {
	return c.cols[0].IsNull(uint64(row))
}

func (c *fixedCodec[K]) key(row int, _ *arena.Arena) (K, error) {
	var k K
	buf := bytesOf(&k)
	off := c.bitmapLen
	for i, col := range c.cols {
		if c.nulls == nullBitmap && col.IsNull(uint64(row)) {
			buf[i/8] |= 1 << (i % 8)
		} else {
			copy(buf[off:off+c.sizes[i]], col.GetRawBytesAt(row))
		}
		off += c.sizes[i]
	}
	return k, nil
}

func (c *fixedCodec[K]) persist(k K, _ *arena.Arena) (K, error) {
	return k, nil
}

func (c *fixedCodec[K]) release(K, *arena.Arena) {}

func (c *fixedCodec[K]) decode(k K, cols []*vector.Vector, mp *mpool.MPool) error {
	buf := bytesOf(&k)
	off := c.bitmapLen
	for i, col := range cols {
		null := c.nulls == nullBitmap && buf[i/8]&(1<<(i%8)) != 0
		if err := vector.AppendBytes(col, buf[off:off+c.sizes[i]], null, mp); err != nil {
			return err
		}
		off += c.sizes[i]
	}
	return nil
}

func (c *fixedCodec[K]) cheap() bool {
	return true
}

func (c *fixedCodec[K]) clone() keyCodec[K] {
	return &fixedCodec[K]{sizes: c.sizes, nulls: c.nulls, bitmapLen: c.bitmapLen}
}

// stringCodec keys a single string or fixed string column by its bytes.
type stringCodec struct {
	col *vector.Vector
}

func (c *stringCodec) prepare(cols []*vector.Vector) error {
	c.col = cols[0]
	return nil
}

func (c *stringCodec) isNull(row int) bool {
	return c.col.IsNull(uint64(row))
}

func (c *stringCodec) key(row int, _ *arena.Arena) (string, error) {
	b := c.col.GetRawBytesAt(row)
	return unsafe.String(unsafe.SliceData(b), len(b)), nil
}

func (c *stringCodec) persist(k string, a *arena.Arena) (string, error) {
	if len(k) == 0 {
		return "", nil
	}
	b, err := a.Insert(unsafe.Slice(unsafe.StringData(k), len(k)))
	if err != nil {
		return "", err
	}
	return unsafe.String(unsafe.SliceData(b), len(b)), nil
}

func (c *stringCodec) release(string, *arena.Arena) {}

func (c *stringCodec) decode(k string, cols []*vector.Vector, mp *mpool.MPool) error {
	return vector.AppendString(cols[0], k, false, mp)
}

func (c *stringCodec) cheap() bool {
	return true
}

func (c *stringCodec) clone() keyCodec[string] {
	return &stringCodec{}
}

// serializedCodec writes the key tuple as bytes: fixed values as they are,
// strings as a uvarint length and the content.  The nullable form puts a
// null flag in front of every value.
//
// Without prealloc each key is written straight into the arena and given
// back when it turns out to exist already.  With prealloc the whole block
// is written once and only inserted keys are copied to the arena.
type serializedCodec struct {
	cols     []*vector.Vector
	nullable bool
	prealloc bool

	buf     []byte
	offsets []int
}

func newSerializedCodec(nullable, prealloc bool) *serializedCodec {
	return &serializedCodec{nullable: nullable, prealloc: prealloc}
}

func (c *serializedCodec) prepare(cols []*vector.Vector) error {
	c.cols = cols
	if !c.prealloc {
		return nil
	}
	rows := 0
	if len(cols) > 0 {
		rows = cols[0].Length()
	}
	c.buf = c.buf[:0]
	c.offsets = append(c.offsets[:0], 0)
	for row := 0; row < rows; row++ {
		c.buf = c.appendRow(c.buf, row)
		c.offsets = append(c.offsets, len(c.buf))
	}
	return nil
}

func (c *serializedCodec) appendRow(buf []byte, row int) []byte {
	for _, col := range c.cols {
		buf = c.appendValue(buf, col, row)
	}
	return buf
}

func (c *serializedCodec) appendValue(buf []byte, col *vector.Vector, row int) []byte {
	if c.nullable {
		if col.IsNull(uint64(row)) {
			return append(buf, 1)
		}
		buf = append(buf, 0)
	}
	b := col.GetRawBytesAt(row)
	if col.GetType().IsVarlen() {
		buf = binary.AppendUvarint(buf, uint64(len(b)))
	}
	return append(buf, b...)
}

func (c *serializedCodec) isNull(int) bool {
	return false
}

func (c *serializedCodec) key(row int, a *arena.Arena) (string, error) {
	if c.prealloc {
		b := c.buf[c.offsets[row]:c.offsets[row+1]]
		return unsafe.String(unsafe.SliceData(b), len(b)), nil
	}
	var (
		out []byte
		err error
		tmp [binary.MaxVarintLen64 + 1]byte
	)
	for _, col := range c.cols {
		head := tmp[:0]
		null := c.nullable && col.IsNull(uint64(row))
		if c.nullable {
			if null {
				head = append(head, 1)
			} else {
				head = append(head, 0)
			}
		}
		var val []byte
		if !null {
			val = col.GetRawBytesAt(row)
			if col.GetType().IsVarlen() {
				head = binary.AppendUvarint(head, uint64(len(val)))
			}
		}
		pos := len(out)
		if out, err = a.AllocContinue(out, len(head)+len(val)); err != nil {
			return "", err
		}
		pos += copy(out[pos:], head)
		copy(out[pos:], val)
	}
	return unsafe.String(unsafe.SliceData(out), len(out)), nil
}

func (c *serializedCodec) persist(k string, a *arena.Arena) (string, error) {
	if !c.prealloc || len(k) == 0 {
		return k, nil
	}
	b, err := a.Insert(unsafe.Slice(unsafe.StringData(k), len(k)))
	if err != nil {
		return "", err
	}
	return unsafe.String(unsafe.SliceData(b), len(b)), nil
}

func (c *serializedCodec) release(k string, a *arena.Arena) {
	if !c.prealloc && len(k) > 0 {
		a.Rollback(len(k))
	}
}

func (c *serializedCodec) decode(k string, cols []*vector.Vector, mp *mpool.MPool) error {
	data := unsafe.Slice(unsafe.StringData(k), len(k))
	for _, col := range cols {
		if c.nullable {
			if len(data) == 0 {
				return moerr.NewInternalErrorNoCtx("truncated serialized key")
			}
			null := data[0] == 1
			data = data[1:]
			if null {
				if err := vector.AppendBytes(col, nil, true, mp); err != nil {
					return err
				}
				continue
			}
		}
		n := col.GetType().TypeSize()
		if col.GetType().IsVarlen() {
			l, m := binary.Uvarint(data)
			if m <= 0 {
				return moerr.NewInternalErrorNoCtx("bad length in serialized key")
			}
			data = data[m:]
			n = int(l)
		}
		if n > len(data) {
			return moerr.NewInternalErrorNoCtx("truncated serialized key")
		}
		if err := vector.AppendBytes(col, data[:n], false, mp); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (c *serializedCodec) cheap() bool {
	return false
}

func (c *serializedCodec) clone() keyCodec[string] {
	return newSerializedCodec(c.nullable, c.prealloc)
}
