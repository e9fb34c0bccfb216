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
	"fmt"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestHashMap(t *testing.T) {
	convey.Convey("HashMap with uint64 keys", t, func() {
		ht := NewHashMap[uint64, int]()
		const n = 10000

		for i := uint64(0); i < n; i++ {
			cell, inserted := ht.Insert(IntHash64(i), i)
			convey.So(inserted, convey.ShouldBeTrue)
			cell.Mapped = int(i) * 2
		}
		convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(n))

		convey.Convey("existing keys are found, not inserted", func() {
			for i := uint64(0); i < n; i++ {
				cell, inserted := ht.Insert(IntHash64(i), i)
				convey.So(inserted, convey.ShouldBeFalse)
				convey.So(cell.Mapped, convey.ShouldEqual, int(i)*2)
			}
			convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(n))
		})

		convey.Convey("find", func() {
			convey.So(ht.Find(IntHash64(0), 0), convey.ShouldNotBeNil)
			convey.So(ht.Find(IntHash64(7), 7).Mapped, convey.ShouldEqual, 14)
			convey.So(ht.Find(IntHash64(n+1), n+1), convey.ShouldBeNil)
		})

		convey.Convey("for each visits the zero key first", func() {
			var keys []uint64
			sum := 0
			_ = ht.ForEach(func(c *Cell[uint64, int]) error {
				keys = append(keys, c.Key)
				sum += c.Mapped
				return nil
			})
			convey.So(len(keys), convey.ShouldEqual, n)
			convey.So(keys[0], convey.ShouldEqual, uint64(0))
			convey.So(sum, convey.ShouldEqual, n*(n-1))
		})

		convey.Convey("for each stops on error", func() {
			visited := 0
			err := ht.ForEach(func(c *Cell[uint64, int]) error {
				visited++
				if visited == 3 {
					return fmt.Errorf("stop")
				}
				return nil
			})
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(visited, convey.ShouldEqual, 3)
		})

		convey.Convey("clear shrinks", func() {
			big := ht.BufferSize()
			ht.Clear()
			convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(0))
			convey.So(ht.BufferSize(), convey.ShouldBeLessThan, big)
			convey.So(ht.Find(IntHash64(7), 7), convey.ShouldBeNil)
		})
	})

	convey.Convey("HashMap with string keys", t, func() {
		ht := NewHashMap[string, int]()
		for i := 0; i < 1000; i++ {
			k := fmt.Sprintf("key-%d", i%100)
			cell, _ := ht.Insert(StringHash(k), k)
			cell.Mapped++
		}
		convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(100))
		convey.So(ht.Find(StringHash("key-42"), "key-42").Mapped, convey.ShouldEqual, 10)

		cell, inserted := ht.Insert(StringHash(""), "")
		convey.So(inserted, convey.ShouldBeTrue)
		cell.Mapped = -1
		convey.So(ht.Find(StringHash(""), "").Mapped, convey.ShouldEqual, -1)
	})
}

func TestFixedMap(t *testing.T) {
	convey.Convey("FixedMap with uint8 keys", t, func() {
		ht := NewFixedMap[uint8, string]()
		for i := 0; i < 1000; i++ {
			cell, inserted := ht.Insert(0, uint8(i))
			if i < 256 {
				convey.So(inserted, convey.ShouldBeTrue)
				cell.Mapped = fmt.Sprint(i)
			} else {
				convey.So(inserted, convey.ShouldBeFalse)
			}
		}
		convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(256))
		convey.So(ht.Find(0, 200).Mapped, convey.ShouldEqual, "200")

		var prev = -1
		_ = ht.ForEach(func(c *Cell[uint8, string]) error {
			convey.So(int(c.Key), convey.ShouldBeGreaterThan, prev)
			prev = int(c.Key)
			return nil
		})
	})

	convey.Convey("FixedMap with uint16 keys", t, func() {
		ht := NewFixedMap[uint16, int]()
		convey.So(ht.Find(0, 65535), convey.ShouldBeNil)
		ht.Insert(0, 65535)
		convey.So(ht.Find(0, 65535), convey.ShouldNotBeNil)
		convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(1))
	})
}

func TestTwoLevelHashMap(t *testing.T) {
	convey.Convey("convert a single level table", t, func() {
		src := NewHashMap[uint64, uint64]()
		for i := uint64(0); i < 5000; i++ {
			c, _ := src.Insert(IntHash64(i), i)
			c.Mapped = i + 1
		}
		ht := NewTwoLevelFrom(src)
		convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(5000))

		for i := uint64(0); i < 5000; i++ {
			h := IntHash64(i)
			c := ht.Find(h, i)
			convey.So(c, convey.ShouldNotBeNil)
			convey.So(c.Mapped, convey.ShouldEqual, i+1)
			convey.So(ht.Impls[BucketOf(h)].Find(h, i), convey.ShouldEqual, c)
		}

		convey.Convey("bucket order iteration", func() {
			last := -1
			_ = ht.ForEach(func(c *Cell[uint64, uint64]) error {
				b := BucketOf(c.Hash)
				convey.So(b, convey.ShouldBeGreaterThanOrEqualTo, last)
				last = b
				return nil
			})
		})

		convey.Convey("clear", func() {
			ht.Clear()
			convey.So(ht.Cardinality(), convey.ShouldEqual, uint64(0))
			convey.So(ht.BufferSize(), convey.ShouldEqual, int64(NumBuckets)*NewHashMap[uint64, uint64]().BufferSize())
		})
	})
}
