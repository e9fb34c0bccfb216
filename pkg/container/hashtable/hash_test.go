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
	"testing"

	"github.com/stretchr/testify/require"
)

var golden = []string{
	"Discard medicine more than two years old.",
	"He who has a shady past knows that nice guys finish last.",
	"I wouldn't marry him with a ten foot pole.",
	"Free! Free!/A trip/to Mars/for 900/empty jars/Burma Shave",
	"The days of the digital watch are numbered.  -Tom Stoppard",
	"Nepal premier won't resign.",
	"",
	"a",
	"ab",
	"abcd",
	"abcdefg",
}

func TestHashFn(t *testing.T) {
	seen := make(map[uint64]string)
	for _, g := range golden {
		h := BytesHash([]byte(g))
		require.Equal(t, h, BytesHash([]byte(g)), g)
		if prev, ok := seen[h]; ok {
			t.Errorf("BytesHash(%q) collides with %q", g, prev)
		}
		seen[h] = g

		require.Equal(t, StringHash(g), StringHash(string([]byte(g))))
		require.Equal(t, SerializedHash([]byte(g)), SerializedHash([]byte(g)))
		require.Equal(t, Fingerprint128([]byte(g)), Fingerprint128([]byte(g)))
	}
	require.NotEqual(t, IntHash64(1), IntHash64(2))
	require.NotEqual(t, Int128Hash([2]uint64{1, 2}), Int128Hash([2]uint64{2, 1}))
	require.NotEqual(t, Int256Hash([4]uint64{1, 2, 3, 4}), Int256Hash([4]uint64{1, 2, 4, 3}))
}

func TestBucketSpread(t *testing.T) {
	var counts [NumBuckets]int
	for i := uint64(0); i < 1<<16; i++ {
		counts[BucketOf(IntHash64(i))]++
	}
	for b, n := range counts {
		// 256 expected per bucket.
		require.True(t, n > 128 && n < 512, "bucket %d got %d", b, n)
	}
}
