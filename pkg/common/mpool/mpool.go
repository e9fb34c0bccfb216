// Copyright 2022 Matrix Origin
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

package mpool

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
)

// Mo's extremely simple memory pool.  Memory handed out by an MPool is
// ordinary go memory; the pool only does the accounting, so that the
// aggregator can observe how many bytes its arenas and tables are holding
// and react before the process runs out of memory.

// Stats
type MPoolStats struct {
	NumAlloc      atomic.Int64 // number of allocations
	NumFree       atomic.Int64 // number of frees
	NumAllocBytes atomic.Int64 // number of bytes allocated
	NumFreeBytes  atomic.Int64 // number of bytes freed
	NumCurrBytes  atomic.Int64 // current number of bytes
	HighWaterMark atomic.Int64 // high water mark
}

func (s *MPoolStats) Report(tab string) string {
	if s.HighWaterMark.Load() == 0 {
		// empty, reduce noise.
		return ""
	}

	ret := ""
	ret += fmt.Sprintf("%s allocations : %d\n", tab, s.NumAlloc.Load())
	ret += fmt.Sprintf("%s frees : %d\n", tab, s.NumFree.Load())
	ret += fmt.Sprintf("%s alloc bytes : %d\n", tab, s.NumAllocBytes.Load())
	ret += fmt.Sprintf("%s free bytes : %d\n", tab, s.NumFreeBytes.Load())
	ret += fmt.Sprintf("%s current bytes : %d\n", tab, s.NumCurrBytes.Load())
	ret += fmt.Sprintf("%s high water mark : %d\n", tab, s.HighWaterMark.Load())
	return ret
}

func (s *MPoolStats) ReportJson() string {
	if s.HighWaterMark.Load() == 0 {
		return ""
	}
	ret := "{"
	ret += fmt.Sprintf("\"alloc\": %d,", s.NumAlloc.Load())
	ret += fmt.Sprintf("\"free\": %d,", s.NumFree.Load())
	ret += fmt.Sprintf("\"allocBytes\": %d,", s.NumAllocBytes.Load())
	ret += fmt.Sprintf("\"freeBytes\": %d,", s.NumFreeBytes.Load())
	ret += fmt.Sprintf("\"currBytes\": %d,", s.NumCurrBytes.Load())
	ret += fmt.Sprintf("\"highWaterMark\": %d", s.HighWaterMark.Load())
	ret += "}"
	return ret
}

// Update alloc stats, return curr bytes
func (s *MPoolStats) RecordAlloc(tag string, sz int64) int64 {
	s.NumAlloc.Add(1)
	s.NumAllocBytes.Add(sz)
	curr := s.NumCurrBytes.Add(sz)
	for {
		hwm := s.HighWaterMark.Load()
		if curr <= hwm || s.HighWaterMark.CompareAndSwap(hwm, curr) {
			break
		}
	}
	return curr
}

// Update free stats, return curr bytes.
func (s *MPoolStats) RecordFree(tag string, sz int64) int64 {
	if sz < 0 {
		logutil.Errorf("Mem stats, tag %s, free %d bytes", tag, sz)
		panic(moerr.NewInternalErrorNoCtx("mpool freed negative bytes"))
	}
	s.NumFree.Add(1)
	s.NumFreeBytes.Add(sz)
	curr := s.NumCurrBytes.Add(-sz)
	if curr < 0 {
		logutil.Error("Mem stats went negative",
			zap.String("tag", tag),
			zap.Int64("curr", curr))
	}
	return curr
}

// The global mpool stats, every pool reports into it as well.
var globalStats MPoolStats

func GlobalStats() *MPoolStats {
	return &globalStats
}

// MPool is the memory pool.
type MPool struct {
	id    int64
	tag   string
	cap   int64
	stats MPoolStats

	detailMu  sync.Mutex
	detailRec bool
	details   map[string]int64
}

const (
	NoLimit = 0
)

var nextPool atomic.Int64
var globalPools sync.Map

// NewMPool creates a pool.  cap is the number of bytes the pool may hold at
// any moment, NoLimit disables the check.
func NewMPool(tag string, cap int64) (*MPool, error) {
	if cap < 0 {
		return nil, moerr.NewInvalidInputNoCtx("mpool %s: negative cap %d", tag, cap)
	}
	mp := &MPool{
		id:  nextPool.Add(1),
		tag: tag,
		cap: cap,
	}
	globalPools.Store(mp.id, mp)
	return mp, nil
}

// MustNew is used by tests and by tools that cannot do anything sensible
// when a pool cannot be created.
func MustNew(tag string) *MPool {
	mp, err := NewMPool(tag, NoLimit)
	if err != nil {
		panic(err)
	}
	return mp
}

func DeleteMPool(mp *MPool) {
	if mp == nil {
		return
	}
	if curr := mp.stats.NumCurrBytes.Load(); curr != 0 {
		logutil.Warn("mpool deleted with memory in use",
			zap.String("tag", mp.tag),
			zap.Int64("bytes", curr))
	}
	globalPools.Delete(mp.id)
}

func (mp *MPool) Tag() string {
	return mp.tag
}

func (mp *MPool) Cap() int64 {
	if mp.cap == NoLimit {
		return GB * 1024
	}
	return mp.cap
}

func (mp *MPool) Stats() *MPoolStats {
	return &mp.stats
}

func (mp *MPool) CurrNB() int64 {
	return mp.stats.NumCurrBytes.Load()
}

// EnableDetailRecording keeps per caller-supplied key byte counts, see
// AllocWithDetail.
func (mp *MPool) EnableDetailRecording() {
	mp.detailMu.Lock()
	defer mp.detailMu.Unlock()
	mp.detailRec = true
	if mp.details == nil {
		mp.details = make(map[string]int64)
	}
}

func (mp *MPool) Report() string {
	ret := fmt.Sprintf("    mpool stats: %s\n", mp.tag)
	ret += mp.stats.Report("        ")
	return ret
}

func (mp *MPool) ReportJson() string {
	ss := mp.stats.ReportJson()
	if ss == "" {
		return fmt.Sprintf("{\"%s\": \"\"}", mp.tag)
	}
	ret := fmt.Sprintf("{\"%s\": %s", mp.tag, ss)
	mp.detailMu.Lock()
	if mp.detailRec && len(mp.details) > 0 {
		det, err := json.Marshal(mp.details)
		if err == nil {
			ret += fmt.Sprintf(", \"detail\": %s", det)
		}
	}
	mp.detailMu.Unlock()
	ret += "}"
	return ret
}

const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

// Alloc returns a zeroed slice of sz bytes.
func (mp *MPool) Alloc(sz int) ([]byte, error) {
	if sz < 0 || sz > GB {
		return nil, moerr.NewInternalErrorNoCtxf("Invalid alloc size %d", sz)
	}
	if sz == 0 {
		return nil, nil
	}
	n := int64(sz)
	if mp.cap != NoLimit && mp.stats.NumCurrBytes.Load()+n > mp.cap {
		return nil, moerr.NewOOMNoCtx()
	}
	mp.stats.RecordAlloc(mp.tag, n)
	globalStats.RecordAlloc("global", n)
	return make([]byte, sz), nil
}

func (mp *MPool) AllocWithDetail(sz int, key string) ([]byte, error) {
	bs, err := mp.Alloc(sz)
	if err != nil {
		return nil, err
	}
	mp.detailMu.Lock()
	if mp.detailRec {
		mp.details[key] += int64(sz)
	}
	mp.detailMu.Unlock()
	return bs, nil
}

// Free gives back the accounting of a slice returned by Alloc.  The bytes
// themselves are left to the garbage collector.
func (mp *MPool) Free(bs []byte) {
	if bs == nil || cap(bs) == 0 {
		return
	}
	n := int64(cap(bs))
	mp.stats.RecordFree(mp.tag, n)
	globalStats.RecordFree("global", n)
}

// Grow/Realloc keep the old content and zero the new tail.
func (mp *MPool) Realloc(old []byte, sz int) ([]byte, error) {
	if sz <= cap(old) {
		return old[:sz], nil
	}
	bs, err := mp.Alloc(sz)
	if err != nil {
		return old, err
	}
	copy(bs, old)
	mp.Free(old)
	return bs, nil
}

// ReportMemUsage returns a json document of the pools whose tag matches,
// "" means all pools and "global" the process wide counters.
func ReportMemUsage(tag string) string {
	gstat := fmt.Sprintf("{\"global\":%s}", globalStats.ReportJson())
	if tag == "global" {
		return "[" + gstat + "]"
	}

	var poolStats []string
	if tag == "" {
		poolStats = append(poolStats, gstat)
	}
	globalPools.Range(func(k, v any) bool {
		mp := v.(*MPool)
		if tag == "" || tag == mp.tag {
			poolStats = append(poolStats, mp.ReportJson())
		}
		return true
	})

	ret := "["
	for ii, s := range poolStats {
		if ii == 0 {
			ret += s
		} else {
			ret += "," + s
		}
	}
	ret += "]"
	return ret
}
