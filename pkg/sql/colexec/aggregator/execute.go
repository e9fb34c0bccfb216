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
	"math"
	"time"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

const (
	// tables smaller than this fit in the caches, prefetching is useless.
	minBytesForPrefetch = 4 * (256 << 10)

	defaultPrefetchLookAhead = 16
	minPrefetchLookAhead     = 4
	maxPrefetchLookAhead     = 32
	iterationsToMeasure      = 100
	assumedPrefetchLatency   = 100 * time.Nanosecond
)

// prefetchHelper measures the first rows of a block to pick how far ahead
// of the current row the table is prefetched.
type prefetchHelper struct {
	start     time.Time
	lookAhead int
}

func newPrefetchHelper() *prefetchHelper {
	return &prefetchHelper{start: time.Now(), lookAhead: defaultPrefetchLookAhead}
}

func (h *prefetchHelper) calcLookAhead() int {
	perRow := float64(time.Since(h.start)) / iterationsToMeasure
	if perRow <= 0 {
		return maxPrefetchLookAhead
	}
	n := int(math.Ceil(float64(assumedPrefetchLatency) / perRow))
	if n < minPrefetchLookAhead {
		n = minPrefetchLookAhead
	}
	if n > maxPrefetchLookAhead {
		n = maxPrefetchLookAhead
	}
	return n
}

// ExecuteOnBlock aggregates rows [rowBegin, rowEnd) of bat into result.
// It returns false when the aggregation must stop, either because
// max_rows_to_group_by was hit in break mode or on error.  noMoreKeys is
// set once the key set is frozen in any mode.
func (a *Aggregator) ExecuteOnBlock(bat *batch.Batch, rowBegin, rowEnd int, result *AggregatedDataVariants, noMoreKeys *bool) (bool, error) {
	if noMoreKeys == nil {
		noMoreKeys = new(bool)
	}
	if result.Empty() {
		if err := a.initVariant(result, a.method); err != nil {
			return false, err
		}
		logutil.Debugf("Aggregation method: %s", result.MethodName())
	}
	if rowBegin < 0 || rowEnd > bat.RowCount() || rowBegin > rowEnd {
		return false, moerr.NewInvalidInputNoCtx("rows [%d, %d) out of a block of %d rows", rowBegin, rowEnd, bat.RowCount())
	}
	keys, err := a.keyColumns(bat)
	if err != nil {
		return false, err
	}
	args, err := a.argColumns(bat)
	if err != nil {
		return false, err
	}

	keepOverflow := a.needsOverflowRow(*noMoreKeys)
	if (keepOverflow || result.typ == WithoutKey) && result.withoutKey == nil {
		if result.withoutKey, err = a.createPlace(result.arena); err != nil {
			return false, err
		}
	}

	if result.typ == WithoutKey {
		err = a.addRowsToPlace(result.withoutKey, rowBegin, rowEnd, args, result.arena)
	} else {
		var overflow *aggexec.Place
		if keepOverflow {
			overflow = result.withoutKey
		}
		allConst := a.params.OptimizeGroupByConstantKeys && allConstant(keys)
		err = a.executeImpl(result, rowBegin, rowEnd, keys, args, *noMoreKeys, allConst, overflow)
	}
	if err != nil {
		return false, err
	}
	return a.afterBlock(result, noMoreKeys)
}

func allConstant(cols []*vector.Vector) bool {
	for _, col := range cols {
		if !col.IsConst() {
			return false
		}
	}
	return len(cols) > 0
}

// afterBlock converts result to two level, checks the limits and spills,
// in this order.
func (a *Aggregator) afterBlock(result *AggregatedDataVariants, noMoreKeys *bool) (bool, error) {
	size := result.Size()
	mem := currentMemoryUsage(a)
	bytes := mem - a.memBaseline
	worth := a.worthConvertToTwoLevel(size, bytes)
	if result.IsConvertibleToTwoLevel() && worth {
		if err := result.ConvertToTwoLevel(); err != nil {
			return false, err
		}
		logutil.Debugf("Converted aggregation data to two level: %d keys, %d bytes", size, bytes)
	}

	if ok, err := a.checkLimits(size, noMoreKeys); !ok || err != nil {
		return false, err
	}

	if a.params.MaxBytesBeforeExternalGroupBy > 0 && result.IsTwoLevel() &&
		mem > int64(a.params.MaxBytesBeforeExternalGroupBy) && worth {
		if err := a.WriteToTemporaryFile(result, uint64(mem)+a.params.MinFreeDiskSpace); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (a *Aggregator) worthConvertToTwoLevel(size uint64, bytes int64) bool {
	return (a.params.GroupByTwoLevelThreshold > 0 && size >= a.params.GroupByTwoLevelThreshold) ||
		(a.params.GroupByTwoLevelThresholdBytes > 0 && bytes >= int64(a.params.GroupByTwoLevelThresholdBytes))
}

// checkLimits applies the overflow mode once the number of keys goes past
// max_rows_to_group_by.  It returns false when the aggregation must stop.
func (a *Aggregator) checkLimits(size uint64, noMoreKeys *bool) (bool, error) {
	limit := a.params.MaxRowsToGroupBy
	if *noMoreKeys || limit == 0 || size <= limit {
		return true, nil
	}
	switch a.params.GroupByOverflowMode {
	case OverflowThrow:
		return false, moerr.NewTooManyRowsNoCtx(size, limit)
	case OverflowBreak:
		return false, nil
	case OverflowAny:
		*noMoreKeys = true
		return true, nil
	}
	return false, moerr.NewLogicalErrorNoCtx("unknown group by overflow mode %d", a.params.GroupByOverflowMode)
}

// useConsecutiveCache is true while the previous key was a good guess
// often enough.
func (a *Aggregator) useConsecutiveCache(v *AggregatedDataVariants) bool {
	hits, misses := v.cacheStats()
	if hits+misses == 0 {
		return true
	}
	return float64(hits)/float64(hits+misses) >= a.params.MinHitRateToUseConsecutiveKeysOptimization
}

func (a *Aggregator) addRowsToPlace(p *aggexec.Place, rowBegin, rowEnd int, args [][]*vector.Vector, ar *arena.Arena) error {
	for i, fn := range a.fns {
		s := p.State(&a.layout, i)
		if adder, ok := fn.(aggexec.SinglePlaceAdder); ok {
			if err := adder.AddBatchSinglePlace(s, rowBegin, rowEnd, args[i], ar); err != nil {
				return err
			}
			continue
		}
		for row := rowBegin; row < rowEnd; row++ {
			if err := fn.Add(s, args[i], row, ar); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookup returns the place of row: the place of its key, created if
// needed, or with noMoreKeys the place of an existing key and overflow
// otherwise.  overflow may be nil, the row is skipped then.
func lookup(m keyMethod, row int, ar *arena.Arena, noMoreKeys bool, overflow *aggexec.Place,
	create func() (*aggexec.Place, error)) (*aggexec.Place, error) {
	if !noMoreKeys {
		return m.emplace(row, ar, create)
	}
	p, found, err := m.find(row, ar)
	if err != nil || found {
		return p, err
	}
	return overflow, nil
}

func (a *Aggregator) executeImpl(v *AggregatedDataVariants, rowBegin, rowEnd int, keys []*vector.Vector, args [][]*vector.Vector,
	noMoreKeys, allConst bool, overflow *aggexec.Place) error {
	m := v.method
	if err := m.prepare(keys, a.useConsecutiveCache(v)); err != nil {
		return err
	}
	create := func() (*aggexec.Place, error) {
		return a.createPlace(v.arena)
	}

	if allConst {
		if rowBegin == rowEnd {
			return nil
		}
		if len(a.fns) == 0 && noMoreKeys {
			return nil
		}
		p, err := lookup(m, rowBegin, v.arena, noMoreKeys, overflow, create)
		if err != nil || p == nil {
			return err
		}
		return a.addRowsToPlace(p, rowBegin, rowEnd, args, v.arena)
	}

	if len(a.fns) == 0 {
		if noMoreKeys {
			return nil
		}
		for row := rowBegin; row < rowEnd; row++ {
			if _, err := m.emplace(row, v.arena, create); err != nil {
				return err
			}
		}
		return nil
	}

	var prefetch *prefetchHelper
	if a.params.EnablePrefetch && m.cheapKeys() && m.bufferSize() > minBytesForPrefetch {
		prefetch = newPrefetchHelper()
	}
	places := make([]*aggexec.Place, rowEnd-rowBegin)
	for row := rowBegin; row < rowEnd; row++ {
		if prefetch != nil {
			if row == rowBegin+iterationsToMeasure {
				prefetch.lookAhead = prefetch.calcLookAhead()
			}
			if ahead := row + prefetch.lookAhead; ahead < rowEnd {
				m.prefetch(ahead)
			}
		}
		p, err := lookup(m, row, v.arena, noMoreKeys, overflow, create)
		if err != nil {
			return err
		}
		places[row-rowBegin] = p
	}

	for i, fn := range a.fns {
		for j, p := range places {
			if p == nil {
				continue
			}
			if err := fn.Add(p.State(&a.layout, i), args[i], rowBegin+j, v.arena); err != nil {
				return err
			}
		}
	}
	return nil
}
