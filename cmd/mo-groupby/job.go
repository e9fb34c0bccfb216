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

package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	queue "github.com/yireyun/go-queue"
	"go.uber.org/zap"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/config"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggregator"
)

const (
	blockQueueSize = 64

	minIdle = 10 * time.Microsecond
	maxIdle = time.Millisecond
)

// backoff sleeps between the tries on an empty or full queue, twice as
// long after each miss up to maxIdle.
type backoff struct {
	idle time.Duration
}

func (b *backoff) wait() {
	if b.idle < minIdle {
		b.idle = minIdle
	}
	time.Sleep(b.idle)
	if b.idle *= 2; b.idle > maxIdle {
		b.idle = maxIdle
	}
}

func (b *backoff) reset() {
	b.idle = 0
}

// job is one aggregation of a csv file.
type job struct {
	cfg       *config.Config
	input     string
	columns   string
	keys      []string
	aggs      string
	blockRows int

	// cancelled is set by an interrupt, stopped by a worker that hit an
	// error or the break overflow mode.
	cancelled atomic.Bool
	stopped   atomic.Bool

	errMu sync.Mutex
	err   error
}

func (j *job) cancel() {
	j.cancelled.Store(true)
	j.stopped.Store(true)
}

func (j *job) setErr(err error) {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	if j.err == nil {
		j.err = err
	}
	j.stopped.Store(true)
}

func (j *job) firstErr() error {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	return j.err
}

func (j *job) run(ctx context.Context, out io.Writer) error {
	start := time.Now()
	cols, err := parseColumns(j.columns)
	if err != nil {
		return err
	}
	if j.blockRows <= 0 {
		return moerr.NewInvalidInputNoCtx("block rows must be positive, got %d", j.blockRows)
	}
	mp, err := mpool.NewMPool("mo-groupby-input", mpool.NoLimit)
	if err != nil {
		return err
	}
	defer mpool.DeleteMPool(mp)

	header := headerBlock(cols)
	defer header.Clean(mp)
	descs, err := parseAggregates(j.aggs, header)
	if err != nil {
		return err
	}
	a, err := aggregator.NewAggregator(header, j.keys, descs, j.cfg.Aggregator)
	if err != nil {
		return err
	}
	defer a.Close()

	reader, err := newBlockReader(j.input, cols, j.blockRows, mp)
	if err != nil {
		return err
	}
	defer reader.close()

	variants, rows := j.execute(ctx, a, reader, mp)
	if err := j.firstErr(); err != nil {
		destroyAll(variants)
		return err
	}

	blocks, err := j.finish(ctx, a, variants)
	if err != nil {
		return err
	}
	defer func() {
		for _, bat := range blocks {
			bat.Clean(a.Pool())
		}
	}()

	written, err := writeBlocks(out, blocks)
	if err != nil {
		return err
	}
	stat := a.SpillStat()
	logutil.Info("aggregation done",
		zap.String("method", a.Method().String()),
		zap.Int64("input-rows", rows),
		zap.Int("output-rows", written),
		zap.Int("spill-files", stat.Files),
		zap.Int64("spill-compressed-bytes", stat.CompressedBytes),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// execute feeds the blocks of reader to one worker per thread through a
// queue, every worker aggregates into its own variant.
func (j *job) execute(ctx context.Context, a *aggregator.Aggregator, reader *blockReader, mp *mpool.MPool) ([]*aggregator.AggregatedDataVariants, int64) {
	workers := j.cfg.Aggregator.MaxThreads
	if workers < 1 {
		workers = 1
	}
	q := queue.NewQueue(blockQueueSize)
	variants := make([]*aggregator.AggregatedDataVariants, workers)
	for i := range variants {
		variants[i] = aggregator.NewAggregatedDataVariants()
	}

	var (
		wg        sync.WaitGroup
		producing atomic.Bool
		rows      atomic.Int64
	)
	producing.Store(true)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(v *aggregator.AggregatedDataVariants) {
			defer wg.Done()
			noMoreKeys := false
			var idle backoff
			for {
				val, ok, _ := q.Get()
				if !ok {
					if !producing.Load() && q.Quantity() == 0 {
						return
					}
					idle.wait()
					continue
				}
				idle.reset()
				bat := val.(*batch.Batch)
				if !j.stopped.Load() {
					cont, err := a.ExecuteOnBlock(bat, 0, bat.RowCount(), v, &noMoreKeys)
					if err != nil {
						j.setErr(err)
					} else if !cont {
						j.stopped.Store(true)
					}
					rows.Add(int64(bat.RowCount()))
				}
				bat.Clean(mp)
			}
		}(variants[i])
	}

	for !j.stopped.Load() {
		bat, err := reader.next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			j.setErr(err)
			break
		}
		var full backoff
		for {
			if ok, _ := q.Put(bat); ok {
				break
			}
			if j.stopped.Load() {
				bat.Clean(mp)
				break
			}
			full.wait()
		}
	}
	producing.Store(false)
	wg.Wait()
	return variants, rows.Load()
}

// finish merges the variants of the workers into final blocks, through
// the temporary data when some of them were spilled.
func (j *job) finish(ctx context.Context, a *aggregator.Aggregator, variants []*aggregator.AggregatedDataVariants) ([]*batch.Batch, error) {
	if !a.HasTemporaryData() {
		return a.MergeAndConvertToBlocks(variants, true, &j.cancelled)
	}

	// the variants still in memory join the spilled ones, bucket by bucket
	for i, v := range variants {
		if v.Empty() {
			continue
		}
		var err error
		if v.IsConvertibleToTwoLevel() {
			err = v.ConvertToTwoLevel()
		}
		if err == nil {
			err = a.WriteToTemporaryFile(v, 0)
		}
		if err != nil {
			destroyAll(variants[i:])
			return nil, err
		}
		v.Destroy()
	}

	bb, err := a.RestoreTemporaryData(ctx)
	if err != nil {
		return nil, err
	}
	result := aggregator.NewAggregatedDataVariants()
	defer result.Destroy()
	if err := a.MergeBlocksByBucket(bb, result, &j.cancelled); err != nil {
		return nil, err
	}
	return a.ConvertToBlocks(result, true)
}

func destroyAll(vs []*aggregator.AggregatedDataVariants) {
	for _, v := range vs {
		v.Destroy()
	}
}

// writeBlocks prints the rows of blocks tab separated, after a line of
// column names.
func writeBlocks(out io.Writer, blocks []*batch.Batch) (int, error) {
	w := bufio.NewWriter(out)
	rows := 0
	for i, bat := range blocks {
		if i == 0 {
			if _, err := w.WriteString(strings.Join(bat.Attrs, "\t") + "\n"); err != nil {
				return rows, err
			}
		}
		fields := make([]string, len(bat.Vecs))
		for r := 0; r < bat.RowCount(); r++ {
			for c, vec := range bat.Vecs {
				fields[c] = vector.ValueString(vec, r)
			}
			if _, err := w.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
				return rows, err
			}
			rows++
		}
	}
	return rows, w.Flush()
}
