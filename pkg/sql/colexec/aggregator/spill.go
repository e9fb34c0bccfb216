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
	"context"
	"io"
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/container/hashtable"
	"github.com/matrixorigin/mogroupby/pkg/fileservice"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
)

// WriteToTemporaryFile writes the states of v to a new stream of temporary
// data, one block per bucket plus the overflow row, and leaves v empty but
// usable.  The volume must keep maxTempFileSize bytes free.
func (a *Aggregator) WriteToTemporaryFile(v *AggregatedDataVariants, maxTempFileSize uint64) error {
	if !v.IsTwoLevel() && v.typ != WithoutKey {
		return moerr.NewUnknownAggregatedDataVariantNoCtx(int(v.typ))
	}
	start := time.Now()
	ctx := context.Background()

	a.tmpMu.Lock()
	defer a.tmpMu.Unlock()
	tmp, err := a.temporaryData()
	if err != nil {
		return err
	}
	stream, err := tmp.CreateStream(ctx, maxTempFileSize)
	if err != nil {
		return err
	}

	write := func(bat *batch.Batch) error {
		defer bat.Clean(a.mp)
		if bat.RowCount() == 0 {
			return nil
		}
		return stream.Write(bat)
	}
	if v.IsTwoLevel() {
		for bucket := 0; bucket < hashtable.NumBuckets; bucket++ {
			bat, err := a.bucketBlock(v, v.method, bucket, false, v.arena)
			if err != nil {
				return err
			}
			if bat == nil {
				continue
			}
			if err = write(bat); err != nil {
				return err
			}
		}
	}
	if v.withoutKey != nil {
		bat, err := a.withoutKeyBlock(v, false, v.typ != WithoutKey)
		if err != nil {
			return err
		}
		if err = write(bat); err != nil {
			return err
		}
	}
	stat, err := stream.FinishWriting()
	if err != nil {
		return err
	}

	a.spills.Files++
	a.spills.Rows += stat.Rows
	a.spills.UncompressedBytes += stat.UncompressedBytes
	a.spills.CompressedBytes += stat.CompressedBytes
	if stat.MaxBlockRows > a.spills.MaxBlockRows {
		a.spills.MaxBlockRows = stat.MaxBlockRows
	}
	if stat.MaxBlockBytes > a.spills.MaxBlockBytes {
		a.spills.MaxBlockBytes = stat.MaxBlockBytes
	}

	// every state is in the stream, the variant starts over on fresh memory
	if v.method != nil {
		v.method.clear()
	}
	a.freeArenas(v.arenas)
	v.arenas = nil
	v.arena = a.newArena()
	v.addArena(v.arena)
	if a.params.OverflowRow || v.typ == WithoutKey {
		if v.withoutKey, err = a.createPlace(v.arena); err != nil {
			return err
		}
	}

	ratio := 0.0
	if stat.CompressedBytes > 0 {
		ratio = float64(stat.UncompressedBytes) / float64(stat.CompressedBytes)
	}
	logutil.Debug("written aggregated data to temporary file",
		zap.String("path", stream.Path()),
		zap.Int("rows", stat.Rows),
		zap.Int64("uncompressed-bytes", stat.UncompressedBytes),
		zap.Int64("compressed-bytes", stat.CompressedBytes),
		zap.Float64("compression-ratio", ratio),
		zap.Int("max-block-rows", stat.MaxBlockRows),
		zap.Int64("max-block-bytes", stat.MaxBlockBytes),
		logutil.Elapsed(time.Since(start)))
	return nil
}

type bucketBlocks struct {
	bucket int32
	blocks []*batch.Batch
}

func (b *bucketBlocks) Less(than btree.Item) bool {
	return b.bucket < than.(*bucketBlocks).bucket
}

// BucketToBlocks indexes intermediate blocks by their bucket number.
// Blocks of bucket -1, made by single level variants or holding the
// overflow row, are kept apart.
type BucketToBlocks struct {
	tree      *btree.BTree
	unbounded []*batch.Batch
	rows      int
	count     int
}

func NewBucketToBlocks() *BucketToBlocks {
	return &BucketToBlocks{tree: btree.New(8)}
}

func (bb *BucketToBlocks) Add(bat *batch.Batch) {
	bb.rows += bat.RowCount()
	bb.count++
	if bat.BucketNum < 0 {
		bb.unbounded = append(bb.unbounded, bat)
		return
	}
	key := &bucketBlocks{bucket: bat.BucketNum}
	if item := bb.tree.Get(key); item != nil {
		item.(*bucketBlocks).blocks = append(item.(*bucketBlocks).blocks, bat)
		return
	}
	key.blocks = []*batch.Batch{bat}
	bb.tree.ReplaceOrInsert(key)
}

// MaxBucket returns the greatest bucket number, -1 if only blocks of
// bucket -1 were added.
func (bb *BucketToBlocks) MaxBucket() int32 {
	if bb.tree.Len() == 0 {
		return -1
	}
	return bb.tree.Max().(*bucketBlocks).bucket
}

func (bb *BucketToBlocks) TotalRows() int {
	return bb.rows
}

// Len is the number of blocks.
func (bb *BucketToBlocks) Len() int {
	return bb.count
}

// Ascend calls fn with the blocks of each bucket in increasing order, the
// blocks of bucket -1 last.
func (bb *BucketToBlocks) Ascend(fn func(bucket int32, blocks []*batch.Batch) bool) {
	next := true
	bb.tree.Ascend(func(item btree.Item) bool {
		b := item.(*bucketBlocks)
		next = fn(b.bucket, b.blocks)
		return next
	})
	if next && len(bb.unbounded) > 0 {
		fn(-1, bb.unbounded)
	}
}

func (bb *BucketToBlocks) Clean(mp *mpool.MPool) {
	bb.Ascend(func(_ int32, blocks []*batch.Batch) bool {
		for _, bat := range blocks {
			bat.Clean(mp)
		}
		return true
	})
	bb.tree.Clear(false)
	bb.unbounded = nil
	bb.rows, bb.count = 0, 0
}

// RestoreTemporaryData reads back every stream written by
// WriteToTemporaryFile.  The streams are detached from the temporary data,
// a later spill starts a new set.
func (a *Aggregator) RestoreTemporaryData(ctx context.Context) (*BucketToBlocks, error) {
	a.tmpMu.Lock()
	var streams []*fileservice.BlockStream
	if a.tmpData != nil {
		streams = a.tmpData.Detach()
	}
	a.tmpMu.Unlock()

	bb := NewBucketToBlocks()
	for _, stream := range streams {
		if err := a.restoreStream(ctx, stream, bb); err != nil {
			bb.Clean(a.mp)
			return nil, err
		}
	}
	logutil.Debugf("restored %d blocks, %d rows from %d temporary files", bb.Len(), bb.TotalRows(), len(streams))
	return bb, nil
}

func (a *Aggregator) restoreStream(ctx context.Context, stream *fileservice.BlockStream, bb *BucketToBlocks) error {
	r, err := stream.NewReader()
	if err != nil {
		return err
	}
	defer r.Close()
	ar := a.newArena()
	for {
		select {
		case <-ctx.Done():
			return moerr.NewQueryInterruptedNoCtx()
		default:
		}
		bat, err := r.Read(a.mp, a.fns, ar)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		bb.Add(bat)
	}
}

