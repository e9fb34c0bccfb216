// Copyright 2022 Matrix Origin
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

package fileservice

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

const streamBufferSize = 64 << 10

// StreamStat describes a finished stream.
type StreamStat struct {
	Blocks            int
	Rows              int
	MaxBlockRows      int
	MaxBlockBytes     int64
	UncompressedBytes int64
	CompressedBytes   int64
}

// BlockStream is an append only compressed file of blocks.  It is written
// once, then read back any number of times.
type BlockStream struct {
	ctx   context.Context
	path  string
	codec Codec

	file *os.File
	raw  *countingWriter
	enc  io.WriteCloser
	buf  *bufio.Writer

	stat     StreamStat
	finished bool
}

func newBlockStream(ctx context.Context, path string, codec Codec) (*BlockStream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, moerr.ConvertGoError(ctx, err)
	}
	s := &BlockStream{
		ctx:   ctx,
		path:  path,
		codec: codec,
		file:  f,
		raw:   &countingWriter{w: f},
	}
	switch codec {
	case LZ4Codec:
		s.enc = lz4.NewWriter(s.raw)
	case ZstdCodec:
		enc, err := zstd.NewWriter(s.raw)
		if err != nil {
			_ = f.Close()
			return nil, moerr.ConvertGoError(ctx, err)
		}
		s.enc = enc
	default:
		s.enc = nopWriteCloser{s.raw}
	}
	s.buf = bufio.NewWriterSize(s.enc, streamBufferSize)
	return s, nil
}

func (s *BlockStream) Path() string {
	return s.path
}

func (s *BlockStream) Write(bat *batch.Batch) error {
	if s.finished {
		return moerr.NewInvalidState(s.ctx, "write to finished stream %s", s.path)
	}
	n, err := bat.WriteTo(s.buf)
	if err != nil {
		return moerr.ConvertGoError(s.ctx, err)
	}
	s.stat.Blocks++
	s.stat.Rows += bat.RowCount()
	s.stat.UncompressedBytes += n
	if bat.RowCount() > s.stat.MaxBlockRows {
		s.stat.MaxBlockRows = bat.RowCount()
	}
	if n > s.stat.MaxBlockBytes {
		s.stat.MaxBlockBytes = n
	}
	updateCounters(s.ctx, func(c *Counter) {
		atomic.AddInt64(&c.BlocksWritten, 1)
	})
	return nil
}

// FinishWriting flushes the codec and closes the file for writing.
func (s *BlockStream) FinishWriting() (StreamStat, error) {
	if s.finished {
		return s.stat, nil
	}
	s.finished = true
	err := s.buf.Flush()
	if cerr := s.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	if err != nil {
		return s.stat, moerr.ConvertGoError(s.ctx, err)
	}
	s.stat.CompressedBytes = s.raw.n
	updateCounters(s.ctx, func(c *Counter) {
		atomic.AddInt64(&c.UncompressedBytes, s.stat.UncompressedBytes)
		atomic.AddInt64(&c.CompressedBytes, s.stat.CompressedBytes)
	})
	return s.stat, nil
}

func (s *BlockStream) Stat() StreamStat {
	return s.stat
}

func (s *BlockStream) abort() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	s.finished = true
}

// NewReader opens the finished stream from its start.
func (s *BlockStream) NewReader() (*BlockReader, error) {
	if !s.finished {
		return nil, moerr.NewInvalidState(s.ctx, "read of unfinished stream %s", s.path)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, moerr.ConvertGoError(s.ctx, err)
	}
	r := &BlockReader{ctx: s.ctx, file: f}
	switch s.codec {
	case LZ4Codec:
		r.br = bufio.NewReaderSize(lz4.NewReader(f), streamBufferSize)
	case ZstdCodec:
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, moerr.ConvertGoError(s.ctx, err)
		}
		r.dec = dec
		r.br = bufio.NewReaderSize(dec, streamBufferSize)
	default:
		r.br = bufio.NewReaderSize(f, streamBufferSize)
	}
	return r, nil
}

type BlockReader struct {
	ctx  context.Context
	file *os.File
	dec  *zstd.Decoder
	br   *bufio.Reader
}

// Read returns the next block, io.EOF after the last one.
func (r *BlockReader) Read(mp *mpool.MPool, fns []aggexec.AggregateFunction, a *arena.Arena) (*batch.Batch, error) {
	bat, err := batch.ReadFrom(r.br, mp, fns, a)
	if err != nil {
		return nil, err
	}
	updateCounters(r.ctx, func(c *Counter) {
		atomic.AddInt64(&c.BlocksRead, 1)
	})
	return bat, nil
}

func (r *BlockReader) Close() error {
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
