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

package batch

import (
	"encoding/binary"
	"io"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// Reader is what ReadFrom needs from a block stream.
type Reader interface {
	io.Reader
	io.ByteReader
}

const blockMagic uint32 = 0x4d4f4742

// WriteTo writes bat as one frame of a block stream:
//
//	magic u32 | bucket i32 | overflows u8 | rows uvarint
//	ncols uvarint | (name, vector bytes)...
//	naggs uvarint | (name, state column)...
func (bat *Batch) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	var hdr [9]byte
	binary.LittleEndian.PutUint32(hdr[0:], blockMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(bat.BucketNum))
	if bat.IsOverflows {
		hdr[8] = 1
	}
	if _, err := cw.Write(hdr[:]); err != nil {
		return cw.n, err
	}
	if err := writeUvarint(cw, uint64(bat.rowCount)); err != nil {
		return cw.n, err
	}
	if err := writeUvarint(cw, uint64(len(bat.Vecs))); err != nil {
		return cw.n, err
	}
	for i, vec := range bat.Vecs {
		data, err := vec.MarshalBinary()
		if err != nil {
			return cw.n, err
		}
		if err = writeBytes(cw, []byte(bat.Attrs[i])); err != nil {
			return cw.n, err
		}
		if err = writeBytes(cw, data); err != nil {
			return cw.n, err
		}
	}
	if err := writeUvarint(cw, uint64(len(bat.Aggs))); err != nil {
		return cw.n, err
	}
	for i, agg := range bat.Aggs {
		if err := writeBytes(cw, []byte(bat.AggAttrs[i])); err != nil {
			return cw.n, err
		}
		if err := agg.Serialize(cw); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// ReadFrom reads the next frame of a block stream.  fns are the functions
// of the state columns, in order; their states are allocated from a.  At
// the end of the stream it returns io.EOF.
func ReadFrom(r Reader, mp *mpool.MPool, fns []aggexec.AggregateFunction, a *arena.Arena) (*Batch, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, moerr.ConvertGoError(moerr.Context(), err)
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != blockMagic {
		return nil, moerr.NewInvalidInputNoCtx("bad block stream magic %x", hdr[0:4])
	}
	bat := NewWithSize(0)
	bat.BucketNum = int32(binary.LittleEndian.Uint32(hdr[4:]))
	bat.IsOverflows = hdr[8] == 1

	rows, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	bat.rowCount = int(rows)
	ncols, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < ncols; i++ {
		name, err := readBytes(r)
		if err != nil {
			bat.Clean(mp)
			return nil, err
		}
		data, err := readBytes(r)
		if err != nil {
			bat.Clean(mp)
			return nil, err
		}
		vec := new(vector.Vector)
		if err = vec.UnmarshalBinaryWithMpool(data, mp); err != nil {
			bat.Clean(mp)
			return nil, err
		}
		bat.Attrs = append(bat.Attrs, string(name))
		bat.Vecs = append(bat.Vecs, vec)
	}
	naggs, err := readUvarint(r)
	if err != nil {
		bat.Clean(mp)
		return nil, err
	}
	if naggs != uint64(len(fns)) {
		bat.Clean(mp)
		return nil, moerr.NewInvalidInputNoCtx("block has %d state columns, expected %d", naggs, len(fns))
	}
	for i := range fns {
		name, err := readBytes(r)
		if err != nil {
			bat.Clean(mp)
			return nil, err
		}
		col, err := aggexec.DeserializeStateColumn(fns[i], r, a)
		if err != nil {
			bat.Clean(mp)
			return nil, err
		}
		bat.AggAttrs = append(bat.AggAttrs, string(name))
		bat.Aggs = append(bat.Aggs, col)
	}
	return bat, nil
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

func writeUvarint(w io.Writer, x uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], x)
	_, err := w.Write(buf[:n])
	return err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readUvarint(r Reader) (uint64, error) {
	x, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, moerr.ConvertGoError(moerr.Context(), err)
	}
	return x, nil
}

func readBytes(r Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > 1<<32 {
		return nil, moerr.NewInvalidInputNoCtx("frame of %d bytes in a block stream", n)
	}
	b := make([]byte, n)
	if _, err = io.ReadFull(r, b); err != nil {
		return nil, moerr.ConvertGoError(moerr.Context(), err)
	}
	return b, nil
}
