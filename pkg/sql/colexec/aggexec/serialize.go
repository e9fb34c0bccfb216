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

package aggexec

import (
	"encoding/binary"
	"io"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
)

func writeUvarint(w io.Writer, x uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], x)
	_, err := w.Write(buf[:n])
	return err
}

type oneByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (o *oneByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(o.r, o.buf[:]); err != nil {
		return 0, err
	}
	return o.buf[0], nil
}

func readUvarint(r io.Reader) (uint64, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &oneByteReader{r: r}
	}
	x, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, moerr.ConvertGoError(moerr.Context(), err)
	}
	return x, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readBytes reads a length prefixed value into memory of a.
func readBytes(r io.Reader, a *arena.Arena) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > 1<<30 {
		return nil, moerr.NewInvalidInputNoCtx("value of %d bytes in an aggregate state", n)
	}
	b, err := a.Alloc(int(n))
	if err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, b); err != nil {
		return nil, moerr.ConvertGoError(moerr.Context(), err)
	}
	return b, nil
}

// writeFixed and readFixed move states that live entirely in the fixed
// region.
func writeFixed(s State, w io.Writer) error {
	_, err := w.Write(s.Data)
	return err
}

func readFixed(s State, r io.Reader) error {
	if _, err := io.ReadFull(r, s.Data); err != nil {
		return moerr.ConvertGoError(moerr.Context(), err)
	}
	return nil
}
