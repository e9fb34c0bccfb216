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

package vector

import (
	"bytes"
	"encoding/binary"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/nulls"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
)

func (v *Vector) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.marshalTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Vector) marshalTo(buf *bytes.Buffer) error {
	buf.WriteByte(uint8(v.class))
	{ // write length
		buf.Write(binary.LittleEndian.AppendUint64(nil, uint64(v.length)))
	}
	{ // write type
		buf.Write(types.EncodeType(&v.typ))
	}
	{ // write nspLen, nsp
		data, err := v.nsp.Show()
		if err != nil {
			return err
		}
		buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(data))))
		buf.Write(data)
	}
	switch v.class {
	case DIST:
		buf.Write(types.EncodeSlice(v.index))
		return v.dict.marshalTo(buf)
	case CONSTANT:
		if v.typ.IsFixedLen() {
			buf.Write(v.data[:v.typ.TypeSize()])
		} else {
			writeString(buf, v.strs[0])
		}
	default:
		if v.typ.IsFixedLen() {
			buf.Write(v.data[:v.length*v.typ.TypeSize()])
		} else {
			for _, s := range v.strs[:v.length] {
				writeString(buf, s)
			}
		}
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
	buf.WriteString(s)
}

// UnmarshalBinaryWithMpool decodes data written by MarshalBinary.  Fixed
// length values of a FLAT vector are allocated from mp.
func (v *Vector) UnmarshalBinaryWithMpool(data []byte, mp *mpool.MPool) error {
	_, err := v.unmarshalFrom(data, mp)
	return err
}

func (v *Vector) unmarshalFrom(data []byte, mp *mpool.MPool) ([]byte, error) {
	if len(data) < 1+8+types.TSize+4 {
		return nil, moerr.NewUnexpectedEOFNoCtx("vector header")
	}
	{ // read class
		v.class = int(data[0])
		data = data[1:]
	}
	{ // read length
		v.length = int(binary.LittleEndian.Uint64(data))
		data = data[8:]
	}
	{ // read typ
		v.typ = types.DecodeType(data[:types.TSize])
		data = data[types.TSize:]
	}
	{ // read nsp
		v.nsp = &nulls.Nulls{}
		size := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if len(data) < size {
			return nil, moerr.NewUnexpectedEOFNoCtx("vector nulls")
		}
		if err := v.nsp.Read(data[:size]); err != nil {
			return nil, err
		}
		data = data[size:]
	}
	switch v.class {
	case DIST:
		n := v.length * 4
		if len(data) < n {
			return nil, moerr.NewUnexpectedEOFNoCtx("vector index")
		}
		v.index = make([]uint32, v.length)
		copy(types.EncodeSlice(v.index), data[:n])
		v.dict = &Vector{}
		return v.dict.unmarshalFrom(data[n:], mp)
	case CONSTANT:
		if v.typ.IsFixedLen() {
			sz := v.typ.TypeSize()
			if len(data) < sz {
				return nil, moerr.NewUnexpectedEOFNoCtx("vector constant")
			}
			v.data = append([]byte(nil), data[:sz]...)
			return data[sz:], nil
		}
		s, rest, err := readString(data)
		if err != nil {
			return nil, err
		}
		v.strs = []string{s}
		return rest, nil
	case FLAT:
		if v.typ.IsFixedLen() {
			n := v.length * v.typ.TypeSize()
			if len(data) < n {
				return nil, moerr.NewUnexpectedEOFNoCtx("vector data")
			}
			if n > 0 {
				buf, err := mp.Alloc(n)
				if err != nil {
					return nil, err
				}
				copy(buf, data[:n])
				v.data = buf
			}
			return data[n:], nil
		}
		v.strs = make([]string, v.length)
		for i := range v.strs {
			s, rest, err := readString(data)
			if err != nil {
				return nil, err
			}
			v.strs[i] = s
			data = rest
		}
		return data, nil
	}
	return nil, moerr.NewInternalErrorNoCtxf("unknown vector class %d", v.class)
}

func readString(data []byte) (string, []byte, error) {
	n, l := binary.Uvarint(data)
	if l <= 0 || uint64(len(data)-l) < n {
		return "", nil, moerr.NewUnexpectedEOFNoCtx("vector string")
	}
	data = data[l:]
	return string(data[:n]), data[n:], nil
}
