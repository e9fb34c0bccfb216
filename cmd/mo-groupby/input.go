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
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/matrixorigin/simdcsv"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/container/batch"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggregator"
)

// column is one column of the input, written name:type with a trailing ?
// on the type for nullable columns.
type column struct {
	name string
	typ  types.Type
}

var typeNames = map[string]types.T{
	"bool":    types.T_bool,
	"int8":    types.T_int8,
	"int16":   types.T_int16,
	"int32":   types.T_int32,
	"int64":   types.T_int64,
	"uint8":   types.T_uint8,
	"uint16":  types.T_uint16,
	"uint32":  types.T_uint32,
	"uint64":  types.T_uint64,
	"float32": types.T_float32,
	"float64": types.T_float64,
	"date":    types.T_date,
	"varchar": types.T_varchar,
	"json":    types.T_json,
}

func parseType(s string) (types.Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	nullable := strings.HasSuffix(s, "?")
	s = strings.TrimSuffix(s, "?")
	lc := strings.HasPrefix(s, "lc ")
	s = strings.TrimPrefix(s, "lc ")

	var typ types.Type
	if strings.HasPrefix(s, "char(") && strings.HasSuffix(s, ")") {
		width, err := strconv.Atoi(s[len("char(") : len(s)-1])
		if err != nil || width <= 0 {
			return types.Type{}, moerr.NewInvalidInputNoCtx("bad char width in %s", s)
		}
		typ = types.New(types.T_char, int32(width), 0)
	} else if oid, ok := typeNames[s]; ok {
		typ = oid.ToType()
	} else {
		return types.Type{}, moerr.NewInvalidInputNoCtx("unknown column type %s", s)
	}
	if nullable {
		typ = typ.WithNullable()
	}
	if lc {
		typ = typ.WithLowCardinality()
	}
	return typ, nil
}

func parseColumns(list string) ([]column, error) {
	var cols []column
	for _, item := range splitTopLevel(list) {
		name, typ, ok := strings.Cut(item, ":")
		if !ok || name == "" {
			return nil, moerr.NewInvalidInputNoCtx("column %q is not name:type", item)
		}
		t, err := parseType(typ)
		if err != nil {
			return nil, err
		}
		cols = append(cols, column{name: strings.TrimSpace(name), typ: t})
	}
	if len(cols) == 0 {
		return nil, moerr.NewInvalidInputNoCtx("no input column")
	}
	return cols, nil
}

// splitTopLevel splits s on the commas outside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				if item := strings.TrimSpace(s[start:i]); item != "" {
					out = append(out, item)
				}
				start = i + 1
			}
		}
	}
	if item := strings.TrimSpace(s[start:]); item != "" {
		out = append(out, item)
	}
	return out
}

// parseAggregates reads functions written name(arg, ...), the argument
// types are the ones of header.
func parseAggregates(list string, header *batch.Batch) ([]aggregator.AggregateDescription, error) {
	var descs []aggregator.AggregateDescription
	for _, item := range splitTopLevel(list) {
		open := strings.IndexByte(item, '(')
		if open <= 0 || !strings.HasSuffix(item, ")") {
			return nil, moerr.NewInvalidInputNoCtx("aggregate %q is not name(args)", item)
		}
		name := strings.TrimSpace(item[:open])
		args := splitTopLevel(item[open+1 : len(item)-1])
		argTypes := make([]types.Type, len(args))
		for i, arg := range args {
			pos, ok := header.PosOf(arg)
			if !ok {
				return nil, moerr.NewInvalidInputNoCtx("argument %s of %s is not an input column", arg, name)
			}
			argTypes[i] = *header.Vecs[pos].GetType()
		}
		fn, err := aggexec.New(name, argTypes...)
		if err != nil {
			return nil, err
		}
		descs = append(descs, aggregator.AggregateDescription{
			Function:      fn,
			ArgumentNames: args,
			ColumnName:    name + "(" + strings.Join(args, ",") + ")",
		})
	}
	return descs, nil
}

func headerBlock(cols []column) *batch.Batch {
	attrs := make([]string, len(cols))
	for i, c := range cols {
		attrs[i] = c.name
	}
	bat := batch.New(attrs)
	for i, c := range cols {
		bat.Vecs[i] = vector.NewVec(c.typ)
	}
	return bat
}

// blockReader turns the records of a csv file into blocks.  ReadLoop
// streams the records from its own goroutine, a nil line ends them.
type blockReader struct {
	cols     []column
	rows     int
	mp       *mpool.MPool
	raw      io.ReadCloser
	reader   *simdcsv.Reader
	lines    chan simdcsv.LineOut
	errs     chan error
	exited   chan struct{}
	done     bool
	finished bool
}

func newBlockReader(path string, cols []column, rows int, mp *mpool.MPool) (*blockReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, moerr.ConvertGoError(context.Background(), err)
	}
	br := &blockReader{
		cols:   cols,
		rows:   rows,
		mp:     mp,
		raw:    f,
		reader: simdcsv.NewReaderWithOptions(f, ',', '#', false, true),
		lines:  make(chan simdcsv.LineOut),
		errs:   make(chan error, 1),
		exited: make(chan struct{}),
	}
	go func() {
		defer close(br.exited)
		br.errs <- br.reader.ReadLoop(br.lines)
	}()
	return br, nil
}

// next returns the next block, io.EOF after the last one.
func (br *blockReader) next(ctx context.Context) (*batch.Batch, error) {
	records := make([][]string, 0, br.rows)
	for !br.done && len(records) < br.rows {
		select {
		case <-ctx.Done():
			return nil, moerr.ConvertGoError(ctx, ctx.Err())
		case line := <-br.lines:
			if line.Line == nil {
				br.done = true
				break
			}
			records = append(records, line.Line)
		case err := <-br.errs:
			br.done, br.finished = true, true
			if err != nil {
				return nil, moerr.ConvertGoError(ctx, err)
			}
		}
	}
	if len(records) == 0 {
		return nil, io.EOF
	}

	bat := headerBlock(br.cols)
	for _, record := range records {
		if len(record) != len(br.cols) {
			bat.Clean(br.mp)
			return nil, moerr.NewInvalidInputNoCtx("record has %d fields, expected %d", len(record), len(br.cols))
		}
		for i, c := range br.cols {
			if err := appendField(bat.Vecs[i], c.typ, record[i], br.mp); err != nil {
				bat.Clean(br.mp)
				return nil, err
			}
		}
	}
	bat.SetRowCount(len(records))
	return bat, nil
}

// close stops the read loop, whose pending lines are dropped.  The loop
// ends on the read error of the closed file.
func (br *blockReader) close() error {
	err := br.raw.Close()
	if !br.finished {
		br.finished = true
		go func() {
			for {
				select {
				case <-br.lines:
				case <-br.errs:
					return
				}
			}
		}()
	}
	return err
}

func appendInt[T types.Ints](vec *vector.Vector, s string, bits int, mp *mpool.MPool) error {
	v, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		return moerr.NewInvalidInputNoCtx("bad integer %q", s)
	}
	return vector.Append(vec, T(v), false, mp)
}

func appendUint[T types.UInts](vec *vector.Vector, s string, bits int, mp *mpool.MPool) error {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return moerr.NewInvalidInputNoCtx("bad unsigned integer %q", s)
	}
	return vector.Append(vec, T(v), false, mp)
}

func appendField(vec *vector.Vector, typ types.Type, s string, mp *mpool.MPool) error {
	if typ.Nullable && s == "" {
		return vector.AppendBytes(vec, nil, true, mp)
	}
	switch typ.Oid {
	case types.T_bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return moerr.NewInvalidInputNoCtx("bad bool %q", s)
		}
		return vector.Append(vec, v, false, mp)
	case types.T_int8:
		return appendInt[int8](vec, s, 8, mp)
	case types.T_int16:
		return appendInt[int16](vec, s, 16, mp)
	case types.T_int32:
		return appendInt[int32](vec, s, 32, mp)
	case types.T_int64:
		return appendInt[int64](vec, s, 64, mp)
	case types.T_uint8:
		return appendUint[uint8](vec, s, 8, mp)
	case types.T_uint16:
		return appendUint[uint16](vec, s, 16, mp)
	case types.T_uint32:
		return appendUint[uint32](vec, s, 32, mp)
	case types.T_uint64:
		return appendUint[uint64](vec, s, 64, mp)
	case types.T_float32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return moerr.NewInvalidInputNoCtx("bad float %q", s)
		}
		return vector.Append(vec, float32(v), false, mp)
	case types.T_float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return moerr.NewInvalidInputNoCtx("bad double %q", s)
		}
		return vector.Append(vec, v, false, mp)
	case types.T_date:
		// days since 0001-01-01
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return moerr.NewInvalidInputNoCtx("bad date %q", s)
		}
		return vector.Append(vec, types.Date(v), false, mp)
	case types.T_char:
		if len(s) > typ.TypeSize() {
			return moerr.NewInvalidInputNoCtx("%q is longer than %s", s, typ)
		}
		return vector.AppendString(vec, s, false, mp)
	case types.T_varchar, types.T_json:
		return vector.AppendString(vec, s, false, mp)
	}
	return moerr.NewInvalidInputNoCtx("unsupported input type %s", typ)
}
