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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/common/mpool"
	"github.com/matrixorigin/mogroupby/pkg/config"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
)

func TestSplitTopLevel(t *testing.T) {
	require.Equal(t, []string{"sum(v)", "uniqExact(a,b)", "count()"}, splitTopLevel("sum(v), uniqExact(a,b),count()"))
	require.Empty(t, splitTopLevel(" "))
	require.Equal(t, []string{"a", "b"}, splitTopLevel("a,,b,"))
}

func TestParseColumns(t *testing.T) {
	cols, err := parseColumns("id:int64,name:varchar?,tag:char(4),c:lc varchar")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	require.Equal(t, types.T_int64, cols[0].typ.Oid)
	require.False(t, cols[0].typ.Nullable)
	require.True(t, cols[1].typ.Nullable)
	require.Equal(t, 4, cols[2].typ.TypeSize())
	require.True(t, cols[3].typ.LowCardinality)

	for _, bad := range []string{"", "id", "id:int128", "tag:char(x)", ":int64"} {
		_, err := parseColumns(bad)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput), bad)
	}
}

func TestParseAggregates(t *testing.T) {
	cols, err := parseColumns("k:varchar,v:int64")
	require.NoError(t, err)
	header := headerBlock(cols)

	descs, err := parseAggregates("sum(v),count()", header)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	require.Equal(t, "sum(v)", descs[0].ColumnName)
	require.Equal(t, []string{"v"}, descs[0].ArgumentNames)
	require.Empty(t, descs[1].ArgumentNames)

	_, err = parseAggregates("sum(w)", header)
	require.Error(t, err)
	_, err = parseAggregates("sum", header)
	require.Error(t, err)
	_, err = parseAggregates("nosuchfn(v)", header)
	require.Error(t, err)
}

func writeInput(t *testing.T, lines []string) string {
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// outputRows returns the header line and the sorted rows.
func outputRows(out string) (string, []string) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	rows := lines[1:]
	sort.Strings(rows)
	return lines[0], rows
}

func newJob(t *testing.T, input string) *job {
	cfg := config.Default()
	cfg.Aggregator.MaxThreads = 2
	cfg.Aggregator.TmpData.Dir = t.TempDir()
	return &job{
		cfg:       &cfg,
		input:     input,
		columns:   "k:varchar?,v:int64",
		keys:      []string{"k"},
		aggs:      "sum(v),count()",
		blockRows: 2,
	}
}

func TestRun(t *testing.T) {
	input := writeInput(t, []string{"a,1", "b,2", "a,3", ",4", "b,5", ",6", "c,7"})
	j := newJob(t, input)

	var out bytes.Buffer
	require.NoError(t, j.run(context.Background(), &out))
	header, rows := outputRows(out.String())
	require.Equal(t, "k\tsum(v)\tcount()", header)
	require.Equal(t, []string{"a\t4\t2", "b\t7\t2", "c\t7\t1", "null\t10\t2"}, rows)
}

func TestRunWithSpill(t *testing.T) {
	var lines []string
	want := make(map[string]int)
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("k%d", i%37)
		lines = append(lines, fmt.Sprintf("%s,%d", k, i))
		want[k] += i
	}
	j := newJob(t, writeInput(t, lines))
	j.blockRows = 16
	j.cfg.Aggregator.GroupByTwoLevelThreshold = 1
	j.cfg.Aggregator.MaxBytesBeforeExternalGroupBy = 1

	var out bytes.Buffer
	require.NoError(t, j.run(context.Background(), &out))
	_, rows := outputRows(out.String())
	require.Len(t, rows, len(want))
	for _, row := range rows {
		fields := strings.Split(row, "\t")
		require.Equal(t, fmt.Sprintf("%d", want[fields[0]]), fields[1], row)
	}
}

func TestRunBadInput(t *testing.T) {
	j := newJob(t, writeInput(t, []string{"a,1", "b,notanumber"}))
	var out bytes.Buffer
	err := j.run(context.Background(), &out)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))

	j = newJob(t, filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, j.run(context.Background(), &out))
}

func TestRunCancelled(t *testing.T) {
	j := newJob(t, writeInput(t, []string{"a,1", "b,2", "c,3"}))
	j.cancel()
	var out bytes.Buffer
	err := j.run(context.Background(), &out)
	if err != nil {
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrQueryInterrupted))
	}
}

func TestBlockReader(t *testing.T) {
	mp := mpool.MustNew("job_test")
	defer mpool.DeleteMPool(mp)
	cols, err := parseColumns("k:varchar?,v:int64")
	require.NoError(t, err)

	br, err := newBlockReader(writeInput(t, []string{"a,1", "b,2", ",3", "d,4", "e,5"}), cols, 2, mp)
	require.NoError(t, err)
	defer br.close()

	var sizes []int
	var keys []string
	for {
		bat, err := br.next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, bat.RowCount())
		for row := 0; row < bat.RowCount(); row++ {
			keys = append(keys, vector.ValueString(bat.Vecs[0], row))
		}
		bat.Clean(mp)
	}
	require.Equal(t, []int{2, 2, 1}, sizes)
	require.Equal(t, []string{"a", "b", "null", "d", "e"}, keys)

	_, err = br.next(context.Background())
	require.Equal(t, io.EOF, err)
}

func TestBlockReaderCloseEarly(t *testing.T) {
	mp := mpool.MustNew("job_test")
	defer mpool.DeleteMPool(mp)
	cols, err := parseColumns("k:varchar,v:int64")
	require.NoError(t, err)

	var lines []string
	for i := 0; i < 1000; i++ {
		lines = append(lines, fmt.Sprintf("k%d,%d", i, i))
	}
	br, err := newBlockReader(writeInput(t, lines), cols, 10, mp)
	require.NoError(t, err)
	bat, err := br.next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, bat.RowCount())
	bat.Clean(mp)

	// the read loop still has lines to hand over
	require.NoError(t, br.close())
	select {
	case <-br.exited:
	case <-time.After(10 * time.Second):
		t.Fatal("read loop still running after close")
	}
}

func TestBackoff(t *testing.T) {
	var b backoff
	b.wait()
	require.Equal(t, 2*minIdle, b.idle)
	for i := 0; i < 20; i++ {
		b.wait()
	}
	require.Equal(t, maxIdle, b.idle)
	b.reset()
	require.Zero(t, b.idle)
}
