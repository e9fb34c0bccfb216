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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggregator"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "mo-groupby.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, aggregator.OverflowThrow, cfg.Aggregator.GroupByOverflowMode)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"
format = "json"

[aggregator]
max-rows-to-group-by = 1000
group-by-overflow-mode = "any"
overflow-row = true
max-bytes-before-external-group-by = 1073741824
max-threads = 2
min-hit-rate-to-use-consecutive-keys-optimization = 0.25

[aggregator.tmp-data]
dir = "/var/tmp"
codec = "zstd"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)

	p := cfg.Aggregator
	require.Equal(t, uint64(1000), p.MaxRowsToGroupBy)
	require.Equal(t, aggregator.OverflowAny, p.GroupByOverflowMode)
	require.True(t, p.OverflowRow)
	require.Equal(t, uint64(1<<30), p.MaxBytesBeforeExternalGroupBy)
	require.Equal(t, 2, p.MaxThreads)
	require.Equal(t, 0.25, p.MinHitRateToUseConsecutiveKeysOptimization)
	require.Equal(t, "/var/tmp", p.TmpData.Dir)
	require.Equal(t, "zstd", p.TmpData.Codec)
	// untouched keys keep their defaults
	require.Equal(t, aggregator.DefaultParams().MaxBlockSize, p.MaxBlockSize)
	require.True(t, p.EnablePrefetch)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"overflow mode": "[aggregator]\ngroup-by-overflow-mode = \"explode\"\n",
		"hit rate":      "[aggregator]\nmin-hit-rate-to-use-consecutive-keys-optimization = 2.0\n",
		"codec":         "[aggregator.tmp-data]\ncodec = \"gzip\"\n",
		"log format":    "[log]\nformat = \"xml\"\n",
		"unknown key":   "[aggregator]\nmax-rows = 1\n",
		"syntax":        "[aggregator\n",
	}
	for name, content := range cases {
		_, err := Load(writeConfig(t, content))
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig), "%s: %v", name, err)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
