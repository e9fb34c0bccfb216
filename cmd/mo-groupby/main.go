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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/matrixorigin/mogroupby/pkg/config"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
)

var (
	configFile = flag.String("cfg", "", "toml configuration file, the defaults are used if empty")
	inputFile  = flag.String("input", "", "csv file to aggregate")
	columns    = flag.String("columns", "", "columns of the csv file, e.g. id:int64,name:varchar?,tag:char(4)")
	keys       = flag.String("keys", "", "group by columns separated by commas")
	aggs       = flag.String("aggs", "count()", "aggregate functions, e.g. sum(v),uniqExact(a,b)")
	blockRows  = flag.Int("block-rows", 8192, "rows of an input block")
)

func main() {
	flag.Parse()
	if *inputFile == "" || *columns == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logutil.SetupMOLogger(&cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := &job{
		cfg:       &cfg,
		input:     *inputFile,
		columns:   *columns,
		keys:      splitTopLevel(*keys),
		aggs:      *aggs,
		blockRows: *blockRows,
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigchan
		logutil.Info("aggregation interrupted", zap.String("signal", sig.String()))
		job.cancel()
		cancel()
	}()

	if err := job.run(ctx, os.Stdout); err != nil {
		logutil.Error("aggregation failed", zap.Error(err))
		os.Exit(1)
	}
}
