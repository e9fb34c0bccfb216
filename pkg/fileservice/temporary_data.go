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
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
)

// FreeDiskSpace reports the bytes available to an unprivileged user on the
// volume of dir.
var FreeDiskSpace = func(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, moerr.ConvertGoError(moerr.Context(), err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// TemporaryData is the private directory of one aggregation.  It hands out
// append only block streams and removes everything on Close.
type TemporaryData struct {
	dir   string
	codec Codec

	mu      sync.Mutex
	streams []*BlockStream
	closed  bool
}

// NewTemporaryData creates a fresh directory under root, os.TempDir() when
// root is empty.
func NewTemporaryData(root string, codec Codec) (*TemporaryData, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "mo-groupby-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, moerr.ConvertGoError(moerr.Context(), err)
	}
	return &TemporaryData{dir: dir, codec: codec}, nil
}

func (t *TemporaryData) Dir() string {
	return t.dir
}

func (t *TemporaryData) Codec() Codec {
	return t.codec
}

// CreateStream opens a new stream after making sure the volume still has
// reserve free bytes.
func (t *TemporaryData) CreateStream(ctx context.Context, reserve uint64) (*BlockStream, error) {
	if reserve > 0 {
		avail, err := FreeDiskSpace(t.dir)
		if err != nil {
			return nil, err
		}
		if avail < reserve {
			return nil, moerr.NewNotEnoughSpace(ctx, t.dir, reserve, avail)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, moerr.NewInvalidState(ctx, "temporary data %s is closed", t.dir)
	}
	path := filepath.Join(t.dir, uuid.New().String()+"."+string(t.codec))
	s, err := newBlockStream(ctx, path, t.codec)
	if err != nil {
		return nil, err
	}
	t.streams = append(t.streams, s)
	updateCounters(ctx, func(c *Counter) {
		atomic.AddInt64(&c.StreamsCreated, 1)
	})
	return s, nil
}

func (t *TemporaryData) HasStreams() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams) > 0
}

// Detach hands the streams created so far over to the caller.
func (t *TemporaryData) Detach() []*BlockStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	streams := t.streams
	t.streams = nil
	return streams
}

// Close drops every stream and the directory.
func (t *TemporaryData) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	streams := t.streams
	t.streams = nil
	t.mu.Unlock()

	for _, s := range streams {
		s.abort()
	}
	if err := os.RemoveAll(t.dir); err != nil {
		logutil.Warnf("failed to remove temporary directory %s: %v", t.dir, err)
		return moerr.ConvertGoError(moerr.Context(), err)
	}
	return nil
}
