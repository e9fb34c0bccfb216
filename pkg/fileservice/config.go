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
	"strings"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
)

// Codec names the compression of a temporary block stream.
type Codec string

const (
	LZ4Codec  Codec = "lz4"
	ZstdCodec Codec = "zstd"
	NoneCodec Codec = "none"
)

func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(s)); c {
	case LZ4Codec, ZstdCodec, NoneCodec:
		return c, nil
	case "":
		return LZ4Codec, nil
	}
	return "", moerr.NewBadConfigNoCtx("unknown temporary data codec %q", s)
}

// Config config to create the temporary data of an aggregation
type Config struct {
	// Dir is the parent of every temporary directory. Default is os.TempDir().
	Dir string `toml:"dir"`
	// Codec compresses spilled blocks. [lz4|zstd|none]. Default is lz4.
	Codec string `toml:"codec"`
}

func (c Config) Validate() error {
	_, err := ParseCodec(c.Codec)
	return err
}

// NewService creates the temporary data holder described by cfg.
func NewService(cfg Config) (*TemporaryData, error) {
	codec, err := ParseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return NewTemporaryData(cfg.Dir, codec)
}
