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
	"github.com/BurntSushi/toml"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/logutil"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggregator"
)

// Config is the configuration file of mo-groupby.
type Config struct {
	Log logutil.LogConfig `toml:"log"`

	Aggregator aggregator.Params `toml:"aggregator"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() Config {
	return Config{
		Log: logutil.LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    512,
			MaxBackups: 0,
			MaxDays:    0,
		},
		Aggregator: aggregator.DefaultParams(),
	}
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return moerr.NewBadConfigNoCtx("unsupported log format %q", c.Log.Format)
	}
	return c.Aggregator.Validate()
}

// Load decodes the file at path over the defaults.  An empty path gives
// the defaults; keys the file sets but Config does not know are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, moerr.NewBadConfigNoCtx("decode %s: %v", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, moerr.NewBadConfigNoCtx("unknown configuration key %s in %s", undecoded[0].String(), path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
