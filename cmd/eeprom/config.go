// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	eeprom "github.com/ZaparooProject/go-eeprom"
)

// fileConfig maps eeprom.toml keys onto the transfer settings.
type fileConfig struct {
	Port            string   `toml:"port"`
	ResponseTimeout string   `toml:"response_timeout"`
	SettleDelay     string   `toml:"settle_delay"`
	IgnorePaths     []string `toml:"ignore_paths"`
	Baud            int      `toml:"baud"`
	PageSize        int      `toml:"page_size"`
	Capacity        int      `toml:"capacity"`
	Verify          bool     `toml:"verify"`
}

// settings is everything a subcommand needs, assembled from defaults, the
// config file and flags, in that order of precedence.
type settings struct {
	ignorePaths []string
	cfg         eeprom.Config
	verify      bool
}

func defaultSettings() settings {
	return settings{cfg: eeprom.DefaultConfig(), verify: true}
}

// loadFileConfig overlays the keys defined in the TOML file at path.
func loadFileConfig(path string, s *settings) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("port") {
		s.cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		s.cfg.BaudRate = raw.Baud
	}
	if meta.IsDefined("page_size") {
		s.cfg.PageSize = raw.PageSize
	}
	if meta.IsDefined("capacity") {
		s.cfg.Capacity = raw.Capacity
	}
	if meta.IsDefined("response_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ResponseTimeout))
		if err != nil {
			return fmt.Errorf("load config %s: response_timeout: %w", path, err)
		}
		s.cfg.ResponseTimeout = d
	}
	if meta.IsDefined("settle_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SettleDelay))
		if err != nil {
			return fmt.Errorf("load config %s: settle_delay: %w", path, err)
		}
		s.cfg.SettleDelay = d
	}
	if meta.IsDefined("verify") {
		s.verify = raw.Verify
	}
	if meta.IsDefined("ignore_paths") {
		s.ignorePaths = raw.IgnorePaths
	}
	return nil
}
