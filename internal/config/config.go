// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package config loads the tunables that govern a dictionary's node
// geometry and cache sizing from a TOML file, in the idiom of the
// pack's BeadsLog project (github.com/BurntSushi/toml), with byte-size
// fields parsed via c2h5oh/datasize so operators can write "256MiB"
// instead of a raw integer.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"
)

// Config holds every tunable carried through to Tree/cache construction
// (§0.3 Ambient stack: configuration).
type Config struct {
	// Nodesize bounds each node's target serialized size before it
	// becomes FISSIBLE (§4.D).
	Nodesize datasize.ByteSize `toml:"nodesize"`

	// Fanout bounds a nonleaf's child count before it becomes FISSIBLE.
	Fanout int `toml:"fanout"`

	// CacheBytes is the page cache's soft memory ceiling.
	CacheBytes datasize.ByteSize `toml:"cache_bytes"`

	// CompressionMinSize is the smallest partition payload worth
	// compressing; partitions below this are stored raw (zstd framing
	// overhead would outweigh the gain).
	CompressionMinSize datasize.ByteSize `toml:"compression_min_size"`

	// CheckpointPeriodSeconds is the fuzzy-checkpoint interval (§4.K).
	CheckpointPeriodSeconds int `toml:"checkpoint_period_seconds"`
}

// Default returns the reference implementation's defaults, matching
// Tree's own zero-value fallbacks in tree.go so a Config loaded from an
// empty file behaves identically to constructing a Tree with no
// TreeConfig overrides at all.
func Default() Config {
	return Config{
		Nodesize:                4 << 20,
		Fanout:                  16,
		CacheBytes:              256 << 20,
		CompressionMinSize:      4 << 10,
		CheckpointPeriodSeconds: 60,
	}
}

// Load reads and decodes a TOML config file, filling in Default() for
// any field left unset (zero value) by the file.
func Load(path string) (Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML from an in-memory string, used by tests that don't
// want to touch the filesystem.
func Parse(data string) (Config, error) {
	cfg := Default()
	_, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
