// Package config loads the optional ferry configuration file supplying
// persistent flag defaults. Absent keys never override anything; the
// file is entirely optional.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the optional ferry configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults. Pointer fields
// distinguish "unset" from explicit zero values.
type DefaultsConfig struct {
	Verify      *bool   `toml:"verify"`
	Workers     *int    `toml:"workers"`
	Chunks      *int    `toml:"chunks"`
	BWLimit     *string `toml:"bwlimit"`
	Compression *string `toml:"compression"` // "auto", "on", "off"
	Conflict    *string `toml:"conflict"`    // "ask", "overwrite", "skip"
	Retries     *int    `toml:"retries"`
	Preserve    *bool   `toml:"preserve"`
	Strict      *bool   `toml:"strict"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ferry", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// byteSuffixes is ordered longest-first so "mb" wins over "b".
var byteSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"kb", 1 << 10}, {"mb", 1 << 20}, {"gb", 1 << 30}, {"tb", 1 << 40},
	{"k", 1 << 10}, {"m", 1 << 20}, {"g", 1 << 30}, {"t", 1 << 40},
	{"b", 1},
}

// ParseByteSize parses human byte values like "512k", "100MB", "1.5g"
// into bytes, using binary (1024) multipliers.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	for _, bs := range byteSuffixes {
		if strings.HasSuffix(s, bs.suffix) {
			s = strings.TrimSuffix(s, bs.suffix)
			mult = bs.mult
			break
		}
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int64(val * float64(mult)), nil
}
