// Package config loads the YAML configuration of the netmd-upload
// command-line tool.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Library  LibraryConfig  `yaml:"library"`
	Transfer TransferConfig `yaml:"transfer"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// LibraryConfig describes where playlists live and where finished ones are
// archived to.
type LibraryConfig struct {
	WatchDir   string `yaml:"watch_dir"`
	ArchiveDir string `yaml:"archive_dir"`
}

// TransferConfig controls how tracks are transcoded and encoded onto the
// disc.
type TransferConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path,omitempty"`
	WireFormat string `yaml:"wire_format"` // "pcm", "lp2", "105kbps", "lp4"
	Unprotected bool  `yaml:"unprotected,omitempty"`
}

// RuntimeConfig selects which attached recorder to use when more than one
// is present.
type RuntimeConfig struct {
	DeviceIndex *int `yaml:"device_index"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required fields are present and sane.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Library.WatchDir) == "" {
		return fmt.Errorf("config.library.watch_dir is required")
	}
	if err := validateDir(c.Library.WatchDir, "config.library.watch_dir"); err != nil {
		return err
	}

	if strings.TrimSpace(c.Library.ArchiveDir) == "" {
		return fmt.Errorf("config.library.archive_dir is required")
	}

	switch strings.ToLower(c.Transfer.WireFormat) {
	case "pcm", "lp2", "105kbps", "lp4":
	default:
		return fmt.Errorf("config.transfer.wire_format must be one of pcm, lp2, 105kbps, lp4, got %q",
			c.Transfer.WireFormat)
	}

	if c.Runtime.DeviceIndex != nil && *c.Runtime.DeviceIndex < 0 {
		return fmt.Errorf("config.runtime.device_index must be >= 0")
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Library.WatchDir = resolvePath(configDir, c.Library.WatchDir)
	c.Library.ArchiveDir = resolvePath(configDir, c.Library.ArchiveDir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateDir(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s must point to a directory", field)
	}
	return nil
}
