// Package config holds epub2bits settings: defaults, the optional YAML
// config file and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// AppName is used for XDG directory paths.
const AppName = "epub2bits"

// Default configuration values.
const (
	DefaultWordsPerBit      = 1250
	DefaultCoverJPEGQuality = 90
	DefaultJPEGQuality      = 85
	DefaultWorkers          = 4
	DefaultAddr             = ":5000"

	// DefaultMaxUploadMB bounds request bodies accepted by the HTTP server.
	DefaultMaxUploadMB = 100
)

var (
	ErrConfigNotFound       = errors.New("configuration file not found")
	ErrInvalidWordsPerBit   = errors.New("words_per_bit must be positive")
	ErrInvalidJPEGQuality   = errors.New("jpeg quality must be between 1 and 100")
	ErrInvalidWorkers       = errors.New("workers must be positive")
	ErrInvalidMaxImageWidth = errors.New("max_image_width must not be negative")
	ErrInvalidMaxUpload     = errors.New("max_upload_mb must be positive")
)

// Config holds all configuration options. It is built once in main and
// passed down; nothing reads it from global state.
type Config struct {
	// WordsPerBit is the word threshold that closes a bit.
	WordsPerBit int `yaml:"words_per_bit"`

	// MaxImageWidth downscales wider images; 0 copies images untouched.
	MaxImageWidth int `yaml:"max_image_width"`

	JPEGQuality      int `yaml:"jpeg_quality"`
	CoverJPEGQuality int `yaml:"cover_jpeg_quality"`

	// Workers is the number of documents segmented concurrently.
	Workers int `yaml:"workers"`

	// ScratchDir is the parent of per-run scratch directories.
	ScratchDir string `yaml:"scratch_dir"`

	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`

	// HistoryDir is where the run history database lives. Empty disables history.
	HistoryDir string `yaml:"history_dir"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	return &Config{
		WordsPerBit:      DefaultWordsPerBit,
		JPEGQuality:      DefaultJPEGQuality,
		CoverJPEGQuality: DefaultCoverJPEGQuality,
		Workers:          DefaultWorkers,
		Addr:             DefaultAddr,
		MaxUploadMB:      DefaultMaxUploadMB,
		HistoryDir:       DataDir(),
		LogLevel:         "info",
	}
}

// DataDir returns the XDG data directory (~/.local/share/epub2bits on Linux).
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// DefaultPath returns the default config file location
// (~/.config/epub2bits/config.yaml on Linux).
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Load reads path on top of the defaults. When path is empty the default
// location is tried and a missing file is not an error; an explicitly
// given path that does not exist returns ErrConfigNotFound.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.WordsPerBit <= 0 {
		return ErrInvalidWordsPerBit
	}
	if c.MaxImageWidth < 0 {
		return ErrInvalidMaxImageWidth
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 || c.CoverJPEGQuality < 1 || c.CoverJPEGQuality > 100 {
		return ErrInvalidJPEGQuality
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxUploadMB <= 0 {
		return ErrInvalidMaxUpload
	}
	return nil
}
