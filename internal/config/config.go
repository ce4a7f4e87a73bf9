// Package config loads default settings for the palquant command from a
// YAML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/makeworld-the-better-one/palquant/quant"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds defaults that command line flags override.
type Config struct {
	// ColorSpace is "rgb" or "lab".
	ColorSpace string `yaml:"color_space"`

	// MinCount drops palette colors seen fewer times than this.
	MinCount int `yaml:"min_count"`

	// Epsilon is the RGB distance under which palette pixels are merged.
	Epsilon float64 `yaml:"epsilon"`

	// Threads is the number of quantization workers, 0 for all CPUs.
	Threads int `yaml:"threads"`

	// ChunkSize is the number of pixels per work unit.
	ChunkSize int `yaml:"chunk_size"`

	// Format is the output format, "png" or "gif".
	Format string `yaml:"format"`

	// Compression is the PNG compression: default, no, speed or size.
	Compression string `yaml:"compression"`

	// SampleColors is the palette size used by "--palette sample".
	SampleColors int `yaml:"sample_colors"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ColorSpace:   "rgb",
		MinCount:     1,
		Epsilon:      quant.DefaultEpsilon,
		Threads:      0,
		ChunkSize:    quant.DefaultChunkSize,
		Format:       "png",
		Compression:  "default",
		SampleColors: 5,
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config '%s': %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config '%s': %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := quant.ParseColorSpace(c.ColorSpace); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MinCount < 0 {
		return fmt.Errorf("%w: min_count must not be negative", ErrInvalidConfig)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon must be positive", ErrInvalidConfig)
	}
	if c.Threads < 0 {
		return fmt.Errorf("%w: threads must not be negative", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Format != "png" && c.Format != "gif" {
		return fmt.Errorf("%w: format '%s' is not png or gif", ErrInvalidConfig, c.Format)
	}
	if c.SampleColors < 1 {
		return fmt.Errorf("%w: sample_colors must be at least 1", ErrInvalidConfig)
	}
	return nil
}
