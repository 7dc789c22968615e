// Package config loads pipeline settings from TOML.
package config

import (
	"errors"
	"fmt"
	"os"

	"warpmap/internal/field"
	"warpmap/internal/outlier"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid reports a setting outside its allowed range.
var ErrInvalid = errors.New("invalid config")

type PyramidConfig struct {
	Octaves      int `toml:"octaves"`
	MedianKernel int `toml:"median_kernel"`
}

type FeaturesConfig struct {
	MaxFeatures   int     `toml:"max_features"`
	ScaleFactor   float64 `toml:"scale_factor"`
	Levels        int     `toml:"levels"`
	EdgeThreshold int     `toml:"edge_threshold"`
	PatchSize     int     `toml:"patch_size"`
	FastThreshold int     `toml:"fast_threshold"`
}

type FilterConfig struct {
	K        float64 `toml:"k"`
	MADScale float64 `toml:"mad_scale"`
	ZeroMAD  string  `toml:"zero_mad"`
}

type DiffusionConfig struct {
	Sigma      float64 `toml:"sigma"`
	Iterations int     `toml:"iterations"`
	Collision  string  `toml:"collision"`
	Backend    string  `toml:"backend"` // "go" or "opencv"
	Workers    int     `toml:"workers"`
}

type OutputConfig struct {
	Preview bool `toml:"preview"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

type Config struct {
	Pyramid   PyramidConfig   `toml:"pyramid"`
	Features  FeaturesConfig  `toml:"features"`
	Filter    FilterConfig    `toml:"filter"`
	Diffusion DiffusionConfig `toml:"diffusion"`
	Output    OutputConfig    `toml:"output"`
	Log       LogConfig       `toml:"log"`
}

// Default returns the settings the mapping tool was tuned with.
func Default() Config {
	fo := outlier.DefaultOptions()
	do := field.DefaultOptions()
	return Config{
		Pyramid: PyramidConfig{
			Octaves:      3,
			MedianKernel: 3,
		},
		Features: FeaturesConfig{
			MaxFeatures:   5000,
			ScaleFactor:   1.2,
			Levels:        8,
			EdgeThreshold: 31,
			PatchSize:     31,
			FastThreshold: 20,
		},
		Filter: FilterConfig{
			K:        fo.K,
			MADScale: fo.MADScale,
			ZeroMAD:  fo.ZeroMAD.String(),
		},
		Diffusion: DiffusionConfig{
			Sigma:      do.Sigma,
			Iterations: do.Iterations,
			Collision:  do.Collision.String(),
			Backend:    "go",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enum names.
func (c Config) Validate() error {
	switch {
	case c.Pyramid.Octaves < 0:
		return fmt.Errorf("%w: pyramid.octaves %d", ErrInvalid, c.Pyramid.Octaves)
	case c.Pyramid.MedianKernel < 1 || c.Pyramid.MedianKernel%2 == 0:
		return fmt.Errorf("%w: pyramid.median_kernel must be odd, got %d", ErrInvalid, c.Pyramid.MedianKernel)
	case c.Features.MaxFeatures <= 0:
		return fmt.Errorf("%w: features.max_features %d", ErrInvalid, c.Features.MaxFeatures)
	case c.Filter.K <= 0 || c.Filter.MADScale <= 0:
		return fmt.Errorf("%w: filter.k and filter.mad_scale must be positive", ErrInvalid)
	case c.Diffusion.Iterations < 0:
		return fmt.Errorf("%w: diffusion.iterations %d", ErrInvalid, c.Diffusion.Iterations)
	case c.Diffusion.Iterations > 0 && c.Diffusion.Sigma <= 0:
		return fmt.Errorf("%w: diffusion.sigma %v", ErrInvalid, c.Diffusion.Sigma)
	}
	if _, ok := outlier.ParseZeroMADPolicy(c.Filter.ZeroMAD); !ok {
		return fmt.Errorf("%w: filter.zero_mad %q", ErrInvalid, c.Filter.ZeroMAD)
	}
	if _, ok := field.ParseCollisionPolicy(c.Diffusion.Collision); !ok {
		return fmt.Errorf("%w: diffusion.collision %q", ErrInvalid, c.Diffusion.Collision)
	}
	switch c.Diffusion.Backend {
	case "go", "opencv":
	default:
		return fmt.Errorf("%w: diffusion.backend %q", ErrInvalid, c.Diffusion.Backend)
	}
	return nil
}

// FilterOptions converts the filter section.
func (c Config) FilterOptions() outlier.Options {
	policy, _ := outlier.ParseZeroMADPolicy(c.Filter.ZeroMAD)
	return outlier.Options{K: c.Filter.K, MADScale: c.Filter.MADScale, ZeroMAD: policy}
}

// FieldOptions converts the diffusion section. The smoother is left for the
// caller to choose from Diffusion.Backend.
func (c Config) FieldOptions() field.Options {
	policy, _ := field.ParseCollisionPolicy(c.Diffusion.Collision)
	return field.Options{
		Sigma:      c.Diffusion.Sigma,
		Iterations: c.Diffusion.Iterations,
		Collision:  policy,
	}
}

// MatchScale is the factor from pyramid-level pixels back to full
// resolution.
func (c Config) MatchScale() float64 {
	return float64(int(1) << c.Pyramid.Octaves)
}
