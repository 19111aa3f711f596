package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/meshbvh"
)

// Config holds all bvhbuild settings.
type Config struct {
	Build   BuildConfig   `yaml:"build"`
	Backend BackendConfig `yaml:"backend"`
	Logging LoggingConfig `yaml:"logging"`
}

// BuildConfig holds the generator options.
type BuildConfig struct {
	Strategy        string `yaml:"strategy"`
	MaxTrisPerLeaf  uint32 `yaml:"max_tris_per_leaf"`
	SplitCandidates uint32 `yaml:"split_candidates"`
	MaxLevels       int    `yaml:"max_levels"`
}

// BackendConfig selects the compute backend.
type BackendConfig struct {
	Kind    string `yaml:"kind"`    // cpu or gpu
	Workers int    `yaml:"workers"` // cpu only, 0 = GOMAXPROCS
	SPIRV   bool   `yaml:"spirv"`   // gpu only
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Strategy:        meshbvh.StrategyFastTrace.String(),
			MaxTrisPerLeaf:  meshbvh.DefaultMaxTrisPerLeaf,
			SplitCandidates: meshbvh.DefaultSplitCandidates,
			MaxLevels:       meshbvh.DefaultMaxLevels,
		},
		Backend: BackendConfig{Kind: "cpu"},
		Logging: LoggingConfig{
			Level:      "warn",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// loadConfig resolves the settings with priority defaults < file < flags.
func loadConfig(c *cli.Context) (*Config, error) {
	cfg := DefaultConfig()
	if path := c.GlobalString("config"); path != "" {
		if err := loadConfigFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}
	applyFlags(cfg, c)
	return cfg, nil
}

func loadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyFlags(cfg *Config, c *cli.Context) {
	if s := c.GlobalString("backend"); s != "" {
		cfg.Backend.Kind = s
	}
	if c.GlobalIsSet("workers") {
		cfg.Backend.Workers = c.GlobalInt("workers")
	}
	if c.GlobalBool("spirv") {
		cfg.Backend.SPIRV = true
	}
	if s := c.GlobalString("log-level"); s != "" {
		cfg.Logging.Level = s
	}
	if s := c.GlobalString("log-file"); s != "" {
		cfg.Logging.File = s
	}
	if c.GlobalBool("v") {
		cfg.Logging.Level = "debug"
	}

	if s := c.String("strategy"); s != "" {
		cfg.Build.Strategy = s
	}
	if c.IsSet("leaf") {
		cfg.Build.MaxTrisPerLeaf = uint32(c.Int("leaf"))
	}
	if c.IsSet("candidates") {
		cfg.Build.SplitCandidates = uint32(c.Int("candidates"))
	}
	if c.IsSet("max-levels") {
		cfg.Build.MaxLevels = c.Int("max-levels")
	}
}

// Options converts the build settings into generator options.
func (b BuildConfig) Options() ([]meshbvh.Option, error) {
	s, err := meshbvh.ParseStrategy(b.Strategy)
	if err != nil {
		return nil, err
	}
	return []meshbvh.Option{
		meshbvh.WithStrategy(s),
		meshbvh.WithMaxTrisPerLeaf(b.MaxTrisPerLeaf),
		meshbvh.WithSplitCandidates(b.SplitCandidates),
		meshbvh.WithMaxLevels(b.MaxLevels),
	}, nil
}
