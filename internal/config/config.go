// Package config layers defaults, an optional YAML file, and DRIFTWATCH_
// environment variables into the process configuration.
package config

// #region imports
import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// #endregion

// #region config-struct

// Config contains process configuration.
type Config struct {
	// DataDir roots all observation state.
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// RotateProb is the per-observation probability of running ledger
	// rotation.
	RotateProb float64 `koanf:"rotate_prob" yaml:"rotate_prob"`

	// ConsolidateProb is the per-session probability of running
	// consolidation on session start.
	ConsolidateProb float64 `koanf:"consolidate_prob" yaml:"consolidate_prob"`

	// Audit enables the SQLite provenance trail.
	Audit bool `koanf:"audit" yaml:"audit"`
}

// New returns the configuration defaults.
func New() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir:         filepath.Join(home, ".driftwatch"),
		LogLevel:        "info",
		RotateProb:      0.01,
		ConsolidateProb: 0.10,
		Audit:           true,
	}
}

// #endregion

// #region load

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if DRIFTWATCH_CONFIG is set
//  3. env (prefix DRIFTWATCH_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("DRIFTWATCH_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: DRIFTWATCH_DATA_DIR, DRIFTWATCH_ROTATE_PROB, ...
	// Underscores are preserved to match koanf tags on the struct.
	envProvider := env.Provider("DRIFTWATCH_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "driftwatch_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		return nil, errors.New("data_dir must not be empty")
	}
	if cfg.RotateProb < 0 || cfg.RotateProb > 1 {
		return nil, errors.New("rotate_prob must be in [0,1]")
	}
	if cfg.ConsolidateProb < 0 || cfg.ConsolidateProb > 1 {
		return nil, errors.New("consolidate_prob must be in [0,1]")
	}
	return &cfg, nil
}

// #endregion

// #region write

// WriteDefault writes a YAML config document with the default values to
// path, refusing to clobber an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New("config file already exists: " + path)
	}
	b, err := yamlv3.Marshal(New())
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// #endregion
