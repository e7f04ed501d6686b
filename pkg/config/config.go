package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for the activity generator and its recorder
type Config struct {
	// Dir is the working directory the generator creates target files in
	Dir string `yaml:"dir"`

	// Interval is the pause after each create, edit and delete step
	Interval time.Duration `yaml:"interval"`

	// Cycles bounds the number of cycles; 0 runs until interrupted
	Cycles int `yaml:"cycles"`

	// LogLevel is a logrus level name for diagnostic output on stderr
	LogLevel string `yaml:"log_level"`

	// MetricsAddr enables the Prometheus endpoint when non-empty (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr"`

	// Recorder holds settings for the watch/report commands
	Recorder RecorderConfig `yaml:"recorder"`
}

// RecorderConfig captures settings for the activity journal
type RecorderConfig struct {
	StateDir string `yaml:"state_dir"`
	Delta    string `yaml:"delta"`
	HashAlgo string `yaml:"hash_algo"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Dir:      "./loop_test",
		Interval: 2 * time.Second,
		Cycles:   0,
		LogLevel: "info",
		Recorder: RecorderConfig{
			StateDir: ".fileloop",
			Delta:    "bsdiff",
			HashAlgo: "sha256",
		},
	}
}

// LoadFile reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overlays FILELOOP_* environment variables onto cfg. Values that
// fail to parse are ignored.
func ApplyEnv(cfg *Config) {
	if dir := os.Getenv("FILELOOP_DIR"); dir != "" {
		cfg.Dir = dir
	}

	if interval := os.Getenv("FILELOOP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Interval = d
		}
	}

	if cycles := os.Getenv("FILELOOP_CYCLES"); cycles != "" {
		if n, err := strconv.Atoi(cycles); err == nil {
			cfg.Cycles = n
		}
	}

	if level := os.Getenv("FILELOOP_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if addr := os.Getenv("FILELOOP_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if v := os.Getenv("FILELOOP_STATE_DIR"); v != "" {
		cfg.Recorder.StateDir = v
	}
	if v := os.Getenv("FILELOOP_DELTA"); v != "" {
		cfg.Recorder.Delta = v
	}
	if v := os.Getenv("FILELOOP_HASH_ALGO"); v != "" {
		cfg.Recorder.HashAlgo = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("working directory must not be empty")
	}

	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got: %s", c.Interval)
	}

	if c.Cycles < 0 {
		return fmt.Errorf("cycles must be >= 0, got: %d", c.Cycles)
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config invalid: %w", err)
	}

	return nil
}

// Validate ensures the recorder settings name supported codecs
func (c RecorderConfig) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state dir must not be empty")
	}
	if c.Delta != "bsdiff" && c.Delta != "full" {
		return fmt.Errorf("invalid delta codec: %s (must be 'bsdiff' or 'full')", c.Delta)
	}
	if c.HashAlgo != "sha256" && c.HashAlgo != "blake3" {
		return fmt.Errorf("invalid hash algorithm: %s (must be 'sha256' or 'blake3')", c.HashAlgo)
	}
	return nil
}
