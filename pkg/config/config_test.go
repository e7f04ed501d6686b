package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Dir != "./loop_test" {
		t.Errorf("Expected default dir './loop_test', got '%s'", cfg.Dir)
	}

	if cfg.Interval != 2*time.Second {
		t.Errorf("Expected default interval 2s, got %s", cfg.Interval)
	}

	if cfg.Cycles != 0 {
		t.Errorf("Expected unbounded cycles by default, got %d", cfg.Cycles)
	}

	if cfg.MetricsAddr != "" {
		t.Errorf("Expected metrics disabled by default, got '%s'", cfg.MetricsAddr)
	}

	if cfg.Recorder.Delta != "bsdiff" {
		t.Errorf("Expected default delta 'bsdiff', got '%s'", cfg.Recorder.Delta)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FILELOOP_DIR", "/tmp/churn")
	t.Setenv("FILELOOP_INTERVAL", "250ms")
	t.Setenv("FILELOOP_CYCLES", "3")
	t.Setenv("FILELOOP_LOG_LEVEL", "debug")
	t.Setenv("FILELOOP_METRICS_ADDR", ":9099")
	t.Setenv("FILELOOP_STATE_DIR", "/tmp/state")
	t.Setenv("FILELOOP_DELTA", "full")
	t.Setenv("FILELOOP_HASH_ALGO", "blake3")

	got := DefaultConfig()
	ApplyEnv(got)
	want := &Config{
		Dir:         "/tmp/churn",
		Interval:    250 * time.Millisecond,
		Cycles:      3,
		LogLevel:    "debug",
		MetricsAddr: ":9099",
		Recorder: RecorderConfig{
			StateDir: "/tmp/state",
			Delta:    "full",
			HashAlgo: "blake3",
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ApplyEnv() mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnvIgnoresUnparsable(t *testing.T) {
	t.Setenv("FILELOOP_INTERVAL", "soon")
	t.Setenv("FILELOOP_CYCLES", "many")

	cfg := DefaultConfig()
	ApplyEnv(cfg)

	if cfg.Interval != 2*time.Second {
		t.Errorf("Expected interval to stay 2s, got %s", cfg.Interval)
	}
	if cfg.Cycles != 0 {
		t.Errorf("Expected cycles to stay 0, got %d", cfg.Cycles)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileloop.yaml")
	content := "dir: /var/tmp/watched\ninterval: 500ms\nrecorder:\n  delta: full\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Dir != "/var/tmp/watched" {
		t.Errorf("Expected dir from file, got '%s'", cfg.Dir)
	}
	if cfg.Interval != 500*time.Millisecond {
		t.Errorf("Expected interval 500ms, got %s", cfg.Interval)
	}
	if cfg.Recorder.Delta != "full" {
		t.Errorf("Expected delta 'full', got '%s'", cfg.Recorder.Delta)
	}
	// Untouched keys keep defaults.
	if cfg.Recorder.HashAlgo != "sha256" {
		t.Errorf("Expected default hash algo, got '%s'", cfg.Recorder.HashAlgo)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(*Config) {}, false},
		{"empty dir", func(c *Config) { c.Dir = "" }, true},
		{"zero interval", func(c *Config) { c.Interval = 0 }, true},
		{"negative cycles", func(c *Config) { c.Cycles = -1 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad delta", func(c *Config) { c.Recorder.Delta = "xdelta" }, true},
		{"bad hash", func(c *Config) { c.Recorder.HashAlgo = "md5" }, true},
		{"empty state dir", func(c *Config) { c.Recorder.StateDir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
