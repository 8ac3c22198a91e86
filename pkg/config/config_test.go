package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoadConfigOptional_EmptyPath tests loading when file path is empty
func TestLoadConfigOptional_EmptyPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("UNZIPQ_CONCURRENCY", "7")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional with empty path should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
	if cfg.Concurrency != 7 {
		t.Errorf("Expected Concurrency=7 from env, got %d", cfg.Concurrency)
	}
	if cfg.BackoffPolicy != "exp_full_jitter" {
		t.Errorf("Expected default backoff policy, got %q", cfg.BackoffPolicy)
	}
	if cfg.PollBudgetSeconds != 600 {
		t.Errorf("Expected default poll budget 600, got %d", cfg.PollBudgetSeconds)
	}
	if cfg.TargetPath != "/" {
		t.Errorf("Expected default target path /, got %q", cfg.TargetPath)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("Expected default log format text, got %q", cfg.LogFormat)
	}
}

// TestLoadConfigOptional_WhitespacePath tests loading when file path is only whitespace
func TestLoadConfigOptional_WhitespacePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfigOptional("   ")
	if err != nil {
		t.Fatalf("LoadConfigOptional with whitespace path should not error: %v", err)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("Expected default concurrency 3, got %d", cfg.Concurrency)
	}
}

// TestLoadConfigOptional_FileNotExist tests loading when file does not exist
func TestLoadConfigOptional_FileNotExist(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigOptional with missing file should not error: %v", err)
	}
	if len(cfg.Extensions) == 0 {
		t.Error("Expected default extensions to be populated")
	}
}

// TestLoadConfig_FileNotExist tests that an explicit path must exist
func TestLoadConfig_FileNotExist(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

// TestLoadConfig_InvalidYAML tests loading a file with invalid YAML
func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cookie: [unterminated"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected error for invalid yaml")
	}
}

// TestLoadConfig_ValidFile tests loading a well-formed config file
func TestLoadConfig_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
cookie: "__puus=abc123"
targetPath: /Media/Incoming
extensions: [zip, rar]
concurrency: 5
deleteOriginals: true
backoffPolicy: fixed
pollBudgetSeconds: 120
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Cookie != "__puus=abc123" {
		t.Errorf("Cookie not loaded, got %q", cfg.Cookie)
	}
	if cfg.TargetPath != "/Media/Incoming" {
		t.Errorf("TargetPath not loaded, got %q", cfg.TargetPath)
	}
	if len(cfg.Extensions) != 2 || cfg.Extensions[0] != "zip" {
		t.Errorf("Extensions not loaded, got %v", cfg.Extensions)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency not loaded, got %d", cfg.Concurrency)
	}
	if !cfg.DeleteOriginals {
		t.Error("DeleteOriginals not loaded")
	}
	if cfg.BackoffPolicy != "fixed" {
		t.Errorf("BackoffPolicy not loaded, got %q", cfg.BackoffPolicy)
	}
	if cfg.PollBudgetSeconds != 120 {
		t.Errorf("PollBudgetSeconds not loaded, got %d", cfg.PollBudgetSeconds)
	}
	// Fields absent from the file still get defaults.
	if cfg.PollBaseSeconds != 3 {
		t.Errorf("Expected default poll base 3, got %d", cfg.PollBaseSeconds)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts 3, got %d", cfg.MaxAttempts)
	}
}

// TestLoadConfig_EnvOverridesFile tests that environment variables win over file values
func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cookie: from-file\nconcurrency: 2\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("UNZIPQ_COOKIE", "from-env")
	t.Setenv("UNZIPQ_DELETE_ORIGINALS", "yes")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Cookie != "from-env" {
		t.Errorf("Expected env cookie to win, got %q", cfg.Cookie)
	}
	if !cfg.DeleteOriginals {
		t.Error("Expected UNZIPQ_DELETE_ORIGINALS=yes to enable deletion")
	}
	if cfg.Concurrency != 2 {
		t.Errorf("File value should survive when env is unset, got %d", cfg.Concurrency)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Cookie: "__puus=x"}
		c.applyDefaults()
		return c
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing cookie", func(c *Config) { c.Cookie = "  " }, "cookie is required"},
		{"bad base url", func(c *Config) { c.BaseURL = "not a url" }, "baseUrl"},
		{"relative target", func(c *Config) { c.TargetPath = "Media" }, "targetPath"},
		{"unknown policy", func(c *Config) { c.BackoffPolicy = "warp" }, `backoffPolicy "warp"`},
		{"poll max below base", func(c *Config) { c.PollMaxSeconds = 1 }, "pollMaxSeconds"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "logLevel"},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

// TestValidate_CollectsAllProblems tests that every problem is reported at once
func TestValidate_CollectsAllProblems(t *testing.T) {
	c := &Config{Cookie: "", BackoffPolicy: "warp", LogLevel: "loud", LogFormat: "text", TargetPath: "/", PollBaseSeconds: 1, PollMaxSeconds: 1}
	err := c.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"cookie", "backoffPolicy", "logLevel"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error %q does not mention %q", err, want)
		}
	}
}

// TestSaveRoundTrip tests that Save writes an owner-only file LoadConfig can read back
func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	c := &Config{Cookie: "__puus=secret", TargetPath: "/Media", Extensions: []string{"zip"}}
	c.applyDefaults()

	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Config file should be owner-only, got %v", perm)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Cookie != "__puus=secret" {
		t.Errorf("Cookie did not round-trip, got %q", loaded.Cookie)
	}
	if loaded.TargetPath != "/Media" {
		t.Errorf("TargetPath did not round-trip, got %q", loaded.TargetPath)
	}
}
