package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unzipq/unzipq/internal/backoff"
	"github.com/unzipq/unzipq/pkg/domain"
)

type Config struct {
	// Cookie is the account credential sent on every drive request. It is
	// a secret; it never appears in logs or console output.
	Cookie     string   `yaml:"cookie"`
	BaseURL    string   `yaml:"baseUrl"`
	TargetPath string   `yaml:"targetPath"`
	Extensions []string `yaml:"extensions"`

	Concurrency       int     `yaml:"concurrency"`
	DeleteOriginals   bool    `yaml:"deleteOriginals"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
	PageSize          int     `yaml:"pageSize"`

	MaxAttempts        int    `yaml:"maxAttempts"`
	BackoffPolicy      string `yaml:"backoffPolicy"`
	BackoffBaseSeconds int    `yaml:"backoffBaseSeconds"`
	BackoffMaxSeconds  int    `yaml:"backoffMaxSeconds"`

	PollBaseSeconds   int `yaml:"pollBaseSeconds"`
	PollMaxSeconds    int `yaml:"pollMaxSeconds"`
	PollBudgetSeconds int `yaml:"pollBudgetSeconds"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	MetricsAddr string `yaml:"metricsAddr"`

	TracingEnabled     bool    `yaml:"tracingEnabled"`
	TracingEndpoint    string  `yaml:"tracingEndpoint"`
	TracingInsecure    bool    `yaml:"tracingInsecure"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio"`
}

// DefaultPath is where the interactive setup writes the config and where
// commands look when --config is not given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".unzipq", "config.yaml")
}

// LoadConfig reads the file at filePath and applies environment overrides
// and defaults. The file must exist.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing file:
// an empty path falls back to DefaultPath, and a file that does not exist
// yields a config built from environment and defaults alone.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		filePath = DefaultPath()
	}
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			return LoadConfig(filePath)
		}
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// Save writes the config to filePath, creating the directory when missing.
// The file carries the account cookie, so it is written owner-only.
func (c *Config) Save(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0o600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("UNZIPQ_COOKIE"); v != "" {
		c.Cookie = v
	}
	if v := os.Getenv("UNZIPQ_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("UNZIPQ_TARGET_PATH"); v != "" {
		c.TargetPath = v
	}
	if v := os.Getenv("UNZIPQ_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("UNZIPQ_DELETE_ORIGINALS"); v != "" {
		c.DeleteOriginals = parseBool(v)
	}
	if v := os.Getenv("UNZIPQ_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("UNZIPQ_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PageSize = n
		}
	}
	if v := os.Getenv("UNZIPQ_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv("UNZIPQ_BACKOFF_POLICY"); v != "" {
		c.BackoffPolicy = v
	}
	if v := os.Getenv("UNZIPQ_BACKOFF_BASE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackoffBaseSeconds = n
		}
	}
	if v := os.Getenv("UNZIPQ_BACKOFF_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackoffMaxSeconds = n
		}
	}
	if v := os.Getenv("UNZIPQ_POLL_BUDGET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollBudgetSeconds = n
		}
	}
	if v := os.Getenv("UNZIPQ_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("UNZIPQ_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("UNZIPQ_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("UNZIPQ_TRACING_ENABLED"); v != "" {
		c.TracingEnabled = parseBool(v)
	}
	if v := os.Getenv("UNZIPQ_TRACING_ENDPOINT"); v != "" {
		c.TracingEndpoint = v
	}
	if v := os.Getenv("UNZIPQ_TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.TracingSampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.TargetPath == "" {
		c.TargetPath = "/"
	}
	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), domain.DefaultArchiveExtensions...)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 4
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = backoff.PolicyExpFullJitter
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = 1
	}
	if c.BackoffMaxSeconds <= 0 {
		c.BackoffMaxSeconds = 30
	}
	if c.PollBaseSeconds <= 0 {
		c.PollBaseSeconds = 3
	}
	if c.PollMaxSeconds <= 0 {
		c.PollMaxSeconds = 30
	}
	if c.PollBudgetSeconds <= 0 {
		c.PollBudgetSeconds = 600
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.TracingSampleRatio <= 0 || c.TracingSampleRatio > 1 {
		c.TracingSampleRatio = 1
	}
}

// Validate reports every problem at once so a hand-edited file can be fixed
// in one pass. The cookie is required: nothing works without the account
// credential.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Cookie) == "" {
		errs = append(errs, "cookie is required (run 'unzipq init' or set UNZIPQ_COOKIE)")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "baseUrl must be a valid http(s) URL")
		}
	}
	if !strings.HasPrefix(c.TargetPath, "/") {
		errs = append(errs, "targetPath must be absolute (start with /)")
	}
	if !backoff.ValidPolicy(c.BackoffPolicy) {
		errs = append(errs, fmt.Sprintf("backoffPolicy %q is unknown", c.BackoffPolicy))
	}
	if c.PollMaxSeconds < c.PollBaseSeconds {
		errs = append(errs, "pollMaxSeconds must be >= pollBaseSeconds")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logLevel %q is unknown", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logFormat %q is unknown", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
