package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the scrape pipeline and the operator CLI
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	LakeFS   LakeFSConfig   `yaml:"lakefs"`
	Database DatabaseConfig `yaml:"database"`
	Quality  QualityConfig  `yaml:"quality"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SourceConfig describes the public dashboard page being scraped
type SourceConfig struct {
	URL             string        `yaml:"url"`
	UserAgent       string        `yaml:"user_agent"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SecondLookDelay time.Duration `yaml:"second_look_delay"`
}

// PipelineConfig controls the retry loop and optional scheduling
type PipelineConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	// Interval re-runs the pipeline on a schedule; zero runs once.
	Interval time.Duration `yaml:"interval"`
}

// LakeFSConfig addresses the versioned table inside lakeFS
type LakeFSConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Region          string        `yaml:"region"`
	Repository      string        `yaml:"repository"`
	Branch          string        `yaml:"branch"`
	Path            string        `yaml:"path"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig contains settings for the local run ledger
type DatabaseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// QualityConfig holds the dataset quality thresholds
type QualityConfig struct {
	MinRows         int           `yaml:"min_rows"`
	MinSpan         time.Duration `yaml:"min_span"`
	MinCompleteness float64       `yaml:"min_completeness"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file. An empty path uses
// defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	var config Config
	if err := readYAML(path, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// readYAML loads .env (if any) and unmarshals the file at path into out.
func readYAML(path string, out interface{}) error {
	_ = godotenv.Load()

	if path == "" {
		return nil
	}
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(yamlData, out); err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Source.URL == "" {
		c.Source.URL = "https://www.sothailand.com/sysgen/egat/"
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	if c.Source.RequestTimeout == 0 {
		c.Source.RequestTimeout = 30 * time.Second
	}
	if c.Source.SecondLookDelay == 0 {
		c.Source.SecondLookDelay = 10 * time.Second
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.RetryDelay == 0 {
		c.Pipeline.RetryDelay = 30 * time.Second
	}
	c.LakeFS.applyDefaults()
	c.Database.applyDefaults()
	if c.Quality.MinRows == 0 {
		c.Quality.MinRows = 1000
	}
	if c.Quality.MinSpan == 0 {
		c.Quality.MinSpan = 24 * time.Hour
	}
	if c.Quality.MinCompleteness == 0 {
		c.Quality.MinCompleteness = 0.90
	}
	c.Logging.applyDefaults()
}

func (l *LakeFSConfig) applyDefaults() {
	if l.Endpoint == "" {
		l.Endpoint = "http://localhost:8001/"
	}
	if l.AccessKeyID == "" {
		l.AccessKeyID = "access_key"
	}
	if l.SecretAccessKey == "" {
		l.SecretAccessKey = "secret_key"
	}
	if l.Region == "" {
		l.Region = "us-east-1"
	}
	if l.Repository == "" {
		l.Repository = "dataset"
	}
	if l.Branch == "" {
		l.Branch = "main"
	}
	if l.Path == "" {
		l.Path = "egat_datascraping/egat_realtime_power_history.parquet"
	}
	if l.RequestTimeout == 0 {
		l.RequestTimeout = 30 * time.Second
	}
}

func (d *DatabaseConfig) applyDefaults() {
	if d.Path == "" {
		d.Path = "./data/egat-runs.db"
	}
	if d.RetentionDays == 0 {
		d.RetentionDays = 30
	}
	if d.CleanupPeriod == 0 {
		d.CleanupPeriod = 1 * time.Hour
	}
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("EGAT_SOURCE_URL"); v != "" {
		c.Source.URL = v
	}
	if v := os.Getenv("PIPELINE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxAttempts = n
		}
	}
	c.LakeFS.overrideFromEnv()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (l *LakeFSConfig) overrideFromEnv() {
	if v := os.Getenv("LAKEFS_ENDPOINT_URL"); v != "" {
		l.Endpoint = v
	}
	if v := os.Getenv("LAKEFS_ACCESS_KEY_ID"); v != "" {
		l.AccessKeyID = v
	}
	if v := os.Getenv("LAKEFS_SECRET_ACCESS_KEY"); v != "" {
		l.SecretAccessKey = v
	}
	if v := os.Getenv("LAKEFS_REPOSITORY"); v != "" {
		l.Repository = v
	}
	if v := os.Getenv("LAKEFS_BRANCH"); v != "" {
		l.Branch = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateHTTPURL("source URL", c.Source.URL); err != nil {
		return err
	}
	if c.Source.RequestTimeout < 1*time.Second {
		return fmt.Errorf("source request timeout must be at least 1 second")
	}
	if c.Pipeline.MaxAttempts < 1 || c.Pipeline.MaxAttempts > 20 {
		return fmt.Errorf("max attempts must be between 1 and 20")
	}
	if c.Pipeline.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	if c.Pipeline.Interval != 0 && c.Pipeline.Interval < 1*time.Minute {
		return fmt.Errorf("pipeline interval must be at least 1 minute")
	}
	if err := c.LakeFS.validate(); err != nil {
		return err
	}
	if c.Quality.MinRows < 0 {
		return fmt.Errorf("quality min rows must not be negative")
	}
	if c.Quality.MinCompleteness < 0 || c.Quality.MinCompleteness > 1 {
		return fmt.Errorf("quality min completeness must be between 0 and 1")
	}
	return nil
}

func (l *LakeFSConfig) validate() error {
	if err := validateHTTPURL("lakeFS endpoint", l.Endpoint); err != nil {
		return err
	}
	if l.Repository == "" {
		return fmt.Errorf("lakeFS repository is required")
	}
	if l.Branch == "" {
		return fmt.Errorf("lakeFS branch is required")
	}
	if l.Path == "" {
		return fmt.Errorf("lakeFS table path is required")
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must start with http:// or https://", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", name)
	}
	return nil
}

// String returns a safe string representation (hides credentials)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Source: %+v, Pipeline: %+v, LakeFS: %s, Database: %+v, Quality: %+v, Logging: %+v}",
		c.Source,
		c.Pipeline,
		c.LakeFS.String(),
		c.Database,
		c.Quality,
		c.Logging,
	)
}

// String returns the lakeFS settings with the secret masked
func (l LakeFSConfig) String() string {
	return fmt.Sprintf("[Endpoint=%s, Repo=%s, Branch=%s, Path=%s, Key=%s, Secret=%s]",
		l.Endpoint,
		l.Repository,
		l.Branch,
		l.Path,
		maskToken(l.AccessKeyID),
		maskToken(l.SecretAccessKey),
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
