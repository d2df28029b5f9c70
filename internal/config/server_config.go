package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig holds dashboard server configuration
type AppConfig struct {
	Server    ServerSettings    `yaml:"server"`
	Dashboard DashboardSettings `yaml:"dashboard"`
	LakeFS    LakeFSConfig      `yaml:"lakefs"`
	Database  DatabaseConfig    `yaml:"database"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DashboardSettings controls what the dashboard computes on each refresh
type DashboardSettings struct {
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	Contamination    float64       `yaml:"contamination"`
	MaxDisplayPoints int           `yaml:"max_display_points"`
	RecentRows       int           `yaml:"recent_rows"`
	ForecastHorizon  int           `yaml:"forecast_horizon"`
	ForecastLags     int           `yaml:"forecast_lags"`
}

// LoadAppConfig loads server configuration from YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	var config AppConfig
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

// ApplyDefaults sets default values for server config
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Dashboard.RefreshInterval == 0 {
		ac.Dashboard.RefreshInterval = 30 * time.Second
	}
	if ac.Dashboard.Contamination == 0 {
		ac.Dashboard.Contamination = 0.10
	}
	if ac.Dashboard.MaxDisplayPoints == 0 {
		ac.Dashboard.MaxDisplayPoints = 100
	}
	if ac.Dashboard.RecentRows == 0 {
		ac.Dashboard.RecentRows = 10
	}
	if ac.Dashboard.ForecastHorizon == 0 {
		ac.Dashboard.ForecastHorizon = 6
	}
	if ac.Dashboard.ForecastLags == 0 {
		ac.Dashboard.ForecastLags = 3
	}
	ac.LakeFS.applyDefaults()
	ac.Database.applyDefaults()
	ac.Logging.applyDefaults()
}

// OverrideFromEnv overrides config from environment variables
func (ac *AppConfig) OverrideFromEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err == nil {
			ac.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	ac.LakeFS.overrideFromEnv()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
}

// Validate checks if server configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Dashboard.RefreshInterval < 5*time.Second || ac.Dashboard.RefreshInterval > 120*time.Second {
		return fmt.Errorf("refresh interval must be between 5s and 120s")
	}
	if ac.Dashboard.Contamination < 0.01 || ac.Dashboard.Contamination > 0.25 {
		return fmt.Errorf("contamination must be between 0.01 and 0.25")
	}
	if ac.Dashboard.MaxDisplayPoints < 2 {
		return fmt.Errorf("max display points must be at least 2")
	}
	if ac.Dashboard.ForecastHorizon < 0 {
		return fmt.Errorf("forecast horizon must not be negative")
	}
	if ac.Dashboard.ForecastLags < 1 {
		return fmt.Errorf("forecast lags must be at least 1")
	}
	return ac.LakeFS.validate()
}

// String returns a safe string representation (hides credentials)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: %+v, Dashboard: %+v, LakeFS: %s, Database: %+v, Logging: %+v}",
		ac.Server,
		ac.Dashboard,
		ac.LakeFS.String(),
		ac.Database,
		ac.Logging,
	)
}
