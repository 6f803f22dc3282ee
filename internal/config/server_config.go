package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the dashboard server configuration
type AppConfig struct {
	Server         ServerSettings         `yaml:"server"`
	Storage        StorageSettings        `yaml:"storage"`
	Database       DatabaseSettings       `yaml:"database"`
	Weather        WeatherSettings        `yaml:"weather"`
	Recommendation RecommendationSettings `yaml:"recommendation"`
	Logging        LoggingConfig          `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageSettings contains in-memory history configuration
type StorageSettings struct {
	BufferSize int `yaml:"buffer_size"`
}

// DatabaseSettings configures the SQLite weather cache and recommendation log
type DatabaseSettings struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// WeatherSettings configures the OpenWeather client
type WeatherSettings struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
	BreakerInterval time.Duration `yaml:"breaker_interval"`
}

// RecommendationSettings holds request defaults
type RecommendationSettings struct {
	DefaultCity string `yaml:"default_city"`
	DefaultCrop string `yaml:"default_crop"`
}

// LoadAppConfig loads server configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}
	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
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
		ac.Server.WriteTimeout = 15 * time.Second
	}
	if ac.Storage.BufferSize == 0 {
		ac.Storage.BufferSize = 20
	}
	if ac.Database.Path == "" {
		ac.Database.Path = "./data/krishi-monitor.db"
	}
	if ac.Database.BatchSize == 0 {
		ac.Database.BatchSize = 50
	}
	if ac.Database.FlushPeriod == 0 {
		ac.Database.FlushPeriod = 5 * time.Second
	}
	if ac.Database.ChannelSize == 0 {
		ac.Database.ChannelSize = 500
	}
	if ac.Database.RetentionDays == 0 {
		ac.Database.RetentionDays = 30
	}
	if ac.Database.CleanupPeriod == 0 {
		ac.Database.CleanupPeriod = 1 * time.Hour
	}
	if ac.Database.CacheTTL == 0 {
		ac.Database.CacheTTL = 5 * time.Minute
	}
	if ac.Weather.BaseURL == "" {
		ac.Weather.BaseURL = "https://api.openweathermap.org"
	}
	if ac.Weather.Timeout == 0 {
		ac.Weather.Timeout = 8 * time.Second
	}
	if ac.Weather.BreakerFailures == 0 {
		ac.Weather.BreakerFailures = 5
	}
	if ac.Weather.BreakerOpenFor == 0 {
		ac.Weather.BreakerOpenFor = 30 * time.Second
	}
	if ac.Weather.BreakerInterval == 0 {
		ac.Weather.BreakerInterval = 60 * time.Second
	}
	if ac.Recommendation.DefaultCity == "" {
		ac.Recommendation.DefaultCity = "Mumbai"
	}
	if ac.Recommendation.DefaultCrop == "" {
		ac.Recommendation.DefaultCrop = "wheat"
	}
	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config from environment variables
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("OPENWEATHER_API_KEY"); v != "" {
		ac.Weather.APIKey = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		ac.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if server configuration is valid. A missing weather API
// key is allowed; weather requests then fail at call time.
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Server.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if ac.Storage.BufferSize < 10 {
		return fmt.Errorf("buffer size must be at least 10")
	}
	if ac.Weather.Timeout <= 0 {
		return fmt.Errorf("weather timeout must be positive")
	}
	if ac.Database.Enabled {
		if ac.Database.RetentionDays <= 0 {
			return fmt.Errorf("retention days must be greater than 0")
		}
		if ac.Database.BatchSize < 1 {
			return fmt.Errorf("database batch size must be at least 1")
		}
	}
	return nil
}

// String returns a safe string representation (hides secrets)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: [Addr=%s:%d, Token=%s], Storage: %+v, Database: %+v, Weather: [BaseURL=%s, APIKey=%s, Timeout=%s], Logging: %+v}",
		ac.Server.Host,
		ac.Server.Port,
		maskToken(ac.Server.AuthToken),
		ac.Storage,
		ac.Database,
		ac.Weather.BaseURL,
		maskToken(ac.Weather.APIKey),
		ac.Weather.Timeout,
		ac.Logging,
	)
}
