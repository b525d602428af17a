package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Compute ComputeConfig `yaml:"compute" mapstructure:"compute"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// APIConfig configures the simulation API client.
type APIConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Country          string  `yaml:"country" mapstructure:"country"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxPolls         int     `yaml:"max_polls" mapstructure:"max_polls"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	RetryMaxAttempts int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
}

// ComputeConfig configures the impact computation pipeline.
type ComputeConfig struct {
	Year                 int    `yaml:"year" mapstructure:"year"`
	MaxConcurrentReforms int    `yaml:"max_concurrent_reforms" mapstructure:"max_concurrent_reforms"`
	ReformsDir           string `yaml:"reforms_dir" mapstructure:"reforms_dir"`
}

// ServerConfig configures the read-only impacts API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IMPACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "impacts.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("api.base_url", "https://api.policyengine.org")
	v.SetDefault("api.country", "us")
	v.SetDefault("api.timeout_secs", 120)
	v.SetDefault("api.poll_interval_secs", 10)
	v.SetDefault("api.max_polls", 90)
	v.SetDefault("api.requests_per_sec", 2)
	v.SetDefault("api.retry_max_attempts", 3)
	v.SetDefault("compute.year", 2026)
	v.SetDefault("compute.max_concurrent_reforms", 2)
	v.SetDefault("compute.reforms_dir", "reforms")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given mode ("compute" or
// "serve"). Shared limits are checked in every mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	if c.Compute.MaxConcurrentReforms < 1 || c.Compute.MaxConcurrentReforms > 20 {
		problems = append(problems, "compute.max_concurrent_reforms must be between 1 and 20")
	}
	if c.API.RequestsPerSec <= 0 {
		problems = append(problems, "api.requests_per_sec must be > 0")
	}

	switch mode {
	case "compute":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.API.BaseURL == "" {
			problems = append(problems, "api.base_url is required")
		}
		if c.Compute.Year < 2020 || c.Compute.Year > 2100 {
			problems = append(problems, "compute.year must be a plausible simulation year")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
