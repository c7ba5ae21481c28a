// Package config loads service configuration from an optional YAML file and
// STATIONBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/stationboard/stationboard/internal/database"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// STATIONBOARD_HTTP_PORT for http.port.
const EnvPrefix = "STATIONBOARD"

// Config holds all service configuration.
type Config struct {
	Env       string          `mapstructure:"env" validate:"required"`
	LogLevel  string          `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  database.Config `mapstructure:"database"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Shell     ShellConfig     `mapstructure:"shell"`
	Flags     FlagsConfig     `mapstructure:"flags"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RateLimit      int           `mapstructure:"rate_limit" validate:"gte=0"`
	RequireTLS     bool          `mapstructure:"require_tls"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// StorageConfig selects the selected-station store.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory bolt postgres"`
	BoltPath  string `mapstructure:"bolt_path" validate:"required_if=Backend bolt"`
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// UpstreamConfig configures the schedule API client.
type UpstreamConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Hardened   bool          `mapstructure:"hardened"`
	MaxRetries uint64        `mapstructure:"max_retries"`
}

// ShellConfig configures the app shell cache.
type ShellConfig struct {
	Backend      string `mapstructure:"backend" validate:"oneof=memory freecache bolt"`
	BoltPath     string `mapstructure:"bolt_path" validate:"required_if=Backend bolt"`
	CacheSizeMB  int    `mapstructure:"cache_size_mb" validate:"gte=0"`
	ManifestPath string `mapstructure:"manifest_path"`
	OriginURL    string `mapstructure:"origin_url" validate:"omitempty,url"`
	AutoInstall  bool   `mapstructure:"auto_install"`
}

// FlagsConfig selects the feature flag repository.
type FlagsConfig struct {
	Backend  string        `mapstructure:"backend" validate:"oneof=memory postgres"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// WorkerConfig configures the background refresh worker.
type WorkerConfig struct {
	Interval      time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Concurrency   int           `mapstructure:"concurrency" validate:"gte=1"`
	PubSubProject string        `mapstructure:"pubsub_project"`
	Subscription  string        `mapstructure:"subscription" validate:"required_with=PubSubProject"`
}

// Load reads configuration. The file is looked up as stationboard.yaml in
// each of dirs (the working directory and /etc/stationboard when dirs is
// empty); a missing file is not an error.
func Load(dirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("stationboard")
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = []string{".", "/etc/stationboard"}
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the zerolog level for LogLevel.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.rate_limit", 120)
	v.SetDefault("http.require_tls", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("storage.backend", "bolt")
	v.SetDefault("storage.bolt_path", "stationboard.db")
	v.SetDefault("storage.namespace", "default")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "stationboard")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "stationboard")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("upstream.base_url", "https://api-ratp.pierre-grimaud.fr/v3")
	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("upstream.hardened", false)
	v.SetDefault("upstream.max_retries", 0)

	v.SetDefault("shell.backend", "bolt")
	v.SetDefault("shell.bolt_path", "stationboard-shell.db")
	v.SetDefault("shell.cache_size_mb", 64)
	v.SetDefault("shell.manifest_path", "")
	v.SetDefault("shell.origin_url", "")
	v.SetDefault("shell.auto_install", false)

	v.SetDefault("flags.backend", "memory")
	v.SetDefault("flags.cache_ttl", time.Minute)

	v.SetDefault("worker.interval", 2*time.Minute)
	v.SetDefault("worker.timeout", 30*time.Second)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.pubsub_project", "")
	v.SetDefault("worker.subscription", "")
}
