package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Tracker   TrackerConfig   `yaml:"tracker" mapstructure:"tracker"`
	Nominatim NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the session persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// APIConfig holds the backend location API settings.
type APIConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// SourceConfig configures the device position bridge.
type SourceConfig struct {
	BridgeURL        string `yaml:"bridge_url" mapstructure:"bridge_url"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms" mapstructure:"request_timeout_ms"`
	WatchTimeoutMS   int    `yaml:"watch_timeout_ms" mapstructure:"watch_timeout_ms"`
	WatchIntervalMS  int    `yaml:"watch_interval_ms" mapstructure:"watch_interval_ms"`
}

// TrackerConfig configures push cadences and the outbound push queue.
type TrackerConfig struct {
	NormalIntervalSecs  int `yaml:"normal_interval_secs" mapstructure:"normal_interval_secs"`
	BookingIntervalSecs int `yaml:"booking_interval_secs" mapstructure:"booking_interval_secs"`
	QueueDepth          int `yaml:"queue_depth" mapstructure:"queue_depth"`
	PushMaxAttempts     int `yaml:"push_max_attempts" mapstructure:"push_max_attempts"`
}

// NominatimConfig configures reverse geocoding.
type NominatimConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RegistryConfig configures the stylist registry fixture.
type RegistryConfig struct {
	// Path overrides the embedded registry when set.
	Path     string  `yaml:"path" mapstructure:"path"`
	RadiusKm float64 `yaml:"radius_km" mapstructure:"radius_km"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// NormalInterval returns the idle-mode push cadence.
func (t TrackerConfig) NormalInterval() time.Duration {
	return time.Duration(t.NormalIntervalSecs) * time.Second
}

// BookingInterval returns the tight push cadence used while a booking is active.
func (t TrackerConfig) BookingInterval() time.Duration {
	return time.Duration(t.BookingIntervalSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geotrack.db")
	v.SetDefault("api.base_url", "https://api.beautycita.com")
	v.SetDefault("source.request_timeout_ms", 10000)
	v.SetDefault("source.watch_timeout_ms", 5000)
	v.SetDefault("source.watch_interval_ms", 5000)
	v.SetDefault("tracker.normal_interval_secs", 60)
	v.SetDefault("tracker.booking_interval_secs", 30)
	v.SetDefault("tracker.queue_depth", 32)
	v.SetDefault("tracker.push_max_attempts", 3)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.rate_per_sec", 1)
	v.SetDefault("nominatim.timeout_secs", 10)
	v.SetDefault("registry.radius_km", 25)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
