package offline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration of the offline layer.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Database DatabaseConfig `mapstructure:"database"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Network  NetworkConfig  `mapstructure:"network"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Replay   ReplayConfig   `mapstructure:"replay"`
}

// DatabaseConfig describes the embedded store backing cache, local records,
// and the request queue.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// RemoteConfig points at the hosted backend.
type RemoteConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Headers map[string]string `mapstructure:"headers"` // e.g. API key
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"` // defaults to the remote base URL
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	Holdoff       time.Duration `mapstructure:"holdoff"`
}

// CacheConfig tunes snapshot staleness.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"` // zero keeps snapshots forever
}

// ReplayConfig tunes the background synchronization agent.
type ReplayConfig struct {
	Schedule       string        `mapstructure:"schedule"` // cron spec for the periodic wake-up
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffMin     time.Duration `mapstructure:"backoff_min"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// LoadConfig initialises configuration using Viper with sensible defaults.
// Settings resolve from ./config/config.yaml (plus any extra paths) and
// OFFLINE_-prefixed environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("OFFLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/offline.sqlite")

	v.SetDefault("network.probe_interval", "15s")
	v.SetDefault("network.holdoff", "5s")

	v.SetDefault("cache.ttl", "0")

	v.SetDefault("replay.schedule", "@every 1m")
	v.SetDefault("replay.request_timeout", "15s")
	v.SetDefault("replay.max_attempts", 8)
	v.SetDefault("replay.backoff_min", "1s")
	v.SetDefault("replay.backoff_max", "5m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
