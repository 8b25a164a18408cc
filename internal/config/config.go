package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. COLLECTOR_STORAGE_DSN
const EnvPrefix = "COLLECTOR"

var validate = validator.New()

// Config is the collector configuration file
type Config struct {
	Log           LogConfig     `mapstructure:"log"`
	Storage       StorageConfig `mapstructure:"storage"`
	Cache         CacheConfig   `mapstructure:"cache"`
	NATS          NATSConfig    `mapstructure:"nats"`
	Alarm         AlarmConfig   `mapstructure:"alarm"`
	Metrics       MetricsConfig `mapstructure:"metrics"`
	Configuration ModuleConfig  `mapstructure:"configuration"`
}

// LogConfig selects the logger level and encoding
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`
}

// StorageConfig selects the SQL backend
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite3 postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// CacheConfig tunes the name caches
type CacheConfig struct {
	RefreshSpec   string        `mapstructure:"refresh_spec" validate:"required"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

// NATSConfig describes the broker records are ingested from
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	Stream         string        `mapstructure:"stream"`
	AlarmSubject   string        `mapstructure:"alarm_subject"`
	MetricSubject  string        `mapstructure:"metric_subject"`
	RefSubject     string        `mapstructure:"reference_subject"`
	Durable        string        `mapstructure:"durable"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Enabled reports whether a broker URL is configured
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

// AlarmConfig selects the notification channel
type AlarmConfig struct {
	Channel       string `mapstructure:"channel" validate:"oneof=email nats none"`
	NotifySubject string `mapstructure:"notify_subject"`
}

// MetricsConfig configures the Prometheus endpoint. A zero
// HostSampleInterval disables host resource sampling.
type MetricsConfig struct {
	Listen             string        `mapstructure:"listen"`
	HostSampleInterval time.Duration `mapstructure:"host_sample_interval" validate:"gte=0"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.dsn", "file:collector.db?_foreign_keys=on")

	v.SetDefault("cache.refresh_spec", "@every 5m")
	v.SetDefault("cache.redis_ttl", 10*time.Minute)

	v.SetDefault("nats.name", "apm-collector")
	v.SetDefault("nats.stream", "APM")
	v.SetDefault("nats.alarm_subject", "apm.alarm.*")
	v.SetDefault("nats.metric_subject", "apm.metric.*")
	v.SetDefault("nats.reference_subject", "apm.reference.*")
	v.SetDefault("nats.durable", "alarm-worker")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("alarm.channel", "email")
	v.SetDefault("alarm.notify_subject", "apm.notification.email")

	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("metrics.host_sample_interval", 15*time.Second)

	v.SetDefault("configuration.emailAuth", true)
	v.SetDefault("configuration.emailStarttlsEnable", true)
}

// Load reads the configuration file at path, or ./config/config.yaml
// when path is empty, applying defaults and environment overrides
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyAliases(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// optionAliases maps alternative option keys onto the keys Config decodes
var optionAliases = map[string]string{
	"configuration.thermodynamicStepCount": "configuration.thermodynamicCountOfResponseTimeSteps",
}

// applyAliases copies an alias value to its key unless the key is set itself
func applyAliases(v *viper.Viper) {
	for alias, key := range optionAliases {
		if v.IsSet(alias) && !v.IsSet(key) {
			v.Set(key, v.Get(alias))
		}
	}
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
