package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Token storage backends
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQL    = "sql"
)

// Config is the SDK configuration. The embedded koanf instance keeps access to
// keys that have no struct field.
type Config struct {
	App       AppConfig       `koanf:"app" yaml:"app"`
	API       APIConfig       `koanf:"api" yaml:"api"`
	Request   RequestConfig   `koanf:"request" yaml:"request"`
	Scheduler SchedulerConfig `koanf:"scheduler" yaml:"scheduler"`
	Recovery  RecoveryConfig  `koanf:"recovery" yaml:"recovery"`
	Token     TokenConfig     `koanf:"token" yaml:"token"`
	Session   SessionConfig   `koanf:"session" yaml:"session"`
	Auth      AuthConfig      `koanf:"auth" yaml:"auth"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`

	k *koanf.Koanf `yaml:"-"`
}

// AppConfig identifies the application. ID also keys persisted tokens.
type AppConfig struct {
	ID   string `koanf:"id" yaml:"id" validate:"required"`
	Name string `koanf:"name" yaml:"name"`
}

// APIConfig describes the remote API endpoint.
type APIConfig struct {
	Host     string `koanf:"host" yaml:"host" validate:"required,url"`
	Version  string `koanf:"version" yaml:"version" validate:"required"`
	Language string `koanf:"language" yaml:"language"`
}

// RequestConfig holds the defaults every request.Config starts from.
type RequestConfig struct {
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxAttempts int           `koanf:"maxattempts" yaml:"maxattempts" validate:"gte=0"`
	CatchErrors bool          `koanf:"catcherrors" yaml:"catcherrors"`
	RetryDelay  time.Duration `koanf:"retrydelay" yaml:"retrydelay" validate:"gte=0"`
	Method      string        `koanf:"method" yaml:"method" validate:"oneof=GET POST"`
}

// SchedulerConfig configures the serial lane admission budget.
// Limit 0 means unlimited.
type SchedulerConfig struct {
	Limit  int           `koanf:"limit" yaml:"limit" validate:"gte=0"`
	Window time.Duration `koanf:"window" yaml:"window" validate:"gt=0"`
}

// RecoveryConfig bounds the interactive recovery flows.
type RecoveryConfig struct {
	CaptchaTimeout time.Duration `koanf:"captchatimeout" yaml:"captchatimeout" validate:"gt=0"`
	WebTimeout     time.Duration `koanf:"webtimeout" yaml:"webtimeout" validate:"gt=0"`
}

// TokenConfig selects and configures the token storage backend.
type TokenConfig struct {
	Store TokenStoreConfig `koanf:"store" yaml:"store"`
}

// TokenStoreConfig holds backend-specific settings.
type TokenStoreConfig struct {
	Type  string           `koanf:"type" yaml:"type" validate:"oneof=memory file redis sql"`
	Path  string           `koanf:"path" yaml:"path"`
	Redis RedisStoreConfig `koanf:"redis" yaml:"redis"`
	SQL   SQLStoreConfig   `koanf:"sql" yaml:"sql"`
}

// RedisStoreConfig configures token.RedisStorage.
type RedisStoreConfig struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Password string `koanf:"password" yaml:"password"` //nolint:gosec // loaded from env
	DB       int    `koanf:"db" yaml:"db" validate:"gte=0"`
	Prefix   string `koanf:"prefix" yaml:"prefix"`
}

// SQLStoreConfig configures token.SQLStorage.
type SQLStoreConfig struct {
	Driver string `koanf:"driver" yaml:"driver"`
	DSN    string `koanf:"dsn" yaml:"dsn"`
	Table  string `koanf:"table" yaml:"table"`
}

// SessionConfig holds session manager settings. A zero sweep interval disables
// the token expiry sweep.
type SessionConfig struct {
	Sweep SweepConfig `koanf:"sweep" yaml:"sweep"`
}

// SweepConfig configures the periodic expired-token sweep.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval" yaml:"interval" validate:"gte=0"`
}

// AuthConfig holds the pre-built authorize URL presented by the web authorizator.
type AuthConfig struct {
	URL string `koanf:"url" yaml:"url" validate:"omitempty,url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `koanf:"pretty" yaml:"pretty"`
}

// MetricsConfig enables the stdout OpenTelemetry metrics exporter.
type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled" yaml:"enabled"`
	Interval time.Duration `koanf:"interval" yaml:"interval" validate:"gte=0"`
}
