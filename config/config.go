// Package config loads the SDK configuration from defaults, an optional YAML
// file and VKFLOW_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "VKFLOW_"

	// DefaultFile is read when Load is called with an empty path.
	DefaultFile = "vkflow.yaml"
)

// Load loads configuration with priority:
// 1. Environment variables (VKFLOW_API_VERSION -> api.version)
// 2. The YAML file at path (DefaultFile when empty; optional unless path is explicit)
// 3. Default values
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, EnvPrefix)
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// String returns the raw string value for key, or def when the key is unset.
// It reaches keys that have no struct field, such as auth.token for the CLI.
func (c *Config) String(key, def string) string {
	if c.k == nil || !c.k.Exists(key) {
		return def
	}
	return c.k.String(key)
}

func defaults() map[string]any {
	return map[string]any{
		"app.name": "vkflow",

		"api.host":     "https://api.vk.com/method/",
		"api.version":  "5.199",
		"api.language": "en",

		"request.timeout":     "10s",
		"request.maxattempts": 3,
		"request.catcherrors": true,
		"request.retrydelay":  "0s",
		"request.method":      "GET",

		"scheduler.limit":  3,
		"scheduler.window": "1s",

		"recovery.captchatimeout": "10m",
		"recovery.webtimeout":     "10m",

		"token.store.type":         StoreMemory,
		"token.store.path":         "",
		"token.store.redis.addr":   "localhost:6379",
		"token.store.redis.db":     0,
		"token.store.redis.prefix": "vkflow:token:",
		"token.store.sql.driver":   "sqlite3",
		"token.store.sql.table":    "vkflow_tokens",

		"session.sweep.interval": "0s",

		"log.level":  "info",
		"log.pretty": false,

		"metrics.enabled":  false,
		"metrics.interval": "30s",
	}
}

// Default returns the default configuration for appID without reading files or
// the environment. Useful for programmatic setups and tests.
func Default(appID string) *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	_ = k.Set("app.id", appID)

	var cfg Config
	_ = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"})
	cfg.k = k
	return &cfg
}
