// Package config loads process configuration with the layering
// defaults < yaml file < environment < flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/roamhq/roam-saas-ai/internal/tenant"
)

// DefaultConfigFile is looked up in the working directory when no
// --config flag is given.
const DefaultConfigFile = "explaind.yaml"

// EnvPrefix namespaces environment overrides, e.g.
// EXPLAIND_SERVER__ADDR=:9090 sets server.addr.
const EnvPrefix = "EXPLAIND_"

// Config holds all explaind configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	KV       KVConfig       `koanf:"kv"`
	LLM      LLMConfig      `koanf:"llm"`
	Search   SearchConfig   `koanf:"search"`
	Tenancy  TenancyConfig  `koanf:"tenancy"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	Environment     string        `koanf:"environment"` // production, development
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the Postgres pool shared by all tenants.
type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// KVConfig selects and configures the key/value cache backend.
type KVConfig struct {
	Backend       string        `koanf:"backend"` // memory, sqlite
	Path          string        `koanf:"path"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// LLMConfig configures the language-model provider.
type LLMConfig struct {
	Provider   string        `koanf:"provider"` // anthropic, openai, gemini
	Model      string        `koanf:"model"`
	APIKey     string        `koanf:"api_key"`
	BaseURL    string        `koanf:"base_url"`
	MaxRetries int           `koanf:"max_retries"`
	Timeout    time.Duration `koanf:"timeout"`
}

// SearchConfig configures the semantic-search client.
type SearchConfig struct {
	URL     string        `koanf:"url"`
	Corpus  string        `koanf:"corpus"`
	Timeout time.Duration `koanf:"timeout"`
}

// TenancyConfig configures tenant resolution.
type TenancyConfig struct {
	Default string `koanf:"default"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.addr":                ":8080",
		"server.environment":         "production",
		"server.shutdown_timeout":    "10s",
		"database.max_open_conns":    10,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "30m",
		"kv.backend":                 "memory",
		"kv.sweep_interval":          "1m",
		"llm.provider":               "anthropic",
		"llm.max_retries":            3,
		"llm.timeout":                "60s",
		"search.timeout":             "10s",
		"search.corpus":              "roam-platform",
		"tenancy.default":            "roam",
	}
}

// Load builds the configuration. cfgFile may be empty, in which case
// explaind.yaml is used when present. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			cfgFile = DefaultConfigFile
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// EXPLAIND_SERVER__ADDR -> server.addr. Double underscore nests;
	// single underscores stay part of the key, so
	// EXPLAIND_DATABASE__MAX_OPEN_CONNS -> database.max_open_conns.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only flags that were explicitly set participate.
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKey maps CLI flag names onto config keys.
func flagKey(name string) string {
	switch name {
	case "addr":
		return "server.addr"
	case "environment":
		return "server.environment"
	case "dsn":
		return "database.dsn"
	case "default-tenant":
		return "tenancy.default"
	case "search-url":
		return "search.url"
	case "search-corpus":
		return "search.corpus"
	case "llm-provider":
		return "llm.provider"
	case "llm-model":
		return "llm.model"
	case "kv-backend":
		return "kv.backend"
	case "kv-path":
		return "kv.path"
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.KV.Backend {
	case "memory":
	case "sqlite":
		if c.KV.Path == "" {
			return fmt.Errorf("kv.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown kv.backend %q (want memory or sqlite)", c.KV.Backend)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm.provider %q (want anthropic, openai, or gemini)", c.LLM.Provider)
	}
	if c.Tenancy.Default != "" && !tenant.Valid(c.Tenancy.Default) {
		return fmt.Errorf("tenancy.default %q is not a valid tenant identifier", c.Tenancy.Default)
	}
	return nil
}
