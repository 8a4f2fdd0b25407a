// Package config loads application configuration from an optional YAML file
// with environment variable overrides (prefix PRICING_, e.g.
// PRICING_SERVER_PORT, PRICING_BOND_API_KEY).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"portfoliopricing/internal/feed/bond"
)

// Server holds HTTP listener settings.
type Server struct {
	Port              string   `mapstructure:"port"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
}

// Equity configures the stock quote feed.
type Equity struct {
	Endpoint             string `mapstructure:"endpoint"`
	CacheTTLSeconds      int    `mapstructure:"cache_ttl_sec"`
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute"`
	Burst                int    `mapstructure:"burst"`
	MaxConcurrency       int    `mapstructure:"max_concurrency"`
}

// Bond configures the bond price feed.
type Bond struct {
	Endpoint             string              `mapstructure:"endpoint"`
	APIKey               string              `mapstructure:"api_key"`
	CacheTTLSeconds      int                 `mapstructure:"cache_ttl_sec"`
	MaxRequestsPerMinute int                 `mapstructure:"max_requests_per_minute"`
	Burst                int                 `mapstructure:"burst"`
	Catalog              []bond.CatalogEntry `mapstructure:"catalog"`
}

// FX configures the exchange rate feed.
type FX struct {
	Endpoint        string `mapstructure:"endpoint"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_sec"`
}

// Subscriptions tunes the polling layer.
type Subscriptions struct {
	IntervalSec     int `mapstructure:"interval_sec"`
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec"`
}

type Config struct {
	Server        Server        `mapstructure:"server"`
	Equity        Equity        `mapstructure:"equity"`
	Bond          Bond          `mapstructure:"bond"`
	FX            FX            `mapstructure:"fx"`
	Subscriptions Subscriptions `mapstructure:"subscriptions"`
}

func (s Server) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSec) * time.Second
}

func (e Equity) TTL() time.Duration { return time.Duration(e.CacheTTLSeconds) * time.Second }
func (b Bond) TTL() time.Duration   { return time.Duration(b.CacheTTLSeconds) * time.Second }
func (f FX) TTL() time.Duration     { return time.Duration(f.CacheTTLSeconds) * time.Second }

func (s Subscriptions) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}
func (s Subscriptions) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSec) * time.Second
}

// Load reads pricing.yaml (searched in ./ and ./config) when present, applies
// environment overrides, and falls back to defaults otherwise. A missing
// config file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("PRICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if path != "" || !notFound {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout_sec", 20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("equity.endpoint", "https://query2.finance.yahoo.com/v8/finance/chart")
	v.SetDefault("equity.cache_ttl_sec", 45)
	v.SetDefault("equity.max_requests_per_minute", 120)
	v.SetDefault("equity.burst", 10)
	v.SetDefault("equity.max_concurrency", 8)

	v.SetDefault("bond.endpoint", "")
	v.SetDefault("bond.api_key", "")
	v.SetDefault("bond.cache_ttl_sec", 900)
	v.SetDefault("bond.max_requests_per_minute", 30)
	v.SetDefault("bond.burst", 5)

	v.SetDefault("fx.endpoint", "https://open.er-api.com/v6/latest")
	v.SetDefault("fx.cache_ttl_sec", 3600)

	v.SetDefault("subscriptions.interval_sec", 30)
	v.SetDefault("subscriptions.fetch_timeout_sec", 15)
}
