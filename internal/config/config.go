// Package config loads gateway configuration from the environment, with an
// optional YAML file overriding tuning tables and addresses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full gateway configuration.
type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Indicator IndicatorConfig `yaml:"indicator"`
	HTTP      HTTPConfig      `yaml:"http"`
	// DatabaseURL enables the optional backtest-run repository when set.
	DatabaseURL string `yaml:"database_url"`
}

// RedisConfig configures the backing cache store.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	MaxBarsPerKey int    `yaml:"max_bars_per_key"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TTL returns the segment TTL as a duration.
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// ExchangeConfig configures the upstream REST client.
type ExchangeConfig struct {
	BaseURL        string `yaml:"base_url"`
	MaxLimit       int    `yaml:"max_limit"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxDataPoints  int    `yaml:"max_data_points"`
}

// Timeout returns the per-request cap.
func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// IndicatorConfig configures the computation pipeline.
type IndicatorConfig struct {
	// Precision is the number of decimal places applied at emission time.
	Precision int `yaml:"precision"`
}

// HTTPConfig configures the served API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load builds a Config from the environment with spec defaults.
func Load() *Config {
	c := &Config{
		Redis: RedisConfig{
			Enabled:       envBool("REDIS_ENABLED", false),
			Host:          envStr("REDIS_HOST", "localhost"),
			Port:          envInt("REDIS_PORT", 6379),
			Password:      envStr("REDIS_PASSWORD", ""),
			DB:            envInt("REDIS_DB", 0),
			TTLSeconds:    envInt("REDIS_CACHE_TTL", 300),
			MaxBarsPerKey: envInt("REDIS_MAX_BARS_PER_KEY", 10000),
			KeyPrefix:     envStr("REDIS_KEY_PREFIX", "midas:cache:"),
		},
		Exchange: ExchangeConfig{
			BaseURL:        envStr("EXCHANGE_BASE_URL", "https://api.binance.com"),
			MaxLimit:       envInt("EXCHANGE_MAX_LIMIT", 1500),
			TimeoutSeconds: envInt("EXCHANGE_TIMEOUT_SECONDS", 15),
			MaxDataPoints:  envInt("MAX_DATA_POINTS", 5000),
		},
		Indicator: IndicatorConfig{
			Precision: envInt("INDICATOR_PRECISION", 3),
		},
		HTTP: HTTPConfig{
			Addr: envStr("HTTP_ADDR", ":8080"),
		},
		DatabaseURL: envStr("DATABASE_URL", ""),
	}
	return c
}

// LoadFile loads env defaults then applies the YAML file at path on top.
func LoadFile(path string) (*Config, error) {
	c := Load()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return c, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
