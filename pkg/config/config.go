// Package config loads taskstore settings from defaults, an optional YAML
// file and TASKSTORE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-taskstore/cache"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const namespace = "TASKSTORE"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	CodecMsgpack = "msgpack"
	CodecJSON    = "json"
)

// Config is the complete runtime configuration.
//
// Environment variables are TASKSTORE_<SECTION>_<FIELD>, for example
// TASKSTORE_CACHE_BACKEND. Fields carry no envconfig defaults: an unset
// variable keeps whatever the defaults or the YAML file provided.
type Config struct {
	LogLevel string         `yaml:"log_level" split_words:"true"`
	Owner    string         `yaml:"owner" split_words:"true"`
	Database DatabaseConfig `yaml:"database" split_words:"true"`
	Cache    CacheConfig    `yaml:"cache" split_words:"true"`
	Redis    RedisConfig    `yaml:"redis" split_words:"true"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" split_words:"true"`
	DSN    string `yaml:"dsn" split_words:"true"`
}

type CacheConfig struct {
	Backend            string        `yaml:"backend" split_words:"true"`
	Codec              string        `yaml:"codec" split_words:"true"`
	Capacity           int           `yaml:"capacity" split_words:"true"`
	NumShards          int           `yaml:"num_shards" split_words:"true"`
	TTL                time.Duration `yaml:"ttl" split_words:"true"`
	EvictionPercentage int           `yaml:"eviction_percentage" split_words:"true"`
	EvictionInterval   time.Duration `yaml:"eviction_interval" split_words:"true"`
	KeyPrefix          string        `yaml:"key_prefix" split_words:"true"`
	SingleFlight       bool          `yaml:"single_flight" split_words:"true"`
	AsyncInvalidation  bool          `yaml:"async_invalidation" split_words:"true"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	DB       int    `yaml:"db" split_words:"true"`
}

// Default returns a configuration that runs against a local SQLite file
// with the in-process cache.
func Default() Config {
	c := cache.DefaultConfig()
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "file:taskstore.db?cache=shared&_busy_timeout=5000",
		},
		Cache: CacheConfig{
			Backend:            BackendMemory,
			Codec:              CodecMsgpack,
			Capacity:           c.Capacity,
			NumShards:          c.NumShards,
			TTL:                c.TTL,
			EvictionPercentage: c.EvictionPercentage,
			EvictionInterval:   c.EvictionInterval,
			KeyPrefix:          c.KeyPrefix,
			SingleFlight:       c.SingleFlight,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// Load builds the configuration. path may be empty; a missing file at a
// non-empty path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(namespace, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks field values and the cache settings.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.LogLevel, validation.By(validLevel)),
		validation.Field(&c.Database),
		validation.Field(&c.Cache),
		validation.Field(&c.Redis, validation.Skip.When(c.Cache.Backend != BackendRedis)),
	)
	if err != nil {
		return err
	}
	return c.CacheConfig().Validate()
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMemory, BackendRedis)),
		validation.Field(&c.Codec, validation.In(CodecMsgpack, CodecJSON)),
	)
}

func (r RedisConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.Required),
		validation.Field(&r.DB, validation.Min(0)),
	)
}

// CacheConfig converts the cache section into cache.Config.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Capacity:           c.Cache.Capacity,
		NumShards:          c.Cache.NumShards,
		TTL:                c.Cache.TTL,
		EvictionPercentage: c.Cache.EvictionPercentage,
		EvictionInterval:   c.Cache.EvictionInterval,
		KeyPrefix:          c.Cache.KeyPrefix,
		SingleFlight:       c.Cache.SingleFlight,
	}
}

// Codec returns the cache payload codec named by the configuration.
func (c Config) Codec() cache.Codec {
	if c.Cache.Codec == CodecJSON {
		return cache.JSONCodec{}
	}
	return cache.MsgpackCodec{}
}

// SlogLevel parses LogLevel, falling back to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func validLevel(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return errors.New("must be one of debug, info, warn, error")
	}
	return nil
}
