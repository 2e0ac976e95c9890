package cache

import (
	"time"

	"github.com/goliatone/go-taskstore/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
	// KeyPrefix namespaces keys in a shared Redis.
	KeyPrefix string
	// SingleFlight collapses concurrent misses for one key into a single fetch.
	SingleFlight bool
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService builds a Service over the in-process sturdyc backend and tag index.
func NewCacheService(cfg Config, opts ...ServiceOption) (*Service, error) {
	backend, err := cacheinfra.NewSturdycBackend(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return NewService(backend, cacheinfra.NewMemoryTagIndex(), cfg.serviceOptions(opts)...), nil
}

// NewRedisCacheService builds a Service whose entries and tag sets live in Redis,
// so several processes share one cache.
func NewRedisCacheService(client redis.UniversalClient, cfg Config, opts ...ServiceOption) (*Service, error) {
	internal := cfg.toInternal()
	if err := internal.Validate(); err != nil {
		return nil, err
	}

	backend, err := cacheinfra.NewRedisBackend(client, internal)
	if err != nil {
		return nil, err
	}
	index, err := cacheinfra.NewRedisTagIndex(client, internal)
	if err != nil {
		return nil, err
	}
	return NewService(backend, index, cfg.serviceOptions(opts)...), nil
}

func (c Config) serviceOptions(extra []ServiceOption) []ServiceOption {
	opts := []ServiceOption{WithDefaultTTL(c.TTL)}
	if c.SingleFlight {
		opts = append(opts, WithSingleFlight())
	}
	return append(opts, extra...)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
		KeyPrefix:          c.KeyPrefix,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
		KeyPrefix:          cfg.KeyPrefix,
	}
}
