package cacheinfra

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const tagKeyPrefix = "tag:"

// RedisBackend stores cache entries in Redis so several processes share them.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend wraps client. Every key is written under cfg.KeyPrefix.
func NewRedisBackend(client redis.UniversalClient, cfg Config) (*RedisBackend, error) {
	if client == nil {
		return nil, &ConfigError{Field: "RedisClient", Message: "cannot be nil"}
	}
	if cfg.TTL <= 0 {
		return nil, &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	return &RedisBackend{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (b *RedisBackend) GetString(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, b.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *RedisBackend) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.ttl
	}
	return b.client.Set(ctx, b.prefix+key, value, ttl).Err()
}

func (b *RedisBackend) Remove(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = b.prefix + key
	}
	n, err := b.client.Del(ctx, prefixed...).Result()
	return int(n), err
}

// RedisTagIndex keeps one Redis set per tag holding the member keys.
type RedisTagIndex struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTagIndex(client redis.UniversalClient, cfg Config) (*RedisTagIndex, error) {
	if client == nil {
		return nil, &ConfigError{Field: "RedisClient", Message: "cannot be nil"}
	}
	return &RedisTagIndex{client: client, prefix: cfg.KeyPrefix + tagKeyPrefix}, nil
}

// Add puts key in every tag set. Each set expires with the longest-lived
// entry it holds: the first TTL is set with NX and later ones only extend it.
func (i *RedisTagIndex) Add(ctx context.Context, key string, ttl time.Duration, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := i.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			setKey := i.prefix + tag
			pipe.SAdd(ctx, setKey, key)
			if ttl > 0 {
				pipe.ExpireNX(ctx, setKey, ttl+tagTTLGrace)
				pipe.ExpireGT(ctx, setKey, ttl+tagTTLGrace)
			}
		}
		return nil
	})
	return err
}

// Contains reports whether key is in every tag set.
func (i *RedisTagIndex) Contains(ctx context.Context, key string, tags ...string) (bool, error) {
	if len(tags) == 0 {
		return true, nil
	}
	cmds := make([]*redis.BoolCmd, len(tags))
	_, err := i.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for n, tag := range tags {
			cmds[n] = pipe.SIsMember(ctx, i.prefix+tag, key)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, cmd := range cmds {
		if !cmd.Val() {
			return false, nil
		}
	}
	return true, nil
}

// Take reads and deletes the tag set inside one MULTI so keys added
// concurrently are either returned or kept for the next invalidation.
func (i *RedisTagIndex) Take(ctx context.Context, tag string) ([]string, error) {
	var members *redis.StringSliceCmd
	_, err := i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, i.prefix+tag)
		pipe.Del(ctx, i.prefix+tag)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members.Val(), nil
}
