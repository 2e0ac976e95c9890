package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// entry is what the in-process backend stores. sturdyc applies one TTL to the
// whole client, so per entry expiry is tracked here and checked on read.
type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// SturdycBackend is an in-process string store backed by a sharded sturdyc client.
type SturdycBackend struct {
	client *sturdyc.Client[entry]
	ttl    time.Duration
	now    func() time.Time
}

// NewSturdycBackend validates cfg and creates the sturdyc client.
func NewSturdycBackend(cfg Config) (*SturdycBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycBackend{client: client, ttl: cfg.TTL, now: time.Now}, nil
}

// GetString returns the stored value. Expired entries are removed and reported as missing.
func (b *SturdycBackend) GetString(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	e, ok := b.client.Get(key)
	if !ok {
		return "", false, nil
	}
	if e.expired(b.now()) {
		b.client.Delete(key)
		return "", false, nil
	}
	return e.value, true, nil
}

// SetString stores value under key. A ttl of zero or one above the client TTL
// falls back to the client TTL.
func (b *SturdycBackend) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 || ttl > b.ttl {
		ttl = b.ttl
	}
	b.client.Set(key, entry{value: value, expiresAt: b.now().Add(ttl)})
	return nil
}

// Remove deletes keys and reports how many live entries were removed.
func (b *SturdycBackend) Remove(ctx context.Context, keys ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := b.now()
	removed := 0
	for _, key := range keys {
		if e, ok := b.client.Get(key); ok && !e.expired(now) {
			removed++
		}
		b.client.Delete(key)
	}
	return removed, nil
}
