package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidResultType is returned when a fetched value does not match the requested type.
var ErrInvalidResultType = errors.New("cache: invalid result type")

// Backend is the key/value store behind the cache. Values are opaque strings
// produced by the service codec.
type Backend interface {
	GetString(ctx context.Context, key string) (value string, found bool, err error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
	// Remove deletes keys and returns how many live entries were removed.
	Remove(ctx context.Context, keys ...string) (int, error)
}

// TagIndex is the reverse index from tag to member keys.
type TagIndex interface {
	// Add registers key under every tag. ttl is the entry's lifetime; once it
	// has passed the index may forget the membership.
	Add(ctx context.Context, key string, ttl time.Duration, tags ...string) error
	// Contains reports whether key is still registered under every tag.
	Contains(ctx context.Context, key string, tags ...string) (bool, error)
	// Take removes the tag and returns its members. Members may point at
	// entries that already expired.
	Take(ctx context.Context, tag string) ([]string, error)
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService exposes the cache-aside operations used by the read and write paths.
// Backend failures never surface from Get; they are logged and reported as a miss.
type CacheService interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, opts ...EntryOption) error
	// Fetch runs fetchFn and stores its result under key. Store failures are
	// logged and do not fail the call.
	Fetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error), opts ...EntryOption) (any, error)
	Remove(ctx context.Context, key string) error
	InvalidateByTag(ctx context.Context, tag string) (int, error)
}

// Get is a type-safe wrapper around CacheService.Get.
func Get[T any](ctx context.Context, service CacheService, key string) (T, bool) {
	var value T
	if !service.Get(ctx, key, &value) {
		var zero T
		return zero, false
	}
	return value, true
}

// GetOrSet returns the cached value for key, or computes, stores and returns it.
// On a hit fetchFn is not called. Concurrent misses for the same key may each
// run fetchFn unless the service was built with single-flight enabled.
func GetOrSet[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T], opts ...EntryOption) (T, error) {
	var zero T

	var cached T
	if service.Get(ctx, key, &cached) {
		return cached, nil
	}

	result, err := service.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}

	// A nil interface result maps to the zero value of T.
	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrInvalidResultType, result, zero)
	}
	return typed, nil
}

// EntryOption configures a single cached entry.
type EntryOption func(*entryOptions)

type entryOptions struct {
	ttl  time.Duration
	tags []string
}

// WithTTL overrides the default time-to-live for an entry.
func WithTTL(ttl time.Duration) EntryOption {
	return func(o *entryOptions) {
		o.ttl = ttl
	}
}

// WithTags associates the entry with tags for later group eviction.
func WithTags(tags ...string) EntryOption {
	return func(o *entryOptions) {
		o.tags = append(o.tags, tags...)
	}
}
