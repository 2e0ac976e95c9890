package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Interface assertion to ensure Service implements CacheService
var _ CacheService = (*Service)(nil)

// Service is the default CacheService. It wraps each payload in a typed
// envelope, keeps the tag index current on writes and fails open on backend errors.
type Service struct {
	backend Backend
	index   TagIndex
	codec   Codec
	ttl     time.Duration
	logger  *slog.Logger
	flight  *singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCodec sets the payload codec. Defaults to msgpack.
func WithCodec(codec Codec) ServiceOption {
	return func(s *Service) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithDefaultTTL sets the TTL used when an entry does not carry its own.
func WithDefaultTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithLogger sets the logger for cache failures and invalidations.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSingleFlight collapses concurrent misses for the same key into one
// fetch. The first caller's context is used for the shared fetch.
func WithSingleFlight() ServiceOption {
	return func(s *Service) {
		s.flight = &singleflight.Group{}
	}
}

// NewService wires a backend and a tag index into a cache-aside service.
func NewService(backend Backend, index TagIndex, opts ...ServiceOption) *Service {
	s := &Service{
		backend: backend,
		index:   index,
		codec:   MsgpackCodec{},
		ttl:     5 * time.Minute,
		logger:  slog.Default().WithGroup("cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get decodes the entry stored under key into dest, which must be a pointer.
// Backend errors and undecodable entries are logged and reported as a miss.
func (s *Service) Get(ctx context.Context, key string, dest any) bool {
	raw, found, err := s.backend.GetString(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed, treating as miss",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !found {
		return false
	}

	if err := decodeEnvelope(s.codec, []byte(raw), dest); err != nil {
		s.logger.Warn("cached entry could not be decoded, treating as miss",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Set stores value under key. The key is registered with its tags before the
// value is written so an entry is never visible without its index membership.
// If an invalidation takes one of the tags while the value is being written,
// the value is evicted again: it may predate the write that triggered the
// invalidation.
func (s *Service) Set(ctx context.Context, key string, value any, opts ...EntryOption) error {
	if value == nil {
		return nil
	}
	o := s.entryOptions(opts)

	data, err := encodeEnvelope(s.codec, value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	if len(o.tags) > 0 {
		if err := s.index.Add(ctx, key, o.ttl, o.tags...); err != nil {
			return fmt.Errorf("cache: index %q: %w", key, err)
		}
	}

	if err := s.backend.SetString(ctx, key, string(data), o.ttl); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}

	if len(o.tags) == 0 {
		return nil
	}
	indexed, err := s.index.Contains(ctx, key, o.tags...)
	if err == nil && indexed {
		return nil
	}
	if _, rmErr := s.backend.Remove(ctx, key); rmErr != nil {
		s.logger.Warn("failed to evict entry that lost its tags",
			slog.String("key", key),
			slog.String("error", rmErr.Error()),
		)
	}
	if err != nil {
		return fmt.Errorf("cache: verify index %q: %w", key, err)
	}
	s.logger.Debug("entry invalidated while being stored",
		slog.String("key", key),
	)
	return nil
}

// Fetch runs fetchFn and stores the result under key.
func (s *Service) Fetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error), opts ...EntryOption) (any, error) {
	load := func() (any, error) {
		value, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Set(ctx, key, value, opts...); err != nil {
			s.logger.Warn("cache write failed after fetch",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return value, nil
	}

	if s.flight == nil {
		return load()
	}

	value, err, _ := s.flight.Do(key, load)
	return value, err
}

// Remove evicts a single key.
func (s *Service) Remove(ctx context.Context, key string) error {
	if _, err := s.backend.Remove(ctx, key); err != nil {
		return fmt.Errorf("cache: remove %q: %w", key, err)
	}
	return nil
}

// InvalidateByTag evicts every key currently registered under tag and drops
// the tag from the index. It returns the number of live entries removed.
func (s *Service) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	keys, err := s.index.Take(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("cache: read tag %q: %w", tag, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := s.backend.Remove(ctx, keys...)
	if err != nil {
		return removed, fmt.Errorf("cache: evict tag %q: %w", tag, err)
	}

	s.logger.Debug("invalidated cache tag",
		slog.String("tag", tag),
		slog.Int("keys", len(keys)),
		slog.Int("removed", removed),
	)
	return removed, nil
}

func (s *Service) entryOptions(opts []EntryOption) entryOptions {
	o := entryOptions{ttl: s.ttl}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = s.ttl
	}
	o.tags = dedupeStrings(o.tags)
	return o
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
