package repositorycache

import (
	"context"
	"log/slog"
	"time"

	"github.com/goliatone/go-taskstore/cache"
	"github.com/goliatone/go-taskstore/identity"
	"github.com/goliatone/go-taskstore/task"
)

const (
	listNamespace = "tasks.list"
	getNamespace  = "tasks.get"
)

// TaskQueryExecutor is the store side of the read path.
type TaskQueryExecutor interface {
	ListViews(ctx context.Context, ownerID string, q task.Query) ([]task.View, error)
	GetView(ctx context.Context, ownerID, id string) (task.View, bool, error)
}

// Interface assertion to ensure CachedTaskReader can stand in for the executor
var _ TaskQueryExecutor = (*CachedTaskReader)(nil)

// CachedTaskReader decorates a TaskQueryExecutor with cache-aside reads.
// List entries are tagged user:<owner>; single lookups are additionally
// tagged <kind>:<id>.
type CachedTaskReader struct {
	base   TaskQueryExecutor
	cache  cache.CacheService
	keys   cache.KeyCodec
	kind   string
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a CachedTaskReader.
type Option func(*CachedTaskReader)

// WithTTL sets the TTL for cached reads. Zero uses the cache default.
func WithTTL(ttl time.Duration) Option {
	return func(r *CachedTaskReader) {
		r.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *CachedTaskReader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a CachedTaskReader that wraps base.
func New(base TaskQueryExecutor, cacheService cache.CacheService, keyCodec cache.KeyCodec, opts ...Option) *CachedTaskReader {
	r := &CachedTaskReader{
		base:   base,
		cache:  cacheService,
		keys:   keyCodec,
		kind:   KindOf[task.Task](),
		logger: slog.Default().WithGroup("repositorycache"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListViews returns a page of task views, from cache when possible.
func (r *CachedTaskReader) ListViews(ctx context.Context, ownerID string, q task.Query) ([]task.View, error) {
	ownerID, err := identity.Require(ownerID)
	if err != nil {
		return nil, err
	}
	q = q.Normalized()

	key := r.keys.Key(listNamespace, ownerID, q)
	return cache.GetOrSet(ctx, r.cache, key, func(ctx context.Context) ([]task.View, error) {
		return r.base.ListViews(ctx, ownerID, q)
	}, r.entryOptions(ctx, cache.Tags(ownerID, r.kind))...)
}

// GetView returns a single task view. Absent results are not cached.
func (r *CachedTaskReader) GetView(ctx context.Context, ownerID, id string) (task.View, bool, error) {
	ownerID, err := identity.Require(ownerID)
	if err != nil {
		return task.View{}, false, err
	}

	key := r.keys.Key(getNamespace, ownerID, id)
	if view, ok := cache.Get[task.View](ctx, r.cache, key); ok {
		return view, true, nil
	}

	view, found, err := r.base.GetView(ctx, ownerID, id)
	if err != nil || !found {
		return view, found, err
	}

	if err := r.cache.Set(ctx, key, view, r.entryOptions(ctx, cache.Tags(ownerID, r.kind, id))...); err != nil {
		r.logger.Warn("failed to cache task view",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return view, true, nil
}

func (r *CachedTaskReader) entryOptions(ctx context.Context, tags []string) []cache.EntryOption {
	tags = append(tags, cacheTagsFromContext(ctx)...)
	opts := []cache.EntryOption{cache.WithTags(tags...)}
	if r.ttl > 0 {
		opts = append(opts, cache.WithTTL(r.ttl))
	}
	return opts
}
