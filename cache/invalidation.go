package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Invalidator evicts cached reads after a write has committed. Failures are
// logged and never reach the write that triggered them.
type Invalidator struct {
	cache   CacheService
	logger  *slog.Logger
	async   bool
	timeout time.Duration
	wg      conc.WaitGroup
}

// InvalidatorOption configures an Invalidator.
type InvalidatorOption func(*Invalidator)

// WithAsync runs invalidations on their own goroutine so the caller returns immediately.
func WithAsync() InvalidatorOption {
	return func(i *Invalidator) {
		i.async = true
	}
}

// WithInvalidationTimeout bounds each invalidation run. Defaults to 5s.
func WithInvalidationTimeout(d time.Duration) InvalidatorOption {
	return func(i *Invalidator) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithInvalidatorLogger sets the logger.
func WithInvalidatorLogger(logger *slog.Logger) InvalidatorOption {
	return func(i *Invalidator) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func NewInvalidator(cache CacheService, opts ...InvalidatorOption) *Invalidator {
	i := &Invalidator{
		cache:   cache,
		logger:  slog.Default().WithGroup("cache").WithGroup("invalidation"),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invalidate evicts user:<ownerID> and <kind>:<id> for each entity id.
// The caller's cancellation does not abort an invalidation already scheduled.
func (i *Invalidator) Invalidate(ctx context.Context, kind, ownerID string, entityIDs ...string) {
	tags := Tags(ownerID, kind, entityIDs...)
	if len(tags) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	run := func() {
		var catcher panics.Catcher
		catcher.Try(func() { i.evict(ctx, tags) })
		if r := catcher.Recovered(); r != nil {
			i.logger.Error("cache invalidation panicked",
				slog.Any("tags", tags),
				slog.String("error", r.AsError().Error()),
			)
		}
	}

	if i.async {
		i.wg.Go(run)
		return
	}
	run()
}

// Wait blocks until every scheduled invalidation has finished. Call it at shutdown.
func (i *Invalidator) Wait() {
	i.wg.Wait()
}

func (i *Invalidator) evict(ctx context.Context, tags []string) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	for _, tag := range tags {
		removed, err := i.cache.InvalidateByTag(ctx, tag)
		if err != nil {
			i.logger.Warn("cache invalidation failed",
				slog.String("tag", tag),
				slog.String("error", err.Error()),
			)
			continue
		}
		i.logger.Debug("cache tag invalidated",
			slog.String("tag", tag),
			slog.Int("removed", removed),
		)
	}
}
