// Package repositorycache provides the cached read path for tasks.
//
// # Overview
//
// CachedTaskReader decorates a TaskQueryExecutor (normally a
// taskquery.Executor) with cache-aside reads. Queries are normalized before
// the key is built, so two requests that differ only in defaulted fields
// share one entry.
//
//	exec := taskquery.NewExecutor(db)
//	svc, _ := cache.NewCacheService(cache.DefaultConfig())
//	reader := repositorycache.New(exec, svc, cache.NewDefaultKeyCodec())
//
//	views, err := reader.ListViews(ctx, ownerID, task.Query{Page: 1})
//
// # Keys and tags
//
// List pages are cached under "tasks.list:<owner>:<digest>" and tagged
// user:<owner>. Single lookups are cached under "tasks.get:<owner>:<digest>"
// and tagged user:<owner> and task:<id>. Any write by the owner evicts
// user:<owner>, which covers every page and every lookup for that caller.
//
// Extra tags can be attached for a single call with WithCacheTags:
//
//	ctx = repositorycache.WithCacheTags(ctx, "project:alpha")
//
// # Misses
//
// A lookup that finds nothing is not cached. Backend failures on read are
// treated as misses by the cache service and never fail the call; store
// errors propagate unchanged.
package repositorycache
