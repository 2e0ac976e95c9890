// Package cache provides the cache-aside service, cache key codec and tag
// based invalidation used by the task read and write paths.
//
// # Overview
//
// The package exports three pieces:
//
//   - CacheService: typed get, store and fetch on top of a string Backend
//   - KeyCodec: builds stable keys from a namespace, the owner and query parameters
//   - Invalidator: evicts every entry registered under an owner or entity tag
//
// # Basic Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	keys := cache.NewDefaultKeyCodec()
//
//	key := keys.Key("tasks.list", ownerID, query)
//	views, err := cache.GetOrSet(ctx, svc, key, func(ctx context.Context) ([]task.View, error) {
//		return executor.ListViews(ctx, ownerID, query)
//	}, cache.WithTags(cache.UserTag(ownerID)))
//
// # Keys
//
// Keys have the form "<namespace>:<owner>:<digest>". The digest is the
// xxhash64 of a canonical rendering of the parameters: struct fields and map
// entries are sorted by name, strings are quoted and times are rendered in
// UTC. Function values carry no key material and render by type only.
//
// # Entries
//
// Payloads are wrapped in an envelope that records the Go type they were
// encoded from. Reading an entry into a different type is a miss, as is any
// entry that fails to decode. The default codec is msgpack; JSONCodec keeps
// entries readable when inspecting a shared Redis.
//
// # Invalidation
//
// Every entry is registered in a TagIndex before it is written, for as long as
// the entry lives. If one of its tags is taken while the value is being
// written, Set evicts the value again. InvalidateByTag atomically takes the
// tag's members and removes them. Members whose entries already expired are
// tolerated. Invalidator runs after a
// commit, detached from the caller's cancellation, and only logs failures.
//
// # Backends
//
// NewCacheService uses the in-process sturdyc backend. NewRedisCacheService
// stores entries and tag sets in Redis so several processes share them.
// Backend read failures are logged and treated as misses.
package cache
