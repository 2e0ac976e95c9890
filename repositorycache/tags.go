package repositorycache

import (
	"context"
	"strings"
)

type extraTagsKey struct{}

// WithCacheTags returns a context whose cached reads are registered under the
// given tags in addition to the owner and entity tags. Repeated calls
// accumulate; blank and duplicate tags are dropped.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	merged := dedupeStrings(append(cacheTagsFromContext(ctx), tags...))
	if len(merged) == 0 {
		return ctx
	}
	return context.WithValue(ctx, extraTagsKey{}, merged)
}

// cacheTagsFromContext returns a copy of the extra tags carried by ctx.
func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	tags, _ := ctx.Value(extraTagsKey{}).([]string)
	if len(tags) == 0 {
		return nil
	}
	return append([]string(nil), tags...)
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
