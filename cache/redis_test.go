package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestNewRedisCacheService(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc, err := NewRedisCacheService(client, DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create redis cache service: %v", err)
	}

	calls := 0
	fetch := func(ctx context.Context) ([]widget, error) {
		calls++
		return []widget{{ID: "w1"}, {ID: "w2"}}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := GetOrSet(ctx, svc, "tasks.list:u1:x", fetch, WithTags(UserTag("u1")))
		if err != nil {
			t.Fatalf("GetOrSet failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 widgets, got %d", len(got))
		}
	}
	if calls != 1 {
		t.Errorf("expected one fetch, got %d", calls)
	}

	// a second service on the same redis sees the entry
	other, err := NewRedisCacheService(client, DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create second service: %v", err)
	}
	removed, err := other.InvalidateByTag(ctx, UserTag("u1"))
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}

	var w []widget
	if svc.Get(ctx, "tasks.list:u1:x", &w) {
		t.Error("expected entry evicted across services")
	}
}

func TestNewRedisCacheService_InvalidConfig(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.TTL = 0
	if _, err := NewRedisCacheService(client, cfg); err == nil {
		t.Error("expected invalid config to be rejected")
	}
}
