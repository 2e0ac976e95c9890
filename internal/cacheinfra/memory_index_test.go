package cacheinfra

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestMemoryTagIndex_AddTake(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryTagIndex()

	if err := index.Add(ctx, "k1", time.Minute, "user:u1", "task:t1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := index.Add(ctx, "k2", time.Minute, "user:u1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := index.Add(ctx, "k2", time.Minute, "user:u1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	keys, err := index.Take(ctx, "user:u1")
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Errorf("expected [k1 k2], got %v", keys)
	}

	if again, _ := index.Take(ctx, "user:u1"); len(again) != 0 {
		t.Errorf("expected tag to be drained, got %v", again)
	}
	if members := index.Members("task:t1"); len(members) != 1 || members[0] != "k1" {
		t.Errorf("expected other tags untouched, got %v", members)
	}
}

func TestMemoryTagIndex_ConcurrentAddDuringTake(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryTagIndex()

	const writers = 8
	const perWriter = 200

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken = make(map[string]struct{})
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = index.Add(ctx, fmt.Sprintf("k-%d-%d", w, i), time.Minute, "user:u1")
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			keys, _ := index.Take(ctx, "user:u1")
			mu.Lock()
			for _, k := range keys {
				taken[k] = struct{}{}
			}
			mu.Unlock()
		}
	}()

	wg.Wait()
	<-done

	rest, _ := index.Take(ctx, "user:u1")
	for _, k := range rest {
		taken[k] = struct{}{}
	}

	// every registered key is returned by exactly one of the takes
	if len(taken) != writers*perWriter {
		t.Errorf("expected %d keys across takes, got %d", writers*perWriter, len(taken))
	}
}

func TestMemoryTagIndex_Contains(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryTagIndex()

	if err := index.Add(ctx, "k1", time.Minute, "user:u1", "task:t1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if ok, err := index.Contains(ctx, "k1", "user:u1", "task:t1"); err != nil || !ok {
		t.Errorf("expected k1 under both tags, ok=%v err=%v", ok, err)
	}
	if ok, _ := index.Contains(ctx, "k2", "user:u1"); ok {
		t.Error("expected unknown key to be absent")
	}

	if _, err := index.Take(ctx, "task:t1"); err != nil {
		t.Fatalf("take failed: %v", err)
	}
	if ok, _ := index.Contains(ctx, "k1", "user:u1", "task:t1"); ok {
		t.Error("expected membership to be lost once one tag is taken")
	}
}

func TestMemoryTagIndex_ExpiredMembersArePruned(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryTagIndex()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index.now = func() time.Time { return clock }
	index.lastSweep.Store(clock.UnixNano())

	if err := index.Add(ctx, "short", time.Minute, "user:u1", "task:t1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := index.Add(ctx, "long", time.Hour, "user:u1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := index.Add(ctx, "forever", 0, "user:u1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	clock = clock.Add(2 * time.Minute)

	members := index.Members("user:u1")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "forever" || members[1] != "long" {
		t.Errorf("expected expired member to be hidden, got %v", members)
	}
	if ok, _ := index.Contains(ctx, "short", "user:u1"); ok {
		t.Error("expected expired membership to read as absent")
	}

	// an add after the sweep interval drops expired members and empty tags
	clock = clock.Add(sweepInterval)
	if err := index.Add(ctx, "other", time.Minute, "user:u2"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	users, _ := index.tags.Load("user:u1")
	if _, ok := users.keys.Load("short"); ok {
		t.Error("expected sweep to drop the expired member")
	}
	if users.keys.Size() != 2 {
		t.Errorf("expected 2 members after sweep, got %d", users.keys.Size())
	}
	if _, ok := index.tags.Load("task:t1"); ok {
		t.Error("expected tag with only expired members to be dropped")
	}
	if n := index.tags.Size(); n != 2 {
		t.Errorf("expected 2 tags tracked, got %d", n)
	}

	// within the interval nothing is swept
	_ = index.Add(ctx, "brief", time.Millisecond, "task:t2")
	clock = clock.Add(30 * time.Second)
	_ = index.Add(ctx, "other", time.Minute, "user:u2")
	if _, ok := index.tags.Load("task:t2"); !ok {
		t.Error("expected no sweep before the interval elapsed")
	}
}

func TestMemoryTagIndex_AddKeepsLongestExpiry(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryTagIndex()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index.now = func() time.Time { return clock }

	_ = index.Add(ctx, "k", time.Hour, "user:u1")
	_ = index.Add(ctx, "k", time.Minute, "user:u1")

	clock = clock.Add(10 * time.Minute)
	if ok, _ := index.Contains(ctx, "k", "user:u1"); !ok {
		t.Error("expected a shorter re-add not to shorten the membership")
	}
}
