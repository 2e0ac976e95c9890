package cacheinfra

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// tagTTLGrace keeps a membership slightly past its entry so an
	// invalidation racing the expiry still finds the key.
	tagTTLGrace = time.Second
	// sweepInterval is the minimum time between sweeps of expired members.
	sweepInterval = time.Minute
)

type tagMembers struct {
	// key -> expiry, zero for entries without a TTL
	keys *xsync.MapOf[string, time.Time]
}

// MemoryTagIndex maps tags to the set of keys cached under them, in process.
// A membership lives as long as the entry it was added with. Adds sweep
// expired members at most once per sweepInterval and drop tags left empty.
type MemoryTagIndex struct {
	tags      *xsync.MapOf[string, *tagMembers]
	now       func() time.Time
	lastSweep atomic.Int64
}

func NewMemoryTagIndex() *MemoryTagIndex {
	i := &MemoryTagIndex{
		tags: xsync.NewMapOf[string, *tagMembers](),
		now:  time.Now,
	}
	i.lastSweep.Store(i.now().UnixNano())
	return i
}

// Add records key as a member of every tag for ttl.
func (i *MemoryTagIndex) Add(ctx context.Context, key string, ttl time.Duration, tags ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := i.now()
	var expiry time.Time
	if ttl > 0 {
		expiry = now.Add(ttl + tagTTLGrace)
	}

	for _, tag := range tags {
		// Compute keeps the member insert atomic with respect to Take on the same tag.
		i.tags.Compute(tag, func(members *tagMembers, loaded bool) (*tagMembers, bool) {
			if !loaded {
				members = &tagMembers{keys: xsync.NewMapOf[string, time.Time]()}
			}
			members.keys.Compute(key, func(old time.Time, loaded bool) (time.Time, bool) {
				if loaded && (old.IsZero() || (!expiry.IsZero() && old.After(expiry))) {
					return old, false
				}
				return expiry, false
			})
			return members, false
		})
	}

	last := i.lastSweep.Load()
	if now.UnixNano()-last >= int64(sweepInterval) && i.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		i.sweep(now)
	}
	return nil
}

// Contains reports whether key is a live member of every tag.
func (i *MemoryTagIndex) Contains(ctx context.Context, key string, tags ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := i.now()
	for _, tag := range tags {
		members, ok := i.tags.Load(tag)
		if !ok {
			return false, nil
		}
		expiry, ok := members.keys.Load(key)
		if !ok || expired(expiry, now) {
			return false, nil
		}
	}
	return true, nil
}

// Take removes the tag and returns the keys that were registered under it.
func (i *MemoryTagIndex) Take(ctx context.Context, tag string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	members, ok := i.tags.LoadAndDelete(tag)
	if !ok {
		return nil, nil
	}
	return members.live(i.now()), nil
}

// Members returns a snapshot of the live keys registered under tag.
func (i *MemoryTagIndex) Members(tag string) []string {
	members, ok := i.tags.Load(tag)
	if !ok {
		return nil
	}
	return members.live(i.now())
}

// sweep drops expired members and the tags they leave empty.
func (i *MemoryTagIndex) sweep(now time.Time) {
	i.tags.Range(func(tag string, _ *tagMembers) bool {
		i.tags.Compute(tag, func(members *tagMembers, loaded bool) (*tagMembers, bool) {
			if !loaded {
				return nil, true
			}
			members.sweep(now)
			return members, members.keys.Size() == 0
		})
		return true
	})
}

func (m *tagMembers) sweep(now time.Time) {
	m.keys.Range(func(key string, expiry time.Time) bool {
		if expired(expiry, now) {
			m.keys.Delete(key)
		}
		return true
	})
}

func (m *tagMembers) live(now time.Time) []string {
	keys := make([]string, 0, m.keys.Size())
	m.keys.Range(func(key string, expiry time.Time) bool {
		if !expired(expiry, now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

func expired(expiry, now time.Time) bool {
	return !expiry.IsZero() && !now.Before(expiry)
}
