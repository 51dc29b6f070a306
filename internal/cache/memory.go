// Package cache holds read-through caches for published snapshots. Published
// versions never change, so entries only leave on eviction or when a module's
// history is pruned or deleted.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/soaringjerry/Praxis/internal/services"
)

const DefaultMemoryEntries = 256

type snapshotKey struct {
	moduleID string
	version  int
}

// MemoryCache is a size-bounded LRU of snapshots.
type MemoryCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[snapshotKey]*list.Element
}

var _ services.SnapshotCache = (*MemoryCache)(nil)

func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryCache{
		max:     maxEntries,
		order:   list.New(),
		entries: map[snapshotKey]*list.Element{},
	}
}

func (c *MemoryCache) Get(_ context.Context, moduleID string, version int) (*services.PublishedSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[snapshotKey{moduleID, version}]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return services.CloneSnapshot(el.Value.(*services.PublishedSnapshot)), true
}

func (c *MemoryCache) Put(_ context.Context, snap *services.PublishedSnapshot) {
	if snap == nil {
		return
	}
	key := snapshotKey{snap.ModuleID, snap.Version}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value = services.CloneSnapshot(snap)
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(services.CloneSnapshot(snap))
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		s := oldest.Value.(*services.PublishedSnapshot)
		delete(c.entries, snapshotKey{s.ModuleID, s.Version})
	}
}

func (c *MemoryCache) Forget(_ context.Context, moduleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.entries {
		if key.moduleID == moduleID {
			c.order.Remove(el)
			delete(c.entries, key)
		}
	}
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
