package livecache

import (
	"sync"

	"nuha.dev/geolog/internal/device"
)

// Cache is the in-memory latest-known-position table. Last write wins per
// key; nothing here survives a restart.
type Cache struct {
	mu sync.RWMutex
	m  map[device.ID]device.Fix
}

func New() *Cache {
	return &Cache{m: make(map[device.ID]device.Fix)}
}

// Put unconditionally overwrites the entry for fix.DeviceID. Callers decide
// what reaches the cache, there is no filtering here.
func (c *Cache) Put(fix device.Fix) {
	c.mu.Lock()
	c.m[fix.DeviceID] = fix
	c.mu.Unlock()
}

func (c *Cache) Get(id device.ID) (device.Fix, bool) {
	c.mu.RLock()
	fix, ok := c.m[id]
	c.mu.RUnlock()
	return fix, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
