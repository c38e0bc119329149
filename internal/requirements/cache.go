package requirements

import (
	"path/filepath"
	"sync"
)

// Factory builds a fresh Service rooted at an on-disk base path. Production
// wiring supplies one backed by the document store; tests can supply one
// that hands out MemoryService instances.
type Factory func(basePath string) Service

// Cache maps a normalized base path to the Service instance serving it,
// grounded in the original MCP server's process-wide service_cache.py: the
// active base path rarely changes, so services are built once and reused
// (spec.md §4.3's "Requirements service cache"). It is cleared wholesale
// whenever the server's active base path changes.
type Cache struct {
	mu      sync.Mutex
	factory Factory
	byPath  map[string]Service
}

// NewCache returns a cache that lazily builds services with factory.
func NewCache(factory Factory) *Cache {
	return &Cache{factory: factory, byPath: make(map[string]Service)}
}

// Get returns the cached Service for basePath, building and storing one on
// first access. basePath is cleaned so that equivalent paths (trailing
// slash, "." segments) share one instance.
func (c *Cache) Get(basePath string) Service {
	key := filepath.Clean(basePath)
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.byPath[key]; ok {
		return svc
	}
	svc := c.factory(key)
	c.byPath[key] = svc
	return svc
}

// Clear drops every cached Service, used when the server's active base path
// is reassigned and stale instances must not be reused.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPath = make(map[string]Service)
}
