/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package transformhost

import (
	"container/list"
	"sync"
	"time"
)

// CacheKey identifies one cached transform. Two versions of the same URL
// are distinct entries — this is the cache-busting scheme spec.md §6
// requires: a forced reload bumps Version, so the old entry simply ages
// out of the LRU rather than needing explicit invalidation.
type CacheKey struct {
	URL     string
	Version uint64
}

// CacheEntry stores transformed code and the specifiers it depends on.
type CacheEntry struct {
	Code         []byte
	Dependencies []string
	Size         int64
	AccessTime   time.Time
}

// Cache is a thread-safe, size-bounded LRU cache of transformed module
// sources, adapted from the teacher's file-metadata-keyed transform
// cache to key on (url, version) instead of (path, mtime, size).
type Cache struct {
	mu sync.RWMutex

	entries map[CacheKey]*CacheEntry
	lru     *list.List
	lruMap  map[CacheKey]*list.Element

	// dependents maps a URL to the URLs whose cached entries name it as
	// a dependency, for transitive Invalidate.
	dependents map[string][]string

	hits      int64
	misses    int64
	evictions int64

	maxSize int64
	curSize int64
}

type lruEntry struct {
	key CacheKey
}

// NewCache creates a transform cache bounded to maxSizeBytes.
func NewCache(maxSizeBytes int64) *Cache {
	return &Cache{
		entries:    make(map[CacheKey]*CacheEntry),
		lru:        list.New(),
		lruMap:     make(map[CacheKey]*list.Element),
		dependents: make(map[string][]string),
		maxSize:    maxSizeBytes,
	}
}

// Get retrieves a cached entry if present, marking it most-recently-used.
func (c *Cache) Get(key CacheKey) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		c.misses++
		return nil, false
	}

	entry.AccessTime = time.Now()
	if elem, ok := c.lruMap[key]; ok {
		c.lru.MoveToFront(elem)
	}

	c.hits++
	return entry, true
}

// Set adds or updates a cache entry and records its dependency edges.
func (c *Cache) Set(key CacheKey, code []byte, dependencies []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entrySize := int64(len(code))

	if existing, found := c.entries[key]; found {
		c.curSize += entrySize - existing.Size
		existing.Code = code
		existing.Dependencies = dependencies
		existing.Size = entrySize
		existing.AccessTime = time.Now()
		if elem, ok := c.lruMap[key]; ok {
			c.lru.MoveToFront(elem)
		}
	} else {
		entry := &CacheEntry{
			Code:         code,
			Dependencies: dependencies,
			Size:         entrySize,
			AccessTime:   time.Now(),
		}
		c.entries[key] = entry
		c.curSize += entrySize
		c.lruMap[key] = c.lru.PushFront(lruEntry{key: key})
	}

	for _, dep := range dependencies {
		c.addDependent(dep, key.URL)
	}

	c.evictIfNeeded()
}

func (c *Cache) addDependent(dep, dependent string) {
	for _, d := range c.dependents[dep] {
		if d == dependent {
			return
		}
	}
	c.dependents[dep] = append(c.dependents[dep], dependent)
}

func (c *Cache) evictIfNeeded() {
	for c.curSize > c.maxSize && c.lru.Len() > 0 {
		elem := c.lru.Back()
		if elem == nil {
			break
		}
		c.evict(elem.Value.(lruEntry).key)
		c.evictions++
	}
}

func (c *Cache) evict(key CacheKey) {
	entry, found := c.entries[key]
	if !found {
		return
	}

	delete(c.entries, key)
	c.curSize -= entry.Size

	if elem, ok := c.lruMap[key]; ok {
		c.lru.Remove(elem)
		delete(c.lruMap, key)
	}

	c.removeDependents(key.URL)
}

func (c *Cache) removeDependents(url string) {
	delete(c.dependents, url)
	for dep, dependentList := range c.dependents {
		filtered := dependentList[:0:0]
		for _, d := range dependentList {
			if d != url {
				filtered = append(filtered, d)
			}
		}
		if len(filtered) > 0 {
			c.dependents[dep] = filtered
		} else {
			delete(c.dependents, dep)
		}
	}
}

// Invalidate evicts every cached entry (at any version) for url and its
// transitive dependents, returning the URLs invalidated.
func (c *Cache) Invalidate(url string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var invalidated []string
	visited := make(map[string]bool)
	c.invalidateRecursive(url, visited, &invalidated)
	return invalidated
}

func (c *Cache) invalidateRecursive(url string, visited map[string]bool, invalidated *[]string) {
	if visited[url] {
		return
	}
	visited[url] = true

	dependentsList := append([]string(nil), c.dependents[url]...)

	evictedAny := false
	for key := range c.entries {
		if key.URL == url {
			c.evict(key)
			evictedAny = true
		}
	}
	if evictedAny {
		*invalidated = append(*invalidated, url)
	}

	for _, dependent := range dependentsList {
		c.invalidateRecursive(dependent, visited, invalidated)
	}
}

// Stats reports cache metrics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Entries:   len(c.entries),
		SizeBytes: c.curSize,
		MaxSize:   c.maxSize,
		Evictions: c.evictions,
		HitRate:   c.hitRate(),
	}
}

func (c *Cache) hitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[CacheKey]*CacheEntry)
	c.lru.Init()
	c.lruMap = make(map[CacheKey]*list.Element)
	c.dependents = make(map[string][]string)
	c.curSize = 0
}

// CacheStats is a point-in-time snapshot of cache metrics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Entries   int
	SizeBytes int64
	MaxSize   int64
	Evictions int64
	HitRate   float64
}
