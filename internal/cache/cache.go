// Package cache implements the process-local artifact cache: a byte-bounded
// LRU over (provider, repo, sha, path). Values are immutable because they are
// addressed by commit SHA; eviction is purely size-driven.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key addresses one artifact. SHA pins the content, so identical keys always
// carry identical bytes.
type Key struct {
	Provider string
	Repo     string
	SHA      string
	Path     string
}

func (k Key) normalized() string {
	return strings.Join([]string{k.Provider, k.Repo, k.SHA, k.Path}, "\x00")
}

// Token returns the stable cacheKey surfaced to clients: the first 16 hex
// characters of the SHA-256 of the normalized key. It is a pure function of
// the key, so it is identical across sessions and processes.
func (k Key) Token() string {
	sum := sha256.Sum256([]byte(k.normalized()))
	return hex.EncodeToString(sum[:])[:16]
}

type entry struct {
	key  string
	data []byte
}

// Cache is safe for concurrent use. The mutex guards only the index and the
// recency list; loader I/O runs outside it, deduplicated per key by a
// singleflight group so concurrent identical loads hit the backend once.
type Cache struct {
	mu     sync.Mutex
	budget int64
	used   int64
	ll     *list.List
	index  map[string]*list.Element
	group  singleflight.Group
}

// New creates a cache with the given byte budget. A non-positive budget
// disables retention but keeps request deduplication.
func New(budget int64) *Cache {
	return &Cache{
		budget: budget,
		ll:     list.New(),
		index:  make(map[string]*list.Element),
	}
}

// Get returns the cached bytes for k, marking the entry most recently used.
func (c *Cache) Get(k Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[k.normalized()]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).data, true
}

// GetOrLoad returns the cached bytes for k, loading them once on miss.
// Concurrent callers with the same key share a single load.
func (c *Cache) GetOrLoad(ctx context.Context, k Key, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok := c.Get(k); ok {
		return data, nil
	}

	norm := k.normalized()
	v, err, _ := c.group.Do(norm, func() (any, error) {
		// Re-check under the flight: another caller may have stored the
		// value between our miss and acquiring the flight.
		if data, ok := c.Get(k); ok {
			return data, nil
		}
		data, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.put(norm, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) put(norm string, data []byte) {
	size := int64(len(data))
	if c.budget <= 0 || size > c.budget {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[norm]; ok {
		// Values are content-addressed; a concurrent write carried the same
		// bytes, so last-writer-wins is a no-op.
		return
	}
	el := c.ll.PushFront(&entry{key: norm, data: data})
	c.index[norm] = el
	c.used += size

	for c.used > c.budget {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		c.ll.Remove(oldest)
		delete(c.index, e.key)
		c.used -= int64(len(e.data))
	}
}

// Len reports the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Used reports the resident byte total.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
