package cache

import (
    "container/list"
    "context"
    "crypto/sha256"
    "encoding/hex"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "golang.org/x/sync/singleflight"
)

// Namespaces partition the fingerprint space so identical parameter strings
// from different phases never collide.
const (
    NSSearch    = "search-list"
    NSBody      = "report-body"
    NSArchive   = "document-archive"
    NSDirectory = "company-directory"
)

// Default TTLs per namespace.
const (
    TTLSearch    = 24 * time.Hour
    TTLBody      = 24 * time.Hour
    TTLDirectory = 7 * 24 * time.Hour
)

// DefaultMaxBytes bounds total cached payload size.
const DefaultMaxBytes = 512 << 20

// Fingerprint builds a cache key from a namespace and canonical parameter
// parts. Entries are pure functions of this fingerprint.
func Fingerprint(namespace string, parts ...string) string {
    h := sha256.Sum256([]byte(namespace + "\n" + strings.Join(parts, "\n")))
    return hex.EncodeToString(h[:])
}

type entry struct {
    key     string
    data    []byte
    expires time.Time
    elem    *list.Element
}

// Cache is a process-wide, byte-bounded, LRU read-through cache. Concurrent
// misses for the same fingerprint coalesce: one origin fetch runs, every
// waiter receives its result. Failed fetches are never cached.
type Cache struct {
    mu       sync.Mutex
    entries  map[string]*entry
    lru      *list.List // front = most recent
    bytes    int64
    maxBytes int64

    group  singleflight.Group
    hits   atomic.Int64
    misses atomic.Int64

    // now is replaceable in tests.
    now func() time.Time
}

func New(maxBytes int64) *Cache {
    if maxBytes <= 0 {
        maxBytes = DefaultMaxBytes
    }
    return &Cache{
        entries:  map[string]*entry{},
        lru:      list.New(),
        maxBytes: maxBytes,
        now:      time.Now,
    }
}

// Get returns the cached payload for key if present and unexpired.
func (c *Cache) Get(key string) ([]byte, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    e, ok := c.entries[key]
    if !ok {
        c.misses.Add(1)
        return nil, false
    }
    if c.now().After(e.expires) {
        c.removeLocked(e)
        c.misses.Add(1)
        return nil, false
    }
    c.lru.MoveToFront(e.elem)
    c.hits.Add(1)
    return e.data, true
}

// Put stores a payload under key with the given TTL, evicting cold entries
// when the byte bound is exceeded.
func (c *Cache) Put(key string, data []byte, ttl time.Duration) {
    if len(data) == 0 || int64(len(data)) > c.maxBytes {
        return
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    if old, ok := c.entries[key]; ok {
        c.removeLocked(old)
    }
    e := &entry{key: key, data: data, expires: c.now().Add(ttl)}
    e.elem = c.lru.PushFront(e)
    c.entries[key] = e
    c.bytes += int64(len(data))
    for c.bytes > c.maxBytes {
        back := c.lru.Back()
        if back == nil {
            break
        }
        c.removeLocked(back.Value.(*entry))
    }
}

// Delete drops one entry, if present.
func (c *Cache) Delete(key string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if e, ok := c.entries[key]; ok {
        c.removeLocked(e)
    }
}

func (c *Cache) removeLocked(e *entry) {
    c.lru.Remove(e.elem)
    delete(c.entries, e.key)
    c.bytes -= int64(len(e.data))
}

// GetOrFill returns the cached payload, or runs fill once per key across all
// concurrent callers and caches its result. The hit return is true only when
// the payload came from the cache without invoking fill for this caller.
func (c *Cache) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
    if data, ok := c.Get(key); ok {
        return data, true, nil
    }
    filled := false
    v, err, _ := c.group.Do(key, func() (any, error) {
        // Re-check: another goroutine may have filled between Get and Do.
        if data, ok := c.Get(key); ok {
            return data, nil
        }
        filled = true
        data, err := fill(ctx)
        if err != nil {
            return nil, err
        }
        c.Put(key, data, ttl)
        return data, nil
    })
    if err != nil {
        return nil, false, err
    }
    return v.([]byte), !filled, nil
}

// Counters returns cumulative hit and miss counts. The orchestrator
// snapshots these around a run to compute a per-run hit rate.
func (c *Cache) Counters() (hits, misses int64) {
    return c.hits.Load(), c.misses.Load()
}
