package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/metrics"
)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithMaxEntries bounds the cache. Zero or negative keeps it unbounded.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) { c.maxEntries = n }
}

func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// Cache memoises provider results by exact input text. Concurrent misses for
// the same text share one provider call. Returned slices are shared between
// callers and must not be modified.
type Cache struct {
	provider   Provider
	maxEntries int
	metrics    *metrics.Metrics
	store      vectorStore
	group      singleflight.Group
}

func NewCache(provider Provider, opts ...CacheOption) (*Cache, error) {
	c := &Cache{provider: provider}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxEntries > 0 {
		store, err := newBoundedStore(c.maxEntries)
		if err != nil {
			return nil, fmt.Errorf("create bounded embedding cache: %w", err)
		}
		c.store = store
	} else {
		c.store = newMapStore()
	}
	return c, nil
}

// Get returns the embedding of text, calling the provider with the
// query-prefixed text on a miss. Provider errors are not cached.
func (c *Cache) Get(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.store.get(text); ok {
		c.metrics.CacheHit()
		return vec, nil
	}

	v, err, shared := c.group.Do(text, func() (any, error) {
		if vec, ok := c.store.get(text); ok {
			return vec, nil
		}
		// The shared call survives the starting caller's cancellation but
		// keeps its deadline.
		callCtx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithDeadline(callCtx, deadline)
			defer cancel()
		}
		c.metrics.CacheMiss()
		start := time.Now()
		vec, err := c.provider.Embed(callCtx, constants.EmbeddingQueryPrefix+text)
		c.metrics.ProviderCall(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		c.store.set(text, vec)
		return vec, nil
	})
	if shared {
		c.metrics.CacheCoalesced()
	}
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", text, err)
	}
	return v.([]float32), nil
}

// Len reports the number of cached vectors. Bounded caches report an estimate.
func (c *Cache) Len() int { return c.store.len() }

func (c *Cache) ModelName() string { return c.provider.ModelName() }

func (c *Cache) Close() { c.store.close() }

type vectorStore interface {
	get(text string) ([]float32, bool)
	set(text string, vec []float32)
	len() int
	close()
}

type mapStore struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string][]float32)}
}

func (s *mapStore) get(text string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.entries[text]
	return vec, ok
}

func (s *mapStore) set(text string, vec []float32) {
	s.mu.Lock()
	s.entries[text] = vec
	s.mu.Unlock()
}

func (s *mapStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *mapStore) close() {}

type boundedStore struct {
	cache *ristretto.Cache[string, []float32]
}

func newBoundedStore(maxEntries int) (*boundedStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &boundedStore{cache: cache}, nil
}

func (s *boundedStore) get(text string) ([]float32, bool) {
	return s.cache.Get(text)
}

func (s *boundedStore) set(text string, vec []float32) {
	s.cache.Set(text, vec, 1)
	s.cache.Wait()
}

func (s *boundedStore) len() int {
	m := s.cache.Metrics
	if m == nil {
		return 0
	}
	added, evicted := m.KeysAdded(), m.KeysEvicted()
	if evicted > added {
		return 0
	}
	return int(added - evicted)
}

func (s *boundedStore) close() { s.cache.Close() }
