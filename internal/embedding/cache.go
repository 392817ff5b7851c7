package embedding

import (
	"container/list"
	"context"
	"fmt"
	"slices"
	"sync"

	"ragapi/internal/domain"
)

// Cached wraps an embedder with a bounded LRU keyed by text. Repeated
// queries skip the provider round trip.
type Cached struct {
	inner    domain.Embedder
	capacity int

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	text   string
	vector []float32
}

// NewCached returns an embedder that remembers up to capacity vectors.
func NewCached(inner domain.Embedder, capacity int) *Cached {
	return &Cached{
		inner:    inner,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Embed serves hits from the cache and sends only misses to the inner embedder.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	c.mu.Lock()
	for i, t := range texts {
		if el, ok := c.items[t]; ok {
			c.order.MoveToFront(el)
			out[i] = slices.Clone(el.Value.(*cacheEntry).vector)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingUnavailable, len(vecs), len(missing))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, v := range vecs {
		out[missingIdx[j]] = v
		c.put(missing[j], slices.Clone(v))
	}
	return out, nil
}

// Len reports the number of cached vectors.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cached) put(text string, v []float32) {
	if el, ok := c.items[text]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.items[text] = c.order.PushFront(&cacheEntry{text: text, vector: v})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*cacheEntry).text)
	}
}
