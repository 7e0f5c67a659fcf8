package ollama

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ShowCache keeps /api/show answers per model for GET /models/{name}.
// "llama3" and "llama3:latest" share one entry.
type ShowCache struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	shows map[string]cachedShow
}

type cachedShow struct {
	show    ShowResponse
	fetched time.Time
}

// NewShowCache creates a cache over client. A non-positive ttl disables
// caching.
func NewShowCache(client *Client, ttl time.Duration) *ShowCache {
	return &ShowCache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		shows:  make(map[string]cachedShow),
	}
}

func cacheKey(model string) string {
	if model != "" && !strings.Contains(model, ":") {
		return model + ":latest"
	}
	return model
}

// Get returns the model's show answer, fetching it when absent or older
// than the ttl. Failed fetches leave the cache untouched.
func (c *ShowCache) Get(ctx context.Context, model string) (ShowResponse, error) {
	if c.ttl <= 0 {
		return c.client.Show(ctx, model, false)
	}
	key := cacheKey(model)

	c.mu.Lock()
	hit, ok := c.shows[key]
	c.mu.Unlock()
	if ok && c.now().Sub(hit.fetched) < c.ttl {
		return hit.show, nil
	}

	show, err := c.client.Show(ctx, model, false)
	if err != nil {
		return ShowResponse{}, err
	}

	now := c.now()
	c.mu.Lock()
	for k, v := range c.shows {
		if now.Sub(v.fetched) >= c.ttl {
			delete(c.shows, k)
		}
	}
	c.shows[key] = cachedShow{show: show, fetched: now}
	c.mu.Unlock()
	return show, nil
}

// Invalidate drops the entry for model so the next Get refetches it.
func (c *ShowCache) Invalidate(model string) {
	c.mu.Lock()
	delete(c.shows, cacheKey(model))
	c.mu.Unlock()
}
