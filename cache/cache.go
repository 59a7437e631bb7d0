package cache

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

var DefaultStreamURLTTL = 5 * time.Minute

type Cache struct {
	StreamURLs StreamURLCache
}

func New() *Cache {
	streamURLsCache := ccache.New(
		ccache.Configure[string]().
			MaxSize(10_000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		StreamURLs: StreamURLCache{
			c:   streamURLsCache,
			mux: sync.Mutex{},
		},
	}
}

// StreamURLCache holds resolved upstream stream URLs per track id. Entries
// are short-lived since the upstream URLs are time-limited.
type StreamURLCache struct {
	c   *ccache.Cache[string]
	mux sync.Mutex
}

func (c *StreamURLCache) Get(trackID string) (string, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	item := c.c.Get(trackID)
	if item == nil || item.Expired() {
		return "", false
	}

	return item.Value(), true
}

func (c *StreamURLCache) Set(trackID, url string, ttl time.Duration) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.c.Set(trackID, url, ttl)
}

func (c *StreamURLCache) Delete(trackID string) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.c.Delete(trackID)
}
