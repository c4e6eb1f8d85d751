package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// expiryMargin is subtracted from a location's lifetime to absorb clock drift.
const expiryMargin = 60 * time.Second

// location is a pre-authenticated download URL plus the headers to send with it.
type location struct {
	URL     string
	Header  http.Header
	expires time.Time
}

// locationCache hands out the current download location of one object,
// fetching a new one when the cached location has expired. Concurrent callers
// share a single fetch.
type locationCache struct {
	fetch    func(ctx context.Context) (downloadOutput, error)
	duration time.Duration
	now      func() time.Time

	mu  sync.Mutex
	cur *location

	group singleflight.Group
}

func newLocationCache(duration time.Duration, fetch func(ctx context.Context) (downloadOutput, error)) *locationCache {
	return &locationCache{
		fetch:    fetch,
		duration: duration,
		now:      time.Now,
	}
}

func (c *locationCache) cached() (location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || !c.now().Before(c.cur.expires) {
		return location{}, false
	}
	return *c.cur, true
}

// get returns a valid location, fetching one if needed.
func (c *locationCache) get(ctx context.Context) (location, error) {
	if loc, ok := c.cached(); ok {
		return loc, nil
	}

	v, err, _ := c.group.Do("location", func() (any, error) {
		if loc, ok := c.cached(); ok {
			return loc, nil
		}
		requested := c.now()
		out, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		loc := location{
			URL:     out.URL,
			Header:  make(http.Header, len(out.Headers)),
			expires: c.expiry(requested, out.Expires),
		}
		for k, v := range out.Headers {
			loc.Header.Set(k, v)
		}

		c.mu.Lock()
		c.cur = &loc
		c.mu.Unlock()
		return loc, nil
	})
	if err != nil {
		return location{}, err
	}
	return v.(location), nil
}

func (c *locationCache) expiry(requested time.Time, expiresMillis int64) time.Time {
	margin := expiryMargin
	if c.duration <= 2*margin {
		margin = c.duration / 2
	}
	if expiresMillis > 0 {
		return time.UnixMilli(expiresMillis).Add(-margin)
	}
	return requested.Add(c.duration - margin)
}

// invalidate drops the cached location if it still points at url.
func (c *locationCache) invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && c.cur.URL == url {
		c.cur = nil
	}
}
