package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationCacheSingleFetch(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})
	cache := newLocationCache(time.Hour, func(ctx context.Context) (downloadOutput, error) {
		fetches.Add(1)
		<-release
		return downloadOutput{URL: "https://dl.example/a", Headers: map[string]string{"X-Grant": "g"}}, nil
	})

	var wg sync.WaitGroup
	urls := make([]string, 16)
	for i := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := cache.get(context.Background())
			if err == nil {
				urls[i] = loc.URL
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for _, u := range urls {
		assert.Equal(t, "https://dl.example/a", u)
	}

	loc, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "g", loc.Header.Get("X-Grant"))
	assert.Equal(t, int32(1), fetches.Load())
}

func TestLocationCacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var fetches int
	cache := newLocationCache(10*time.Minute, func(ctx context.Context) (downloadOutput, error) {
		fetches++
		return downloadOutput{URL: "u"}, nil
	})
	cache.now = func() time.Time { return now }

	_, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	// Valid until duration minus the drift margin.
	now = now.Add(9*time.Minute - time.Second)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	now = now.Add(2 * time.Second)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestLocationCacheUsesReportedExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var fetches int
	cache := newLocationCache(time.Hour, func(ctx context.Context) (downloadOutput, error) {
		fetches++
		return downloadOutput{URL: "u", Expires: now.Add(5 * time.Minute).UnixMilli()}, nil
	})
	cache.now = func() time.Time { return now }

	_, err := cache.get(context.Background())
	require.NoError(t, err)

	now = now.Add(4*time.Minute - time.Second)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	now = now.Add(2 * time.Second)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestLocationCacheInvalidate(t *testing.T) {
	var fetches int
	cache := newLocationCache(time.Hour, func(ctx context.Context) (downloadOutput, error) {
		fetches++
		if fetches == 1 {
			return downloadOutput{URL: "old"}, nil
		}
		return downloadOutput{URL: "new"}, nil
	})

	loc, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", loc.URL)

	cache.invalidate("stale")
	loc, _ = cache.get(context.Background())
	assert.Equal(t, "old", loc.URL, "invalidating another url keeps the cache")

	cache.invalidate("old")
	loc, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", loc.URL)
	assert.Equal(t, 2, fetches)
}

func TestLocationCacheFetchError(t *testing.T) {
	boom := errors.New("boom")
	var fetches int
	cache := newLocationCache(time.Hour, func(ctx context.Context) (downloadOutput, error) {
		fetches++
		if fetches == 1 {
			return downloadOutput{}, boom
		}
		return downloadOutput{URL: "u"}, nil
	})

	_, err := cache.get(context.Background())
	assert.ErrorIs(t, err, boom)

	loc, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u", loc.URL)
}
