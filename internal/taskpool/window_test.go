package taskpool

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seq yields n tasks; task i sleeps delay(i) and returns i.
func seq(n int, delay func(i int) time.Duration, started *atomic.Int32) func(yield func(Task[int]) bool) {
	return func(yield func(Task[int]) bool) {
		for i := 0; i < n; i++ {
			i := i
			task := func(ctx context.Context) (int, error) {
				if started != nil {
					started.Add(1)
				}
				select {
				case <-time.After(delay(i)):
				case <-ctx.Done():
					return 0, ctx.Err()
				}
				return i, nil
			}
			if !yield(task) {
				return
			}
		}
	}
}

func drain(t *testing.T, w *Window[int]) []int {
	t.Helper()
	var out []int
	for {
		v, err := w.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestWindowPreservesOrder(t *testing.T) {
	// Earlier tasks are slower than later ones.
	delay := func(i int) time.Duration { return time.Duration(20-i) * time.Millisecond }
	w := NewWindow(context.Background(), 4, seq(20, delay, nil))
	defer w.Close()

	got := drain(t, w)

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestWindowBoundsConcurrency(t *testing.T) {
	const size = 3
	var running, peak atomic.Int32
	tasks := func(yield func(Task[int]) bool) {
		for i := 0; i < 12; i++ {
			i := i
			task := func(ctx context.Context) (int, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				// Make request i+3 finish before request i.
				time.Sleep(time.Duration(12-i) * 2 * time.Millisecond)
				running.Add(-1)
				return i, nil
			}
			if !yield(task) {
				return
			}
		}
	}

	w := NewWindow(context.Background(), size, tasks)
	defer w.Close()

	for i := 0; i < 12; i++ {
		v, err := w.Next()
		require.NoError(t, err)
		assert.Equal(t, i, v)
		assert.LessOrEqual(t, w.Outstanding(), size)
	}
	_, err := w.Next()
	assert.Equal(t, io.EOF, err)

	assert.LessOrEqual(t, int(peak.Load()), size)
	assert.LessOrEqual(t, w.Peak(), size)
}

func TestWindowIsLazy(t *testing.T) {
	var started atomic.Int32
	w := NewWindow(context.Background(), 2, seq(10, func(int) time.Duration { return 0 }, &started))
	defer w.Close()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), started.Load(), "no task may start before Next")

	v, err := w.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	assert.LessOrEqual(t, started.Load(), int32(3))
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(context.Background(), 4, seq(0, nil, nil))
	_, err := w.Next()
	assert.Equal(t, io.EOF, err)
	_, err = w.Next()
	assert.Equal(t, io.EOF, err)
}

func TestWindowAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	var submitted atomic.Int32
	tasks := func(yield func(Task[int]) bool) {
		for i := 0; i < 100; i++ {
			i := i
			submitted.Add(1)
			task := func(ctx context.Context) (int, error) {
				if i == 2 {
					return 0, boom
				}
				return i, nil
			}
			if !yield(task) {
				return
			}
		}
	}

	w := NewWindow(context.Background(), 2, tasks)
	defer w.Close()

	for i := 0; i < 2; i++ {
		v, err := w.Next()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	_, err := w.Next()
	assert.ErrorIs(t, err, boom)
	n := submitted.Load()

	_, err = w.Next()
	assert.ErrorIs(t, err, boom, "error is sticky")
	assert.Equal(t, n, submitted.Load(), "no tasks submitted after failure")
	assert.Less(t, n, int32(10))
}

func TestWindowCloseCancelsOutstanding(t *testing.T) {
	cancelled := make(chan struct{}, 4)
	tasks := func(yield func(Task[int]) bool) {
		for i := 0; i < 4; i++ {
			task := func(ctx context.Context) (int, error) {
				<-ctx.Done()
				cancelled <- struct{}{}
				return 0, ctx.Err()
			}
			if !yield(task) {
				return
			}
		}
	}

	w := NewWindow(context.Background(), 4, tasks)
	go func() {
		time.Sleep(20 * time.Millisecond)
		w.cancel()
	}()

	_, err := w.Next()
	assert.ErrorIs(t, err, context.Canceled)
	w.Close()

	for i := 0; i < 4; i++ {
		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("outstanding task was not cancelled")
		}
	}
}
