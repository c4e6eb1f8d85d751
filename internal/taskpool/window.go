package taskpool

import (
	"context"
	"io"
	"iter"
	"sync"
)

// Task is a unit of work run by a Window.
type Task[T any] func(ctx context.Context) (T, error)

// future holds the eventual result of one submitted task.
type future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func (f *future[T]) wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Window is a bounded, order-preserving task runner. It is not safe for
// concurrent use by multiple consumers; the tasks themselves run concurrently.
type Window[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	size   int

	next func() (Task[T], bool)
	stop func()

	queue   []*future[T]
	primed  bool
	drained bool
	err     error

	mu     sync.Mutex
	active int
	peak   int
}

// NewWindow creates a window running at most size tasks from tasks at once.
// Nothing is submitted until the first call to Next.
func NewWindow[T any](ctx context.Context, size int, tasks iter.Seq[Task[T]]) *Window[T] {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull(tasks)
	return &Window[T]{
		ctx:    ctx,
		cancel: cancel,
		size:   size,
		next:   next,
		stop:   stop,
		queue:  make([]*future[T], 0, size),
	}
}

// Next blocks until the oldest outstanding task completes and returns its
// result. It returns io.EOF once all tasks have been consumed.
func (w *Window[T]) Next() (T, error) {
	var zero T
	if w.err != nil {
		return zero, w.err
	}

	if !w.primed {
		w.primed = true
		for len(w.queue) < w.size && w.submit() {
		}
	}

	if len(w.queue) == 0 {
		w.finish(io.EOF)
		return zero, io.EOF
	}

	f := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]

	val, err := f.wait()
	if err != nil {
		w.finish(err)
		return zero, err
	}

	w.submit()
	return val, nil
}

// Close abandons outstanding tasks and releases the task sequence. Tasks
// already running observe a cancelled context.
func (w *Window[T]) Close() {
	w.finish(io.ErrClosedPipe)
}

// Outstanding returns the number of submitted tasks whose results have not
// been consumed yet.
func (w *Window[T]) Outstanding() int {
	return len(w.queue)
}

// Peak returns the largest number of tasks observed running at once.
func (w *Window[T]) Peak() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peak
}

// submit starts the next task from the sequence, reporting whether one was
// available.
func (w *Window[T]) submit() bool {
	if w.drained || len(w.queue) >= w.size {
		return false
	}
	task, ok := w.next()
	if !ok {
		w.drained = true
		return false
	}

	f := &future[T]{done: make(chan struct{})}
	w.queue = append(w.queue, f)

	w.mu.Lock()
	w.active++
	if w.active > w.peak {
		w.peak = w.active
	}
	w.mu.Unlock()

	go func() {
		defer close(f.done)
		defer func() {
			w.mu.Lock()
			w.active--
			w.mu.Unlock()
		}()
		f.val, f.err = task(w.ctx)
	}()
	return true
}

// finish records the terminal error, cancels outstanding work and stops the
// task sequence. Later calls keep the first error.
func (w *Window[T]) finish(err error) {
	if w.err != nil {
		return
	}
	w.err = err
	w.queue = nil
	w.cancel()
	w.stop()
}
