package remote

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ligustah/objstream/internal/taskpool"
	"github.com/ligustah/objstream/pkg/transport"
)

// byteRange is the half-open interval [start, end) of object bytes.
type byteRange struct {
	start, end int64
}

func (r byteRange) len() int64 {
	return r.end - r.start
}

// header renders the range as an inclusive HTTP Range header value.
func (r byteRange) header() string {
	return "bytes=" + strconv.FormatInt(r.start, 10) + "-" + strconv.FormatInt(r.end-1, 10)
}

// ranges splits [start, end) into consecutive ranges of at most size bytes.
func ranges(start, end, size int64) iter.Seq[byteRange] {
	return func(yield func(byteRange) bool) {
		for off := start; off < end; off += size {
			if !yield(byteRange{start: off, end: min(off+size, end)}) {
				return
			}
		}
	}
}

// Read reads up to len(p) bytes from the current position. The object must be
// closed; an object known to be closing is described once to check whether it
// has finished. Bytes are served from the last fetched chunk first, then from
// the pipeline of ranged reads, which is started lazily at the current
// position. Read returns io.EOF at the end of the object.
func (o *Object) Read(p []byte) (int, error) {
	if err := o.readable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if n := o.readBuffered(p); n > 0 {
		return n, nil
	}
	if o.pos >= o.Size() {
		return 0, io.EOF
	}

	if o.pipeline == nil {
		o.nextChunk = o.pos
		o.pipeline = taskpool.NewWindow(o.ctx, o.opts.ReadConcurrency, o.chunks(o.pos, o.Size()))
	}
	chunk, err := o.pipeline.Next()
	if err != nil {
		return 0, err
	}
	o.chunk = chunk
	o.chunkPos = o.nextChunk
	o.nextChunk += int64(len(chunk))

	return o.readBuffered(p), nil
}

// readBuffered copies bytes at the current position out of the last chunk.
func (o *Object) readBuffered(p []byte) int {
	off := o.pos - o.chunkPos
	if o.chunk == nil || off < 0 || off >= int64(len(o.chunk)) {
		return 0
	}
	n := copy(p, o.chunk[off:])
	o.pos += int64(n)
	return n
}

func (o *Object) readable() error {
	switch o.State() {
	case StateClosed:
		return nil
	case StateClosing:
		if err := o.Refresh(o.ctx); err != nil {
			return err
		}
		if s := o.State(); s != StateClosed {
			return &UsageError{Op: "read", ID: o.id, Reason: fmt.Sprintf("object is %s", s)}
		}
		return nil
	}
	return &UsageError{Op: "read", ID: o.id, Reason: fmt.Sprintf("object is %s", o.State())}
}

// Seek sets the read position. Seeking within the last fetched chunk, or to
// the current position, keeps the read pipeline; any other target discards it
// and the next Read starts a new one.
func (o *Object) Seek(offset int64, whence int) (int64, error) {
	var ref int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		ref = o.pos
	case io.SeekEnd:
		if err := o.readable(); err != nil {
			return o.pos, err
		}
		ref = o.Size()
	default:
		return o.pos, &UsageError{Op: "seek", ID: o.id, Reason: fmt.Sprintf("invalid whence %d", whence)}
	}

	target := ref + offset
	if target < 0 {
		return o.pos, &UsageError{Op: "seek", ID: o.id, Reason: fmt.Sprintf("negative position %d", target)}
	}

	switch {
	case target == o.pos:
	case o.chunk != nil && target >= o.chunkPos && target < o.chunkPos+int64(len(o.chunk)):
	default:
		o.resetPipeline()
	}
	o.pos = target
	return target, nil
}

// Tell returns the current read position.
func (o *Object) Tell() int64 {
	return o.pos
}

func (o *Object) resetPipeline() {
	if o.pipeline != nil {
		o.pipeline.Close()
		o.pipeline = nil
	}
	o.chunk = nil
	o.chunkPos = 0
}

// CloseReader releases the read pipeline. Outstanding range requests are
// cancelled.
func (o *Object) CloseReader() {
	o.resetPipeline()
}

func (o *Object) chunks(start, end int64) iter.Seq[taskpool.Task[[]byte]] {
	return func(yield func(taskpool.Task[[]byte]) bool) {
		for r := range ranges(start, end, o.opts.ReadChunkSize) {
			task := func(ctx context.Context) ([]byte, error) {
				return o.fetchRange(ctx, r)
			}
			if !yield(task) {
				return
			}
		}
	}
}

// fetchRange downloads one range. A location rejected as expired is dropped
// from the cache and the range is fetched once more with a fresh one.
func (o *Object) fetchRange(ctx context.Context, r byteRange) ([]byte, error) {
	for refreshed := false; ; refreshed = true {
		loc, err := o.locations.get(ctx)
		if err != nil {
			return nil, err
		}

		req := o.client.NewRequest(http.MethodGet, loc.URL)
		for k, vs := range loc.Header {
			req.Header[k] = vs
		}
		req.Header.Set("Range", r.header())
		req.NoAuth = true
		req.AlwaysRetry = true
		req.StopStatus = expiredStatus
		req.Raw = true
		req.Compression = false

		resp, err := o.client.Do(ctx, req)
		if err != nil {
			if !refreshed && expired(err) {
				o.log.Debug("download location rejected, refreshing",
					zap.String("id", o.id),
					zap.Error(err),
				)
				o.locations.invalidate(loc.URL)
				continue
			}
			return nil, fmt.Errorf("read %s %s: %w", o.id, r.header(), err)
		}

		if int64(len(resp.Body)) != r.len() {
			return nil, &transport.TransportError{
				Method: http.MethodGet,
				URL:    loc.URL,
				Err: &transport.ContentLengthError{
					Declared: r.len(),
					Received: int64(len(resp.Body)),
					Range:    r.header(),
				},
			}
		}
		o.progress(len(resp.Body))
		return resp.Body, nil
	}
}

// expired reports whether err means the download location is no longer valid.
func expired(err error) bool {
	return expiredStatus(transport.StatusCode(err))
}

func expiredStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusGone
}

var _ io.ReadWriteSeeker = (*Object)(nil)
