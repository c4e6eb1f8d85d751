package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/objstream/internal/taskpool"
	"github.com/ligustah/objstream/pkg/transport"
)

// Object is a handle on a single remote object. It implements io.Writer
// while the object is open and io.Reader and io.Seeker once it is closed.
//
// An Object is not safe for concurrent use, except for ID and State. The
// context passed to New or Open governs Read, Write and Flush.
type Object struct {
	ctx    context.Context
	client *transport.Client
	opts   Options
	log    *zap.Logger

	id   string
	kind Kind

	mu      sync.Mutex
	state   State
	project string
	size    int64
	desc    *Description

	// upload side
	buf       []byte
	nextPart  int
	uploaded  bool
	group     *errgroup.Group
	groupCtx  context.Context
	uploadMu  sync.Mutex
	uploadErr error

	// download side
	pos       int64
	chunk     []byte
	chunkPos  int64
	nextChunk int64
	pipeline  *taskpool.Window[[]byte]
	locations *locationCache
}

func newHandle(ctx context.Context, client *transport.Client, id string, kind Kind, opts []Option) *Object {
	o := &Object{
		ctx:      ctx,
		client:   client,
		opts:     buildOptions(opts),
		id:       id,
		kind:     kind,
		nextPart: 1,
	}
	o.log = o.opts.Logger
	if o.log == nil {
		o.log = client.Logger()
	}
	o.locations = newLocationCache(o.opts.DownloadDuration, func(ctx context.Context) (downloadOutput, error) {
		return requestDownload(ctx, o.client, o.id, o.opts.DownloadDuration)
	})
	return o
}

// New allocates a new, open object on the platform.
func New(ctx context.Context, client *transport.Client, opts ...Option) (*Object, error) {
	o := newHandle(ctx, client, "", KindFile, opts)
	id, err := createObject(ctx, client, o.opts)
	if err != nil {
		return nil, err
	}
	o.id = id
	o.state = StateOpen
	o.project = o.opts.Project
	o.log.Debug("created object", zap.String("id", id))
	return o, nil
}

// Open returns a handle on an existing object. The object is described once
// to learn its state and size.
func Open(ctx context.Context, client *transport.Client, id string, opts ...Option) (*Object, error) {
	kind, err := KindOf(id)
	if err != nil {
		return nil, err
	}
	o := newHandle(ctx, client, id, kind, opts)
	if _, err := o.Describe(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// ID returns the platform id of the object.
func (o *Object) ID() string {
	return o.id
}

// Kind returns the object class.
func (o *Object) Kind() Kind {
	return o.kind
}

// State returns the last known lifecycle state without contacting the
// platform.
func (o *Object) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Project returns the project the object belongs to, if known.
func (o *Object) Project() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.project
}

// Size returns the last known object size.
func (o *Object) Size() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// LastDescription returns the description fetched by the most recent
// Describe, Refresh or Open, and false when the object has not been described.
func (o *Object) LastDescription() (Description, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.desc == nil {
		return Description{}, false
	}
	return *o.desc, true
}

// Describe fetches the object description and updates the cached state and
// size.
func (o *Object) Describe(ctx context.Context) (Description, error) {
	d, err := describe(ctx, o.client, o.id)
	if err != nil {
		return Description{}, err
	}
	o.mu.Lock()
	o.desc = &d
	o.state = d.State
	o.size = d.Size
	if d.Project != "" {
		o.project = d.Project
	}
	o.mu.Unlock()
	return d, nil
}

// Refresh re-reads the object state from the platform.
func (o *Object) Refresh(ctx context.Context) error {
	_, err := o.Describe(ctx)
	return err
}

func (o *Object) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Close flushes buffered data and asks the platform to finalize the object.
// With block set, Close waits until the platform reports the object closed,
// polling every PollInterval for at most CloseTimeout. Closing an object that
// is already closing only waits; closing a closed object is a no-op.
func (o *Object) Close(ctx context.Context, block bool) error {
	switch o.State() {
	case StateClosed:
		return nil
	case StateOpen:
		if err := o.Flush(); err != nil {
			return err
		}
		if err := o.finalize(ctx); err != nil {
			return err
		}
		o.setState(StateClosing)
		o.log.Debug("close requested", zap.String("id", o.id))
	}

	if block {
		return o.waitClosed(ctx)
	}
	return nil
}

// finalize sends the close request. Objects without parts cannot be closed,
// so an empty first part is uploaded when nothing was written in this session,
// and again if the platform still reports missing parts.
func (o *Object) finalize(ctx context.Context) error {
	if !o.uploaded {
		if err := o.uploadEmptyPart(ctx); err != nil {
			return err
		}
	}

	err := closeObject(ctx, o.client, o.id)
	if err == nil || !missingParts(err) {
		return err
	}
	o.log.Debug("platform reports no parts, uploading empty part", zap.String("id", o.id))
	if err := o.uploadEmptyPart(ctx); err != nil {
		return err
	}
	return closeObject(ctx, o.client, o.id)
}

func (o *Object) uploadEmptyPart(ctx context.Context) error {
	err := o.uploadPart(ctx, 1, nil)
	if err != nil && !transport.IsAPIError(err, transport.ErrNameInvalidState) {
		return err
	}
	o.uploaded = true
	return nil
}

func missingParts(err error) bool {
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) || apiErr.Name != transport.ErrNameInvalidState {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "part")
}

// waitClosed polls the object state until it leaves closing.
func (o *Object) waitClosed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.opts.CloseTimeout)
	defer cancel()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		d, err := o.Describe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("wait for %s to close: %w", o.id, ctx.Err())
			}
			return err
		}
		switch d.State {
		case StateClosed:
			return nil
		case StateClosing:
		default:
			return fmt.Errorf("wait for %s to close: object entered state %q", o.id, d.State)
		}

		o.log.Debug("waiting for object to close", zap.String("id", o.id))
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s to close: %w", o.id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (o *Object) progress(n int) {
	if o.opts.Progress != nil && n > 0 {
		o.opts.Progress(int64(n))
	}
}
