package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/objstream/pkg/remote"
	"github.com/ligustah/objstream/pkg/transport"
)

// Metadata keys written to mirrored blobs.
const (
	MetaObjectID = "objstream-id"
	MetaName     = "objstream-name"
	MetaProject  = "objstream-project"
)

// DefaultBufferSize is the blob writer buffer used when Options.BufferSize is zero.
const DefaultBufferSize = 16 << 20

// Options configures a mirror copy.
type Options struct {
	// Remote options applied to the object handle, e.g. part or chunk
	// sizes and a progress callback.
	Remote []remote.Option

	// PartSize is the requested upload part size for Import. It grows as
	// needed so that the blob fits in remote.MaxParts parts.
	// Default: remote.DefaultPartSize
	PartSize int64

	// BufferSize is the blob writer's upload buffer.
	// Default: 16MiB
	BufferSize int

	// Block makes Import wait until the platform reports the new object
	// closed.
	Block bool

	// Logger receives progress messages. Default: no-op.
	Logger *zap.Logger
}

func (o *Options) defaults() {
	if o.PartSize <= 0 {
		o.PartSize = remote.DefaultPartSize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// ErrNotFound is returned by Import when the source key does not exist.
var ErrNotFound = errors.New("mirror: source blob not found")

// Export streams the closed object id into bucket under key. The blob carries
// the object's id, name and project as metadata, and its content type is the
// object's media type.
func Export(ctx context.Context, client *transport.Client, id string, bucket *blob.Bucket, key string, opts Options) (int64, error) {
	opts.defaults()

	obj, err := remote.Open(ctx, client, id, opts.Remote...)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", id, err)
	}
	defer obj.CloseReader()

	desc, _ := obj.LastDescription()
	if desc.State != remote.StateClosed {
		return 0, &remote.UsageError{Op: "export", ID: id, Reason: "object is " + desc.State.String()}
	}

	// Canceling wctx before Close discards a partially written blob.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bucket.NewWriter(wctx, key, &blob.WriterOptions{
		BufferSize:  opts.BufferSize,
		ContentType: desc.Media,
		Metadata: map[string]string{
			MetaObjectID: desc.ID,
			MetaName:     desc.Name,
			MetaProject:  desc.Project,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("create blob writer: %w", err)
	}

	n, err := io.Copy(w, obj)
	if err == nil && n != desc.Size {
		err = fmt.Errorf("read %d of %d bytes", n, desc.Size)
	}
	if err != nil {
		cancel()
		_ = w.Close()
		return n, fmt.Errorf("copy %s to %s: %w", id, key, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close blob writer: %w", err)
	}

	opts.Logger.Info("exported object",
		zap.String("id", id),
		zap.String("key", key),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// Import uploads the blob at key into a new object and closes it. The new
// object's name defaults to key and its media type to the blob's content
// type; options in opts.Remote override both. The part size is always taken
// from opts.PartSize.
func Import(ctx context.Context, client *transport.Client, bucket *blob.Bucket, key string, opts Options) (*remote.Object, error) {
	opts.defaults()

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	ropts := append([]remote.Option{
		remote.WithName(key),
		remote.WithMedia(attrs.ContentType),
	}, opts.Remote...)
	ropts = append(ropts, remote.WithPartSize(remote.PartSizeFor(attrs.Size, opts.PartSize)))

	obj, err := remote.New(ctx, client, ropts...)
	if err != nil {
		return nil, fmt.Errorf("create object: %w", err)
	}

	n, err := io.Copy(obj, r)
	if err != nil {
		return obj, fmt.Errorf("copy %s to %s: %w", key, obj.ID(), err)
	}
	if err := obj.Close(ctx, opts.Block); err != nil {
		return obj, fmt.Errorf("close %s: %w", obj.ID(), err)
	}

	opts.Logger.Info("imported blob",
		zap.String("key", key),
		zap.String("id", obj.ID()),
		zap.Int64("bytes", n),
	)
	return obj, nil
}
