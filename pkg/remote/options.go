package remote

import (
	"time"

	"go.uber.org/zap"
)

const (
	// MaxParts is the largest part index the platform accepts.
	MaxParts = 10000

	// MinPartSize is the smallest size the platform accepts for any part
	// except the last one.
	MinPartSize = 5 << 20

	DefaultPartSize          = 16 << 20
	DefaultReadChunkSize     = 16 << 20
	DefaultUploadConcurrency = 8
	DefaultReadConcurrency   = 8
	DefaultPollInterval      = 2 * time.Second
	DefaultCloseTimeout      = 7 * 24 * time.Hour
	DefaultDownloadDuration  = 24 * time.Hour
)

// Options configures an object handle.
type Options struct {
	// PartSize is the size of every uploaded part except the last.
	PartSize int64

	// UploadConcurrency bounds the number of parts in flight.
	UploadConcurrency int

	// ReadChunkSize is the length of each ranged GET.
	ReadChunkSize int64

	// ReadConcurrency bounds the number of outstanding ranged GETs.
	ReadConcurrency int

	// PollInterval is the describe interval while waiting for close.
	PollInterval time.Duration

	// CloseTimeout bounds a blocking close. Zero means DefaultCloseTimeout.
	CloseTimeout time.Duration

	// DownloadDuration is the validity requested for download locations.
	DownloadDuration time.Duration

	// Project, Name and Media are sent when creating a new object.
	Project string
	Name    string
	Media   string

	// Progress, when set, is called with the byte count of every part
	// uploaded and every chunk downloaded.
	Progress func(n int64)

	Logger *zap.Logger
}

// Option is a functional option for configuring object handles.
type Option func(*Options)

// WithPartSize sets the upload part size.
func WithPartSize(size int64) Option {
	return func(o *Options) {
		o.PartSize = size
	}
}

// WithUploadConcurrency sets the maximum number of parts uploaded at once.
func WithUploadConcurrency(n int) Option {
	return func(o *Options) {
		o.UploadConcurrency = n
	}
}

// WithReadChunkSize sets the ranged read size.
func WithReadChunkSize(size int64) Option {
	return func(o *Options) {
		o.ReadChunkSize = size
	}
}

// WithReadConcurrency sets the maximum number of outstanding ranged reads.
func WithReadConcurrency(n int) Option {
	return func(o *Options) {
		o.ReadConcurrency = n
	}
}

// WithPollInterval sets how often a blocking close checks the object state.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

// WithCloseTimeout bounds how long a blocking close waits.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.CloseTimeout = d
	}
}

// WithDownloadDuration sets the requested validity of download locations.
func WithDownloadDuration(d time.Duration) Option {
	return func(o *Options) {
		o.DownloadDuration = d
	}
}

// WithProject sets the project a new object is created in.
func WithProject(project string) Option {
	return func(o *Options) {
		o.Project = project
	}
}

// WithName sets the name of a new object.
func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithMedia sets the media type of a new object.
func WithMedia(media string) Option {
	return func(o *Options) {
		o.Media = media
	}
}

// WithProgress registers a callback receiving transferred byte counts.
func WithProgress(fn func(n int64)) Option {
	return func(o *Options) {
		o.Progress = fn
	}
}

// WithLogger sets the logger. Default: the transport client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func buildOptions(opts []Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.PartSize <= 0 {
		o.PartSize = DefaultPartSize
	}
	if o.UploadConcurrency <= 0 {
		o.UploadConcurrency = DefaultUploadConcurrency
	}
	if o.ReadChunkSize <= 0 {
		o.ReadChunkSize = DefaultReadChunkSize
	}
	if o.ReadConcurrency <= 0 {
		o.ReadConcurrency = DefaultReadConcurrency
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.DownloadDuration <= 0 {
		o.DownloadDuration = DefaultDownloadDuration
	}
	return o
}

// PartSizeFor returns the smallest part size, not below requested or
// MinPartSize, that fits an object of total bytes into MaxParts parts.
func PartSizeFor(total, requested int64) int64 {
	size := requested
	if size < MinPartSize {
		size = MinPartSize
	}
	if total <= 0 {
		return size
	}
	if need := (total + MaxParts - 1) / MaxParts; need > size {
		size = need
	}
	return size
}
