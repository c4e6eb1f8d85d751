package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
)

// Options configures the progress reporter.
type Options struct {
	// Operation is the verb shown in the header, e.g. "Uploading".
	Operation string

	// Name identifies the object being transferred (for display).
	Name string

	// TotalSize is the total size in bytes, or 0 when unknown.
	TotalSize int64

	// ChunkSize is the part or range size (for display).
	ChunkSize int64

	// Concurrency is the number of parallel transfers (for display).
	Concurrency int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. Add is safe for
// concurrent use and matches the signature of remote.WithProgress.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	bytes      atomic.Int64
	chunks     atomic.Int32
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	done       chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Operation == "" {
		opts.Operation = "Transferring"
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.started = true
	fmt.Fprintf(r.opts.Output, "[objstream] %s: %s\n", r.opts.Operation, r.opts.Name)
	fmt.Fprintf(r.opts.Output, "[objstream] Total size: %s | Chunk size: %s | Concurrency: %d\n",
		sizeOrUnknown(r.opts.TotalSize),
		FormatBytes(r.opts.ChunkSize),
		r.opts.Concurrency,
	)
	r.mu.Unlock()

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.done
}

// SetTotalSize updates the expected number of bytes. It is meant for
// transfers whose size is only known once the object has been described.
func (r *Reporter) SetTotalSize(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.TotalSize = n
}

// Add records n transferred bytes as one completed part or range.
func (r *Reporter) Add(n int64) {
	r.bytes.Add(n)
	r.chunks.Add(1)
}

// Bytes returns the number of bytes transferred so far.
func (r *Reporter) Bytes() int64 {
	return r.bytes.Load()
}

// Chunks returns the number of completed parts or ranges.
func (r *Reporter) Chunks() int {
	return int(r.chunks.Load())
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	completed := r.bytes.Load()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = completed

	var percent string
	eta := "unknown"
	if r.opts.TotalSize > 0 {
		percent = fmt.Sprintf("%.1f%% | ", float64(completed)/float64(r.opts.TotalSize)*100)
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		} else {
			eta = "calculating..."
		}
	}

	fmt.Fprintf(r.opts.Output, "\r[objstream] Progress: %s%s / %s | Chunks: %d | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(completed),
		sizeOrUnknown(r.opts.TotalSize),
		r.Chunks(),
		FormatBytes(int64(speed)),
		eta,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.bytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[objstream] Done: %s in %d chunks    \n",
		FormatBytes(completed),
		r.Chunks(),
	)
	fmt.Fprintf(r.opts.Output, "[objstream] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

func sizeOrUnknown(b int64) string {
	if b <= 0 {
		return "unknown"
	}
	return FormatBytes(b)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats b with IEC units, e.g. "16MiB".
func FormatBytes(b int64) string {
	return units.BytesSize(float64(b))
}

// ParseBytes parses a human-readable byte string. IEC suffixes ("KiB",
// "MiB", ...) are binary and SI suffixes ("KB", "MB", ...) are decimal.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	parse := units.FromHumanSize
	if strings.ContainsAny(s, "iI") {
		parse = units.RAMInBytes
	}
	n, err := parse(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}
	return n, nil
}
