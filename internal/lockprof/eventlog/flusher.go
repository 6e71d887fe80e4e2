package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/metrics"
)

// Default flush schedule: first write one second after start, then every ten
// seconds.
const (
	DefaultInitialDelay = time.Second
	DefaultInterval     = 10 * time.Second
)

// Drainer yields records captured since its previous call.
// capture.Recorder implements it.
type Drainer interface {
	Drain() []access.Access
}

// FlusherOption configures a Flusher.
type FlusherOption func(*Flusher)

// WithInterval sets the period between flushes.
func WithInterval(d time.Duration) FlusherOption {
	return func(f *Flusher) {
		f.interval = d
	}
}

// WithInitialDelay sets the delay before the first flush.
func WithInitialDelay(d time.Duration) FlusherOption {
	return func(f *Flusher) {
		f.delay = d
	}
}

// WithSession sets the session ID written to the header.
func WithSession(id uuid.UUID) FlusherOption {
	return func(f *Flusher) {
		f.session = id
	}
}

// WithFlusherLogger sets the logger. Default: slog.Default().
func WithFlusherLogger(l *slog.Logger) FlusherOption {
	return func(f *Flusher) {
		f.logger = l
	}
}

// Flusher periodically appends drained records to an event log file.
//
// Records that fail to be written are kept and retried on the next flush,
// so a transient I/O error never loses data while the process lives.
type Flusher struct {
	path     string
	source   Drainer
	interval time.Duration
	delay    time.Duration
	session  uuid.UUID
	logger   *slog.Logger

	// mu serializes flushes and guards pending.
	mu      sync.Mutex
	pending []access.Access
}

// NewFlusher creates a Flusher writing source's records to path.
func NewFlusher(path string, source Drainer, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		path:     path,
		source:   source,
		interval: DefaultInterval,
		delay:    DefaultInitialDelay,
		session:  uuid.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the event log path.
func (f *Flusher) Path() string {
	return f.path
}

// Session returns the session ID written to the header.
func (f *Flusher) Session() uuid.UUID {
	return f.session
}

// Clear truncates the output file.
//
// A failure is logged as a warning and returned; profiling is expected to go
// on regardless, the next flush will try to create the file again.
func (f *Flusher) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.WriteFile(f.path, nil, 0o644); err != nil {
		f.logger.Warn("output file could not be cleared",
			slog.String("path", f.path),
			slog.String("error", err.Error()))
		return fmt.Errorf("clear %s: %w", f.path, err)
	}
	return nil
}

// Flush appends everything drained since the previous successful flush.
// The header is written first when the file is empty.
func (f *Flusher) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, f.source.Drain()...)
	n, err := f.writePending()
	metrics.ObserveFlush(n, err)
	if err != nil {
		f.logger.Warn("event log flush failed",
			slog.String("path", f.path),
			slog.Int("pending", len(f.pending)),
			slog.String("error", err.Error()))
		return err
	}
	if n > 0 {
		f.logger.Debug("event log flushed", slog.String("path", f.path), slog.Int("records", n))
	}
	return nil
}

func (f *Flusher) writePending() (int, error) {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return 0, fmt.Errorf("stat %s: %w", f.path, err)
	}

	w := NewWriter(file)
	if info.Size() == 0 {
		if err := w.WriteHeader(NewHeader(f.session, time.Now())); err != nil {
			_ = file.Close()
			return 0, err
		}
	}
	if err := w.Write(f.pending); err != nil {
		_ = file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", f.path, err)
	}

	n := len(f.pending)
	f.pending = nil
	return n, nil
}

// Run flushes after the initial delay and then at a fixed rate until ctx is
// cancelled. A final flush runs on cancellation. Flush errors are logged and
// never stop the loop; Run returns nil unless the final flush fails.
func (f *Flusher) Run(ctx context.Context) error {
	timer := time.NewTimer(f.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return f.Flush()
	case <-timer.C:
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		_ = f.Flush()
		select {
		case <-ctx.Done():
			return f.Flush()
		case <-ticker.C:
		}
	}
}
