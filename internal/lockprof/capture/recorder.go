// Package capture records critical sections from a running program.
//
// Capture is the concurrent, append-only phase of profiling: many goroutines
// acquire and release locks in parallel and report each event to a Recorder.
// The Recorder turns acquire/release pairs into access.Access records and
// appends them to a log. Reports are built later from a snapshot of that
// log; the Recorder never builds or serves reports itself.
//
// Ordering:
//
// Every acquisition draws the next value of one atomic counter. That value
// becomes access.Access.Seq, so records from all goroutines share a single
// total order no matter how their events interleave.
//
// Example:
//
//	rec := capture.NewRecorder()
//	mu := capture.NewMutex(rec, "cache.mu")
//	mu.Lock()
//	// critical section
//	mu.Unlock()
//	records := rec.Snapshot()
//
// Thread Safety: all Recorder methods are safe for concurrent calls.
package capture

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/metrics"
	"github.com/kolkov/lockprof/internal/lockprof/stackdepot"
)

// Stats is a point-in-time view of a Recorder.
type Stats struct {
	// Recorded is the number of closed critical sections in the log.
	Recorded int

	// Pending is the number of records not yet returned by Drain.
	Pending int

	// Open is the number of acquisitions still waiting for a release.
	Open int

	// Unmatched is the number of releases with no recorded acquisition.
	Unmatched uint64

	// Targets is the number of locks allocated through NewTarget.
	Targets uint64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock replaces time.Now. Used by tests for reproducible timestamps.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithStackCapture enables or disables acquisition site capture.
// Enabled by default.
func WithStackCapture(enabled bool) RecorderOption {
	return func(r *Recorder) {
		r.captureStacks = enabled
	}
}

// WithDepot shares a stack depot with the caller. Without it the Recorder
// allocates its own.
func WithDepot(d *stackdepot.Depot) RecorderOption {
	return func(r *Recorder) {
		r.depot = d
	}
}

// WithLogger sets the logger for diagnostics. Default: slog.Default().
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = l
	}
}

// Recorder collects critical sections.
type Recorder struct {
	seq        atomic.Uint64
	nextTarget atomic.Uint64
	unmatched  atomic.Uint64

	now           func() time.Time
	captureStacks bool
	depot         *stackdepot.Depot
	logger        *slog.Logger

	holds holdTable
	names sync.Map // int64 (goroutine ID) -> string

	// mu guards log and drained.
	mu      sync.Mutex
	log     []access.Access
	drained int
}

// NewRecorder creates an empty Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		now:           time.Now,
		captureStacks: true,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.depot == nil {
		r.depot = stackdepot.New()
	}
	return r
}

// Depot returns the stack depot resolving access.Access.Site hashes.
func (r *Recorder) Depot() *stackdepot.Depot {
	return r.depot
}

// NewTarget allocates a lock identity with a session-unique ID.
func (r *Recorder) NewTarget(name string, kind access.Kind) access.Target {
	return access.Target{
		ID:   r.nextTarget.Add(1),
		Name: name,
		Kind: kind,
	}
}

// Label names the calling goroutine in subsequent records.
func (r *Recorder) Label(name string) {
	r.names.Store(goroutineID(), name)
}

// Acquired records that the calling goroutine now holds t.
//
// Call it after the lock was obtained, never before: the sequence number
// drawn here must reflect the order in which holders actually entered.
func (r *Recorder) Acquired(t access.Target) {
	gid := goroutineID()
	h := openHold{
		seq:      r.seq.Add(1),
		acquired: r.now(),
	}
	if r.captureStacks {
		// Wrapper frames of this package are filtered when the stack is
		// formatted, so only Acquired itself is skipped here.
		h.site = r.depot.Capture(1)
	}
	r.holds.getOrCreate(holdKey{gid: gid, target: t.ID}).push(h)
}

// Released records that the calling goroutine gives t back.
//
// Call it before the lock is released so the next holder's acquisition is
// stamped after this release. A release with no matching acquisition is
// counted and dropped.
func (r *Recorder) Released(t access.Target) {
	gid := goroutineID()
	released := r.now()

	h, holder, ok := r.holds.pop(holdKey{gid: gid, target: t.ID})
	if !ok {
		r.unmatched.Add(1)
		metrics.UnmatchedReleases.Inc()
		r.logger.Debug("release without acquisition",
			slog.Int64("goroutine", gid),
			slog.String("lock", t.String()))
		return
	}

	// Drawn while the lock is still held, so the next holder's Seq is larger.
	a := access.Access{
		Seq:        h.seq,
		ReleaseSeq: r.seq.Add(1),
		Accessor:   access.Accessor{ID: holder, Name: r.name(holder)},
		Target:     t,
		Acquired:   h.acquired,
		Released:   released,
		Site:       h.site,
	}

	r.mu.Lock()
	r.log = append(r.log, a)
	r.mu.Unlock()
	metrics.AccessesRecorded.Inc()
}

func (r *Recorder) name(gid int64) string {
	if v, ok := r.names.Load(gid); ok {
		return v.(string)
	}
	return ""
}

// Snapshot returns a copy of every record captured so far.
//
// Records appear in release order, not in access order; report.Build sorts
// them. The copy is safe to hand to another goroutine.
func (r *Recorder) Snapshot() []access.Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.log)
}

// Drain returns the records captured since the previous Drain.
//
// Drain does not shrink the log; Snapshot still returns everything. The
// periodic event log writer uses it to append only new records.
func (r *Recorder) Drain() []access.Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.log[r.drained:])
	r.drained = len(r.log)
	return out
}

// Stats returns counters describing the Recorder.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	recorded, pending := len(r.log), len(r.log)-r.drained
	r.mu.Unlock()

	return Stats{
		Recorded:  recorded,
		Pending:   pending,
		Open:      r.holds.open(),
		Unmatched: r.unmatched.Load(),
		Targets:   r.nextTarget.Load(),
	}
}
