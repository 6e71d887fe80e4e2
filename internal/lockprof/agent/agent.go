// Package agent runs lockprof inside a profiled program.
//
// An Agent owns the background flusher that periodically appends the
// Recorder's critical sections to the event log. Lifecycle:
//
//	Start  -> clear output file, start flusher goroutine
//	Flush  -> optional manual flush
//	Stop   -> cancel flusher, final flush, wait
//
// Without an output file the agent is disabled: Start logs a warning and
// returns an Agent whose methods are no-ops, so profiling never prevents the
// host program from running.
package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/lockprof/internal/lockprof/capture"
	"github.com/kolkov/lockprof/internal/lockprof/config"
	"github.com/kolkov/lockprof/internal/lockprof/eventlog"
)

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithSession fixes the session ID instead of generating one.
func WithSession(id uuid.UUID) Option {
	return func(a *Agent) {
		a.session = id
	}
}

// Agent supervises the flusher of one capture session.
type Agent struct {
	cfg      config.Config
	recorder *capture.Recorder
	logger   *slog.Logger
	session  uuid.UUID

	flusher *eventlog.Flusher
	cancel  context.CancelFunc
	group   *errgroup.Group

	stopOnce sync.Once
	stopErr  error
}

// Start launches the agent for rec with cfg. The flusher runs until Stop is
// called or ctx is cancelled.
//
// A failure to clear the output file is logged and does not stop the agent.
func Start(ctx context.Context, cfg config.Config, rec *capture.Recorder, opts ...Option) (*Agent, error) {
	a := &Agent{
		cfg:      cfg,
		recorder: rec,
		logger:   slog.Default(),
		session:  uuid.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.OutputFile == "" {
		a.logger.Warn("no output file was provided, agent is disabled")
		return a, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a.flusher = eventlog.NewFlusher(cfg.OutputFile, rec,
		eventlog.WithInterval(cfg.FlushInterval),
		eventlog.WithInitialDelay(cfg.FlushDelay),
		eventlog.WithSession(a.session),
		eventlog.WithFlusherLogger(a.logger),
	)
	_ = a.flusher.Clear()

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.flusher.Run(gctx)
	})
	a.cancel = cancel
	a.group = g

	a.logger.Info("lockprof agent started",
		slog.String("output", cfg.OutputFile),
		slog.String("session", a.session.String()),
		slog.Duration("interval", cfg.FlushInterval),
		slog.Duration("delay", cfg.FlushDelay))
	return a, nil
}

// StartArgs parses an agent argument string on top of config.Default and
// calls Start.
func StartArgs(ctx context.Context, args string, rec *capture.Recorder, opts ...Option) (*Agent, error) {
	cfg, err := config.Default().ApplyAgentArgs(args)
	if err != nil {
		return nil, err
	}
	return Start(ctx, cfg, rec, opts...)
}

// Enabled reports whether the agent writes an event log.
func (a *Agent) Enabled() bool {
	return a.flusher != nil
}

// Session returns the capture session ID.
func (a *Agent) Session() uuid.UUID {
	return a.session
}

// Config returns the configuration the agent was started with.
func (a *Agent) Config() config.Config {
	return a.cfg
}

// Recorder returns the recorder being flushed.
func (a *Agent) Recorder() *capture.Recorder {
	return a.recorder
}

// Flush writes pending records now.
func (a *Agent) Flush() error {
	if a.flusher == nil {
		return nil
	}
	return a.flusher.Flush()
}

// Stop cancels the flusher and waits for its final flush. Safe to call more
// than once; later calls return the first result.
func (a *Agent) Stop() error {
	a.stopOnce.Do(func() {
		if a.flusher == nil {
			return
		}
		a.cancel()
		a.stopErr = a.group.Wait()

		stats := a.recorder.Stats()
		a.logger.Info("lockprof agent stopped",
			slog.String("output", a.cfg.OutputFile),
			slog.Int("recorded", stats.Recorded),
			slog.Int("open", stats.Open),
			slog.Uint64("unmatched", stats.Unmatched))
	})
	return a.stopErr
}
