package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/config"
	"github.com/kolkov/lockprof/internal/lockprof/eventlog"
	"github.com/kolkov/lockprof/internal/lockprof/metrics"
	"github.com/kolkov/lockprof/internal/lockprof/report"
	"github.com/kolkov/lockprof/internal/lockprof/store"
)

// app holds state shared by all commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, cfg: config.Default()}

	root := &cobra.Command{
		Use:   "lockprof",
		Short: "Analyze lock usage captured by the lockprof agent",
		Long: `lockprof reads event logs written by the lockprof agent and reports
which goroutine held which lock, in what order. It can check the lock-order
graph for potential deadlocks, export pprof profiles and archive sessions.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.newReportCmd(),
		a.newCheckCmd(),
		a.newExportCmd(),
		a.newArchiveCmd(),
		a.newSessionsCmd(),
		a.newVersionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	level := a.cfg.Level()
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// source selects where records come from: an event log file, or a session
// archived in a BadgerDB store.
type source struct {
	dbPath  string
	session string
}

func (s *source) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.dbPath, "db", "", "read from a BadgerDB archive instead of a file")
	cmd.Flags().StringVar(&s.session, "session", "", "archived session ID (with --db)")
}

// load returns the records of the selected input.
func (a *app) load(ctx context.Context, src source, args []string) (*eventlog.Log, error) {
	if src.dbPath == "" {
		if len(args) != 1 {
			return nil, errors.New("expected exactly one event log file (or --db and --session)")
		}
		log, err := eventlog.ReadFile(args[0])
		if err != nil {
			return nil, err
		}
		a.logger.Debug("event log loaded",
			slog.String("path", args[0]),
			slog.String("session", log.Header.Session.String()),
			slog.Int("records", len(log.Records)))
		return log, nil
	}

	if len(args) != 0 {
		return nil, errors.New("--db cannot be combined with an event log file")
	}
	id, err := uuid.Parse(src.session)
	if err != nil {
		return nil, fmt.Errorf("--session: %w", err)
	}

	cfg := store.DefaultConfig(src.dbPath)
	cfg.Logger = a.logger
	s, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	log, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("archived session loaded",
		slog.String("db", src.dbPath),
		slog.String("session", id.String()),
		slog.Int("records", len(log.Records)))
	return log, nil
}

// build constructs a report and records how long it took.
func (a *app) build(records []access.Access, policy report.DuplicatePolicy) *report.Report {
	start := time.Now()
	r := report.Build(records, report.WithDuplicatePolicy(policy))
	elapsed := time.Since(start)
	metrics.ObserveBuild(elapsed, len(records))

	a.logger.Debug("report built",
		slog.Int("records", len(records)),
		slog.Int("kept", r.Len()),
		slog.Int("goroutines", len(r.Accessors())),
		slog.Int("locks", len(r.Targets())),
		slog.String("duplicates", policy.String()),
		slog.Duration("elapsed", elapsed))
	return r
}

// policy returns the duplicate policy: --keep-duplicates wins over the
// configuration file.
func (a *app) policy(keep bool) report.DuplicatePolicy {
	if keep {
		return report.KeepDuplicates
	}
	return a.cfg.DuplicatePolicy()
}
