package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolkov/lockprof/internal/lockprof/deadlock"
	"github.com/kolkov/lockprof/internal/lockprof/pprofexport"
	"github.com/kolkov/lockprof/internal/lockprof/report"
	"github.com/kolkov/lockprof/internal/lockprof/store"
)

// errInversionsFound makes `check` exit with status 1 without an error
// message; the report already explains.
var errInversionsFound = errors.New("potential deadlocks found")

var errKeepArchived = errors.New("--keep-duplicates cannot be combined with --db: archived sessions hold the collapsed view")

func (a *app) newReportCmd() *cobra.Command {
	var (
		src  source
		by   string
		keep bool
	)
	cmd := &cobra.Command{
		Use:   "report [events.jsonl]",
		Short: "Print critical sections by goroutine and by lock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := report.ParseView(by)
			if err != nil {
				return err
			}
			policy := a.policy(keep)
			if src.dbPath != "" && policy == report.KeepDuplicates {
				// Archives are collapsed on write.
				if keep {
					return errKeepArchived
				}
				a.logger.Warn("duplicates: keep has no effect on archived sessions",
					slog.String("db", src.dbPath))
			}
			log, err := a.load(cmd.Context(), src, args)
			if err != nil {
				return err
			}
			r := a.build(log.Records, policy)
			fmt.Fprintf(a.stdout, "Session %s (started %s)\n", log.Header.Session, log.Header.Started.Format("2006-01-02 15:04:05Z07:00"))
			r.Format(a.stdout, view)
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&by, "by", "both", "index to print: accessor, target or both")
	cmd.Flags().BoolVar(&keep, "keep-duplicates", false, "keep records with equal ordering keys")
	return cmd
}

func (a *app) newCheckCmd() *cobra.Command {
	var (
		src      source
		maxCycle int
	)
	cmd := &cobra.Command{
		Use:   "check [events.jsonl]",
		Short: "Report lock-order inversions (potential deadlocks)",
		Long: `check builds the lock-order graph of a capture session and reports every
cycle taken by at least two goroutines. It exits with status 1 when one is
found, so it can gate CI runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := a.load(cmd.Context(), src, args)
			if err != nil {
				return err
			}
			r := a.build(log.Records, a.cfg.DuplicatePolicy())

			found := deadlock.Check(r, deadlock.WithMaxCycleLength(maxCycle))
			if len(found) == 0 {
				fmt.Fprintf(a.stdout, "No lock-order inversions among %d locks.\n", len(r.Targets()))
				return nil
			}
			for i := range found {
				found[i].Format(a.stdout, nil)
			}
			fmt.Fprintf(a.stdout, "Found %d potential deadlock(s).\n", len(found))
			return errInversionsFound
		},
	}
	src.register(cmd)
	cmd.Flags().IntVar(&maxCycle, "max-cycle", deadlock.DefaultMaxCycleLength, "longest lock cycle to search for")
	return cmd
}

func (a *app) newExportCmd() *cobra.Command {
	var (
		src    source
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [events.jsonl]",
		Short: "Export a pprof contention profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := a.load(cmd.Context(), src, args)
			if err != nil {
				return err
			}
			r := a.build(log.Records, a.cfg.DuplicatePolicy())

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
			if err := pprofexport.Write(f, r, nil); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close profile: %w", err)
			}
			fmt.Fprintf(a.stdout, "Wrote %s (%d locks)\n", output, len(r.Targets()))
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "lockprof.pb.gz", "profile output path")
	return cmd
}

func (a *app) newArchiveCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "archive <events.jsonl>",
		Short: "Store a capture session in a BadgerDB archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := a.load(cmd.Context(), source{}, args)
			if err != nil {
				return err
			}

			cfg := store.DefaultConfig(dbPath)
			cfg.Logger = a.logger
			s, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Put(cmd.Context(), log.Header, log.Records); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Archived session %s (%d records) in %s\n",
				log.Header.Session, len(log.Records), dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "lockprof.db", "BadgerDB directory")
	return cmd
}

func (a *app) newSessionsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions stored in a BadgerDB archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := store.DefaultConfig(dbPath)
			cfg.Logger = a.logger
			s, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			headers, err := s.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, h := range headers {
				fmt.Fprintf(a.stdout, "%s  %s  %s\n", h.Session, h.Started.Format("2006-01-02 15:04:05Z07:00"), h.Version)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "lockprof.db", "BadgerDB directory")
	return cmd
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "lockprof version %s\n", version)
		},
	}
}
