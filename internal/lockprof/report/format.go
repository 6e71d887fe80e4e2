package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kolkov/lockprof/internal/lockprof/access"
)

// View selects which index Format prints.
type View int

const (
	// ViewBoth prints the accessor index followed by the target index.
	ViewBoth View = iota
	// ViewAccessor prints critical sections grouped by goroutine.
	ViewAccessor
	// ViewTarget prints critical sections grouped by lock.
	ViewTarget
)

// ParseView parses "both", "accessor" or "target".
func ParseView(s string) (View, error) {
	switch s {
	case "", "both":
		return ViewBoth, nil
	case "accessor", "goroutine":
		return ViewAccessor, nil
	case "target", "lock":
		return ViewTarget, nil
	default:
		return ViewBoth, fmt.Errorf("unknown view %q (want accessor, target or both)", s)
	}
}

// TargetStats summarizes how one lock was held.
type TargetStats struct {
	Target    access.Target
	Count     int
	Accessors int
	TotalHeld time.Duration
	MaxHeld   time.Duration
}

// StatsFor computes hold statistics for t. Unknown targets yield zero counts.
func (r *Report) StatsFor(t access.Target) TargetStats {
	st := TargetStats{Target: t}
	seen := make(map[int64]struct{})
	for _, a := range r.byTarget[t.Key()] {
		st.Count++
		held := a.Held()
		st.TotalHeld += held
		st.MaxHeld = max(st.MaxHeld, held)
		seen[a.Accessor.Key()] = struct{}{}
	}
	st.Accessors = len(seen)
	return st
}

// Format writes a text rendering of the report.
//
// Output for ViewBoth:
//
//	==================
//	CRITICAL SECTIONS BY GOROUTINE
//	goroutine 7 (2 critical sections):
//	  #1 lock cache.mu#3 held 1.5ms
//	  #3 lock db.mu#4 held 200µs
//
//	CRITICAL SECTIONS BY LOCK
//	lock cache.mu#3 (1 critical sections, 1 goroutines, total 1.5ms, max 1.5ms):
//	  #1 goroutine 7 held 1.5ms
//	==================
//
//nolint:errcheck // Error handling omitted for text output formatting
func (r *Report) Format(w io.Writer, view View) {
	fmt.Fprintf(w, "==================\n")

	if view == ViewBoth || view == ViewAccessor {
		fmt.Fprintf(w, "CRITICAL SECTIONS BY GOROUTINE\n")
		if len(r.accessors) == 0 {
			fmt.Fprintf(w, "  (none)\n")
		}
		for _, a := range r.accessors {
			set := r.byAccessor[a.Key()]
			fmt.Fprintf(w, "%s (%d critical sections):\n", a, len(set))
			for _, cs := range set {
				fmt.Fprintf(w, "  #%d %s held %s\n", cs.Seq, cs.Target, cs.Held())
			}
		}
	}

	if view == ViewBoth {
		fmt.Fprintf(w, "\n")
	}

	if view == ViewBoth || view == ViewTarget {
		fmt.Fprintf(w, "CRITICAL SECTIONS BY LOCK\n")
		if len(r.targets) == 0 {
			fmt.Fprintf(w, "  (none)\n")
		}
		for _, t := range r.targets {
			st := r.StatsFor(t)
			fmt.Fprintf(w, "%s (%d critical sections, %d goroutines, total %s, max %s):\n",
				t, st.Count, st.Accessors, st.TotalHeld, st.MaxHeld)
			for _, cs := range r.byTarget[t.Key()] {
				fmt.Fprintf(w, "  #%d %s held %s\n", cs.Seq, cs.Accessor, cs.Held())
			}
		}
	}

	fmt.Fprintf(w, "==================\n")
}

// String renders the report with ViewBoth.
func (r *Report) String() string {
	var buf strings.Builder
	r.Format(&buf, ViewBoth)
	return buf.String()
}
