package deadlock

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/report"
	"github.com/kolkov/lockprof/internal/lockprof/stackdepot"
)

// DefaultMaxCycleLength bounds the number of locks in a reported cycle.
const DefaultMaxCycleLength = 8

type options struct {
	maxCycle int
}

// Option configures Check.
type Option func(*options)

// WithMaxCycleLength sets the longest cycle searched for. Values below 2 are
// raised to 2.
func WithMaxCycleLength(n int) Option {
	return func(o *options) {
		o.maxCycle = max(n, 2)
	}
}

// Inversion is a potential deadlock: a cycle of locks, each acquired while
// holding the previous one, by at least two different goroutines.
type Inversion struct {
	// Cycle lists the locks in acquisition order; the last one leads back
	// to the first. The lock with the smallest ID comes first.
	Cycle []access.Target

	// Edges holds one witness per step: Edges[i] goes from Cycle[i] to
	// Cycle[(i+1)%len(Cycle)].
	Edges []Edge

	// Key identifies the cycle: lock IDs joined by ">", e.g. "1>2".
	Key string
}

// Accessors returns the distinct goroutines witnessing the cycle.
func (inv *Inversion) Accessors() []access.Accessor {
	var out []access.Accessor
	for _, e := range inv.Edges {
		if !slices.ContainsFunc(out, e.Accessor.Same) {
			out = append(out, e.Accessor)
		}
	}
	return out
}

// Check returns every potential deadlock in r, ordered by cycle.
//
// Each cycle is reported once, rotated so its smallest lock ID leads.
// Cycles witnessed by a single goroutine are ignored: a goroutine cannot
// deadlock against itself on distinct locks.
func Check(r *report.Report, opts ...Option) []Inversion {
	o := options{maxCycle: DefaultMaxCycleLength}
	for _, opt := range opts {
		opt(&o)
	}

	g := BuildGraph(r)
	var out []Inversion
	for _, cycle := range g.cycles(o.maxCycle) {
		edges, ok := g.witnesses(cycle)
		if !ok {
			continue
		}
		inv := Inversion{Edges: edges, Key: cycleKey(cycle)}
		for _, id := range cycle {
			inv.Cycle = append(inv.Cycle, g.targets[id])
		}
		out = append(out, inv)
	}
	return out
}

// cycles enumerates simple cycles of at most maxLen nodes.
//
// Every cycle is discovered from its smallest node only (the search from
// start never enters nodes below start), so each appears exactly once.
// Output order is deterministic: starts ascend, successors ascend.
func (g *Graph) cycles(maxLen int) [][]uint64 {
	var (
		out     [][]uint64
		path    []uint64
		onPath  = make(map[uint64]bool)
		visitFn func(start, id uint64)
	)

	visitFn = func(start, id uint64) {
		path = append(path, id)
		onPath[id] = true
		defer func() {
			path = path[:len(path)-1]
			delete(onPath, id)
		}()

		for _, next := range g.successorIDs(id) {
			switch {
			case next == start:
				out = append(out, slices.Clone(path))
			case next < start || onPath[next] || len(path) >= maxLen:
				continue
			default:
				visitFn(start, next)
			}
		}
	}

	for _, start := range g.nodes() {
		visitFn(start, start)
	}
	return out
}

// witnesses picks one edge per step of cycle so that at least two distinct
// goroutines appear. Returns false when every step was only ever taken by
// the same goroutine.
func (g *Graph) witnesses(cycle []uint64) ([]Edge, bool) {
	steps := make([][]Edge, len(cycle))
	seen := make(map[int64]struct{})
	for i, from := range cycle {
		to := cycle[(i+1)%len(cycle)]
		steps[i] = g.edges[from][to]
		for _, e := range steps[i] {
			seen[e.Accessor.ID] = struct{}{}
		}
	}
	if len(seen) < 2 {
		return nil, false
	}

	// Default to each step's first witness, then make sure some step uses
	// a goroutine different from step 0's.
	picked := make([]Edge, len(cycle))
	for i := range steps {
		picked[i] = steps[i][0]
	}
	first := picked[0].Accessor.ID
	for i := range picked {
		if picked[i].Accessor.ID != first {
			return picked, true
		}
	}
	for i := 1; i < len(steps); i++ {
		for _, e := range steps[i] {
			if e.Accessor.ID != first {
				picked[i] = e
				return picked, true
			}
		}
	}
	// Only step 0 has another goroutine.
	for _, e := range steps[0] {
		if e.Accessor.ID != first {
			picked[0] = e
			return picked, true
		}
	}
	return nil, false
}

func cycleKey(cycle []uint64) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ">")
}

// Format writes a warning block for the inversion. When depot is non-nil,
// acquisition stacks of the inner critical sections are included.
//
// Output format:
//
//	==================
//	WARNING: POTENTIAL DEADLOCK
//	Lock order cycle: lock a#1 -> lock b#2 -> lock a#1
//	goroutine 1 acquired lock b#2 (#2) while holding lock a#1 (#1)
//	goroutine 2 acquired lock a#1 (#4) while holding lock b#2 (#3)
//	==================
//
//nolint:errcheck // Error handling omitted for text output formatting
func (inv *Inversion) Format(w io.Writer, depot *stackdepot.Depot) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: POTENTIAL DEADLOCK\n")

	names := make([]string, 0, len(inv.Cycle)+1)
	for _, t := range inv.Cycle {
		names = append(names, t.String())
	}
	if len(inv.Cycle) > 0 {
		names = append(names, inv.Cycle[0].String())
	}
	fmt.Fprintf(w, "Lock order cycle: %s\n", strings.Join(names, " -> "))

	for _, e := range inv.Edges {
		fmt.Fprintf(w, "%s acquired %s (#%d) while holding %s (#%d)\n",
			e.Accessor, e.To, e.Inner.Seq, e.From, e.Outer.Seq)
		if depot != nil {
			if st := depot.Get(e.Inner.Site); st != nil {
				fmt.Fprint(w, st.Format())
			}
		}
	}

	fmt.Fprintf(w, "==================\n")
}

// String renders the inversion without stacks.
func (inv *Inversion) String() string {
	var buf strings.Builder
	inv.Format(&buf, nil)
	return buf.String()
}
