// Package deadlock finds lock-order inversions in a report.
//
// Two goroutines that take the same two locks in opposite orders can
// deadlock: each holds the lock the other waits for. More generally any cycle
// in the lock-order graph whose edges come from at least two goroutines is a
// potential deadlock, even if it never fired during the captured run.
//
// Lock-order graph:
//   - one node per lock (access.Target)
//   - edge A -> B when some goroutine acquired B while holding A, i.e. one of
//     its critical sections on A encloses one on B
//
// The checker reads the report only through its query interface; it never
// looks at the capture layer or the event log.
//
// Limitations: gate locks (a third lock held around both orders) and
// read/read acquisitions of an RWMutex are not recognized, so reports err on
// the side of warning.
package deadlock

import (
	"cmp"
	"slices"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/report"
)

// Edge is one observed "held From while acquiring To".
type Edge struct {
	From     access.Target
	To       access.Target
	Accessor access.Accessor

	// Outer is the critical section on From, Inner the one on To.
	Outer access.Access
	Inner access.Access
}

// Graph is the lock-order graph of a report.
type Graph struct {
	// edges[from][to] holds every witness of from -> to, ordered by
	// (accessor ID, outer seq).
	edges   map[uint64]map[uint64][]Edge
	targets map[uint64]access.Target
}

// BuildGraph derives the lock-order graph from r.
//
// Complexity: O(sum over goroutines of k*m) where k is the number of
// critical sections and m the nesting depth.
func BuildGraph(r *report.Report) *Graph {
	g := &Graph{
		edges:   make(map[uint64]map[uint64][]Edge),
		targets: make(map[uint64]access.Target),
	}
	for _, t := range r.Targets() {
		g.targets[t.ID] = t
	}

	for _, a := range r.Accessors() {
		sections := r.CriticalSectionsForAccessor(a)
		for i, outer := range sections {
			for _, inner := range sections[i+1:] {
				// Sections of one goroutine are acquired in Seq order, so
				// nothing later can be nested once past outer's release.
				if outer.AcquiredAfterRelease(inner) {
					break
				}
				if inner.Target.ID == outer.Target.ID || !outer.Encloses(inner) {
					continue
				}
				g.add(Edge{
					From:     g.targets[outer.Target.ID],
					To:       g.targets[inner.Target.ID],
					Accessor: a,
					Outer:    outer,
					Inner:    inner,
				})
			}
		}
	}

	for _, tos := range g.edges {
		for _, witnesses := range tos {
			slices.SortFunc(witnesses, func(x, y Edge) int {
				if c := cmp.Compare(x.Accessor.ID, y.Accessor.ID); c != 0 {
					return c
				}
				return access.Compare(x.Outer, y.Outer)
			})
		}
	}
	return g
}

func (g *Graph) add(e Edge) {
	tos, ok := g.edges[e.From.ID]
	if !ok {
		tos = make(map[uint64][]Edge)
		g.edges[e.From.ID] = tos
	}
	tos[e.To.ID] = append(tos[e.To.ID], e)
}

// Witnesses returns every observation of from -> to.
func (g *Graph) Witnesses(from, to access.Target) []Edge {
	return slices.Clone(g.edges[from.ID][to.ID])
}

// Successors returns the locks acquired while holding t, sorted by ID.
func (g *Graph) Successors(t access.Target) []access.Target {
	tos := g.edges[t.ID]
	out := make([]access.Target, 0, len(tos))
	for id := range tos {
		out = append(out, g.targets[id])
	}
	slices.SortFunc(out, func(a, b access.Target) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// EdgeCount returns the number of distinct lock pairs with an edge.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, tos := range g.edges {
		n += len(tos)
	}
	return n
}

// nodes returns every lock with an outgoing edge, sorted by ID.
func (g *Graph) nodes() []uint64 {
	ids := make([]uint64, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// successorIDs returns the IDs reachable in one step from id, sorted.
func (g *Graph) successorIDs(id uint64) []uint64 {
	tos := g.edges[id]
	ids := make([]uint64, 0, len(tos))
	for to := range tos {
		ids = append(ids, to)
	}
	slices.Sort(ids)
	return ids
}
