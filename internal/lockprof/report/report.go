// Package report builds the dual-indexed view over captured critical sections.
//
// A Report is computed once from a finite set of access.Access records and
// never changes afterwards. It indexes the records twice:
//   - by accessor (goroutine): what did this goroutine hold, in order
//   - by target (lock): who held this lock, in order
//
// Both indices hold the same records, sorted by access.Compare. The result is
// a pure function of the input content: shuffling the input never changes a
// lookup result, which makes two builds over the same captured log identical.
//
// Example:
//
//	r := report.Build(records)
//	for _, a := range r.CriticalSectionsForAccessor(access.Accessor{ID: 7}) {
//		fmt.Println(a)
//	}
//
// Thread Safety: a built Report is read-only and safe for any number of
// concurrent readers without locking.
package report

import (
	"cmp"
	"slices"

	"github.com/kolkov/lockprof/internal/lockprof/access"
)

// DuplicatePolicy decides what happens to records sharing an ordering key.
type DuplicatePolicy int

const (
	// CollapseDuplicates keeps one record per (Seq, Accessor, Target) key.
	// This is the default: equal keys denote the same observation.
	CollapseDuplicates DuplicatePolicy = iota

	// KeepDuplicates keeps every record, including exact repeats.
	KeepDuplicates
)

// String returns the string representation of a DuplicatePolicy.
func (p DuplicatePolicy) String() string {
	switch p {
	case CollapseDuplicates:
		return "collapse"
	case KeepDuplicates:
		return "keep"
	default:
		return "unknown"
	}
}

// ParseDuplicatePolicy parses "collapse" or "keep". Empty means collapse.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, bool) {
	switch s {
	case "", "collapse":
		return CollapseDuplicates, true
	case "keep":
		return KeepDuplicates, true
	default:
		return CollapseDuplicates, false
	}
}

type options struct {
	duplicates DuplicatePolicy
}

// Option configures Build.
type Option func(*options)

// WithDuplicatePolicy selects how equal-key records are handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(o *options) {
		o.duplicates = p
	}
}

// Report is the immutable dual index over a set of critical sections.
type Report struct {
	byAccessor map[int64][]access.Access
	byTarget   map[uint64][]access.Access

	// accessors and targets keep the representative value (name, kind) of
	// each key, taken from its first record in total order.
	accessors []access.Accessor
	targets   []access.Target

	total  int
	policy DuplicatePolicy
}

// Build indexes accesses by accessor and by target.
//
// The input is treated as a set: its order does not matter. An empty or nil
// input produces an empty report. Build never fails; records referencing a
// zero Accessor or Target are indexed under those zero keys like any other.
//
// Each per-key slice is sorted by access.Compare. Records with equal keys are
// ordered by their payload (timestamps, site) so the result stays
// deterministic, then collapsed to one unless KeepDuplicates is selected.
//
// Complexity: O(n log n) time, O(n) space.
func Build(accesses []access.Access, opts ...Option) *Report {
	o := options{duplicates: CollapseDuplicates}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Report{
		byAccessor: make(map[int64][]access.Access),
		byTarget:   make(map[uint64][]access.Access),
		policy:     o.duplicates,
	}

	for _, a := range accesses {
		r.byAccessor[a.Accessor.Key()] = append(r.byAccessor[a.Accessor.Key()], a)
		r.byTarget[a.Target.Key()] = append(r.byTarget[a.Target.Key()], a)
	}

	for k, set := range r.byAccessor {
		set = r.normalize(set)
		r.byAccessor[k] = set
		r.accessors = append(r.accessors, set[0].Accessor)
		r.total += len(set)
	}
	for k, set := range r.byTarget {
		set = r.normalize(set)
		r.byTarget[k] = set
		r.targets = append(r.targets, set[0].Target)
	}

	slices.SortFunc(r.accessors, func(a, b access.Accessor) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(r.targets, func(a, b access.Target) int { return cmp.Compare(a.ID, b.ID) })

	return r
}

// normalize sorts one per-key set and applies the duplicate policy.
func (r *Report) normalize(set []access.Access) []access.Access {
	slices.SortFunc(set, ComparePayload)
	if r.policy == CollapseDuplicates {
		set = slices.CompactFunc(set, access.Access.Equal)
	}
	return slices.Clip(set)
}

// ComparePayload extends access.Compare with the payload fields so equal-key
// records still land in a fixed order. Under CollapseDuplicates the record
// that sorts first is the one kept.
func ComparePayload(a, b access.Access) int {
	if c := access.Compare(a, b); c != 0 {
		return c
	}
	if c := a.Acquired.Compare(b.Acquired); c != 0 {
		return c
	}
	if c := a.Released.Compare(b.Released); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ReleaseSeq, b.ReleaseSeq); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Site, b.Site); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Accessor.Name, b.Accessor.Name); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Target.Name, b.Target.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Target.Kind, b.Target.Kind)
}

// CriticalSectionsForAccessor returns every access made by a, in total order.
//
// Unknown accessors yield an empty, non-nil slice. The returned slice is a
// copy; callers may modify it freely.
func (r *Report) CriticalSectionsForAccessor(a access.Accessor) []access.Access {
	return clone(r.byAccessor[a.Key()])
}

// CriticalSectionsForTarget returns every access made against t, in total
// order. Unknown targets yield an empty, non-nil slice.
func (r *Report) CriticalSectionsForTarget(t access.Target) []access.Access {
	return clone(r.byTarget[t.Key()])
}

// Accessors returns the indexed accessors sorted by ID.
func (r *Report) Accessors() []access.Accessor {
	return slices.Clone(r.accessors)
}

// Targets returns the indexed targets sorted by ID.
func (r *Report) Targets() []access.Target {
	return slices.Clone(r.targets)
}

// Len returns the number of records held by the report.
func (r *Report) Len() int {
	return r.total
}

// Policy returns the duplicate policy the report was built with.
func (r *Report) Policy() DuplicatePolicy {
	return r.policy
}

// All returns every record in total order.
func (r *Report) All() []access.Access {
	all := make([]access.Access, 0, r.total)
	for _, a := range r.accessors {
		all = append(all, r.byAccessor[a.Key()]...)
	}
	slices.SortStableFunc(all, ComparePayload)
	return all
}

func clone(set []access.Access) []access.Access {
	out := make([]access.Access, len(set))
	copy(out, set)
	return out
}
