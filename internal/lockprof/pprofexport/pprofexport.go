// Package pprofexport converts a report into a pprof profile.
//
// The profile mimics the runtime's mutex profile so `go tool pprof` and
// existing contention tooling read it unchanged:
//
//	sample types: contentions/count, delay/nanoseconds
//	one sample per (lock, acquisition site)
//	labels: lock=<target string>, kind=<mutex|rwmutex|rlock>
//
// "delay" holds the total time the lock was held from that site, which is
// the time other goroutines could have waited on it.
package pprofexport

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/pprof/profile"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/report"
	"github.com/kolkov/lockprof/internal/lockprof/stackdepot"
)

const (
	// LabelLock names the lock label on every sample.
	LabelLock = "lock"
	// LabelKind names the lock kind label.
	LabelKind = "kind"
)

type siteKey struct {
	target uint64
	site   uint64
}

type siteStats struct {
	target access.Target
	site   uint64
	count  int64
	held   time.Duration
}

// builder interns functions and locations while samples are added.
type builder struct {
	prof      *profile.Profile
	functions map[string]*profile.Function
	locations map[locKey]*profile.Location
}

// locKey includes the function: inlined frames share a PC.
type locKey struct {
	pc uintptr
	fn string
}

// Export builds a profile from r. depot resolves acquisition sites to
// locations; with a nil depot, or for sites it does not know, samples carry
// no locations.
func Export(r *report.Report, depot *stackdepot.Depot) *profile.Profile {
	b := &builder{
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "contentions", Unit: "count"},
				{Type: "delay", Unit: "nanoseconds"},
			},
			PeriodType:        &profile.ValueType{Type: "contentions", Unit: "count"},
			Period:            1,
			DefaultSampleType: "delay",
		},
		functions: make(map[string]*profile.Function),
		locations: make(map[locKey]*profile.Location),
	}

	for _, st := range collect(r) {
		b.addSample(st, depot)
	}

	var start, end time.Time
	for _, a := range r.All() {
		if !a.Acquired.IsZero() && (start.IsZero() || a.Acquired.Before(start)) {
			start = a.Acquired
		}
		if a.Released.After(end) {
			end = a.Released
		}
	}
	if !start.IsZero() {
		b.prof.TimeNanos = start.UnixNano()
		if end.After(start) {
			b.prof.DurationNanos = end.Sub(start).Nanoseconds()
		}
	}
	return b.prof
}

// Write exports r and writes it gzip-compressed to w.
func Write(w io.Writer, r *report.Report, depot *stackdepot.Depot) error {
	p := Export(r, depot)
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("pprofexport: invalid profile: %w", err)
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("pprofexport: write profile: %w", err)
	}
	return nil
}

// collect aggregates critical sections per (lock, site), ordered by lock ID
// then site.
func collect(r *report.Report) []*siteStats {
	agg := make(map[siteKey]*siteStats)
	for _, t := range r.Targets() {
		for _, a := range r.CriticalSectionsForTarget(t) {
			k := siteKey{target: t.ID, site: a.Site}
			st, ok := agg[k]
			if !ok {
				st = &siteStats{target: t, site: a.Site}
				agg[k] = st
			}
			st.count++
			st.held += a.Held()
		}
	}

	out := make([]*siteStats, 0, len(agg))
	for _, st := range agg {
		out = append(out, st)
	}
	slices.SortFunc(out, func(x, y *siteStats) int {
		if c := cmp.Compare(x.target.ID, y.target.ID); c != 0 {
			return c
		}
		return cmp.Compare(x.site, y.site)
	})
	return out
}

func (b *builder) addSample(st *siteStats, depot *stackdepot.Depot) {
	s := &profile.Sample{
		Value: []int64{st.count, st.held.Nanoseconds()},
		Label: map[string][]string{
			LabelLock: {st.target.String()},
			LabelKind: {st.target.Kind.String()},
		},
	}
	if depot != nil {
		for _, frame := range depot.Get(st.site).Resolve() {
			s.Location = append(s.Location, b.location(frame.PC, frame.Function, frame.File, frame.Line))
		}
	}
	b.prof.Sample = append(b.prof.Sample, s)
}

func (b *builder) location(pc uintptr, fn, file string, line int) *profile.Location {
	k := locKey{pc: pc, fn: fn}
	if loc, ok := b.locations[k]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:      uint64(len(b.prof.Location) + 1),
		Address: uint64(pc),
		Line:    []profile.Line{{Function: b.function(fn, file), Line: int64(line)}},
	}
	b.locations[k] = loc
	b.prof.Location = append(b.prof.Location, loc)
	return loc
}

func (b *builder) function(name, file string) *profile.Function {
	key := name + "\x00" + file
	if f, ok := b.functions[key]; ok {
		return f
	}
	f := &profile.Function{
		ID:         uint64(len(b.prof.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   file,
	}
	b.functions[key] = f
	b.prof.Function = append(b.prof.Function, f)
	return f
}
