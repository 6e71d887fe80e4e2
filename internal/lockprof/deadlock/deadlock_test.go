package deadlock

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/report"
)

var (
	t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	lockA = access.Target{ID: 1, Name: "a", Kind: access.KindMutex}
	lockB = access.Target{ID: 2, Name: "b", Kind: access.KindMutex}
	lockC = access.Target{ID: 3, Name: "c", Kind: access.KindMutex}
)

// nested returns an outer critical section on outer that encloses one on
// inner, both by goroutine gid, starting at seq and at offset ms.
func nested(gid int64, seq uint64, ms int, outer, inner access.Target) []access.Access {
	at := func(d int) time.Time { return t0.Add(time.Duration(ms+d) * time.Millisecond) }
	g := access.Accessor{ID: gid}
	return []access.Access{
		{Seq: seq, Accessor: g, Target: outer, Acquired: at(0), Released: at(3)},
		{Seq: seq + 1, Accessor: g, Target: inner, Acquired: at(1), Released: at(2)},
	}
}

func concat(sets ...[]access.Access) []access.Access {
	var out []access.Access
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// tied returns a critical section whose acquire and release instants are
// both t0, ordered only by its counters.
func tied(gid int64, seq, rel uint64, target access.Target) access.Access {
	return access.Access{
		Seq:        seq,
		ReleaseSeq: rel,
		Accessor:   access.Accessor{ID: gid},
		Target:     target,
		Acquired:   t0,
		Released:   t0,
	}
}

// TestCheck_SequentialEqualTimestamps tests that back-to-back sections with
// identical timestamps are not mistaken for nesting.
func TestCheck_SequentialEqualTimestamps(t *testing.T) {
	r := report.Build([]access.Access{
		tied(1, 1, 2, lockA),
		tied(1, 3, 4, lockB),
		tied(2, 5, 6, lockB),
		tied(2, 7, 8, lockA),
	})
	assert.Zero(t, BuildGraph(r).EdgeCount())
	assert.Empty(t, Check(r))

	// Same shape without release counters falls back to strict timestamps.
	legacy := report.Build([]access.Access{
		{Seq: 1, Accessor: access.Accessor{ID: 1}, Target: lockA, Acquired: t0, Released: t0},
		{Seq: 2, Accessor: access.Accessor{ID: 1}, Target: lockB, Acquired: t0, Released: t0},
		{Seq: 3, Accessor: access.Accessor{ID: 2}, Target: lockB, Acquired: t0, Released: t0},
		{Seq: 4, Accessor: access.Accessor{ID: 2}, Target: lockA, Acquired: t0, Released: t0},
	})
	assert.Empty(t, Check(legacy))
}

// TestCheck_NestedEqualTimestamps tests that release counters still expose
// an inversion when every instant is equal.
func TestCheck_NestedEqualTimestamps(t *testing.T) {
	r := report.Build([]access.Access{
		tied(1, 1, 4, lockA),
		tied(1, 2, 3, lockB),
		tied(2, 5, 8, lockB),
		tied(2, 6, 7, lockA),
	})
	got := Check(r)
	require.Len(t, got, 1)
	assert.Equal(t, "1>2", got[0].Key)
}

// TestCheck_TwoLockInversion tests the classic AB/BA pattern.
func TestCheck_TwoLockInversion(t *testing.T) {
	r := report.Build(concat(
		nested(1, 1, 0, lockA, lockB),
		nested(2, 3, 10, lockB, lockA),
	))

	got := Check(r)
	require.Len(t, got, 1)

	inv := got[0]
	assert.Equal(t, "1>2", inv.Key)
	assert.Equal(t, []access.Target{lockA, lockB}, inv.Cycle)
	require.Len(t, inv.Edges, 2)
	assert.Equal(t, int64(1), inv.Edges[0].Accessor.ID)
	assert.Equal(t, int64(2), inv.Edges[1].Accessor.ID)
	assert.Len(t, inv.Accessors(), 2)

	out := inv.String()
	assert.Contains(t, out, "WARNING: POTENTIAL DEADLOCK")
	assert.Contains(t, out, "Lock order cycle: lock a#1 -> lock b#2 -> lock a#1")
	assert.Contains(t, out, "goroutine 1 acquired lock b#2 (#2) while holding lock a#1 (#1)")
	assert.Contains(t, out, "goroutine 2 acquired lock a#1 (#4) while holding lock b#2 (#3)")
}

// TestCheck_SingleGoroutine tests that one goroutine reversing its own
// order is not reported.
func TestCheck_SingleGoroutine(t *testing.T) {
	r := report.Build(concat(
		nested(1, 1, 0, lockA, lockB),
		nested(1, 3, 10, lockB, lockA),
	))

	g := BuildGraph(r)
	assert.Equal(t, 2, g.EdgeCount())
	assert.Empty(t, Check(r))
}

// TestCheck_ConsistentOrder tests that agreeing goroutines produce no cycle.
func TestCheck_ConsistentOrder(t *testing.T) {
	r := report.Build(concat(
		nested(1, 1, 0, lockA, lockB),
		nested(2, 3, 10, lockA, lockB),
	))

	g := BuildGraph(r)
	assert.Equal(t, []access.Target{lockB}, g.Successors(lockA))
	assert.Len(t, g.Witnesses(lockA, lockB), 2)
	assert.Empty(t, Check(r))
}

// TestCheck_Sequential tests that back-to-back sections create no edge.
func TestCheck_Sequential(t *testing.T) {
	g := access.Accessor{ID: 1}
	r := report.Build([]access.Access{
		{Seq: 1, Accessor: g, Target: lockA, Acquired: t0, Released: t0.Add(time.Millisecond)},
		{Seq: 2, Accessor: g, Target: lockB, Acquired: t0.Add(2 * time.Millisecond), Released: t0.Add(3 * time.Millisecond)},
	})

	assert.Zero(t, BuildGraph(r).EdgeCount())
}

// TestCheck_ThreeLockCycle tests a cycle spread over three goroutines.
func TestCheck_ThreeLockCycle(t *testing.T) {
	r := report.Build(concat(
		nested(1, 1, 0, lockA, lockB),
		nested(2, 3, 10, lockB, lockC),
		nested(3, 5, 20, lockC, lockA),
	))

	got := Check(r)
	require.Len(t, got, 1)
	assert.Equal(t, "1>2>3", got[0].Key)
	assert.Equal(t, []access.Target{lockA, lockB, lockC}, got[0].Cycle)
	assert.Len(t, got[0].Accessors(), 3)

	// A cycle longer than the limit is not searched.
	assert.Empty(t, Check(r, WithMaxCycleLength(2)))
}

// TestCheck_Deterministic tests that input order does not affect output.
func TestCheck_Deterministic(t *testing.T) {
	records := concat(
		nested(1, 1, 0, lockA, lockB),
		nested(2, 3, 10, lockB, lockA),
		nested(3, 5, 20, lockB, lockC),
		nested(4, 7, 30, lockC, lockB),
		nested(5, 9, 40, lockA, lockB),
	)
	want := Check(report.Build(records))
	require.Len(t, want, 2)
	assert.Equal(t, "1>2", want[0].Key)
	assert.Equal(t, "2>3", want[1].Key)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]access.Access(nil), records...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		assert.Equal(t, want, Check(report.Build(shuffled)))
	}
}

// TestCheck_MixedWitnesses tests that a goroutine with both orders does not
// hide a second goroutine taking one of them.
func TestCheck_MixedWitnesses(t *testing.T) {
	r := report.Build(concat(
		nested(1, 1, 0, lockA, lockB),
		nested(1, 3, 10, lockB, lockA),
		nested(2, 5, 20, lockB, lockA),
	))

	got := Check(r)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Accessors(), 2)
}

func TestCheck_MissingTimestamps(t *testing.T) {
	g := access.Accessor{ID: 1}
	r := report.Build([]access.Access{
		{Seq: 1, Accessor: g, Target: lockA},
		{Seq: 2, Accessor: g, Target: lockB},
	})
	assert.Zero(t, BuildGraph(r).EdgeCount())
}

func TestCheck_Empty(t *testing.T) {
	assert.Empty(t, Check(report.Build(nil)))
}

func TestInversion_FormatLines(t *testing.T) {
	inv := Check(report.Build(concat(
		nested(1, 1, 0, lockA, lockB),
		nested(2, 3, 10, lockB, lockA),
	)))[0]

	lines := strings.Split(strings.TrimSpace(inv.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "==================", lines[0])
	assert.Equal(t, "==================", lines[5])
}
