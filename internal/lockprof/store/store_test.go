package store

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockprof/internal/lockprof/access"
	"github.com/kolkov/lockprof/internal/lockprof/eventlog"
	"github.com/kolkov/lockprof/internal/lockprof/report"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func records(n int) []access.Access {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]access.Access, 0, n)
	for i := 0; i < n; i++ {
		acq := base.Add(time.Duration(i) * time.Millisecond)
		out = append(out, access.Access{
			Seq:      uint64(i + 1),
			Accessor: access.Accessor{ID: int64(i%3 + 1)},
			Target:   access.Target{ID: uint64(i%2 + 1), Kind: access.KindMutex},
			Acquired: acq,
			Released: acq.Add(time.Microsecond),
		})
	}
	return out
}

// TestPutLoad tests that a session comes back in total order.
func TestPutLoad(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	h := eventlog.NewHeader(uuid.New(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	in := records(50)
	shuffled := append([]access.Access(nil), in...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	require.NoError(t, s.Put(ctx, h, shuffled))

	log, err := s.Load(ctx, h.Session)
	require.NoError(t, err)
	assert.Equal(t, h, log.Header)
	assert.Equal(t, in, log.Records)

	// The archived view builds the same report as the original set.
	assert.Equal(t, report.Build(in).String(), report.Build(log.Records).String())
}

// TestPut_CollapsesEqualKeys tests that re-archiving is idempotent.
func TestPut_CollapsesEqualKeys(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	h := eventlog.NewHeader(uuid.New(), time.Now())

	require.NoError(t, s.Put(ctx, h, records(10)))
	require.NoError(t, s.Put(ctx, h, records(10)))

	log, err := s.Load(ctx, h.Session)
	require.NoError(t, err)
	assert.Len(t, log.Records, 10)
}

// TestPut_EqualKeysOrderIndependent tests that equal-key records with
// different payloads archive the same survivor in any order, within one Put
// or across several.
func TestPut_EqualKeysOrderIndependent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	held := func(d time.Duration) access.Access {
		return access.Access{
			Seq:      1,
			Accessor: access.Accessor{ID: 4},
			Target:   access.Target{ID: 2, Kind: access.KindMutex},
			Acquired: base,
			Released: base.Add(d),
		}
	}
	short, long := held(time.Millisecond), held(5*time.Millisecond)

	load := func(t *testing.T, s *Store, h eventlog.Header) access.Access {
		t.Helper()
		log, err := s.Load(ctx, h.Session)
		require.NoError(t, err)
		require.Len(t, log.Records, 1)
		return log.Records[0]
	}

	for _, order := range [][]access.Access{{short, long}, {long, short}} {
		s := openInMemory(t)
		h := eventlog.NewHeader(uuid.New(), base)
		require.NoError(t, s.Put(ctx, h, order))
		assert.Equal(t, short, load(t, s, h), "single Put")

		s = openInMemory(t)
		h = eventlog.NewHeader(uuid.New(), base)
		for _, a := range order {
			require.NoError(t, s.Put(ctx, h, []access.Access{a}))
		}
		assert.Equal(t, short, load(t, s, h), "one Put per record")
	}

	want := report.Build([]access.Access{long, short}).All()
	assert.Equal(t, []access.Access{short}, want, "same survivor as the report")
}

// TestSessions tests that sessions are isolated and listed.
func TestSessions(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	h1 := eventlog.NewHeader(uuid.New(), time.Now())
	h2 := eventlog.NewHeader(uuid.New(), time.Now())

	require.NoError(t, s.Put(ctx, h1, records(3)))
	require.NoError(t, s.Put(ctx, h2, records(5)))

	got, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []uuid.UUID{got[0].Session, got[1].Session}
	assert.ElementsMatch(t, []uuid.UUID{h1.Session, h2.Session}, ids)

	l1, err := s.Load(ctx, h1.Session)
	require.NoError(t, err)
	assert.Len(t, l1.Records, 3)
}

func TestLoad_Unknown(t *testing.T) {
	s := openInMemory(t)
	_, err := s.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPut_Cancelled(t *testing.T) {
	s := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Put(ctx, eventlog.NewHeader(uuid.New(), time.Now()), records(1))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestOpen_Persistent tests that data survives reopening.
func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	h := eventlog.NewHeader(uuid.New(), time.Now())

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, h, records(4)))
	require.NoError(t, s.Close())

	s, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	log, err := s.Load(ctx, h.Session)
	require.NoError(t, err)
	assert.Len(t, log.Records, 4)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

// TestRecordKey_Order tests that key order matches access.Compare,
// including negative goroutine IDs.
func TestRecordKey_Order(t *testing.T) {
	session := uuid.New()
	a := access.Access{Seq: 1, Accessor: access.Accessor{ID: -5}, Target: access.Target{ID: 9}}
	b := access.Access{Seq: 1, Accessor: access.Accessor{ID: 2}, Target: access.Target{ID: 1}}
	c := access.Access{Seq: 2, Accessor: access.Accessor{ID: 1}, Target: access.Target{ID: 1}}

	ka, kb, kc := recordKey(session, a), recordKey(session, b), recordKey(session, c)
	assert.Negative(t, compareBytes(ka, kb))
	assert.Negative(t, compareBytes(kb, kc))
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
