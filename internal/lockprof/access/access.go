package access

import (
	"cmp"
	"strconv"
	"time"
)

// Kind tells which side of which lock type a Target describes.
type Kind uint8

const (
	// KindMutex is an exclusive sync.Mutex.
	KindMutex Kind = iota
	// KindRWMutex is the write side of a sync.RWMutex.
	KindRWMutex
	// KindRLock is the read side of a sync.RWMutex.
	KindRLock
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindMutex:
		return "mutex"
	case KindRWMutex:
		return "rwmutex"
	case KindRLock:
		return "rlock"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindMutex
// and ok=false.
func ParseKind(s string) (k Kind, ok bool) {
	switch s {
	case "mutex":
		return KindMutex, true
	case "rwmutex":
		return KindRWMutex, true
	case "rlock":
		return KindRLock, true
	default:
		return KindMutex, false
	}
}

// Accessor identifies a goroutine that can hold a lock.
//
// Equality is by ID. Name is display data only and two Accessors with the
// same ID are interchangeable; use Key when indexing maps.
type Accessor struct {
	// ID is the goroutine id reported by the runtime.
	ID int64

	// Name is an optional label ("main", "worker-3").
	Name string
}

// Key returns the identity used for equality and map indexing.
func (a Accessor) Key() int64 {
	return a.ID
}

// Same reports whether a and other denote the same goroutine.
func (a Accessor) Same(other Accessor) bool {
	return a.ID == other.ID
}

// String returns "goroutine <id>" or "goroutine <id> (<name>)".
func (a Accessor) String() string {
	s := "goroutine " + strconv.FormatInt(a.ID, 10)
	if a.Name != "" {
		s += " (" + a.Name + ")"
	}
	return s
}

// Target identifies a lock being guarded.
//
// ID is a stable tag assigned when the lock is first observed. It is never a
// memory address, so persisted logs stay comparable across runs.
type Target struct {
	// ID is the stable lock tag.
	ID uint64

	// Name is the declared lock name, e.g. "cache.mu". May be empty.
	Name string

	// Kind is the lock type.
	Kind Kind
}

// Key returns the identity used for equality and map indexing.
func (t Target) Key() uint64 {
	return t.ID
}

// Same reports whether t and other denote the same lock.
func (t Target) Same(other Target) bool {
	return t.ID == other.ID
}

// String returns "lock <name>#<id>" or "lock #<id>".
func (t Target) String() string {
	return "lock " + t.Name + "#" + strconv.FormatUint(t.ID, 10)
}

// Access is one critical section: Accessor held Target from Acquired to
// Released. Seq orders it against every other Access of the session.
type Access struct {
	// Seq is the global acquisition sequence number. Strictly increasing
	// across all goroutines of one capture session.
	Seq uint64

	// Accessor is the goroutine that held the lock.
	Accessor Accessor

	// Target is the lock that was held.
	Target Target

	// Acquired is the wall-clock instant the lock was obtained.
	Acquired time.Time

	// Released is the wall-clock instant the lock was given back.
	Released time.Time

	// Site is the interned acquisition stack hash, 0 when not captured.
	Site uint64

	// ReleaseSeq is drawn from the same counter as Seq when the lock is
	// given back, so ReleaseSeq > Seq. 0 when unknown.
	ReleaseSeq uint64
}

// Compare orders two accesses by (Seq, Accessor.ID, Target.ID).
//
// Returns -1 if a sorts before b, +1 if after and 0 when both carry the same
// key, in which case they are the same logical record. The order is total,
// transitive and antisymmetric and does not depend on payload fields.
func Compare(a, b Access) int {
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Accessor.ID, b.Accessor.ID); c != 0 {
		return c
	}
	return cmp.Compare(a.Target.ID, b.Target.ID)
}

// Less reports whether a sorts strictly before other.
func (a Access) Less(other Access) bool {
	return Compare(a, other) < 0
}

// Equal reports whether a and other share the ordering key.
func (a Access) Equal(other Access) bool {
	return Compare(a, other) == 0
}

// Held returns how long the lock was held. Never negative.
func (a Access) Held() time.Duration {
	d := a.Released.Sub(a.Acquired)
	if d < 0 {
		return 0
	}
	return d
}

// Encloses reports whether other was acquired and released while a was
// held. When both records carry a ReleaseSeq the counters decide, so
// sections with equal timestamps still nest or follow each other exactly.
// Otherwise other must fall strictly inside a's hold interval. Records
// without a release instant never enclose anything. The caller compares
// accessors and targets itself.
func (a Access) Encloses(other Access) bool {
	if a.Seq >= other.Seq {
		return false
	}
	if a.ReleaseSeq != 0 && other.ReleaseSeq != 0 {
		return other.ReleaseSeq < a.ReleaseSeq
	}
	if a.Released.IsZero() || other.Released.IsZero() {
		return false
	}
	return other.Acquired.After(a.Acquired) && other.Released.Before(a.Released)
}

// AcquiredAfterRelease reports whether other was acquired once a had been
// given back.
func (a Access) AcquiredAfterRelease(other Access) bool {
	if a.ReleaseSeq != 0 {
		return other.Seq > a.ReleaseSeq
	}
	return other.Acquired.After(a.Released)
}

// Overlaps reports whether the two hold intervals intersect.
func (a Access) Overlaps(other Access) bool {
	return !a.Acquired.After(other.Released) && !other.Acquired.After(a.Released)
}

// String returns "#<seq> goroutine <id> -> lock <name>#<id>".
func (a Access) String() string {
	return "#" + strconv.FormatUint(a.Seq, 10) + " " + a.Accessor.String() + " -> " + a.Target.String()
}
