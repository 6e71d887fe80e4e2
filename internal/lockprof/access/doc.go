// Package access defines the value types of the lock profiler.
//
// Three types describe one critical-section observation:
//   - Accessor: the goroutine that held a lock
//   - Target: the lock (mutex, rwmutex, read side of an rwmutex)
//   - Access: Accessor held Target during [Acquired, Released]
//
// All three are immutable values. They are safe to copy, to share between
// goroutines and to use as map keys (Accessor and Target by ID).
//
// Ordering:
//
// Access values are totally ordered by the key (Seq, Accessor.ID, Target.ID).
// Seq is a global acquisition sequence number assigned by the capture layer,
// so the order is reproducible from the captured data alone. Timestamps,
// names and acquisition sites are payload and never take part in Compare.
// Two accesses with the same key are the same logical record.
//
//	a := access.Access{Seq: 1, Accessor: access.Accessor{ID: 7}, Target: access.Target{ID: 3}}
//	b := access.Access{Seq: 2, Accessor: access.Accessor{ID: 7}, Target: access.Target{ID: 3}}
//	access.Compare(a, b) // -1
package access
