package capture

import (
	"sync"
	"time"
)

// holdKey identifies the holds one goroutine has on one lock.
type holdKey struct {
	gid    int64
	target uint64
}

// openHold is an acquisition waiting for its release.
type openHold struct {
	seq      uint64
	acquired time.Time
	site     uint64
}

// holdStack is the LIFO of open holds for one holdKey. More than one entry
// means the lock was acquired again before being released (read locks).
type holdStack struct {
	mu   sync.Mutex
	open []openHold
}

func (s *holdStack) push(h openHold) {
	s.mu.Lock()
	s.open = append(s.open, h)
	s.mu.Unlock()
}

func (s *holdStack) pop() (openHold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.open) == 0 {
		return openHold{}, false
	}
	h := s.open[len(s.open)-1]
	s.open = s.open[:len(s.open)-1]
	return h, true
}

func (s *holdStack) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// holdTable maps (goroutine, lock) to its open holds.
//
// Implementation:
//   - sync.Map keyed by holdKey, value *holdStack
//   - holdStack allocated on first acquisition of a lock by a goroutine
//   - never freed during a session (goroutine/lock pairs are few)
//
// sync.Map suits the access pattern: each goroutine hits its own keys over
// and over, new keys are rare.
type holdTable struct {
	stacks sync.Map
}

// getOrCreate returns the holdStack for key, creating it if needed.
func (t *holdTable) getOrCreate(key holdKey) *holdStack {
	if val, ok := t.stacks.Load(key); ok {
		return val.(*holdStack)
	}
	val, _ := t.stacks.LoadOrStore(key, &holdStack{})
	return val.(*holdStack)
}

// pop closes the most recent hold of key.
//
// A sync.Mutex may be unlocked by a goroutine other than the one that
// locked it. When key has no open hold, pop falls back to any goroutine
// holding the same lock and reports that goroutine's ID.
func (t *holdTable) pop(key holdKey) (h openHold, gid int64, ok bool) {
	if val, found := t.stacks.Load(key); found {
		if h, ok = val.(*holdStack).pop(); ok {
			return h, key.gid, true
		}
	}

	t.stacks.Range(func(k, v any) bool {
		other := k.(holdKey)
		if other.target != key.target || other.gid == key.gid {
			return true
		}
		if h, ok = v.(*holdStack).pop(); ok {
			gid = other.gid
			return false
		}
		return true
	})
	return h, gid, ok
}

// open counts holds not yet released.
func (t *holdTable) open() int {
	n := 0
	t.stacks.Range(func(_, v any) bool {
		n += v.(*holdStack).len()
		return true
	})
	return n
}
