package capture

import (
	"sync"

	"github.com/kolkov/lockprof/internal/lockprof/access"
)

// Mutex is a sync.Mutex that reports its critical sections to a Recorder.
//
// A zero Mutex, or one built with a nil Recorder, behaves like a plain
// sync.Mutex and records nothing.
type Mutex struct {
	mu     sync.Mutex
	rec    *Recorder
	target access.Target
}

// NewMutex creates a Mutex recorded under name.
func NewMutex(r *Recorder, name string) *Mutex {
	m := &Mutex{rec: r}
	if r != nil {
		m.target = r.NewTarget(name, access.KindMutex)
	}
	return m
}

// Target returns the lock identity used in records.
func (m *Mutex) Target() access.Target {
	return m.target
}

// Lock locks m.
func (m *Mutex) Lock() {
	m.mu.Lock()
	if m.rec != nil {
		m.rec.Acquired(m.target)
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool {
	if !m.mu.TryLock() {
		return false
	}
	if m.rec != nil {
		m.rec.Acquired(m.target)
	}
	return true
}

// Unlock unlocks m.
func (m *Mutex) Unlock() {
	if m.rec != nil {
		m.rec.Released(m.target)
	}
	m.mu.Unlock()
}

// RWMutex is a sync.RWMutex that reports its critical sections.
//
// Both sides share one lock ID. Records of the write side carry
// access.KindRWMutex, records of the read side access.KindRLock.
type RWMutex struct {
	mu     sync.RWMutex
	rec    *Recorder
	writer access.Target
	reader access.Target
}

// NewRWMutex creates an RWMutex recorded under name.
func NewRWMutex(r *Recorder, name string) *RWMutex {
	m := &RWMutex{rec: r}
	if r != nil {
		m.writer = r.NewTarget(name, access.KindRWMutex)
		m.reader = m.writer
		m.reader.Kind = access.KindRLock
	}
	return m
}

// Target returns the write-side lock identity.
func (m *RWMutex) Target() access.Target {
	return m.writer
}

// Lock locks m for writing.
func (m *RWMutex) Lock() {
	m.mu.Lock()
	if m.rec != nil {
		m.rec.Acquired(m.writer)
	}
}

// Unlock unlocks m for writing.
func (m *RWMutex) Unlock() {
	if m.rec != nil {
		m.rec.Released(m.writer)
	}
	m.mu.Unlock()
}

// RLock locks m for reading.
func (m *RWMutex) RLock() {
	m.mu.RLock()
	if m.rec != nil {
		m.rec.Acquired(m.reader)
	}
}

// RUnlock undoes a single RLock call.
func (m *RWMutex) RUnlock() {
	if m.rec != nil {
		m.rec.Released(m.reader)
	}
	m.mu.RUnlock()
}
