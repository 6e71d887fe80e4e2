// Package stackdepot interns lock acquisition stacks.
//
// A Depot stores each unique call stack once, referenced by a 64-bit hash.
// Critical-section records carry only the hash (access.Access.Site); the
// stack is resolved when a report or profile is rendered.
//
// Design:
//   - Fixed-size stack traces (MaxFrames frames)
//   - Hash-based deduplication (FNV-1a over program counters)
//   - sync.Map storage, owned by the Depot value (no package globals)
//
// Usage:
//
//	depot := stackdepot.New()
//	hash := depot.Capture(1)
//	fmt.Print(depot.Get(hash).Format())
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

const (
	// MaxFrames is the maximum number of stack frames kept per site.
	MaxFrames = 16
)

// StackTrace is a captured stack with fixed capacity.
type StackTrace struct {
	PC [MaxFrames]uintptr
}

// Frames returns the non-zero program counters.
func (st *StackTrace) Frames() []uintptr {
	if st == nil {
		return nil
	}
	n := 0
	for n < MaxFrames && st.PC[n] != 0 {
		n++
	}
	return st.PC[:n]
}

// Depot is a deduplicating store of stack traces.
//
// Thread Safety: all methods are safe for concurrent calls.
type Depot struct {
	stacks sync.Map // uint64 (hash) -> *StackTrace
}

// New creates an empty Depot.
func New() *Depot {
	return &Depot{}
}

// Capture records the caller's stack and returns its hash.
//
// skip counts frames above Capture's caller to drop: 0 starts the stack at
// the function that called Capture. Returns 0 when no frame is available.
//
// Performance: ~500ns (runtime.Callers + hashing). Repeated stacks only pay
// for the hash.
func (d *Depot) Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// +2 skips runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}

	hash := hashStack(pcs[:n])
	if _, exists := d.stacks.Load(hash); exists {
		return hash
	}
	d.stacks.Store(hash, &StackTrace{PC: pcs})
	return hash
}

// Get returns the stack stored under hash, or nil.
func (d *Depot) Get(hash uint64) *StackTrace {
	if hash == 0 {
		return nil
	}
	val, ok := d.stacks.Load(hash)
	if !ok {
		return nil
	}
	return val.(*StackTrace)
}

// Len returns the number of unique stacks.
//
// Performance: O(N), iterates the whole map.
func (d *Depot) Len() int {
	n := 0
	d.stacks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// hashStack computes the FNV-1a hash of program counters.
func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(b[:], uint64(pc))
		_, _ = h.Write(b[:]) // hash.Hash never returns an error
	}
	return h.Sum64()
}

// Format renders the stack, skipping runtime and lockprof capture frames:
//
//	main.worker()
//	    /path/to/file.go:45
func (st *StackTrace) Format() string {
	if st == nil {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(st.Frames())
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}

		if !skipFrame(frame.Function) {
			fmt.Fprintf(&buf, "  %s()\n", frame.Function)
			fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)
		}

		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

// Top returns the first frame outside the runtime and the capture package.
// The zero Frame means there is none.
func (st *StackTrace) Top() runtime.Frame {
	if st == nil {
		return runtime.Frame{}
	}
	frames := runtime.CallersFrames(st.Frames())
	for {
		frame, more := frames.Next()
		if frame.PC != 0 && !skipFrame(frame.Function) {
			return frame
		}
		if !more {
			return runtime.Frame{}
		}
	}
}

// Resolve returns the frames Format would print, innermost first.
func (st *StackTrace) Resolve() []runtime.Frame {
	if st == nil {
		return nil
	}
	var out []runtime.Frame
	frames := runtime.CallersFrames(st.Frames())
	for {
		frame, more := frames.Next()
		if frame.PC != 0 && !skipFrame(frame.Function) {
			out = append(out, frame)
		}
		if !more {
			return out
		}
	}
}

func skipFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "/internal/lockprof/capture.")
}
