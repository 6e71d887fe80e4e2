// Package lockprof provides the public API of the lock profiler.
//
// See doc.go for detailed documentation and examples.
package lockprof

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/kolkov/lockprof/internal/lockprof/agent"
	"github.com/kolkov/lockprof/internal/lockprof/capture"
	"github.com/kolkov/lockprof/internal/lockprof/config"
)

// Mutex is a sync.Mutex that reports its critical sections.
type Mutex = capture.Mutex

// RWMutex is a sync.RWMutex that reports its critical sections.
type RWMutex = capture.RWMutex

var (
	mu       sync.Mutex
	recorder *capture.Recorder
	running  *agent.Agent
)

// Start creates the session Recorder and starts the agent.
//
// args uses the agent argument syntax:
//
//	outputFile=<path>[,interval=<dur>][,delay=<dur>][,duplicates=collapse|keep][,stacks=<bool>]
//
// Without outputFile, a warning is logged and the agent stays disabled;
// locks created afterwards are still recorded in memory.
//
// Start is safe to call multiple times (subsequent calls are no-ops until
// Stop).
func Start(args string) error {
	mu.Lock()
	defer mu.Unlock()

	if recorder != nil {
		return nil
	}

	cfg, err := config.Default().ApplyAgentArgs(args)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	rec := capture.NewRecorder(
		capture.WithStackCapture(cfg.CaptureStacks),
		capture.WithLogger(logger),
	)
	a, err := agent.Start(context.Background(), cfg, rec, agent.WithLogger(logger))
	if err != nil {
		return err
	}
	recorder, running = rec, a
	return nil
}

// Stop performs a final flush and stops the agent.
//
// Locks created before Stop keep working but no longer write to the event
// log. A later Start begins a new session.
//
// For manual setup, use defer:
//
//	func main() {
//		if err := lockprof.Start("outputFile=/tmp/locks.jsonl"); err != nil {
//			log.Fatal(err)
//		}
//		defer lockprof.Stop()
//		// ... rest of program
//	}
func Stop() error {
	mu.Lock()
	defer mu.Unlock()

	if running == nil {
		return nil
	}
	err := running.Stop()
	recorder, running = nil, nil
	return err
}

// Recorder returns the session Recorder, or nil before Start.
func Recorder() *capture.Recorder {
	mu.Lock()
	defer mu.Unlock()
	return recorder
}

// NewMutex returns a Mutex recorded by the session Recorder. Before Start it
// behaves as a plain sync.Mutex.
func NewMutex(name string) *Mutex {
	return capture.NewMutex(Recorder(), name)
}

// NewRWMutex returns an RWMutex recorded by the session Recorder. Before
// Start it behaves as a plain sync.RWMutex.
func NewRWMutex(name string) *RWMutex {
	return capture.NewRWMutex(Recorder(), name)
}

// Label names the calling goroutine in reports. No-op before Start.
func Label(name string) {
	if r := Recorder(); r != nil {
		r.Label(name)
	}
}

// Flush writes pending records to the event log now.
func Flush() error {
	mu.Lock()
	defer mu.Unlock()

	if running == nil {
		return nil
	}
	return running.Flush()
}
