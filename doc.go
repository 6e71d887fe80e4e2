// Package lockprof records who held which lock, when, and in what order.
//
// Programs opt in by creating their locks through this package. Every
// critical section (one goroutine holding one lock from acquisition to
// release) is captured with a global sequence number, periodically appended
// to a JSON Lines event log, and later analyzed by the lockprof command.
//
// # Quick Start
//
//	package main
//
//	import "github.com/kolkov/lockprof"
//
//	var cacheMu = lockprof.NewMutex("cache.mu")
//
//	func main() {
//		if err := lockprof.Start("outputFile=/tmp/locks.jsonl"); err != nil {
//			panic(err)
//		}
//		defer lockprof.Stop()
//		// ... rest of program
//	}
//
// Locks must be created after Start to be recorded; locks created before
// behave as plain sync.Mutex values.
//
// Then, offline:
//
//	$ lockprof report /tmp/locks.jsonl
//	$ lockprof check /tmp/locks.jsonl      # potential deadlocks
//	$ lockprof export /tmp/locks.jsonl -o locks.pb.gz
//	$ go tool pprof locks.pb.gz
//
// # API Overview
//
// The package provides functions for:
//   - Lifecycle: [Start], [Stop], [Flush]
//   - Recorded locks: [NewMutex], [NewRWMutex]
//   - Goroutine names in reports: [Label]
//   - Version information: [GetInfo], [Version]
//
// # Agent Arguments
//
// Start takes a comma-separated key=value string:
//
//	outputFile  event log path (required, otherwise the agent is disabled)
//	interval    period between flushes (default 10s)
//	delay       wait before the first flush (default 1s)
//	duplicates  collapse or keep records with equal ordering keys
//	stacks      capture acquisition stacks (default true)
//
// The output file is cleared when the agent starts.
//
// # Reports
//
// A report indexes critical sections two ways: per goroutine and per lock,
// each in total order by (sequence, goroutine ID, lock ID). It answers
// "what did this goroutine hold" and "who held this lock" and feeds the
// lock-order deadlock checker and the pprof exporter.
package lockprof
