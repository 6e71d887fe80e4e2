// Package main implements the lockprof CLI tool.
//
// The lockprof tool analyzes event logs written by the lockprof agent:
//
//  1. Reading the JSON Lines event log (or an archived session)
//  2. Building the per-goroutine and per-lock report
//  3. Checking the lock-order graph for potential deadlocks
//  4. Exporting pprof profiles and archiving sessions in BadgerDB
//
// Usage:
//
//	lockprof report events.jsonl           # print the report
//	lockprof check events.jsonl            # exit 1 on lock-order inversions
//	lockprof export events.jsonl -o p.pb.gz
//	lockprof archive events.jsonl --db ./lockprof.db
//	lockprof report --db ./lockprof.db --session <uuid>
package main

import (
	"errors"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errInversionsFound) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
