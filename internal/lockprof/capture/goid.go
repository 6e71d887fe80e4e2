// Copyright 2025 The lockprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Goroutine ID extraction.
//
// The runtime does not export goroutine IDs. The header line of a
// runtime.Stack dump does: "goroutine 123 [running]:". Parsing it is slow
// (~1500ns per call) but works on every Go version and architecture, and a
// lock acquisition already costs far more than that under contention.

package capture

import "runtime"

// goroutineID returns the current goroutine ID, or 0 if it cannot be parsed.
func goroutineID() int64 {
	// Only the first line is needed: "goroutine 123 [running]:\n..."
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the goroutine ID from stack trace bytes.
//
// Expected format: "goroutine 123 [running]:..."
// Returns 123 in this example, or 0 if the prefix does not match.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break // usually the space before "[running]"
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}
