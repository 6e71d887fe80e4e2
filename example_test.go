package lockprof_test

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kolkov/lockprof"
)

// Example demonstrates capturing critical sections to an event log.
func Example() {
	dir, err := os.MkdirTemp("", "lockprof-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	if err := lockprof.Start("outputFile=" + filepath.Join(dir, "locks.jsonl") + ",delay=1h"); err != nil {
		panic(err)
	}

	mu := lockprof.NewMutex("counter.mu")
	counter := 0
	for i := 0; i < 3; i++ {
		mu.Lock()
		counter++
		mu.Unlock()
	}

	fmt.Println(counter)
	fmt.Println(lockprof.Recorder().Stats().Recorded)

	if err := lockprof.Stop(); err != nil {
		panic(err)
	}

	// Output:
	// 3
	// 3
}

// Example_withoutAgent shows that locks work before Start.
func Example_withoutAgent() {
	mu := lockprof.NewRWMutex("config.mu")

	mu.RLock()
	fmt.Println("read locked")
	mu.RUnlock()

	// Output:
	// read locked
}

// Example_getInfo prints runtime information.
func Example_getInfo() {
	info := lockprof.GetInfo()
	fmt.Printf("lockprof %s (events %s)\n", info.Version, info.EventLogFormat)

	// Output:
	// lockprof 0.1.0 (events v1.0.0)
}
