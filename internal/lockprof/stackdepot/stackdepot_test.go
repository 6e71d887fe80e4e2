package stackdepot

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCapture tests basic stack capture and retrieval.
func TestCapture(t *testing.T) {
	d := New()

	hash := d.Capture(0)
	require.NotZero(t, hash)

	stack := d.Get(hash)
	require.NotNil(t, stack)
	assert.NotEmpty(t, stack.Frames())
}

// TestCaptureDeduplication tests that identical stacks share one entry.
func TestCaptureDeduplication(t *testing.T) {
	d := New()

	var hashes [2]uint64
	for i := range hashes {
		hashes[i] = d.Capture(0)
	}

	assert.Equal(t, hashes[0], hashes[1])
	assert.Same(t, d.Get(hashes[0]), d.Get(hashes[1]))
	assert.Equal(t, 1, d.Len())
}

// TestDepotsAreIndependent tests that two depots do not share state.
func TestDepotsAreIndependent(t *testing.T) {
	d1, d2 := New(), New()
	hash := d1.Capture(0)

	assert.NotNil(t, d1.Get(hash))
	assert.Nil(t, d2.Get(hash))
	assert.Equal(t, 0, d2.Len())
}

func TestGetMissing(t *testing.T) {
	d := New()
	assert.Nil(t, d.Get(0))
	assert.Nil(t, d.Get(0x123456789abcdef0))
}

// TestFormat tests stack rendering.
func TestFormat(t *testing.T) {
	d := New()
	stack := d.Get(d.Capture(0))
	require.NotNil(t, stack)

	out := stack.Format()
	assert.Contains(t, out, "TestFormat")
	assert.Contains(t, out, "stackdepot_test.go:")
	assert.NotContains(t, out, "runtime.Callers")

	var nilStack *StackTrace
	assert.Equal(t, "  <unknown>\n", nilStack.Format())
}

func TestTop(t *testing.T) {
	d := New()
	frame := d.Get(d.Capture(0)).Top()
	assert.True(t, strings.HasSuffix(frame.Function, "TestTop"), frame.Function)

	var nilStack *StackTrace
	assert.Zero(t, nilStack.Top().PC)
}

func TestResolve(t *testing.T) {
	d := New()
	frames := d.Get(d.Capture(0)).Resolve()
	require.NotEmpty(t, frames)
	assert.True(t, strings.HasSuffix(frames[0].Function, "TestResolve"), frames[0].Function)
	for _, f := range frames {
		assert.False(t, strings.HasPrefix(f.Function, "runtime."), f.Function)
	}

	var nilStack *StackTrace
	assert.Nil(t, nilStack.Resolve())
}

// TestConcurrentCapture tests Capture from many goroutines.
func TestConcurrentCapture(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NotZero(t, d.Capture(0))
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, d.Len(), 1)
}
