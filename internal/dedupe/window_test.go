// ABOUTME: Tests for the event suppression window
// ABOUTME: Covers duplicate detection, expiry, capacity eviction, and concurrent arrivals

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_Seen_FirstArrivalPasses(t *testing.T) {
	w := NewWindow(time.Minute, 100)
	defer w.Close()

	assert.False(t, w.Seen("$event1"))
	assert.True(t, w.Seen("$event1"))
	assert.True(t, w.Seen("$event1"))
}

func TestWindow_Seen_DistinctIDsIndependent(t *testing.T) {
	w := NewWindow(time.Minute, 100)
	defer w.Close()

	assert.False(t, w.Seen("$a"))
	assert.False(t, w.Seen("$b"))
	assert.True(t, w.Seen("$a"))
	assert.True(t, w.Seen("$b"))
}

func TestWindow_Seen_ExpiredIDPassesAgain(t *testing.T) {
	w := NewWindow(20*time.Millisecond, 100)
	defer w.Close()

	assert.False(t, w.Seen("$event1"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, w.Seen("$event1"))
}

func TestWindow_Seen_CapacityEvictsOldest(t *testing.T) {
	w := NewWindow(time.Minute, 2)
	defer w.Close()

	w.Seen("$a")
	w.Seen("$b")
	w.Seen("$c")

	// $a was evicted to make room, $b and $c remain. The miss is checked
	// last: a Seen miss re-inserts the ID and evicts the oldest survivor.
	assert.True(t, w.Seen("$b"))
	assert.True(t, w.Seen("$c"))
	assert.False(t, w.Seen("$a"))
}

func TestWindow_RemoveExpired_TrimsOnlyStale(t *testing.T) {
	w := NewWindow(20*time.Millisecond, 100)
	defer w.Close()

	w.Seen("$old")
	time.Sleep(30 * time.Millisecond)
	w.Seen("$fresh")

	w.removeExpired()

	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Seen("$fresh"))
	assert.False(t, w.Seen("$old"))
}

func TestWindow_Seen_ConcurrentSameID(t *testing.T) {
	w := NewWindow(time.Minute, 100)
	defer w.Close()

	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !w.Seen("$contested") {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), passed.Load())
}

func TestWindow_Seen_ConcurrentDistinctIDs(t *testing.T) {
	w := NewWindow(time.Minute, 1000)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				w.Seen(fmt.Sprintf("$event-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, w.Len())
}

func TestWindow_Close_Idempotent(t *testing.T) {
	w := NewWindow(time.Minute, 100)
	w.Close()
	w.Close()
}
