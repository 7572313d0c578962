// ABOUTME: Tests for the inbound message dedupe window.
// ABOUTME: Covers duplicate detection, TTL expiry, size bounds, and races.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_FirstObservationIsNotDuplicate(t *testing.T) {
	w := New(5*time.Minute, 100)

	assert.False(t, w.Observe("telegram:42"))
}

func TestWindow_SecondObservationIsDuplicate(t *testing.T) {
	w := New(5*time.Minute, 100)

	assert.False(t, w.Observe("telegram:42"))
	assert.True(t, w.Observe("telegram:42"))
}

func TestWindow_PlatformPrefixesKeepIDSpacesApart(t *testing.T) {
	w := New(5*time.Minute, 100)

	assert.False(t, w.Observe("telegram:42"))
	assert.False(t, w.Observe("slack:42"))
	assert.True(t, w.Observe("telegram:42"))
}

func TestWindow_ExpiredIDIsFreshAgain(t *testing.T) {
	w := New(10*time.Millisecond, 100)

	assert.False(t, w.Observe("telegram:7"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, w.Observe("telegram:7"), "expired id should be treated as new")
}

func TestWindow_PruneRemovesExpiredEntries(t *testing.T) {
	w := New(10*time.Millisecond, 100)

	w.Observe("a")
	w.Observe("b")
	w.Observe("c")
	assert.Equal(t, 3, w.Len())

	time.Sleep(20 * time.Millisecond)

	// Any insert prunes the expired front
	w.Observe("d")
	assert.Equal(t, 1, w.Len())
}

func TestWindow_SizeBoundEvictsOldest(t *testing.T) {
	w := New(5*time.Minute, 3)

	w.Observe("first")
	w.Observe("second")
	w.Observe("third")
	w.Observe("fourth")

	assert.False(t, w.Observe("first"), "oldest id should have been evicted")
	assert.True(t, w.Observe("second"))
	assert.True(t, w.Observe("third"))
	assert.True(t, w.Observe("fourth"))
}

func TestWindow_ConcurrentObserversExactlyOneWins(t *testing.T) {
	w := New(5*time.Minute, 1000)

	const goroutines = 100
	var winners atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if !w.Observe("contested") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(),
		"exactly one observer should see the id as new")
}

func TestWindow_ConcurrentDistinctIDs(t *testing.T) {
	w := New(5*time.Minute, 10_000)

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w.Observe(fmt.Sprintf("g%d:m%d", id, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, goroutines*50, w.Len())
}
