// ABOUTME: Tests for the dedupe cache
// ABOUTME: Verifies TTL expiry and size-capped eviction

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark(t *testing.T) {
	c := New(time.Minute, 10)

	assert.False(t, c.CheckAndMark("run_1"), "first sighting is not a duplicate")
	assert.True(t, c.CheckAndMark("run_1"), "second sighting is a duplicate")
	assert.False(t, c.CheckAndMark("run_2"))
}

func TestTTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)

	assert.False(t, c.CheckAndMark("run_1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.CheckAndMark("run_1"), "expired key is treated as new")
}

func TestSizeCapEviction(t *testing.T) {
	c := New(time.Minute, 3)

	for i := 0; i < 3; i++ {
		c.CheckAndMark(fmt.Sprintf("run_%d", i))
	}
	// Exceeding capacity evicts the oldest entry
	c.CheckAndMark("run_3")
	assert.LessOrEqual(t, c.Len(), 3)
	assert.False(t, c.CheckAndMark("run_0"), "oldest key was evicted")
}
