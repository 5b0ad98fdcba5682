package monitor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetAddIsIdempotent(t *testing.T) {
	s := NewSeenSet(100)

	assert.True(t, s.Add("sig-1"))
	assert.False(t, s.Add("sig-1"))
	assert.True(t, s.Contains("sig-1"))
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetEvictsOldestHalf(t *testing.T) {
	s := NewSeenSet(10)

	for i := 0; i < 11; i++ {
		s.Add(fmt.Sprintf("sig-%d", i))
	}

	// Crossing capacity keeps only the newest half.
	assert.Equal(t, 5, s.Len())
	assert.False(t, s.Contains("sig-0"))
	assert.False(t, s.Contains("sig-5"))
	assert.True(t, s.Contains("sig-6"))
	assert.True(t, s.Contains("sig-10"))
}

func TestSeenSetEvictionKeepsWorking(t *testing.T) {
	s := NewSeenSet(10)

	for i := 0; i < 50; i++ {
		assert.True(t, s.Add(fmt.Sprintf("sig-%d", i)))
	}
	// Evicted signatures can be re-added; recent ones cannot.
	assert.False(t, s.Add("sig-49"))
	assert.True(t, s.Add("sig-0"))
}
