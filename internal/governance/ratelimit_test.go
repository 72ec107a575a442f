package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiterReserveReportsRetryAfter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiter(map[string]RateLimiterConfig{
		"Patient": {RequestsPerSecond: 2, BurstSize: 1},
	}, clock.Now)

	ok, wait := rl.Reserve("Patient")
	require.True(t, ok)
	assert.Zero(t, wait)

	ok, wait = rl.Reserve("Patient")
	require.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	clock.Advance(500 * time.Millisecond)
	ok, _ = rl.Reserve("Patient")
	assert.True(t, ok)
}

func TestRateLimiterUnconfiguredPartitionAllowed(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimiterConfig{
		"Patient": {RequestsPerSecond: 1, BurstSize: 1},
	})

	for i := 0; i < 10; i++ {
		assert.True(t, admitted(rl, "Observation"))
	}
}

func TestRateLimiterWildcardApplies(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiter(map[string]RateLimiterConfig{
		WildcardKey: {RequestsPerSecond: 1, BurstSize: 1},
	}, clock.Now)

	assert.True(t, admitted(rl, "Observation"))
	assert.False(t, admitted(rl, "Patient"))
}

func TestRateLimiterConfigurePreservesBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiter(map[string]RateLimiterConfig{
		"Patient": {RequestsPerSecond: 1, BurstSize: 2},
	}, clock.Now)

	require.True(t, admitted(rl, "Patient"))
	require.True(t, admitted(rl, "Patient"))
	require.False(t, admitted(rl, "Patient"))

	rl.Configure(map[string]RateLimiterConfig{
		"Patient": {RequestsPerSecond: 1, BurstSize: 3},
	})

	// Raising the burst grants the difference immediately.
	assert.True(t, admitted(rl, "Patient"))
	assert.False(t, admitted(rl, "Patient"))

	stats := rl.Stats()
	require.Contains(t, stats, "Patient")
	assert.Equal(t, 3, stats["Patient"].BurstSize)
}

func admitted(rl *RateLimiter, key string) bool {
	ok, _ := rl.Reserve(key)
	return ok
}
