package hedge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig(t *testing.T, maxAttempts int) *Config[string] {
	t.Helper()
	return NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().ThenHedge(0)).
		WithMaxTotalAttempts(maxAttempts).
		Build()
}

func TestNextDelayRespectsAttemptCap(t *testing.T) {
	s := newState(testConfig(t, 2), time.Time{})
	assert.Equal(t, int64(0), s.NextDelay(0)) // attempt 1
	assert.Equal(t, int64(50), s.NextDelay(50)) // attempt 2
	assert.Equal(t, NoHedging, s.NextDelay(50)) // attempt 3 exceeds cap
	assert.Equal(t, 3, s.TotalAttempts())
}

func TestNextDelayRejectsNegativeProposal(t *testing.T) {
	s := newState(testConfig(t, 5), time.Time{})
	assert.Equal(t, NoHedging, s.NextDelay(-1))
}

func TestNextDelayRespectsDeadline(t *testing.T) {
	deadline := time.Now().Add(30 * time.Millisecond)
	s := newState(testConfig(t, 5), deadline)
	assert.Equal(t, int64(0), s.NextDelay(0))
	assert.Equal(t, NoHedging, s.NextDelay(1000))
}

func TestWouldAllowDoesNotMutateState(t *testing.T) {
	s := newState(testConfig(t, 1), time.Time{})
	assert.True(t, s.WouldAllow(0))
	assert.True(t, s.WouldAllow(0))
	assert.Equal(t, 0, s.TotalAttempts())

	s.NextDelay(0)
	assert.False(t, s.WouldAllow(0))
}

func TestEffectivePerAttemptTimeoutNoDeadline(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().ThenHedge(0)).
		WithPerAttemptTimeout(100 * time.Millisecond).
		Build()
	s := newState(cfg, time.Time{})

	timeout, ok := s.EffectivePerAttemptTimeout()
	assert.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, timeout)
}

func TestEffectivePerAttemptTimeoutClampedByDeadline(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().ThenHedge(0)).
		WithPerAttemptTimeout(time.Second).
		Build()
	s := newState(cfg, time.Now().Add(20*time.Millisecond))

	timeout, ok := s.EffectivePerAttemptTimeout()
	assert.True(t, ok)
	assert.LessOrEqual(t, timeout, 20*time.Millisecond)
}

func TestEffectivePerAttemptTimeoutAlreadyElapsed(t *testing.T) {
	cfg := testConfig(t, 2)
	s := newState(cfg, time.Now().Add(-time.Millisecond))

	_, ok := s.EffectivePerAttemptTimeout()
	assert.False(t, ok)
}
