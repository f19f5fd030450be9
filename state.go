package hedge

import (
	"sync"
	"time"
)

// State is the per-outer-request mutable scoreboard (spec §3 "HedgingState", §4.3). Engine.Execute creates it and
// holds it for the duration of that call; it is not stored on the request's Context. It is exclusively owned by the
// Engine driving that request; nothing about State is safe to share across outer requests.
type State[R any] struct {
	mu            sync.Mutex
	config        *Config[R]
	deadline      time.Time // zero Time means no whole-operation deadline
	totalAttempts int
}

func newState[R any](config *Config[R], deadline time.Time) *State[R] {
	return &State[R]{config: config, deadline: deadline}
}

// TotalAttempts returns the number of attempts started so far, including the one just counted by the most recent
// NextDelay call.
func (s *State[R]) TotalAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalAttempts
}

// HasDeadline reports whether the outer request carries a whole-operation deadline.
func (s *State[R]) HasDeadline() bool {
	return !s.deadline.IsZero()
}

// WouldAllow peeks whether a hedge proposed with proposedDelayMs could be scheduled right now, without mutating
// totalAttempts. The Engine uses this to decide whether (and for how long) to arm a pending-hedge timer; the actual
// gate-and-increment happens via NextDelay at the moment the hedge truly starts, so a timer that gets superseded
// before firing never counts against totalAttempts (see DESIGN.md, "totalAttempts counts started attempts").
func (s *State[R]) WouldAllow(proposedDelayMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalAttempts+1 > s.config.maxTotalAttempts {
		return false
	}
	if proposedDelayMs < 0 {
		return false
	}
	if s.HasDeadline() {
		remainingMs := time.Until(s.deadline).Milliseconds()
		if proposedDelayMs > remainingMs {
			return false
		}
	}
	return true
}

// NextDelay implements spec §4.3: it increments totalAttempts and returns either a usable delay (in milliseconds)
// or NoHedging. The Engine calls it once per attempt it actually starts, including the initial attempt; arming a
// hedge timer uses WouldAllow instead.
func (s *State[R]) NextDelay(proposedDelayMs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalAttempts++
	if s.totalAttempts > s.config.maxTotalAttempts {
		return NoHedging
	}
	if proposedDelayMs < 0 {
		return NoHedging
	}
	if s.HasDeadline() {
		remainingMs := time.Until(s.deadline).Milliseconds()
		if proposedDelayMs > remainingMs {
			return NoHedging
		}
	}
	return proposedDelayMs
}

// EffectivePerAttemptTimeout implements spec §4.3's effectivePerAttemptResponseTimeoutMs. ok is false when the
// whole-operation deadline has already elapsed ("already timed out"); the caller (Engine) treats that as an
// immediate Timeout for the attempt about to start. A returned timeout of zero duration with ok=true means
// unlimited (no per-attempt timeout and no whole-operation deadline).
func (s *State[R]) EffectivePerAttemptTimeout() (timeout time.Duration, ok bool) {
	if !s.HasDeadline() {
		return s.config.perAttemptTimeout, true
	}

	remaining := time.Until(s.deadline)
	if remaining <= 0 {
		return 0, false
	}
	if s.config.perAttemptTimeout > 0 && s.config.perAttemptTimeout < remaining {
		return s.config.perAttemptTimeout, true
	}
	return remaining, true
}
