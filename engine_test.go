package hedge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// delegateFunc adapts a plain func into a DelegateClient for tests.
func delegateFunc(fn func(ctx *Context[string], req string) (string, error)) DelegateClient[string, string] {
	return DelegateClientFunc[string, string](fn)
}

func newTestEngine(t *testing.T, cfg *Config[string], delegate DelegateClient[string, string]) (*Engine[string, string], *eventRecorder) {
	t.Helper()
	rec := newEventRecorder()
	e := NewEngineBuilder[string, string](delegate, NewSingletonMapping[string, string](cfg)).
		OnAttemptScheduled(rec.scheduled).
		OnAttemptCompleted(rec.completed).
		OnWinnerSelected(rec.winner).
		OnLoserCancelled(rec.loserCancelled).
		Build()
	return e, rec
}

type eventRecorder struct {
	mu              sync.Mutex
	scheduledCount  int
	completedCount  int
	cancelledIdx    []int
	winnerTotal     int
	winnerIdx       int
	sawWinnerEvent  bool
}

func newEventRecorder() *eventRecorder { return &eventRecorder{} }

func (r *eventRecorder) scheduled(AttemptEvent[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduledCount++
}

func (r *eventRecorder) completed(CompletedEvent[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completedCount++
}

func (r *eventRecorder) winner(e WinnerEvent[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sawWinnerEvent = true
	r.winnerTotal = e.TotalAttempts
	r.winnerIdx = e.AttemptIndex
}

func (r *eventRecorder) loserCancelled(e AttemptEvent[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelledIdx = append(r.cancelledIdx, e.AttemptIndex)
}

func rootCtx(t *testing.T) *Context[string] {
	t.Helper()
	return NewContext[string](context.Background(), nil, Endpoint{Authority: "svc-a"})
}

func alwaysNextRule() Rule[string] {
	return NewRuleBuilder[string]().ThenHedge(1 << 30) // never matches any condition, so always Next
}

func TestEngineFastSuccessNeverHedges(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().OnUnprocessed().ThenHedge(0)).
		WithInitialHedgingDelay(200 * time.Millisecond).
		WithMaxTotalAttempts(3).
		Build()

	delegate := delegateFunc(func(ctx *Context[string], req string) (string, error) {
		return "ok:" + req, nil
	})

	e, rec := newTestEngine(t, cfg, delegate)
	result, err := e.Execute(rootCtx(t), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok:hello", result)
	assert.Equal(t, 1, rec.winnerTotal)
	assert.Equal(t, 0, rec.winnerIdx)
}

func TestEngineHedgeWinsWhenInitialAttemptIsSlow(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().ThenHedge(0)). // never ACCEPT; a completed attempt always wins outright
		WithInitialHedgingDelay(10 * time.Millisecond).
		WithMaxTotalAttempts(3).
		Build()

	delegate := delegateFunc(func(ctx *Context[string], req string) (string, error) {
		idx, _ := AttemptIndex(ctx)
		if idx == 0 {
			select {
			case <-time.After(500 * time.Millisecond):
				return "slow", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "fast", nil
	})

	e, rec := newTestEngine(t, cfg, delegate)
	start := time.Now()
	result, err := e.Execute(rootCtx(t), "req")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "fast", result)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.Equal(t, 1, rec.winnerIdx)
	assert.Contains(t, rec.cancelledIdx, 0)
}

func TestEngineRejectEndsRaceImmediately(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRule[string](func(_ *Context[string], cause error) Decision {
			if cause != nil {
				return Reject
			}
			return Next
		})).
		WithInitialHedgingDelay(0).
		WithMaxTotalAttempts(3).
		Build()

	boom := errors.New("boom")
	delegate := delegateFunc(func(ctx *Context[string], req string) (string, error) {
		return "", boom
	})

	e, rec := newTestEngine(t, cfg, delegate)
	_, err := e.Execute(rootCtx(t), "req")
	assert.ErrorIs(t, err, boom)
	assert.True(t, rec.sawWinnerEvent)
}

func TestEngineAcceptLoopSurfacesLastAttemptOnCapExhaustion(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().OnException(func(error) bool { return true }).ThenHedge(0)).
		WithInitialHedgingDelay(0).
		WithMaxTotalAttempts(2).
		Build()

	var calls int
	var mu sync.Mutex
	boom := errors.New("always fails")
	delegate := delegateFunc(func(ctx *Context[string], req string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "", boom
	})

	e, _ := newTestEngine(t, cfg, delegate)
	_, err := e.Execute(rootCtx(t), "req")
	assert.ErrorIs(t, err, boom)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestEngineMaxTotalAttemptsOneBehavesAsNoHedging(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().OnException(func(error) bool { return true }).ThenHedge(0)).
		WithInitialHedgingDelay(0).
		WithMaxTotalAttempts(1).
		Build()

	boom := errors.New("single attempt failure")
	delegate := delegateFunc(func(ctx *Context[string], req string) (string, error) {
		return "", boom
	})

	e, _ := newTestEngine(t, cfg, delegate)
	_, err := e.Execute(rootCtx(t), "req")
	assert.ErrorIs(t, err, boom)
}

func TestEngineOuterCancellationSurfacesContextError(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().ThenHedge(0)).
		WithInitialHedgingDelay(time.Hour).
		WithMaxTotalAttempts(2).
		Build()

	delegate := delegateFunc(func(ctx *Context[string], req string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	e, _ := newTestEngine(t, cfg, delegate)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Execute(NewContext[string](ctx, nil, Endpoint{Authority: "svc-a"}), "req")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngineDeadlineAlreadyElapsedStillRunsInitialAttempt(t *testing.T) {
	cfg := NewConfigBuilder[string]().
		WithRule(NewRuleBuilder[string]().ThenHedge(0)).
		WithMaxTotalAttempts(2).
		Build()

	var ran bool
	var mu sync.Mutex
	delegate := delegateFunc(func(ctx *Context[string], req string) (string, error) {
		mu.Lock()
		ran = true
		mu.Unlock()
		return "done", nil
	})

	e, _ := newTestEngine(t, cfg, delegate)
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	// Let the deadline elapse before Execute ever runs.
	time.Sleep(time.Millisecond)

	result, err := e.Execute(NewContext[string](ctx, nil, Endpoint{Authority: "svc-a"}), "req")

	mu.Lock()
	defer mu.Unlock()
	if err == nil {
		assert.Equal(t, "done", result)
	}
	assert.True(t, ran, "initial attempt must run even if the whole-operation deadline already elapsed")
}
