package hedge

import (
	"sort"
	"time"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"
)

// Engine is the Hedging Engine (spec §4.4): the core decorator that races attempts against a delegate client,
// applies a request's Rule to every completed attempt, and surfaces exactly one outcome. Build one with
// NewEngine/NewEngineWithMapping or EngineBuilder.
type Engine[Req any, R any] struct {
	delegate         DelegateClient[Req, R]
	mapping          Mapping[Req, R]
	newContentSource func(resp R, maxContentLength int) ContentSource[R]
	stampAttempt     func(req Req, attemptIndex int) Req
	listeners        listeners[R]
}

// NewEngine returns an Engine that applies the same Config to every request.
func NewEngine[Req any, R any](delegate DelegateClient[Req, R], config *Config[R]) *Engine[Req, R] {
	return NewEngineBuilder[Req, R](delegate, NewSingletonMapping[Req, R](config)).Build()
}

// NewEngineWithMapping returns an Engine that resolves a Config per request via mapping.
func NewEngineWithMapping[Req any, R any](delegate DelegateClient[Req, R], mapping Mapping[Req, R]) *Engine[Req, R] {
	return NewEngineBuilder[Req, R](delegate, mapping).Build()
}

// EngineBuilder assembles an Engine, mirroring the teacher's policy-builder style.
type EngineBuilder[Req any, R any] struct {
	e *Engine[Req, R]
}

// NewEngineBuilder returns a builder for an Engine decorating delegate and resolving Configs via mapping.
func NewEngineBuilder[Req any, R any](delegate DelegateClient[Req, R], mapping Mapping[Req, R]) *EngineBuilder[Req, R] {
	return &EngineBuilder[Req, R]{e: &Engine[Req, R]{delegate: delegate, mapping: mapping}}
}

// WithContentSource overrides how the Engine duplicates a completed attempt's response for content-aware rule
// evaluation. Adapters whose R can be read more than once without cost (e.g. an already-buffered RPC reply) can
// leave this unset; streaming adapters (hedgehttp) must supply one backed by a real duplicator.
func (b *EngineBuilder[Req, R]) WithContentSource(fn func(resp R, maxContentLength int) ContentSource[R]) *EngineBuilder[Req, R] {
	b.e.newContentSource = fn
	return b
}

// WithAttemptStamper lets an adapter stamp the outbound armeria-retry-count header (or transport equivalent) onto
// every attempt past the initial one. Left unset, no stamping occurs.
func (b *EngineBuilder[Req, R]) WithAttemptStamper(fn func(req Req, attemptIndex int) Req) *EngineBuilder[Req, R] {
	b.e.stampAttempt = fn
	return b
}

// OnAttemptScheduled registers a listener fired whenever a new attempt is about to start.
func (b *EngineBuilder[Req, R]) OnAttemptScheduled(fn func(AttemptEvent[R])) *EngineBuilder[Req, R] {
	b.e.listeners.onAttemptScheduled = fn
	return b
}

// OnAttemptCompleted registers a listener fired whenever an attempt finishes and its Rule has been evaluated.
func (b *EngineBuilder[Req, R]) OnAttemptCompleted(fn func(CompletedEvent[R])) *EngineBuilder[Req, R] {
	b.e.listeners.onAttemptCompleted = fn
	return b
}

// OnWinnerSelected registers a listener fired once, when an attempt's outcome is chosen as the outer request's
// result.
func (b *EngineBuilder[Req, R]) OnWinnerSelected(fn func(WinnerEvent[R])) *EngineBuilder[Req, R] {
	b.e.listeners.onWinnerSelected = fn
	return b
}

// OnLoserCancelled registers a listener fired for every in-flight attempt cancelled once a winner is chosen.
func (b *EngineBuilder[Req, R]) OnLoserCancelled(fn func(AttemptEvent[R])) *EngineBuilder[Req, R] {
	b.e.listeners.onLoserCancelled = fn
	return b
}

// Build returns the assembled Engine.
func (b *EngineBuilder[Req, R]) Build() *Engine[Req, R] {
	if b.e.newContentSource == nil {
		b.e.newContentSource = func(resp R, _ int) ContentSource[R] { return StaticContent(resp) }
	}
	return b.e
}

// completion is a delegate attempt's raw outcome, paired with the attempt record it belongs to.
type completion[R any] struct {
	att    *attempt[R]
	result R
	cause  error
}

// Execute runs the full attempt race for one outer request (spec §4.4). Exactly one (result, cause) pair is
// returned: either the winning attempt's outcome, or a terminal rule/config failure.
func (e *Engine[Req, R]) Execute(parent *Context[R], req Req) (R, error) {
	var zero R

	cfg, err := e.mapping.Get(parent, req)
	if err != nil {
		return zero, err
	}

	var deadline time.Time
	if dl, ok := parent.Deadline(); ok {
		deadline = dl
	}
	state := newState(cfg, deadline)

	return e.race(parent, req, cfg, state)
}

// race drives a single outer request's attempts from a single coordinator goroutine (this call): no locking is
// needed between attempts because only this goroutine ever decides to start, cancel, or settle one (spec §4.4,
// grounded on hedgepolicy's single-loop Apply and dolthub/dolt's Hedger.Do).
func (e *Engine[Req, R]) race(parent *Context[R], req Req, cfg *Config[R], state *State[R]) (R, error) {
	var zero R

	inflight := make(map[int]*attempt[R])
	var inflightBits bitset.BitSet
	completions := make(chan completion[R], cfg.MaxTotalAttempts())
	nextIndex := 0
	var fallback *completion[R]
	var pendingTimer *time.Timer

	stopTimer := func() {
		if pendingTimer != nil {
			pendingTimer.Stop()
			pendingTimer = nil
		}
	}
	defer stopTimer()

	// abortResult releases a result that will never be returned to the caller: an ACCEPT-decided attempt's
	// response, superseded by a later ACCEPT or by an eventual REJECT/NEXT winner (spec §5 "Ownership ... dropped
	// (with abort) on LOST").
	abortResult := func(result R) {
		if ab, ok := any(result).(Abortable); ok {
			ab.Abort(ErrResponseCancelled)
		}
	}

	// start launches attempt number nextIndex. A hedge's delay was already vetted by State.WouldAllow before its
	// timer was armed, and the initial attempt is exempt from gating (it runs even if the whole-operation deadline
	// has already elapsed, see DESIGN.md), so callers pass 0 as proposedDelayMs and NextDelay's result is ignored.
	// State.NextDelay is always called here, exactly once per attempt that actually starts, so totalAttempts only
	// ever counts attempts that ran.
	start := func(isInitial bool, proposedDelayMs int64) {
		idx := nextIndex
		nextIndex++

		state.NextDelay(proposedDelayMs)

		derived := newDerivedContext(parent, isInitial)
		timeout, ok := state.EffectivePerAttemptTimeout()
		var to *time.Duration
		switch {
		case !ok:
			zeroDur := time.Duration(0)
			to = &zeroDur
		case timeout > 0:
			to = &timeout
		}
		childCtx, cancel := derived.withTimeout(derived, to)

		outReq := req
		if !isInitial && e.stampAttempt != nil {
			outReq = e.stampAttempt(outReq, idx)
		}

		childCtx.SetAttr(AttemptIndexAttrKey, idx)

		att := &attempt[R]{index: idx, ctx: childCtx, cancel: cancel, state: attemptPending}
		inflight[idx] = att
		inflightBits.Set(uint(idx))

		e.listeners.scheduled(AttemptEvent[R]{AttemptIndex: idx, Endpoint: childCtx.Endpoint, RequestID: childCtx.RequestID})

		go func() {
			result, cause := e.delegate.Execute(childCtx, outReq)
			completions <- completion[R]{att: att, result: result, cause: cause}
		}()
	}

	cancelLosers := func(winnerIndex int) {
		var wg errgroup.Group
		for i := uint(0); i < uint(nextIndex); i++ {
			if !inflightBits.Test(i) || int(i) == winnerIndex {
				continue
			}
			att := inflight[int(i)]
			wg.Go(func() error {
				if att.state == attemptPending {
					att.state = attemptCancelled
					att.cancel()
				}
				e.listeners.loserCancelled(AttemptEvent[R]{AttemptIndex: att.index, Endpoint: att.ctx.Endpoint, RequestID: att.ctx.RequestID})
				return nil
			})
		}
		_ = wg.Wait()
	}

	settle := func(winner *attempt[R], result R, cause error) (R, error) {
		stopTimer()
		cancelLosers(winner.index)
		e.listeners.winner(WinnerEvent[R]{
			AttemptEvent:  AttemptEvent[R]{AttemptIndex: winner.index, Endpoint: winner.ctx.Endpoint, RequestID: winner.ctx.RequestID},
			TotalAttempts: state.TotalAttempts(),
		})
		parent.Log.EndWithLastChild()
		return result, cause
	}

	// Step 1: the initial attempt always runs (see DESIGN.md on the deadline-already-elapsed boundary case).
	start(true, 0)
	// Step 3: arm the first hedge's timer if the budget allows it.
	if d := cfg.InitialHedgingDelay().Milliseconds(); state.WouldAllow(d) {
		pendingTimer = time.NewTimer(time.Duration(d) * time.Millisecond)
	}

	for {
		var timerC <-chan time.Time
		if pendingTimer != nil {
			timerC = pendingTimer.C
		}

		select {
		case <-parent.Done():
			stopTimer()
			for i := uint(0); i < uint(nextIndex); i++ {
				if !inflightBits.Test(i) {
					continue
				}
				att := inflight[int(i)]
				if att.state == attemptPending {
					att.state = attemptCancelled
					att.cancel()
				}
			}
			if fallback != nil {
				abortResult(fallback.result)
			}
			return zero, parent.Err()

		case <-timerC:
			pendingTimer = nil
			start(false, 0)

		case msg := <-completions:
			batch := []completion[R]{msg}
		drain:
			for {
				select {
				case m := <-completions:
					batch = append(batch, m)
				default:
					break drain
				}
			}
			sort.Slice(batch, func(i, j int) bool { return batch[i].att.index < batch[j].att.index })

			for bi, c := range batch {
				att := c.att
				if att.state != attemptPending {
					abortResult(c.result)
					continue
				}

				delete(inflight, att.index)
				inflightBits.Clear(uint(att.index))
				att.cancel()

				content := e.newContentSource(c.result, cfg.MaxContentLength())
				decision := evalRule(cfg, att.ctx, content, c.cause)
				content.Abort(nil)

				e.listeners.completed(CompletedEvent[R]{
					AttemptEvent: AttemptEvent[R]{AttemptIndex: att.index, Endpoint: att.ctx.Endpoint, RequestID: att.ctx.RequestID},
					Result:       c.result,
					Cause:        c.cause,
					Decision:     decision,
				})

				if decision.IsAccept() {
					att.state = attemptLost
					if fallback != nil {
						// A newer ACCEPT supersedes the parked fallback; it will never be returned.
						abortResult(fallback.result)
					}
					fb := c
					fallback = &fb
					if state.WouldAllow(decision.NextDelayMs()) {
						stopTimer()
						pendingTimer = time.NewTimer(time.Duration(decision.NextDelayMs()) * time.Millisecond)
					}
					continue
				}

				// Reject, or Next at the top level (no further rule to fall through to): this attempt wins. Any
				// later-indexed completions already sitting in this batch were never evaluated against the rule;
				// release their resources rather than leaking a streamed body that lost the race in the same tick.
				att.state = attemptWon
				for _, rest := range batch[bi+1:] {
					if rest.att.state == attemptPending {
						delete(inflight, rest.att.index)
						inflightBits.Clear(uint(rest.att.index))
						rest.att.cancel()
						rest.att.state = attemptCancelled
					}
					abortResult(rest.result)
				}
				if fallback != nil {
					// An ACCEPT-parked attempt lost the race to this winner; release it too.
					abortResult(fallback.result)
				}
				return settle(att, c.result, c.cause)
			}

			if inflightBits.Count() == 0 && pendingTimer == nil {
				if fallback != nil {
					parent.Log.EndWithLastChild()
					return fallback.result, fallback.cause
				}
				return zero, ErrSchedulerClosed
			}
		}
	}
}

// evalRule evaluates cfg's rule, treating a panicking rule implementation as Next for that evaluation (spec §7).
func evalRule[R any](cfg *Config[R], ctx *Context[R], content ContentSource[R], cause error) (decision Decision) {
	defer func() {
		if recover() != nil {
			decision = Next
		}
	}()
	return cfg.rule.ShouldHedge(ctx, content, cause)
}
