package hedge

// AttemptEvent describes a single attempt to one of the Engine's listeners. It carries enough to log or count
// against without exposing Engine-internal bookkeeping.
type AttemptEvent[R any] struct {
	AttemptIndex int
	Endpoint     Endpoint
	RequestID    string
}

// CompletedEvent describes an attempt's outcome to OnAttemptCompleted.
type CompletedEvent[R any] struct {
	AttemptEvent[R]
	Result   R
	Cause    error
	Decision Decision
}

// WinnerEvent describes the outer request's outcome to OnWinnerSelected.
type WinnerEvent[R any] struct {
	AttemptEvent[R]
	TotalAttempts int
}

// listeners bundles the Engine's optional observability hooks (spec §9 "Observability without a logging
// dependency" in SPEC_FULL.md): mirrors the teacher's OnHedge/OnBudgetExceeded listener style rather than a logger.
type listeners[R any] struct {
	onAttemptScheduled func(AttemptEvent[R])
	onAttemptCompleted func(CompletedEvent[R])
	onWinnerSelected   func(WinnerEvent[R])
	onLoserCancelled   func(AttemptEvent[R])
}

func (l listeners[R]) scheduled(e AttemptEvent[R]) {
	if l.onAttemptScheduled != nil {
		l.onAttemptScheduled(e)
	}
}

func (l listeners[R]) completed(e CompletedEvent[R]) {
	if l.onAttemptCompleted != nil {
		l.onAttemptCompleted(e)
	}
}

func (l listeners[R]) winner(e WinnerEvent[R]) {
	if l.onWinnerSelected != nil {
		l.onWinnerSelected(e)
	}
}

func (l listeners[R]) loserCancelled(e AttemptEvent[R]) {
	if l.onLoserCancelled != nil {
		l.onLoserCancelled(e)
	}
}
