package hedge

import "errors"

// Error kinds surfaced by the Engine (spec §7). Each is a sentinel that concrete causes are wrapped around with
// fmt.Errorf("%w: ...", kind) so callers can match with errors.Is while still seeing the underlying transport error.
var (
	// ErrUnprocessedRequest means every attempt failed before wire transmission, and no further hedge could be
	// scheduled (cap reached or deadline exceeded).
	ErrUnprocessedRequest = errors.New("hedge: unprocessed request")

	// ErrAttemptFailure means a transport or protocol error occurred on an attempt. The configured rule decides
	// whether hedging continues; this is surfaced only when no rule accepts or rejects it and no further hedge runs.
	ErrAttemptFailure = errors.New("hedge: attempt failure")

	// ErrTimeout means a per-attempt or whole-operation deadline elapsed.
	ErrTimeout = errors.New("hedge: timeout")

	// ErrResponseCancelled marks a loser's response as cancelled. It is engine-internal and is never surfaced to the
	// caller as the outer result.
	ErrResponseCancelled = errors.New("hedge: response cancelled")

	// ErrConfigFactoryFailure means the HedgingConfigMapping's factory returned an error resolving a config.
	ErrConfigFactoryFailure = errors.New("hedge: config factory failure")

	// ErrSchedulerClosed means a hedge timer could not be scheduled because the engine's scheduler was shut down.
	ErrSchedulerClosed = errors.New("hedge: scheduler closed")
)
