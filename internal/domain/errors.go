package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")

	// ErrStatusConflict means a compare-and-swap status transition found a
	// different persisted status than expected. Another process advanced the
	// market; re-read and retry next cycle.
	ErrStatusConflict = errors.New("market status conflict")

	// ErrIllegalTransition means a caller asked for a transition the state
	// machine forbids (e.g. open directly to settled).
	ErrIllegalTransition = errors.New("illegal market status transition")

	// ErrInvalidSchedule means a market's computed close time would not be
	// strictly in the future; the market is skipped, not created.
	ErrInvalidSchedule = errors.New("market close time not in the future")

	// ErrResultsUnavailable means the results feed has no usable results for
	// the event yet. Transient; the market stays closed and is retried.
	ErrResultsUnavailable = errors.New("results unavailable")

	// ErrOutcomeMapping means results name a winner with no matching outcome
	// on the market. Data integrity failure; needs manual intervention.
	ErrOutcomeMapping = errors.New("no outcome maps to reported winner")

	// ErrAmbiguousResult means results are malformed (e.g. two participants
	// at the same finishing position). The engine never guesses a winner.
	ErrAmbiguousResult = errors.New("ambiguous results")

	// ErrUnknownMarketType means a persisted market carries a type the
	// resolver does not support. Configuration error, fatal for that market.
	ErrUnknownMarketType = errors.New("unknown market type")

	// ErrBetsStillOpen means settlement finalization found open bets, which
	// would break the settled-implies-all-bets-terminal invariant.
	ErrBetsStillOpen = errors.New("market still has open bets")
)
