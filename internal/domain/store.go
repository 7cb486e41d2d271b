package domain

import (
	"context"
	"time"
)

// MarketStore persists markets and their outcome sets. A market and its
// outcomes are one aggregate: creation and settlement finalization are
// single transactions.
type MarketStore interface {
	// CreateMarketWithOutcomes persists a market and its outcomes in one
	// transaction. Returns ErrAlreadyExists if a market of the same type
	// already exists for the event, which makes concurrent creation sweeps
	// idempotent.
	CreateMarketWithOutcomes(ctx context.Context, m Market, outcomes []Outcome) error

	GetByID(ctx context.Context, id string) (Market, error)
	GetOutcomes(ctx context.Context, marketID string) ([]Outcome, error)

	// TransitionStatus performs a compare-and-swap status update. It returns
	// ErrStatusConflict when the persisted status is not from, and
	// ErrIllegalTransition when the state machine forbids from -> to.
	TransitionStatus(ctx context.Context, id string, from, to MarketStatus) error

	// Suspend and Resume are the administrative excursion: Suspend remembers
	// the prior status so Resume can restore it.
	Suspend(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error

	// ListOpenPastClose returns open markets whose close time is at or
	// before now.
	ListOpenPastClose(ctx context.Context, now time.Time, limit int) ([]Market, error)

	// ListClosedForFinishedEvents returns closed markets whose event has
	// finished, i.e. markets ready for resolution.
	ListClosedForFinishedEvents(ctx context.Context, limit int) ([]Market, error)

	// FinalizeSettlement atomically flags the winning outcomes, records the
	// resolution payload, and advances the market closed -> settled. It
	// returns ErrBetsStillOpen if any bet on the market is still open and
	// ErrStatusConflict if the market is not closed.
	FinalizeSettlement(ctx context.Context, marketID string, winningOutcomeIDs []string, payload []byte, resolvedAt time.Time) error

	// ListSettledBefore returns settled markets resolved before the cutoff
	// that have not been exported yet, for audit export.
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]Market, error)

	// MarkArchived records that a settled market's audit snapshot has been
	// exported.
	MarkArchived(ctx context.Context, id string, at time.Time) error
}

// BetStore persists bets. Each bet is its own aggregate.
type BetStore interface {
	// ListOpenPage returns up to limit open bets on the market. Settlement
	// repeatedly takes the first open page until none remain, so it never
	// holds an unbounded result set.
	ListOpenPage(ctx context.Context, marketID string, limit int) ([]Bet, error)

	// SettleBet updates a bet to a terminal status and payout, conditioned
	// on its current status being open. It reports whether the write
	// happened; false means the bet was already settled (a no-op, which is
	// what makes crash-and-retry safe).
	SettleBet(ctx context.Context, id string, status BetStatus, payout int64, settledAt time.Time) (bool, error)

	CountOpen(ctx context.Context, marketID string) (int64, error)
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)
}

// EventStore reads the event reference data maintained by the upstream
// ingest. The engine never writes events.
type EventStore interface {
	GetByID(ctx context.Context, id string) (Event, error)
	// ListUpcoming returns upcoming events starting within [from, until].
	ListUpcoming(ctx context.Context, from, until time.Time) ([]Event, error)
}

// LockManager provides distributed locks used to keep sweeps from
// overlapping themselves across instances.
type LockManager interface {
	// Acquire obtains the named lock or returns ErrLockHeld. On success the
	// returned function releases the lock and is safe to call twice.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter answers whether a caller identified by key may perform
// another request within the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Clock abstracts time so sweeps are deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// BlobWriter stores immutable audit objects (settled-market snapshots).
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
