package domain

import (
	"math"
	"time"
)

// BetStatus is the settlement state of a bet. A bet transitions exactly once
// from open to a terminal state.
type BetStatus string

const (
	BetStatusOpen BetStatus = "open"
	BetStatusWon  BetStatus = "won"
	BetStatusLost BetStatus = "lost"
)

// Bet is a user's stake against one outcome of one market. Stake and payout
// are in the smallest currency unit.
type Bet struct {
	ID        string
	MarketID  string
	OutcomeID string
	UserID    string
	Stake     int64
	Status    BetStatus
	Payout    *int64
	PlacedAt  time.Time
	SettledAt *time.Time
}

// PayoutFunc computes the payout for a winning stake given the outcome's
// recorded odds. Pricing is opaque to the engine; it only orchestrates the
// call.
type PayoutFunc func(stake int64, odds float64) int64

/// DecimalPayout is the default pricing function: stake times decimal odds,
// floored to the smallest currency unit.
func DecimalPayout(stake int64, odds float64) int64 {
	return int64(math.Floor(float64(stake) * odds))
}

// SettlementSummary reports what one settlement pass committed.
type SettlementSummary struct {
	BetsSettled  int
	TotalPaidOut int64
}
