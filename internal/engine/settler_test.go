package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oddsflow/settler/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

func seedClosedMarket(db *memDB, id string) (domain.Market, []domain.Outcome) {
	m := domain.Market{
		ID:        id,
		EventID:   "ev1",
		Type:      domain.MarketTypeWinner,
		Status:    domain.MarketStatusOpen,
		CloseTime: time.Now().Add(-time.Hour),
	}
	outcomes := []domain.Outcome{
		{ID: "out-A", MarketID: id, ParticipantID: "A", Label: "Driver A", Odds: 3.0},
		{ID: "out-B", MarketID: id, ParticipantID: "B", Label: "Driver B", Odds: 2.0},
	}
	if err := db.CreateMarketWithOutcomes(context.Background(), m, outcomes); err != nil {
		panic(err)
	}
	if err := db.TransitionStatus(context.Background(), id, domain.MarketStatusOpen, domain.MarketStatusClosed); err != nil {
		panic(err)
	}
	m.Status = domain.MarketStatusClosed
	return m, outcomes
}

func TestSettleMarket(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	m, outcomes := seedClosedMarket(db, "m1")

	db.addBet(domain.Bet{ID: "b1", MarketID: "m1", OutcomeID: "out-A", UserID: "u1", Stake: 1000, Status: domain.BetStatusOpen})
	db.addBet(domain.Bet{ID: "b2", MarketID: "m1", OutcomeID: "out-B", UserID: "u2", Stake: 500, Status: domain.BetStatusOpen})

	res := domain.Resolution{WinningOutcomeIDs: []string{"out-A"}, Payload: []byte(`{"winning_outcome_ids":["out-A"]}`)}
	settler := NewSettler(db, db, nil, 100, clock, testLogger)

	summary, err := settler.Settle(context.Background(), m, outcomes, res)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if summary.BetsSettled != 2 {
		t.Errorf("expected 2 bets settled, got %d", summary.BetsSettled)
	}
	if summary.TotalPaidOut != 3000 {
		t.Errorf("expected 3000 paid out, got %d", summary.TotalPaidOut)
	}

	b1 := db.bet("b1")
	if b1.Status != domain.BetStatusWon || b1.Payout == nil || *b1.Payout != 3000 {
		t.Errorf("winning bet: status=%s payout=%v", b1.Status, b1.Payout)
	}
	b2 := db.bet("b2")
	if b2.Status != domain.BetStatusLost || b2.Payout == nil || *b2.Payout != 0 {
		t.Errorf("losing bet: status=%s payout=%v", b2.Status, b2.Payout)
	}

	settled := db.market("m1")
	if settled.Status != domain.MarketStatusSettled {
		t.Errorf("expected market settled, got %s", settled.Status)
	}
	if settled.ResolvedAt == nil || len(settled.Resolution) == 0 {
		t.Error("expected resolution payload and resolved_at on settled market")
	}
}

func TestSettleDrainsAllPages(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	m, outcomes := seedClosedMarket(db, "m1")

	for _, id := range []string{"b1", "b2", "b3", "b4", "b5"} {
		db.addBet(domain.Bet{ID: id, MarketID: "m1", OutcomeID: "out-B", UserID: "u", Stake: 100, Status: domain.BetStatusOpen})
	}

	res := domain.Resolution{WinningOutcomeIDs: []string{"out-A"}, Payload: []byte(`{}`)}
	settler := NewSettler(db, db, nil, 2, clock, testLogger)

	summary, err := settler.Settle(context.Background(), m, outcomes, res)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if summary.BetsSettled != 5 {
		t.Errorf("expected 5 bets settled across pages, got %d", summary.BetsSettled)
	}
	if n, _ := db.CountOpen(context.Background(), "m1"); n != 0 {
		t.Errorf("expected no open bets, got %d", n)
	}
}

func TestSettleIdempotentRetry(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	m, outcomes := seedClosedMarket(db, "m1")

	// One bet already paid by a run that crashed before finalizing.
	paid := int64(3000)
	now := time.Now()
	db.addBet(domain.Bet{ID: "b1", MarketID: "m1", OutcomeID: "out-A", UserID: "u1", Stake: 1000, Status: domain.BetStatusWon, Payout: &paid, SettledAt: &now})
	db.addBet(domain.Bet{ID: "b2", MarketID: "m1", OutcomeID: "out-B", UserID: "u2", Stake: 500, Status: domain.BetStatusOpen})

	res := domain.Resolution{WinningOutcomeIDs: []string{"out-A"}, Payload: []byte(`{}`)}
	settler := NewSettler(db, db, nil, 100, clock, testLogger)

	summary, err := settler.Settle(context.Background(), m, outcomes, res)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if summary.BetsSettled != 1 {
		t.Errorf("retry should settle only the remaining bet, got %d", summary.BetsSettled)
	}
	if summary.TotalPaidOut != 0 {
		t.Errorf("retry must not double-pay, got %d", summary.TotalPaidOut)
	}
	b1 := db.bet("b1")
	if b1.Payout == nil || *b1.Payout != 3000 {
		t.Errorf("previously paid bet changed: %v", b1.Payout)
	}
	if db.market("m1").Status != domain.MarketStatusSettled {
		t.Error("expected market settled after retry")
	}
}

func TestSettleUnknownOutcome(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	m, outcomes := seedClosedMarket(db, "m1")

	db.addBet(domain.Bet{ID: "b1", MarketID: "m1", OutcomeID: "out-ghost", UserID: "u1", Stake: 1000, Status: domain.BetStatusOpen})

	res := domain.Resolution{WinningOutcomeIDs: []string{"out-A"}, Payload: []byte(`{}`)}
	settler := NewSettler(db, db, nil, 100, clock, testLogger)

	_, err := settler.Settle(context.Background(), m, outcomes, res)
	if !errors.Is(err, domain.ErrOutcomeMapping) {
		t.Errorf("expected ErrOutcomeMapping, got %v", err)
	}
	if db.market("m1").Status != domain.MarketStatusClosed {
		t.Error("market must stay closed when settlement fails")
	}
}

func TestSettleZeroWinners(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	m, outcomes := seedClosedMarket(db, "m1")

	db.addBet(domain.Bet{ID: "b1", MarketID: "m1", OutcomeID: "out-A", UserID: "u1", Stake: 1000, Status: domain.BetStatusOpen})

	res := domain.Resolution{WinningOutcomeIDs: []string{}, Payload: []byte(`{}`)}
	settler := NewSettler(db, db, nil, 100, clock, testLogger)

	summary, err := settler.Settle(context.Background(), m, outcomes, res)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if summary.TotalPaidOut != 0 {
		t.Errorf("zero winners must pay nothing, got %d", summary.TotalPaidOut)
	}
	if db.bet("b1").Status != domain.BetStatusLost {
		t.Error("expected every bet lost with zero winners")
	}
	if db.market("m1").Status != domain.MarketStatusSettled {
		t.Error("expected market settled")
	}
}
