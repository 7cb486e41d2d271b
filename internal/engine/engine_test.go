package engine

import (
	"context"
	"testing"
	"time"

	"github.com/oddsflow/settler/internal/domain"
)

func newTestEngine(db *memDB, events *memEvents, results *fakeResults, pub *fakePublisher, locks domain.LockManager, clock *fakeClock) *Engine {
	factory := NewFactory(db, testCatalog(), clock, testLogger)
	settler := NewSettler(db, db, nil, 100, clock, testLogger)
	return New(db, db, events, results, factory, settler, pub, locks, clock,
		Config{
			CreationInterval:   time.Minute,
			ClosingInterval:    time.Minute,
			ResolutionInterval: time.Minute,
			Lookahead:          7 * 24 * time.Hour,
			BatchSize:          100,
			Workers:            2,
			ItemTimeout:        5 * time.Second,
			LockTTL:            time.Minute,
		}, testLogger)
}

func TestLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	events := newMemEvents()
	results := newFakeResults()
	pub := &fakePublisher{}
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	eng := newTestEngine(db, events, results, pub, nil, clock)

	ev := testEvent(clock.Now().Add(48 * time.Hour))
	events.add(ev)

	// Creation sweep instantiates the full market set for the event.
	if err := eng.Trigger(ctx, SweepCreation); err != nil {
		t.Fatalf("creation sweep failed: %v", err)
	}
	db.mu.Lock()
	marketCount := len(db.markets)
	var winnerID string
	var winnerOutcomes []domain.Outcome
	for id, m := range db.markets {
		if m.Type == domain.MarketTypeWinner {
			winnerID = id
			winnerOutcomes = db.outcomes[id]
		}
	}
	db.mu.Unlock()
	if marketCount != 4 {
		t.Fatalf("expected 4 markets after creation sweep, got %d", marketCount)
	}
	if winnerID == "" {
		t.Fatal("no winner market created")
	}

	var outcomeC string
	for _, o := range winnerOutcomes {
		if o.ParticipantID == "C" {
			outcomeC = o.ID
		}
	}
	db.addBet(domain.Bet{ID: "b1", MarketID: winnerID, OutcomeID: outcomeC, UserID: "u1", Stake: 1000, Status: domain.BetStatusOpen})

	// Nothing to close before the close time passes.
	if err := eng.Trigger(ctx, SweepClosing); err != nil {
		t.Fatalf("closing sweep failed: %v", err)
	}
	if got := db.market(winnerID).Status; got != domain.MarketStatusOpen {
		t.Fatalf("market closed early: %s", got)
	}

	// Past close time every market transitions and is announced.
	clock.Advance(47 * time.Hour)
	if err := eng.Trigger(ctx, SweepClosing); err != nil {
		t.Fatalf("closing sweep failed: %v", err)
	}
	if got := db.market(winnerID).Status; got != domain.MarketStatusClosed {
		t.Fatalf("expected closed market, got %s", got)
	}
	if got := len(pub.byType(domain.LifecycleMarketClosed)); got != 4 {
		t.Errorf("expected 4 market_closed events, got %d", got)
	}

	// Resolution waits for the event to finish and results to arrive.
	if err := eng.Trigger(ctx, SweepResolution); err != nil {
		t.Fatalf("resolution sweep failed: %v", err)
	}
	if got := db.market(winnerID).Status; got != domain.MarketStatusClosed {
		t.Fatalf("market advanced without results: %s", got)
	}

	clock.Advance(3 * time.Hour)
	db.finishEvent(ev.ID)
	results.sheets[ev.ID] = domain.ResultSheet{
		EventID:        ev.ID,
		FinishingOrder: order("C", "A", "D", "B"),
		Facts: map[string]string{
			"fastest_lap": "B",
			"safety_car":  "true",
		},
	}

	if err := eng.Trigger(ctx, SweepResolution); err != nil {
		t.Fatalf("resolution sweep failed: %v", err)
	}

	db.mu.Lock()
	for id, m := range db.markets {
		if m.Status != domain.MarketStatusSettled {
			t.Errorf("market %s (%s) not settled: %s", id, m.Type, m.Status)
		}
	}
	db.mu.Unlock()

	b := db.bet("b1")
	if b.Status != domain.BetStatusWon || b.Payout == nil || *b.Payout != 4000 {
		t.Errorf("bet on the winner: status=%s payout=%v, want won 4000", b.Status, b.Payout)
	}

	resolved := pub.byType(domain.LifecycleMarketResolved)
	if len(resolved) != 4 {
		t.Errorf("expected 4 market_resolved events, got %d", len(resolved))
	}

	// Stats reflect the manual runs.
	for _, s := range eng.Stats() {
		if s.Runs == 0 {
			t.Errorf("sweep %s reports zero runs", s.Name)
		}
	}
}

func TestResolutionRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	events := newMemEvents()
	results := newFakeResults()
	pub := &fakePublisher{}
	clock := newFakeClock(time.Now())
	eng := newTestEngine(db, events, results, pub, nil, clock)

	m, _ := seedClosedMarket(db, "m1")
	db.finishEvent(m.EventID)

	// First pass: the feed has nothing yet.
	if err := eng.Trigger(ctx, SweepResolution); err != nil {
		t.Fatalf("resolution sweep failed: %v", err)
	}
	if got := db.market("m1").Status; got != domain.MarketStatusClosed {
		t.Fatalf("market must stay closed without results, got %s", got)
	}

	// Second pass with results settles it.
	results.sheets[m.EventID] = domain.ResultSheet{
		EventID:        m.EventID,
		FinishingOrder: order("A", "B"),
	}
	if err := eng.Trigger(ctx, SweepResolution); err != nil {
		t.Fatalf("resolution sweep failed: %v", err)
	}
	if got := db.market("m1").Status; got != domain.MarketStatusSettled {
		t.Errorf("expected settled market after retry, got %s", got)
	}
}

func TestResolutionIsolatesBadMarket(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	events := newMemEvents()
	results := newFakeResults()
	clock := newFakeClock(time.Now())
	eng := newTestEngine(db, events, results, &fakePublisher{}, nil, clock)

	// Two markets on separate events; one event reports a malformed sheet.
	good, _ := seedClosedMarket(db, "m-good")
	bad := domain.Market{
		ID: "m-bad", EventID: "ev-bad", Type: domain.MarketTypeWinner,
		Status: domain.MarketStatusOpen, CloseTime: time.Now().Add(-time.Hour),
	}
	if err := db.CreateMarketWithOutcomes(ctx, bad, participantOutcomes("m-bad", "X", "Y")); err != nil {
		t.Fatal(err)
	}
	if err := db.TransitionStatus(ctx, "m-bad", domain.MarketStatusOpen, domain.MarketStatusClosed); err != nil {
		t.Fatal(err)
	}

	db.finishEvent(good.EventID)
	db.finishEvent("ev-bad")
	results.sheets[good.EventID] = domain.ResultSheet{FinishingOrder: order("A", "B")}
	results.sheets["ev-bad"] = domain.ResultSheet{
		FinishingOrder: []domain.ResultEntry{
			{Position: 1, ParticipantID: "X"},
			{Position: 1, ParticipantID: "Y"},
		},
	}

	if err := eng.Trigger(ctx, SweepResolution); err != nil {
		t.Fatalf("resolution sweep failed: %v", err)
	}

	if got := db.market("m-good").Status; got != domain.MarketStatusSettled {
		t.Errorf("good market not settled: %s", got)
	}
	if got := db.market("m-bad").Status; got != domain.MarketStatusClosed {
		t.Errorf("ambiguous market must stay closed: %s", got)
	}

	var failures int64
	for _, s := range eng.Stats() {
		if s.Name == SweepResolution {
			failures = s.Failures
		}
	}
	if failures != 1 {
		t.Errorf("expected 1 recorded failure, got %d", failures)
	}
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	events := newMemEvents()
	locks := newFakeLock()
	clock := newFakeClock(time.Now())
	eng := newTestEngine(db, events, newFakeResults(), &fakePublisher{}, locks, clock)

	// Another instance holds the closing lock.
	locks.held["sweep:"+SweepClosing] = true

	seedOpenMarket(db, "m1", clock.Now().Add(-time.Hour))
	if err := eng.Trigger(ctx, SweepClosing); err != nil {
		t.Fatalf("closing sweep failed: %v", err)
	}
	if got := db.market("m1").Status; got != domain.MarketStatusOpen {
		t.Errorf("lock-held tick must not process markets, got %s", got)
	}

	for _, s := range eng.Stats() {
		if s.Name == SweepClosing && s.SkippedTicks != 1 {
			t.Errorf("expected 1 skipped tick, got %d", s.SkippedTicks)
		}
	}

	// Lock released: the next tick proceeds.
	delete(locks.held, "sweep:"+SweepClosing)
	if err := eng.Trigger(ctx, SweepClosing); err != nil {
		t.Fatalf("closing sweep failed: %v", err)
	}
	if got := db.market("m1").Status; got != domain.MarketStatusClosed {
		t.Errorf("expected closed market after lock release, got %s", got)
	}
}

// seedOpenMarket seeds an open market with the given close time.
func seedOpenMarket(db *memDB, id string, closeTime time.Time) {
	m := domain.Market{
		ID: id, EventID: "ev-" + id, Type: domain.MarketTypeWinner,
		Status: domain.MarketStatusOpen, CloseTime: closeTime,
	}
	if err := db.CreateMarketWithOutcomes(context.Background(), m, participantOutcomes(id, "A", "B")); err != nil {
		panic(err)
	}
}

func TestTriggerUnknownSweep(t *testing.T) {
	eng := newTestEngine(newMemDB(), newMemEvents(), newFakeResults(), &fakePublisher{}, nil, newFakeClock(time.Now()))
	if err := eng.Trigger(context.Background(), "defrag"); err == nil {
		t.Error("expected error for unknown sweep name")
	}
}
