package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oddsflow/settler/internal/domain"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memDB is an in-memory implementation of the market, bet, and event stores
// with the same conditional-update semantics as the real ones.
type memDB struct {
	mu sync.Mutex

	markets  map[string]domain.Market
	outcomes map[string][]domain.Outcome

	bets     map[string]domain.Bet
	betOrder []string

	archived map[string]bool

	// finished marks event ids whose markets are ready for resolution.
	finished map[string]bool

	failSettle bool // when set, SettleBet errors
}

func newMemDB() *memDB {
	return &memDB{
		markets:  make(map[string]domain.Market),
		outcomes: make(map[string][]domain.Outcome),
		bets:     make(map[string]domain.Bet),
		archived: make(map[string]bool),
		finished: make(map[string]bool),
	}
}

func (db *memDB) finishEvent(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.finished[id] = true
}

func (db *memDB) addBet(b domain.Bet) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.bets[b.ID] = b
	db.betOrder = append(db.betOrder, b.ID)
}

func (db *memDB) market(id string) domain.Market {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.markets[id]
}

func (db *memDB) archivedMarket(id string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.archived[id]
}

func (db *memDB) bet(id string) domain.Bet {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.bets[id]
}

// --- domain.MarketStore ---

func (db *memDB) CreateMarketWithOutcomes(ctx context.Context, m domain.Market, outcomes []domain.Outcome) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, existing := range db.markets {
		if existing.EventID == m.EventID && existing.Type == m.Type && existing.FactKey == m.FactKey {
			return domain.ErrAlreadyExists
		}
	}
	if len(outcomes) < 2 {
		return fmt.Errorf("market %s: %d outcomes", m.ID, len(outcomes))
	}
	db.markets[m.ID] = m
	db.outcomes[m.ID] = append([]domain.Outcome(nil), outcomes...)
	return nil
}

func (db *memDB) GetByID(ctx context.Context, id string) (domain.Market, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (db *memDB) GetOutcomes(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]domain.Outcome(nil), db.outcomes[marketID]...), nil
}

func (db *memDB) TransitionStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.ValidTransition(from, to) {
		return domain.ErrIllegalTransition
	}
	if m.Status != from {
		return domain.ErrStatusConflict
	}
	m.Status = to
	db.markets[id] = m
	return nil
}

func (db *memDB) Suspend(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.ValidTransition(m.Status, domain.MarketStatusSuspended) {
		return domain.ErrIllegalTransition
	}
	prior := m.Status
	m.SuspendedFrom = &prior
	m.Status = domain.MarketStatusSuspended
	db.markets[id] = m
	return nil
}

func (db *memDB) Resume(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusSuspended || m.SuspendedFrom == nil {
		return domain.ErrIllegalTransition
	}
	m.Status = *m.SuspendedFrom
	m.SuspendedFrom = nil
	db.markets[id] = m
	return nil
}

func (db *memDB) ListOpenPastClose(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Market
	for _, m := range db.markets {
		if m.Status == domain.MarketStatusOpen && !m.CloseTime.After(now) {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (db *memDB) ListClosedForFinishedEvents(ctx context.Context, limit int) ([]domain.Market, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Market
	for _, m := range db.markets {
		if db.finished[m.EventID] && m.Status == domain.MarketStatusClosed {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (db *memDB) FinalizeSettlement(ctx context.Context, marketID string, winningOutcomeIDs []string, payload []byte, resolvedAt time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.markets[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusClosed {
		return domain.ErrStatusConflict
	}
	for _, id := range db.betOrder {
		b := db.bets[id]
		if b.MarketID == marketID && b.Status == domain.BetStatusOpen {
			return domain.ErrBetsStillOpen
		}
	}
	winners := make(map[string]bool, len(winningOutcomeIDs))
	for _, id := range winningOutcomeIDs {
		winners[id] = true
	}
	for i, o := range db.outcomes[marketID] {
		db.outcomes[marketID][i].IsWinner = winners[o.ID]
	}
	m.Status = domain.MarketStatusSettled
	m.Resolution = payload
	m.ResolvedAt = &resolvedAt
	db.markets[marketID] = m
	return nil
}

func (db *memDB) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Market
	for _, m := range db.markets {
		if m.Status == domain.MarketStatusSettled && m.ResolvedAt != nil && m.ResolvedAt.Before(cutoff) && !db.archived[m.ID] {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (db *memDB) MarkArchived(ctx context.Context, id string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.markets[id]; !ok {
		return domain.ErrNotFound
	}
	db.archived[id] = true
	return nil
}

// --- domain.BetStore ---

func (db *memDB) ListOpenPage(ctx context.Context, marketID string, limit int) ([]domain.Bet, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Bet
	for _, id := range db.betOrder {
		b := db.bets[id]
		if b.MarketID == marketID && b.Status == domain.BetStatusOpen {
			out = append(out, b)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (db *memDB) SettleBet(ctx context.Context, id string, status domain.BetStatus, payout int64, settledAt time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failSettle {
		return false, fmt.Errorf("settle bet %s: injected failure", id)
	}
	b, ok := db.bets[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.Status != domain.BetStatusOpen {
		return false, nil
	}
	b.Status = status
	b.Payout = &payout
	b.SettledAt = &settledAt
	db.bets[id] = b
	return true, nil
}

func (db *memDB) CountOpen(ctx context.Context, marketID string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, b := range db.bets {
		if b.MarketID == marketID && b.Status == domain.BetStatusOpen {
			n++
		}
	}
	return n, nil
}

func (db *memDB) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Bet
	for _, id := range db.betOrder {
		if b := db.bets[id]; b.MarketID == marketID {
			out = append(out, b)
		}
	}
	return out, nil
}

// memEvents is an in-memory domain.EventStore.
type memEvents struct {
	mu     sync.Mutex
	events map[string]domain.Event
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[string]domain.Event)}
}

func (s *memEvents) add(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
}

func (s *memEvents) GetByID(ctx context.Context, id string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return ev, nil
}

func (s *memEvents) ListUpcoming(ctx context.Context, from, until time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Status == domain.EventStatusUpcoming && !ev.StartTime.Before(from) && !ev.StartTime.After(until) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// --- other fakes ---

type fakeResults struct {
	mu     sync.Mutex
	sheets map[string]domain.ResultSheet
	err    error
}

func newFakeResults() *fakeResults {
	return &fakeResults{sheets: make(map[string]domain.ResultSheet)}
}

func (f *fakeResults) GetResults(ctx context.Context, eventID string) (domain.ResultSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ResultSheet{}, f.err
	}
	sheet, ok := f.sheets[eventID]
	if !ok {
		return domain.ResultSheet{}, domain.ErrResultsUnavailable
	}
	return sheet, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (f *fakePublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) byType(t domain.LifecycleEventType) []domain.LifecycleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LifecycleEvent
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	acquired int
}

func newFakeLock() *fakeLock { return &fakeLock{held: make(map[string]bool)} }

func (f *fakeLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	f.acquired++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: make(map[string][]byte)} }

func (f *fakeBlob) Put(ctx context.Context, path string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.objects[path] = append([]byte(nil), data...)
	return nil
}
