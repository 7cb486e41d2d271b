package engine

import (
	"context"
	"testing"
	"time"

	"github.com/oddsflow/settler/internal/config"
	"github.com/oddsflow/settler/internal/domain"
)

func testCatalog() config.Markets {
	cat := config.Defaults().Markets
	cat.Binary = []config.BinaryTemplate{{
		Category: "motorsport",
		Title:    "Safety Car Deployed",
		FactKey:  "safety_car",
		YesOdds:  1.8,
		NoOdds:   1.9,
	}}
	return cat
}

func testEvent(start time.Time) domain.Event {
	return domain.Event{
		ID:        "ev1",
		Category:  "motorsport",
		Name:      "Grand Prix",
		StartTime: start,
		Status:    domain.EventStatusUpcoming,
		Participants: []domain.Participant{
			{ID: "A", Name: "Driver A"},
			{ID: "B", Name: "Driver B"},
			{ID: "C", Name: "Driver C"},
			{ID: "D", Name: "Driver D"},
		},
	}
}

func TestCreateMarketsForEvent(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	factory := NewFactory(db, testCatalog(), clock, testLogger)

	ev := testEvent(clock.Now().Add(48 * time.Hour))
	created, err := factory.CreateMarketsForEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("CreateMarketsForEvent failed: %v", err)
	}
	// winner, podium, fastest_lap plus one binary template.
	if len(created) != 4 {
		t.Fatalf("expected 4 markets, got %d", len(created))
	}

	wantClose := ev.StartTime.Add(-2 * time.Hour)
	byType := make(map[domain.MarketType]domain.Market)
	for _, m := range created {
		byType[m.Type] = m
		if m.Status != domain.MarketStatusOpen {
			t.Errorf("market %s created with status %s", m.Type, m.Status)
		}
		if !m.CloseTime.Equal(wantClose) {
			t.Errorf("market %s close time = %v, want %v", m.Type, m.CloseTime, wantClose)
		}
	}

	for _, typ := range []domain.MarketType{domain.MarketTypeWinner, domain.MarketTypePodium, domain.MarketTypeFastestLap} {
		m, ok := byType[typ]
		if !ok {
			t.Errorf("missing %s market", typ)
			continue
		}
		outcomes, _ := db.GetOutcomes(context.Background(), m.ID)
		if len(outcomes) != 4 {
			t.Errorf("%s market has %d outcomes, want one per participant", typ, len(outcomes))
		}
	}

	binary, ok := byType[domain.MarketTypeBinary]
	if !ok {
		t.Fatal("missing binary market")
	}
	if binary.FactKey != "safety_car" {
		t.Errorf("binary fact key = %q", binary.FactKey)
	}
	outcomes, _ := db.GetOutcomes(context.Background(), binary.ID)
	if len(outcomes) != 2 {
		t.Fatalf("binary market has %d outcomes", len(outcomes))
	}
	labels := map[string]float64{}
	for _, o := range outcomes {
		labels[o.Label] = o.Odds
	}
	if labels[domain.OutcomeLabelYes] != 1.8 || labels[domain.OutcomeLabelNo] != 1.9 {
		t.Errorf("binary odds = %v", labels)
	}
}

func TestCreateMarketsIdempotent(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	factory := NewFactory(db, testCatalog(), clock, testLogger)

	ev := testEvent(clock.Now().Add(48 * time.Hour))
	first, err := factory.CreateMarketsForEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := factory.CreateMarketsForEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second run created %d markets, want 0", len(second))
	}

	db.mu.Lock()
	total := len(db.markets)
	db.mu.Unlock()
	if total != len(first) {
		t.Errorf("store holds %d markets, want %d", total, len(first))
	}
}

func TestCreateMarketsSkipsImminentEvent(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	factory := NewFactory(db, testCatalog(), clock, testLogger)

	// Close time would already be in the past.
	ev := testEvent(clock.Now().Add(time.Hour))
	created, err := factory.CreateMarketsForEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("CreateMarketsForEvent failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected no markets for imminent event, got %d", len(created))
	}
}

func TestCreateMarketsTooFewParticipants(t *testing.T) {
	db := newMemDB()
	clock := newFakeClock(time.Now())
	factory := NewFactory(db, testCatalog(), clock, testLogger)

	ev := testEvent(clock.Now().Add(48 * time.Hour))
	ev.Participants = ev.Participants[:1]

	created, err := factory.CreateMarketsForEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("CreateMarketsForEvent failed: %v", err)
	}
	// Participant-indexed markets are skipped; the binary template still
	// applies.
	if len(created) != 1 || created[0].Type != domain.MarketTypeBinary {
		t.Errorf("expected only the binary market, got %v", created)
	}
}
