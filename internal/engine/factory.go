// Package engine implements the market lifecycle and settlement engine: the
// factory that instantiates markets for upcoming events, the resolver that
// maps event results to winning outcomes, the settler that pays out bets,
// and the periodic sweeps that drive all three.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oddsflow/settler/internal/config"
	"github.com/oddsflow/settler/internal/domain"
)

// Factory builds the market set for an upcoming event: one market per
// configured type for the event's category, each with its outcome set,
// persisted atomically.
type Factory struct {
	markets domain.MarketStore
	catalog config.Markets
	clock   domain.Clock
	logger  *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(markets domain.MarketStore, catalog config.Markets, clock domain.Clock, logger *slog.Logger) *Factory {
	return &Factory{
		markets: markets,
		catalog: catalog,
		clock:   clock,
		logger:  logger.With(slog.String("component", "factory")),
	}
}

// CreateMarketsForEvent creates every missing market for the event and
// returns the ones created this call (possibly none). Markets whose close
// time would not be strictly in the future are skipped and logged, not
// treated as fatal; markets that already exist are skipped silently, which
// is what makes concurrent creation sweeps idempotent.
func (f *Factory) CreateMarketsForEvent(ctx context.Context, ev domain.Event) ([]domain.Market, error) {
	closeTime := ev.StartTime.Add(-f.catalog.CloseBufferFor(ev.Category))
	if !closeTime.After(f.clock.Now()) {
		f.logger.WarnContext(ctx, "skipping market creation, close time not in the future",
			slog.String("event_id", ev.ID),
			slog.Time("close_time", closeTime),
			slog.String("reason", domain.ErrInvalidSchedule.Error()),
		)
		return nil, nil
	}

	var created []domain.Market

	for _, t := range f.catalog.CategoryTypes(ev.Category) {
		if t == domain.MarketTypeBinary {
			// Binary markets come from templates, handled below.
			continue
		}

		m, outcomes, err := f.buildParticipantMarket(ev, t, closeTime)
		if err != nil {
			f.logger.WarnContext(ctx, "skipping market",
				slog.String("event_id", ev.ID),
				slog.String("market_type", string(t)),
				slog.String("reason", err.Error()),
			)
			continue
		}

		if err := f.persist(ctx, &created, m, outcomes); err != nil {
			return created, err
		}
	}

	for _, tpl := range f.catalog.BinaryFor(ev.Category) {
		m, outcomes := f.buildBinaryMarket(ev, tpl, closeTime)
		if err := f.persist(ctx, &created, m, outcomes); err != nil {
			return created, err
		}
	}

	return created, nil
}

// persist writes one market aggregate, treating an existing duplicate as a
// no-op rather than a failure.
func (f *Factory) persist(ctx context.Context, created *[]domain.Market, m domain.Market, outcomes []domain.Outcome) error {
	err := f.markets.CreateMarketWithOutcomes(ctx, m, outcomes)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create market %s/%s: %w", m.EventID, m.Type, err)
	}

	*created = append(*created, m)
	f.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("event_id", m.EventID),
		slog.String("market_type", string(m.Type)),
		slog.Int("outcomes", len(outcomes)),
		slog.Time("close_time", m.CloseTime),
	)
	return nil
}

// buildParticipantMarket builds a participant-indexed market: one outcome
// per known participant of the event.
func (f *Factory) buildParticipantMarket(ev domain.Event, t domain.MarketType, closeTime time.Time) (domain.Market, []domain.Outcome, error) {
	if len(ev.Participants) < 2 {
		return domain.Market{}, nil, fmt.Errorf("event has %d participants, need at least 2", len(ev.Participants))
	}

	m := domain.Market{
		ID:        uuid.New().String(),
		EventID:   ev.ID,
		Type:      t,
		Title:     marketTitle(t, ev.Name),
		CloseTime: closeTime,
		Status:    domain.MarketStatusOpen,
		CreatedAt: f.clock.Now(),
	}

	odds := participantOdds(t, len(ev.Participants))
	outcomes := make([]domain.Outcome, 0, len(ev.Participants))
	for _, p := range ev.Participants {
		outcomes = append(outcomes, domain.Outcome{
			ID:            uuid.New().String(),
			MarketID:      m.ID,
			ParticipantID: p.ID,
			Label:         p.Name,
			Odds:          odds,
		})
	}
	return m, outcomes, nil
}

// buildBinaryMarket builds a yes/no market from a configured template.
func (f *Factory) buildBinaryMarket(ev domain.Event, tpl config.BinaryTemplate, closeTime time.Time) (domain.Market, []domain.Outcome) {
	m := domain.Market{
		ID:        uuid.New().String(),
		EventID:   ev.ID,
		Type:      domain.MarketTypeBinary,
		Title:     fmt.Sprintf("%s (%s)", tpl.Title, ev.Name),
		CloseTime: closeTime,
		Status:    domain.MarketStatusOpen,
		FactKey:   tpl.FactKey,
		CreatedAt: f.clock.Now(),
	}

	yesOdds, noOdds := tpl.YesOdds, tpl.NoOdds
	if yesOdds <= 1 {
		yesOdds = 2.0
	}
	if noOdds <= 1 {
		noOdds = 2.0
	}

	outcomes := []domain.Outcome{
		{ID: uuid.New().String(), MarketID: m.ID, Label: domain.OutcomeLabelYes, Odds: yesOdds},
		{ID: uuid.New().String(), MarketID: m.ID, Label: domain.OutcomeLabelNo, Odds: noOdds},
	}
	return m, outcomes
}

func marketTitle(t domain.MarketType, eventName string) string {
	switch t {
	case domain.MarketTypeWinner:
		return fmt.Sprintf("Winner (%s)", eventName)
	case domain.MarketTypePodium:
		return fmt.Sprintf("Podium Finish (%s)", eventName)
	case domain.MarketTypeFastestLap:
		return fmt.Sprintf("Fastest Lap (%s)", eventName)
	default:
		return fmt.Sprintf("%s (%s)", t, eventName)
	}
}

// participantOdds derives a flat decimal multiplier from the field size.
// Pricing is cosmetic here; real books would feed proper odds per selection.
func participantOdds(t domain.MarketType, participants int) float64 {
	n := float64(participants)
	if t == domain.MarketTypePodium {
		odds := n / 3
		if odds < 1.1 {
			odds = 1.1
		}
		return odds
	}
	return n
}
