package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oddsflow/settler/internal/domain"
)

// Settler pays out every bet on a resolved market and finalizes the
// market's transition to settled. The whole pass is idempotent: each bet
// update is conditioned on the bet still being open, so a crash-and-retry
// never double-pays.
type Settler struct {
	markets  domain.MarketStore
	bets     domain.BetStore
	payout   domain.PayoutFunc
	pageSize int
	clock    domain.Clock
	logger   *slog.Logger
}

// NewSettler creates a Settler. payout computes a winning bet's return from
// its stake and the outcome's recorded odds; pass nil for the default
// decimal pricing.
func NewSettler(markets domain.MarketStore, bets domain.BetStore, payout domain.PayoutFunc, pageSize int, clock domain.Clock, logger *slog.Logger) *Settler {
	if payout == nil {
		payout = domain.DecimalPayout
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Settler{
		markets:  markets,
		bets:     bets,
		payout:   payout,
		pageSize: pageSize,
		clock:    clock,
		logger:   logger.With(slog.String("component", "settler")),
	}
}

// Settle walks every open bet on the market page by page, marks each won or
// lost with its payout, and then finalizes the market closed -> settled in
// one transaction with the resolution payload. The market is never marked
// settled while any of its bets remain open.
func (s *Settler) Settle(ctx context.Context, m domain.Market, outcomes []domain.Outcome, res domain.Resolution) (domain.SettlementSummary, error) {
	winners := make(map[string]bool, len(res.WinningOutcomeIDs))
	for _, id := range res.WinningOutcomeIDs {
		winners[id] = true
	}
	oddsByOutcome := make(map[string]float64, len(outcomes))
	for _, o := range outcomes {
		oddsByOutcome[o.ID] = o.Odds
	}

	var summary domain.SettlementSummary

	for {
		page, err := s.bets.ListOpenPage(ctx, m.ID, s.pageSize)
		if err != nil {
			return summary, fmt.Errorf("settle market %s: load open bets: %w", m.ID, err)
		}
		if len(page) == 0 {
			break
		}

		progressed := false
		for _, bet := range page {
			odds, ok := oddsByOutcome[bet.OutcomeID]
			if !ok {
				return summary, fmt.Errorf("settle market %s: bet %s references unknown outcome %s: %w",
					m.ID, bet.ID, bet.OutcomeID, domain.ErrOutcomeMapping)
			}

			status := domain.BetStatusLost
			var payout int64
			if winners[bet.OutcomeID] {
				status = domain.BetStatusWon
				payout = s.payout(bet.Stake, odds)
			}

			settled, err := s.bets.SettleBet(ctx, bet.ID, status, payout, s.clock.Now())
			if err != nil {
				return summary, fmt.Errorf("settle market %s: bet %s: %w", m.ID, bet.ID, err)
			}
			if settled {
				progressed = true
				summary.BetsSettled++
				summary.TotalPaidOut += payout
			}
		}

		// Every bet in the page was concurrently settled by someone else and
		// yet still listed as open: the page read is lying. Bail out rather
		// than spin.
		if !progressed {
			return summary, fmt.Errorf("settle market %s: no progress over %d open bets", m.ID, len(page))
		}
	}

	if err := s.markets.FinalizeSettlement(ctx, m.ID, res.WinningOutcomeIDs, res.Payload, s.clock.Now()); err != nil {
		return summary, fmt.Errorf("settle market %s: finalize: %w", m.ID, err)
	}

	s.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", m.ID),
		slog.String("event_id", m.EventID),
		slog.Int("bets_settled", summary.BetsSettled),
		slog.Int64("total_paid_out", summary.TotalPaidOut),
		slog.Int("winning_outcomes", len(res.WinningOutcomeIDs)),
	)
	return summary, nil
}
