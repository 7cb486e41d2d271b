package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddsflow/settler/internal/domain"
)

// Archiver exports JSON audit snapshots of settled markets to blob storage
// once they are older than the retention window. Markets are never deleted;
// the snapshot is an export, with archived_at marking completion so each
// market is shipped once.
type Archiver struct {
	markets   domain.MarketStore
	bets      domain.BetStore
	blob      domain.BlobWriter
	retention time.Duration
	batchSize int
	clock     domain.Clock
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(markets domain.MarketStore, bets domain.BetStore, blob domain.BlobWriter, retention time.Duration, batchSize int, clock domain.Clock, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Archiver{
		markets:   markets,
		bets:      bets,
		blob:      blob,
		retention: retention,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// marketSnapshot is the exported audit record for one settled market.
type marketSnapshot struct {
	Market struct {
		ID         string          `json:"id"`
		EventID    string          `json:"event_id"`
		Type       string          `json:"type"`
		Title      string          `json:"title"`
		CloseTime  time.Time       `json:"close_time"`
		ResolvedAt *time.Time      `json:"resolved_at"`
		Resolution json.RawMessage `json:"resolution"`
	} `json:"market"`
	Outcomes []domain.Outcome `json:"outcomes"`
	Bets     []domain.Bet     `json:"bets"`
}

// Run executes a single archive pass over settled markets past retention.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.clock.Now().Add(-a.retention)

	markets, err := a.markets.ListSettledBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return fmt.Errorf("archiver: list settled markets: %w", err)
	}
	if len(markets) == 0 {
		return nil
	}

	exported := 0
	for _, m := range markets {
		if err := a.export(ctx, m); err != nil {
			a.logger.ErrorContext(ctx, "market export failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		exported++
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Time("cutoff", cutoff),
		slog.Int("exported", exported),
		slog.Int("failed", len(markets)-exported),
	)
	return nil
}

func (a *Archiver) export(ctx context.Context, m domain.Market) error {
	var snap marketSnapshot
	snap.Market.ID = m.ID
	snap.Market.EventID = m.EventID
	snap.Market.Type = string(m.Type)
	snap.Market.Title = m.Title
	snap.Market.CloseTime = m.CloseTime
	snap.Market.ResolvedAt = m.ResolvedAt
	snap.Market.Resolution = m.Resolution

	outcomes, err := a.markets.GetOutcomes(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("load outcomes: %w", err)
	}
	snap.Outcomes = outcomes

	bets, err := a.bets.ListByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("load bets: %w", err)
	}
	snap.Bets = bets

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	resolved := a.clock.Now()
	if m.ResolvedAt != nil {
		resolved = *m.ResolvedAt
	}
	path := fmt.Sprintf("settled/%s/%s.json", resolved.UTC().Format("2006/01"), m.ID)

	if err := a.blob.Put(ctx, path, data, "application/json"); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}

	return a.markets.MarkArchived(ctx, m.ID, a.clock.Now())
}

// RunLoop runs the archiver on a repeating interval until the context is
// cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("archive pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
