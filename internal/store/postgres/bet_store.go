package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsflow/settler/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. Each bet is its own
// aggregate; updates are single conditional statements.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betColumns = `id, market_id, outcome_id, user_id, stake, status, payout, placed_at, settled_at`

// ListOpenPage returns up to limit open bets on the market, oldest first.
// Settlement drains the market by repeatedly taking the first open page, so
// no unbounded result set is ever held in memory.
func (s *BetStore) ListOpenPage(ctx context.Context, marketID string, limit int) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+`
		FROM bets
		WHERE market_id = $1 AND status = $2
		ORDER BY placed_at, id
		LIMIT $3`,
		marketID, string(domain.BetStatusOpen), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open bets for market %s: %w", marketID, err)
	}
	return collectBets(rows)
}

// SettleBet updates a bet to a terminal status and payout, conditioned on
// the current status being open. Zero rows affected means the bet was
// already settled; the caller treats that as a no-op.
func (s *BetStore) SettleBet(ctx context.Context, id string, status domain.BetStatus, payout int64, settledAt time.Time) (bool, error) {
	if status != domain.BetStatusWon && status != domain.BetStatusLost {
		return false, fmt.Errorf("postgres: settle bet %s: %q is not a terminal status", id, status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE bets
		SET status = $1, payout = $2, settled_at = $3
		WHERE id = $4 AND status = $5`,
		string(status), payout, settledAt, id, string(domain.BetStatusOpen))
	if err != nil {
		return false, fmt.Errorf("postgres: settle bet %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountOpen returns the number of open bets on a market.
func (s *BetStore) CountOpen(ctx context.Context, marketID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bets WHERE market_id = $1 AND status = $2`,
		marketID, string(domain.BetStatusOpen),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open bets for market %s: %w", marketID, err)
	}
	return n, nil
}

// ListByMarket returns every bet on a market, for audit export.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+`
		FROM bets
		WHERE market_id = $1
		ORDER BY placed_at, id`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %s: %w", marketID, err)
	}
	return collectBets(rows)
}

func collectBets(rows pgx.Rows) ([]domain.Bet, error) {
	defer rows.Close()
	var out []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var status string
		if err := rows.Scan(
			&b.ID, &b.MarketID, &b.OutcomeID, &b.UserID, &b.Stake,
			&status, &b.Payout, &b.PlacedAt, &b.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Status = domain.BetStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
