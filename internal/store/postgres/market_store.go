package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsflow/settler/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. A market and
// its outcomes are one aggregate: every multi-row operation runs in one
// transaction.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	id, event_id, market_type, title, close_time, status, fact_key,
	suspended_from, resolution, created_at, resolved_at`

// CreateMarketWithOutcomes persists a market and its outcome set in a single
// transaction. A unique index on (event_id, market_type, fact_key) turns a
// concurrent duplicate insert into domain.ErrAlreadyExists.
func (s *MarketStore) CreateMarketWithOutcomes(ctx context.Context, m domain.Market, outcomes []domain.Outcome) error {
	if len(outcomes) < 2 {
		return fmt.Errorf("postgres: market %s needs at least 2 outcomes, got %d", m.ID, len(outcomes))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertMarket = `
		INSERT INTO markets (id, event_id, market_type, title, close_time, status, fact_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = tx.Exec(ctx, insertMarket,
		m.ID, m.EventID, string(m.Type), m.Title, m.CloseTime,
		string(m.Status), m.FactKey, m.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}

	batch := &pgx.Batch{}
	const insertOutcome = `
		INSERT INTO outcomes (id, market_id, participant_id, label, odds)
		VALUES ($1, $2, $3, $4, $5)`
	for _, o := range outcomes {
		batch.Queue(insertOutcome, o.ID, m.ID, o.ParticipantID, o.Label, o.Odds)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range outcomes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert outcome %d for market %s: %w", i, m.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close outcome batch for market %s: %w", m.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID loads a single market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetOutcomes loads the outcome set of a market.
func (s *MarketStore) GetOutcomes(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, participant_id, label, odds, is_winner
		FROM outcomes WHERE market_id = $1 ORDER BY label`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.MarketID, &o.ParticipantID, &o.Label, &o.Odds, &o.IsWinner); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TransitionStatus performs a compare-and-swap status update. The WHERE
// clause on the current status is the optimistic-concurrency guard: zero
// rows affected means another process got there first.
func (s *MarketStore) TransitionStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	if !domain.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("postgres: transition market %s %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM markets WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: re-read market %s: %w", id, err)
		}
		return fmt.Errorf("%w: market %s is %s, expected %s", domain.ErrStatusConflict, id, current, from)
	}
	return nil
}

// Suspend moves an open or closed market to suspended, remembering the
// prior status for Resume.
func (s *MarketStore) Suspend(ctx context.Context, id string) error {
	return s.withAggregate(ctx, id, func(tx pgx.Tx, current domain.MarketStatus) error {
		if !domain.ValidTransition(current, domain.MarketStatusSuspended) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, current, domain.MarketStatusSuspended)
		}
		_, err := tx.Exec(ctx,
			`UPDATE markets SET status = $1, suspended_from = $2 WHERE id = $3`,
			string(domain.MarketStatusSuspended), string(current), id,
		)
		return err
	})
}

// Resume restores a suspended market to the status it was suspended from.
func (s *MarketStore) Resume(ctx context.Context, id string) error {
	return s.withAggregate(ctx, id, func(tx pgx.Tx, current domain.MarketStatus) error {
		if current != domain.MarketStatusSuspended {
			return fmt.Errorf("%w: market %s is %s, expected %s",
				domain.ErrStatusConflict, id, current, domain.MarketStatusSuspended)
		}
		var from *string
		if err := tx.QueryRow(ctx, `SELECT suspended_from FROM markets WHERE id = $1`, id).Scan(&from); err != nil {
			return err
		}
		if from == nil {
			return fmt.Errorf("postgres: suspended market %s has no suspended_from", id)
		}
		_, err := tx.Exec(ctx,
			`UPDATE markets SET status = $1, suspended_from = NULL WHERE id = $2`,
			*from, id,
		)
		return err
	})
}

// withAggregate runs fn inside a transaction holding a row lock on the
// market, so verify-then-write happens under the same lock as the read.
func (s *MarketStore) withAggregate(ctx context.Context, id string, fn func(tx pgx.Tx, current domain.MarketStatus) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin market tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM markets WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: lock market %s: %w", id, err)
	}

	if err := fn(tx, domain.MarketStatus(current)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market %s: %w", id, err)
	}
	return nil
}

// ListOpenPastClose returns open markets whose close time has passed.
func (s *MarketStore) ListOpenPastClose(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+marketColumns+`
		FROM markets
		WHERE status = $1 AND close_time <= $2
		ORDER BY close_time
		LIMIT $3`,
		string(domain.MarketStatusOpen), now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open past close: %w", err)
	}
	return collectMarkets(rows)
}

// ListClosedForFinishedEvents returns closed markets whose event has
// finished, i.e. markets ready to resolve.
func (s *MarketStore) ListClosedForFinishedEvents(ctx context.Context, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.event_id, m.market_type, m.title, m.close_time, m.status,
		       m.fact_key, m.suspended_from, m.resolution, m.created_at, m.resolved_at
		FROM markets m
		JOIN events e ON e.id = m.event_id
		WHERE m.status = $1 AND e.status = $2
		ORDER BY m.close_time
		LIMIT $3`,
		string(domain.MarketStatusClosed), string(domain.EventStatusFinished), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed for finished events: %w", err)
	}
	return collectMarkets(rows)
}

// FinalizeSettlement flags the winning outcomes, records the resolution
// payload, and advances the market closed -> settled, all in one
// transaction. It refuses to settle while any bet is still open.
func (s *MarketStore) FinalizeSettlement(ctx context.Context, marketID string, winningOutcomeIDs []string, payload []byte, resolvedAt time.Time) error {
	return s.withAggregate(ctx, marketID, func(tx pgx.Tx, current domain.MarketStatus) error {
		if current != domain.MarketStatusClosed {
			return fmt.Errorf("%w: market %s is %s, expected %s",
				domain.ErrStatusConflict, marketID, current, domain.MarketStatusClosed)
		}

		var open int64
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM bets WHERE market_id = $1 AND status = $2`,
			marketID, string(domain.BetStatusOpen),
		).Scan(&open); err != nil {
			return fmt.Errorf("postgres: count open bets for market %s: %w", marketID, err)
		}
		if open > 0 {
			return fmt.Errorf("%w: market %s has %d open bets", domain.ErrBetsStillOpen, marketID, open)
		}

		if winningOutcomeIDs == nil {
			winningOutcomeIDs = []string{}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE outcomes SET is_winner = (id = ANY($1)) WHERE market_id = $2`,
			winningOutcomeIDs, marketID,
		); err != nil {
			return fmt.Errorf("postgres: flag winners for market %s: %w", marketID, err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE markets SET status = $1, resolution = $2, resolved_at = $3 WHERE id = $4`,
			string(domain.MarketStatusSettled), payload, resolvedAt, marketID,
		); err != nil {
			return fmt.Errorf("postgres: settle market %s: %w", marketID, err)
		}
		return nil
	})
}

// ListSettledBefore returns settled markets resolved before the cutoff that
// have not been exported yet.
func (s *MarketStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+marketColumns+`
		FROM markets
		WHERE status = $1 AND resolved_at < $2 AND archived_at IS NULL
		ORDER BY resolved_at
		LIMIT $3`,
		string(domain.MarketStatusSettled), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled before %s: %w", cutoff, err)
	}
	return collectMarkets(rows)
}

// MarkArchived records a completed audit export for a settled market.
func (s *MarketStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET archived_at = $1 WHERE id = $2 AND status = $3`,
		at, id, string(domain.MarketStatusSettled),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark market %s archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var typ, status string
	var suspendedFrom *string
	err := row.Scan(
		&m.ID, &m.EventID, &typ, &m.Title, &m.CloseTime, &status,
		&m.FactKey, &suspendedFrom, &m.Resolution, &m.CreatedAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Type = domain.MarketType(typ)
	m.Status = domain.MarketStatus(status)
	if suspendedFrom != nil {
		prior := domain.MarketStatus(*suspendedFrom)
		m.SuspendedFrom = &prior
	}
	return m, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
