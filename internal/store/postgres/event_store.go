package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsflow/settler/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Events and their
// participants are maintained by the upstream ingest; this store only reads
// them.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// GetByID loads one event with its participants.
func (s *EventStore) GetByID(ctx context.Context, id string) (domain.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, category, name, start_time, status
		FROM events WHERE id = $1`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}

	parts, err := s.participants(ctx, []string{id})
	if err != nil {
		return domain.Event{}, err
	}
	ev.Participants = parts[id]
	return ev, nil
}

// ListUpcoming returns upcoming events starting within [from, until],
// participants included.
func (s *EventStore) ListUpcoming(ctx context.Context, from, until time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, name, start_time, status
		FROM events
		WHERE status = $1 AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time`,
		string(domain.EventStatusUpcoming), from, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list upcoming events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	var ids []string
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	parts, err := s.participants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Participants = parts[events[i].ID]
	}
	return events, nil
}

// participants loads participants for a set of events in one query.
func (s *EventStore) participants(ctx context.Context, eventIDs []string) (map[string][]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, id, name
		FROM participants
		WHERE event_id = ANY($1)
		ORDER BY event_id, id`, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list participants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Participant)
	for rows.Next() {
		var eventID string
		var p domain.Participant
		if err := rows.Scan(&eventID, &p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		out[eventID] = append(out[eventID], p)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var ev domain.Event
	var status string
	if err := row.Scan(&ev.ID, &ev.Category, &ev.Name, &ev.StartTime, &status); err != nil {
		return domain.Event{}, err
	}
	ev.Status = domain.EventStatus(status)
	return ev, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
