package postgres

import (
	"context"
	"fmt"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// SwitchEventStore implements storage.SwitchEventStore using PostgreSQL.
type SwitchEventStore struct {
	pool *Pool
}

// NewSwitchEventStore creates a new SwitchEventStore.
func NewSwitchEventStore(pool *Pool) *SwitchEventStore {
	return &SwitchEventStore{pool: pool}
}

var _ storage.SwitchEventStore = (*SwitchEventStore)(nil)

// Append adds an event.
func (s *SwitchEventStore) Append(ctx context.Context, ev *domain.SwitchEvent) (err error) {
	if ev == nil || ev.SessionID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("switch_events_append", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO switch_events (
			session_id, occurred_at, from_strategy, to_strategy, reason, consecutive_losses
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.SessionID, ev.Timestamp.UTC(), string(ev.From), string(ev.To), ev.Reason, ev.ConsecutiveLosses)
	if err != nil {
		return fmt.Errorf("insert switch event: %w", err)
	}
	return nil
}

// ListBySession retrieves the events of a session in the order they occurred.
func (s *SwitchEventStore) ListBySession(ctx context.Context, sessionID string) (_ []*domain.SwitchEvent, err error) {
	start := time.Now()
	defer func() { observe("switch_events_list", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT session_id, occurred_at, from_strategy, to_strategy, reason, consecutive_losses
		FROM switch_events
		WHERE session_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query switch events: %w", err)
	}
	defer rows.Close()

	var result []*domain.SwitchEvent
	for rows.Next() {
		var ev domain.SwitchEvent
		var from, to string
		if err := rows.Scan(&ev.SessionID, &ev.Timestamp, &from, &to, &ev.Reason, &ev.ConsecutiveLosses); err != nil {
			return nil, fmt.Errorf("scan switch event: %w", err)
		}
		ev.From = domain.Strategy(from)
		ev.To = domain.Strategy(to)
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate switch events: %w", err)
	}
	return result, nil
}
