package sqlite

import (
	"context"
	"fmt"
	"time"

	"digit-trader/internal/domain"
	"digit-trader/internal/storage"
)

// SwitchEventStore implements storage.SwitchEventStore on SQLite.
type SwitchEventStore struct {
	db *DB
}

// NewSwitchEventStore creates a new SwitchEventStore.
func NewSwitchEventStore(db *DB) *SwitchEventStore {
	return &SwitchEventStore{db: db}
}

var _ storage.SwitchEventStore = (*SwitchEventStore)(nil)

// Append adds an event.
func (s *SwitchEventStore) Append(ctx context.Context, ev *domain.SwitchEvent) (err error) {
	if ev == nil || ev.SessionID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("switch_events_append", start, err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO switch_events (
			session_id, occurred_at, from_strategy, to_strategy, reason, consecutive_losses
		) VALUES (?, ?, ?, ?, ?, ?)
	`, ev.SessionID, unixNano(ev.Timestamp), string(ev.From), string(ev.To), ev.Reason, ev.ConsecutiveLosses)
	if err != nil {
		return fmt.Errorf("insert switch event: %w", err)
	}
	return nil
}

// ListBySession retrieves the events of a session in the order they occurred.
func (s *SwitchEventStore) ListBySession(ctx context.Context, sessionID string) (_ []*domain.SwitchEvent, err error) {
	start := time.Now()
	defer func() { observe("switch_events_list", start, err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, occurred_at, from_strategy, to_strategy, reason, consecutive_losses
		FROM switch_events
		WHERE session_id = ?
		ORDER BY occurred_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query switch events: %w", err)
	}
	defer rows.Close()

	var result []*domain.SwitchEvent
	for rows.Next() {
		var ev domain.SwitchEvent
		var at int64
		var from, to string
		if err := rows.Scan(&ev.SessionID, &at, &from, &to, &ev.Reason, &ev.ConsecutiveLosses); err != nil {
			return nil, fmt.Errorf("scan switch event: %w", err)
		}
		ev.Timestamp = fromUnixNano(at)
		ev.From = domain.Strategy(from)
		ev.To = domain.Strategy(to)
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate switch events: %w", err)
	}
	return result, nil
}
