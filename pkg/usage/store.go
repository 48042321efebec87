package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store is the append/query contract for usage events.
type Store interface {
	// Insert appends one event. Assigns ID, CreatedAt, and a default
	// quantity of 1 when unset.
	Insert(ctx context.Context, event *Event) error

	// InsertBatch appends many events in one write. A nil or empty batch
	// is a no-op.
	InsertBatch(ctx context.Context, events []*Event) error

	// EventsForPeriod returns events for an org within [from, to), newest
	// first, optionally filtered by event type.
	EventsForPeriod(ctx context.Context, orgID string, from, to time.Time, eventType EventType) ([]*Event, error)

	// SumQuantity sums event quantities for an org and event type in
	// [from, to).
	SumQuantity(ctx context.Context, orgID string, eventType EventType, from, to time.Time) (int64, error)

	// CountByDay counts events per day for an org and event type in
	// [from, to), keyed by YYYY-MM-DD.
	CountByDay(ctx context.Context, orgID string, eventType EventType, from, to time.Time) (map[string]int64, error)

	// DistinctUsers counts distinct user IDs with events in [from, to).
	DistinctUsers(ctx context.Context, orgID string, from, to time.Time) (int64, error)
}

// PostgresStore persists usage events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed usage store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func prepare(event *Event) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Quantity == 0 {
		event.Quantity = 1
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(event.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// Insert appends one usage event.
func (s *PostgresStore) Insert(ctx context.Context, event *Event) error {
	metadataJSON, err := prepare(event)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO usage_events (id, org_id, user_id, event_type, quantity, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.OrgID, nullString(event.UserID), event.EventType,
		event.Quantity, metadataJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// InsertBatch appends many usage events with a single bulk insert.
func (s *PostgresStore) InsertBatch(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(
		"usage_events", "id", "org_id", "user_id", "event_type", "quantity", "metadata", "created_at",
	))
	if err != nil {
		return fmt.Errorf("failed to prepare bulk insert: %w", err)
	}

	for _, event := range events {
		metadataJSON, err := prepare(event)
		if err != nil {
			stmt.Close()
			return err
		}
		var metadataArg interface{}
		if metadataJSON != nil {
			metadataArg = string(metadataJSON)
		}
		if _, err := stmt.ExecContext(ctx,
			event.ID, event.OrgID, nullString(event.UserID), string(event.EventType),
			event.Quantity, metadataArg, event.CreatedAt,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to queue usage event: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush bulk insert: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close bulk insert: %w", err)
	}

	return txn.Commit()
}

// EventsForPeriod returns usage events for an org in [from, to), newest first.
func (s *PostgresStore) EventsForPeriod(ctx context.Context, orgID string, from, to time.Time, eventType EventType) ([]*Event, error) {
	query := `
		SELECT id, org_id, user_id, event_type, quantity, metadata, created_at
		FROM usage_events
		WHERE org_id = $1 AND created_at >= $2 AND created_at < $3
	`
	args := []interface{}{orgID, from, to}
	if eventType != "" {
		query += " AND event_type = $4"
		args = append(args, string(eventType))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var userID sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(
			&event.ID, &event.OrgID, &userID, &event.EventType,
			&event.Quantity, &metadataJSON, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		if userID.Valid {
			event.UserID = userID.String
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage events: %w", err)
	}

	return events, nil
}

// SumQuantity sums event quantities for an org and event type in [from, to).
func (s *PostgresStore) SumQuantity(ctx context.Context, orgID string, eventType EventType, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM usage_events
		WHERE org_id = $1 AND event_type = $2 AND created_at >= $3 AND created_at < $4
	`
	var total int64
	if err := s.db.QueryRowContext(ctx, query, orgID, string(eventType), from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}
	return total, nil
}

// CountByDay counts events per day for an org and event type in [from, to).
func (s *PostgresStore) CountByDay(ctx context.Context, orgID string, eventType EventType, from, to time.Time) (map[string]int64, error) {
	query := `
		SELECT to_char(created_at, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM usage_events
		WHERE org_id = $1 AND event_type = $2 AND created_at >= $3 AND created_at < $4
		GROUP BY day
		ORDER BY day
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, string(eventType), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count usage by day: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan day count: %w", err)
		}
		counts[day] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating day counts: %w", err)
	}
	return counts, nil
}

// DistinctUsers counts distinct users with events for an org in [from, to).
func (s *PostgresStore) DistinctUsers(ctx context.Context, orgID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT user_id)
		FROM usage_events
		WHERE org_id = $1 AND user_id IS NOT NULL AND created_at >= $2 AND created_at < $3
	`
	var count int64
	if err := s.db.QueryRowContext(ctx, query, orgID, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count distinct users: %w", err)
	}
	return count, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
