package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the append/query contract for audit records.
type Store interface {
	// Insert appends one record. Assigns ID and CreatedAt when unset.
	Insert(ctx context.Context, record *Record) error

	// Search returns records matching the filter, newest first.
	Search(ctx context.Context, filter *Filter) ([]*Record, error)

	// PurgeOlderThan deletes records created before the cutoff and returns
	// the number deleted. Used by the retention job.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresStore persists audit records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert appends one audit record.
func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if record.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_records (
			id, org_id, actor_id, action, entity_type, entity_id,
			metadata, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.OrgID, record.ActorID, record.Action,
		record.EntityType, record.EntityID, metadataJSON,
		nullString(record.IPAddress), nullString(record.UserAgent),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// Search returns audit records matching the filter, newest first.
func (s *PostgresStore) Search(ctx context.Context, filter *Filter) ([]*Record, error) {
	query := `
		SELECT id, org_id, actor_id, action, entity_type, entity_id,
		       metadata, ip_address, user_agent, created_at
		FROM audit_records
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if filter.OrgID != "" {
		query += fmt.Sprintf(" AND org_id = $%d", argCount)
		args = append(args, filter.OrgID)
		argCount++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, string(filter.Action))
		argCount++
	}
	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, filter.EntityType)
		argCount++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, filter.EntityID)
		argCount++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argCount)
		args = append(args, *filter.To)
		argCount++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record := &Record{}
		var metadataJSON []byte
		var ipAddress, userAgent sql.NullString

		if err := rows.Scan(
			&record.ID, &record.OrgID, &record.ActorID, &record.Action,
			&record.EntityType, &record.EntityID, &metadataJSON,
			&ipAddress, &userAgent, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if ipAddress.Valid {
			record.IPAddress = ipAddress.String
		}
		if userAgent.Valid {
			record.UserAgent = userAgent.String
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}

// PurgeOlderThan deletes audit records created before the cutoff.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// nullString converts empty strings to NULL for optional columns.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
