// Package records stores tenant business records, the data the access
// pipeline protects.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/backoffice/pkg/apierr"
)

// Record is one tenant-owned business record.
type Record struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Title     string         `json:"title"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PostgresStore persists records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new record.
func (s *PostgresStore) Create(ctx context.Context, orgID, createdBy, title string, data map[string]any) (*Record, error) {
	dataJSON, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &Record{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Title:     title,
		Data:      data,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query := `
		INSERT INTO records (id, org_id, title, data, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		record.ID, record.OrgID, record.Title, dataJSON, record.CreatedBy,
		record.CreatedAt, record.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return record, nil
}

// Get retrieves a record scoped to its organization.
func (s *PostgresStore) Get(ctx context.Context, orgID, recordID string) (*Record, error) {
	query := `
		SELECT id, org_id, title, data, created_by, created_at, updated_at
		FROM records
		WHERE org_id = $1 AND id = $2
	`
	record := &Record{}
	var dataJSON []byte
	var createdBy sql.NullString
	err := s.db.QueryRowContext(ctx, query, orgID, recordID).Scan(
		&record.ID, &record.OrgID, &record.Title, &dataJSON,
		&createdBy, &record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("record", recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if createdBy.Valid {
		record.CreatedBy = createdBy.String
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &record.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record data: %w", err)
		}
	}
	return record, nil
}

// List returns an organization's records, newest first.
func (s *PostgresStore) List(ctx context.Context, orgID string, limit, offset int) ([]*Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, org_id, title, data, created_by, created_at, updated_at
		FROM records
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record := &Record{}
		var dataJSON []byte
		var createdBy sql.NullString
		if err := rows.Scan(
			&record.ID, &record.OrgID, &record.Title, &dataJSON,
			&createdBy, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if createdBy.Valid {
			record.CreatedBy = createdBy.String
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &record.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal record data: %w", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Update replaces a record's title and data.
func (s *PostgresStore) Update(ctx context.Context, orgID, recordID, title string, data map[string]any) (*Record, error) {
	dataJSON, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE records
		SET title = $1, data = $2, updated_at = $3
		WHERE org_id = $4 AND id = $5
	`
	result, err := s.db.ExecContext(ctx, query, title, dataJSON, time.Now().UTC(), orgID, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apierr.NotFound("record", recordID)
	}
	return s.Get(ctx, orgID, recordID)
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, orgID, recordID string) error {
	query := `DELETE FROM records WHERE org_id = $1 AND id = $2`
	result, err := s.db.ExecContext(ctx, query, orgID, recordID)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apierr.NotFound("record", recordID)
	}
	return nil
}

// Count returns how many records an organization holds.
func (s *PostgresStore) Count(ctx context.Context, orgID string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM records WHERE org_id = $1`
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Snapshot returns a record's current state as a generic map, used for
// before/after audit capture.
func (s *PostgresStore) Snapshot(ctx context.Context, orgID, recordID string) (map[string]any, error) {
	record, err := s.Get(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         record.ID,
		"title":      record.Title,
		"data":       record.Data,
		"updated_at": record.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func marshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record data: %w", err)
	}
	return out, nil
}
