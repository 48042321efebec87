// Package analytics provides the optional product-analytics sink.
//
// Capture is best-effort: implementations swallow their own failures, and
// callers never wait on or branch on the outcome.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crestline/backoffice/pkg/contextkeys"
	"github.com/crestline/backoffice/pkg/observability"
)

// Event is one analytics event.
type Event struct {
	DistinctID string
	Name       string
	Properties map[string]any
}

// Capturer records analytics events.
type Capturer interface {
	Capture(ctx context.Context, event Event)
}

// WithCapturer places an analytics sink in the context for downstream
// middleware to use.
func WithCapturer(ctx context.Context, c Capturer) context.Context {
	return context.WithValue(ctx, contextkeys.AnalyticsKey, c)
}

// FromContext retrieves the analytics sink from context, or nil when no
// sink is configured.
func FromContext(ctx context.Context) Capturer {
	if c, ok := ctx.Value(contextkeys.AnalyticsKey).(Capturer); ok {
		return c
	}
	return nil
}

// DBCapturer persists analytics events to PostgreSQL.
type DBCapturer struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewDBCapturer creates a database-backed analytics sink.
func NewDBCapturer(db *sql.DB, logger *observability.Logger) *DBCapturer {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &DBCapturer{db: db, logger: logger}
}

// Capture records one event. Failures are logged and discarded.
func (c *DBCapturer) Capture(ctx context.Context, event Event) {
	props, err := marshalProperties(event.Properties)
	if err != nil {
		c.logger.WithError(err).Warn("failed to marshal analytics properties")
		return
	}

	query := `
		INSERT INTO analytics_events (distinct_id, event, properties, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := c.db.ExecContext(ctx, query, event.DistinctID, event.Name, props, time.Now().UTC()); err != nil {
		c.logger.WithError(err).WithField("event", event.Name).Warn("failed to capture analytics event")
	}
}

// NoopCapturer discards all events.
type NoopCapturer struct{}

// Capture does nothing.
func (NoopCapturer) Capture(ctx context.Context, event Event) {}

func marshalProperties(props map[string]any) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	return data, nil
}
