package audit

import (
	"context"
	"sync"
	"time"

	"github.com/crestline/backoffice/pkg/analytics"
	"github.com/crestline/backoffice/pkg/async"
	"github.com/crestline/backoffice/pkg/contextkeys"
	"github.com/crestline/backoffice/pkg/observability"
	"github.com/crestline/backoffice/pkg/pipeline"
)

// EntityIDExtractor derives the entity ID from a handler result, for
// operations where the ID only exists after execution (creates).
type EntityIDExtractor func(result any) string

// MetadataFunc captures operation-specific metadata from the call's input
// and result.
type MetadataFunc func(in pipeline.Input, result any) map[string]any

// BeforeStateFunc fetches an entity's state prior to mutation. Failures
// are tolerated: the record is written without a before snapshot.
type BeforeStateFunc func(ctx context.Context, orgID, entityID string) (map[string]any, error)

// Config specifies how one audit middleware instance assembles its record.
// EntityIDField is consulted first; EntityIDFromResult is the fallback when
// the field is unset or absent from the input. Updates and deletes know the
// ID up front, creates only after execution, so most configs set one or the
// other.
type Config struct {
	Action     Action
	EntityType string

	EntityIDField      string
	EntityIDFromResult EntityIDExtractor

	// OrgIDField names the input field holding the organization ID, used
	// when the guard has not already placed it in context. Default "orgId".
	OrgIDField string

	Metadata MetadataFunc

	// CaptureBefore fetches the entity's prior state before the handler
	// runs; only meaningful for updates where the ID is known up front.
	CaptureBefore bool
	FetchBefore   BeforeStateFunc
}

// Logger builds audit middleware bound to a store. Writes happen off the
// response path; Flush waits for in-flight writes during shutdown.
type Logger struct {
	store        Store
	logger       *observability.Logger
	metrics      *observability.Metrics
	writeTimeout time.Duration

	pending sync.WaitGroup
}

// NewLogger creates an audit logger writing to the given store.
func NewLogger(store Store, logger *observability.Logger, metrics *observability.Metrics) *Logger {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Logger{
		store:        store,
		logger:       logger,
		metrics:      metrics,
		writeTimeout: 10 * time.Second,
	}
}

// Middleware wraps a handler with audit recording per cfg.
//
// The before-state fetch (when configured) strictly precedes handler
// invocation; the record write begins only after the handler has returned
// successfully and is never awaited by the caller. A handler failure
// produces no record. A record is silently skipped when the entity or
// organization ID cannot be determined.
func (l *Logger) Middleware(cfg Config) pipeline.Middleware {
	orgField := cfg.OrgIDField
	if orgField == "" {
		orgField = "orgId"
	}

	return func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, in pipeline.Input) (any, error) {
			orgID := contextkeys.GetOrgID(ctx)
			if orgID == "" {
				orgID = in.String(orgField)
			}
			entityID := ""
			if cfg.EntityIDField != "" {
				entityID = in.String(cfg.EntityIDField)
			}

			// Before-state fetch happens strictly before the handler so the
			// snapshot cannot observe the handler's own mutation.
			var before map[string]any
			if cfg.CaptureBefore && cfg.FetchBefore != nil && entityID != "" && orgID != "" {
				state, err := cfg.FetchBefore(ctx, orgID, entityID)
				if err != nil {
					l.logger.WithError(err).WithFields(map[string]interface{}{
						"entity_type": cfg.EntityType,
						"entity_id":   entityID,
					}).Warn("before-state fetch failed, auditing without snapshot")
				} else {
					before = state
				}
			}

			result, err := next(ctx, in)
			if err != nil {
				// No record for failed operations.
				return nil, err
			}

			if entityID == "" && cfg.EntityIDFromResult != nil {
				entityID = cfg.EntityIDFromResult(result)
			}
			if entityID == "" || orgID == "" {
				l.logger.WithFields(map[string]interface{}{
					"action":      string(cfg.Action),
					"entity_type": cfg.EntityType,
				}).Warn("audit record skipped: entity or org id unknown")
				if l.metrics != nil {
					l.metrics.AuditSkippedTotal.Inc()
				}
				return result, nil
			}

			l.submit(ctx, cfg, in, result, orgID, entityID, before)
			return result, nil
		}
	}
}

// submit assembles the record from the request context synchronously, then
// hands the write to a detached task so the caller's response never waits
// on it.
func (l *Logger) submit(ctx context.Context, cfg Config, in pipeline.Input, result any, orgID, entityID string, before map[string]any) {
	metadata := map[string]any{}
	if cfg.Metadata != nil {
		for k, v := range cfg.Metadata(in, result) {
			metadata[k] = v
		}
	}
	if cfg.Action == ActionUpdated && before != nil {
		metadata["before"] = before
		metadata["after"] = result
	}
	if ip := contextkeys.GetClientIP(ctx); ip != "" {
		metadata["ip_address"] = ip
	}
	if ua := contextkeys.GetUserAgent(ctx); ua != "" {
		metadata["user_agent"] = ua
	}

	record := &Record{
		OrgID:      orgID,
		Action:     cfg.Action,
		EntityType: cfg.EntityType,
		EntityID:   entityID,
		Metadata:   Sanitize(metadata),
		IPAddress:  contextkeys.GetClientIP(ctx),
		UserAgent:  contextkeys.GetUserAgent(ctx),
		CreatedAt:  time.Now().UTC(),
	}
	if actorID := contextkeys.GetUserID(ctx); actorID != "" {
		record.ActorID = &actorID
	}

	capturer := analytics.FromContext(ctx)

	l.pending.Add(1)
	async.SafeGo(l.logger, l.writeTimeout, "audit write", func(taskCtx context.Context) error {
		defer l.pending.Done()

		if err := l.store.Insert(taskCtx, record); err != nil {
			if l.metrics != nil {
				l.metrics.AuditWriteErrors.Inc()
			}
			l.logger.WithError(err).WithFields(map[string]interface{}{
				"action":      string(record.Action),
				"entity_type": record.EntityType,
				"entity_id":   record.EntityID,
			}).Error("failed to write audit record")
			return nil
		}
		if l.metrics != nil {
			l.metrics.AuditRecordsTotal.WithLabelValues(string(record.Action)).Inc()
		}

		if capturer != nil {
			distinctID := ""
			if record.ActorID != nil {
				distinctID = *record.ActorID
			}
			// Identifiers only; the full metadata stays in the audit trail.
			capturer.Capture(taskCtx, analytics.Event{
				DistinctID: distinctID,
				Name:       string(record.Action) + "." + record.EntityType,
				Properties: map[string]any{
					"org_id":      record.OrgID,
					"entity_type": record.EntityType,
					"entity_id":   record.EntityID,
				},
			})
		}
		return nil
	})
}

// Log records one audit entry directly, for operations that fall outside
// the middleware shape — such as organization creation, where the tenant
// only exists after the handler has run. Skip semantics match the
// middleware: no record without both IDs.
func (l *Logger) Log(ctx context.Context, orgID, entityID string, action Action, entityType string, metadata map[string]any) {
	if orgID == "" || entityID == "" {
		l.logger.WithFields(map[string]interface{}{
			"action":      string(action),
			"entity_type": entityType,
		}).Warn("audit record skipped: entity or org id unknown")
		if l.metrics != nil {
			l.metrics.AuditSkippedTotal.Inc()
		}
		return
	}

	cfg := Config{Action: action, EntityType: entityType}
	if metadata != nil {
		cfg.Metadata = func(pipeline.Input, any) map[string]any { return metadata }
	}
	l.submit(ctx, cfg, nil, nil, orgID, entityID, nil)
}

// Flush waits up to timeout for in-flight audit writes to complete.
func (l *Logger) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// DefaultIDExtractor reads an "id" field from a map-shaped handler result.
func DefaultIDExtractor(result any) string {
	if m, ok := result.(map[string]any); ok {
		if id, ok := m["id"].(string); ok {
			return id
		}
	}
	return ""
}

// Created audits a create operation, deriving the entity ID from the
// handler result.
func (l *Logger) Created(entityType string, extract EntityIDExtractor) pipeline.Middleware {
	if extract == nil {
		extract = DefaultIDExtractor
	}
	return l.Middleware(Config{
		Action:             ActionCreated,
		EntityType:         entityType,
		EntityIDFromResult: extract,
	})
}

// Updated audits an update operation, capturing the entity's before-state.
func (l *Logger) Updated(entityType, idField string, fetchBefore BeforeStateFunc) pipeline.Middleware {
	return l.Middleware(Config{
		Action:        ActionUpdated,
		EntityType:    entityType,
		EntityIDField: idField,
		CaptureBefore: true,
		FetchBefore:   fetchBefore,
	})
}

// Deleted audits a delete operation, capturing the entity's final state.
func (l *Logger) Deleted(entityType, idField string, fetchBefore BeforeStateFunc) pipeline.Middleware {
	return l.Middleware(Config{
		Action:        ActionDeleted,
		EntityType:    entityType,
		EntityIDField: idField,
		CaptureBefore: true,
		FetchBefore:   fetchBefore,
	})
}

// RoleChanged audits a member role change, recording the old and new role.
func (l *Logger) RoleChanged(idField string) pipeline.Middleware {
	return l.Middleware(Config{
		Action:        ActionRoleChanged,
		EntityType:    "member",
		EntityIDField: idField,
		Metadata: func(in pipeline.Input, result any) map[string]any {
			md := map[string]any{
				"new_role": in.String("role"),
			}
			if m, ok := result.(map[string]any); ok {
				if old, ok := m["previousRole"].(string); ok {
					md["old_role"] = old
				}
			}
			return md
		},
	})
}
