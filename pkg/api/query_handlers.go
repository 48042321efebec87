package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crestline/backoffice/pkg/apierr"
	"github.com/crestline/backoffice/pkg/audit"
	"github.com/crestline/backoffice/pkg/contextkeys"
	"github.com/crestline/backoffice/pkg/httputil"
	"github.com/crestline/backoffice/pkg/pipeline"
	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/usage"
)

func (s *Server) handleSearchAudit(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	query := r.URL.Query()

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		filter := &audit.Filter{
			OrgID:      contextkeys.GetOrgID(ctx),
			ActorID:    query.Get("actorId"),
			Action:     audit.Action(query.Get("action")),
			EntityType: query.Get("entityType"),
			EntityID:   query.Get("entityId"),
			Limit:      limit,
			Offset:     offset,
		}
		if from := query.Get("from"); from != "" {
			t, err := time.Parse(time.RFC3339, from)
			if err != nil {
				return nil, apierrBadTime("from", from)
			}
			filter.From = &t
		}
		if to := query.Get("to"); to != "" {
			t, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return nil, apierrBadTime("to", to)
			}
			filter.To = &t
		}
		return s.auditStore.Search(ctx, filter)
	}

	// The audit trail is sensitive; admins only.
	s.run(w, r, http.StatusOK, in, handler, s.guard.RequireAdmin())
}

func apierrBadTime(field, value string) error {
	return apierr.BadRequest(field, fmt.Sprintf("invalid RFC3339 timestamp: %s", value))
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		orgID := contextkeys.GetOrgID(ctx)

		now := time.Now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

		stats := s.tracker.APIUsageStats(ctx, orgID, monthStart, now)
		activeUsers := s.tracker.ActiveUsersCount(ctx, orgID, monthStart, now)
		storage := s.tracker.StorageUsage(ctx, orgID, monthStart, now)

		limits := map[string]usage.CheckResult{
			plans.MetricAPICalls:     s.tracker.CheckLimits(ctx, orgID, plans.MetricAPICalls, stats.TotalCalls),
			plans.MetricSeats:        s.tracker.CheckLimits(ctx, orgID, plans.MetricSeats, activeUsers),
			plans.MetricStorageBytes: s.tracker.CheckLimits(ctx, orgID, plans.MetricStorageBytes, storage),
		}

		return map[string]any{
			"period_start":  monthStart.Format(time.RFC3339),
			"api_calls":     stats,
			"active_users":  activeUsers,
			"storage_bytes": storage,
			"limits":        limits,
		}, nil
	}

	s.run(w, r, http.StatusOK, in, handler, s.guard.RequireAdmin())
}
