package api

import (
	"context"
	"net/http"
	"time"

	"github.com/crestline/backoffice/pkg/apierr"
	"github.com/crestline/backoffice/pkg/audit"
	"github.com/crestline/backoffice/pkg/contextkeys"
	"github.com/crestline/backoffice/pkg/httputil"
	"github.com/crestline/backoffice/pkg/pipeline"
	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/rbac"
	"github.com/crestline/backoffice/pkg/records"
	"github.com/crestline/backoffice/pkg/usage"
)

func recordData(in pipeline.Input) map[string]any {
	if data, ok := in["data"].(map[string]any); ok {
		return data
	}
	return nil
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		orgID := contextkeys.GetOrgID(ctx)
		title := in.String("title")
		if title == "" {
			return nil, apierr.BadRequest("title", "title is required")
		}

		// Record count limit is enforced before the write; a limit-check
		// outage fails open.
		count, err := s.recordStore.Count(ctx, orgID)
		if err != nil {
			s.logger.WithError(err).WithField("org_id", orgID).Warn("record count unavailable, skipping limit check")
		} else if check := s.tracker.CheckLimits(ctx, orgID, plans.MetricRecords, count); check.Exceeded {
			return nil, apierr.LimitExceeded(plans.MetricRecords, check.Current, check.Limit)
		}

		record, err := s.recordStore.Create(ctx, orgID, contextkeys.GetUserID(ctx), title, recordData(in))
		if err != nil {
			return nil, err
		}
		s.tracker.TrackEvent(ctx, &usage.Event{
			OrgID:     orgID,
			UserID:    contextkeys.GetUserID(ctx),
			EventType: usage.EventRecordCreated,
		})
		return record, nil
	}

	s.run(w, r, http.StatusCreated, in,
		handler,
		s.guard.Require(rbac.RoleMember),
		s.auditLog.Created("record", func(result any) string {
			if record, ok := result.(*records.Record); ok {
				return record.ID
			}
			return ""
		}),
	)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
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

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		return s.recordStore.List(ctx, contextkeys.GetOrgID(ctx), limit, offset)
	}

	s.run(w, r, http.StatusOK, in, handler, s.guard.RequireMember())
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		return s.recordStore.Get(ctx, contextkeys.GetOrgID(ctx), in.String("recordId"))
	}

	s.run(w, r, http.StatusOK, in, handler, s.guard.RequireMember())
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		title := in.String("title")
		if title == "" {
			return nil, apierr.BadRequest("title", "title is required")
		}
		return s.recordStore.Update(ctx, contextkeys.GetOrgID(ctx), in.String("recordId"), title, recordData(in))
	}

	s.run(w, r, http.StatusOK, in,
		handler,
		s.guard.Require(rbac.RoleMember),
		s.auditLog.Updated("record", "recordId", s.recordStore.Snapshot),
	)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		recordID := in.String("recordId")
		if err := s.recordStore.Delete(ctx, contextkeys.GetOrgID(ctx), recordID); err != nil {
			return nil, err
		}
		return map[string]any{"id": recordID, "deleted": true}, nil
	}

	s.run(w, r, http.StatusOK, in,
		handler,
		s.guard.RequireAdmin(),
		s.auditLog.Deleted("record", "recordId", s.recordStore.Snapshot),
	)
}

func (s *Server) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		orgID := contextkeys.GetOrgID(ctx)

		now := time.Now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		exports := s.tracker.ExportsThisPeriod(ctx, orgID, monthStart, now)
		if check := s.tracker.CheckLimits(ctx, orgID, plans.MetricExports, exports); check.Exceeded {
			return nil, apierr.LimitExceeded(plans.MetricExports, check.Current, check.Limit)
		}

		all, err := s.recordStore.List(ctx, orgID, 200, 0)
		if err != nil {
			return nil, err
		}
		s.tracker.TrackEvent(ctx, &usage.Event{
			OrgID:     orgID,
			UserID:    contextkeys.GetUserID(ctx),
			EventType: usage.EventExport,
		})
		return map[string]any{"orgId": orgID, "count": len(all), "records": all}, nil
	}

	s.run(w, r, http.StatusOK, in,
		handler,
		s.guard.Require(rbac.RoleMember),
		s.auditLog.Middleware(audit.Config{
			Action:        audit.ActionExported,
			EntityType:    "record_export",
			EntityIDField: "orgId",
		}),
	)
}
