package api

import (
	"context"
	"net/http"

	"github.com/crestline/backoffice/pkg/apierr"
	"github.com/crestline/backoffice/pkg/audit"
	"github.com/crestline/backoffice/pkg/contextkeys"
	"github.com/crestline/backoffice/pkg/httputil"
	"github.com/crestline/backoffice/pkg/orgs"
	"github.com/crestline/backoffice/pkg/pipeline"
	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/rbac"
	"github.com/crestline/backoffice/pkg/usage"
)

func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteForbidden(w, "authentication required")
		return
	}

	var req orgs.CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" || req.Slug == "" {
		httputil.WriteBadRequest(w, "name and slug are required")
		return
	}

	// No guard: the creator has no membership yet and becomes the owner.
	org, err := s.orgStore.CreateOrg(r.Context(), &req, userID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	s.auditLog.Log(r.Context(), org.ID, org.ID, audit.ActionCreated, "organization", map[string]any{
		"name":      org.Name,
		"slug":      org.Slug,
		"plan_tier": string(org.PlanTier),
	})
	httputil.WriteCreated(w, org)
}

func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		return s.orgStore.GetOrg(ctx, contextkeys.GetOrgID(ctx))
	}

	s.run(w, r, http.StatusOK, in, handler, s.guard.RequireMember())
}

func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		orgID := contextkeys.GetOrgID(ctx)
		plan := plans.PlanTier(in.String("planTier"))
		if err := s.orgStore.UpdateOrgPlan(ctx, orgID, plan); err != nil {
			return nil, err
		}
		if catalog, ok := s.catalog.(*plans.PostgresCatalog); ok {
			catalog.Invalidate(orgID)
		}
		return map[string]any{"id": orgID, "planTier": string(plan)}, nil
	}

	s.run(w, r, http.StatusOK, in,
		handler,
		s.guard.RequireOwner(),
		s.auditLog.Middleware(audit.Config{
			Action:        audit.ActionUpdated,
			EntityType:    "organization",
			EntityIDField: "orgId",
			Metadata: func(in pipeline.Input, result any) map[string]any {
				return map[string]any{"plan_tier": in.String("planTier")}
			},
		}),
	)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		return s.orgStore.ListMembers(ctx, contextkeys.GetOrgID(ctx))
	}

	s.run(w, r, http.StatusOK, in, handler, s.guard.RequireMember())
}

func (s *Server) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		email := in.String("email")
		if email == "" {
			return nil, apierr.BadRequest("email", "email is required")
		}
		req := &orgs.InviteMemberRequest{
			Email: email,
			Role:  rbac.Role(in.String("role")),
		}
		return s.orgStore.CreateInvitation(ctx, contextkeys.GetOrgID(ctx), contextkeys.GetUserID(ctx), req)
	}

	s.run(w, r, http.StatusCreated, in,
		handler,
		s.guard.RequireAdmin(),
		s.auditLog.Middleware(audit.Config{
			Action:     audit.ActionInvited,
			EntityType: "invitation",
			EntityIDFromResult: func(result any) string {
				if inv, ok := result.(*orgs.Invitation); ok {
					return inv.ID
				}
				return ""
			},
			Metadata: func(in pipeline.Input, result any) map[string]any {
				return map[string]any{
					"email": in.String("email"),
					"role":  in.String("role"),
				}
			},
		}),
	)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteForbidden(w, "authentication required")
		return
	}
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	member, err := s.orgStore.AcceptInvitation(r.Context(), token, userID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	s.resolver.Invalidate(member.OrgID, userID)
	s.tracker.TrackEvent(r.Context(), &usage.Event{
		OrgID:     member.OrgID,
		UserID:    userID,
		EventType: usage.EventSeatActive,
	})
	httputil.WriteSuccess(w, member)
}

func (s *Server) handleChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		orgID := contextkeys.GetOrgID(ctx)
		userID := in.String("userId")
		role := rbac.Role(in.String("role"))

		previous, err := s.orgStore.UpdateMemberRole(ctx, orgID, userID, role)
		if err != nil {
			return nil, err
		}
		s.resolver.Invalidate(orgID, userID)
		return map[string]any{
			"userId":       userID,
			"role":         string(role),
			"previousRole": string(previous),
		}, nil
	}

	s.run(w, r, http.StatusOK, in,
		handler,
		s.guard.RequireAdmin(),
		s.auditLog.RoleChanged("userId"),
	)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	in, err := inputFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	handler := func(ctx context.Context, in pipeline.Input) (any, error) {
		orgID := contextkeys.GetOrgID(ctx)
		userID := in.String("userId")
		if err := s.orgStore.RemoveMember(ctx, orgID, userID); err != nil {
			return nil, err
		}
		s.resolver.Invalidate(orgID, userID)
		return map[string]any{"userId": userID, "removed": true}, nil
	}

	s.run(w, r, http.StatusOK, in,
		handler,
		s.guard.RequireAdmin(),
		s.auditLog.Middleware(audit.Config{
			Action:        audit.ActionDeleted,
			EntityType:    "member",
			EntityIDField: "userId",
		}),
	)
}
