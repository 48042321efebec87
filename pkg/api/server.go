// Package api exposes the HTTP surface. Every tenant-scoped route runs
// through the call pipeline: the access guard admits or rejects the
// caller, the handler executes, and the audit middleware records the
// outcome off the response path.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crestline/backoffice/pkg/audit"
	"github.com/crestline/backoffice/pkg/guard"
	"github.com/crestline/backoffice/pkg/httputil"
	"github.com/crestline/backoffice/pkg/observability"
	"github.com/crestline/backoffice/pkg/orgs"
	"github.com/crestline/backoffice/pkg/pipeline"
	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/rbac"
	"github.com/crestline/backoffice/pkg/records"
	"github.com/crestline/backoffice/pkg/usage"
)

// Server holds the API's dependencies and registers its routes.
type Server struct {
	orgStore    *orgs.PostgresStore
	recordStore *records.PostgresStore
	auditStore  audit.Store
	auditLog    *audit.Logger
	guard       *guard.Guard
	resolver    *rbac.Resolver
	tracker     *usage.Tracker
	catalog     plans.Catalog
	logger      *observability.Logger
}

// NewServer creates the API server.
func NewServer(
	orgStore *orgs.PostgresStore,
	recordStore *records.PostgresStore,
	auditStore audit.Store,
	auditLog *audit.Logger,
	g *guard.Guard,
	resolver *rbac.Resolver,
	tracker *usage.Tracker,
	catalog plans.Catalog,
	logger *observability.Logger,
) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Server{
		orgStore:    orgStore,
		recordStore: recordStore,
		auditStore:  auditStore,
		auditLog:    auditLog,
		guard:       g,
		resolver:    resolver,
		tracker:     tracker,
		catalog:     catalog,
		logger:      logger,
	}
}

// RegisterRoutes attaches all API routes to the router.
func (s *Server) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orgs", s.handleCreateOrg).Methods(http.MethodPost)
	api.HandleFunc("/orgs/{orgId}", s.handleGetOrg).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{orgId}/plan", s.handleChangePlan).Methods(http.MethodPut)

	api.HandleFunc("/orgs/{orgId}/members", s.handleListMembers).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{orgId}/members/{userId}/role", s.handleChangeMemberRole).Methods(http.MethodPut)
	api.HandleFunc("/orgs/{orgId}/members/{userId}", s.handleRemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/orgs/{orgId}/invitations", s.handleInviteMember).Methods(http.MethodPost)
	api.HandleFunc("/invitations/{token}/accept", s.handleAcceptInvitation).Methods(http.MethodPost)

	api.HandleFunc("/orgs/{orgId}/records", s.handleCreateRecord).Methods(http.MethodPost)
	api.HandleFunc("/orgs/{orgId}/records", s.handleListRecords).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{orgId}/records/{recordId}", s.handleGetRecord).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{orgId}/records/{recordId}", s.handleUpdateRecord).Methods(http.MethodPut)
	api.HandleFunc("/orgs/{orgId}/records/{recordId}", s.handleDeleteRecord).Methods(http.MethodDelete)
	api.HandleFunc("/orgs/{orgId}/records/export", s.handleExportRecords).Methods(http.MethodPost)

	api.HandleFunc("/orgs/{orgId}/audit", s.handleSearchAudit).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{orgId}/usage", s.handleUsageSummary).Methods(http.MethodGet)
}

// run executes a pipeline handler wrapped in the given middleware and
// writes the result or mapped error.
func (s *Server) run(w http.ResponseWriter, r *http.Request, status int, in pipeline.Input, h pipeline.Handler, mws ...pipeline.Middleware) {
	result, err := pipeline.Chain(h, mws...)(r.Context(), in)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	if result == nil {
		httputil.WriteNoContent(w)
		return
	}
	httputil.WriteJSON(w, status, result)
}

// inputFromRequest merges path variables and a JSON body (when present)
// into one pipeline input. Path variables win on key collision so a body
// cannot spoof the route's tenant.
func inputFromRequest(r *http.Request) (pipeline.Input, error) {
	in := pipeline.Input{}
	if r.Body != nil && r.ContentLength != 0 {
		body := map[string]any{}
		if err := httputil.ParseJSON(r, &body); err != nil {
			return nil, err
		}
		for k, v := range body {
			in[k] = v
		}
	}
	for k, v := range httputil.GetPathVars(r) {
		in[k] = v
	}
	return in, nil
}
