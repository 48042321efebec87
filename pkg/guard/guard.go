// Package guard implements the access control middleware that admits or
// rejects a call before it reaches its handler.
//
// The guard resolves the caller's role within the target organization and
// compares it against the required role. A rejection is synchronous and
// final: the handler is never invoked and the caller receives a typed
// error identifying the required and actual role. On admission the context
// is enriched with the resolved role and organization ID so downstream
// handlers and the audit middleware do not re-resolve them.
package guard

import (
	"context"

	"github.com/crestline/backoffice/pkg/apierr"
	"github.com/crestline/backoffice/pkg/contextkeys"
	"github.com/crestline/backoffice/pkg/observability"
	"github.com/crestline/backoffice/pkg/pipeline"
	"github.com/crestline/backoffice/pkg/rbac"
)

// ResolveFunc resolves a caller's role for an organization. Custom
// resolvers support non-membership resolution such as a super-admin flag.
type ResolveFunc func(ctx context.Context, orgID, userID string) (rbac.Role, bool)

// tenantSource identifies where the guard reads the organization ID from.
type tenantSource int

const (
	tenantFromInput tenantSource = iota
	tenantFromContext
	tenantFromParams
)

// Guard builds access control middleware bound to a role resolver.
type Guard struct {
	resolve ResolveFunc
	metrics *observability.Metrics
}

// New creates a Guard using the standard membership-based resolver.
func New(resolver *rbac.Resolver, metrics *observability.Metrics) *Guard {
	return &Guard{resolve: resolver.Resolve, metrics: metrics}
}

// config holds per-middleware settings.
type config struct {
	source     tenantSource
	inputField string
	params     map[string]string
	resolve    ResolveFunc
}

// Option configures one guard middleware instance.
type Option func(*config)

// TenantFromInput reads the organization ID from the named input field.
// This is the default, with field name "orgId".
func TenantFromInput(field string) Option {
	return func(c *config) {
		c.source = tenantFromInput
		c.inputField = field
	}
}

// TenantFromContext reads the organization ID from the call context,
// placed there by an outer middleware.
func TenantFromContext() Option {
	return func(c *config) {
		c.source = tenantFromContext
	}
}

// TenantFromParams reads the organization ID from an out-of-band parameter
// container (for example, route variables).
func TenantFromParams(params map[string]string) Option {
	return func(c *config) {
		c.source = tenantFromParams
		c.params = params
	}
}

// WithResolver substitutes a custom role resolver for this middleware.
func WithResolver(fn ResolveFunc) Option {
	return func(c *config) {
		c.resolve = fn
	}
}

// Require builds middleware admitting only callers whose role within the
// target organization is at least required.
func (g *Guard) Require(required rbac.Role, opts ...Option) pipeline.Middleware {
	cfg := &config{
		source:     tenantFromInput,
		inputField: "orgId",
		resolve:    g.resolve,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, in pipeline.Input) (any, error) {
			orgID := extractOrgID(ctx, in, cfg)
			if orgID == "" {
				return nil, apierr.BadRequest(cfg.inputField, "organization id is required")
			}

			userID := contextkeys.GetUserID(ctx)
			role, ok := cfg.resolve(ctx, orgID, userID)
			if !ok || !rbac.IsSufficient(required, role) {
				g.countDecision(required, "rejected")
				return nil, apierr.Forbidden(string(required), string(role))
			}
			g.countDecision(required, "admitted")

			ctx = contextkeys.WithOrgID(ctx, orgID)
			ctx = contextkeys.WithRole(ctx, string(role))
			return next(ctx, in)
		}
	}
}

// RequireMember admits any member of the organization.
func (g *Guard) RequireMember(opts ...Option) pipeline.Middleware {
	return g.Require(rbac.RoleViewer, opts...)
}

// RequireAdmin admits admins and owners.
func (g *Guard) RequireAdmin(opts ...Option) pipeline.Middleware {
	return g.Require(rbac.RoleAdmin, opts...)
}

// RequireOwner admits only the organization owner.
func (g *Guard) RequireOwner(opts ...Option) pipeline.Middleware {
	return g.Require(rbac.RoleOwner, opts...)
}

func extractOrgID(ctx context.Context, in pipeline.Input, cfg *config) string {
	switch cfg.source {
	case tenantFromContext:
		return contextkeys.GetOrgID(ctx)
	case tenantFromParams:
		return cfg.params["orgId"]
	default:
		return in.String(cfg.inputField)
	}
}

func (g *Guard) countDecision(required rbac.Role, decision string) {
	if g.metrics != nil {
		g.metrics.GuardDecisionsTotal.WithLabelValues(string(required), decision).Inc()
	}
}
