// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application must be defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserIDKey contains the authenticated user ID string
	// Set by: the authentication layer (external collaborator)
	// Used by: guard, audit trail, usage tracking
	UserIDKey Key = "user_id"

	// OrgIDKey contains the organization ID string for org-scoped calls
	// Set by: guard middleware after tenant resolution
	// Used by: handlers, audit middleware
	OrgIDKey Key = "org_id"

	// RoleKey contains the caller's resolved rbac.Role (as string)
	// Set by: guard middleware on admission
	// Used by: handlers that branch on role
	RoleKey Key = "role"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// ClientIPKey contains the best-effort client IP string
	// Set by: HTTP middleware from forwarded headers
	// Used by: audit middleware
	ClientIPKey Key = "client_ip"

	// UserAgentKey contains the caller's user agent string
	// Set by: HTTP middleware
	// Used by: audit middleware
	UserAgentKey Key = "user_agent"

	// LoggerKey contains *observability.Logger
	// Set by: HTTP middleware
	LoggerKey Key = "logger"

	// AnalyticsKey contains an analytics.Capturer
	// Set by: server wiring when an analytics sink is configured
	// Used by: audit middleware for best-effort event emission
	AnalyticsKey Key = "analytics"
)

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the authenticated user ID from context
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOrgID adds the organization ID to the context
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// GetOrgID retrieves the organization ID from context
func GetOrgID(ctx context.Context) string {
	if v, ok := ctx.Value(OrgIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRole adds the resolved role to the context
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole retrieves the resolved role from context
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(RoleKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientIP adds the client IP to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the client IP from context
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ClientIPKey).(string); ok {
		return v
	}
	return ""
}

// WithUserAgent adds the user agent to the context
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, UserAgentKey, ua)
}

// GetUserAgent retrieves the user agent from context
func GetUserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(UserAgentKey).(string); ok {
		return v
	}
	return ""
}
