package rbac

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crestline/backoffice/pkg/apierr"
	"github.com/crestline/backoffice/pkg/observability"
)

// MembershipLookup is the single capability the resolver needs from the
// membership store.
type MembershipLookup interface {
	// GetMemberRole returns the caller's role within an organization.
	// A missing membership returns apierr.NotFoundError.
	GetMemberRole(ctx context.Context, orgID, userID string) (Role, error)
}

// Resolver resolves a caller's role within an organization.
//
// Resolution is fail-closed: a missing membership, a malformed role, or any
// store failure all resolve to "not a member", which no role requirement
// admits. Authorization must never be granted on ambiguity.
type Resolver struct {
	store  MembershipLookup
	logger *observability.Logger
	cache  *roleCache
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables an LRU cache of resolved roles with the given size and
// entry TTL. Role changes take up to ttl to propagate to cached callers.
func WithCache(size int, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if c, err := newRoleCache(size, ttl); err == nil {
			r.cache = c
		}
	}
}

// NewResolver creates a role resolver backed by the membership store.
func NewResolver(store MembershipLookup, logger *observability.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	r := &Resolver{store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up the caller's role within an organization. The second
// return value is false when the caller is not a member, including on any
// store failure.
func (r *Resolver) Resolve(ctx context.Context, orgID, userID string) (Role, bool) {
	if orgID == "" || userID == "" {
		return "", false
	}

	if r.cache != nil {
		if role, ok := r.cache.get(orgID, userID); ok {
			return role, true
		}
	}

	role, err := r.store.GetMemberRole(ctx, orgID, userID)
	if err != nil {
		if !apierr.IsNotFound(err) {
			// Degrade to "not a member" rather than propagating; an
			// authorization outage must not grant access, and surfacing
			// store errors here would leak membership internals.
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"org_id":  orgID,
				"user_id": userID,
			}).Warn("membership lookup failed, denying access")
		}
		return "", false
	}

	if !role.Valid() {
		r.logger.WithFields(map[string]interface{}{
			"org_id": orgID,
			"role":   string(role),
		}).Error("unrecognized role in membership store")
		return "", false
	}

	if r.cache != nil {
		r.cache.put(orgID, userID, role)
	}

	return role, true
}

// Invalidate drops a cached role, called after role changes or removals.
func (r *Resolver) Invalidate(orgID, userID string) {
	if r.cache != nil {
		r.cache.remove(orgID, userID)
	}
}

// roleCache is a TTL-bounded LRU of resolved (org, user) roles.
type roleCache struct {
	lru *lru.Cache[string, cachedRole]
	ttl time.Duration
}

type cachedRole struct {
	role      Role
	expiresAt time.Time
}

func newRoleCache(size int, ttl time.Duration) (*roleCache, error) {
	c, err := lru.New[string, cachedRole](size)
	if err != nil {
		return nil, err
	}
	return &roleCache{lru: c, ttl: ttl}, nil
}

func cacheKey(orgID, userID string) string {
	return orgID + "/" + userID
}

func (c *roleCache) get(orgID, userID string) (Role, bool) {
	entry, ok := c.lru.Get(cacheKey(orgID, userID))
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(cacheKey(orgID, userID))
		return "", false
	}
	return entry.role, true
}

func (c *roleCache) put(orgID, userID string, role Role) {
	c.lru.Add(cacheKey(orgID, userID), cachedRole{
		role:      role,
		expiresAt: time.Now().Add(c.ttl),
	})
}

func (c *roleCache) remove(orgID, userID string) {
	c.lru.Remove(cacheKey(orgID, userID))
}
