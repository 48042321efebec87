// Package plans defines subscription plan tiers and their per-metric
// limits, and resolves which plan an organization is on.
package plans

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crestline/backoffice/pkg/apierr"
)

// Unlimited marks a metric with no cap on the plan.
const Unlimited int64 = -1

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// Metered limit keys.
const (
	MetricAPICalls     = "api_calls_per_month"
	MetricSeats        = "seats"
	MetricRecords      = "records"
	MetricStorageBytes = "storage_bytes"
	MetricExports      = "exports_per_month"
)

// defaultLimits is the built-in limit table, used when no per-plan
// override exists in the database.
var defaultLimits = map[PlanTier]map[string]int64{
	PlanFree: {
		MetricAPICalls:     10_000,
		MetricSeats:        3,
		MetricRecords:      1_000,
		MetricStorageBytes: 1 << 30, // 1 GiB
		MetricExports:      5,
	},
	PlanPro: {
		MetricAPICalls:     1_000_000,
		MetricSeats:        25,
		MetricRecords:      100_000,
		MetricStorageBytes: 100 << 30,
		MetricExports:      100,
	},
	PlanEnterprise: {
		MetricAPICalls:     Unlimited,
		MetricSeats:        Unlimited,
		MetricRecords:      Unlimited,
		MetricStorageBytes: Unlimited,
		MetricExports:      Unlimited,
	},
}

// Valid reports whether the tier is one of the known plans.
func (p PlanTier) Valid() bool {
	_, ok := defaultLimits[p]
	return ok
}

// DefaultLimit returns the built-in limit for a plan and metric.
func DefaultLimit(plan PlanTier, metric string) (int64, error) {
	limits, ok := defaultLimits[plan]
	if !ok {
		return 0, fmt.Errorf("unknown plan tier: %s", plan)
	}
	limit, ok := limits[metric]
	if !ok {
		return 0, fmt.Errorf("unknown metric %q for plan %s", metric, plan)
	}
	return limit, nil
}

// Catalog resolves organizations to plans and plans to metric limits.
type Catalog interface {
	// ActivePlan returns the plan tier the organization is currently on.
	ActivePlan(ctx context.Context, orgID string) (PlanTier, error)

	// FeatureLimit returns the limit for a metric on a plan. Unlimited
	// metrics return -1.
	FeatureLimit(ctx context.Context, plan PlanTier, metric string) (int64, error)
}

// StaticCatalog serves a fixed plan per org and the built-in limit table.
// Useful for tests and single-tenant deployments.
type StaticCatalog struct {
	Plan PlanTier
}

func (c StaticCatalog) ActivePlan(ctx context.Context, orgID string) (PlanTier, error) {
	return c.Plan, nil
}

func (c StaticCatalog) FeatureLimit(ctx context.Context, plan PlanTier, metric string) (int64, error) {
	return DefaultLimit(plan, metric)
}

type cachedPlan struct {
	plan      PlanTier
	expiresAt time.Time
}

// PostgresCatalog resolves plans from the organizations table, with
// per-plan limit overrides from plan_limits and the built-in table as
// fallback. Plan lookups are cached briefly since they sit on the hot
// path of every limit check.
type PostgresCatalog struct {
	db       *sql.DB
	cache    *lru.Cache[string, cachedPlan]
	cacheTTL time.Duration
}

// NewPostgresCatalog creates a database-backed plan catalog.
func NewPostgresCatalog(db *sql.DB) (*PostgresCatalog, error) {
	cache, err := lru.New[string, cachedPlan](4096)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}
	return &PostgresCatalog{
		db:       db,
		cache:    cache,
		cacheTTL: time.Minute,
	}, nil
}

// ActivePlan returns the organization's current plan tier.
func (c *PostgresCatalog) ActivePlan(ctx context.Context, orgID string) (PlanTier, error) {
	if entry, ok := c.cache.Get(orgID); ok && time.Now().Before(entry.expiresAt) {
		return entry.plan, nil
	}

	var plan string
	query := `SELECT plan_tier FROM organizations WHERE id = $1`
	err := c.db.QueryRowContext(ctx, query, orgID).Scan(&plan)
	if err == sql.ErrNoRows {
		return "", apierr.NotFound("organization", orgID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve plan: %w", err)
	}

	tier := PlanTier(plan)
	if !tier.Valid() {
		return "", fmt.Errorf("organization %s has unknown plan tier %q", orgID, plan)
	}

	c.cache.Add(orgID, cachedPlan{plan: tier, expiresAt: time.Now().Add(c.cacheTTL)})
	return tier, nil
}

// FeatureLimit returns the limit for a metric on a plan, preferring a
// database override when one exists.
func (c *PostgresCatalog) FeatureLimit(ctx context.Context, plan PlanTier, metric string) (int64, error) {
	var limit int64
	query := `SELECT limit_value FROM plan_limits WHERE plan_tier = $1 AND metric = $2`
	err := c.db.QueryRowContext(ctx, query, string(plan), metric).Scan(&limit)
	if err == nil {
		return limit, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to query plan limit: %w", err)
	}
	return DefaultLimit(plan, metric)
}

// Invalidate drops the cached plan for an organization, called after a
// plan change so the next limit check sees the new tier.
func (c *PostgresCatalog) Invalidate(orgID string) {
	c.cache.Remove(orgID)
}
