// Package retention runs the scheduled housekeeping jobs: purging audit
// records past their retention window and expiring stale invitations.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crestline/backoffice/pkg/audit"
	"github.com/crestline/backoffice/pkg/observability"
	"github.com/crestline/backoffice/pkg/orgs"
)

const jobTimeout = 10 * time.Minute

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron       *cron.Cron
	auditStore audit.Store
	orgStore   *orgs.PostgresStore
	retention  time.Duration
	logger     *observability.Logger
}

// NewScheduler creates a retention scheduler. retention is how long audit
// records are kept.
func NewScheduler(auditStore audit.Store, orgStore *orgs.PostgresStore, retention time.Duration, logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Scheduler{
		cron:       cron.New(),
		auditStore: auditStore,
		orgStore:   orgStore,
		retention:  retention,
		logger:     logger,
	}
}

// Register schedules the purge and cleanup jobs. Schedules are standard
// cron expressions.
func (s *Scheduler) Register(purgeSchedule, cleanupSchedule string) error {
	if _, err := s.cron.AddFunc(purgeSchedule, s.runPurge); err != nil {
		return fmt.Errorf("failed to schedule audit purge: %w", err)
	}
	if _, err := s.cron.AddFunc(cleanupSchedule, s.runInvitationCleanup); err != nil {
		return fmt.Errorf("failed to schedule invitation cleanup: %w", err)
	}
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.auditStore.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("audit purge failed")
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("audit purge completed")
}

func (s *Scheduler) runInvitationCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	expired, err := s.orgStore.CleanupExpiredInvitations(ctx)
	if err != nil {
		s.logger.WithError(err).Error("invitation cleanup failed")
		return
	}
	s.logger.WithField("expired", expired).Info("invitation cleanup completed")
}
