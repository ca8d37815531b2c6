package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/databases"
)

const (
	// RetentionSpec runs the usage retention sweep daily at 3 AM UTC
	RetentionSpec = "0 3 * * *"

	retentionLock = "usage_retention_job"
	lockTTL       = 10 * time.Minute
	jobTimeout    = 5 * time.Minute
)

// Purger deletes usage rows older than a number of days
type Purger interface {
	Purge(ctx context.Context, retentionDays int) (int64, error)
}

// Scheduler handles periodic background jobs
type Scheduler struct {
	cron          *cron.Cron
	Usage         Purger
	LockDB        databases.SchedulerLockDatabase
	RetentionDays int
	instanceID    string
}

// NewScheduler creates a new scheduler instance. lockDB may be nil when only one
// instance runs.
func NewScheduler(usage Purger, lockDB databases.SchedulerLockDatabase, retentionDays int) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:          cron.New(cron.WithLocation(time.UTC)),
		Usage:         usage,
		LockDB:        lockDB,
		RetentionDays: retentionDays,
		instanceID:    instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(RetentionSpec, s.purgeUsage); err != nil {
		zap.S().Errorw("failed to register usage retention job", "error", err)
		return err
	}

	s.cron.Start()
	zap.S().Infow("scheduler started",
		"instance", s.instanceID,
		"retentionDays", s.RetentionDays)
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("scheduler stopped")
}

// Entries lists the registered jobs
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) purgeUsage() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.runPurge(ctx)
}

// runPurge deletes expired usage rows unless another instance holds the job lock
func (s *Scheduler) runPurge(ctx context.Context) (int64, bool) {
	if s.LockDB != nil {
		acquired, err := s.LockDB.TryAcquireLock(ctx, retentionLock, s.instanceID, lockTTL)
		if err != nil {
			zap.S().Errorw("failed to acquire lock for usage retention job", "error", err)
			return 0, false
		}
		if !acquired {
			zap.S().Debug("usage retention job already running on another instance, skipping")
			return 0, false
		}
		defer func() {
			if err := s.LockDB.ReleaseLock(ctx, retentionLock, s.instanceID); err != nil {
				zap.S().Warnw("failed to release usage retention lock", "error", err)
			}
		}()
	}

	n, err := s.Usage.Purge(ctx, s.RetentionDays)
	if err != nil {
		zap.S().Errorw("usage retention job failed",
			"instance", s.instanceID,
			"error", err)
		return n, false
	}
	zap.S().Infow("usage retention job complete",
		"instance", s.instanceID,
		"deleted", n)
	return n, true
}
