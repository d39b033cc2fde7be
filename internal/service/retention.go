package service

import (
	"context"
	"time"

	"waflow/internal/constants"

	"github.com/sirupsen/logrus"
)

// RetentionStore is the slice of storage the retention sweeps use.
type RetentionStore interface {
	CleanupProcessedRawEvents(ctx context.Context, olderThan time.Time) (int64, error)
	FailStalePendingMessages(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionService periodically deletes processed raw events past the
// retention window and fails outbound messages stuck in PENDING. A
// dispatch job that exhausts its attempts is dropped by the queue without
// a callback; the sweep is what finally surfaces those messages as FAILED.
type RetentionService struct {
	db            RetentionStore
	retentionDays int
	staleAfter    time.Duration
	interval      time.Duration
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewRetentionService(db RetentionStore, retentionDays, intervalHours int, logger *logrus.Logger) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if intervalHours <= 0 {
		intervalHours = constants.DefaultRetentionSweepHours
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RetentionService{
		db:            db,
		retentionDays: retentionDays,
		staleAfter:    constants.DefaultStalePendingMinutes * time.Minute,
		interval:      time.Duration(intervalHours) * time.Hour,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *RetentionService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting retention sweeper")

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Retention sweeper stop signal received, stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *RetentionService) Stop() {
	close(s.stopCh)
}

// runSweep executes one pass of both sweeps. Errors are logged, never
// returned; the next tick retries.
func (s *RetentionService) runSweep(ctx context.Context) {
	now := time.Now().UTC()

	removed, err := s.db.CleanupProcessedRawEvents(ctx, now.AddDate(0, 0, -s.retentionDays))
	if err != nil {
		s.logger.WithError(err).Error("Failed to clean up processed raw events")
	} else if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed":        removed,
			"retention_days": s.retentionDays,
		}).Info("Removed processed raw events past retention")
	}

	failed, err := s.db.FailStalePendingMessages(ctx, now.Add(-s.staleAfter))
	if err != nil {
		s.logger.WithError(err).Error("Failed to sweep stale pending messages")
	} else if failed > 0 {
		s.logger.WithField("failed", failed).Warn("Marked stale pending messages as failed")
	}
}
