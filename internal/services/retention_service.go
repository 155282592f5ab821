package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/store"
	"github.com/stitts-dev/race-sim/pkg/cache"
)

// RetentionService prunes stored runs older than the retention window on a
// cron schedule.
type RetentionService struct {
	repo      *store.Repository
	cache     *cache.ResultCacheService
	logger    *logrus.Logger
	cron      *cron.Cron
	schedule  string
	retention time.Duration
	now       func() time.Time

	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time
	lastCount int
}

func NewRetentionService(repo *store.Repository, resultCache *cache.ResultCacheService, logger *logrus.Logger, schedule string, retention time.Duration) *RetentionService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RetentionService{
		repo:      repo,
		cache:     resultCache,
		logger:    logger,
		cron:      cron.New(),
		schedule:  schedule,
		retention: retention,
		now:       time.Now,
	}
}

// Start schedules the pruning job.
func (s *RetentionService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("retention service is already running")
	}
	if s.retention <= 0 {
		return fmt.Errorf("run retention must be positive, got %s", s.retention)
	}
	if _, err := s.cron.AddFunc(s.schedule, s.prune); err != nil {
		return fmt.Errorf("failed to schedule run pruning: %w", err)
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithFields(logrus.Fields{
		"schedule":  s.schedule,
		"retention": s.retention.String(),
	}).Info("Retention service started")
	return nil
}

func (s *RetentionService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.logger.Info("Retention service stopped")
}

func (s *RetentionService) prune() {
	if _, err := s.Prune(context.Background()); err != nil {
		s.logger.WithError(err).Error("Scheduled run pruning failed")
	}
}

// Prune deletes runs that finished before now minus the retention window
// and drops their cached results. It returns how many runs were removed.
func (s *RetentionService) Prune(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	ids, err := s.repo.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	for _, id := range ids {
		if err := s.cache.InvalidateRun(ctx, id); err != nil {
			s.logger.WithError(err).WithField("run_id", id).Warn("Failed to invalidate cached run")
		}
	}
	n := len(ids)

	s.mu.Lock()
	s.lastRun = s.now()
	s.lastCount = n
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"cutoff":  cutoff,
		"deleted": n,
	}).Info("Pruned expired runs")
	return n, nil
}

func (s *RetentionService) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	nextRuns := make([]time.Time, 0, len(entries))
	for _, entry := range entries {
		nextRuns = append(nextRuns, entry.Next)
	}
	return map[string]interface{}{
		"is_running":   s.isRunning,
		"schedule":     s.schedule,
		"retention":    s.retention.String(),
		"next_runs":    nextRuns,
		"last_run":     s.lastRun,
		"last_deleted": s.lastCount,
	}
}
