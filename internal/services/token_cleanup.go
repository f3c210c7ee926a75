package services

import (
	"context"
	"time"

	"github.com/huangang/crmbridge/internal/repository"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/robfig/cron/v3"
)

const (
	DefaultCleanupSchedule = "@every 1h"
	cleanupTimeout         = 30 * time.Second
	cleanupLockName        = "token_cleanup"
	cleanupWindow          = time.Hour
)

// TokenPruner is satisfied by *AuthService.
type TokenPruner interface {
	PruneExpiredTokens(ctx context.Context) (int64, error)
}

// TokenCleanupService periodically deletes expired session refresh tokens.
type TokenCleanupService struct {
	pruner        TokenPruner
	schedule      string
	locks         repository.SchedulerLockRepository
	owner         string
	now           func() time.Time
	cronScheduler *cron.Cron
	entryID       cron.EntryID
}

func NewTokenCleanupService(pruner TokenPruner, schedule string) *TokenCleanupService {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	return &TokenCleanupService{pruner: pruner, schedule: schedule, now: time.Now}
}

// WithLock makes every run claim the current hourly window first, so only
// one instance prunes per window.
func (s *TokenCleanupService) WithLock(locks repository.SchedulerLockRepository, owner string) *TokenCleanupService {
	s.locks = locks
	s.owner = owner
	return s
}

func (s *TokenCleanupService) WithClock(now func() time.Time) *TokenCleanupService {
	s.now = now
	return s
}

func (s *TokenCleanupService) Start() error {
	s.cronScheduler = cron.New()
	entryID, err := s.cronScheduler.AddFunc(s.schedule, func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	s.entryID = entryID
	s.cronScheduler.Start()
	logger.Infof("[TokenCleanup] Scheduler started (%s)", s.schedule)
	return nil
}

func (s *TokenCleanupService) Stop() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

// RunOnce prunes immediately and returns the number of removed tokens.
func (s *TokenCleanupService) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	if s.locks != nil {
		now := s.now().UTC()
		key := now.Truncate(cleanupWindow).Format("2006010215")
		acquired, err := s.locks.TryAcquire(ctx, cleanupLockName, key, s.owner, now, cleanupWindow)
		if err != nil {
			logger.Errorf("[TokenCleanup] Lock failed: %v", err)
			return 0
		}
		if !acquired {
			logger.Debug().Str("window", key).Msg("[TokenCleanup] Window claimed by another instance")
			return 0
		}
	}

	removed, err := s.pruner.PruneExpiredTokens(ctx)
	if err != nil {
		logger.Errorf("[TokenCleanup] Prune failed: %v", err)
		return 0
	}
	if removed > 0 {
		logger.Infof("[TokenCleanup] Removed %d expired refresh tokens", removed)
	}
	return removed
}
