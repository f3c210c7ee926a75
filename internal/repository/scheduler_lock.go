package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huangang/crmbridge/internal/models"
	"gorm.io/gorm"
)

// SchedulerLockRepository claims scheduler windows across instances.
type SchedulerLockRepository interface {
	// TryAcquire reports whether owner now holds (name, key) until now+ttl.
	TryAcquire(ctx context.Context, name, key, owner string, now time.Time, ttl time.Duration) (bool, error)
}

type GormSchedulerLockRepository struct {
	db *gorm.DB
}

func NewGormSchedulerLockRepository(db *gorm.DB) *GormSchedulerLockRepository {
	return &GormSchedulerLockRepository{db: db}
}

func (r *GormSchedulerLockRepository) TryAcquire(ctx context.Context, name, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	db := r.db.WithContext(ctx)
	if err := db.Where("lock_name = ? AND lock_key = ? AND expires_at <= ?", name, key, now).
		Delete(&models.SchedulerLock{}).Error; err != nil {
		return false, translate(err)
	}

	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  owner,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	err := translate(db.Create(&lock).Error)
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

// MemorySchedulerLockRepository is an in-process SchedulerLockRepository.
type MemorySchedulerLockRepository struct {
	mu    sync.Mutex
	locks map[string]models.SchedulerLock
}

func NewMemorySchedulerLockRepository() *MemorySchedulerLockRepository {
	return &MemorySchedulerLockRepository{locks: make(map[string]models.SchedulerLock)}
}

func (r *MemorySchedulerLockRepository) TryAcquire(_ context.Context, name, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := name + "/" + key
	if held, ok := r.locks[id]; ok && now.Before(held.ExpiresAt) {
		return false, nil
	}
	r.locks[id] = models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  owner,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return true, nil
}
