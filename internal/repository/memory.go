package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/huangang/crmbridge/internal/models"
)

// MemoryCredentialRepository is an in-process CredentialRepository.
type MemoryCredentialRepository struct {
	mu     sync.Mutex
	nextID uint
	byUser map[string]models.CredentialRecord
	now    func() time.Time
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		byUser: make(map[string]models.CredentialRecord),
		now:    time.Now,
	}
}

func (r *MemoryCredentialRepository) FindByUsername(_ context.Context, username string) (*models.CredentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byUser[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryCredentialRepository) Upsert(_ context.Context, rec *models.CredentialRecord) (*models.CredentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byUser[rec.Username]
	if !ok {
		r.nextID++
		stored = models.CredentialRecord{
			ID:        r.nextID,
			Username:  rec.Username,
			CreatedAt: rec.CreatedAt,
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = r.now()
		}
	}
	stored.AccessToken = rec.AccessToken
	stored.RefreshToken = rec.RefreshToken
	stored.ExpiresIn = rec.ExpiresIn
	stored.RefreshedAt = copyTime(rec.RefreshedAt)
	stored.UpdatedAt = rec.UpdatedAt
	r.byUser[rec.Username] = stored

	out := stored
	return &out, nil
}

func (r *MemoryCredentialRepository) Update(_ context.Context, rec *models.CredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for username, stored := range r.byUser {
		if stored.ID != rec.ID {
			continue
		}
		stored.AccessToken = rec.AccessToken
		stored.RefreshToken = rec.RefreshToken
		stored.ExpiresIn = rec.ExpiresIn
		stored.RefreshedAt = copyTime(rec.RefreshedAt)
		stored.UpdatedAt = rec.UpdatedAt
		r.byUser[username] = stored
		return nil
	}
	return ErrNotFound
}

// MemoryUserRepository is an in-process UserRepository.
type MemoryUserRepository struct {
	mu          sync.Mutex
	nextUserID  uint
	nextTokenID uint
	users       map[uint]models.User
	tokens      map[uint][]models.SessionRefreshToken // oldest first
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:  make(map[uint]models.User),
		tokens: make(map[uint][]models.SessionRefreshToken),
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == user.Username {
			return ErrConflict
		}
		if user.UserAccountID != nil && u.UserAccountID != nil && *u.UserAccountID == *user.UserAccountID {
			return ErrConflict
		}
	}

	r.nextUserID++
	user.ID = r.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.IsActive && u.Username == username })
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id uint) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.ID == id })
}

func (r *MemoryUserRepository) FindByAccountID(_ context.Context, accountID string) (*models.User, error) {
	return r.find(func(u models.User) bool {
		return u.IsActive && u.UserAccountID != nil && *u.UserAccountID == accountID
	})
}

func (r *MemoryUserRepository) find(match func(models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if match(u) {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) UpdateLastLogin(_ context.Context, id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = copyTime(&at)
	u.UpdatedAt = at
	r.users[id] = u
	return nil
}

// SetActive toggles a user's active flag.
func (r *MemoryUserRepository) SetActive(id uint, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[id]; ok {
		u.IsActive = active
		r.users[id] = u
	}
}

func (r *MemoryUserRepository) AddRefreshToken(_ context.Context, userID uint, token models.SessionRefreshToken, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.appendCapped(userID, token, max)
}

func (r *MemoryUserRepository) FindByRefreshToken(_ context.Context, tokenHash string, now time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, list := range r.tokens {
		for _, t := range list {
			if t.TokenHash != tokenHash || !t.ExpiresAt.After(now) {
				continue
			}
			u, ok := r.users[userID]
			if !ok || !u.IsActive {
				return nil, ErrNotFound
			}
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) RotateRefreshToken(_ context.Context, userID uint, oldHash string, next models.SessionRefreshToken, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.tokens[userID]
	idx := -1
	for i, t := range list {
		if t.TokenHash == oldHash {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	r.tokens[userID] = append(list[:idx:idx], list[idx+1:]...)
	return r.appendCapped(userID, next, max)
}

func (r *MemoryUserRepository) RemoveRefreshToken(_ context.Context, userID uint, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.tokens[userID]
	kept := list[:0:0]
	for _, t := range list {
		if t.TokenHash != tokenHash {
			kept = append(kept, t)
		}
	}
	r.tokens[userID] = kept
	return nil
}

func (r *MemoryUserRepository) ListRefreshTokens(_ context.Context, userID uint) ([]models.SessionRefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SessionRefreshToken, len(r.tokens[userID]))
	copy(out, r.tokens[userID])
	return out, nil
}

func (r *MemoryUserRepository) PruneExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for userID, list := range r.tokens {
		kept := list[:0:0]
		for _, t := range list {
			if t.ExpiresAt.After(now) {
				kept = append(kept, t)
			} else {
				removed++
			}
		}
		r.tokens[userID] = kept
	}
	return removed, nil
}

func (r *MemoryUserRepository) appendCapped(userID uint, token models.SessionRefreshToken, max int) error {
	for _, list := range r.tokens {
		for _, t := range list {
			if t.TokenHash == token.TokenHash {
				return ErrConflict
			}
		}
	}

	list := r.tokens[userID]
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if keep := max - 1; len(list) > keep {
		if keep < 0 {
			keep = 0
		}
		list = list[len(list)-keep:]
	}

	r.nextTokenID++
	token.ID = r.nextTokenID
	token.UserID = userID
	r.tokens[userID] = append(append([]models.SessionRefreshToken(nil), list...), token)
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
