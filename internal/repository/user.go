package repository

import (
	"context"
	"time"

	"github.com/huangang/crmbridge/internal/models"
	"gorm.io/gorm"
)

// UserRepository persists application users and their refresh-token lists.
// Lookups by username, account id and refresh token only see active users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByAccountID(ctx context.Context, accountID string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uint, at time.Time) error

	// AddRefreshToken appends a token, first evicting the oldest entries so
	// that at most max remain afterwards.
	AddRefreshToken(ctx context.Context, userID uint, token models.SessionRefreshToken, max int) error
	// FindByRefreshToken returns the owner of an unexpired token hash.
	FindByRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	// RotateRefreshToken atomically removes oldHash and appends next.
	// ErrNotFound means oldHash was no longer in the list.
	RotateRefreshToken(ctx context.Context, userID uint, oldHash string, next models.SessionRefreshToken, max int) error
	RemoveRefreshToken(ctx context.Context, userID uint, tokenHash string) error
	// ListRefreshTokens returns the list oldest first.
	ListRefreshTokens(ctx context.Context, userID uint) ([]models.SessionRefreshToken, error)
	PruneExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) Create(ctx context.Context, user *models.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *GormUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("username = ? AND is_active = ?", username, true).
		First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *GormUserRepository) FindByAccountID(ctx context.Context, accountID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("user_account_id = ? AND is_active = ?", accountID, true).
		First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *GormUserRepository) UpdateLastLogin(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_login": at, "updated_at": at})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormUserRepository) AddRefreshToken(ctx context.Context, userID uint, token models.SessionRefreshToken, max int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendCapped(tx, userID, token, max)
	})
}

func (r *GormUserRepository) FindByRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	var stored models.SessionRefreshToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", tokenHash, now).
		First(&stored).Error
	if err != nil {
		return nil, translate(err)
	}

	var user models.User
	err = r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", stored.UserID, true).
		First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *GormUserRepository) RotateRefreshToken(ctx context.Context, userID uint, oldHash string, next models.SessionRefreshToken, max int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND token_hash = ?", userID, oldHash).
			Delete(&models.SessionRefreshToken{})
		if result.Error != nil {
			return translate(result.Error)
		}
		// a concurrent rotation already consumed this token
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return appendCapped(tx, userID, next, max)
	})
}

func (r *GormUserRepository) RemoveRefreshToken(ctx context.Context, userID uint, tokenHash string) error {
	return translate(r.db.WithContext(ctx).
		Where("user_id = ? AND token_hash = ?", userID, tokenHash).
		Delete(&models.SessionRefreshToken{}).Error)
}

func (r *GormUserRepository) ListRefreshTokens(ctx context.Context, userID uint) ([]models.SessionRefreshToken, error) {
	var tokens []models.SessionRefreshToken
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&tokens).Error
	return tokens, translate(err)
}

func (r *GormUserRepository) PruneExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.SessionRefreshToken{})
	return result.RowsAffected, translate(result.Error)
}

// appendCapped keeps the newest max-1 tokens of the user and inserts token.
func appendCapped(tx *gorm.DB, userID uint, token models.SessionRefreshToken, max int) error {
	if max > 1 {
		var keep []uint
		err := tx.Model(&models.SessionRefreshToken{}).
			Where("user_id = ?", userID).
			Order("created_at DESC, id DESC").
			Limit(max-1).
			Pluck("id", &keep).Error
		if err != nil {
			return translate(err)
		}
		evict := tx.Where("user_id = ?", userID)
		if len(keep) > 0 {
			evict = evict.Where("id NOT IN ?", keep)
		}
		if err := evict.Delete(&models.SessionRefreshToken{}).Error; err != nil {
			return translate(err)
		}
	} else {
		if err := tx.Where("user_id = ?", userID).Delete(&models.SessionRefreshToken{}).Error; err != nil {
			return translate(err)
		}
	}

	token.ID = 0
	token.UserID = userID
	return translate(tx.Create(&token).Error)
}
