package repository

import (
	"context"

	"github.com/huangang/crmbridge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialRepository persists CRM credential records keyed by username.
type CredentialRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.CredentialRecord, error)
	// Upsert inserts rec or overwrites the token fields of the existing row
	// for rec.Username, returning the stored record.
	Upsert(ctx context.Context, rec *models.CredentialRecord) (*models.CredentialRecord, error)
	// Update overwrites the token fields of the row identified by rec.ID.
	Update(ctx context.Context, rec *models.CredentialRecord) error
}

type GormCredentialRepository struct {
	db *gorm.DB
}

func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) FindByUsername(ctx context.Context, username string) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (r *GormCredentialRepository) Upsert(ctx context.Context, rec *models.CredentialRecord) (*models.CredentialRecord, error) {
	row := *rec
	row.ID = 0
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "expires_in", "refreshed_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return r.FindByUsername(ctx, rec.Username)
}

func (r *GormCredentialRepository) Update(ctx context.Context, rec *models.CredentialRecord) error {
	result := r.db.WithContext(ctx).Model(&models.CredentialRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"access_token":  rec.AccessToken,
			"refresh_token": rec.RefreshToken,
			"expires_in":    rec.ExpiresIn,
			"refreshed_at":  rec.RefreshedAt,
			"updated_at":    rec.UpdatedAt,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
