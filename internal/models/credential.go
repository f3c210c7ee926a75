package models

import "time"

// CredentialRecord stores the CRM OAuth token pair for one application user.
// AccessToken and RefreshToken always hold ciphertext.
type CredentialRecord struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	AccessToken  string     `gorm:"type:text;not null" json:"-"`
	RefreshToken string     `gorm:"type:text;not null" json:"-"`
	ExpiresIn    int64      `gorm:"not null" json:"expires_in"` // seconds
	RefreshedAt  *time.Time `json:"refreshed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (CredentialRecord) TableName() string { return "crm_credentials" }

// IssuedAt is the most recent refresh, or creation time if never refreshed.
func (r CredentialRecord) IssuedAt() time.Time {
	if r.RefreshedAt != nil {
		return *r.RefreshedAt
	}
	return r.CreatedAt
}

// ExpiresAt is IssuedAt plus the granted lifetime.
func (r CredentialRecord) ExpiresAt() time.Time {
	return r.IssuedAt().Add(time.Duration(r.ExpiresIn) * time.Second)
}

// ExpiredAt reports whether the access token is expired at now.
// The expiry instant itself is still valid.
func (r CredentialRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt())
}
