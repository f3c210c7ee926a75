package models

import "time"

// SessionRefreshToken is one entry of a user's live refresh-token list.
// Only the sha256 of the token is stored.
type SessionRefreshToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	TokenHash string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (SessionRefreshToken) TableName() string { return "session_refresh_tokens" }
