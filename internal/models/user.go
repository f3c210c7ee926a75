package models

import "time"

// User is an application user, distinct from the CRM identity.
type User struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Username      string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	// Password holds the bcrypt hash.
	Password      string     `gorm:"size:255;not null" json:"-"`
	// UserAccountID is the CRM portal id webhooks are routed by.
	UserAccountID *string    `gorm:"uniqueIndex;size:64" json:"user_account_id,omitempty"`
	IsActive      bool       `gorm:"default:true" json:"is_active"`
	LastLogin     *time.Time `json:"last_login"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }
