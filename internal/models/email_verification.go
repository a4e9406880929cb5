package models

import "time"

// EmailVerification stores the sha256 digest of a pending verification token.
type EmailVerification struct {
	BaseModel

	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	TokenHash string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
