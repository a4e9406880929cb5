package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is a server-side login record. The opaque Token is the only
// credential a client holds; IPAddress and UserAgent are empty when unknown.
type Session struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Token      string    `gorm:"uniqueIndex;size:128;not null" json:"-"`
	UserID     string    `gorm:"size:36;not null;index" json:"user_id"`
	User       *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	IPAddress  string    `gorm:"size:64;index" json:"ip_address,omitempty"`
	UserAgent  string    `gorm:"size:512" json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsExpired reports whether the session is no longer valid at now. A session
// is valid only while its expiry lies strictly in the future.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
