package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records security relevant account events such as logins,
// logouts and password resets.
type AuditLog struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	UserID    *string           `gorm:"size:36;index" json:"user_id"`
	Email     string            `gorm:"size:320" json:"email"`
	Action    string            `gorm:"not null;index" json:"action"`
	Result    string            `gorm:"not null" json:"result"`
	IPAddress string            `json:"ip_address"`
	UserAgent string            `json:"user_agent"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
