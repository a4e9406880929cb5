package models

import (
	"time"
)

// CacheEntry backs the SQL rate-limit store when Redis is not configured.
// Value holds the decimal counter for the current window.
type CacheEntry struct {
	Key       string `gorm:"primaryKey;size:256"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
