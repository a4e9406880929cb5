package models

import "strings"

// User is a registered reader. Email is stored lower-cased and is unique.
type User struct {
	BaseModel

	Email         string `gorm:"uniqueIndex;size:320;not null" json:"email"`
	PasswordHash  string `gorm:"not null" json:"-"`
	Name          string `gorm:"size:255" json:"name"`
	EmailVerified bool   `gorm:"not null;default:false" json:"email_verified"`

	Sessions []Session `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// NormalizeEmail trims and lower-cases an address so lookups and the unique
// index agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
