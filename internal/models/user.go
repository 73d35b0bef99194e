package models

import (
	"strings"
	"time"
)

// User is an account known to the identity service.
type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"uid"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName  *string   `json:"displayName"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// Name returns the display name or DefaultUserName when none is set.
func (u *User) Name() string {
	if u.DisplayName != nil {
		if n := strings.TrimSpace(*u.DisplayName); n != "" {
			return n
		}
	}
	return DefaultUserName
}
