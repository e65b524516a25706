package users

import (
	"strings"
	"time"
)

// SystemAuthorName labels activities that have no human author.
const SystemAuthorName = "System"

// Identity maps a provider login onto a canonical ProspectFlow user id.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// User is the resolved actor of a request.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// Label returns the best human readable name for the user.
func (u User) Label() string {
	if name := normalize(u.DisplayName); name != "" {
		return name
	}
	if email := normalize(u.Email); email != "" {
		return email
	}
	return u.ID
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
