// Package models defines the persistent entities and the application error types.
package models

import (
	"time"
)

// User represents a platform user. Users are upserted at login from the
// judge's user.info endpoint and are never deleted.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Handle is the judge's unique user name, case-preserved as the judge
	// returns it.
	Handle string `gorm:"uniqueIndex;not null" json:"handle"`
	Rating int    `json:"rating"`
	Avatar string `json:"avatar"`
}
