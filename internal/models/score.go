package models

import (
	"time"
)

// Score records a verified solve. At most one Score exists per
// (room, user, contestId, index); the composite unique index is the single
// source of truth for "already solved". Scores are immutable once inserted.
type Score struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RoomID       uint      `gorm:"not null;uniqueIndex:idx_score_claim;index" json:"room_id"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_score_claim" json:"user_id"`
	ContestID    int       `gorm:"not null;uniqueIndex:idx_score_claim" json:"contestId"`
	ProblemIndex string    `gorm:"not null;size:8;uniqueIndex:idx_score_claim" json:"index"`
	SolvedAt     time.Time `gorm:"not null" json:"solved_at"`
	Points       int       `gorm:"not null" json:"points"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
