package models

import (
	"time"
)

// RoomStatus defines the lifecycle state of a room.
type RoomStatus string

const (
	// RoomWaiting indicates the room is in the lobby, before the game starts.
	RoomWaiting RoomStatus = "waiting"
	// RoomStarted indicates a game is in progress.
	RoomStarted RoomStatus = "started"
	// RoomEnded indicates the game has been finalized.
	RoomEnded RoomStatus = "ended"
)

// Server-fixed room settings. Client-supplied values for question count and
// duration are silently coerced to these.
const (
	DefaultQuestionCount   = 2
	DefaultDurationMinutes = 15
)

// RoomCodeLength is the length of the public room identifier.
const RoomCodeLength = 6

// RoomCodeAlphabet is the character set room codes are sampled from.
const RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomSettings is the client-facing settings payload.
type RoomSettings struct {
	MinRating       int `json:"minRating"`
	MaxRating       int `json:"maxRating"`
	QuestionCount   int `json:"questionCount"`
	DurationMinutes int `json:"duration"`
}

// Room is a short-lived container of participants identified by a 6-char code.
// A room owns its participants, problems and scores; they are cascade-deleted
// with it.
type Room struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Code            string     `gorm:"uniqueIndex;size:6;not null" json:"code"`
	HostID          uint       `gorm:"not null" json:"host_id"`
	MinRating       int        `gorm:"not null" json:"min_rating"`
	MaxRating       int        `gorm:"not null" json:"max_rating"`
	QuestionCount   int        `gorm:"not null;default:2" json:"question_count"`
	DurationMinutes int        `gorm:"not null;default:15" json:"duration_minutes"`
	Status          RoomStatus `gorm:"not null;default:'waiting'" json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`

	Host         User              `gorm:"foreignKey:HostID" json:"host,omitempty"`
	Participants []RoomParticipant `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
	Problems     []RoomProblem     `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"problems,omitempty"`
}

// Duration returns the configured game duration.
func (r *Room) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// EndsAt returns the instant the game timer expires. Only meaningful when
// StartedAt is set.
func (r *Room) EndsAt() time.Time {
	if r.StartedAt == nil {
		return time.Time{}
	}
	return r.StartedAt.Add(r.Duration())
}

// HasParticipant reports whether the user is in the room's participant set.
func (r *Room) HasParticipant(userID uint) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the participant user IDs in insertion order.
func (r *Room) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Settings returns the room's settings payload.
func (r *Room) Settings() RoomSettings {
	return RoomSettings{
		MinRating:       r.MinRating,
		MaxRating:       r.MaxRating,
		QuestionCount:   r.QuestionCount,
		DurationMinutes: r.DurationMinutes,
	}
}

// RoomParticipant is a membership row ordering participants by insertion.
type RoomParticipant struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	RoomID   uint      `gorm:"not null;index;uniqueIndex:idx_room_participant" json:"room_id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_room_participant" json:"user_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// RoomProblem is one of the problems provisioned for a room's game. The
// (ContestID, ProblemIndex) pair identifies the problem on the judge.
type RoomProblem struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	RoomID       uint   `gorm:"not null;index" json:"room_id"`
	ContestID    int    `gorm:"not null" json:"contestId"`
	ProblemIndex string `gorm:"not null;size:8" json:"index"`
	Rating       int    `gorm:"not null" json:"rating"`
	BasePoints   int    `gorm:"not null" json:"basePoints"`
	MinPoints    int    `gorm:"not null" json:"minPoints"`
}
