// Package realtime implements the WebSocket fan-out layer: per-connection
// sessions, the room-topic hub, game runtimes with the authoritative end
// timer, and disconnect grace tickets.
package realtime

import (
	"encoding/json"
	"time"

	"cfduel/internal/models"
	"cfduel/internal/scoring"
)

// Event types pushed to clients.
const (
	EventConnectionSuccess  = "connection-success"
	EventRoomUpdate         = "room-update"
	EventPlayerLeft         = "player-left"
	EventPlayerDisconnected = "player-disconnected"
	EventPlayerReconnected  = "player-reconnected"
	EventHostChanged        = "host-changed"
	EventGameStarting       = "game-starting"
	EventGameStarted        = "game-started"
	EventTimerSync          = "timer-sync"
	EventProblemSolved      = "problem-solved"
	EventProblemNotSolved   = "problem-not-solved"
	EventLeaderboardUpdate  = "leaderboard-update"
	EventGameEnded          = "game-ended"
	EventError              = "error"
)

// Event is one message on the duplex channel, in both directions.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Critical reports whether the event carries unique-fact information that
// must never be dropped under backpressure.
func (e Event) Critical() bool {
	return e.Type == EventProblemSolved || e.Type == EventGameStarted
}

// Marshal encodes the event for the wire. A marshal failure is a
// programming error; it returns nil and the caller skips the send.
func (e Event) Marshal() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return b
}

// RoomSnapshot is the room state payload used by room-update and
// connection-success.
type RoomSnapshot struct {
	Code         string              `json:"roomCode"`
	HostID       uint                `json:"hostId"`
	Status       models.RoomStatus   `json:"status"`
	Settings     models.RoomSettings `json:"settings"`
	Participants []ParticipantInfo   `json:"participants"`
	StartedAt    *time.Time          `json:"startTime,omitempty"`
}

// ParticipantInfo is one participant inside a RoomSnapshot.
type ParticipantInfo struct {
	UserID uint   `json:"id"`
	Handle string `json:"handle"`
	Avatar string `json:"avatar"`
	Rating int    `json:"rating"`
}

// SnapshotRoom builds the wire payload for a room.
func SnapshotRoom(room *models.Room) RoomSnapshot {
	participants := make([]ParticipantInfo, 0, len(room.Participants))
	for _, p := range room.Participants {
		participants = append(participants, ParticipantInfo{
			UserID: p.UserID,
			Handle: p.User.Handle,
			Avatar: p.User.Avatar,
			Rating: p.User.Rating,
		})
	}
	return RoomSnapshot{
		Code:         room.Code,
		HostID:       room.HostID,
		Status:       room.Status,
		Settings:     room.Settings(),
		Participants: participants,
		StartedAt:    room.StartedAt,
	}
}

// NewRoomUpdateEvent carries the full room snapshot after a membership or
// settings change.
func NewRoomUpdateEvent(room *models.Room) Event {
	return Event{Type: EventRoomUpdate, Payload: SnapshotRoom(room)}
}

// NewConnectionSuccessEvent greets a freshly registered session.
func NewConnectionSuccessEvent(userID uint, handle string) Event {
	return Event{Type: EventConnectionSuccess, Payload: map[string]interface{}{
		"userId": userID,
		"handle": handle,
	}}
}

// NewPlayerLeftEvent announces an explicit leave.
func NewPlayerLeftEvent(userID uint, handle string) Event {
	return Event{Type: EventPlayerLeft, Payload: map[string]interface{}{
		"userId": userID,
		"handle": handle,
	}}
}

// NewPlayerDisconnectedEvent announces a dropped connection, with the grace
// window (in seconds) the player has to come back.
func NewPlayerDisconnectedEvent(userID uint, handle string, grace time.Duration) Event {
	return Event{Type: EventPlayerDisconnected, Payload: map[string]interface{}{
		"userId":      userID,
		"handle":      handle,
		"gracePeriod": int(grace.Seconds()),
	}}
}

// NewPlayerReconnectedEvent announces a reconnect inside the grace window.
func NewPlayerReconnectedEvent(userID uint, handle string) Event {
	return Event{Type: EventPlayerReconnected, Payload: map[string]interface{}{
		"userId": userID,
		"handle": handle,
	}}
}

// NewHostChangedEvent announces a host transfer.
func NewHostChangedEvent(code string, newHost ParticipantInfo, previousHost string) Event {
	return Event{Type: EventHostChanged, Payload: map[string]interface{}{
		"roomCode":     code,
		"newHost":      newHost,
		"previousHost": previousHost,
	}}
}

// NewGameStartingEvent is the immediate acknowledgment before problem
// provisioning; clients show a countdown spinner on it.
func NewGameStartingEvent(code string) Event {
	return Event{Type: EventGameStarting, Payload: map[string]interface{}{
		"roomCode": code,
	}}
}

// ProblemInfo is one provisioned problem on the wire.
type ProblemInfo struct {
	ContestID    int    `json:"contestId"`
	ProblemIndex string `json:"index"`
	Rating       int    `json:"rating"`
	BasePoints   int    `json:"basePoints"`
	MinPoints    int    `json:"minPoints"`
}

// NewGameStartedEvent carries the provisioned problems and the
// authoritative clock parameters.
func NewGameStartedEvent(code string, problems []models.RoomProblem, startedAt time.Time, duration time.Duration) Event {
	infos := make([]ProblemInfo, 0, len(problems))
	for _, p := range problems {
		infos = append(infos, ProblemInfo{
			ContestID:    p.ContestID,
			ProblemIndex: p.ProblemIndex,
			Rating:       p.Rating,
			BasePoints:   p.BasePoints,
			MinPoints:    p.MinPoints,
		})
	}
	return Event{Type: EventGameStarted, Payload: map[string]interface{}{
		"roomCode":  code,
		"problems":  infos,
		"startTime": startedAt,
		"duration":  int(duration.Minutes()),
	}}
}

// NewTimerSyncEvent re-anchors client countdowns to the server clock.
// serverTime is epoch milliseconds.
func NewTimerSyncEvent(code string, remaining time.Duration, endsAt time.Time) Event {
	return Event{Type: EventTimerSync, Payload: map[string]interface{}{
		"roomCode":    code,
		"remainingMs": remaining.Milliseconds(),
		"endsAt":      endsAt,
		"serverTime":  time.Now().UnixMilli(),
	}}
}

// NewProblemSolvedEvent announces a verified solve to the whole room.
func NewProblemSolvedEvent(userID uint, handle string, contestID int, index string, points int) Event {
	return Event{Type: EventProblemSolved, Payload: map[string]interface{}{
		"userId":    userID,
		"handle":    handle,
		"contestId": contestID,
		"index":     index,
		"points":    points,
	}}
}

// NewProblemNotSolvedEvent tells the requester their check found no
// qualifying submission.
func NewProblemNotSolvedEvent(contestID int, index string, reason string) Event {
	return Event{Type: EventProblemNotSolved, Payload: map[string]interface{}{
		"contestId": contestID,
		"index":     index,
		"reason":    reason,
	}}
}

// NewLeaderboardUpdateEvent carries the freshly projected standings.
func NewLeaderboardUpdateEvent(code string, entries []scoring.Entry) Event {
	return Event{Type: EventLeaderboardUpdate, Payload: map[string]interface{}{
		"roomCode":    code,
		"leaderboard": entries,
	}}
}

// NewGameEndedEvent carries the final standings. The winner is the top
// entry, or null when nobody scored.
func NewGameEndedEvent(code string, entries []scoring.Entry) Event {
	var winner interface{}
	if len(entries) > 0 {
		winner = entries[0]
	}
	return Event{Type: EventGameEnded, Payload: map[string]interface{}{
		"roomCode":    code,
		"leaderboard": entries,
		"winner":      winner,
	}}
}

// NewErrorEvent reports a failed inbound operation to the requester only.
func NewErrorEvent(code, message string) Event {
	return Event{Type: EventError, Payload: map[string]interface{}{
		"code":    code,
		"message": message,
	}}
}
