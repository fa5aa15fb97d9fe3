// Package service implements the business logic between the transport
// handlers and the repositories.
package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"cfduel/internal/models"
	"cfduel/internal/realtime"
	"cfduel/internal/repository"
	"cfduel/internal/validation"
)

// maxCodeAttempts bounds the rejection-sampling loop for room codes. With
// a 36^6 space the loop effectively never exhausts this.
const maxCodeAttempts = 10

// Broadcaster is the hub surface the services need: topic fan-out plus
// game and grace timer control. Tests supply an in-memory fake.
type Broadcaster interface {
	Publish(code string, ev realtime.Event)
	StartGameRuntime(code string, startedAt time.Time, duration time.Duration)
	CancelGameRuntime(code string)
	CancelGrace(code string, userID uint) bool
	CancelRoomGraces(code string)
}

// RoomService provides lobby-side room logic: create, join, leave,
// settings and host transfer.
type RoomService struct {
	roomRepo    repository.RoomRepository
	broadcaster Broadcaster
}

// NewRoomService returns a new RoomService.
func NewRoomService(roomRepo repository.RoomRepository, broadcaster Broadcaster) *RoomService {
	return &RoomService{roomRepo: roomRepo, broadcaster: broadcaster}
}

// coerceSettings applies the server-fixed fields. Question count and
// duration are part of the server contract; client values are ignored.
func coerceSettings(settings models.RoomSettings) models.RoomSettings {
	settings.QuestionCount = models.DefaultQuestionCount
	settings.DurationMinutes = models.DefaultDurationMinutes
	return settings
}

func randomRoomCode() string {
	code := make([]byte, models.RoomCodeLength)
	for i := range code {
		code[i] = models.RoomCodeAlphabet[rand.Intn(len(models.RoomCodeAlphabet))]
	}
	return string(code)
}

func validateRatingBounds(settings models.RoomSettings) error {
	if err := validation.ValidateRatingBounds(settings.MinRating, settings.MaxRating); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}

// CreateRoom creates a room with a freshly sampled unique code and seats
// the host as its first participant.
func (s *RoomService) CreateRoom(ctx context.Context, hostID uint, settings models.RoomSettings) (*models.Room, error) {
	if err := validateRatingBounds(settings); err != nil {
		return nil, err
	}
	settings = coerceSettings(settings)

	var room *models.Room
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate := &models.Room{
			Code:            randomRoomCode(),
			HostID:          hostID,
			MinRating:       settings.MinRating,
			MaxRating:       settings.MaxRating,
			QuestionCount:   settings.QuestionCount,
			DurationMinutes: settings.DurationMinutes,
			Status:          models.RoomWaiting,
		}
		err := s.roomRepo.Create(ctx, candidate)
		if err == nil {
			room = candidate
			break
		}
		if !errors.Is(err, repository.ErrCodeTaken) {
			return nil, err
		}
	}
	if room == nil {
		return nil, models.NewInternalError(errors.New("room code space exhausted"))
	}

	if err := s.roomRepo.AddParticipant(ctx, room.ID, hostID); err != nil {
		return nil, err
	}
	return s.roomRepo.GetByCode(ctx, room.Code)
}

// JoinRoom seats the user in the room. Rejoining is a no-op. The whole
// room gets a fresh snapshot.
func (s *RoomService) JoinRoom(ctx context.Context, code string, userID uint) (*models.Room, error) {
	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.roomRepo.AddParticipant(ctx, room.ID, userID); err != nil {
		return nil, err
	}

	room, err = s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	s.broadcaster.Publish(code, realtime.NewRoomUpdateEvent(room))
	return room, nil
}

// LeaveRoom removes the user. An emptied room is cascade-deleted together
// with its timers; otherwise the host seat transfers when the host left a
// waiting room. Returns whether the room was deleted.
func (s *RoomService) LeaveRoom(ctx context.Context, code string, userID uint) (bool, error) {
	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return false, err
	}
	if !room.HasParticipant(userID) {
		return false, models.NewValidationError("You are not in this room")
	}

	var leaverHandle string
	for _, p := range room.Participants {
		if p.UserID == userID {
			leaverHandle = p.User.Handle
		}
	}

	// An explicit leave consumes any pending disconnect grace.
	s.broadcaster.CancelGrace(code, userID)

	remaining, deleted, err := s.roomRepo.RemoveParticipant(ctx, room.ID, userID)
	if err != nil {
		return false, err
	}

	if deleted {
		s.broadcaster.CancelGameRuntime(code)
		s.broadcaster.CancelRoomGraces(code)
		return true, nil
	}

	if room.HostID == userID && room.Status == models.RoomWaiting {
		newHost := remaining[0]
		if err := s.roomRepo.SetHost(ctx, room.ID, newHost.UserID); err != nil {
			return false, err
		}
		s.broadcaster.Publish(code, realtime.NewHostChangedEvent(code, realtime.ParticipantInfo{
			UserID: newHost.UserID,
			Handle: newHost.User.Handle,
			Avatar: newHost.User.Avatar,
			Rating: newHost.User.Rating,
		}, leaverHandle))
	}

	// Clients settle on the snapshot first, then the departure notice.
	updated, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return false, err
	}
	s.broadcaster.Publish(code, realtime.NewRoomUpdateEvent(updated))
	s.broadcaster.Publish(code, realtime.NewPlayerLeftEvent(userID, leaverHandle))
	return false, nil
}

// UpdateSettings changes the rating bounds. Host-only, lobby-only;
// server-fixed fields in the request are silently coerced.
func (s *RoomService) UpdateSettings(ctx context.Context, code string, byUserID uint, settings models.RoomSettings) (*models.Room, error) {
	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.HostID != byUserID {
		return nil, models.NewForbiddenError("Only the host can change settings")
	}
	if room.Status != models.RoomWaiting {
		return nil, models.NewConflictError("Settings are locked once the game starts")
	}
	if err := validateRatingBounds(settings); err != nil {
		return nil, err
	}

	if err := s.roomRepo.UpdateSettings(ctx, room.ID, coerceSettings(settings)); err != nil {
		return nil, err
	}

	updated, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	s.broadcaster.Publish(code, realtime.NewRoomUpdateEvent(updated))
	return updated, nil
}

// GetRoom loads a room snapshot.
func (s *RoomService) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	return s.roomRepo.GetByCode(ctx, code)
}
