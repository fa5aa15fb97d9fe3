package repository

import (
	"context"
	"errors"
	"time"

	"cfduel/internal/models"

	"gorm.io/gorm"
)

// ErrCodeTaken reports a room code collision on create. The caller retries
// with a fresh sample.
var ErrCodeTaken = errors.New("room code already taken")

// ErrAlreadyStarted reports a StartGame that lost the waiting→started race.
// The losing call must not touch the winner's problems or start instant.
var ErrAlreadyStarted = errors.New("room already started")

// RoomRepository defines persistence operations for rooms, their
// participants and their provisioned problems.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	GetByCode(ctx context.Context, code string) (*models.Room, error)
	ListByStatus(ctx context.Context, status models.RoomStatus) ([]models.Room, error)
	// ListByParticipant returns the rooms the user is seated in, optionally
	// restricted to the given statuses. It is the disconnect path's room
	// index: membership comes from the participants table, not from what
	// the closing connection happened to be subscribed to.
	ListByParticipant(ctx context.Context, userID uint, statuses ...models.RoomStatus) ([]models.Room, error)

	AddParticipant(ctx context.Context, roomID, userID uint) error
	// RemoveParticipant removes the membership row and, when the room
	// becomes empty, cascade-deletes the room in the same transaction.
	// Returns the remaining participants in join order and whether the
	// room was deleted.
	RemoveParticipant(ctx context.Context, roomID, userID uint) ([]models.RoomParticipant, bool, error)

	SetHost(ctx context.Context, roomID, hostID uint) error
	UpdateSettings(ctx context.Context, roomID uint, settings models.RoomSettings) error

	// StartGame atomically transitions the room waiting → started, records
	// the start instant and provisions the problems. Returns
	// ErrAlreadyStarted when the room was not in waiting.
	StartGame(ctx context.Context, roomID uint, problems []models.RoomProblem, startedAt time.Time) error
	// FinalizeRoom transitions started → ended. Returns false when the room
	// was not in started (already finalized or deleted), making the sweep
	// idempotent.
	FinalizeRoom(ctx context.Context, roomID uint) (bool, error)

	ListProblems(ctx context.Context, roomID uint) ([]models.RoomProblem, error)
	Delete(ctx context.Context, roomID uint) error
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository returns a new RoomRepository implementation.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrCodeTaken
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *roomRepository) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, id ASC")
		}).
		Preload("Participants.User").
		Preload("Problems").
		Preload("Host").
		Where("code = ?", code).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Room", code)
		}
		return nil, models.NewInternalError(err)
	}
	return &room, nil
}

func (r *roomRepository) ListByStatus(ctx context.Context, status models.RoomStatus) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, id ASC")
		}).
		Preload("Participants.User").
		Preload("Problems").
		Where("status = ?", status).
		Find(&rooms).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return rooms, nil
}

func (r *roomRepository) ListByParticipant(ctx context.Context, userID uint, statuses ...models.RoomStatus) ([]models.Room, error) {
	var rooms []models.Room
	q := r.db.WithContext(ctx).
		Joins("JOIN room_participants ON room_participants.room_id = rooms.id").
		Where("room_participants.user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("rooms.status IN ?", statuses)
	}
	if err := q.Find(&rooms).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return rooms, nil
}

func (r *roomRepository) AddParticipant(ctx context.Context, roomID, userID uint) error {
	participant := models.RoomParticipant{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&participant).Error; err != nil {
		// Rejoining an occupied seat is a no-op.
		if isUniqueConstraintError(err) {
			return nil
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *roomRepository) RemoveParticipant(ctx context.Context, roomID, userID uint) ([]models.RoomParticipant, bool, error) {
	var remaining []models.RoomParticipant
	deleted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ? AND user_id = ?", roomID, userID).
			Delete(&models.RoomParticipant{}).Error; err != nil {
			return err
		}

		if err := tx.Preload("User").
			Where("room_id = ?", roomID).
			Order("joined_at ASC, id ASC").
			Find(&remaining).Error; err != nil {
			return err
		}

		if len(remaining) == 0 {
			deleted = true
			return cascadeDeleteRoom(tx, roomID)
		}
		return nil
	})
	if err != nil {
		return nil, false, models.NewInternalError(err)
	}
	return remaining, deleted, nil
}

// cascadeDeleteRoom removes the room and everything it owns. Explicit
// deletes rather than relying on database-level cascade so the behavior
// is identical across drivers.
func cascadeDeleteRoom(tx *gorm.DB, roomID uint) error {
	if err := tx.Where("room_id = ?", roomID).Delete(&models.Score{}).Error; err != nil {
		return err
	}
	if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomProblem{}).Error; err != nil {
		return err
	}
	if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomParticipant{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Room{}, roomID).Error
}

func (r *roomRepository) SetHost(ctx context.Context, roomID, hostID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("host_id", hostID).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *roomRepository) UpdateSettings(ctx context.Context, roomID uint, settings models.RoomSettings) error {
	err := r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"min_rating":       settings.MinRating,
			"max_rating":       settings.MaxRating,
			"question_count":   settings.QuestionCount,
			"duration_minutes": settings.DurationMinutes,
		}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *roomRepository) StartGame(ctx context.Context, roomID uint, problems []models.RoomProblem, startedAt time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Status guard first: a concurrent start must lose here, before it
		// can clobber the winner's problems or start instant.
		result := tx.Model(&models.Room{}).
			Where("id = ? AND status = ?", roomID, models.RoomWaiting).
			Updates(map[string]interface{}{
				"status":     models.RoomStarted,
				"started_at": startedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyStarted
		}

		if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomProblem{}).Error; err != nil {
			return err
		}
		for i := range problems {
			problems[i].RoomID = roomID
		}
		return tx.Create(&problems).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyStarted) {
			return ErrAlreadyStarted
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *roomRepository) FinalizeRoom(ctx context.Context, roomID uint) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND status = ?", roomID, models.RoomStarted).
		Update("status", models.RoomEnded)
	if result.Error != nil {
		return false, models.NewInternalError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *roomRepository) ListProblems(ctx context.Context, roomID uint) ([]models.RoomProblem, error) {
	var problems []models.RoomProblem
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("base_points ASC").
		Find(&problems).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return problems, nil
}

func (r *roomRepository) Delete(ctx context.Context, roomID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return cascadeDeleteRoom(tx, roomID)
	})
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
