package repository

import (
	"context"
	"errors"

	"cfduel/internal/models"

	"gorm.io/gorm"
)

// ScoreRepository defines persistence operations for verified solves.
type ScoreRepository interface {
	// Insert persists a new score. Returns false when a score for the same
	// (room, user, contest, index) claim already exists; the database
	// uniqueness constraint is the single source of truth for that.
	Insert(ctx context.Context, score *models.Score) (bool, error)
	GetClaim(ctx context.Context, roomID, userID uint, contestID int, index string) (*models.Score, error)
	ListByRoom(ctx context.Context, roomID uint) ([]models.Score, error)
	ListByRoomAndUser(ctx context.Context, roomID, userID uint) ([]models.Score, error)
}

type scoreRepository struct {
	db *gorm.DB
}

// NewScoreRepository returns a new ScoreRepository implementation.
func NewScoreRepository(db *gorm.DB) ScoreRepository {
	return &scoreRepository{db: db}
}

func (r *scoreRepository) Insert(ctx context.Context, score *models.Score) (bool, error) {
	if err := r.db.WithContext(ctx).Create(score).Error; err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, models.NewInternalError(err)
	}
	return true, nil
}

func (r *scoreRepository) GetClaim(ctx context.Context, roomID, userID uint, contestID int, index string) (*models.Score, error) {
	var score models.Score
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ? AND contest_id = ? AND problem_index = ?",
			roomID, userID, contestID, index).
		First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &score, nil
}

func (r *scoreRepository) ListByRoom(ctx context.Context, roomID uint) ([]models.Score, error) {
	var scores []models.Score
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("room_id = ?", roomID).
		Order("solved_at ASC").
		Find(&scores).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return scores, nil
}

func (r *scoreRepository) ListByRoomAndUser(ctx context.Context, roomID, userID uint) ([]models.Score, error) {
	var scores []models.Score
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Order("solved_at ASC").
		Find(&scores).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return scores, nil
}
