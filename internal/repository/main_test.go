package repository

import (
	"context"
	"testing"
	"time"

	"cfduel/internal/database"
	"cfduel/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.ConnectTest()
	require.NoError(t, err)
	return db
}

func seedUser(t *testing.T, db *gorm.DB, handle string) models.User {
	t.Helper()
	user := models.User{Handle: handle, Rating: 1500}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedRoom(t *testing.T, db *gorm.DB, code string, hostID uint) models.Room {
	t.Helper()
	room := models.Room{
		Code:            code,
		HostID:          hostID,
		MinRating:       800,
		MaxRating:       1600,
		QuestionCount:   models.DefaultQuestionCount,
		DurationMinutes: models.DefaultDurationMinutes,
		Status:          models.RoomWaiting,
	}
	require.NoError(t, db.Create(&room).Error)
	return room
}

func addParticipant(t *testing.T, db *gorm.DB, roomID, userID uint, joinedAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.RoomParticipant{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: joinedAt,
	}).Error)
}

func testCtx() context.Context {
	return context.Background()
}
