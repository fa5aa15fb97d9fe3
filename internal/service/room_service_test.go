package service

import (
	"context"
	"regexp"
	"testing"

	"cfduel/internal/models"
	"cfduel/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreateRoomCoercesFixedSettings(t *testing.T) {
	h := newHarness(t)
	host := h.seedUser(t, "alice")

	room, err := h.rooms.CreateRoom(context.Background(), host.ID, models.RoomSettings{
		MinRating:       800,
		MaxRating:       1600,
		QuestionCount:   5,
		DurationMinutes: 90,
	})
	require.NoError(t, err)

	assert.Regexp(t, roomCodePattern, room.Code)
	assert.Equal(t, models.RoomWaiting, room.Status)
	assert.Equal(t, models.DefaultQuestionCount, room.QuestionCount)
	assert.Equal(t, models.DefaultDurationMinutes, room.DurationMinutes)
	require.Len(t, room.Participants, 1)
	assert.Equal(t, host.ID, room.Participants[0].UserID)
}

func TestCreateRoomRejectsBadBounds(t *testing.T) {
	h := newHarness(t)
	host := h.seedUser(t, "alice")

	_, err := h.rooms.CreateRoom(context.Background(), host.ID, models.RoomSettings{
		MinRating: 1600,
		MaxRating: 800,
	})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeValidation, appErr.Code)
}

func TestJoinRoomBroadcastsSnapshot(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "JOIN01", alice)

	joined, err := h.rooms.JoinRoom(context.Background(), room.Code, bob.ID)
	require.NoError(t, err)
	assert.Len(t, joined.Participants, 2)

	ev, ok := h.recorder.lastOfType(realtime.EventRoomUpdate)
	require.True(t, ok)
	snapshot := ev.Payload.(realtime.RoomSnapshot)
	assert.Equal(t, "JOIN01", snapshot.Code)
	assert.Len(t, snapshot.Participants, 2)
}

func TestJoinRoomUnknownCode(t *testing.T) {
	h := newHarness(t)
	bob := h.seedUser(t, "bob")

	_, err := h.rooms.JoinRoom(context.Background(), "NOPE00", bob.ID)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeNotFound, appErr.Code)
}

func TestLeaveRoomTransfersHost(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "LEAVE1", alice, bob)

	deleted, err := h.rooms.LeaveRoom(context.Background(), room.Code, alice.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	updated, err := h.roomRepo.GetByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, updated.HostID)

	// Clients apply the new host, settle on the snapshot, then see the
	// departure notice.
	types := h.recorder.eventTypes(room.Code)
	assert.Equal(t, []string{
		realtime.EventHostChanged,
		realtime.EventRoomUpdate,
		realtime.EventPlayerLeft,
	}, types)
}

func TestLeaveRoomLastParticipantDeletes(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	room := h.seedRoom(t, "LEAVE2", alice)

	deleted, err := h.rooms.LeaveRoom(context.Background(), room.Code, alice.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = h.roomRepo.GetByCode(context.Background(), room.Code)
	assert.Error(t, err)
	assert.Contains(t, h.recorder.cancelledGames, room.Code)
	assert.Contains(t, h.recorder.cancelledGraces, room.Code)
}

func TestLeaveRoomNonParticipant(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	mallory := h.seedUser(t, "mallory")
	room := h.seedRoom(t, "LEAVE3", alice)

	_, err := h.rooms.LeaveRoom(context.Background(), room.Code, mallory.ID)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeValidation, appErr.Code)
}

func TestLeaveStartedRoomKeepsHost(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "LEAVE4", alice, bob)
	h.startRoom(t, room, timeNowMinus(t, 5))

	deleted, err := h.rooms.LeaveRoom(context.Background(), room.Code, alice.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	// No automatic host transfer once the game is running.
	updated, err := h.roomRepo.GetByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, updated.HostID)
	assert.NotContains(t, h.recorder.eventTypes(room.Code), realtime.EventHostChanged)
}

func TestUpdateSettingsHostOnly(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "SETT01", alice, bob)

	_, err := h.rooms.UpdateSettings(context.Background(), room.Code, bob.ID, models.RoomSettings{
		MinRating: 1000, MaxRating: 2000,
	})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeForbidden, appErr.Code)
}

func TestUpdateSettingsLockedOnceStarted(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "SETT02", alice, bob)
	h.startRoom(t, room, timeNowMinus(t, 1))

	_, err := h.rooms.UpdateSettings(context.Background(), room.Code, alice.ID, models.RoomSettings{
		MinRating: 1000, MaxRating: 2000,
	})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeConflict, appErr.Code)
}

func TestUpdateSettingsCoercesFixedFields(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	room := h.seedRoom(t, "SETT03", alice)

	updated, err := h.rooms.UpdateSettings(context.Background(), room.Code, alice.ID, models.RoomSettings{
		MinRating:       1000,
		MaxRating:       2000,
		QuestionCount:   9,
		DurationMinutes: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, updated.MinRating)
	assert.Equal(t, 2000, updated.MaxRating)
	assert.Equal(t, models.DefaultQuestionCount, updated.QuestionCount)
	assert.Equal(t, models.DefaultDurationMinutes, updated.DurationMinutes)
}
