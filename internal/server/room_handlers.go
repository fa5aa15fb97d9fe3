package server

import (
	"cfduel/internal/models"
	"cfduel/internal/realtime"

	"github.com/gofiber/fiber/v2"
)

// CreateRoom handles POST /api/rooms/create
func (s *Server) CreateRoom(c *fiber.Ctx) error {
	var req models.RoomSettings
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	room, err := s.roomService.CreateRoom(c.Context(), currentUserID(c), req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"room": realtime.SnapshotRoom(room),
	})
}

// GetRoom handles GET /api/rooms/:code
func (s *Server) GetRoom(c *fiber.Ctx) error {
	room, err := s.roomService.GetRoom(c.Context(), roomCodeParam(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"room": realtime.SnapshotRoom(room)})
}

// JoinRoom handles POST /api/rooms/:code/join
func (s *Server) JoinRoom(c *fiber.Ctx) error {
	room, err := s.roomService.JoinRoom(c.Context(), roomCodeParam(c), currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"room": realtime.SnapshotRoom(room)})
}

// LeaveRoom handles POST /api/rooms/:code/leave
func (s *Server) LeaveRoom(c *fiber.Ctx) error {
	deleted, err := s.roomService.LeaveRoom(c.Context(), roomCodeParam(c), currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}

// UpdateRoomSettings handles PUT /api/rooms/:code/settings
func (s *Server) UpdateRoomSettings(c *fiber.Ctx) error {
	var req models.RoomSettings
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	room, err := s.roomService.UpdateSettings(c.Context(), roomCodeParam(c), currentUserID(c), req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"room": realtime.SnapshotRoom(room)})
}
