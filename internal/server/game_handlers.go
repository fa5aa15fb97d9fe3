package server

import (
	"time"

	"cfduel/internal/models"
	"cfduel/internal/realtime"

	"github.com/gofiber/fiber/v2"
)

func problemInfos(problems []models.RoomProblem) []realtime.ProblemInfo {
	infos := make([]realtime.ProblemInfo, 0, len(problems))
	for _, p := range problems {
		infos = append(infos, realtime.ProblemInfo{
			ContestID:    p.ContestID,
			ProblemIndex: p.ProblemIndex,
			Rating:       p.Rating,
			BasePoints:   p.BasePoints,
			MinPoints:    p.MinPoints,
		})
	}
	return infos
}

// GetGameProblems handles GET /api/game/:code/problems. Problems exist only
// once the game started.
func (s *Server) GetGameProblems(c *fiber.Ctx) error {
	room, err := s.roomService.GetRoom(c.Context(), roomCodeParam(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	if room.Status == models.RoomWaiting {
		return models.RespondWithAppError(c,
			models.NewConflictError("The game has not started yet"))
	}

	return c.JSON(fiber.Map{"problems": problemInfos(room.Problems)})
}

// GetGameLeaderboard handles GET /api/game/:code/leaderboard
func (s *Server) GetGameLeaderboard(c *fiber.Ctx) error {
	entries, err := s.gameService.Leaderboard(c.Context(), roomCodeParam(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"leaderboard": entries})
}

// GetGameState handles GET /api/game/:code/state. It is the resync surface
// a reconnecting client hits before re-joining the socket topic: the room
// snapshot, the problems, the caller's claimed solves and the server clock.
func (s *Server) GetGameState(c *fiber.Ctx) error {
	code := roomCodeParam(c)
	userID := currentUserID(c)

	room, err := s.roomService.GetRoom(c.Context(), code)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	state := fiber.Map{
		"room":        realtime.SnapshotRoom(room),
		"server_time": time.Now(),
	}

	if room.Status != models.RoomWaiting {
		state["problems"] = problemInfos(room.Problems)

		solved, err := s.gameService.SolvedSet(c.Context(), code, userID)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		state["solved"] = solved
	}

	if room.Status == models.RoomStarted {
		if runtime, ok := s.hub.GameRuntimeFor(code); ok {
			state["remaining_ms"] = runtime.Remaining().Milliseconds()
			state["ends_at"] = runtime.EndsAt()
		} else if room.StartedAt != nil {
			// Runtime lost (e.g. between restart and recovery); derive the
			// clock from the persisted start instant.
			remaining := time.Until(room.EndsAt())
			if remaining < 0 {
				remaining = 0
			}
			state["remaining_ms"] = remaining.Milliseconds()
			state["ends_at"] = room.EndsAt()
		}
	}

	entries, err := s.gameService.Leaderboard(c.Context(), code)
	if err == nil {
		state["leaderboard"] = entries
	}

	return c.JSON(state)
}
