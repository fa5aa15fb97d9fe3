package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"cfduel/internal/middleware"
	"cfduel/internal/models"
	"cfduel/internal/realtime"
	"cfduel/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Disconnect grace periods. A running game tolerates a longer outage than a
// lobby, where an absent player only blocks the start.
const (
	graceStarted = 60 * time.Second
	graceWaiting = 15 * time.Second
)

// DuelSocketHandler handles WebSocket connections for the duel event channel
func (s *Server) DuelSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		ctx := context.Background()

		// Get userID from context locals (set by AuthRequired middleware)
		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			log.Printf("WebSocket: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"UNAUTHORIZED"}}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			log.Printf("WebSocket: Failed to get user %d: %v", userID, err)
			_ = conn.Close()
			return
		}

		session := realtime.NewSession(s.hub, conn, userID, user.Handle)
		session.IncomingHandler = s.handleDuelMessage
		session.OnClose = s.handleDuelDisconnect

		s.hub.RegisterSession(session)
		go session.WritePump()

		s.hub.SendToSession(session, realtime.NewConnectionSuccessEvent(userID, user.Handle))

		// A fresh session cancels any pending grace tickets: the player is
		// back before the deadline.
		for _, code := range s.hub.CancelGracesForUser(userID) {
			s.hub.Publish(code, realtime.NewPlayerReconnectedEvent(userID, user.Handle))
		}

		session.ReadPump()
	})
}

// inboundEvent is one client message on the duplex channel.
type inboundEvent struct {
	Type    string `json:"type"`
	Payload struct {
		RoomCode  string `json:"roomCode"`
		ContestID int    `json:"contestId"`
		Index     string `json:"index"`
	} `json:"payload"`
}

// handleDuelMessage dispatches one inbound event. It runs on the session's
// read pump; anything slow goes to its own goroutine.
func (s *Server) handleDuelMessage(session *realtime.Session, message []byte) {
	ctx := context.Background()

	var ev inboundEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		s.hub.SendToSession(session, realtime.NewErrorEvent(models.CodeValidation, "Invalid message format"))
		return
	}
	ev.Payload.RoomCode = strings.ToUpper(strings.TrimSpace(ev.Payload.RoomCode))

	switch ev.Type {
	case "join-room":
		s.handleJoinRoom(ctx, session, ev.Payload.RoomCode)

	case "leave-room":
		s.hub.Unsubscribe(session, ev.Payload.RoomCode)
		if _, err := s.roomService.LeaveRoom(ctx, ev.Payload.RoomCode, session.UserID); err != nil {
			s.sendError(session, err)
		}

	case "start-game":
		if err := s.gameService.StartGame(ctx, ev.Payload.RoomCode, session.UserID); err != nil {
			s.sendError(session, err)
		}

	case "check-problem":
		s.handleCheckProblem(session, ev.Payload.RoomCode, ev.Payload.ContestID, ev.Payload.Index)

	default:
		s.hub.SendToSession(session, realtime.NewErrorEvent(models.CodeValidation, "Unknown event type"))
	}
}

// handleJoinRoom subscribes the session to the room topic. Mid-game joins by
// users who fell out of the participant set (their grace expired) re-seat
// them; everyone else must join while the room is waiting.
func (s *Server) handleJoinRoom(ctx context.Context, session *realtime.Session, code string) {
	if err := validation.ValidateRoomCode(code); err != nil {
		s.sendError(session, models.NewValidationError(err.Error()))
		return
	}

	room, err := s.roomService.GetRoom(ctx, code)
	if err != nil {
		s.sendError(session, err)
		return
	}
	if room.Status == models.RoomEnded {
		s.sendError(session, models.NewConflictError("The game has ended"))
		return
	}

	if !room.HasParticipant(session.UserID) {
		if _, err := s.roomService.JoinRoom(ctx, code, session.UserID); err != nil {
			s.sendError(session, err)
			return
		}
		room, err = s.roomService.GetRoom(ctx, code)
		if err != nil {
			s.sendError(session, err)
			return
		}
	}

	s.hub.Subscribe(session, code)

	// Resync the joiner; the rest of the room got its snapshot from the
	// membership change broadcast.
	s.hub.SendToSession(session, realtime.NewRoomUpdateEvent(room))

	if room.Status == models.RoomStarted {
		if runtime, ok := s.hub.GameRuntimeFor(code); ok {
			s.hub.SendToSession(session, realtime.NewTimerSyncEvent(code, runtime.Remaining(), runtime.EndsAt()))
		}
	}
}

// handleCheckProblem verifies a solve claim against the judge. One check per
// session at a time; the judge round-trip runs off the read pump.
func (s *Server) handleCheckProblem(session *realtime.Session, code string, contestID int, index string) {
	if _, busy := s.checksInFlight.LoadOrStore(session.ID, struct{}{}); busy {
		s.hub.SendToSession(session, realtime.NewErrorEvent(models.CodeConflict,
			"A check is already in progress, please wait"))
		return
	}

	go func() {
		defer s.checksInFlight.Delete(session.ID)

		result, err := s.gameService.CheckSubmission(context.Background(), code, session.UserID, contestID, index)
		if err != nil {
			s.sendError(session, err)
			return
		}

		if !result.Solved {
			s.hub.SendToSession(session, realtime.NewProblemNotSolvedEvent(contestID, index, result.Reason))
			return
		}
		if result.AlreadySolved {
			// The room-wide broadcast went out on the first claim; only the
			// requester needs the reminder.
			s.hub.SendToSession(session, realtime.NewProblemSolvedEvent(
				session.UserID, session.Handle, contestID, index, result.Points))
		}
	}()
}

// handleDuelDisconnect runs when a session's read pump exits, before the hub
// forgets the session. The last session of a user opens a grace ticket per
// active room the user is seated in; membership comes from the participants
// table, not from what this particular connection was subscribed to.
func (s *Server) handleDuelDisconnect(session *realtime.Session) {
	ctx := context.Background()

	if s.hub.SessionsForUser(session.UserID) > 1 {
		// Another tab is still connected.
		return
	}

	rooms, err := s.roomRepo.ListByParticipant(ctx, session.UserID, models.RoomWaiting, models.RoomStarted)
	if err != nil {
		log.Printf("WebSocket: Failed to list rooms for user %d on disconnect: %v", session.UserID, err)
		return
	}

	for _, room := range rooms {
		grace := graceWaiting
		if room.Status == models.RoomStarted {
			grace = graceStarted
		}

		s.hub.OpenGrace(room.Code, session.UserID, grace)
		s.hub.Publish(room.Code, realtime.NewPlayerDisconnectedEvent(session.UserID, session.Handle, grace))
	}
}

// sendError reports a failed inbound operation to the requester only.
func (s *Server) sendError(session *realtime.Session, err error) {
	if appErr, ok := err.(*models.AppError); ok {
		s.hub.SendToSession(session, realtime.NewErrorEvent(appErr.Code, appErr.Message))
		return
	}
	s.hub.SendToSession(session, realtime.NewErrorEvent(models.CodeInternal, "Internal server error"))
}
