// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
	logger  *Logger
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{
		hubName: hubName,
		logger:  GlobalLogger,
	}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID uint, roomCode string) {
	l.logger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room_code", roomCode),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, roomCode string, reason string) {
	l.logger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room_code", roomCode),
		slog.String("reason", reason),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID uint, roomCode string, err error, eventType string) {
	l.logger.ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room_code", roomCode),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogMessage logs an incoming WebSocket message.
func (l *WSLogger) LogMessage(ctx context.Context, userID uint, roomCode string, messageType string) {
	l.logger.InfoContext(ctx, "websocket message",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room_code", roomCode),
		slog.String("message_type", messageType),
	)
}

// LogSweepStart logs the start of a finalization sweep for a room.
func LogSweepStart(ctx context.Context, roomCode string, participants int) {
	GlobalLogger.InfoContext(ctx, "finalization sweep started",
		slog.String("room_code", roomCode),
		slog.Int("participants", participants),
	)
}

// LogSweepParticipantError logs a per-participant failure during the sweep.
// The sweep continues past these.
func LogSweepParticipantError(ctx context.Context, roomCode, handle string, err error) {
	GlobalLogger.ErrorContext(ctx, "finalization sweep participant failed",
		slog.String("room_code", roomCode),
		slog.String("handle", handle),
		slog.String("error", err.Error()),
	)
}

// LogFinalizeRetry logs a finalization attempt deferred by a transient
// persistence failure.
func LogFinalizeRetry(ctx context.Context, roomCode string, delay time.Duration, err error) {
	GlobalLogger.WarnContext(ctx, "finalization deferred",
		slog.String("room_code", roomCode),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()),
	)
}

// LogSweepEnd logs the completion of a finalization sweep.
func LogSweepEnd(ctx context.Context, roomCode string, scored int) {
	GlobalLogger.InfoContext(ctx, "finalization sweep completed",
		slog.String("room_code", roomCode),
		slog.Int("scores_inserted", scored),
	)
}
