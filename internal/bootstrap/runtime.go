// Package bootstrap wires process-level runtime concerns: database and
// Redis connections, optional seeding and restart recovery of running
// games.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"cfduel/internal/cache"
	"cfduel/internal/config"
	"cfduel/internal/database"
	"cfduel/internal/models"
	"cfduel/internal/realtime"
	"cfduel/internal/repository"
	"cfduel/internal/seed"
	"cfduel/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	SeedDemoData bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.SeedDemoData {
		if err := seed.DemoData(db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

// RecoverStartedGames re-arms the in-memory end timers after a restart.
// The start instant is persisted, so a room in status=started either gets
// its timer back for the remaining window or, when the deadline already
// passed while the process was down, is finalized right away.
func RecoverStartedGames(ctx context.Context, db *gorm.DB, hub *realtime.Hub, games *service.GameService) error {
	roomRepo := repository.NewRoomRepository(db)

	rooms, err := roomRepo.ListByStatus(ctx, models.RoomStarted)
	if err != nil {
		return fmt.Errorf("list started rooms: %w", err)
	}

	now := time.Now()
	recovered, overdue := 0, 0
	for i := range rooms {
		room := rooms[i]
		if room.StartedAt == nil {
			continue
		}

		if !room.EndsAt().After(now) {
			overdue++
			// Finalization sweeps every participant against the judge;
			// keep it off the startup path.
			go games.AutoFinalize(room.Code, service.TriggerRestart)
			continue
		}

		hub.StartGameRuntime(room.Code, *room.StartedAt, room.Duration())
		recovered++
	}

	if recovered > 0 || overdue > 0 {
		log.Printf("restart recovery: re-armed %d game timer(s), finalizing %d overdue game(s)", recovered, overdue)
	}
	return nil
}
