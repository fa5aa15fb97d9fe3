// Package seed provides database seeding utilities for development and
// testing.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"cfduel/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers    int
	NumRooms    int
	ShouldClean bool
}

// DefaultOptions are the values DemoData uses.
var DefaultOptions = Options{
	NumUsers: 24,
	NumRooms: 6,
}

// DemoData populates a development database with fake users and a handful
// of waiting rooms. Idempotent enough to run at every boot: users are keyed
// by handle and skipped when present.
func DemoData(db *gorm.DB) error {
	return Run(db, DefaultOptions)
}

// Run executes the seeder with explicit options.
func Run(db *gorm.DB, opts Options) error {
	gofakeit.Seed(time.Now().UnixNano())

	if opts.ShouldClean {
		if err := clean(db); err != nil {
			return fmt.Errorf("clean: %w", err)
		}
	}

	users, err := seedUsers(db, opts.NumUsers)
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	rooms, err := seedRooms(db, users, opts.NumRooms)
	if err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}

	log.Printf("seeded %d user(s) and %d waiting room(s)", len(users), rooms)
	return nil
}

func clean(db *gorm.DB) error {
	for _, model := range []any{
		&models.Score{}, &models.RoomProblem{}, &models.RoomParticipant{}, &models.Room{}, &models.User{},
	} {
		if err := db.Where("1 = 1").Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

// FakeHandle produces a plausible judge handle.
func FakeHandle() string {
	handle := gofakeit.Username()
	handle = strings.ReplaceAll(handle, " ", "_")
	if len(handle) > 20 {
		handle = handle[:20]
	}
	if len(handle) < 3 {
		handle = handle + gofakeit.DigitN(3)
	}
	return handle
}

// FakeRating samples a rating from the plausible competitive range.
func FakeRating() int {
	return 800 + rand.Intn(2400)
}

func seedUsers(db *gorm.DB, n int) ([]models.User, error) {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		user := models.User{
			Handle: FakeHandle(),
			Rating: FakeRating(),
			Avatar: fmt.Sprintf("https://picsum.photos/seed/%s/96/96", gofakeit.UUID()),
		}

		var existing models.User
		err := db.Where("handle = ?", user.Handle).First(&existing).Error
		if err == nil {
			users = append(users, existing)
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}

		if err := db.Create(&user).Error; err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func seedRooms(db *gorm.DB, users []models.User, n int) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}

	created := 0
	for i := 0; i < n; i++ {
		host := users[rand.Intn(len(users))]
		minRating := 800 + 100*rand.Intn(10)

		room := models.Room{
			Code:            randomCode(),
			HostID:          host.ID,
			MinRating:       minRating,
			MaxRating:       minRating + 400 + 100*rand.Intn(8),
			QuestionCount:   models.DefaultQuestionCount,
			DurationMinutes: models.DefaultDurationMinutes,
			Status:          models.RoomWaiting,
		}
		if err := db.Create(&room).Error; err != nil {
			// Code collision; skip rather than loop.
			continue
		}

		seats := 1 + rand.Intn(3)
		seated := map[uint]bool{}
		joined := time.Now().Add(-time.Duration(rand.Intn(30)) * time.Minute)
		for s := 0; s < seats; s++ {
			user := host
			if s > 0 {
				user = users[rand.Intn(len(users))]
			}
			if seated[user.ID] {
				continue
			}
			seated[user.ID] = true

			if err := db.Create(&models.RoomParticipant{
				RoomID:   room.ID,
				UserID:   user.ID,
				JoinedAt: joined.Add(time.Duration(s) * time.Minute),
			}).Error; err != nil {
				return created, err
			}
		}
		created++
	}
	return created, nil
}

func randomCode() string {
	code := make([]byte, models.RoomCodeLength)
	for i := range code {
		code[i] = models.RoomCodeAlphabet[rand.Intn(len(models.RoomCodeAlphabet))]
	}
	return string(code)
}
