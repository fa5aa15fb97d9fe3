package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"cfduel/internal/database"
	"cfduel/internal/judge"
	"cfduel/internal/models"
	"cfduel/internal/realtime"
	"cfduel/internal/repository"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type judgeStub struct {
	resolveUserFn           func(context.Context, string) (*judge.User, error)
	listAllProblemsFn       func(context.Context) ([]judge.Problem, error)
	listRecentSubmissionsFn func(context.Context, string, int) ([]judge.Submission, error)
}

func (s *judgeStub) ResolveUser(ctx context.Context, handle string) (*judge.User, error) {
	return s.resolveUserFn(ctx, handle)
}
func (s *judgeStub) ListAllProblems(ctx context.Context) ([]judge.Problem, error) {
	return s.listAllProblemsFn(ctx)
}
func (s *judgeStub) ListRecentSubmissions(ctx context.Context, handle string, count int) ([]judge.Submission, error) {
	return s.listRecentSubmissionsFn(ctx, handle, count)
}

type publishedEvent struct {
	code  string
	event realtime.Event
}

// broadcastRecorder is an in-memory Broadcaster capturing everything the
// services fan out.
type broadcastRecorder struct {
	mu              sync.Mutex
	published       []publishedEvent
	startedGames    []string
	cancelledGames  []string
	cancelledGraces []string
}

func (r *broadcastRecorder) Publish(code string, ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, publishedEvent{code: code, event: ev})
}

func (r *broadcastRecorder) StartGameRuntime(code string, startedAt time.Time, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startedGames = append(r.startedGames, code)
}

func (r *broadcastRecorder) CancelGameRuntime(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelledGames = append(r.cancelledGames, code)
}

func (r *broadcastRecorder) CancelGrace(code string, userID uint) bool {
	return false
}

func (r *broadcastRecorder) CancelRoomGraces(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelledGraces = append(r.cancelledGraces, code)
}

func (r *broadcastRecorder) eventTypes(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.published))
	for _, p := range r.published {
		if p.code == code {
			types = append(types, p.event.Type)
		}
	}
	return types
}

func (r *broadcastRecorder) lastOfType(eventType string) (realtime.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.published) - 1; i >= 0; i-- {
		if r.published[i].event.Type == eventType {
			return r.published[i].event, true
		}
	}
	return realtime.Event{}, false
}

func (r *broadcastRecorder) countOfType(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.published {
		if p.event.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	db        *gorm.DB
	roomRepo  repository.RoomRepository
	scoreRepo repository.ScoreRepository
	judge     *judgeStub
	recorder  *broadcastRecorder
	rooms     *RoomService
	games     *GameService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.ConnectTest()
	require.NoError(t, err)

	h := &harness{
		db:        db,
		roomRepo:  repository.NewRoomRepository(db),
		scoreRepo: repository.NewScoreRepository(db),
		judge:     &judgeStub{},
		recorder:  &broadcastRecorder{},
	}
	h.rooms = NewRoomService(h.roomRepo, h.recorder)
	h.games = NewGameService(h.roomRepo, h.scoreRepo, h.judge, h.recorder)
	// Tests do not need the real inter-call gap.
	h.games.sweepLimiter = rate.NewLimiter(rate.Inf, 0)
	return h
}

func (h *harness) seedUser(t *testing.T, handle string) models.User {
	t.Helper()
	user := models.User{Handle: handle, Rating: 1500}
	require.NoError(t, h.db.Create(&user).Error)
	return user
}

func (h *harness) seedRoom(t *testing.T, code string, host models.User, others ...models.User) models.Room {
	t.Helper()
	room := models.Room{
		Code:            code,
		HostID:          host.ID,
		MinRating:       800,
		MaxRating:       1600,
		QuestionCount:   models.DefaultQuestionCount,
		DurationMinutes: models.DefaultDurationMinutes,
		Status:          models.RoomWaiting,
	}
	require.NoError(t, h.db.Create(&room).Error)

	joined := time.Now().Add(-time.Hour)
	for i, u := range append([]models.User{host}, others...) {
		require.NoError(t, h.db.Create(&models.RoomParticipant{
			RoomID:   room.ID,
			UserID:   u.ID,
			JoinedAt: joined.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	return room
}

func (h *harness) startRoom(t *testing.T, room models.Room, startedAt time.Time) {
	t.Helper()
	require.NoError(t, h.roomRepo.StartGame(context.Background(), room.ID, []models.RoomProblem{
		{ContestID: 100, ProblemIndex: "A", Rating: 1000, BasePoints: 500, MinPoints: 250},
		{ContestID: 200, ProblemIndex: "B", Rating: 1500, BasePoints: 1000, MinPoints: 500},
	}, startedAt))
}

// flakyRoomRepo fails the first few GetByCode calls before delegating,
// imitating a transient database outage.
type flakyRoomRepo struct {
	repository.RoomRepository
	mu       sync.Mutex
	failures int
}

func (f *flakyRoomRepo) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, models.NewInternalError(nil)
	}
	f.mu.Unlock()
	return f.RoomRepository.GetByCode(ctx, code)
}

func intPtr(v int) *int { return &v }

func timeNowMinus(t *testing.T, minutes int) time.Time {
	t.Helper()
	return time.Now().Add(-time.Duration(minutes) * time.Minute)
}
