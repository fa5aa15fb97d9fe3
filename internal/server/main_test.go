package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cfduel/internal/config"
	"cfduel/internal/database"
	"cfduel/internal/judge"
	"cfduel/internal/models"
	"cfduel/internal/realtime"
	"cfduel/internal/repository"
	"cfduel/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stubJudge struct {
	resolveUserFn           func(context.Context, string) (*judge.User, error)
	listAllProblemsFn       func(context.Context) ([]judge.Problem, error)
	listRecentSubmissionsFn func(context.Context, string, int) ([]judge.Submission, error)
}

func (s *stubJudge) ResolveUser(ctx context.Context, handle string) (*judge.User, error) {
	if s.resolveUserFn == nil {
		return nil, models.NewUnknownHandleError(handle)
	}
	return s.resolveUserFn(ctx, handle)
}

func (s *stubJudge) ListAllProblems(ctx context.Context) ([]judge.Problem, error) {
	if s.listAllProblemsFn == nil {
		return nil, nil
	}
	return s.listAllProblemsFn(ctx)
}

func (s *stubJudge) ListRecentSubmissions(ctx context.Context, handle string, count int) ([]judge.Submission, error) {
	if s.listRecentSubmissionsFn == nil {
		return nil, nil
	}
	return s.listRecentSubmissionsFn(ctx, handle, count)
}

type testServer struct {
	*Server
	judge *stubJudge
	mr    *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.ConnectTest()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	stub := &stubJudge{}
	cfg := &config.Config{
		JWTSecret:    "test-secret-test-secret-test-secret",
		Port:         "0",
		JudgeBaseURL: "http://judge.invalid",
		JudgeTimeout: time.Second,
	}

	s := &Server{
		config:      cfg,
		db:          db,
		redis:       rdb,
		userRepo:    repository.NewUserRepository(db),
		roomRepo:    repository.NewRoomRepository(db),
		scoreRepo:   repository.NewScoreRepository(db),
		judgeClient: stub,
		hub:         realtime.NewHub(),
	}
	s.roomService = service.NewRoomService(s.roomRepo, s.hub)
	s.gameService = service.NewGameService(s.roomRepo, s.scoreRepo, stub, s.hub)
	s.hub.SetGameEndHandler(func(code string) {
		s.gameService.AutoFinalize(code, service.TriggerTimer)
	})
	s.hub.SetGraceExpiryHandler(func(code string, userID uint) {
		_, _ = s.roomService.LeaveRoom(context.Background(), code, userID)
	})

	app := fiber.New()
	s.app = app
	s.SetupRoutes(app)
	t.Cleanup(func() { _ = s.hub.Shutdown(context.Background()) })

	return &testServer{Server: s, judge: stub, mr: mr}
}

func (ts *testServer) seedUser(t *testing.T, handle string) models.User {
	t.Helper()
	user := models.User{Handle: handle, Rating: 1500}
	require.NoError(t, ts.db.Create(&user).Error)
	return user
}

func (ts *testServer) tokenFor(t *testing.T, user models.User) string {
	t.Helper()
	token, err := ts.generateToken(user.ID, user.Handle)
	require.NoError(t, err)
	return token
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.app.Test(req, int(5*time.Second/time.Millisecond))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}
