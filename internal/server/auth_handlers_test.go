package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"cfduel/internal/judge"
	"cfduel/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginCreatesUserFromJudgeProfile(t *testing.T) {
	ts := newTestServer(t)
	ts.judge.resolveUserFn = func(_ context.Context, handle string) (*judge.User, error) {
		return &judge.User{Handle: "Tourist", Rating: 3800, Avatar: "https://cdn.example/tourist.jpg"}, nil
	}

	resp := ts.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"handle": "tourist"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["token"])

	user := body["user"].(map[string]any)
	// The judge's canonical casing wins over the caller's.
	assert.Equal(t, "Tourist", user["handle"])
	assert.Equal(t, float64(3800), user["rating"])

	stored, err := ts.userRepo.GetByHandle(context.Background(), "Tourist")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 3800, stored.Rating)
}

func TestLoginRefreshesRatingOnRepeat(t *testing.T) {
	ts := newTestServer(t)
	rating := 1200
	ts.judge.resolveUserFn = func(_ context.Context, handle string) (*judge.User, error) {
		return &judge.User{Handle: "alice", Rating: rating}, nil
	}

	resp := ts.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"handle": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	rating = 1350
	resp = ts.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"handle": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	stored, err := ts.userRepo.GetByHandle(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1350, stored.Rating)
}

func TestLoginUnknownHandle(t *testing.T) {
	ts := newTestServer(t)
	ts.judge.resolveUserFn = func(_ context.Context, handle string) (*judge.User, error) {
		return nil, models.NewUnknownHandleError(handle)
	}

	resp := ts.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"handle": "nobody"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, models.CodeUnknownHandle, body["code"])
}

func TestLoginRejectsMalformedHandleBeforeJudgeCall(t *testing.T) {
	ts := newTestServer(t)
	judgeCalls := 0
	ts.judge.resolveUserFn = func(_ context.Context, handle string) (*judge.User, error) {
		judgeCalls++
		return &judge.User{Handle: handle}, nil
	}

	for _, handle := range []string{"", "x", "has spaces", "way-too-long-to-be-a-real-judge-handle"} {
		resp := ts.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"handle": handle})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "handle %q", handle)
		resp.Body.Close()
	}
	assert.Zero(t, judgeCalls)
}

func TestMeRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	user := ts.seedUser(t, "bob")
	resp = ts.request(t, http.MethodGet, "/api/auth/me", ts.tokenFor(t, user), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "bob", body["user"].(map[string]any)["handle"])
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	user := ts.seedUser(t, "carol")
	token := ts.tokenFor(t, user)

	resp := ts.request(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The blacklisted JTI makes the same token unusable.
	resp = ts.request(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestWSTicketIsSingleUse(t *testing.T) {
	ts := newTestServer(t)
	user := ts.seedUser(t, "dave")
	token := ts.tokenFor(t, user)

	resp := ts.request(t, http.MethodPost, "/api/ws/ticket", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	ticket := body["ticket"].(string)
	require.NotEmpty(t, ticket)

	// First use passes auth; the handler then rejects the plain GET with
	// 426 because it is not a websocket upgrade.
	resp = ts.request(t, http.MethodGet, "/api/ws/duel?ticket="+ticket, "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	resp.Body.Close()

	// Second use fails: the ticket was consumed.
	resp = ts.request(t, http.MethodGet, "/api/ws/duel?ticket="+ticket, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthRequiredRejectsForeignIssuer(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "erin")

	now := time.Now()
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1",
		"iss": "someone-else",
		"aud": tokenAudience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})
	token, err := foreign.SignedString([]byte(ts.config.JWTSecret))
	require.NoError(t, err)

	resp := ts.request(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodGet, "/api/auth/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
