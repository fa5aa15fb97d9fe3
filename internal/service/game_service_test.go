package service

import (
	"context"
	"testing"
	"time"

	"cfduel/internal/judge"
	"cfduel/internal/models"
	"cfduel/internal/realtime"
	"cfduel/internal/scoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGameProvisionsTwoProblems(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME01", alice, bob)

	h.judge.listAllProblemsFn = func(context.Context) ([]judge.Problem, error) {
		return []judge.Problem{
			{ContestID: 100, Index: "A", Rating: intPtr(900)},
			{ContestID: 200, Index: "B", Rating: intPtr(1500)},
			{ContestID: 300, Index: "C", Rating: nil},
			{ContestID: 400, Index: "D", Rating: intPtr(3000)},
		}, nil
	}

	require.NoError(t, h.games.StartGame(context.Background(), room.Code, alice.ID))

	updated, err := h.roomRepo.GetByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStarted, updated.Status)
	require.NotNil(t, updated.StartedAt)
	require.Len(t, updated.Problems, 2)

	problems, err := h.roomRepo.ListProblems(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, problems[0].BasePoints)
	assert.Equal(t, 250, problems[0].MinPoints)
	assert.Equal(t, 900, problems[0].Rating)
	assert.Equal(t, 1000, problems[1].BasePoints)
	assert.Equal(t, 500, problems[1].MinPoints)
	assert.Equal(t, 1500, problems[1].Rating)

	types := h.recorder.eventTypes(room.Code)
	require.Len(t, types, 2)
	assert.Equal(t, realtime.EventGameStarting, types[0])
	assert.Equal(t, realtime.EventGameStarted, types[1])
	assert.Contains(t, h.recorder.startedGames, room.Code)
}

func TestStartGameRequiresHost(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME02", alice, bob)

	err := h.games.StartGame(context.Background(), room.Code, bob.ID)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeForbidden, appErr.Code)
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	room := h.seedRoom(t, "GAME03", alice)

	err := h.games.StartGame(context.Background(), room.Code, alice.ID)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeValidation, appErr.Code)
}

func TestStartGameInsufficientProblems(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME04", alice, bob)

	// Everything lands in the lower half; the upper half is empty.
	h.judge.listAllProblemsFn = func(context.Context) ([]judge.Problem, error) {
		return []judge.Problem{
			{ContestID: 100, Index: "A", Rating: intPtr(900)},
			{ContestID: 100, Index: "B", Rating: intPtr(1000)},
		}, nil
	}

	err := h.games.StartGame(context.Background(), room.Code, alice.ID)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeInsufficientProblems, appErr.Code)

	// The room never left the lobby and game-started never went out.
	updated, err2 := h.roomRepo.GetByCode(context.Background(), room.Code)
	require.NoError(t, err2)
	assert.Equal(t, models.RoomWaiting, updated.Status)
	assert.Zero(t, h.recorder.countOfType(realtime.EventGameStarted))
}

func TestCheckSubmissionAwardsDecayedPoints(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME05", alice, bob)

	startedAt := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	h.startRoom(t, room, startedAt)

	// Accepted 3m12s after the start; 500 - 5*3 = 485.
	h.judge.listRecentSubmissionsFn = func(_ context.Context, handle string, count int) ([]judge.Submission, error) {
		assert.Equal(t, "alice", handle)
		return []judge.Submission{
			{ContestID: 100, Index: "A", Verdict: "WRONG_ANSWER", CreationTime: startedAt.Add(90 * time.Second)},
			{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationTime: startedAt.Add(3*time.Minute + 12*time.Second)},
		}, nil
	}

	result, err := h.games.CheckSubmission(context.Background(), room.Code, alice.ID, 100, "A")
	require.NoError(t, err)
	assert.True(t, result.Solved)
	assert.False(t, result.AlreadySolved)
	assert.Equal(t, 485, result.Points)

	types := h.recorder.eventTypes(room.Code)
	require.Len(t, types, 2)
	assert.Equal(t, realtime.EventProblemSolved, types[0])
	assert.Equal(t, realtime.EventLeaderboardUpdate, types[1])
}

func TestCheckSubmissionPicksEarliestAccepted(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME06", alice, bob)

	startedAt := time.Now().Add(-20 * time.Minute).Truncate(time.Second)
	h.startRoom(t, room, startedAt)

	h.judge.listRecentSubmissionsFn = func(context.Context, string, int) ([]judge.Submission, error) {
		return []judge.Submission{
			{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationTime: startedAt.Add(8 * time.Minute)},
			{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationTime: startedAt.Add(2 * time.Minute)},
			// Before the game started; cannot count.
			{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationTime: startedAt.Add(-time.Hour)},
		}, nil
	}

	result, err := h.games.CheckSubmission(context.Background(), room.Code, alice.ID, 100, "A")
	require.NoError(t, err)
	assert.Equal(t, 490, result.Points)
}

func TestCheckSubmissionNotSolved(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME07", alice, bob)
	h.startRoom(t, room, time.Now().Add(-5*time.Minute))

	h.judge.listRecentSubmissionsFn = func(context.Context, string, int) ([]judge.Submission, error) {
		return []judge.Submission{
			{ContestID: 100, Index: "A", Verdict: "TIME_LIMIT_EXCEEDED", CreationTime: time.Now()},
		}, nil
	}

	result, err := h.games.CheckSubmission(context.Background(), room.Code, alice.ID, 100, "A")
	require.NoError(t, err)
	assert.False(t, result.Solved)
	assert.NotEmpty(t, result.Reason)
	assert.Zero(t, h.recorder.countOfType(realtime.EventProblemSolved))
}

func TestCheckSubmissionDuplicateShortCircuits(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME08", alice, bob)

	startedAt := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	h.startRoom(t, room, startedAt)

	calls := 0
	h.judge.listRecentSubmissionsFn = func(context.Context, string, int) ([]judge.Submission, error) {
		calls++
		return []judge.Submission{
			{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationTime: startedAt.Add(3 * time.Minute)},
		}, nil
	}

	first, err := h.games.CheckSubmission(context.Background(), room.Code, alice.ID, 100, "A")
	require.NoError(t, err)
	assert.Equal(t, 485, first.Points)

	second, err := h.games.CheckSubmission(context.Background(), room.Code, alice.ID, 100, "A")
	require.NoError(t, err)
	assert.True(t, second.AlreadySolved)
	assert.Equal(t, 485, second.Points)

	// The duplicate never reached the judge and never re-broadcast.
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, h.recorder.countOfType(realtime.EventProblemSolved))
	assert.Equal(t, 1, h.recorder.countOfType(realtime.EventLeaderboardUpdate))
}

func TestCheckSubmissionGameNotRunning(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME09", alice, bob)

	_, err := h.games.CheckSubmission(context.Background(), room.Code, alice.ID, 100, "A")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeConflict, appErr.Code)
}

func TestCheckSubmissionForeignProblem(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME10", alice, bob)
	h.startRoom(t, room, time.Now().Add(-time.Minute))

	_, err := h.games.CheckSubmission(context.Background(), room.Code, alice.ID, 999, "Z")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeValidation, appErr.Code)
}

func TestAutoFinalizeSweepsUncheckedSolves(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME11", alice, bob)

	startedAt := time.Now().Add(-16 * time.Minute).Truncate(time.Second)
	h.startRoom(t, room, startedAt)

	// Bob solved the hard problem 14m30s in but never clicked Check:
	// 1000 - 5*14 = 930. His after-game submission must not count.
	h.judge.listRecentSubmissionsFn = func(_ context.Context, handle string, count int) ([]judge.Submission, error) {
		if handle == "bob" {
			return []judge.Submission{
				{ContestID: 200, Index: "B", Verdict: judge.VerdictAccepted, CreationTime: startedAt.Add(14*time.Minute + 30*time.Second)},
				{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationTime: startedAt.Add(20 * time.Minute)},
			}, nil
		}
		return nil, nil
	}

	h.games.AutoFinalize(room.Code, TriggerTimer)

	updated, err := h.roomRepo.GetByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, models.RoomEnded, updated.Status)

	scores, err := h.scoreRepo.ListByRoom(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, bob.ID, scores[0].UserID)
	assert.Equal(t, 930, scores[0].Points)

	// Everyone seated gets a leaderboard row; alice shows zero points.
	ended, ok := h.recorder.lastOfType(realtime.EventGameEnded)
	require.True(t, ok)
	payload := ended.Payload.(map[string]interface{})
	entries := payload["leaderboard"].([]scoring.Entry)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].Handle)
	assert.Equal(t, "alice", entries[1].Handle)
	assert.Zero(t, entries[1].TotalPoints)
	assert.Zero(t, entries[1].SolvedCount)

	assert.Contains(t, h.recorder.cancelledGames, room.Code)
	assert.Contains(t, h.recorder.cancelledGraces, room.Code)
}

func TestAutoFinalizeIdempotent(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME12", alice, bob)
	h.startRoom(t, room, time.Now().Add(-16*time.Minute))

	judgeCalls := 0
	h.judge.listRecentSubmissionsFn = func(context.Context, string, int) ([]judge.Submission, error) {
		judgeCalls++
		return nil, nil
	}

	h.games.AutoFinalize(room.Code, TriggerTimer)
	callsAfterFirst := judgeCalls
	h.games.AutoFinalize(room.Code, TriggerTimer)

	// The replayed finalization skips the scoring sweep but still emits
	// game-ended so late clients converge.
	assert.Equal(t, callsAfterFirst, judgeCalls)
	assert.Equal(t, 2, h.recorder.countOfType(realtime.EventGameEnded))
}

func TestAutoFinalizeSkipsClaimedProblems(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME13", alice, bob)

	startedAt := time.Now().Add(-16 * time.Minute).Truncate(time.Second)
	h.startRoom(t, room, startedAt)

	solvedAt := startedAt.Add(3 * time.Minute)
	inserted, err := h.scoreRepo.Insert(context.Background(), &models.Score{
		RoomID: room.ID, UserID: alice.ID, ContestID: 100, ProblemIndex: "A",
		SolvedAt: solvedAt, Points: 485,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	h.judge.listRecentSubmissionsFn = func(context.Context, string, int) ([]judge.Submission, error) {
		return []judge.Submission{
			{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationTime: solvedAt},
		}, nil
	}

	h.games.AutoFinalize(room.Code, TriggerTimer)

	scores, err := h.scoreRepo.ListByRoom(context.Background(), room.ID)
	require.NoError(t, err)
	// Alice keeps her single claim; Bob gains one from the sweep.
	require.Len(t, scores, 2)
}

func TestAutoFinalizeRetriesTransientFailure(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME15", alice, bob)
	h.startRoom(t, room, time.Now().Add(-16*time.Minute))

	h.judge.listRecentSubmissionsFn = func(context.Context, string, int) ([]judge.Submission, error) {
		return nil, nil
	}

	// One transient failure re-arms the finalizer instead of stranding
	// the room in started.
	h.games.roomRepo = &flakyRoomRepo{RoomRepository: h.roomRepo, failures: 1}
	h.games.finalizeRetryDelay = 20 * time.Millisecond

	h.games.AutoFinalize(room.Code, TriggerTimer)

	require.Eventually(t, func() bool {
		return h.recorder.countOfType(realtime.EventGameEnded) == 1
	}, time.Second, 5*time.Millisecond)

	updated, err := h.roomRepo.GetByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, models.RoomEnded, updated.Status)
}

func TestAutoFinalizeGivesUpOnDeletedRoom(t *testing.T) {
	h := newHarness(t)
	h.games.finalizeRetryDelay = 10 * time.Millisecond

	h.games.AutoFinalize("NOPE00", TriggerTimer)

	assert.Contains(t, h.recorder.cancelledGames, "NOPE00")
	// No retry is armed for a missing room.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.recorder.countOfType(realtime.EventGameEnded))
	assert.Len(t, h.recorder.cancelledGames, 1)
}

func TestLeaderboardProjection(t *testing.T) {
	h := newHarness(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, "GAME14", alice, bob)

	startedAt := time.Now().Add(-12 * time.Minute).Truncate(time.Second)
	h.startRoom(t, room, startedAt)

	for _, score := range []models.Score{
		{RoomID: room.ID, UserID: alice.ID, ContestID: 100, ProblemIndex: "A", SolvedAt: startedAt.Add(3 * time.Minute), Points: 485},
		{RoomID: room.ID, UserID: bob.ID, ContestID: 200, ProblemIndex: "B", SolvedAt: startedAt.Add(10 * time.Minute), Points: 950},
	} {
		s := score
		inserted, err := h.scoreRepo.Insert(context.Background(), &s)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	entries, err := h.games.Leaderboard(context.Background(), room.Code)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].Handle)
	assert.Equal(t, 950, entries[0].TotalPoints)
	assert.Equal(t, "alice", entries[1].Handle)
}
