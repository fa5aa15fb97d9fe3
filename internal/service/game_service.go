package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"cfduel/internal/judge"
	"cfduel/internal/models"
	"cfduel/internal/observability"
	"cfduel/internal/realtime"
	"cfduel/internal/repository"
	"cfduel/internal/scoring"

	"golang.org/x/time/rate"
)

// Point schedule per provisioned problem, in selection order. These
// constants are part of the server contract with clients.
const (
	easyBasePoints = 500
	easyMinPoints  = 250
	hardBasePoints = 1000
	hardMinPoints  = 500
)

// Finalization triggers, for metrics.
const (
	TriggerTimer   = "timer"
	TriggerRestart = "restart"
)

// CheckResult is the outcome of a submission check.
type CheckResult struct {
	Solved        bool
	AlreadySolved bool
	Points        int
	Reason        string
}

// GameService orchestrates game start, submission verification and the
// auto-finalization sweep.
type GameService struct {
	roomRepo    repository.RoomRepository
	scoreRepo   repository.ScoreRepository
	judgeClient judge.Client
	broadcaster Broadcaster

	// sweepLimiter paces per-participant judge calls during finalization.
	sweepLimiter *rate.Limiter

	// finalizeRetryDelay is how long AutoFinalize waits before retrying
	// after a transient persistence failure.
	finalizeRetryDelay time.Duration
}

// NewGameService returns a new GameService.
func NewGameService(
	roomRepo repository.RoomRepository,
	scoreRepo repository.ScoreRepository,
	judgeClient judge.Client,
	broadcaster Broadcaster,
) *GameService {
	return &GameService{
		roomRepo:           roomRepo,
		scoreRepo:          scoreRepo,
		judgeClient:        judgeClient,
		broadcaster:        broadcaster,
		sweepLimiter:       rate.NewLimiter(rate.Every(time.Second), 1),
		finalizeRetryDelay: 5 * time.Second,
	}
}

// StartGame provisions problems and transitions the room to started.
// game-starting goes out before the provisioning round-trip so every
// client reacts immediately; game-started follows with the problems and
// the authoritative clock.
func (s *GameService) StartGame(ctx context.Context, code string, byUserID uint) error {
	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if room.HostID != byUserID {
		return models.NewForbiddenError("Only the host can start the game")
	}
	if room.Status != models.RoomWaiting {
		return models.NewConflictError("The game has already started")
	}
	if len(room.Participants) < 2 {
		return models.NewValidationError("Need at least 2 players to start")
	}

	s.broadcaster.Publish(code, realtime.NewGameStartingEvent(code))

	all, err := s.judgeClient.ListAllProblems(ctx)
	if err != nil {
		return err
	}

	lower, upper := partitionProblems(all, room.MinRating, room.MaxRating)
	if len(lower) == 0 || len(upper) == 0 {
		return models.NewInsufficientProblemsError()
	}

	easy := lower[rand.Intn(len(lower))]
	hard := upper[rand.Intn(len(upper))]
	problems := []models.RoomProblem{
		{
			ContestID:    easy.ContestID,
			ProblemIndex: easy.Index,
			Rating:       *easy.Rating,
			BasePoints:   easyBasePoints,
			MinPoints:    easyMinPoints,
		},
		{
			ContestID:    hard.ContestID,
			ProblemIndex: hard.Index,
			Rating:       *hard.Rating,
			BasePoints:   hardBasePoints,
			MinPoints:    hardMinPoints,
		},
	}

	startedAt := time.Now()
	if err := s.roomRepo.StartGame(ctx, room.ID, problems, startedAt); err != nil {
		if errors.Is(err, repository.ErrAlreadyStarted) {
			return models.NewConflictError("The game has already started")
		}
		return err
	}

	duration := room.Duration()
	s.broadcaster.StartGameRuntime(code, startedAt, duration)
	s.broadcaster.Publish(code, realtime.NewGameStartedEvent(code, problems, startedAt, duration))
	observability.GamesStartedTotal.Inc()
	return nil
}

// partitionProblems splits the rated problems of [minRating, maxRating]
// at the midpoint: lower is [minRating, mid], upper is (mid, maxRating].
// Unrated problems are skipped.
func partitionProblems(all []judge.Problem, minRating, maxRating int) (lower, upper []judge.Problem) {
	mid := (minRating + maxRating) / 2
	for _, p := range all {
		if p.Rating == nil {
			continue
		}
		r := *p.Rating
		switch {
		case r >= minRating && r <= mid:
			lower = append(lower, p)
		case r > mid && r <= maxRating:
			upper = append(upper, p)
		}
	}
	return lower, upper
}

// CheckSubmission verifies a participant's claim on one of the room's
// problems against the judge and persists the score on success. The solve
// time is the judge's submission creation instant, never the server clock.
func (s *GameService) CheckSubmission(ctx context.Context, code string, userID uint, contestID int, index string) (*CheckResult, error) {
	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStarted || room.StartedAt == nil {
		return nil, models.NewConflictError("The game is not running")
	}
	if !room.HasParticipant(userID) {
		return nil, models.NewForbiddenError("You are not in this room")
	}

	var problem *models.RoomProblem
	for i := range room.Problems {
		if room.Problems[i].ContestID == contestID && room.Problems[i].ProblemIndex == index {
			problem = &room.Problems[i]
			break
		}
	}
	if problem == nil {
		return nil, models.NewValidationError("That problem is not part of this game")
	}

	// Short-circuit before any judge traffic when the claim already
	// exists; only the requester learns about it.
	if prior, err := s.scoreRepo.GetClaim(ctx, room.ID, userID, contestID, index); err != nil {
		return nil, err
	} else if prior != nil {
		return &CheckResult{Solved: true, AlreadySolved: true, Points: prior.Points}, nil
	}

	var handle string
	for _, p := range room.Participants {
		if p.UserID == userID {
			handle = p.User.Handle
		}
	}

	subs, err := s.judgeClient.ListRecentSubmissions(ctx, handle, judge.DefaultSubmissionCount)
	if err != nil {
		return nil, err
	}

	accepted, found := earliestAccepted(subs, contestID, index, *room.StartedAt, time.Time{})
	if !found {
		return &CheckResult{
			Solved: false,
			Reason: "No accepted submission found since the game started",
		}, nil
	}

	points := scoring.Points(problem.BasePoints, problem.MinPoints, *room.StartedAt, accepted.CreationTime)
	score := &models.Score{
		RoomID:       room.ID,
		UserID:       userID,
		ContestID:    contestID,
		ProblemIndex: index,
		SolvedAt:     accepted.CreationTime,
		Points:       points,
	}
	inserted, err := s.scoreRepo.Insert(ctx, score)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent check won the claim; report its stored points.
		prior, err := s.scoreRepo.GetClaim(ctx, room.ID, userID, contestID, index)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, models.NewInternalError(nil)
		}
		return &CheckResult{Solved: true, AlreadySolved: true, Points: prior.Points}, nil
	}

	s.broadcaster.Publish(code, realtime.NewProblemSolvedEvent(userID, handle, contestID, index, points))

	entries, err := s.Leaderboard(ctx, code)
	if err == nil {
		s.broadcaster.Publish(code, realtime.NewLeaderboardUpdateEvent(code, entries))
	}

	return &CheckResult{Solved: true, Points: points}, nil
}

// earliestAccepted selects the earliest accepted submission for the
// problem strictly after the window start and, when notAfter is set, at or
// before it.
func earliestAccepted(subs []judge.Submission, contestID int, index string, after time.Time, notAfter time.Time) (judge.Submission, bool) {
	var best judge.Submission
	found := false
	for _, sub := range subs {
		if sub.ContestID != contestID || sub.Index != index || !sub.Accepted() {
			continue
		}
		if !sub.CreationTime.After(after) {
			continue
		}
		if !notAfter.IsZero() && sub.CreationTime.After(notAfter) {
			continue
		}
		if !found || sub.CreationTime.Before(best.CreationTime) {
			best = sub
			found = true
		}
	}
	return best, found
}

// Leaderboard projects the room's current standings.
func (s *GameService) Leaderboard(ctx context.Context, code string) ([]scoring.Entry, error) {
	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	scores, err := s.scoreRepo.ListByRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	return scoring.Leaderboard(scores, room.Participants), nil
}

// AutoFinalize runs when the game clock expires (or at restart recovery
// for overdue games). It transitions the room to ended exactly once, then
// sweeps every participant's recent submissions for solves clients never
// checked in, and finally fans out game-ended with the last standings.
// Transient persistence failures re-arm the finalizer; only a missing room
// gives up.
func (s *GameService) AutoFinalize(code string, trigger string) {
	ctx := context.Background()

	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			// Room already cascade-deleted; nothing to finalize.
			s.broadcaster.CancelGameRuntime(code)
			return
		}
		s.retryFinalize(code, trigger, err)
		return
	}

	finalized, err := s.roomRepo.FinalizeRoom(ctx, room.ID)
	if err != nil {
		s.retryFinalize(code, trigger, err)
		return
	}

	if finalized {
		observability.LogSweepStart(ctx, code, len(room.Participants))
		scored := s.sweep(ctx, room)
		observability.LogSweepEnd(ctx, code, scored)
		observability.GamesFinalizedTotal.WithLabelValues(trigger).Inc()
	}
	// When the room was already ended (timer replay after a restart) the
	// scoring phase is skipped but game-ended still goes out so late
	// clients converge.

	entries, err := s.Leaderboard(ctx, code)
	if err != nil {
		entries = nil
	}
	s.broadcaster.Publish(code, realtime.NewGameEndedEvent(code, entries))
	s.broadcaster.CancelGameRuntime(code)
	s.broadcaster.CancelRoomGraces(code)
}

// retryFinalize re-arms AutoFinalize after a transient failure. The room
// still holds started status, so giving up here would strand it unended.
func (s *GameService) retryFinalize(code, trigger string, cause error) {
	observability.LogFinalizeRetry(context.Background(), code, s.finalizeRetryDelay, cause)
	time.AfterFunc(s.finalizeRetryDelay, func() {
		s.AutoFinalize(code, trigger)
	})
}

// isNotFound reports whether err is the repository's not-found mapping.
func isNotFound(err error) bool {
	var appErr *models.AppError
	return errors.As(err, &appErr) && appErr.Code == models.CodeNotFound
}

// sweep credits unclaimed solves inside the game window. Per-participant
// failures are logged and skipped; a sweep never blocks finalization.
func (s *GameService) sweep(ctx context.Context, room *models.Room) int {
	if room.StartedAt == nil {
		return 0
	}
	windowStart := *room.StartedAt
	windowEnd := room.EndsAt()
	scored := 0

	for _, participant := range room.Participants {
		if err := s.sweepLimiter.Wait(ctx); err != nil {
			return scored
		}

		handle := participant.User.Handle
		subs, err := s.judgeClient.ListRecentSubmissions(ctx, handle, judge.DefaultSubmissionCount)
		if err != nil {
			observability.LogSweepParticipantError(ctx, room.Code, handle, err)
			continue
		}

		for _, problem := range room.Problems {
			prior, err := s.scoreRepo.GetClaim(ctx, room.ID, participant.UserID, problem.ContestID, problem.ProblemIndex)
			if err != nil || prior != nil {
				continue
			}

			accepted, found := earliestAccepted(subs, problem.ContestID, problem.ProblemIndex, windowStart, windowEnd)
			if !found {
				continue
			}

			points := scoring.Points(problem.BasePoints, problem.MinPoints, windowStart, accepted.CreationTime)
			inserted, err := s.scoreRepo.Insert(ctx, &models.Score{
				RoomID:       room.ID,
				UserID:       participant.UserID,
				ContestID:    problem.ContestID,
				ProblemIndex: problem.ProblemIndex,
				SolvedAt:     accepted.CreationTime,
				Points:       points,
			})
			if err != nil {
				observability.LogSweepParticipantError(ctx, room.Code, handle, err)
				continue
			}
			if inserted {
				scored++
			}
		}
	}
	return scored
}

// SolvedSet returns the caller's claimed problems in a room, for state
// resync after a reconnect.
func (s *GameService) SolvedSet(ctx context.Context, code string, userID uint) ([]models.Score, error) {
	room, err := s.roomRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.scoreRepo.ListByRoomAndUser(ctx, room.ID, userID)
}
