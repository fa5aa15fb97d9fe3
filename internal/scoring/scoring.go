// Package scoring holds the time-decay point formula and the leaderboard
// projection derived from persisted scores.
package scoring

import (
	"sort"
	"time"

	"cfduel/internal/models"
)

// DecayPerMinute is how many points a problem loses per whole elapsed minute.
const DecayPerMinute = 5

// Points computes the award for a solve. The base decays by DecayPerMinute
// for every whole minute between the game start and the solve instant,
// floored at min. solveAt is the judge's submission creation time, never
// the server clock.
func Points(base, min int, startAt, solvedAt time.Time) int {
	elapsedMin := int(solvedAt.Sub(startAt) / time.Minute)
	points := base - DecayPerMinute*elapsedMin
	if points < min {
		return min
	}
	return points
}

// ProblemScore is one solved problem inside a leaderboard entry.
type ProblemScore struct {
	ContestID    int       `json:"contestId"`
	ProblemIndex string    `json:"index"`
	Points       int       `json:"points"`
	SolvedAt     time.Time `json:"solvedAt"`
}

// Entry is one row of the leaderboard.
type Entry struct {
	UserID        uint           `json:"userId"`
	Handle        string         `json:"handle"`
	Avatar        string         `json:"avatar"`
	TotalPoints   int            `json:"totalPoints"`
	SolvedCount   int            `json:"solvedCount"`
	ProblemScores []ProblemScore `json:"problemScores"`
}

// Leaderboard projects the room's standings from its scores and its
// participant set. Every participant gets a row; scoreless players show
// zero points and an empty problem list. Ordering: total points
// descending, then earliest solve ascending (the player who reached their
// points first wins ties), then handle ascending. The projection is
// computed on demand and never stored.
func Leaderboard(scores []models.Score, participants []models.RoomParticipant) []Entry {
	byUser := make(map[uint]*Entry)
	firstSolve := make(map[uint]time.Time)

	for _, p := range participants {
		byUser[p.UserID] = &Entry{
			UserID:        p.UserID,
			Handle:        p.User.Handle,
			Avatar:        p.User.Avatar,
			ProblemScores: []ProblemScore{},
		}
	}

	for _, s := range scores {
		entry, ok := byUser[s.UserID]
		if !ok {
			// Scored during play but no longer seated; the points stand.
			entry = &Entry{
				UserID: s.UserID,
				Handle: s.User.Handle,
				Avatar: s.User.Avatar,
			}
			byUser[s.UserID] = entry
		}
		if prior, seen := firstSolve[s.UserID]; !seen || s.SolvedAt.Before(prior) {
			firstSolve[s.UserID] = s.SolvedAt
		}

		entry.TotalPoints += s.Points
		entry.SolvedCount++
		entry.ProblemScores = append(entry.ProblemScores, ProblemScore{
			ContestID:    s.ContestID,
			ProblemIndex: s.ProblemIndex,
			Points:       s.Points,
			SolvedAt:     s.SolvedAt,
		})
	}

	entries := make([]Entry, 0, len(byUser))
	for _, e := range byUser {
		sort.Slice(e.ProblemScores, func(i, j int) bool {
			return e.ProblemScores[i].SolvedAt.Before(e.ProblemScores[j].SolvedAt)
		})
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		fa, fb := firstSolve[a.UserID], firstSolve[b.UserID]
		if !fa.Equal(fb) {
			return fa.Before(fb)
		}
		return a.Handle < b.Handle
	})

	return entries
}
