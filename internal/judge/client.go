// Package judge implements the typed client for the external judge API.
// It exposes the three read endpoints the platform needs: resolving a
// user handle, listing the global problem set, and listing a user's
// recent submissions.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cfduel/internal/cache"
	"cfduel/internal/models"
	"cfduel/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
)

// VerdictAccepted is the verdict string the judge uses for a passing
// submission.
const VerdictAccepted = "OK"

// DefaultSubmissionCount is how many recent submissions a verification
// pass inspects.
const DefaultSubmissionCount = 50

// User is a judge account resolved by handle.
type User struct {
	Handle string `json:"handle"`
	Rating int    `json:"rating"`
	Avatar string `json:"avatar"`
}

// Problem identifies a judge problem. Rating is nil for unrated problems.
type Problem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Rating    *int   `json:"rating"`
}

// Submission is one entry from a user's recent submission list.
type Submission struct {
	ContestID    int
	Index        string
	Verdict      string
	CreationTime time.Time
}

// Accepted reports whether the submission passed all tests.
func (s Submission) Accepted() bool {
	return s.Verdict == VerdictAccepted
}

// Client is the read-side facade over the external judge.
type Client interface {
	ResolveUser(ctx context.Context, handle string) (*User, error)
	ListAllProblems(ctx context.Context) ([]Problem, error)
	ListRecentSubmissions(ctx context.Context, handle string, count int) ([]Submission, error)
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a judge client against the given base URL. Every
// call is bounded by the given timeout; on expiry the call fails with
// a JudgeUnavailable error.
func NewClient(baseURL string, timeout time.Duration) Client {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// errUnknownHandle is the internal sentinel for a judge-level "handle not
// found" reply. Callers translate it with the handle they asked for.
var errUnknownHandle = errors.New("judge: unknown handle")

// call performs one GET against the judge and decodes the result payload
// of its response envelope into result.
func (c *httpClient) call(ctx context.Context, endpoint string, query url.Values, result any) error {
	timer := prometheus.NewTimer(observability.JudgeRequestLatency.WithLabelValues(endpoint))
	defer timer.ObserveDuration()

	u := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		observability.JudgeRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return models.NewJudgeUnavailableError(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.JudgeRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return models.NewJudgeUnavailableError(err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Status  string          `json:"status"`
		Comment string          `json:"comment"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		observability.JudgeRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return models.NewJudgeUnavailableError(fmt.Errorf("decoding judge response: %w", err))
	}

	if envelope.Status != "OK" {
		// The judge reports an unknown handle as a failed status with a
		// "... not found" comment rather than a dedicated code.
		if strings.Contains(strings.ToLower(envelope.Comment), "not found") {
			observability.JudgeRequestsTotal.WithLabelValues(endpoint, "unknown_handle").Inc()
			return errUnknownHandle
		}
		observability.JudgeRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		if envelope.Comment != "" {
			return models.NewJudgeUnavailableError(errors.New(envelope.Comment))
		}
		return models.NewJudgeUnavailableError(fmt.Errorf("judge returned HTTP %d", resp.StatusCode))
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		observability.JudgeRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return models.NewJudgeUnavailableError(fmt.Errorf("decoding judge result: %w", err))
	}

	observability.JudgeRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

type userInfoPayload struct {
	Handle     string `json:"handle"`
	Rating     int    `json:"rating"`
	Avatar     string `json:"avatar"`
	TitlePhoto string `json:"titlePhoto"`
}

// ResolveUser looks up a handle on the judge. Resolved users are cached
// for a short TTL so repeated logins do not hammer the judge.
func (c *httpClient) ResolveUser(ctx context.Context, handle string) (*User, error) {
	var user User
	key := cache.JudgeUserKey(strings.ToLower(handle))
	err := cache.Aside(ctx, key, &user, cache.JudgeUserTTL, func() error {
		var result []userInfoPayload
		if err := c.call(ctx, "user.info", url.Values{"handles": {handle}}, &result); err != nil {
			if errors.Is(err, errUnknownHandle) {
				return models.NewUnknownHandleError(handle)
			}
			return err
		}
		if len(result) == 0 {
			return models.NewUnknownHandleError(handle)
		}

		info := result[0]
		avatar := info.Avatar
		if avatar == "" {
			avatar = info.TitlePhoto
		}
		user = User{
			Handle: info.Handle,
			Rating: info.Rating,
			Avatar: avatar,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListAllProblems fetches the judge's full problem set. The result is not
// cached; game starts are rare relative to the payload's churn.
func (c *httpClient) ListAllProblems(ctx context.Context) ([]Problem, error) {
	var result struct {
		Problems []Problem `json:"problems"`
	}
	if err := c.call(ctx, "problemset.problems", nil, &result); err != nil {
		if errors.Is(err, errUnknownHandle) {
			return nil, models.NewJudgeUnavailableError(errUnknownHandle)
		}
		return nil, err
	}
	return result.Problems, nil
}

type submissionPayload struct {
	Problem struct {
		ContestID int    `json:"contestId"`
		Index     string `json:"index"`
	} `json:"problem"`
	Verdict             string `json:"verdict"`
	CreationTimeSeconds int64  `json:"creationTimeSeconds"`
}

// ListRecentSubmissions returns the user's most recent submissions,
// newest first, as the judge orders them.
func (c *httpClient) ListRecentSubmissions(ctx context.Context, handle string, count int) ([]Submission, error) {
	if count <= 0 {
		count = DefaultSubmissionCount
	}

	query := url.Values{
		"handle": {handle},
		"from":   {"1"},
		"count":  {fmt.Sprint(count)},
	}
	var result []submissionPayload
	if err := c.call(ctx, "user.status", query, &result); err != nil {
		if errors.Is(err, errUnknownHandle) {
			return nil, models.NewUnknownHandleError(handle)
		}
		return nil, err
	}

	subs := make([]Submission, 0, len(result))
	for _, s := range result {
		subs = append(subs, Submission{
			ContestID:    s.Problem.ContestID,
			Index:        s.Problem.Index,
			Verdict:      s.Verdict,
			CreationTime: time.Unix(s.CreationTimeSeconds, 0),
		})
	}
	return subs, nil
}
