// Package identity is a client for the identity admin backend that owns user
// auth records and their custom claims.
//
// Every call goes through a circuit breaker and is retried on 429 and 5xx
// responses with exponential backoff.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrUserNotFound is returned when the backend has no record for the user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable is returned when the backend can't be reached or keeps failing.
	ErrUnavailable = errors.New("identity backend unavailable")
)

// User is the backend's auth record.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

// RetryPolicy configures retries on transient failures.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    200 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// Client talks to the identity admin API.
type Client struct {
	baseURL     string
	token       string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	sleepFn     func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = p
	}
}

// WithSleepFunc overrides the wait between retries. Meant for tests.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleepFn = fn
	}
}

// NewClient returns a client for the API at baseURL, authenticating with a bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryPolicy: DefaultRetryPolicy(),
		sleepFn:     sleepContext,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "identity",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetUser fetches the auth record for the user.
func (c *Client) GetUser(ctx context.Context, uid string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(uid), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrUserNotFound, "uid %s", uid)
	case resp.StatusCode >= 300:
		return nil, statusError(resp)
	}

	var u User
	err = json.NewDecoder(resp.Body).Decode(&u)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode user")
	}
	if u.UID == "" {
		u.UID = uid
	}
	return &u, nil
}

// SetCustomClaims replaces the custom claims of the user.
func (c *Client) SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error {
	body, err := json.Marshal(claims)
	if err != nil {
		return errors.Wrap(err, "failed to encode claims")
	}
	resp, err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(uid)+"/claims", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(ErrUserNotFound, "uid %s", uid)
	case resp.StatusCode >= 300:
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// do sends the request, retrying on 429 and 5xx. The caller closes the response body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				r.Body.Close()
				return nil, errors.Newf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Don't retry when the breaker is open or the caller gave up
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts-1 {
			err = c.sleepFn(ctx, c.backoff(attempt))
			if err != nil {
				lastErr = errors.CombineErrors(err, lastErr)
				break
			}
		}
	}

	return nil, errors.Mark(errors.Wrapf(lastErr, "%s %s", method, path), ErrUnavailable)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Exponential backoff with full jitter, clamped to [MinWait, MaxWait].
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	upper := math.Min(base, float64(c.retryPolicy.MaxWait))
	wait := time.Duration(rand.Float64() * upper)
	if wait < c.retryPolicy.MinWait {
		wait = c.retryPolicy.MinWait
	}
	return wait
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return errors.Newf("identity backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
