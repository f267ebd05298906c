package collector

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/logging"
)

const (
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
	headerRetryAfter    = "Retry-After"

	// GitHub asks to wait at least a minute after a secondary rate limit without Retry-After
	secondaryRateLimitDelay = time.Minute
)

// RateLimiter manages GitHub API rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time, err error)
	UpdateLimit(remaining int, resetTime time.Time)
}

// githubRateLimiter implements RateLimiter for GitHub API
type githubRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	minBuffer int
	bucket    *rate.Limiter
}

// NewRateLimiter creates a rate limiter allowing perSecond requests on average
func NewRateLimiter(perSecond float64) RateLimiter {
	return &githubRateLimiter{
		remaining: 5000, // GitHub API default limit
		resetTime: time.Now().Add(time.Hour),
		minBuffer: 10,
		bucket:    rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Wait waits until it's safe to make another API call
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining, resetTime := r.remaining, r.resetTime
	r.mu.Unlock()

	if remaining > r.minBuffer {
		return nil
	}
	if wait := time.Until(resetTime); wait > 0 {
		logging.FromContext(ctx).Warn().
			Int("remaining", remaining).
			Dur("wait", wait.Round(time.Second)).
			Msg("rate limit low, waiting for reset")
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	r.mu.Lock()
	r.remaining = 5000
	r.resetTime = time.Now().Add(time.Hour)
	r.mu.Unlock()
	return nil
}

// CheckLimit returns the current rate limit status
func (r *githubRateLimiter) CheckLimit() (remaining int, resetTime time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime, nil
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}

// rateLimitTransport throttles requests and turns rate-limit responses into
// RATE_LIMITED errors carrying the delay suggested by the server
type rateLimitTransport struct {
	base    http.RoundTripper
	limiter RateLimiter
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.updateFromResponse(resp)

	if limited := rateLimitFromResponse(resp); limited != nil {
		resp.Body.Close()
		return nil, limited
	}
	return resp, nil
}

func (t *rateLimitTransport) updateFromResponse(resp *http.Response) {
	remaining, err := strconv.Atoi(resp.Header.Get(headerRateRemaining))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(resp.Header.Get(headerRateReset), 10, 64)
	if err != nil {
		return
	}
	t.limiter.UpdateLimit(remaining, time.Unix(reset, 0))
}

// rateLimitFromResponse returns a RATE_LIMITED error when resp is a primary or secondary
// rate limit rejection
func rateLimitFromResponse(resp *http.Response) *apperrors.AppError {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusForbidden {
		return nil
	}

	if s := resp.Header.Get(headerRetryAfter); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			return apperrors.NewRateLimitedError("secondary rate limit", time.Duration(secs)*time.Second)
		}
	}

	if resp.Header.Get(headerRateRemaining) == "0" {
		delay := time.Duration(0)
		if reset, err := strconv.ParseInt(resp.Header.Get(headerRateReset), 10, 64); err == nil {
			delay = time.Until(time.Unix(reset, 0))
		}
		return apperrors.NewRateLimitedError("rate limit exceeded", max(delay, time.Second))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewRateLimitedError("too many requests", secondaryRateLimitDelay)
	}

	// A 403 without headers is only a rate limit when the message says so; the body is
	// restored for the caller otherwise.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err == nil && strings.Contains(strings.ToLower(string(body)), "rate limit") {
		return apperrors.NewRateLimitedError("secondary rate limit", secondaryRateLimitDelay)
	}
	return nil
}
