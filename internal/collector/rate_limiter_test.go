package collector

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, headers map[string]string, body string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func TestRateLimitFromResponse(t *testing.T) {
	reset := strconv.FormatInt(time.Now().Add(30*time.Second).Unix(), 10)

	tests := []struct {
		name    string
		resp    *http.Response
		limited bool
		atLeast time.Duration
	}{
		{"ok", response(200, nil, "{}"), false, 0},
		{"not found", response(404, nil, "{}"), false, 0},
		{"retry after", response(403, map[string]string{"Retry-After": "12"}, ""), true, 12 * time.Second},
		{"primary exhausted", response(403, map[string]string{headerRateRemaining: "0", headerRateReset: reset}, ""), true, 20 * time.Second},
		{"too many requests", response(429, nil, ""), true, time.Minute},
		{"secondary by message", response(403, nil, `{"message":"You have exceeded a secondary rate limit."}`), true, time.Minute},
		{"plain forbidden", response(403, nil, `{"message":"Resource not accessible by integration"}`), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rateLimitFromResponse(tt.resp)
			if !tt.limited {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.GreaterOrEqual(t, err.RetryAfter, tt.atLeast)
		})
	}
}

func TestPlainForbiddenKeepsBody(t *testing.T) {
	resp := response(403, nil, `{"message":"forbidden"}`)
	require.Nil(t, rateLimitFromResponse(resp))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"forbidden"}`, string(body))
}

type stubTransport struct {
	resp *http.Response
}

func (s stubTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return s.resp, nil
}

func TestTransportUpdatesLimiter(t *testing.T) {
	reset := time.Now().Add(time.Hour).Truncate(time.Second)
	rl := NewRateLimiter(1000)
	tr := &rateLimitTransport{
		base: stubTransport{resp: response(200, map[string]string{
			headerRateRemaining: "4321",
			headerRateReset:     strconv.FormatInt(reset.Unix(), 10),
		}, "{}")},
		limiter: rl,
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://api.github.com/users/w3c", nil)
	require.NoError(t, err)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	remaining, resetTime, err := rl.CheckLimit()
	require.NoError(t, err)
	assert.Equal(t, 4321, remaining)
	assert.True(t, reset.Equal(resetTime))
}
