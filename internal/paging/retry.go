package paging

import (
	"context"
	"time"

	apperrors "github.com/w3c/groups-server/internal/errors"
)

// MaxRetries is the number of times a rate-limited request is retried before giving up
const MaxRetries = 3

// DefaultRetryDelay is used when the upstream does not suggest a delay
const DefaultRetryDelay = time.Second

// RetryPolicy decides how rate-limited page fetches and lookups are retried
type RetryPolicy struct {
	MaxRetries   int
	DefaultDelay time.Duration

	// Sleep waits for d or until ctx is done. Nil means a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each retry, if set
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns the policy used by both upstream clients
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   MaxRetries,
		DefaultDelay: DefaultRetryDelay,
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn, retrying it while it fails with a rate-limit error.
// Other errors and the error of the last allowed attempt are returned as is.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		delay, limited := apperrors.RetryAfter(err)
		if !limited || attempt >= p.MaxRetries {
			return v, err
		}
		if delay <= 0 {
			delay = p.DefaultDelay
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			return v, serr
		}
	}
}
