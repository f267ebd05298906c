package paging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/w3c/groups-server/internal/errors"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) policy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		s.delays = append(s.delays, d)
		return nil
	}
	return p
}

func TestCursorFollowsPages(t *testing.T) {
	pages := map[string][]int{"": {1, 2}, "c1": {3}, "c2": {4, 5}}
	next := map[string]string{"": "c1", "c1": "c2"}
	var seen []string

	it := Cursor(func(_ context.Context, cursor *string) ([]int, PageInfo, error) {
		key := ""
		if cursor != nil {
			key = *cursor
		}
		seen = append(seen, key)
		return pages[key], PageInfo{EndCursor: next[key], HasNextPage: next[key] != ""}, nil
	}, DefaultRetryPolicy())

	items, err := Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)
	assert.Equal(t, []string{"", "c1", "c2"}, seen)
}

func TestCursorEmptyPagesAreSkipped(t *testing.T) {
	calls := 0
	it := Cursor(func(_ context.Context, cursor *string) ([]string, PageInfo, error) {
		calls++
		if cursor == nil {
			return nil, PageInfo{EndCursor: "x", HasNextPage: true}, nil
		}
		return []string{"only"}, PageInfo{}, nil
	}, DefaultRetryPolicy())

	items, err := Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, items)
	assert.Equal(t, 2, calls)
}

func TestHypermediaStopsOnLastPage(t *testing.T) {
	var hrefs []string
	it := Hypermedia("/groups?page=1", func(_ context.Context, href string) ([]string, Links, error) {
		hrefs = append(hrefs, href)
		switch href {
		case "/groups?page=1":
			return []string{"a"}, Links{Next: "/groups?page=2", Page: 1, Pages: 2}, nil
		case "/groups?page=2":
			// a next link on the last page must not be followed
			return []string{"b"}, Links{Next: "/groups?page=3", Page: 2, Pages: 2}, nil
		}
		return nil, Links{}, fmt.Errorf("unexpected %s", href)
	}, DefaultRetryPolicy())

	items, err := Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
	assert.Equal(t, []string{"/groups?page=1", "/groups?page=2"}, hrefs)
}

func TestHypermediaStopsWithoutNextLink(t *testing.T) {
	it := Hypermedia("/services", func(_ context.Context, _ string) ([]int, Links, error) {
		return []int{7}, Links{Page: 1, Pages: 5}, nil
	}, DefaultRetryPolicy())

	items, err := Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, items)
}

func TestRateLimitedPageIsRetried(t *testing.T) {
	rec := &sleepRecorder{}
	attempts := 0
	it := Cursor(func(_ context.Context, cursor *string) ([]int, PageInfo, error) {
		if cursor != nil {
			attempts++
			if attempts < 3 {
				return nil, PageInfo{}, apperrors.NewRateLimitedError("slow down", 5*time.Second)
			}
			return []int{2}, PageInfo{}, nil
		}
		return []int{1}, PageInfo{EndCursor: "next", HasNextPage: true}, nil
	}, rec.policy())

	items, err := Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, items)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, rec.delays)
}

func TestRetryCeilingKeepsPartialResults(t *testing.T) {
	rec := &sleepRecorder{}
	attempts := 0
	it := Cursor(func(_ context.Context, cursor *string) ([]int, PageInfo, error) {
		if cursor == nil {
			return []int{1, 2}, PageInfo{EndCursor: "next", HasNextPage: true}, nil
		}
		attempts++
		return nil, PageInfo{}, apperrors.NewRateLimitedError("secondary rate limit", 0)
	}, rec.policy())

	items, err := Collect(context.Background(), it)
	assert.True(t, apperrors.IsRateLimited(err))
	assert.Equal(t, []int{1, 2}, items)
	assert.Equal(t, 1+MaxRetries, attempts)
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay, DefaultRetryDelay}, rec.delays)

	// the iterator stays stopped
	assert.False(t, it.Next(context.Background()))
	assert.Equal(t, 1+MaxRetries, attempts)
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	boom := errors.New("boom")
	calls := 0
	it := Hypermedia("/x", func(_ context.Context, _ string) ([]int, Links, error) {
		calls++
		return nil, Links{}, boom
	}, rec.policy())

	_, err := Collect(context.Background(), it)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoStopsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, DefaultRetryPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, apperrors.NewRateLimitedError("wait", time.Hour)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
