// Package paging hides the two paging conventions used upstream behind one pull iterator.
//
// The hosting GraphQL API pages with an opaque cursor and a hasNextPage flag, the group
// directory with HAL links and a page/pages counter. Both are consumed the same way:
//
//	it := paging.Cursor(fetch, paging.DefaultRetryPolicy())
//	for it.Next(ctx) {
//		use(it.Value())
//	}
//	if err := it.Err(); err != nil {
//		// the items already seen are an incomplete listing
//	}
//
// Only one page is ever in flight for an iterator. An iterator is not resumable after an
// error; build a new one to start over.
package paging

import "context"

// PageInfo is the cursor convention paging state
type PageInfo struct {
	EndCursor   string
	HasNextPage bool
}

// CursorFetch fetches the page after cursor; cursor is nil for the first page
type CursorFetch[T any] func(ctx context.Context, cursor *string) ([]T, PageInfo, error)

// Links is the hypermedia convention paging state
type Links struct {
	Next  string
	Page  int
	Pages int
}

// LinkFetch fetches the page at href
type LinkFetch[T any] func(ctx context.Context, href string) ([]T, Links, error)

// step fetches one page and reports whether there is another one
type step[T any] func(ctx context.Context) ([]T, bool, error)

type fetched[T any] struct {
	items []T
	more  bool
}

// Iterator yields the items of a paged listing one at a time
type Iterator[T any] struct {
	step   step[T]
	policy RetryPolicy

	buf  []T
	cur  T
	more bool
	err  error
}

// Cursor returns an iterator over a cursor paged listing
func Cursor[T any](fetch CursorFetch[T], policy RetryPolicy) *Iterator[T] {
	var cursor *string
	s := func(ctx context.Context) ([]T, bool, error) {
		items, info, err := fetch(ctx, cursor)
		if err != nil {
			return nil, false, err
		}
		if !info.HasNextPage || info.EndCursor == "" {
			return items, false, nil
		}
		next := info.EndCursor
		cursor = &next
		return items, true, nil
	}
	return newIterator(s, policy)
}

// Hypermedia returns an iterator over a listing that starts at first and follows next links.
// Iteration stops when there is no next link or the current page is the last one.
func Hypermedia[T any](first string, fetch LinkFetch[T], policy RetryPolicy) *Iterator[T] {
	href := first
	s := func(ctx context.Context) ([]T, bool, error) {
		items, links, err := fetch(ctx, href)
		if err != nil {
			return nil, false, err
		}
		if links.Next == "" || (links.Pages > 0 && links.Page >= links.Pages) {
			return items, false, nil
		}
		href = links.Next
		return items, true, nil
	}
	return newIterator(s, policy)
}

func newIterator[T any](s step[T], policy RetryPolicy) *Iterator[T] {
	return &Iterator[T]{step: s, policy: policy, more: true}
}

// Next advances to the next item, fetching a page when the current one is exhausted.
// It returns false at the end of the listing or on error.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	for len(it.buf) == 0 {
		if !it.more || it.err != nil {
			return false
		}
		p, err := Do(ctx, it.policy, func(ctx context.Context) (fetched[T], error) {
			items, more, err := it.step(ctx)
			return fetched[T]{items, more}, err
		})
		if err != nil {
			it.err = err
			it.more = false
			return false
		}
		it.buf = p.items
		it.more = p.more
	}
	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Value returns the current item
func (it *Iterator[T]) Value() T {
	return it.cur
}

// Err returns the error that stopped the iteration, if any
func (it *Iterator[T]) Err() error {
	return it.err
}

// Collect drains the iterator. On error the items read so far are returned with it.
func Collect[T any](ctx context.Context, it *Iterator[T]) ([]T, error) {
	var out []T
	for it.Next(ctx) {
		out = append(out, it.Value())
	}
	return out, it.Err()
}
