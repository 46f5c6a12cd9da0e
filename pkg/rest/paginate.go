package rest

import (
	"context"
	"fmt"
)

// MaxCollect is the hard cap on items gathered by Collect.
const MaxCollect = 1000

// maxPages stops runaway pagination on vendors that hand out empty pages
// with fresh cursors.
const maxPages = 200

// Page is one page of results and the cursor for the next one. Next is empty
// on the last page. Cursors are opaque: a token, an offset or a next link.
type Page[T any] struct {
	Items []T
	Next  string
}

// PageFunc fetches the page at cursor; the first call gets "".
type PageFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Collect follows pages until they run out or limit items are gathered.
// limit <= 0 or above MaxCollect is clamped to MaxCollect. The result is
// never nil, so an empty listing encodes as [].
func Collect[T any](ctx context.Context, limit int, fetch PageFunc[T]) ([]T, error) {
	if limit <= 0 || limit > MaxCollect {
		limit = MaxCollect
	}
	items := []T{}
	var cursor string
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		p, err := fetch(ctx, cursor)
		if err != nil {
			return items, fmt.Errorf("page %d: %w", page, err)
		}
		items = append(items, p.Items...)
		if len(items) >= limit {
			return items[:limit], nil
		}
		if p.Next == "" || p.Next == cursor {
			return items, nil
		}
		cursor = p.Next
	}
	return items, nil
}

// ClampLimit returns limit bounded to [1, MaxCollect], or def when unset.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxCollect {
		limit = MaxCollect
	}
	return limit
}
