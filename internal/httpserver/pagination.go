package httpserver

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultPageSize is ParseCursorParams' default limit. HandlePull does
	// not use it; it reads its limit from the request body with its own
	// default.
	DefaultPageSize = 100
	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 500
)

// EncodeCursor serialises a pull cursor: the opaque string is simply the
// last included row's updated_at, base64-encoded so it reads as an opaque
// token to clients.
func EncodeCursor(t time.Time) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(t.UnixMicro(), 10)))
}

// DecodeCursor parses a pull cursor back into a timestamp.
func DecodeCursor(s string) (time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decoding cursor: %w", err)
	}
	usec, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor: %w", err)
	}
	return time.UnixMicro(usec).UTC(), nil
}

// CursorParams holds the parsed query parameters for a sync pull request.
type CursorParams struct {
	Since time.Time // zero value means "from the beginning"
	Limit int
}

// ParseCursorParams extracts `cursor` and `limit` from a pull request.
// Since pull uses inclusive (>=) comparison against updated_at/deleted_at
//, an absent cursor is treated as the zero time rather than "now".
func ParseCursorParams(r *http.Request) (CursorParams, error) {
	p := CursorParams{Limit: DefaultPageSize}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("limit must be a positive integer")
		}
		if n > MaxPageSize {
			n = MaxPageSize
		}
		p.Limit = n
	}

	if v := r.URL.Query().Get("cursor"); v != "" {
		since, err := DecodeCursor(v)
		if err != nil {
			return p, fmt.Errorf("invalid cursor: %w", err)
		}
		p.Since = since
	}

	return p, nil
}

// CursorPage is the response envelope for a sync pull.
type CursorPage[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor,omitempty"`
	HasMore    bool    `json:"hasMore"`
}

// NewCursorPage builds a CursorPage from a result set fetched with
// limit+1 rows: the extra row (if present) is trimmed and signals hasMore,
// and nextCursor is the last included row's timestamp per cursorFn.
func NewCursorPage[T any](items []T, limit int, cursorFn func(T) time.Time) CursorPage[T] {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	page := CursorPage[T]{
		Items:   items,
		HasMore: hasMore,
	}

	if hasMore && len(items) > 0 {
		c := EncodeCursor(cursorFn(items[len(items)-1]))
		page.NextCursor = &c
	}

	return page
}
