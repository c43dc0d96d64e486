// Package pagination implements the opaque cursors used by transaction
// listing. A cursor pins a position by (created_at, id) so pages stay
// stable while new transactions are initiated between requests.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors the server did not mint.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a decoded listing position. Listings are newest-first, so a
// page continues strictly after this (created_at, id) pair.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode mints an opaque cursor for the given position. The payload is
// "unixnano|id", base64url-encoded; clients must treat it as opaque.
func Encode(createdAt time.Time, id string) string {
	payload := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(payload))
}

// Decode parses a client-supplied cursor. An empty string means "first
// page" and decodes to nil; anything unparseable is ErrInvalidCursor.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	payload, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(payload), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// ComputePage turns an over-fetched result set into a page. Callers fetch
// limit+1 rows; the extra row, if present, proves there is another page.
// keyOf extracts the (created_at, id) position of an item, used to mint
// the next cursor from the page's last row.
func ComputePage[T any](items []T, limit int, keyOf func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := keyOf(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
