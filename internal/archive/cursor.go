package archive

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for a cursor this package did not issue.
var ErrInvalidCursor = errors.New("archive: invalid cursor")

// position is the (created_at, id) key of the last call on a page.
type position struct {
	createdAt time.Time
	id        string
}

func encodeCursor(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor returns nil for an empty cursor.
func decodeCursor(s string) (*position, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &position{createdAt: time.Unix(0, n).UTC(), id: id}, nil
}

// before reports whether c sorts after p in newest-first order.
func (p *position) before(c *Call) bool {
	if p == nil {
		return true
	}
	if !c.CreatedAt.Equal(p.createdAt) {
		return c.CreatedAt.Before(p.createdAt)
	}
	return c.ID < p.id
}

// page trims calls fetched with limit+1 and returns the next cursor.
func page(calls []*Call, limit int) ([]*Call, string) {
	if len(calls) <= limit {
		return calls, ""
	}
	calls = calls[:limit]
	last := calls[len(calls)-1]
	return calls, encodeCursor(last.CreatedAt, last.ID)
}
