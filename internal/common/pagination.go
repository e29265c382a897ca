package common

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor marks the last item of a page. Lists are ordered by (CreatedAt, ID) so two
// rows written in the same instant still have a stable position.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, Invalid("malformed cursor")
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, Invalid("malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, Invalid("malformed cursor")
	}
	return Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// PageRequest is the decoded `?cursor=&limit=` pair shared by every list endpoint.
type PageRequest struct {
	Cursor string `schema:"cursor"`
	Limit  int    `schema:"limit" validate:"gte=0,lte=100"`
}

func (p PageRequest) LimitOr(def int) int {
	if p.Limit <= 0 {
		return def
	}
	return p.Limit
}

type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// NewPage trims a result fetched with limit+1 rows and derives the next cursor.
func NewPage[T any](rows []T, limit int, cursorOf func(T) Cursor) Page[T] {
	page := Page[T]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.HasMore = true
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	if page.HasMore && len(page.Items) > 0 {
		page.NextCursor = cursorOf(page.Items[len(page.Items)-1]).Encode()
	}
	return page
}

// MergePage appends page to existing, skipping items whose key is already present.
// Order of both inputs is preserved.
func MergePage[T any](existing, page []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(existing)+len(page))
	out := make([]T, 0, len(existing)+len(page))
	for _, it := range existing {
		k := key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	for _, it := range page {
		k := key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Timeline accumulates pages of a cursor-paginated list, the way a client keeps
// scrolling through a feed.
type Timeline[T any] struct {
	items  []T
	cursor string
	done   bool
	key    func(T) string
}

func NewTimeline[T any](key func(T) string) *Timeline[T] {
	return &Timeline[T]{key: key}
}

func (t *Timeline[T]) Cursor() string { return t.cursor }
func (t *Timeline[T]) Done() bool     { return t.done }
func (t *Timeline[T]) Items() []T     { return t.items }

func (t *Timeline[T]) Append(p Page[T]) {
	t.items = MergePage(t.items, p.Items, t.key)
	if p.NextCursor != "" {
		t.cursor = p.NextCursor
	}
	t.done = !p.HasMore
}

// LoadMore fetches the next page unless the list is exhausted.
func (t *Timeline[T]) LoadMore(fetch func(cursor string) (Page[T], error)) error {
	if t.done {
		return nil
	}
	p, err := fetch(t.cursor)
	if err != nil {
		return fmt.Errorf("load page: %w", err)
	}
	t.Append(p)
	return nil
}
