package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID string
	At time.Time
}

func itemKey(i item) string    { return i.ID }
func itemCursor(i item) Cursor { return Cursor{CreatedAt: i.At, ID: i.ID} }

func mkItems(ids ...string) []item {
	out := make([]item, len(ids))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		out[i] = item{ID: id, At: base.Add(-time.Duration(i) * time.Minute)}
	}
	return out
}

func TestCursor_RoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2024, 5, 1, 12, 30, 0, 123000000, time.UTC), ID: "post-1"}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, "post-1", decoded.ID)
}

func TestDecodeCursor(t *testing.T) {
	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
	assert.Equal(t, "", Cursor{}.Encode())

	for _, bad := range []string{"%%%", "bm9waXBl", "YWJjfA"} {
		_, err := DecodeCursor(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, ErrInvalidInput))
	}
}

func TestNewPage(t *testing.T) {
	rows := mkItems("a", "b", "c")

	p := NewPage(rows, 2, itemCursor)
	assert.Len(t, p.Items, 2)
	assert.True(t, p.HasMore)
	c, err := DecodeCursor(p.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	last := NewPage(rows[:2], 2, itemCursor)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)

	none := NewPage[item](nil, 10, itemCursor)
	assert.NotNil(t, none.Items)
	assert.Empty(t, none.Items)
}

func TestMergePage(t *testing.T) {
	existing := mkItems("a", "b", "c")
	page := []item{{ID: "c"}, {ID: "d"}, {ID: "b"}, {ID: "e"}}

	merged := MergePage(existing, page, itemKey)

	ids := make([]string, len(merged))
	for i, it := range merged {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	assert.Len(t, existing, 3, "input untouched")
}

func TestTimeline_LoadMore(t *testing.T) {
	all := mkItems("p1", "p2", "p3", "p4", "p5")
	calls := 0
	fetch := func(cursor string) (Page[item], error) {
		calls++
		start := 0
		if cursor != "" {
			c, err := DecodeCursor(cursor)
			if err != nil {
				return Page[item]{}, err
			}
			for i, it := range all {
				if it.ID == c.ID {
					// overlap one item to simulate a concurrent insert shifting the window
					start = i
				}
			}
		}
		end := start + 3
		if end > len(all) {
			end = len(all)
		}
		return NewPage(all[start:end], 2, itemCursor), nil
	}

	tl := NewTimeline(itemKey)
	for !tl.Done() {
		require.NoError(t, tl.LoadMore(fetch))
		require.Less(t, calls, 10)
	}

	ids := make([]string, 0)
	for _, it := range tl.Items() {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, ids)

	before := calls
	require.NoError(t, tl.LoadMore(fetch))
	assert.Equal(t, before, calls, "exhausted timeline does not fetch")
}

func TestTimeline_LoadMoreError(t *testing.T) {
	tl := NewTimeline(itemKey)
	err := tl.LoadMore(func(string) (Page[item], error) { return Page[item]{}, fmt.Errorf("offline") })
	require.Error(t, err)
	assert.False(t, tl.Done())
}
