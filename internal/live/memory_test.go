package live

import (
	"context"
	"sort"
	"sync"
	"time"

	"amplifi/internal/common"
	"amplifi/internal/dbmongo"
	"amplifi/internal/dbmysql"
	"amplifi/internal/realtime"
)

type memoryStreams struct {
	mu      sync.Mutex
	streams map[string]*dbmysql.LiveStream
	tips    map[string]int64 // succeeded tips per stream
}

func newMemoryStreams() *memoryStreams {
	return &memoryStreams{streams: map[string]*dbmysql.LiveStream{}, tips: map[string]int64{}}
}

func (m *memoryStreams) CreateStream(_ context.Context, s *dbmysql.LiveStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.LiveCreatorID != nil {
		for _, cur := range m.streams {
			if cur.LiveCreatorID != nil && *cur.LiveCreatorID == *s.LiveCreatorID {
				return common.NewError(common.ErrConflict, "you already have a live stream")
			}
		}
	}
	cp := *s
	m.streams[s.ID] = &cp
	return nil
}

func (m *memoryStreams) GetStream(_ context.Context, id string) (*dbmysql.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return nil, common.NotFound("stream")
	}
	cp := *s
	return &cp, nil
}

func (m *memoryStreams) LiveByCreator(_ context.Context, creatorID string) (*dbmysql.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		if s.CreatorID == creatorID && s.Status == dbmysql.StreamStatusLive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, common.NotFound("live stream")
}

func (m *memoryStreams) ListLive(_ context.Context, category string, limit int) ([]*dbmysql.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.LiveStream
	for _, s := range m.streams {
		if s.Status != dbmysql.StreamStatusLive || s.Privacy != PrivacyPublic {
			continue
		}
		if category != "" && s.Category != category {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStreams) Heartbeat(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok && s.Status == dbmysql.StreamStatusLive {
		s.LastHeartbeat = at
	}
	return nil
}

func (m *memoryStreams) FinishStream(_ context.Context, s *dbmysql.LiveStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.streams[s.ID]
	if !ok || cur.Status != dbmysql.StreamStatusLive {
		return common.NewError(common.ErrConflict, "stream already ended")
	}
	cp := *s
	cp.Status = dbmysql.StreamStatusEnded
	cp.LiveCreatorID = nil
	m.streams[s.ID] = &cp
	return nil
}

func (m *memoryStreams) Stale(_ context.Context, before time.Time, limit int) ([]*dbmysql.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.LiveStream
	for _, s := range m.streams {
		if s.Status == dbmysql.StreamStatusLive && s.LastHeartbeat.Before(before) {
			cp := *s
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStreams) CreditTip(_ context.Context, id string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		s.TotalTips += amount
	}
	m.tips[id] += amount
	return nil
}

func (m *memoryStreams) TipTotal(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tips[id], nil
}

type memoryChat struct {
	mu   sync.Mutex
	msgs []*dbmongo.LiveChatMessage
}

func (m *memoryChat) Insert(_ context.Context, msg *dbmongo.LiveChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memoryChat) List(_ context.Context, streamID string, cursor common.Cursor, limit int) ([]*dbmongo.LiveChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*dbmongo.LiveChatMessage
	for _, msg := range m.msgs {
		if msg.StreamID == streamID {
			rows = append(rows, msg)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	var out []*dbmongo.LiveChatMessage
	for _, msg := range rows {
		if !cursor.IsZero() {
			older := msg.CreatedAt.Before(cursor.CreatedAt) ||
				(msg.CreatedAt.Equal(cursor.CreatedAt) && msg.ID < cursor.ID)
			if !older {
				continue
			}
		}
		out = append(out, msg)
		if len(out) == limit+1 {
			break
		}
	}
	return out, nil
}

func (m *memoryChat) Count(_ context.Context, streamID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.msgs {
		if msg.StreamID == streamID && msg.Type == dbmongo.ChatTypeChat {
			n++
		}
	}
	return n, nil
}

type broadcast struct {
	room  string
	frame realtime.Frame
}

type recordingRooms struct {
	mu   sync.Mutex
	sent []broadcast
}

func (r *recordingRooms) Broadcast(room string, f realtime.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, broadcast{room: room, frame: f})
}

func (r *recordingRooms) types(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.sent {
		if b.room == room {
			out = append(out, b.frame.Type)
		}
	}
	return out
}

type fakeUsers map[string]*dbmysql.User

func (f fakeUsers) GetUserByID(_ context.Context, id string) (*dbmysql.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, common.NotFound("user")
	}
	return u, nil
}

// fakeGraph maps a creator to their followers.
type fakeGraph map[string][]string

func (g fakeGraph) FollowerIDs(_ context.Context, userID string) ([]string, error) {
	return g[userID], nil
}

func (g fakeGraph) IsFollowing(_ context.Context, followerID, followingID string) (bool, error) {
	for _, id := range g[followingID] {
		if id == followerID {
			return true, nil
		}
	}
	return false, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []common.NotificationEvent
}

func (r *recordingNotifier) Notify(_ context.Context, e common.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type recordingEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingEvents) Publish(_ context.Context, subject string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}
