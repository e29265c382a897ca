package feed

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

// memoryStore is an in-memory Posts, Reactions, Comments and Bookmarks.
type memoryStore struct {
	mu        sync.Mutex
	posts     map[string]*dbmysql.Post
	reactions map[string]*dbmysql.Reaction
	counts    map[string]map[string]int64
	comments  map[string]*dbmysql.Comment
	bookmarks map[string]*dbmysql.Bookmark
	failList  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		posts:     map[string]*dbmysql.Post{},
		reactions: map[string]*dbmysql.Reaction{},
		counts:    map[string]map[string]int64{},
		comments:  map[string]*dbmysql.Comment{},
		bookmarks: map[string]*dbmysql.Bookmark{},
	}
}

func (m *memoryStore) addPost(p *dbmysql.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = dbmysql.PostStatusPublished
	}
	if p.Kind == "" {
		p.Kind = dbmysql.PostKindPost
	}
	m.posts[p.ID] = p
}

func clonePost(p *dbmysql.Post) *dbmysql.Post {
	c := *p
	return &c
}

func newestFirst(rows []*dbmysql.Post, cursor common.Cursor, limit int) []*dbmysql.Post {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	out := make([]*dbmysql.Post, 0, limit+1)
	for _, p := range rows {
		if !cursor.IsZero() {
			before := p.CreatedAt.Before(cursor.CreatedAt) ||
				(p.CreatedAt.Equal(cursor.CreatedAt) && p.ID < cursor.ID)
			if !before {
				continue
			}
		}
		out = append(out, clonePost(p))
		if len(out) == limit+1 {
			break
		}
	}
	return out
}

func (m *memoryStore) CreatePost(_ context.Context, post *dbmysql.Post) error {
	m.addPost(clonePost(post))
	return nil
}

func (m *memoryStore) GetPost(_ context.Context, id string) (*dbmysql.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.Status == dbmysql.PostStatusDeleted {
		return nil, common.NotFound("post")
	}
	return clonePost(p), nil
}

func (m *memoryStore) published(match func(*dbmysql.Post) bool) []*dbmysql.Post {
	var rows []*dbmysql.Post
	for _, p := range m.posts {
		if p.Status == dbmysql.PostStatusPublished && p.Kind == dbmysql.PostKindPost && match(p) {
			rows = append(rows, p)
		}
	}
	return rows
}

func (m *memoryStore) ListPublished(_ context.Context, cursor common.Cursor, limit int) ([]*dbmysql.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	return newestFirst(m.published(func(*dbmysql.Post) bool { return true }), cursor, limit), nil
}

func (m *memoryStore) ListByAuthors(_ context.Context, authorIDs []string, cursor common.Cursor, limit int) ([]*dbmysql.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]bool{}
	for _, id := range authorIDs {
		set[id] = true
	}
	return newestFirst(m.published(func(p *dbmysql.Post) bool { return set[p.AuthorID] }), cursor, limit), nil
}

func (m *memoryStore) ListStories(_ context.Context, authorIDs []string, now time.Time) ([]*dbmysql.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]bool{}
	for _, id := range authorIDs {
		set[id] = true
	}
	var out []*dbmysql.Post
	for _, p := range m.posts {
		if p.Kind == dbmysql.PostKindStory && p.Status == dbmysql.PostStatusPublished &&
			set[p.AuthorID] && p.ExpiresAt != nil && p.ExpiresAt.After(now) {
			out = append(out, clonePost(p))
		}
	}
	return out, nil
}

func (m *memoryStore) PostsByIDs(_ context.Context, ids []string) ([]*dbmysql.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.Post
	for _, id := range ids {
		if p, ok := m.posts[id]; ok && p.Status == dbmysql.PostStatusPublished {
			out = append(out, clonePost(p))
		}
	}
	return out, nil
}

func (m *memoryStore) SearchPosts(_ context.Context, q string, limit int) ([]*dbmysql.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.published(func(p *dbmysql.Post) bool {
		return strings.Contains(strings.ToLower(p.Caption), strings.ToLower(q))
	})
	out := newestFirst(rows, common.Cursor{}, limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) SetStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return common.NotFound("post")
	}
	p.Status = status
	return nil
}

func (m *memoryStore) IncrementViews(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.Status != dbmysql.PostStatusPublished {
		return common.NotFound("post")
	}
	p.ViewsCount++
	return nil
}

func (m *memoryStore) ExpiredStories(_ context.Context, now time.Time, limit int) ([]*dbmysql.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.Post
	for _, p := range m.posts {
		if p.Kind == dbmysql.PostKindStory && p.Status != dbmysql.PostStatusDeleted &&
			p.ExpiresAt != nil && !p.ExpiresAt.After(now) && len(out) < limit {
			out = append(out, clonePost(p))
		}
	}
	return out, nil
}

func (m *memoryStore) ToggleReaction(_ context.Context, postID, userID, reactionType string) (*ReactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[postID]
	if !ok || post.Status != dbmysql.PostStatusPublished {
		return nil, common.NotFound("post")
	}
	id := dbmysql.ReactionID(postID, userID)
	current := ""
	if r, ok := m.reactions[id]; ok {
		current = r.Type
	}
	t := transitionFor(current, reactionType)
	if t.Next == "" {
		delete(m.reactions, id)
	} else {
		m.reactions[id] = &dbmysql.Reaction{ID: id, PostID: postID, UserID: userID, Type: t.Next}
	}
	if m.counts[postID] == nil {
		m.counts[postID] = map[string]int64{}
	}
	if t.Decrement != "" && m.counts[postID][t.Decrement] > 0 {
		m.counts[postID][t.Decrement]--
	}
	if t.Increment != "" {
		m.counts[postID][t.Increment]++
	}
	post.LikesCount += t.LikesDelta
	if post.LikesCount < 0 {
		post.LikesCount = 0
	}
	return &ReactionResult{Reacted: t.Next != "", Type: t.Next, LikesCount: post.LikesCount, added: current == ""}, nil
}

func (m *memoryStore) ReactionCounts(_ context.Context, postIDs []string) (map[string]map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]map[string]int64{}
	for _, id := range postIDs {
		for typ, n := range m.counts[id] {
			if n == 0 {
				continue
			}
			if out[id] == nil {
				out[id] = map[string]int64{}
			}
			out[id][typ] = n
		}
	}
	return out, nil
}

func (m *memoryStore) ViewerReactions(_ context.Context, userID string, postIDs []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, id := range postIDs {
		if r, ok := m.reactions[dbmysql.ReactionID(id, userID)]; ok {
			out[id] = r.Type
		}
	}
	return out, nil
}

func (m *memoryStore) AddComment(_ context.Context, c *dbmysql.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[c.PostID]
	if !ok || post.Status != dbmysql.PostStatusPublished {
		return common.NotFound("post")
	}
	post.CommentsCount++
	cp := *c
	m.comments[c.ID] = &cp
	return nil
}

func (m *memoryStore) GetComment(_ context.Context, id string) (*dbmysql.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, common.NotFound("comment")
	}
	cp := *c
	return &cp, nil
}

func (m *memoryStore) ListComments(_ context.Context, postID string, cursor common.Cursor, limit int) ([]*dbmysql.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*dbmysql.Comment
	for _, c := range m.comments {
		if c.PostID == postID {
			rows = append(rows, c)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
	var out []*dbmysql.Comment
	for _, c := range rows {
		if !cursor.IsZero() && !(c.CreatedAt.After(cursor.CreatedAt) || (c.CreatedAt.Equal(cursor.CreatedAt) && c.ID > cursor.ID)) {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if len(out) == limit+1 {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteComment(_ context.Context, c *dbmysql.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[c.ID]; !ok {
		return common.NotFound("comment")
	}
	delete(m.comments, c.ID)
	if p, ok := m.posts[c.PostID]; ok && p.CommentsCount > 0 {
		p.CommentsCount--
	}
	return nil
}

func (m *memoryStore) ToggleBookmark(_ context.Context, userID, postID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + postID
	if _, ok := m.bookmarks[key]; ok {
		delete(m.bookmarks, key)
		return false, nil
	}
	if p, ok := m.posts[postID]; !ok || p.Status != dbmysql.PostStatusPublished {
		return false, common.NotFound("post")
	}
	m.bookmarks[key] = &dbmysql.Bookmark{UserID: userID, PostID: postID, CreatedAt: time.Now().Add(time.Duration(len(m.bookmarks)) * time.Millisecond)}
	return true, nil
}

func (m *memoryStore) ListBookmarks(_ context.Context, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Bookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*dbmysql.Bookmark
	for _, b := range m.bookmarks {
		if b.UserID == userID {
			rows = append(rows, b)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	var out []*dbmysql.Bookmark
	for _, b := range rows {
		if !cursor.IsZero() && !b.CreatedAt.Before(cursor.CreatedAt) {
			continue
		}
		out = append(out, b)
		if len(out) == limit+1 {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) BookmarkedIDs(_ context.Context, userID string, postIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, id := range postIDs {
		if _, ok := m.bookmarks[userID+"|"+id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

type fakeAuthors map[string]*dbmysql.User

func (f fakeAuthors) GetUserByID(_ context.Context, id string) (*dbmysql.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, common.NotFound("user")
	}
	return u, nil
}

type fakeGraph struct {
	following map[string][]string
	followers map[string][]string
}

func (g *fakeGraph) FollowerIDs(_ context.Context, id string) ([]string, error) {
	return append([]string(nil), g.followers[id]...), nil
}

func (g *fakeGraph) FollowingIDs(_ context.Context, id string) ([]string, error) {
	return append([]string(nil), g.following[id]...), nil
}

type fakeMedia struct {
	uploads []string
	deleted []string
	err     error
}

func (f *fakeMedia) Upload(_ context.Context, userID, folder, fileName string, body io.Reader) (*dbmysql.MediaRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	_, _ = io.ReadAll(body)
	mt, _, err := common.MediaTypeFromFileName(fileName)
	if err != nil {
		return nil, err
	}
	id := "ref-" + fileName
	f.uploads = append(f.uploads, folder+"/"+fileName)
	return &dbmysql.MediaRef{ID: id, Type: mt.String(), URL: "http://media/" + id, UploadedBy: userID}, nil
}

func (f *fakeMedia) Delete(_ context.Context, refID string) error {
	f.deleted = append(f.deleted, refID)
	return nil
}

// fakeCache stores pages as JSON like the Redis cache does.
type fakeCache struct {
	pages       map[string][]byte
	hits        int
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{pages: map[string][]byte{}}
}

func (c *fakeCache) GetPage(_ context.Context, key string, dst any) (bool, error) {
	raw, ok := c.pages[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dst)
}

func (c *fakeCache) SetPage(_ context.Context, key string, page any) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return err
	}
	c.pages[key] = raw
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.pages, k)
	}
	c.invalidated = append(c.invalidated, keys...)
	return nil
}

type recordingNotifier struct {
	events []common.NotificationEvent
}

func (r *recordingNotifier) Notify(_ context.Context, e common.NotificationEvent) error {
	r.events = append(r.events, e)
	return nil
}

type recordingEvents struct {
	subjects []string
}

func (r *recordingEvents) Publish(_ context.Context, subject string, _ any) error {
	r.subjects = append(r.subjects, subject)
	return nil
}
