package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"amplifi/internal/cache"
	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/metrics"
)

const (
	DefaultFeedLimit    = 10
	DefaultCommentLimit = 20
	maxFeedLimit        = 50
	searchLimit         = 20
	maxCaptionLength    = 2200
	storyTTL            = 24 * time.Hour
	// TrendingWindow is how many recent posts compete for the trending list.
	TrendingWindow = 20
)

// Authors resolves the denormalized author fields stored on posts and comments.
type Authors interface {
	GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error)
}

type FollowGraph interface {
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
	FollowingIDs(ctx context.Context, userID string) ([]string, error)
}

type MediaUploader interface {
	Upload(ctx context.Context, userID, folder, fileName string, body io.Reader) (*dbmysql.MediaRef, error)
	Delete(ctx context.Context, refID string) error
}

// PageCache holds the first page of hot feeds.
type PageCache interface {
	GetPage(ctx context.Context, key string, dst any) (bool, error)
	SetPage(ctx context.Context, key string, page any) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NewPost struct {
	Caption  string
	FileName string
	File     io.Reader
}

type FeedService struct {
	posts     Posts
	reactions Reactions
	comments  Comments
	bookmarks Bookmarks
	authors   Authors
	graph     FollowGraph
	media     MediaUploader
	cache     PageCache
	notifier  common.Notifier
	events    common.EventPublisher
	now       func() time.Time
}

func NewFeedService(
	posts Posts,
	reactions Reactions,
	comments Comments,
	bookmarks Bookmarks,
	authors Authors,
	graph FollowGraph,
	media MediaUploader,
	cache PageCache,
	notifier common.Notifier,
	events common.EventPublisher,
) *FeedService {
	if notifier == nil {
		notifier = common.NopNotifier{}
	}
	return &FeedService{
		posts:     posts,
		reactions: reactions,
		comments:  comments,
		bookmarks: bookmarks,
		authors:   authors,
		graph:     graph,
		media:     media,
		cache:     cache,
		notifier:  notifier,
		events:    events,
		now:       time.Now,
	}
}

// --------- CONTENT ---------

func (s *FeedService) CreatePost(ctx context.Context, authorID string, in NewPost) (*dbmysql.Post, error) {
	return s.createContent(ctx, authorID, in, dbmysql.PostKindPost)
}

// CreateStory is CreatePost with a 24h expiry; stories stay out of the feed.
func (s *FeedService) CreateStory(ctx context.Context, authorID string, in NewPost) (*dbmysql.Post, error) {
	if in.File == nil {
		return nil, common.Invalid("a story needs an image or video")
	}
	return s.createContent(ctx, authorID, in, dbmysql.PostKindStory)
}

func (s *FeedService) createContent(ctx context.Context, authorID string, in NewPost, kind string) (*dbmysql.Post, error) {
	caption := strings.TrimSpace(in.Caption)
	if in.File == nil && caption == "" {
		return nil, common.Invalid("post needs a caption or media")
	}
	if err := common.ValidateText("caption", caption, 0, maxCaptionLength); err != nil {
		return nil, err
	}
	if in.File != nil {
		if _, _, err := common.MediaTypeFromFileName(in.FileName); err != nil {
			return nil, err
		}
	}

	author, err := s.authors.GetUserByID(ctx, authorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	post := &dbmysql.Post{
		ID:         common.NewID(),
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		AuthorPic:  author.ProfilePic,
		Caption:    caption,
		MediaType:  common.MediaFileTypeText.String(),
		Status:     dbmysql.PostStatusPublished,
		Kind:       kind,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if kind == dbmysql.PostKindStory {
		expires := now.Add(storyTTL)
		post.ExpiresAt = &expires
	}

	// Upload first: the stored type decides image vs video.
	if in.File != nil {
		folder := "posts"
		if kind == dbmysql.PostKindStory {
			folder = "stories"
		}
		ref, err := s.media.Upload(ctx, authorID, folder, in.FileName, in.File)
		if err != nil {
			return nil, err
		}
		post.MediaType = ref.Type
		post.MediaURL = ref.URL
		if ref.Type == common.MediaFileTypeImage.String() {
			post.ThumbnailURL = ref.URL
		}
		post.MediaRefID = &ref.ID
	}

	if err := s.posts.CreatePost(ctx, post); err != nil {
		if post.MediaRefID != nil {
			_ = s.media.Delete(ctx, *post.MediaRefID)
		}
		return nil, err
	}

	metrics.PostsCreated.WithLabelValues(kind).Inc()
	s.publish(ctx, kind+".created", map[string]any{
		"postId":    post.ID,
		"authorId":  post.AuthorID,
		"mediaType": post.MediaType,
		"createdAt": post.CreatedAt,
	})
	if kind == dbmysql.PostKindPost {
		s.invalidateFor(ctx, authorID)
	}

	common.Log.WithFields(logrus.Fields{"post_id": post.ID, "kind": kind, "author_id": authorID}).Info("post created")
	return post, nil
}

// GetPost hides non-published posts from everyone but the author and admins.
func (s *FeedService) GetPost(ctx context.Context, viewerID, postID string) (*dbmysql.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != dbmysql.PostStatusPublished && post.AuthorID != viewerID && !common.IsAdmin(ctx) {
		return nil, common.NotFound("post")
	}
	if err := s.decorate(ctx, viewerID, []*dbmysql.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *FeedService) RecordView(ctx context.Context, postID string) error {
	return s.posts.IncrementViews(ctx, postID)
}

func (s *FeedService) DeletePost(ctx context.Context, requesterID, postID string) error {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != requesterID && !common.IsAdmin(ctx) {
		return common.Forbidden("only the author can delete this post")
	}
	if err := s.posts.SetStatus(ctx, postID, dbmysql.PostStatusDeleted); err != nil {
		return err
	}
	s.dropMedia(ctx, post)
	s.invalidateFor(ctx, post.AuthorID)
	s.publish(ctx, "post.deleted", map[string]any{"postId": postID, "by": requesterID})
	return nil
}

// HidePost takes a post out of every listing without deleting it.
func (s *FeedService) HidePost(ctx context.Context, postID string) error {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if err := s.posts.SetStatus(ctx, postID, dbmysql.PostStatusHidden); err != nil {
		return err
	}
	s.invalidateFor(ctx, post.AuthorID)
	return nil
}

// ExpireStories deletes stories past their expiry and returns how many went.
func (s *FeedService) ExpireStories(ctx context.Context) (int, error) {
	expired, err := s.posts.ExpiredStories(ctx, s.now(), 500)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, story := range expired {
		if err := s.posts.SetStatus(ctx, story.ID, dbmysql.PostStatusDeleted); err != nil {
			common.Log.WithError(err).WithField("post_id", story.ID).Warn("failed to expire story")
			continue
		}
		s.dropMedia(ctx, story)
		removed++
	}
	return removed, nil
}

func (s *FeedService) dropMedia(ctx context.Context, post *dbmysql.Post) {
	if post.MediaRefID == nil || s.media == nil {
		return
	}
	if err := s.media.Delete(ctx, *post.MediaRefID); err != nil && !errors.Is(err, common.ErrNotFound) {
		common.Log.WithError(err).WithField("post_id", post.ID).Warn("media cleanup failed")
	}
}

// --------- LISTINGS ---------

func (s *FeedService) GetFeed(ctx context.Context, viewerID string, req common.PageRequest) (common.Page[*dbmysql.Post], error) {
	page, err := s.cachedPage(ctx, cache.GlobalFeedKey, req, func(c common.Cursor, limit int) ([]*dbmysql.Post, error) {
		return s.posts.ListPublished(ctx, c, limit)
	})
	if err != nil {
		return page, err
	}
	if req.Cursor == "" && len(page.Items) == 0 {
		return common.Page[*dbmysql.Post]{Items: SamplePosts(s.now())}, nil
	}
	return page, s.decorate(ctx, viewerID, page.Items)
}

// GetTrending ranks the most recent posts by likes plus views. Ties keep
// recency order.
func (s *FeedService) GetTrending(ctx context.Context, viewerID string) ([]*dbmysql.Post, error) {
	tl := common.NewTimeline(func(p *dbmysql.Post) string { return p.ID })
	for !tl.Done() && len(tl.Items()) < TrendingWindow {
		err := tl.LoadMore(func(c string) (common.Page[*dbmysql.Post], error) {
			cursor, err := common.DecodeCursor(c)
			if err != nil {
				return common.Page[*dbmysql.Post]{}, err
			}
			rows, err := s.posts.ListPublished(ctx, cursor, DefaultFeedLimit)
			if err != nil {
				return common.Page[*dbmysql.Post]{}, err
			}
			return common.NewPage(rows, DefaultFeedLimit, postCursor), nil
		})
		if err != nil {
			return nil, err
		}
	}

	posts := tl.Items()
	if len(posts) > TrendingWindow {
		posts = posts[:TrendingWindow]
	}
	if len(posts) == 0 {
		posts = SamplePosts(s.now())
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return trendingScore(posts[i]) > trendingScore(posts[j])
	})
	if posts[0].Sample {
		return posts, nil
	}
	return posts, s.decorate(ctx, viewerID, posts)
}

func trendingScore(p *dbmysql.Post) int64 {
	return p.LikesCount + p.ViewsCount
}

// GetFollowingFeed lists posts by followed authors and the viewer.
func (s *FeedService) GetFollowingFeed(ctx context.Context, viewerID string, req common.PageRequest) (common.Page[*dbmysql.Post], error) {
	following, err := s.graph.FollowingIDs(ctx, viewerID)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	authors := append(following, viewerID)

	page, err := s.cachedPage(ctx, cache.FollowingFeedKey(viewerID), req, func(c common.Cursor, limit int) ([]*dbmysql.Post, error) {
		return s.posts.ListByAuthors(ctx, authors, c, limit)
	})
	if err != nil {
		return page, err
	}
	return page, s.decorate(ctx, viewerID, page.Items)
}

func (s *FeedService) GetUserPosts(ctx context.Context, viewerID, authorID string, req common.PageRequest) (common.Page[*dbmysql.Post], error) {
	cursor, limit, err := pageParams(req, DefaultFeedLimit)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	rows, err := s.posts.ListByAuthors(ctx, []string{authorID}, cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	page := common.NewPage(rows, limit, postCursor)
	return page, s.decorate(ctx, viewerID, page.Items)
}

func (s *FeedService) GetStories(ctx context.Context, viewerID string) ([]*dbmysql.Post, error) {
	following, err := s.graph.FollowingIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	stories, err := s.posts.ListStories(ctx, append(following, viewerID), s.now())
	if err != nil {
		return nil, err
	}
	if stories == nil {
		stories = []*dbmysql.Post{}
	}
	return stories, nil
}

func (s *FeedService) SearchPosts(ctx context.Context, viewerID, q string, limit int) ([]*dbmysql.Post, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*dbmysql.Post{}, nil
	}
	if limit <= 0 || limit > maxFeedLimit {
		limit = searchLimit
	}
	posts, err := s.posts.SearchPosts(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	return posts, s.decorate(ctx, viewerID, posts)
}

// cachedPage serves first pages of the default size from the cache. Viewer
// specific fields are filled in after the cache, never stored in it.
func (s *FeedService) cachedPage(
	ctx context.Context,
	key string,
	req common.PageRequest,
	fetch func(common.Cursor, int) ([]*dbmysql.Post, error),
) (common.Page[*dbmysql.Post], error) {
	cursor, limit, err := pageParams(req, DefaultFeedLimit)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	cacheable := s.cache != nil && cursor.IsZero() && limit == DefaultFeedLimit

	if cacheable {
		var cached common.Page[*dbmysql.Post]
		hit, err := s.cache.GetPage(ctx, key, &cached)
		if err != nil {
			common.Log.WithError(err).WithField("key", key).Debug("feed cache read failed")
		}
		if hit {
			return cached, nil
		}
	}

	rows, err := fetch(cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	page := common.NewPage(rows, limit, postCursor)

	if cacheable && len(page.Items) > 0 {
		if err := s.cache.SetPage(ctx, key, page); err != nil {
			common.Log.WithError(err).WithField("key", key).Debug("feed cache write failed")
		}
	}
	return page, nil
}

func (s *FeedService) decorate(ctx context.Context, viewerID string, posts []*dbmysql.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}

	counts, err := s.reactions.ReactionCounts(ctx, ids)
	if err != nil {
		return err
	}
	mine, err := s.reactions.ViewerReactions(ctx, viewerID, ids)
	if err != nil {
		return err
	}
	saved, err := s.bookmarks.BookmarkedIDs(ctx, viewerID, ids)
	if err != nil {
		return err
	}
	for _, p := range posts {
		p.ReactionCounts = counts[p.ID]
		p.ViewerReaction = mine[p.ID]
		p.Bookmarked = saved[p.ID]
	}
	return nil
}

func (s *FeedService) invalidateFor(ctx context.Context, authorID string) {
	if s.cache == nil {
		return
	}
	keys := []string{cache.GlobalFeedKey, cache.FollowingFeedKey(authorID)}
	if followers, err := s.graph.FollowerIDs(ctx, authorID); err == nil {
		for _, id := range followers {
			keys = append(keys, cache.FollowingFeedKey(id))
		}
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		common.Log.WithError(err).Warn("feed cache invalidation failed")
	}
}

func (s *FeedService) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		common.Log.WithError(err).WithField("subject", subject).Warn("event publish failed")
	}
}

func postCursor(p *dbmysql.Post) common.Cursor {
	return common.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
}

func pageParams(req common.PageRequest, def int) (common.Cursor, int, error) {
	cursor, err := common.DecodeCursor(req.Cursor)
	if err != nil {
		return common.Cursor{}, 0, err
	}
	limit := req.LimitOr(def)
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	return cursor, limit, nil
}

// --------- REACTIONS ---------

func (s *FeedService) ToggleReaction(ctx context.Context, userID, postID, reactionType string) (*ReactionResult, error) {
	if reactionType == "" {
		reactionType = ReactionLike
	}
	if !IsReactionType(reactionType) {
		return nil, common.Invalid("unknown reaction type %q", reactionType)
	}
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	res, err := s.reactions.ToggleReaction(ctx, postID, userID, reactionType)
	if err != nil {
		return nil, err
	}
	if res.Reacted {
		metrics.ReactionsToggled.WithLabelValues("reacted").Inc()
	} else {
		metrics.ReactionsToggled.WithLabelValues("removed").Inc()
	}

	if res.added && post.AuthorID != userID {
		s.notify(ctx, common.NotificationEvent{
			Type:          common.PostReactionType,
			UserID:        post.AuthorID,
			TriggerUserID: &userID,
			Header:        "New reaction",
			Content:       fmt.Sprintf("Someone reacted %s to your post", reactionType),
			Priority:      1,
			Metadata:      common.NotificationMetadata{"postId": postID, "reaction": reactionType},
		})
	}
	return res, nil
}

// --------- BOOKMARKS ---------

func (s *FeedService) ToggleBookmark(ctx context.Context, userID, postID string) (bool, error) {
	return s.bookmarks.ToggleBookmark(ctx, userID, postID)
}

func (s *FeedService) ListBookmarks(ctx context.Context, userID string, req common.PageRequest) (common.Page[*dbmysql.Post], error) {
	cursor, limit, err := pageParams(req, DefaultFeedLimit)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	rows, err := s.bookmarks.ListBookmarks(ctx, userID, cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	marks := common.NewPage(rows, limit, func(b *dbmysql.Bookmark) common.Cursor {
		return common.Cursor{CreatedAt: b.CreatedAt, ID: b.PostID}
	})

	ids := make([]string, 0, len(marks.Items))
	for _, b := range marks.Items {
		ids = append(ids, b.PostID)
	}
	posts, err := s.posts.PostsByIDs(ctx, ids)
	if err != nil {
		return common.Page[*dbmysql.Post]{}, err
	}
	byID := make(map[string]*dbmysql.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	out := common.Page[*dbmysql.Post]{Items: make([]*dbmysql.Post, 0, len(ids)), NextCursor: marks.NextCursor, HasMore: marks.HasMore}
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out.Items = append(out.Items, p)
		}
	}
	return out, s.decorate(ctx, userID, out.Items)
}

// --------- COMMENTS ---------

func (s *FeedService) AddComment(ctx context.Context, userID, postID, text string) (*dbmysql.Comment, error) {
	if err := common.ValidateText("comment", text, 1, 1000); err != nil {
		return nil, err
	}
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	author, err := s.authors.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	comment := &dbmysql.Comment{
		ID:         common.NewID(),
		PostID:     postID,
		AuthorID:   userID,
		AuthorName: author.DisplayName,
		AuthorPic:  author.ProfilePic,
		Text:       strings.TrimSpace(text),
		CreatedAt:  s.now(),
	}
	if err := s.comments.AddComment(ctx, comment); err != nil {
		return nil, err
	}

	if post.AuthorID != userID {
		s.notify(ctx, common.NotificationEvent{
			Type:          common.CommentType,
			UserID:        post.AuthorID,
			TriggerUserID: &userID,
			Header:        "New comment",
			Content:       fmt.Sprintf("%s commented: %s", author.DisplayName, truncate(comment.Text, 80)),
			Priority:      2,
			Metadata:      common.NotificationMetadata{"postId": postID, "commentId": comment.ID},
		})
	}
	return comment, nil
}

func (s *FeedService) ListComments(ctx context.Context, postID string, req common.PageRequest) (common.Page[*dbmysql.Comment], error) {
	cursor, err := common.DecodeCursor(req.Cursor)
	if err != nil {
		return common.Page[*dbmysql.Comment]{}, err
	}
	limit := req.LimitOr(DefaultCommentLimit)
	rows, err := s.comments.ListComments(ctx, postID, cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Comment]{}, err
	}
	return common.NewPage(rows, limit, func(c *dbmysql.Comment) common.Cursor {
		return common.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	}), nil
}

// DeleteComment allows the comment author, the post author or an admin.
func (s *FeedService) DeleteComment(ctx context.Context, requesterID, commentID string) error {
	comment, err := s.comments.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	allowed := comment.AuthorID == requesterID || common.IsAdmin(ctx)
	if !allowed {
		post, err := s.posts.GetPost(ctx, comment.PostID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		allowed = post != nil && post.AuthorID == requesterID
	}
	if !allowed {
		return common.Forbidden("not allowed to delete this comment")
	}
	return s.comments.DeleteComment(ctx, comment)
}

func (s *FeedService) notify(ctx context.Context, event common.NotificationEvent) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		common.Log.WithError(err).WithField("type", event.Type).Warn("notification failed")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
