package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type Posts interface {
	CreatePost(ctx context.Context, post *dbmysql.Post) error
	GetPost(ctx context.Context, id string) (*dbmysql.Post, error)
	ListPublished(ctx context.Context, cursor common.Cursor, limit int) ([]*dbmysql.Post, error)
	ListByAuthors(ctx context.Context, authorIDs []string, cursor common.Cursor, limit int) ([]*dbmysql.Post, error)
	ListStories(ctx context.Context, authorIDs []string, now time.Time) ([]*dbmysql.Post, error)
	PostsByIDs(ctx context.Context, ids []string) ([]*dbmysql.Post, error)
	SearchPosts(ctx context.Context, q string, limit int) ([]*dbmysql.Post, error)
	SetStatus(ctx context.Context, id, status string) error
	IncrementViews(ctx context.Context, id string) error
	ExpiredStories(ctx context.Context, now time.Time, limit int) ([]*dbmysql.Post, error)
}

type Reactions interface {
	ToggleReaction(ctx context.Context, postID, userID, reactionType string) (*ReactionResult, error)
	ReactionCounts(ctx context.Context, postIDs []string) (map[string]map[string]int64, error)
	ViewerReactions(ctx context.Context, userID string, postIDs []string) (map[string]string, error)
}

type Comments interface {
	AddComment(ctx context.Context, comment *dbmysql.Comment) error
	GetComment(ctx context.Context, id string) (*dbmysql.Comment, error)
	ListComments(ctx context.Context, postID string, cursor common.Cursor, limit int) ([]*dbmysql.Comment, error)
	DeleteComment(ctx context.Context, comment *dbmysql.Comment) error
}

type Bookmarks interface {
	ToggleBookmark(ctx context.Context, userID, postID string) (bool, error)
	ListBookmarks(ctx context.Context, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Bookmark, error)
	BookmarkedIDs(ctx context.Context, userID string, postIDs []string) (map[string]bool, error)
}

// FeedRepository implements every feed store on MySQL.
type FeedRepository struct {
	db *gorm.DB
}

func NewFeedRepository(db *gorm.DB) *FeedRepository {
	return &FeedRepository{db: db}
}

// --------- POSTS ---------

func (r *FeedRepository) CreatePost(ctx context.Context, post *dbmysql.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// GetPost returns a post unless it was deleted. Hidden posts are returned so
// the caller can decide who may see them.
func (r *FeedRepository) GetPost(ctx context.Context, id string) (*dbmysql.Post, error) {
	var post dbmysql.Post
	err := r.db.WithContext(ctx).Where("id = ? AND status <> ?", id, dbmysql.PostStatusDeleted).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("post")
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &post, nil
}

func (r *FeedRepository) published(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&dbmysql.Post{}).
		Where("status = ? AND kind = ?", dbmysql.PostStatusPublished, dbmysql.PostKindPost)
}

func (r *FeedRepository) ListPublished(ctx context.Context, cursor common.Cursor, limit int) ([]*dbmysql.Post, error) {
	var posts []*dbmysql.Post
	if err := r.published(ctx).Scopes(dbmysql.Newest("", cursor, limit)).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	return posts, nil
}

func (r *FeedRepository) ListByAuthors(ctx context.Context, authorIDs []string, cursor common.Cursor, limit int) ([]*dbmysql.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var posts []*dbmysql.Post
	err := r.published(ctx).Where("author_id IN ?", authorIDs).
		Scopes(dbmysql.Newest("", cursor, limit)).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list posts by author: %w", err)
	}
	return posts, nil
}

func (r *FeedRepository) ListStories(ctx context.Context, authorIDs []string, now time.Time) ([]*dbmysql.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var stories []*dbmysql.Post
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status = ? AND author_id IN ? AND expires_at > ?", dbmysql.PostKindStory, dbmysql.PostStatusPublished, authorIDs, now).
		Order("created_at DESC").
		Find(&stories).Error
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return stories, nil
}

func (r *FeedRepository) PostsByIDs(ctx context.Context, ids []string) ([]*dbmysql.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var posts []*dbmysql.Post
	err := r.db.WithContext(ctx).Where("id IN ? AND status = ?", ids, dbmysql.PostStatusPublished).Find(&posts).Error
	return posts, err
}

func (r *FeedRepository) SearchPosts(ctx context.Context, q string, limit int) ([]*dbmysql.Post, error) {
	var posts []*dbmysql.Post
	like := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q) + "%"
	err := r.published(ctx).Where("caption LIKE ?", like).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return posts, nil
}

func (r *FeedRepository) SetStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).Model(&dbmysql.Post{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("set post status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NotFound("post")
	}
	return nil
}

func (r *FeedRepository) IncrementViews(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&dbmysql.Post{}).
		Where("id = ? AND status = ?", id, dbmysql.PostStatusPublished).
		UpdateColumn("views_count", gorm.Expr("views_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("record view: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NotFound("post")
	}
	return nil
}

func (r *FeedRepository) ExpiredStories(ctx context.Context, now time.Time, limit int) ([]*dbmysql.Post, error) {
	var stories []*dbmysql.Post
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status <> ? AND expires_at <= ?", dbmysql.PostKindStory, dbmysql.PostStatusDeleted, now).
		Limit(limit).
		Find(&stories).Error
	return stories, err
}

// --------- REACTIONS ---------

// ToggleReaction applies transitionFor under a row lock on the post so concurrent
// toggles serialize per post.
func (r *FeedRepository) ToggleReaction(ctx context.Context, postID, userID, reactionType string) (*ReactionResult, error) {
	var result ReactionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post dbmysql.Post
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			Where("id = ? AND status = ?", postID, dbmysql.PostStatusPublished).
			First(&post).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return common.NotFound("post")
		}
		if err != nil {
			return err
		}

		reactionID := dbmysql.ReactionID(postID, userID)
		var existing dbmysql.Reaction
		current := ""
		err = tx.Where("id = ?", reactionID).First(&existing).Error
		switch {
		case err == nil:
			current = existing.Type
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		t := transitionFor(current, reactionType)
		switch {
		case t.Next == "":
			err = tx.Delete(&dbmysql.Reaction{}, "id = ?", reactionID).Error
		case current == "":
			err = tx.Create(&dbmysql.Reaction{ID: reactionID, PostID: postID, UserID: userID, Type: t.Next}).Error
		default:
			err = tx.Model(&dbmysql.Reaction{}).Where("id = ?", reactionID).Update("type", t.Next).Error
		}
		if err != nil {
			return err
		}

		if t.Decrement != "" {
			err = tx.Model(&dbmysql.ReactionCount{}).
				Where("post_id = ? AND type = ?", postID, t.Decrement).
				UpdateColumn("count", gorm.Expr("GREATEST(`count` - 1, 0)")).Error
			if err != nil {
				return err
			}
		}
		if t.Increment != "" {
			err = tx.Clauses(clause.OnConflict{
				DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("`count` + 1")}),
			}).Create(&dbmysql.ReactionCount{PostID: postID, Type: t.Increment, Count: 1}).Error
			if err != nil {
				return err
			}
		}
		if t.LikesDelta != 0 {
			err = tx.Model(&dbmysql.Post{}).Where("id = ?", postID).
				UpdateColumn("likes_count", gorm.Expr("GREATEST(likes_count + ?, 0)", t.LikesDelta)).Error
			if err != nil {
				return err
			}
		}

		result.Reacted = t.Next != ""
		result.Type = t.Next
		result.added = current == ""
		return tx.Model(&dbmysql.Post{}).Select("likes_count").Where("id = ?", postID).Scan(&result.LikesCount).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *FeedRepository) ReactionCounts(ctx context.Context, postIDs []string) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	var rows []dbmysql.ReactionCount
	if err := r.db.WithContext(ctx).Where("post_id IN ? AND `count` > 0", postIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reaction counts: %w", err)
	}
	for _, row := range rows {
		if out[row.PostID] == nil {
			out[row.PostID] = map[string]int64{}
		}
		out[row.PostID][row.Type] = row.Count
	}
	return out, nil
}

func (r *FeedRepository) ViewerReactions(ctx context.Context, userID string, postIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	if userID == "" || len(postIDs) == 0 {
		return out, nil
	}
	var rows []dbmysql.Reaction
	if err := r.db.WithContext(ctx).Where("user_id = ? AND post_id IN ?", userID, postIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("viewer reactions: %w", err)
	}
	for _, row := range rows {
		out[row.PostID] = row.Type
	}
	return out, nil
}

// --------- COMMENTS ---------

func (r *FeedRepository) AddComment(ctx context.Context, comment *dbmysql.Comment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&dbmysql.Post{}).
			Where("id = ? AND status = ?", comment.PostID, dbmysql.PostStatusPublished).
			UpdateColumn("comments_count", gorm.Expr("comments_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return common.NotFound("post")
		}
		return tx.Create(comment).Error
	})
}

func (r *FeedRepository) GetComment(ctx context.Context, id string) (*dbmysql.Comment, error) {
	var c dbmysql.Comment
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("comment")
	}
	return &c, err
}

func (r *FeedRepository) ListComments(ctx context.Context, postID string, cursor common.Cursor, limit int) ([]*dbmysql.Comment, error) {
	var comments []*dbmysql.Comment
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).
		Scopes(dbmysql.Oldest("", cursor, limit)).
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (r *FeedRepository) DeleteComment(ctx context.Context, comment *dbmysql.Comment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&dbmysql.Comment{}, "id = ?", comment.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return common.NotFound("comment")
		}
		return tx.Model(&dbmysql.Post{}).Where("id = ?", comment.PostID).
			UpdateColumn("comments_count", gorm.Expr("GREATEST(comments_count - 1, 0)")).Error
	})
}

// --------- BOOKMARKS ---------

func (r *FeedRepository) ToggleBookmark(ctx context.Context, userID, postID string) (bool, error) {
	bookmarked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&dbmysql.Bookmark{}, "user_id = ? AND post_id = ?", userID, postID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var count int64
		if err := tx.Model(&dbmysql.Post{}).Where("id = ? AND status = ?", postID, dbmysql.PostStatusPublished).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return common.NotFound("post")
		}
		bookmarked = true
		return tx.Create(&dbmysql.Bookmark{UserID: userID, PostID: postID}).Error
	})
	return bookmarked, err
}

func (r *FeedRepository) ListBookmarks(ctx context.Context, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Bookmark, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if !cursor.IsZero() {
		q = q.Where("(created_at < ? OR (created_at = ? AND post_id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []*dbmysql.Bookmark
	err := q.Order("created_at DESC").Order("post_id DESC").Limit(limit + 1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return rows, nil
}

func (r *FeedRepository) BookmarkedIDs(ctx context.Context, userID string, postIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if userID == "" || len(postIDs) == 0 {
		return out, nil
	}
	var ids []string
	err := r.db.WithContext(ctx).Model(&dbmysql.Bookmark{}).
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("bookmarked ids: %w", err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
