package dbmysql

import "time"

const (
	PostStatusPublished = "published"
	PostStatusHidden    = "hidden"
	PostStatusDeleted   = "deleted"

	PostKindPost  = "post"
	PostKindStory = "story"
)

type Post struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	AuthorID      string     `gorm:"size:36;not null;index:idx_post_author_created,priority:1" json:"authorId"`
	AuthorName    string     `gorm:"size:100" json:"authorName"`
	AuthorPic     string     `gorm:"size:512" json:"authorPic"`
	Caption       string     `gorm:"type:text" json:"caption"`
	MediaType     string     `gorm:"size:10;default:'text'" json:"mediaType"`
	MediaURL      string     `gorm:"size:512" json:"mediaUrl,omitempty"`
	ThumbnailURL  string     `gorm:"size:512" json:"thumbnailUrl,omitempty"`
	MediaRefID    *string    `gorm:"size:36" json:"-"`
	LikesCount    int64      `gorm:"default:0" json:"likesCount"`
	CommentsCount int64      `gorm:"default:0" json:"commentsCount"`
	ViewsCount    int64      `gorm:"default:0" json:"viewsCount"`
	Status        string     `gorm:"size:16;default:'published';index:idx_post_status_created,priority:1" json:"status"`
	Kind          string     `gorm:"size:10;default:'post'" json:"kind"`
	ExpiresAt     *time.Time `gorm:"index" json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `gorm:"index:idx_post_status_created,priority:2;index:idx_post_author_created,priority:2" json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	ReactionCounts map[string]int64 `gorm:"-" json:"reactionCounts,omitempty"`
	ViewerReaction string           `gorm:"-" json:"viewerReaction,omitempty"`
	Bookmarked     bool             `gorm:"-" json:"bookmarked,omitempty"`
	Sample         bool             `gorm:"-" json:"sample,omitempty"`
}

type Comment struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	PostID     string    `gorm:"size:36;not null;index:idx_comment_post_created,priority:1" json:"postId"`
	AuthorID   string    `gorm:"size:36;not null" json:"authorId"`
	AuthorName string    `gorm:"size:100" json:"authorName"`
	AuthorPic  string    `gorm:"size:512" json:"authorPic"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	CreatedAt  time.Time `gorm:"index:idx_comment_post_created,priority:2" json:"createdAt"`
}

// Reaction is keyed postId_userId so a user holds at most one reaction per post.
type Reaction struct {
	ID        string    `gorm:"primaryKey;size:80" json:"id"`
	PostID    string    `gorm:"size:36;not null;index" json:"postId"`
	UserID    string    `gorm:"size:36;not null" json:"userId"`
	Type      string    `gorm:"size:16;not null" json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func ReactionID(postID, userID string) string {
	return postID + "_" + userID
}

type ReactionCount struct {
	PostID string `gorm:"primaryKey;size:36"`
	Type   string `gorm:"primaryKey;size:16"`
	Count  int64  `gorm:"default:0"`
}

type Bookmark struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"userId"`
	PostID    string    `gorm:"primaryKey;size:36" json:"postId"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}
