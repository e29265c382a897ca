package dbmysql

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	Email           string         `gorm:"uniqueIndex;size:255;not null" json:"email,omitempty"`
	Username        string         `gorm:"uniqueIndex;size:30;not null" json:"username"`
	DisplayName     string         `gorm:"size:100" json:"displayName"`
	Bio             string         `gorm:"type:text" json:"bio"`
	ProfilePic      string         `gorm:"size:512" json:"profilePic"`
	IsAdmin         bool           `gorm:"default:false" json:"isAdmin"`
	StripeAccountID string         `gorm:"size:64;index" json:"-"`
	MessagePrice    int64          `gorm:"default:0" json:"messagePrice"` // cents, 0 disables paid DMs
	FirebaseUID     *string        `gorm:"uniqueIndex;size:128" json:"-"`
	PasswordHash    string         `gorm:"size:255" json:"-"`
	Status          string         `gorm:"type:enum('active','banned','deleted');default:'active'" json:"status"`
	FollowersCount  int64          `gorm:"default:0" json:"followersCount"`
	FollowingCount  int64          `gorm:"default:0" json:"followingCount"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Follow is a directed edge: FollowerID follows FollowingID.
type Follow struct {
	FollowerID  string    `gorm:"primaryKey;size:36" json:"followerId"`
	FollowingID string    `gorm:"primaryKey;size:36;index" json:"followingId"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
