package dbmysql

import (
	"time"
)

type Conversation struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	IsGroup       bool       `gorm:"default:false" json:"isGroup"`
	Name          string     `gorm:"size:100" json:"name,omitempty"`
	CreatedBy     string     `gorm:"size:36" json:"createdBy"`
	DirectKey     *string    `gorm:"uniqueIndex;size:80" json:"-"` // sorted "a_b" pair, nil for groups
	LastMessage   string     `gorm:"size:255" json:"lastMessage"`
	LastMessageAt *time.Time `gorm:"index" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
	UnreadCount  int64                     `gorm:"-" json:"unreadCount"`
}

type ConversationParticipant struct {
	ConversationID string    `gorm:"primaryKey;size:36" json:"conversationId"`
	UserID         string    `gorm:"primaryKey;size:36;index" json:"userId"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joinedAt"`
}
