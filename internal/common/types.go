package common

import (
	"time"
)

type NotificationType string

const (
	FollowType        NotificationType = "follow"
	CommentType       NotificationType = "comment"
	PostReactionType  NotificationType = "post_reaction"
	MessageType       NotificationType = "message"
	TipType           NotificationType = "tip"
	StreamStartedType NotificationType = "stream_started"
	OrderType         NotificationType = "order"
	SystemType        NotificationType = "system"
)

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusScheduled NotificationStatus = "scheduled"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
	StatusRead      NotificationStatus = "read"
)

type NotificationMetadata map[string]interface{}

type NotificationEvent struct {
	ID            string
	Type          NotificationType
	UserID        string
	TriggerUserID *string
	Header        string
	Content       string
	ImageURL      *string
	ScheduledAt   *time.Time
	Priority      int
	Metadata      NotificationMetadata
}

type NotificationResponse struct {
	ID            string               `json:"id"`
	Type          NotificationType     `json:"type"`
	Header        string               `json:"header"`
	Content       string               `json:"content"`
	ImageURL      *string              `json:"imageUrl,omitempty"`
	TriggerUserID *string              `json:"triggerUserId,omitempty"`
	Status        NotificationStatus   `json:"status"`
	Priority      int                  `json:"priority"`
	Metadata      NotificationMetadata `json:"metadata"`
	CreatedAt     time.Time            `json:"createdAt"`
	ReadAt        *time.Time           `json:"readAt,omitempty"`
}
