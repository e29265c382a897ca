package dbmysql

import (
	"time"

	"amplifi/internal/common"
)

type Notification struct {
	ID            string                      `gorm:"primaryKey;size:36" json:"id"`
	UserID        string                      `gorm:"not null;index;size:36" json:"userId"`
	Header        string                      `gorm:"not null;size:255" json:"header"`
	Content       string                      `gorm:"not null;type:text" json:"content"`
	ImageURL      *string                     `gorm:"size:512" json:"imageUrl,omitempty"`
	ScheduledAt   *time.Time                  `gorm:"index" json:"scheduledAt,omitempty"`
	SentAt        *time.Time                  `json:"sentAt,omitempty"`
	ReadAt        *time.Time                  `json:"readAt,omitempty"`
	Type          common.NotificationType     `gorm:"not null;size:50" json:"type"`
	Status        common.NotificationStatus   `gorm:"default:'pending';size:50;index" json:"status"`
	Priority      int                         `gorm:"default:1" json:"priority"`
	TriggerUserID *string                     `gorm:"size:36" json:"triggerUserId,omitempty"`
	Metadata      common.NotificationMetadata `gorm:"serializer:json;type:json" json:"metadata"`
	RetryCount    int                         `gorm:"default:0" json:"-"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime" json:"updatedAt"`
}
