package dbmysql

import (
	"time"
)

const (
	MessageStatusSent           = "sent"
	MessageStatusPendingPayment = "pending_payment"
	MessageStatusPaymentFailed  = "payment_failed"
)

// Message is visible to other participants only once its status is sent.
type Message struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	ConversationID  string     `gorm:"size:36;not null;index:idx_msg_conv_created,priority:1" json:"conversationId"`
	SenderID        string     `gorm:"size:36;not null;index" json:"senderId"`
	Text            string     `gorm:"type:text" json:"text"`
	ReplyToID       *string    `gorm:"size:36" json:"replyToId,omitempty"`
	EditedAt        *time.Time `json:"editedAt,omitempty"`
	Deleted         bool       `gorm:"default:false" json:"deleted"`
	RecipientID     *string    `gorm:"size:36;index" json:"recipientId,omitempty"` // paid messages only
	Paid            bool       `gorm:"default:false" json:"paid"`
	Amount          int64      `gorm:"default:0" json:"amount,omitempty"`
	PaymentIntentID string     `gorm:"size:64;index" json:"paymentIntentId,omitempty"`
	Status          string     `gorm:"size:16;default:'sent'" json:"status"`
	CreatedAt       time.Time  `gorm:"index:idx_msg_conv_created,priority:2" json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	ReadBy []string `gorm:"-" json:"readBy"`
}

type MessageRead struct {
	MessageID string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:36"`
	ReadAt    time.Time `gorm:"autoCreateTime"`
}
