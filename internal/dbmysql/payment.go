package dbmysql

import "time"

const (
	TipStatusPending   = "pending"
	TipStatusSucceeded = "succeeded"
	TipStatusFailed    = "failed"

	PayoutStatusPending   = "pending"
	PayoutStatusInTransit = "in_transit"
	PayoutStatusPaid      = "paid"
	PayoutStatusFailed    = "failed"
	PayoutStatusCanceled  = "canceled"
)

type Tip struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	FromUserID      string    `gorm:"size:36;not null;index" json:"fromUserId"`
	ToUserID        string    `gorm:"size:36;not null;index" json:"toUserId"`
	PostID          *string   `gorm:"size:36" json:"postId,omitempty"`
	StreamID        *string   `gorm:"size:36;index" json:"streamId,omitempty"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"size:3;default:'usd'" json:"currency"`
	Message         string    `gorm:"size:255" json:"message,omitempty"`
	PaymentIntentID string    `gorm:"size:64;uniqueIndex" json:"paymentIntentId"`
	Status          string    `gorm:"size:16;default:'pending'" json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Payout struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserID           string    `gorm:"size:36;not null;index" json:"userId"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Currency         string    `gorm:"size:3;default:'usd'" json:"currency"`
	StripeTransferID string    `gorm:"size:64" json:"transferId,omitempty"`
	StripePayoutID   string    `gorm:"size:64;index" json:"payoutId,omitempty"`
	Status           string    `gorm:"size:16;default:'pending'" json:"status"`
	EstimatedArrival time.Time `json:"estimatedArrival"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// WebhookEvent remembers processed provider events so redeliveries are ignored.
type WebhookEvent struct {
	ID          string    `gorm:"primaryKey;size:255"`
	Type        string    `gorm:"size:100"`
	ProcessedAt time.Time `gorm:"autoCreateTime"`
}
