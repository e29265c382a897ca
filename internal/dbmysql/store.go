package dbmysql

import "time"

const (
	OrderStatusPending          = "pending"
	OrderStatusPaid             = "paid"
	OrderStatusFulfilling       = "fulfilling"
	OrderStatusShipped          = "shipped"
	OrderStatusManualProcessing = "manual_processing"
	OrderStatusFailed           = "failed"
	OrderStatusCanceled         = "canceled"

	PODStatusSubmitted        = "submitted"
	PODStatusManualProcessing = "manual_processing"
	PODStatusFailed           = "failed"
)

type Product struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	CreatorID    string    `gorm:"size:36;not null;index" json:"creatorId"`
	Name         string    `gorm:"size:150;not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	Price        int64     `gorm:"not null" json:"price"` // cents
	ImageURL     string    `gorm:"size:512" json:"imageUrl"`
	Category     string    `gorm:"size:50;index" json:"category"`
	PODService   string    `gorm:"size:20;default:'none'" json:"podService"`
	PODProductID string    `gorm:"size:100" json:"podProductId,omitempty"`
	Stock        int64     `gorm:"default:-1" json:"stock"` // -1 is unlimited
	Active       bool      `gorm:"default:true;index" json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Address struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

type Order struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	BuyerID         string    `gorm:"size:36;not null;index" json:"buyerId"`
	Subtotal        int64     `json:"subtotal"`
	Tax             int64     `json:"tax"`
	Shipping        int64     `json:"shipping"`
	Total           int64     `json:"total"`
	PlatformFee     int64     `json:"platformFee"`
	CreatorRevenue  int64     `json:"creatorRevenue"`
	Currency        string    `gorm:"size:3;default:'usd'" json:"currency"`
	Status          string    `gorm:"size:20;default:'pending';index" json:"status"`
	ShippingAddress Address   `gorm:"serializer:json;type:json" json:"shippingAddress"`
	PaymentIntentID string    `gorm:"size:64;uniqueIndex" json:"paymentIntentId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
}

type OrderItem struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	OrderID      string `gorm:"size:36;not null;index" json:"orderId"`
	ProductID    string `gorm:"size:36;not null" json:"productId"`
	CreatorID    string `gorm:"size:36;not null;index" json:"creatorId"`
	Name         string `gorm:"size:150" json:"name"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	PODService   string `gorm:"size:20" json:"podService"`
	PODProductID string `gorm:"size:100" json:"podProductId,omitempty"`
}

// PODOrder tracks one submission of an order's items to a print-on-demand provider.
type PODOrder struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	OrderID    string    `gorm:"size:36;not null;index" json:"orderId"`
	Service    string    `gorm:"size:20;not null" json:"service"`
	ExternalID string    `gorm:"size:100" json:"externalId,omitempty"`
	Status     string    `gorm:"size:20;index" json:"status"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
