package payment

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type Repository interface {
	CreateTip(ctx context.Context, tip *dbmysql.Tip) error
	TipByIntent(ctx context.Context, intentID string) (*dbmysql.Tip, error)
	// SettleTip moves a pending tip to status and reports whether it changed.
	SettleTip(ctx context.Context, intentID, status string) (bool, error)
	CreatePayout(ctx context.Context, payout *dbmysql.Payout) error
	SetPayoutStatus(ctx context.Context, stripePayoutID, status string) error
	ListPayouts(ctx context.Context, userID string, limit int) ([]*dbmysql.Payout, error)
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	TipsReceived(ctx context.Context, userID string) (count, total int64, err error)
	SalesTotal(ctx context.Context, creatorID string) (int64, error)
	PayoutTotal(ctx context.Context, userID string) (int64, error)
	MessagesReceived(ctx context.Context, userID string) (int64, error)
	// ReservePayout stores payout while holding the user's row lock, unless
	// available(totals) does not cover its amount.
	ReservePayout(ctx context.Context, payout *dbmysql.Payout, available func(Totals) int64) error
	UpdatePayout(ctx context.Context, payout *dbmysql.Payout) error
}

// Totals are the money movements a creator's balance is derived from.
type Totals struct {
	Tips     int64
	Sales    int64
	Messages int64
	Paid     int64
}

// paidOrderStatuses are the order states whose money has been collected.
var paidOrderStatuses = []string{
	dbmysql.OrderStatusPaid,
	dbmysql.OrderStatusFulfilling,
	dbmysql.OrderStatusShipped,
	dbmysql.OrderStatusManualProcessing,
}

type paymentRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreateTip(ctx context.Context, tip *dbmysql.Tip) error {
	if err := r.db.WithContext(ctx).Create(tip).Error; err != nil {
		return fmt.Errorf("create tip: %w", err)
	}
	return nil
}

func (r *paymentRepository) TipByIntent(ctx context.Context, intentID string) (*dbmysql.Tip, error) {
	var tip dbmysql.Tip
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&tip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("tip")
	}
	if err != nil {
		return nil, fmt.Errorf("get tip: %w", err)
	}
	return &tip, nil
}

func (r *paymentRepository) SettleTip(ctx context.Context, intentID, status string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&dbmysql.Tip{}).
		Where("payment_intent_id = ? AND status = ?", intentID, dbmysql.TipStatusPending).
		Update("status", status)
	if res.Error != nil {
		return false, fmt.Errorf("settle tip: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *paymentRepository) CreatePayout(ctx context.Context, payout *dbmysql.Payout) error {
	if err := r.db.WithContext(ctx).Create(payout).Error; err != nil {
		return fmt.Errorf("create payout: %w", err)
	}
	return nil
}

func (r *paymentRepository) SetPayoutStatus(ctx context.Context, stripePayoutID, status string) error {
	res := r.db.WithContext(ctx).Model(&dbmysql.Payout{}).
		Where("stripe_payout_id = ?", stripePayoutID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update payout: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NotFound("payout")
	}
	return nil
}

func (r *paymentRepository) ListPayouts(ctx context.Context, userID string, limit int) ([]*dbmysql.Payout, error) {
	var out []*dbmysql.Payout
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return out, nil
}

func (r *paymentRepository) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&dbmysql.WebhookEvent{}).Where("id = ?", eventID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return n > 0, nil
}

func (r *paymentRepository) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&dbmysql.WebhookEvent{ID: eventID, Type: eventType}).Error
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (r *paymentRepository) TipsReceived(ctx context.Context, userID string) (int64, int64, error) {
	var row struct {
		Count int64
		Total int64
	}
	err := r.db.WithContext(ctx).Model(&dbmysql.Tip{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("to_user_id = ? AND status = ?", userID, dbmysql.TipStatusSucceeded).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("sum tips: %w", err)
	}
	return row.Count, row.Total, nil
}

// SalesTotal is the gross value of a creator's items in collected orders.
func (r *paymentRepository) SalesTotal(ctx context.Context, creatorID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Table("order_items").
		Select("COALESCE(SUM(order_items.unit_price * order_items.quantity), 0)").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("order_items.creator_id = ? AND orders.status IN ?", creatorID, paidOrderStatuses).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum sales: %w", err)
	}
	return total, nil
}

func (r *paymentRepository) PayoutTotal(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&dbmysql.Payout{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND status NOT IN ?", userID, []string{dbmysql.PayoutStatusFailed, dbmysql.PayoutStatusCanceled}).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum payouts: %w", err)
	}
	return total, nil
}

// MessagesReceived sums the settled paid messages sent to userID.
func (r *paymentRepository) MessagesReceived(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&dbmysql.Message{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("recipient_id = ? AND paid = ? AND status = ?", userID, true, dbmysql.MessageStatusSent).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum paid messages: %w", err)
	}
	return total, nil
}

func (r *paymentRepository) totals(ctx context.Context, userID string) (Totals, error) {
	var t Totals
	var err error
	if _, t.Tips, err = r.TipsReceived(ctx, userID); err != nil {
		return t, err
	}
	if t.Sales, err = r.SalesTotal(ctx, userID); err != nil {
		return t, err
	}
	if t.Messages, err = r.MessagesReceived(ctx, userID); err != nil {
		return t, err
	}
	t.Paid, err = r.PayoutTotal(ctx, userID)
	return t, err
}

func (r *paymentRepository) ReservePayout(ctx context.Context, payout *dbmysql.Payout, available func(Totals) int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user dbmysql.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&user, "id = ?", payout.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return common.NotFound("user")
		}
		if err != nil {
			return err
		}
		t, err := (&paymentRepository{db: tx}).totals(ctx, payout.UserID)
		if err != nil {
			return err
		}
		if avail := available(t); payout.Amount > avail {
			return common.Invalid("payout exceeds available earnings of %d cents", avail)
		}
		return tx.Create(payout).Error
	})
	if err != nil {
		return fmt.Errorf("reserve payout: %w", err)
	}
	return nil
}

func (r *paymentRepository) UpdatePayout(ctx context.Context, payout *dbmysql.Payout) error {
	err := r.db.WithContext(ctx).Model(payout).
		Select("stripe_transfer_id", "stripe_payout_id", "status", "updated_at").
		Updates(payout).Error
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	return nil
}
