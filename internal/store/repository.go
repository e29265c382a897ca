package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type ProductFilter struct {
	Category  string
	CreatorID string
}

type Repository interface {
	CreateProduct(ctx context.Context, p *dbmysql.Product) error
	GetProduct(ctx context.Context, id string) (*dbmysql.Product, error)
	SaveProduct(ctx context.Context, p *dbmysql.Product) error
	ListProducts(ctx context.Context, f ProductFilter, cursor common.Cursor, limit int) ([]*dbmysql.Product, error)
	ProductsByIDs(ctx context.Context, ids []string) ([]*dbmysql.Product, error)

	CreateOrder(ctx context.Context, o *dbmysql.Order) error
	GetOrder(ctx context.Context, id string) (*dbmysql.Order, error)
	// MarkPaid moves a pending order to paid and takes its items out of stock
	// in one transaction. changed is false when the order was not pending.
	MarkPaid(ctx context.Context, intentID string) (order *dbmysql.Order, changed bool, err error)
	// TransitionOrder sets status to "to" when the order is in one of "from".
	TransitionOrder(ctx context.Context, id string, from []string, to string) (bool, error)
	FailOrder(ctx context.Context, intentID string) (bool, error)
	ListBuyerOrders(ctx context.Context, buyerID string, cursor common.Cursor, limit int) ([]*dbmysql.Order, error)
	ListCreatorSales(ctx context.Context, creatorID string, cursor common.Cursor, limit int) ([]*dbmysql.Order, error)

	CreatePODOrder(ctx context.Context, p *dbmysql.PODOrder) error
	SavePODOrder(ctx context.Context, p *dbmysql.PODOrder) error
	FailedPODOrders(ctx context.Context, maxAttempts, limit int) ([]*dbmysql.PODOrder, error)
}

// collectedStatuses are the order states whose payment has gone through.
var collectedStatuses = []string{
	dbmysql.OrderStatusPaid,
	dbmysql.OrderStatusFulfilling,
	dbmysql.OrderStatusShipped,
	dbmysql.OrderStatusManualProcessing,
}

type storeRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &storeRepository{db: db}
}

func (r *storeRepository) CreateProduct(ctx context.Context, p *dbmysql.Product) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *storeRepository) GetProduct(ctx context.Context, id string) (*dbmysql.Product, error) {
	var p dbmysql.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("product")
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (r *storeRepository) SaveProduct(ctx context.Context, p *dbmysql.Product) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (r *storeRepository) ListProducts(ctx context.Context, f ProductFilter, cursor common.Cursor, limit int) ([]*dbmysql.Product, error) {
	q := r.db.WithContext(ctx).Where("active = ?", true)
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.CreatorID != "" {
		q = q.Where("creator_id = ?", f.CreatorID)
	}
	var out []*dbmysql.Product
	if err := q.Scopes(dbmysql.Newest("", cursor, limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

func (r *storeRepository) ProductsByIDs(ctx context.Context, ids []string) ([]*dbmysql.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []*dbmysql.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	return out, nil
}

func (r *storeRepository) CreateOrder(ctx context.Context, o *dbmysql.Order) error {
	// Create with associations inserts the items in the same transaction.
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *storeRepository) GetOrder(ctx context.Context, id string) (*dbmysql.Order, error) {
	var o dbmysql.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("order")
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (r *storeRepository) MarkPaid(ctx context.Context, intentID string) (*dbmysql.Order, bool, error) {
	var (
		order   dbmysql.Order
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Items").Where("payment_intent_id = ?", intentID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.NotFound("order")
			}
			return err
		}
		res := tx.Model(&dbmysql.Order{}).
			Where("id = ? AND status = ?", order.ID, dbmysql.OrderStatusPending).
			Update("status", dbmysql.OrderStatusPaid)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		order.Status = dbmysql.OrderStatusPaid
		for _, it := range order.Items {
			// Unlimited stock is -1 and is left alone.
			err := tx.Model(&dbmysql.Product{}).
				Where("id = ? AND stock >= 0", it.ProductID).
				Update("stock", gorm.Expr("GREATEST(stock - ?, 0)", it.Quantity)).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("mark order paid: %w", err)
	}
	return &order, changed, nil
}

func (r *storeRepository) TransitionOrder(ctx context.Context, id string, from []string, to string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&dbmysql.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("update order status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *storeRepository) FailOrder(ctx context.Context, intentID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&dbmysql.Order{}).
		Where("payment_intent_id = ? AND status = ?", intentID, dbmysql.OrderStatusPending).
		Update("status", dbmysql.OrderStatusFailed)
	if res.Error != nil {
		return false, fmt.Errorf("fail order: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *storeRepository) ListBuyerOrders(ctx context.Context, buyerID string, cursor common.Cursor, limit int) ([]*dbmysql.Order, error) {
	var out []*dbmysql.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("buyer_id = ?", buyerID).
		Scopes(dbmysql.Newest("", cursor, limit)).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// ListCreatorSales returns collected orders containing the creator's products,
// with Items narrowed to those products.
func (r *storeRepository) ListCreatorSales(ctx context.Context, creatorID string, cursor common.Cursor, limit int) ([]*dbmysql.Order, error) {
	mine := r.db.Model(&dbmysql.OrderItem{}).Select("order_id").Where("creator_id = ?", creatorID)
	var out []*dbmysql.Order
	err := r.db.WithContext(ctx).
		Preload("Items", "creator_id = ?", creatorID).
		Where("id IN (?) AND status IN ?", mine, collectedStatuses).
		Scopes(dbmysql.Newest("", cursor, limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return out, nil
}

func (r *storeRepository) CreatePODOrder(ctx context.Context, p *dbmysql.PODOrder) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create pod order: %w", err)
	}
	return nil
}

func (r *storeRepository) SavePODOrder(ctx context.Context, p *dbmysql.PODOrder) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save pod order: %w", err)
	}
	return nil
}

func (r *storeRepository) FailedPODOrders(ctx context.Context, maxAttempts, limit int) ([]*dbmysql.PODOrder, error) {
	var out []*dbmysql.PODOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", dbmysql.PODStatusFailed, maxAttempts).
		Order("updated_at ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list failed pod orders: %w", err)
	}
	return out, nil
}
