package media

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type RefRepository interface {
	Create(ctx context.Context, ref *dbmysql.MediaRef) error
	ByID(ctx context.Context, id string) (*dbmysql.MediaRef, error)
	Delete(ctx context.Context, id string) error
}

type refRepository struct {
	db *gorm.DB
}

func NewRefRepository(db *gorm.DB) RefRepository {
	return &refRepository{db: db}
}

func (r *refRepository) Create(ctx context.Context, ref *dbmysql.MediaRef) error {
	if err := r.db.WithContext(ctx).Create(ref).Error; err != nil {
		return fmt.Errorf("create media ref: %w", err)
	}
	return nil
}

func (r *refRepository) ByID(ctx context.Context, id string) (*dbmysql.MediaRef, error) {
	var ref dbmysql.MediaRef
	err := r.db.WithContext(ctx).First(&ref, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("media")
	}
	if err != nil {
		return nil, fmt.Errorf("get media ref: %w", err)
	}
	return &ref, nil
}

func (r *refRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&dbmysql.MediaRef{}, "id = ?", id).Error
}
