package user

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type followRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) FollowRepository {
	return &followRepository{db: db}
}

// Follow inserts the edge and bumps both counters. It reports false when the
// edge already existed.
func (r *followRepository) Follow(ctx context.Context, followerID, followingID string) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&dbmysql.Follow{FollowerID: followerID, FollowingID: followingID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		if err := bumpCounter(tx, followerID, "following_count", 1); err != nil {
			return err
		}
		return bumpCounter(tx, followingID, "followers_count", 1)
	})
	if err != nil {
		return false, fmt.Errorf("follow: %w", err)
	}
	return created, nil
}

func (r *followRepository) Unfollow(ctx context.Context, followerID, followingID string) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&dbmysql.Follow{}, "follower_id = ? AND following_id = ?", followerID, followingID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		if err := bumpCounter(tx, followerID, "following_count", -1); err != nil {
			return err
		}
		return bumpCounter(tx, followingID, "followers_count", -1)
	})
	if err != nil {
		return false, fmt.Errorf("unfollow: %w", err)
	}
	return removed, nil
}

func bumpCounter(tx *gorm.DB, userID, column string, delta int) error {
	return tx.Model(&dbmysql.User{}).Where("id = ?", userID).
		UpdateColumn(column, gorm.Expr("GREATEST("+column+" + ?, 0)", delta)).Error
}

func (r *followRepository) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&dbmysql.Follow{}).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Count(&count).Error
	return count > 0, err
}

// Followers pages edges pointing at userID. The cursor id is the follower id.
func (r *followRepository) Followers(ctx context.Context, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Follow, error) {
	return r.page(ctx, "following_id", "follower_id", userID, cursor, limit)
}

func (r *followRepository) Following(ctx context.Context, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Follow, error) {
	return r.page(ctx, "follower_id", "following_id", userID, cursor, limit)
}

func (r *followRepository) page(ctx context.Context, ownCol, otherCol, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Follow, error) {
	q := r.db.WithContext(ctx).Where(ownCol+" = ?", userID)
	if !cursor.IsZero() {
		q = q.Where("(created_at < ? OR (created_at = ? AND "+otherCol+" < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []*dbmysql.Follow
	err := q.Order("created_at DESC").Order(otherCol + " DESC").Limit(limit + 1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	return rows, nil
}

func (r *followRepository) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&dbmysql.Follow{}).Where("following_id = ?", userID).Pluck("follower_id", &ids).Error
	return ids, err
}

func (r *followRepository) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&dbmysql.Follow{}).Where("follower_id = ?", userID).Pluck("following_id", &ids).Error
	return ids, err
}
