// Package admin exposes platform statistics and moderation over HTTP and gRPC.
package admin

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"amplifi/internal/dbmysql"
)

type Stats struct {
	Users       int64 `json:"users"`
	Posts       int64 `json:"posts"`
	LiveStreams int64 `json:"liveStreams"`
	Orders      int64 `json:"orders"`
	TipVolume   int64 `json:"tipVolume"`
}

type StatsReader interface {
	Stats(ctx context.Context) (*Stats, error)
}

type PostHider interface {
	HidePost(ctx context.Context, postID string) error
}

// paidOrderStatuses are the orders that collected money.
var paidOrderStatuses = []string{
	dbmysql.OrderStatusPaid,
	dbmysql.OrderStatusFulfilling,
	dbmysql.OrderStatusManualProcessing,
	dbmysql.OrderStatusShipped,
}

type statsRepository struct {
	db *gorm.DB
}

func NewStatsRepository(db *gorm.DB) StatsReader {
	return &statsRepository{db: db}
}

func (r *statsRepository) Stats(ctx context.Context) (*Stats, error) {
	db := r.db.WithContext(ctx)
	var s Stats

	if err := db.Model(&dbmysql.User{}).Count(&s.Users).Error; err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	err := db.Model(&dbmysql.Post{}).
		Where("kind = ? AND status = ?", dbmysql.PostKindPost, dbmysql.PostStatusPublished).
		Count(&s.Posts).Error
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	err = db.Model(&dbmysql.LiveStream{}).
		Where("status = ?", dbmysql.StreamStatusLive).
		Count(&s.LiveStreams).Error
	if err != nil {
		return nil, fmt.Errorf("count live streams: %w", err)
	}
	err = db.Model(&dbmysql.Order{}).
		Where("status IN ?", paidOrderStatuses).
		Count(&s.Orders).Error
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	err = db.Model(&dbmysql.Tip{}).
		Where("status = ?", dbmysql.TipStatusSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&s.TipVolume).Error
	if err != nil {
		return nil, fmt.Errorf("sum tips: %w", err)
	}
	return &s, nil
}

type Service struct {
	stats StatsReader
	posts PostHider
}

func NewService(stats StatsReader, posts PostHider) *Service {
	return &Service{stats: stats, posts: posts}
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.stats.Stats(ctx)
}

func (s *Service) HidePost(ctx context.Context, postID string) error {
	return s.posts.HidePost(ctx, postID)
}
