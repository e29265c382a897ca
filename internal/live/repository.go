package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type Streams interface {
	CreateStream(ctx context.Context, stream *dbmysql.LiveStream) error
	GetStream(ctx context.Context, id string) (*dbmysql.LiveStream, error)
	LiveByCreator(ctx context.Context, creatorID string) (*dbmysql.LiveStream, error)
	ListLive(ctx context.Context, category string, limit int) ([]*dbmysql.LiveStream, error)
	Heartbeat(ctx context.Context, id string, at time.Time) error
	FinishStream(ctx context.Context, stream *dbmysql.LiveStream) error
	Stale(ctx context.Context, before time.Time, limit int) ([]*dbmysql.LiveStream, error)
	CreditTip(ctx context.Context, id string, amount int64) error
	TipTotal(ctx context.Context, id string) (int64, error)
}

// StreamRepository stores stream rows in MySQL; chat lines live in Mongo.
type StreamRepository struct {
	db *gorm.DB
}

func NewStreamRepository(db *gorm.DB) *StreamRepository {
	return &StreamRepository{db: db}
}

// CreateStream relies on the unique live_creator_id index to keep one live
// stream per creator.
func (r *StreamRepository) CreateStream(ctx context.Context, stream *dbmysql.LiveStream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		if dbmysql.IsDuplicateKey(err) {
			return common.NewError(common.ErrConflict, "you already have a live stream")
		}
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

func (r *StreamRepository) GetStream(ctx context.Context, id string) (*dbmysql.LiveStream, error) {
	var s dbmysql.LiveStream
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("stream")
	}
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return &s, nil
}

func (r *StreamRepository) LiveByCreator(ctx context.Context, creatorID string) (*dbmysql.LiveStream, error) {
	var s dbmysql.LiveStream
	err := r.db.WithContext(ctx).
		Where("live_creator_id = ?", creatorID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("live stream")
	}
	if err != nil {
		return nil, fmt.Errorf("live stream by creator: %w", err)
	}
	return &s, nil
}

func (r *StreamRepository) ListLive(ctx context.Context, category string, limit int) ([]*dbmysql.LiveStream, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND privacy = ?", dbmysql.StreamStatusLive, PrivacyPublic)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var out []*dbmysql.LiveStream
	if err := q.Order("started_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list live streams: %w", err)
	}
	return out, nil
}

func (r *StreamRepository) Heartbeat(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&dbmysql.LiveStream{}).
		Where("id = ? AND status = ?", id, dbmysql.StreamStatusLive).
		Update("last_heartbeat", at).Error
	if err != nil {
		return fmt.Errorf("stream heartbeat: %w", err)
	}
	return nil
}

// FinishStream writes the analytics and flips the status, once. A second
// caller gets ErrConflict.
func (r *StreamRepository) FinishStream(ctx context.Context, s *dbmysql.LiveStream) error {
	res := r.db.WithContext(ctx).Model(&dbmysql.LiveStream{}).
		Where("id = ? AND status = ?", s.ID, dbmysql.StreamStatusLive).
		Updates(map[string]any{
			"status":           dbmysql.StreamStatusEnded,
			"live_creator_id":  nil,
			"ended_at":         s.EndedAt,
			"peak_viewers":     s.PeakViewers,
			"total_viewers":    s.TotalViewers,
			"chat_count":       s.ChatCount,
			"total_tips":       s.TotalTips,
			"duration_seconds": s.DurationSeconds,
			"avg_viewers":      s.AvgViewers,
		})
	if res.Error != nil {
		return fmt.Errorf("finish stream: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NewError(common.ErrConflict, "stream already ended")
	}
	return nil
}

func (r *StreamRepository) Stale(ctx context.Context, before time.Time, limit int) ([]*dbmysql.LiveStream, error) {
	var out []*dbmysql.LiveStream
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_heartbeat < ?", dbmysql.StreamStatusLive, before).
		Order("last_heartbeat ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("stale streams: %w", err)
	}
	return out, nil
}

// CreditTip keeps the running total shown while a stream is live.
func (r *StreamRepository) CreditTip(ctx context.Context, id string, amount int64) error {
	err := r.db.WithContext(ctx).Model(&dbmysql.LiveStream{}).
		Where("id = ?", id).
		Update("total_tips", gorm.Expr("total_tips + ?", amount)).Error
	if err != nil {
		return fmt.Errorf("credit stream tip: %w", err)
	}
	return nil
}

// TipTotal sums the succeeded tips tied to the stream.
func (r *StreamRepository) TipTotal(ctx context.Context, id string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&dbmysql.Tip{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("stream_id = ? AND status = ?", id, dbmysql.TipStatusSucceeded).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum stream tips: %w", err)
	}
	return total, nil
}
