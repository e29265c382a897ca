package dbmysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"amplifi/internal/common"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{
		db: db,
	}
}

func (r *NotificationRepository) Create(ctx context.Context, notif *Notification) error {
	if err := r.db.WithContext(ctx).Create(notif).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ByID(ctx context.Context, id string) (*Notification, error) {
	var notification Notification

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NotFound("notification")
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return &notification, nil
}

func (r *NotificationRepository) ByUserID(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	var notifications []*Notification

	query := r.db.WithContext(ctx).
		Where("user_id = ? AND (scheduled_at IS NULL OR status <> ?)", userID, common.StatusScheduled).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to get user notifications: %w", err)
	}

	return notifications, nil
}

// ScheduledNotifications returns scheduled rows that are due at or before beforeTime.
func (r *NotificationRepository) ScheduledNotifications(ctx context.Context, beforeTime time.Time) ([]*Notification, error) {
	var notifications []*Notification

	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?",
			common.StatusScheduled, beforeTime).
		Order("scheduled_at ASC").
		Find(&notifications).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled notifications: %w", err)
	}

	return notifications, nil
}

func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, status common.NotificationStatus) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if status == common.StatusSent {
		updates["sent_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update notification status: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return common.NotFound("notification")
	}

	return nil
}

func (r *NotificationRepository) MarkAsRead(ctx context.Context, id, userID string) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"status":     common.StatusRead,
			"read_at":    &now,
			"updated_at": now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark notification as read: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return common.NotFound("notification")
	}

	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND status NOT IN ?", userID, []common.NotificationStatus{common.StatusRead, common.StatusScheduled}).
		Updates(map[string]interface{}{
			"status":     common.StatusRead,
			"read_at":    &now,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *NotificationRepository) Delete(ctx context.Context, id, userID string) error {
	result := r.db.WithContext(ctx).Delete(&Notification{}, "id = ? AND user_id = ?", id, userID)

	if result.Error != nil {
		return fmt.Errorf("failed to delete notification: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return common.NotFound("notification")
	}

	return nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND status NOT IN ?", userID, []common.NotificationStatus{common.StatusRead, common.StatusScheduled}).
		Count(&count).Error

	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}

	return count, nil
}
