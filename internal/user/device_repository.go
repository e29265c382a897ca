package user

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"amplifi/internal/dbmysql"
)

// DeviceRepo stores FCM device tokens and Web Push subscriptions. The push
// observers read through it as well.
type DeviceRepo struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepo {
	return &DeviceRepo{db: db}
}

func (r *DeviceRepo) RegisterDevice(ctx context.Context, device *dbmysql.Device) error {
	device.IsActive = true
	device.LastActive = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "is_active", "last_active"}),
	}).Create(device).Error
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func (r *DeviceRepo) GetUserDevices(ctx context.Context, userID string) ([]*dbmysql.Device, error) {
	var devices []*dbmysql.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_active DESC").
		Find(&devices).Error
	return devices, err
}

func (r *DeviceRepo) RemoveDevice(ctx context.Context, userID, deviceToken string) error {
	return r.db.WithContext(ctx).Delete(&dbmysql.Device{}, "device_token = ? AND user_id = ?", deviceToken, userID).Error
}

// ActiveTokens returns tokens seen in the last 30 days.
func (r *DeviceRepo) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	cutoff := time.Now().AddDate(0, 0, -30)
	err := r.db.WithContext(ctx).Model(&dbmysql.Device{}).
		Where("user_id = ? AND is_active = ? AND last_active > ?", userID, true, cutoff).
		Order("last_active DESC").
		Pluck("device_token", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active devices: %w", err)
	}
	return tokens, nil
}

// DeactivateToken marks a token FCM rejected as unregistered.
func (r *DeviceRepo) DeactivateToken(ctx context.Context, token string) error {
	res := r.db.WithContext(ctx).Model(&dbmysql.Device{}).
		Where("device_token = ?", token).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to update token status: %w", res.Error)
	}
	return nil
}

func (r *DeviceRepo) SaveSubscription(ctx context.Context, sub *dbmysql.PushSubscription) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (r *DeviceRepo) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	return r.db.WithContext(ctx).Delete(&dbmysql.PushSubscription{}, "endpoint = ? AND user_id = ?", endpoint, userID).Error
}

func (r *DeviceRepo) Subscriptions(ctx context.Context, userID string) ([]*dbmysql.PushSubscription, error) {
	var subs []*dbmysql.PushSubscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

// PurgeSubscription drops an endpoint the push service reported as gone.
func (r *DeviceRepo) PurgeSubscription(ctx context.Context, endpoint string) error {
	return r.db.WithContext(ctx).Delete(&dbmysql.PushSubscription{}, "endpoint = ?", endpoint).Error
}
