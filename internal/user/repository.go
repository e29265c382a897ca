package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=user

type UserRepository interface {
	CreateUser(ctx context.Context, user *dbmysql.User) error
	GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error)
	GetUserByUsername(ctx context.Context, username string) (*dbmysql.User, error)
	GetUserByEmail(ctx context.Context, email string) (*dbmysql.User, error)
	GetUserByFirebaseUID(ctx context.Context, uid string) (*dbmysql.User, error)
	UpdateUser(ctx context.Context, user *dbmysql.User) error
	UsernameTaken(ctx context.Context, username string) (bool, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]*dbmysql.User, error)
	UsersByIDs(ctx context.Context, ids []string) ([]*dbmysql.User, error)
}

type FollowRepository interface {
	Follow(ctx context.Context, followerID, followingID string) (bool, error)
	Unfollow(ctx context.Context, followerID, followingID string) (bool, error)
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	Followers(ctx context.Context, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Follow, error)
	Following(ctx context.Context, userID string, cursor common.Cursor, limit int) ([]*dbmysql.Follow, error)
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
	FollowingIDs(ctx context.Context, userID string) ([]string, error)
}

type DeviceRepository interface {
	RegisterDevice(ctx context.Context, device *dbmysql.Device) error
	GetUserDevices(ctx context.Context, userID string) ([]*dbmysql.Device, error)
	RemoveDevice(ctx context.Context, userID, deviceToken string) error
	SaveSubscription(ctx context.Context, sub *dbmysql.PushSubscription) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) CreateUser(ctx context.Context, user *dbmysql.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if dbmysql.IsDuplicateKey(err) {
			return common.NewError(common.ErrConflict, "username or email already exists")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error) {
	return r.first(ctx, "id = ?", userID)
}

func (r *userRepository) GetUserByUsername(ctx context.Context, username string) (*dbmysql.User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*dbmysql.User, error) {
	return r.first(ctx, "email = ?", strings.ToLower(email))
}

func (r *userRepository) GetUserByFirebaseUID(ctx context.Context, uid string) (*dbmysql.User, error) {
	return r.first(ctx, "firebase_uid = ?", uid)
}

func (r *userRepository) first(ctx context.Context, query string, arg any) (*dbmysql.User, error) {
	var user dbmysql.User
	err := r.db.WithContext(ctx).Where(query+" AND status = ?", arg, "active").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) UpdateUser(ctx context.Context, user *dbmysql.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("update user %s: %w", user.ID, err)
	}
	return nil
}

func (r *userRepository) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&dbmysql.User{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

func (r *userRepository) EmailTaken(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&dbmysql.User{}).Where("email = ?", strings.ToLower(email)).Count(&count).Error
	return count > 0, err
}

func (r *userRepository) SearchUsers(ctx context.Context, prefix string, limit int) ([]*dbmysql.User, error) {
	var users []*dbmysql.User
	like := escapeLike(prefix) + "%"
	err := r.db.WithContext(ctx).
		Where("status = ? AND (username LIKE ? OR display_name LIKE ?)", "active", like, like).
		Order("followers_count DESC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (r *userRepository) UsersByIDs(ctx context.Context, ids []string) ([]*dbmysql.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []*dbmysql.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
