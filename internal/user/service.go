package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/sirupsen/logrus"

	"amplifi/internal/cache"
	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

const (
	defaultSearchLimit = 20
	defaultFollowLimit = 20
	statusActive       = "active"
)

var validPlatforms = map[string]bool{"android": true, "ios": true, "web": true}

type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResult, error)
	Login(ctx context.Context, identifier, password string) (*AuthResult, error)
	LoginWithFirebase(ctx context.Context, idToken string) (*AuthResult, error)
	GetProfile(ctx context.Context, userID string) (*dbmysql.User, error)
	GetByUsername(ctx context.Context, username string) (*dbmysql.User, error)
	UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*dbmysql.User, error)
	UploadAvatar(ctx context.Context, userID, fileName string, body io.Reader) (*dbmysql.User, error)
	Follow(ctx context.Context, followerID, targetID string) error
	Unfollow(ctx context.Context, followerID, targetID string) error
	IsFollowing(ctx context.Context, followerID, targetID string) (bool, error)
	Followers(ctx context.Context, userID string, page common.PageRequest) (common.Page[Connection], error)
	Following(ctx context.Context, userID string, page common.PageRequest) (common.Page[Connection], error)
	SearchUsers(ctx context.Context, q string, limit int) ([]*dbmysql.User, error)
	RegisterDevice(ctx context.Context, userID, token, platform string) error
	RemoveDevice(ctx context.Context, userID, token string) error
	ListDevices(ctx context.Context, userID string) ([]*dbmysql.Device, error)
	SaveSubscription(ctx context.Context, userID string, sub PushSubscriptionRequest) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
}

// IDTokenVerifier is the part of the Firebase auth client used for sign-in.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type AvatarUploader interface {
	Upload(ctx context.Context, userID, folder, fileName string, body io.Reader) (*dbmysql.MediaRef, error)
}

type RegisterRequest struct {
	Email       string `json:"email" validate:"required"`
	Username    string `json:"username" validate:"required"`
	DisplayName string `json:"displayName" validate:"max=100"`
	Password    string `json:"password" validate:"required"`
}

type AuthResult struct {
	User  *dbmysql.User `json:"user"`
	Token string        `json:"token"`
}

// ProfileUpdate carries only the fields the caller wants changed.
type ProfileUpdate struct {
	DisplayName  *string `json:"displayName" validate:"omitempty,max=100"`
	Bio          *string `json:"bio" validate:"omitempty,max=500"`
	ProfilePic   *string `json:"profilePic" validate:"omitempty,url"`
	MessagePrice *int64  `json:"messagePrice" validate:"omitempty,gte=0,lte=100000"`
}

type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

// Connection is one row of a followers/following list.
type Connection struct {
	User       *dbmysql.User `json:"user"`
	FollowedAt time.Time     `json:"followedAt"`
}

// FeedInvalidator drops cached feed pages.
type FeedInvalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type userService struct {
	userRepo   UserRepository
	followRepo FollowRepository
	deviceRepo DeviceRepository
	tokens     *common.TokenManager
	firebase   IDTokenVerifier
	avatars    AvatarUploader
	notifier   common.Notifier
	feeds      FeedInvalidator
}

func NewUserService(
	userRepo UserRepository,
	followRepo FollowRepository,
	deviceRepo DeviceRepository,
	tokens *common.TokenManager,
	firebase IDTokenVerifier,
	avatars AvatarUploader,
	notifier common.Notifier,
	feeds FeedInvalidator,
) UserService {
	if notifier == nil {
		notifier = common.NopNotifier{}
	}
	return &userService{
		userRepo:   userRepo,
		followRepo: followRepo,
		deviceRepo: deviceRepo,
		tokens:     tokens,
		firebase:   firebase,
		avatars:    avatars,
		notifier:   notifier,
		feeds:      feeds,
	}
}

func (s *userService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if err := common.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := common.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := common.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	taken, err := s.userRepo.UsernameTaken(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, common.NewError(common.ErrConflict, "username already exists")
	}
	taken, err = s.userRepo.EmailTaken(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, common.NewError(common.ErrConflict, "email already registered")
	}

	hashed, err := common.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}
	user := &dbmysql.User{
		ID:           common.NewID(),
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hashed,
		Status:       statusActive,
	}
	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	common.Log.WithField("user_id", user.ID).Info("user registered")
	return s.issue(user)
}

// Login accepts either a username or an email as identifier.
func (s *userService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, common.Invalid("username and password required")
	}

	var (
		user *dbmysql.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.userRepo.GetUserByEmail(ctx, identifier)
	} else {
		user, err = s.userRepo.GetUserByUsername(ctx, identifier)
	}
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewError(common.ErrUnauthorized, "invalid credentials")
	}
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == "" || common.CheckPassword(password, user.PasswordHash) != nil {
		return nil, common.NewError(common.ErrUnauthorized, "invalid credentials")
	}
	return s.issue(user)
}

func (s *userService) LoginWithFirebase(ctx context.Context, idToken string) (*AuthResult, error) {
	if s.firebase == nil {
		return nil, common.NewError(common.ErrUnavailable, "firebase sign-in is not configured")
	}
	if idToken == "" {
		return nil, common.Invalid("idToken is required")
	}

	token, err := s.firebase.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, common.WrapError(common.ErrUnauthorized, err, "invalid firebase token")
	}

	user, err := s.userRepo.GetUserByFirebaseUID(ctx, token.UID)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	email, _ := token.Claims["email"].(string)
	email = strings.ToLower(email)

	// An account registered with a password adopts the Firebase identity.
	if email != "" {
		existing, err := s.userRepo.GetUserByEmail(ctx, email)
		if err == nil {
			uid := token.UID
			existing.FirebaseUID = &uid
			if err := s.userRepo.UpdateUser(ctx, existing); err != nil {
				return nil, err
			}
			return s.issue(existing)
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}

	username, err := s.uniqueUsername(ctx, email)
	if err != nil {
		return nil, err
	}
	name, _ := token.Claims["name"].(string)
	if name == "" {
		name = username
	}
	pic, _ := token.Claims["picture"].(string)
	uid := token.UID
	if email == "" {
		email = uid + "@users.amplifi.local"
	}

	user = &dbmysql.User{
		ID:          common.NewID(),
		Username:    username,
		Email:       email,
		DisplayName: name,
		ProfilePic:  pic,
		FirebaseUID: &uid,
		Status:      statusActive,
	}
	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	common.Log.WithFields(logrus.Fields{"user_id": user.ID, "username": username}).Info("user created from firebase sign-in")
	return s.issue(user)
}

var nonUsernameChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// uniqueUsername derives a free username from an email local part.
func (s *userService) uniqueUsername(ctx context.Context, email string) (string, error) {
	local, _, _ := strings.Cut(email, "@")
	base := nonUsernameChars.ReplaceAllString(strings.ToLower(local), "")
	if len(base) > 24 {
		base = base[:24]
	}
	if len(base) < 3 {
		base = "user" + base
	}

	for i := 0; i < 20; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := s.userRepo.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return base + "_" + strings.ReplaceAll(common.NewID(), "-", "")[:5], nil
}

func (s *userService) issue(user *dbmysql.User) (*AuthResult, error) {
	token, err := s.tokens.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (*dbmysql.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*dbmysql.User, error) {
	return s.userRepo.GetUserByUsername(ctx, username)
}

func (s *userService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*dbmysql.User, error) {
	if err := common.ValidateStruct(upd); err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, common.Invalid("displayName cannot be empty")
		}
		user.DisplayName = name
	}
	if upd.Bio != nil {
		user.Bio = strings.TrimSpace(*upd.Bio)
	}
	if upd.ProfilePic != nil {
		user.ProfilePic = *upd.ProfilePic
	}
	if upd.MessagePrice != nil {
		user.MessagePrice = *upd.MessagePrice
	}

	if err := s.userRepo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userService) UploadAvatar(ctx context.Context, userID, fileName string, body io.Reader) (*dbmysql.User, error) {
	if s.avatars == nil {
		return nil, common.NewError(common.ErrUnavailable, "media storage is not configured")
	}
	fileType, _, err := common.MediaTypeFromFileName(fileName)
	if err != nil {
		return nil, err
	}
	if fileType != common.MediaFileTypeImage {
		return nil, common.Invalid("avatar must be an image")
	}
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	ref, err := s.avatars.Upload(ctx, userID, "avatars", fileName, body)
	if err != nil {
		return nil, err
	}
	user.ProfilePic = ref.URL
	if err := s.userRepo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userService) Follow(ctx context.Context, followerID, targetID string) error {
	if followerID == targetID {
		return common.Invalid("cannot follow yourself")
	}
	follower, err := s.userRepo.GetUserByID(ctx, followerID)
	if err != nil {
		return err
	}
	if _, err := s.userRepo.GetUserByID(ctx, targetID); err != nil {
		return err
	}

	created, err := s.followRepo.Follow(ctx, followerID, targetID)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	s.dropFollowingFeed(ctx, followerID)

	trigger := followerID
	event := common.NotificationEvent{
		Type:          common.FollowType,
		UserID:        targetID,
		TriggerUserID: &trigger,
		Header:        "New follower",
		Content:       fmt.Sprintf("%s started following you", follower.DisplayName),
		Priority:      2,
		Metadata:      common.NotificationMetadata{"followerId": followerID, "username": follower.Username},
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		common.Log.WithError(err).WithField("user_id", targetID).Warn("follow notification failed")
	}
	return nil
}

func (s *userService) Unfollow(ctx context.Context, followerID, targetID string) error {
	if followerID == targetID {
		return common.Invalid("cannot unfollow yourself")
	}
	removed, err := s.followRepo.Unfollow(ctx, followerID, targetID)
	if err != nil {
		return err
	}
	if removed {
		s.dropFollowingFeed(ctx, followerID)
	}
	return nil
}

// dropFollowingFeed forgets the cached following feed, whose author set just changed.
func (s *userService) dropFollowingFeed(ctx context.Context, followerID string) {
	if s.feeds == nil {
		return
	}
	if err := s.feeds.Invalidate(ctx, cache.FollowingFeedKey(followerID)); err != nil {
		common.Log.WithError(err).WithField("user_id", followerID).Warn("invalidate following feed")
	}
}

func (s *userService) IsFollowing(ctx context.Context, followerID, targetID string) (bool, error) {
	if followerID == "" || followerID == targetID {
		return false, nil
	}
	return s.followRepo.IsFollowing(ctx, followerID, targetID)
}

func (s *userService) Followers(ctx context.Context, userID string, req common.PageRequest) (common.Page[Connection], error) {
	return s.connections(ctx, req, func(c common.Cursor, limit int) ([]*dbmysql.Follow, error) {
		return s.followRepo.Followers(ctx, userID, c, limit)
	}, func(f *dbmysql.Follow) string { return f.FollowerID })
}

func (s *userService) Following(ctx context.Context, userID string, req common.PageRequest) (common.Page[Connection], error) {
	return s.connections(ctx, req, func(c common.Cursor, limit int) ([]*dbmysql.Follow, error) {
		return s.followRepo.Following(ctx, userID, c, limit)
	}, func(f *dbmysql.Follow) string { return f.FollowingID })
}

func (s *userService) connections(
	ctx context.Context,
	req common.PageRequest,
	fetch func(common.Cursor, int) ([]*dbmysql.Follow, error),
	other func(*dbmysql.Follow) string,
) (common.Page[Connection], error) {
	cursor, err := common.DecodeCursor(req.Cursor)
	if err != nil {
		return common.Page[Connection]{}, err
	}
	limit := req.LimitOr(defaultFollowLimit)

	edges, err := fetch(cursor, limit)
	if err != nil {
		return common.Page[Connection]{}, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, other(e))
	}
	users, err := s.userRepo.UsersByIDs(ctx, ids)
	if err != nil {
		return common.Page[Connection]{}, err
	}
	byID := make(map[string]*dbmysql.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	rows := make([]Connection, 0, len(edges))
	for _, e := range edges {
		if u, ok := byID[other(e)]; ok {
			rows = append(rows, Connection{User: u, FollowedAt: e.CreatedAt})
		}
	}
	return common.NewPage(rows, limit, func(c Connection) common.Cursor {
		return common.Cursor{CreatedAt: c.FollowedAt, ID: c.User.ID}
	}), nil
}

func (s *userService) SearchUsers(ctx context.Context, q string, limit int) ([]*dbmysql.User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*dbmysql.User{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = defaultSearchLimit
	}
	return s.userRepo.SearchUsers(ctx, q, limit)
}

func (s *userService) RegisterDevice(ctx context.Context, userID, token, platform string) error {
	if token == "" {
		return common.Invalid("device token required")
	}
	if !validPlatforms[platform] {
		return common.Invalid("invalid platform")
	}
	return s.deviceRepo.RegisterDevice(ctx, &dbmysql.Device{
		DeviceToken:  token,
		UserID:       userID,
		Platform:     platform,
		RegisteredAt: time.Now(),
	})
}

func (s *userService) RemoveDevice(ctx context.Context, userID, token string) error {
	return s.deviceRepo.RemoveDevice(ctx, userID, token)
}

func (s *userService) ListDevices(ctx context.Context, userID string) ([]*dbmysql.Device, error) {
	return s.deviceRepo.GetUserDevices(ctx, userID)
}

func (s *userService) SaveSubscription(ctx context.Context, userID string, sub PushSubscriptionRequest) error {
	if err := common.ValidateStruct(sub); err != nil {
		return err
	}
	return s.deviceRepo.SaveSubscription(ctx, &dbmysql.PushSubscription{
		Endpoint: sub.Endpoint,
		UserID:   userID,
		P256dh:   sub.Keys.P256dh,
		Auth:     sub.Keys.Auth,
	})
}

func (s *userService) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	if endpoint == "" {
		return common.Invalid("endpoint is required")
	}
	return s.deviceRepo.DeleteSubscription(ctx, userID, endpoint)
}
