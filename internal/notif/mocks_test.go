package notif

import (
	"context"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/mock"

	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmysql"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, n *dbmysql.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockStore) ByUserID(ctx context.Context, userID string, limit, offset int) ([]*dbmysql.Notification, error) {
	args := m.Called(ctx, userID, limit, offset)
	rows, _ := args.Get(0).([]*dbmysql.Notification)
	return rows, args.Error(1)
}

func (m *MockStore) ScheduledNotifications(ctx context.Context, before time.Time) ([]*dbmysql.Notification, error) {
	args := m.Called(ctx, before)
	rows, _ := args.Get(0).([]*dbmysql.Notification)
	return rows, args.Error(1)
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, status common.NotificationStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockStore) MarkAsRead(ctx context.Context, id, userID string) error {
	return m.Called(ctx, id, userID).Error(0)
}

func (m *MockStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, id, userID string) error {
	return m.Called(ctx, id, userID).Error(0)
}

func (m *MockStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	tokens, _ := args.Get(0).([]string)
	return tokens, args.Error(1)
}

func (m *MockDeviceStore) DeactivateToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockDeviceStore) Subscriptions(ctx context.Context, userID string) ([]*dbmysql.PushSubscription, error) {
	args := m.Called(ctx, userID)
	subs, _ := args.Get(0).([]*dbmysql.PushSubscription)
	return subs, args.Error(1)
}

func (m *MockDeviceStore) PurgeSubscription(ctx context.Context, endpoint string) error {
	return m.Called(ctx, endpoint).Error(0)
}

type MockFCMSender struct {
	mock.Mock
}

func (m *MockFCMSender) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	resp, _ := args.Get(0).(*messaging.BatchResponse)
	return resp, args.Error(1)
}

type MockEmailService struct {
	mock.Mock
}

func (m *MockEmailService) SendEmail(ctx context.Context, to, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

type MockUserLookup struct {
	mock.Mock
}

func (m *MockUserLookup) GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*dbmysql.User)
	return u, args.Error(1)
}

// recordingObserver keeps every event it sees and can be made to fail or block.
type recordingObserver struct {
	name    string
	err     error
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	events []common.NotificationEvent
}

func newRecordingObserver(name string) *recordingObserver {
	return &recordingObserver{name: name}
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) Update(_ context.Context, event common.NotificationEvent) error {
	if o.entered != nil {
		o.entered <- struct{}{}
	}
	if o.release != nil {
		<-o.release
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return o.err
}

func (o *recordingObserver) seen() []common.NotificationEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]common.NotificationEvent(nil), o.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		Notification: config.NotificationConfig{Workers: 2, ChannelBufferSize: 16},
	}
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestService builds a service with only the database observer and a
// fixed clock.
func newTestService(repo *MockStore) *NotificationService {
	svc := NewNotificationService(testConfig(), repo, &MockDeviceStore{}, nil, nil, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}
