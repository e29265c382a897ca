package notif

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmysql"
)

func TestDatabaseObserver_Update(t *testing.T) {
	repo := &MockStore{}
	obs := NewDatabaseNotificationObserver(repo)

	repo.On("Create", mock.Anything, mock.AnythingOfType("*dbmysql.Notification")).Return(errors.New("db down")).Once()
	err := obs.Update(context.Background(), event("u1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store notification")

	ev := event("u1")
	ev.ID = "already-stored"
	require.NoError(t, obs.Update(context.Background(), ev))
	repo.AssertNumberOfCalls(t, "Create", 1)
}

var errStaleToken = errors.New("token unregistered")

func TestFCMObserver_Update(t *testing.T) {
	orig := staleToken
	staleToken = func(err error) bool { return errors.Is(err, errStaleToken) }
	t.Cleanup(func() { staleToken = orig })

	tests := []struct {
		name    string
		setup   func(devices *MockDeviceStore, sender *MockFCMSender)
		wantErr string
	}{
		{
			name: "no devices",
			setup: func(devices *MockDeviceStore, _ *MockFCMSender) {
				devices.On("ActiveTokens", mock.Anything, "u1").Return([]string{}, nil)
			},
		},
		{
			name: "token lookup fails",
			setup: func(devices *MockDeviceStore, _ *MockFCMSender) {
				devices.On("ActiveTokens", mock.Anything, "u1").Return(nil, errors.New("db down"))
			},
			wantErr: "failed to get device tokens",
		},
		{
			name: "stale token is deactivated",
			setup: func(devices *MockDeviceStore, sender *MockFCMSender) {
				devices.On("ActiveTokens", mock.Anything, "u1").Return([]string{"good", "stale", "flaky"}, nil)
				sender.On("SendEachForMulticast", mock.Anything, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
					return len(m.Tokens) == 3 && m.Notification.Title == "Heads up" &&
						m.Data["type"] == "system" && m.Android.Priority == "normal"
				})).Return(&messaging.BatchResponse{
					SuccessCount: 1,
					FailureCount: 2,
					Responses: []*messaging.SendResponse{
						{Success: true, MessageID: "m1"},
						{Error: errStaleToken},
						{Error: errors.New("unavailable")},
					},
				}, nil)
				devices.On("DeactivateToken", mock.Anything, "stale").Return(nil).Once()
			},
		},
		{
			name: "every send failed",
			setup: func(devices *MockDeviceStore, sender *MockFCMSender) {
				devices.On("ActiveTokens", mock.Anything, "u1").Return([]string{"a"}, nil)
				sender.On("SendEachForMulticast", mock.Anything, mock.Anything).Return(&messaging.BatchResponse{
					FailureCount: 1,
					Responses:    []*messaging.SendResponse{{Error: errors.New("unavailable")}},
				}, nil)
			},
			wantErr: "all 1 FCM sends failed",
		},
		{
			name: "transport error",
			setup: func(devices *MockDeviceStore, sender *MockFCMSender) {
				devices.On("ActiveTokens", mock.Anything, "u1").Return([]string{"a"}, nil)
				sender.On("SendEachForMulticast", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
			},
			wantErr: "failed to send FCM message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices, sender := &MockDeviceStore{}, &MockFCMSender{}
			tt.setup(devices, sender)
			obs := NewFCMNotificationObserver(sender, devices)

			err := obs.Update(context.Background(), event("u1"))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			devices.AssertExpectations(t)
			sender.AssertExpectations(t)
		})
	}
}

func TestFCMData(t *testing.T) {
	ev := event("u1")
	ev.ID = "n1"
	ev.Metadata = common.NotificationMetadata{"amount": 500, "streamId": "s1"}
	assert.Equal(t, map[string]string{
		"type":           "system",
		"amount":         "500",
		"streamId":       "s1",
		"notificationId": "n1",
	}, fcmData(ev))
}

func newBrowserKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func TestWebPushObserver_Update(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	p256dh, auth := newBrowserKeys(t)
	sub := func(path string) *dbmysql.PushSubscription {
		return &dbmysql.PushSubscription{Endpoint: srv.URL + path, UserID: "u1", P256dh: p256dh, Auth: auth}
	}

	devices := &MockDeviceStore{}
	devices.On("Subscriptions", mock.Anything, "u1").
		Return([]*dbmysql.PushSubscription{sub("/ok"), sub("/gone")}, nil).Once()
	devices.On("PurgeSubscription", mock.Anything, srv.URL+"/gone").Return(nil).Once()

	obs := NewWebPushNotificationObserver(config.WebPushConfig{
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		Subscriber:      "ops@amplifi.test",
	}, devices)

	require.NoError(t, obs.Update(context.Background(), event("u1")))
	mu.Lock()
	assert.Equal(t, 1, hits["/ok"])
	assert.Equal(t, 1, hits["/gone"])
	mu.Unlock()
	devices.AssertExpectations(t)

	devices.On("Subscriptions", mock.Anything, "u2").Return([]*dbmysql.PushSubscription{sub("/broken")}, nil).Once()
	err = obs.Update(context.Background(), event("u2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 500")
}

func TestEmailObserver_Update(t *testing.T) {
	tests := []struct {
		name     string
		priority int
		metadata common.NotificationMetadata
		setup    func(mailer *MockEmailService, users *MockUserLookup)
	}{
		{
			name:     "low priority is skipped",
			priority: 3,
			setup:    func(*MockEmailService, *MockUserLookup) {},
		},
		{
			name:     "address from metadata",
			priority: 4,
			metadata: common.NotificationMetadata{"email": "bob@example.com"},
			setup: func(mailer *MockEmailService, _ *MockUserLookup) {
				mailer.On("SendEmail", mock.Anything, "bob@example.com", "Amplifi: Heads up", "something happened").Return(nil).Once()
			},
		},
		{
			name:     "address from account",
			priority: 5,
			setup: func(mailer *MockEmailService, users *MockUserLookup) {
				users.On("GetUserByID", mock.Anything, "u1").Return(&dbmysql.User{ID: "u1", Email: "u1@example.com"}, nil).Once()
				mailer.On("SendEmail", mock.Anything, "u1@example.com", mock.Anything, mock.Anything).Return(nil).Once()
			},
		},
		{
			name:     "no address anywhere",
			priority: 4,
			setup: func(_ *MockEmailService, users *MockUserLookup) {
				users.On("GetUserByID", mock.Anything, "u1").Return(nil, common.NotFound("user")).Once()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer, users := &MockEmailService{}, &MockUserLookup{}
			tt.setup(mailer, users)
			obs := NewEmailNotificationObserver(mailer, users)

			ev := event("u1")
			ev.Priority = tt.priority
			ev.Metadata = tt.metadata
			require.NoError(t, obs.Update(context.Background(), ev))
			mailer.AssertExpectations(t)
			users.AssertExpectations(t)
		})
	}
}
