package notif

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmysql"
)

func event(userID string) common.NotificationEvent {
	return common.NotificationEvent{
		Type:     common.SystemType,
		UserID:   userID,
		Header:   "Heads up",
		Content:  "something happened",
		Priority: 2,
	}
}

func TestNotificationManager_SubscribeUnsubscribe(t *testing.T) {
	nm := NewNotificationManager(1, 4)
	defer nm.Shutdown()

	a, b := newRecordingObserver("a"), newRecordingObserver("b")
	nm.Subscribe(a)
	nm.Subscribe(b)
	nm.Subscribe(a)
	assert.ElementsMatch(t, []string{"a", "b"}, nm.Observers())

	nm.Unsubscribe(a)
	assert.Equal(t, []string{"b"}, nm.Observers())
}

func TestNotificationManager_NotifyContinuesAfterObserverError(t *testing.T) {
	nm := NewNotificationManager(1, 4)
	defer nm.Shutdown()

	failing := newRecordingObserver("failing")
	failing.err = assert.AnError
	ok := newRecordingObserver("ok")
	nm.Subscribe(failing)
	nm.Subscribe(ok)

	nm.Notify(context.Background(), event("u1"))

	assert.Len(t, failing.seen(), 1)
	assert.Len(t, ok.seen(), 1)
}

func TestNotificationManager_ShutdownDrainsQueue(t *testing.T) {
	nm := NewNotificationManager(2, 16)
	obs := newRecordingObserver("obs")
	nm.Subscribe(obs)

	for i := 0; i < 10; i++ {
		require.True(t, nm.NotifyAsync(event("u1")))
	}
	nm.Shutdown()

	assert.Len(t, obs.seen(), 10)
	assert.False(t, nm.NotifyAsync(event("u1")), "closed manager accepts nothing")
	assert.NotPanics(t, nm.Shutdown)
}

func TestNotificationManager_NotifyAsyncDropsWhenFull(t *testing.T) {
	nm := NewNotificationManager(1, 1)
	obs := newRecordingObserver("slow")
	obs.entered = make(chan struct{}, 4)
	obs.release = make(chan struct{})
	nm.Subscribe(obs)

	require.True(t, nm.NotifyAsync(event("u1")))
	<-obs.entered // the only worker is now busy

	assert.True(t, nm.NotifyAsync(event("u2")), "fills the buffer")
	assert.False(t, nm.NotifyAsync(event("u3")), "buffer full")

	close(obs.release)
	nm.Shutdown()
	assert.Len(t, obs.seen(), 2)
}

func TestNewNotificationService_Observers(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(cfg *config.Config) (FCMSender, common.EmailService)
		expect []string
	}{
		{
			name:   "database only",
			setup:  func(*config.Config) (FCMSender, common.EmailService) { return nil, nil },
			expect: []string{"database_observer"},
		},
		{
			name: "fcm",
			setup: func(*config.Config) (FCMSender, common.EmailService) {
				return &MockFCMSender{}, nil
			},
			expect: []string{"database_observer", "fcm_observer"},
		},
		{
			name: "web push",
			setup: func(cfg *config.Config) (FCMSender, common.EmailService) {
				cfg.WebPush = config.WebPushConfig{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}
				return nil, nil
			},
			expect: []string{"database_observer", "webpush_observer"},
		},
		{
			name: "everything",
			setup: func(cfg *config.Config) (FCMSender, common.EmailService) {
				cfg.WebPush = config.WebPushConfig{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}
				return &MockFCMSender{}, &MockEmailService{}
			},
			expect: []string{"database_observer", "fcm_observer", "webpush_observer", "email_observer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			fcm, mailer := tt.setup(cfg)
			svc := NewNotificationService(cfg, &MockStore{}, &MockDeviceStore{}, fcm, mailer, &MockUserLookup{})
			defer svc.Shutdown()
			assert.ElementsMatch(t, tt.expect, svc.manager.Observers())
		})
	}
}

func TestValidateEvent(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *common.NotificationEvent)
		wantErr string
	}{
		{name: "valid", mutate: func(*common.NotificationEvent) {}},
		{name: "missing user", mutate: func(e *common.NotificationEvent) { e.UserID = "" }, wantErr: "userId is required"},
		{name: "missing header", mutate: func(e *common.NotificationEvent) { e.Header = "" }, wantErr: "header is required"},
		{name: "priority too low", mutate: func(e *common.NotificationEvent) { e.Priority = 0 }, wantErr: "priority must be between 1 and 5"},
		{name: "priority too high", mutate: func(e *common.NotificationEvent) { e.Priority = 6 }, wantErr: "priority must be between 1 and 5"},
		{name: "empty content is allowed", mutate: func(e *common.NotificationEvent) { e.Content = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := event("u1")
			tt.mutate(&ev)
			err := validateEvent(&ev)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, common.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	ev := event("u1")
	ev.Type = ""
	require.NoError(t, validateEvent(&ev))
	assert.Equal(t, common.SystemType, ev.Type)
}

func TestNotificationService_NotifyStoresEvent(t *testing.T) {
	repo := &MockStore{}
	repo.On("Create", mock.Anything, mock.MatchedBy(func(n *dbmysql.Notification) bool {
		return n.UserID == "u1" && n.ID != "" && n.Status == common.StatusSent && n.SentAt != nil
	})).Return(nil).Once()

	svc := newTestService(repo)
	require.NoError(t, svc.Notify(context.Background(), event("u1")))
	svc.Shutdown()

	repo.AssertExpectations(t)
}

func TestNotificationService_NotifyErrors(t *testing.T) {
	repo := &MockStore{}
	svc := newTestService(repo)

	bad := event("")
	assert.ErrorIs(t, svc.Notify(context.Background(), bad), common.ErrInvalidInput)

	svc.Shutdown()
	assert.ErrorIs(t, svc.Notify(context.Background(), event("u1")), common.ErrUnavailable)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestNotificationService_NotifyFutureEventIsScheduled(t *testing.T) {
	repo := &MockStore{}
	at := fixedNow.Add(time.Hour)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(n *dbmysql.Notification) bool {
		return n.Status == common.StatusScheduled && n.ScheduledAt.Equal(at)
	})).Return(nil).Once()

	svc := newTestService(repo)
	defer svc.Shutdown()

	ev := event("u1")
	ev.ScheduledAt = &at
	require.NoError(t, svc.Notify(context.Background(), ev))
	repo.AssertExpectations(t)
}

func TestNotificationService_ScheduleNotification(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	future := fixedNow.Add(30 * time.Minute)

	tests := []struct {
		name    string
		at      *time.Time
		mutate  func(e *common.NotificationEvent)
		wantErr string
	}{
		{name: "missing time", wantErr: "scheduledAt is required"},
		{name: "in the past", at: &past, wantErr: "must be in the future"},
		{name: "right now", at: &fixedNow, wantErr: "must be in the future"},
		{name: "bad priority", at: &future, mutate: func(e *common.NotificationEvent) { e.Priority = 9 }, wantErr: "priority"},
		{name: "stored", at: &future},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockStore{}
			if tt.wantErr == "" {
				repo.On("Create", mock.Anything, mock.AnythingOfType("*dbmysql.Notification")).Return(nil).Once()
			}
			svc := newTestService(repo)
			defer svc.Shutdown()

			ev := event("u1")
			ev.ScheduledAt = tt.at
			if tt.mutate != nil {
				tt.mutate(&ev)
			}
			n, err := svc.ScheduleNotification(context.Background(), ev)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, common.ErrInvalidInput)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, n.ID)
			assert.Equal(t, common.StatusScheduled, n.Status)
			repo.AssertExpectations(t)
		})
	}
}

func TestNotificationService_DeliverScheduled(t *testing.T) {
	due := []*dbmysql.Notification{
		{ID: "n1", UserID: "u1", Header: "Reminder", Content: "stream soon", Priority: 2, Type: common.SystemType},
		{ID: "n2", UserID: "u2", Header: "Reminder", Content: "gone", Priority: 2, Type: common.SystemType},
	}

	repo := &MockStore{}
	repo.On("ScheduledNotifications", mock.Anything, fixedNow).Return(due, nil).Once()
	repo.On("UpdateStatus", mock.Anything, "n1", common.StatusSent).Return(nil).Once()
	repo.On("UpdateStatus", mock.Anything, "n2", common.StatusSent).Return(common.NotFound("notification")).Once()

	svc := newTestService(repo)
	push := newRecordingObserver("push")
	svc.manager.Subscribe(push)

	queued, err := svc.DeliverScheduled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	svc.Shutdown()
	seen := push.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "n1", seen[0].ID)
	assert.Equal(t, "stream soon", seen[0].Content)

	// the database observer leaves rows that already exist alone
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestNotificationService_DeliverScheduledRequeuesWhenClosed(t *testing.T) {
	repo := &MockStore{}
	repo.On("ScheduledNotifications", mock.Anything, fixedNow).
		Return([]*dbmysql.Notification{{ID: "n1", UserID: "u1", Header: "h", Priority: 1}}, nil).Once()
	repo.On("UpdateStatus", mock.Anything, "n1", common.StatusSent).Return(nil).Once()
	repo.On("UpdateStatus", mock.Anything, "n1", common.StatusScheduled).Return(nil).Once()

	svc := newTestService(repo)
	svc.Shutdown()

	queued, err := svc.DeliverScheduled(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
	repo.AssertExpectations(t)
}

func TestNotificationService_GetUserNotifications(t *testing.T) {
	created := fixedNow.Add(-time.Hour)
	rows := []*dbmysql.Notification{{
		ID: "n1", UserID: "u1", Type: common.TipType, Header: "You received a tip!", Content: "$5.00 from bob",
		Status: common.StatusSent, Priority: 4, Metadata: common.NotificationMetadata{"tipId": "t1"}, CreatedAt: created,
	}}

	tests := []struct {
		name          string
		limit, offset int
		wantLimit     int
		wantOffset    int
	}{
		{name: "defaults", limit: 0, offset: 0, wantLimit: 20, wantOffset: 0},
		{name: "clamped", limit: 500, offset: -3, wantLimit: 100, wantOffset: 0},
		{name: "passthrough", limit: 5, offset: 10, wantLimit: 5, wantOffset: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockStore{}
			repo.On("ByUserID", mock.Anything, "u1", tt.wantLimit, tt.wantOffset).Return(rows, nil).Once()
			svc := newTestService(repo)
			defer svc.Shutdown()

			got, err := svc.GetUserNotifications(context.Background(), "u1", tt.limit, tt.offset)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, common.TipType, got[0].Type)
			assert.Equal(t, common.StatusSent, got[0].Status)
			assert.Equal(t, "t1", got[0].Metadata["tipId"])
			assert.Equal(t, created, got[0].CreatedAt)
			repo.AssertExpectations(t)
		})
	}
}

func TestNotificationService_ReadState(t *testing.T) {
	repo := &MockStore{}
	repo.On("MarkAsRead", mock.Anything, "n1", "u1").Return(nil).Once()
	repo.On("MarkAsRead", mock.Anything, "n1", "intruder").Return(common.NotFound("notification")).Once()
	repo.On("MarkAllRead", mock.Anything, "u1").Return(int64(3), nil).Once()
	repo.On("UnreadCount", mock.Anything, "u1").Return(int64(0), nil).Once()
	repo.On("Delete", mock.Anything, "n1", "u1").Return(nil).Once()

	svc := newTestService(repo)
	defer svc.Shutdown()
	ctx := context.Background()

	require.NoError(t, svc.MarkAsRead(ctx, "n1", "u1"))
	assert.ErrorIs(t, svc.MarkAsRead(ctx, "n1", "intruder"), common.ErrNotFound)

	n, err := svc.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err := svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, svc.Delete(ctx, "n1", "u1"))
	repo.AssertExpectations(t)
}

func TestNotificationService_TypedHelpers(t *testing.T) {
	tests := []struct {
		name  string
		send  func(s *NotificationService) error
		check func(t *testing.T, n *dbmysql.Notification)
		skip  bool
	}{
		{
			name: "follow",
			send: func(s *NotificationService) error {
				return s.SendFollowNotification(context.Background(), "bob", "bob", "alice")
			},
			check: func(t *testing.T, n *dbmysql.Notification) {
				assert.Equal(t, common.FollowType, n.Type)
				assert.Equal(t, "alice", n.UserID)
				assert.Equal(t, "bob started following you", n.Content)
			},
		},
		{
			name: "comment on own post",
			send: func(s *NotificationService) error {
				return s.SendCommentNotification(context.Background(), "p1", "alice", "alice", "alice", "nice")
			},
			skip: true,
		},
		{
			name: "reaction on own post",
			send: func(s *NotificationService) error {
				return s.SendReactionNotification(context.Background(), "p1", "alice", "alice", "alice", "like")
			},
			skip: true,
		},
		{
			name: "comment",
			send: func(s *NotificationService) error {
				return s.SendCommentNotification(context.Background(), "p1", "alice", "bob", "bob", "nice")
			},
			check: func(t *testing.T, n *dbmysql.Notification) {
				assert.Equal(t, common.CommentType, n.Type)
				assert.Equal(t, "bob commented: nice", n.Content)
				assert.Equal(t, "p1", n.Metadata["postId"])
			},
		},
		{
			name: "tip",
			send: func(s *NotificationService) error {
				return s.SendTipNotification(context.Background(), "t1", "alice", "bob", "bob", 1250)
			},
			check: func(t *testing.T, n *dbmysql.Notification) {
				assert.Equal(t, common.TipType, n.Type)
				assert.Equal(t, 4, n.Priority)
				assert.Equal(t, "$12.50 from bob", n.Content)
			},
		},
		{
			name: "order",
			send: func(s *NotificationService) error {
				return s.SendOrderNotification(context.Background(), "o1", "bob", "Order confirmed", "Your order is paid")
			},
			check: func(t *testing.T, n *dbmysql.Notification) {
				assert.Equal(t, common.OrderType, n.Type)
				assert.Equal(t, "o1", n.Metadata["orderId"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockStore{}
			var stored *dbmysql.Notification
			if !tt.skip {
				repo.On("Create", mock.Anything, mock.AnythingOfType("*dbmysql.Notification")).
					Run(func(args mock.Arguments) { stored = args.Get(1).(*dbmysql.Notification) }).
					Return(nil).Once()
			}
			svc := newTestService(repo)
			require.NoError(t, tt.send(svc))
			svc.Shutdown()

			if tt.skip {
				repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
				return
			}
			require.NotNil(t, stored)
			tt.check(t, stored)
		})
	}
}

func TestNotificationService_StreamStartedFansOut(t *testing.T) {
	repo := &MockStore{}
	repo.On("Create", mock.Anything, mock.MatchedBy(func(n *dbmysql.Notification) bool {
		return n.Type == common.StreamStartedType && n.Header == "alice is live"
	})).Return(nil).Times(3)

	svc := newTestService(repo)
	err := svc.SendStreamStartedNotification(context.Background(), "s1", "alice", "alice", "Q&A", []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	svc.Shutdown()

	repo.AssertExpectations(t)
}
