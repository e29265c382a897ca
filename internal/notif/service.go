package notif

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmysql"
	"amplifi/internal/metrics"
)

const (
	defaultWorkers    = 5
	defaultBufferSize = 1000
	deliveryTimeout   = 30 * time.Second

	defaultListLimit = 20
	maxListLimit     = 100
)

// NotificationManager fans events out to its observers, either inline or
// through a bounded channel drained by a fixed worker pool.
type NotificationManager struct {
	observers    map[string]common.Observer
	eventChannel chan common.NotificationEvent
	workerPool   int
	closed       bool
	mu           sync.RWMutex
	wg           sync.WaitGroup
}

func NewNotificationManager(workerPoolSize, bufferSize int) *NotificationManager {
	if workerPoolSize <= 0 {
		workerPoolSize = defaultWorkers
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	nm := &NotificationManager{
		observers:    make(map[string]common.Observer),
		eventChannel: make(chan common.NotificationEvent, bufferSize),
		workerPool:   workerPoolSize,
	}

	for i := 0; i < workerPoolSize; i++ {
		nm.wg.Add(1)
		go nm.processEvents()
	}

	return nm
}

func (nm *NotificationManager) Subscribe(observer common.Observer) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.observers[observer.Name()] = observer
	common.Log.WithField("observer", observer.Name()).Info("observer subscribed")
}

func (nm *NotificationManager) Unsubscribe(observer common.Observer) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.observers, observer.Name())
	common.Log.WithField("observer", observer.Name()).Info("observer unsubscribed")
}

// Observers returns the subscribed observer names.
func (nm *NotificationManager) Observers() []string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	names := make([]string, 0, len(nm.observers))
	for name := range nm.observers {
		names = append(names, name)
	}
	return names
}

// Notify delivers to every observer in turn. One failing observer does not
// stop the others.
func (nm *NotificationManager) Notify(ctx context.Context, event common.NotificationEvent) {
	nm.mu.RLock()
	observers := make([]common.Observer, 0, len(nm.observers))
	for _, obs := range nm.observers {
		observers = append(observers, obs)
	}
	nm.mu.RUnlock()

	for _, observer := range observers {
		result := "ok"
		if err := observer.Update(ctx, event); err != nil {
			result = "error"
			common.Log.WithError(err).WithFields(logrus.Fields{
				"observer": observer.Name(),
				"type":     event.Type,
				"user_id":  event.UserID,
			}).Warn("observer update failed")
		}
		metrics.NotificationsDelivered.WithLabelValues(observer.Name(), result).Inc()
	}
}

// NotifyAsync queues the event without blocking. It reports false when the
// buffer is full or the manager is shut down.
func (nm *NotificationManager) NotifyAsync(event common.NotificationEvent) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if nm.closed {
		return false
	}
	select {
	case nm.eventChannel <- event:
		return true
	default:
		common.Log.WithField("type", event.Type).Warn("notification channel full, dropping event")
		return false
	}
}

func (nm *NotificationManager) processEvents() {
	defer nm.wg.Done()

	for event := range nm.eventChannel {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		nm.Notify(ctx, event)
		cancel()
	}
}

// Shutdown stops accepting events and waits for the queued ones to be delivered.
func (nm *NotificationManager) Shutdown() {
	nm.mu.Lock()
	if nm.closed {
		nm.mu.Unlock()
		return
	}
	nm.closed = true
	close(nm.eventChannel)
	nm.mu.Unlock()

	nm.wg.Wait()
	common.Log.Info("notification manager shutdown complete")
}

// Store is the notification persistence the service and the database
// observer need.
type Store interface {
	Create(ctx context.Context, notif *dbmysql.Notification) error
	ByUserID(ctx context.Context, userID string, limit, offset int) ([]*dbmysql.Notification, error)
	ScheduledNotifications(ctx context.Context, beforeTime time.Time) ([]*dbmysql.Notification, error)
	UpdateStatus(ctx context.Context, id string, status common.NotificationStatus) error
	MarkAsRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id, userID string) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// DeviceStore reads push targets and prunes the ones providers reject.
type DeviceStore interface {
	ActiveTokens(ctx context.Context, userID string) ([]string, error)
	DeactivateToken(ctx context.Context, token string) error
	Subscriptions(ctx context.Context, userID string) ([]*dbmysql.PushSubscription, error)
	PurgeSubscription(ctx context.Context, endpoint string) error
}

type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error)
}

type NotificationService struct {
	manager *NotificationManager
	repo    Store
	now     func() time.Time
}

// NewNotificationService subscribes the database observer plus whichever
// delivery channels are configured: FCM when a sender is given, Web Push when
// VAPID keys are set and email when a mailer is given.
func NewNotificationService(
	cfg *config.Config,
	repo Store,
	devices DeviceStore,
	fcm FCMSender,
	mailer common.EmailService,
	users UserLookup,
) *NotificationService {
	manager := NewNotificationManager(cfg.Notification.Workers, cfg.Notification.ChannelBufferSize)

	manager.Subscribe(NewDatabaseNotificationObserver(repo))

	if fcm != nil {
		manager.Subscribe(NewFCMNotificationObserver(fcm, devices))
	}

	if cfg.WebPush.Enabled() {
		manager.Subscribe(NewWebPushNotificationObserver(cfg.WebPush, devices))
	}

	if mailer != nil {
		manager.Subscribe(NewEmailNotificationObserver(mailer, users))
	}

	return &NotificationService{
		manager: manager,
		repo:    repo,
		now:     time.Now,
	}
}

// Notify queues an event for delivery. Events with a future ScheduledAt are
// stored and left for DeliverScheduled.
func (s *NotificationService) Notify(ctx context.Context, event common.NotificationEvent) error {
	if event.ScheduledAt != nil && event.ScheduledAt.After(s.now()) {
		_, err := s.ScheduleNotification(ctx, event)
		return err
	}
	if err := validateEvent(&event); err != nil {
		return err
	}
	if !s.manager.NotifyAsync(event) {
		return common.NewError(common.ErrUnavailable, "notification queue unavailable")
	}
	return nil
}

// SendNotification delivers the event to every observer before returning.
func (s *NotificationService) SendNotification(ctx context.Context, event common.NotificationEvent) error {
	if err := validateEvent(&event); err != nil {
		return err
	}

	s.manager.Notify(ctx, event)

	common.Log.WithFields(logrus.Fields{"type": event.Type, "user_id": event.UserID}).Debug("notification sent")
	return nil
}

// ScheduleNotification stores the event with the scheduled status. It stays
// out of the user's list until DeliverScheduled picks it up.
func (s *NotificationService) ScheduleNotification(ctx context.Context, event common.NotificationEvent) (*dbmysql.Notification, error) {
	if event.ScheduledAt == nil {
		return nil, common.Invalid("scheduledAt is required for scheduled notifications")
	}
	if !event.ScheduledAt.After(s.now()) {
		return nil, common.Invalid("scheduledAt must be in the future")
	}
	if err := validateEvent(&event); err != nil {
		return nil, err
	}

	notification := newNotificationRow(event)
	notification.Status = common.StatusScheduled
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, err
	}

	common.Log.WithFields(logrus.Fields{
		"id":           notification.ID,
		"user_id":      event.UserID,
		"scheduled_at": event.ScheduledAt,
	}).Info("notification scheduled")
	return notification, nil
}

// DeliverScheduled hands every due scheduled notification to the workers and
// returns how many were queued.
func (s *NotificationService) DeliverScheduled(ctx context.Context) (int, error) {
	due, err := s.repo.ScheduledNotifications(ctx, s.now())
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, n := range due {
		if err := s.repo.UpdateStatus(ctx, n.ID, common.StatusSent); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return queued, err
		}
		if !s.manager.NotifyAsync(eventFromRow(n)) {
			// put it back so the next run retries
			if err := s.repo.UpdateStatus(ctx, n.ID, common.StatusScheduled); err != nil {
				common.Log.WithError(err).WithField("id", n.ID).Error("requeue scheduled notification")
			}
			break
		}
		queued++
	}

	if queued > 0 {
		common.Log.WithField("count", queued).Info("processed scheduled notifications")
	}
	return queued, nil
}

func (s *NotificationService) SendFollowNotification(ctx context.Context, followerID, followerHandle, targetUserID string) error {
	return s.Notify(ctx, common.NotificationEvent{
		Type:          common.FollowType,
		UserID:        targetUserID,
		TriggerUserID: &followerID,
		Header:        "New follower",
		Content:       fmt.Sprintf("%s started following you", followerHandle),
		Priority:      2,
		Metadata:      common.NotificationMetadata{"followerId": followerID, "username": followerHandle},
	})
}

func (s *NotificationService) SendCommentNotification(ctx context.Context, postID, postAuthorID, commenterID, commenterHandle, preview string) error {
	if postAuthorID == commenterID {
		return nil
	}
	return s.Notify(ctx, common.NotificationEvent{
		Type:          common.CommentType,
		UserID:        postAuthorID,
		TriggerUserID: &commenterID,
		Header:        "New comment",
		Content:       fmt.Sprintf("%s commented: %s", commenterHandle, preview),
		Priority:      2,
		Metadata:      common.NotificationMetadata{"postId": postID},
	})
}

func (s *NotificationService) SendReactionNotification(ctx context.Context, postID, postAuthorID, reactorID, reactorHandle, reaction string) error {
	if postAuthorID == reactorID {
		return nil
	}
	return s.Notify(ctx, common.NotificationEvent{
		Type:          common.PostReactionType,
		UserID:        postAuthorID,
		TriggerUserID: &reactorID,
		Header:        "New reaction",
		Content:       fmt.Sprintf("%s reacted to your post", reactorHandle),
		Priority:      1,
		Metadata:      common.NotificationMetadata{"postId": postID, "reaction": reaction},
	})
}

func (s *NotificationService) SendMessageNotification(ctx context.Context, conversationID, recipientID, senderID, senderHandle, preview string) error {
	return s.Notify(ctx, common.NotificationEvent{
		Type:          common.MessageType,
		UserID:        recipientID,
		TriggerUserID: &senderID,
		Header:        fmt.Sprintf("Message from %s", senderHandle),
		Content:       preview,
		Priority:      3,
		Metadata:      common.NotificationMetadata{"conversationId": conversationID},
	})
}

// SendTipNotification uses priority 4 so the recipient also gets an email.
func (s *NotificationService) SendTipNotification(ctx context.Context, tipID, recipientID, senderID, senderHandle string, amount int64) error {
	return s.Notify(ctx, common.NotificationEvent{
		Type:          common.TipType,
		UserID:        recipientID,
		TriggerUserID: &senderID,
		Header:        "You received a tip!",
		Content:       fmt.Sprintf("$%.2f from %s", float64(amount)/100, senderHandle),
		Priority:      4,
		Metadata:      common.NotificationMetadata{"tipId": tipID, "amount": amount},
	})
}

func (s *NotificationService) SendStreamStartedNotification(ctx context.Context, streamID, creatorID, creatorHandle, title string, followerIDs []string) error {
	var errs []error
	for _, id := range followerIDs {
		err := s.Notify(ctx, common.NotificationEvent{
			Type:          common.StreamStartedType,
			UserID:        id,
			TriggerUserID: &creatorID,
			Header:        creatorHandle + " is live",
			Content:       title,
			Priority:      3,
			Metadata:      common.NotificationMetadata{"streamId": streamID},
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *NotificationService) SendOrderNotification(ctx context.Context, orderID, userID, header, content string) error {
	return s.Notify(ctx, common.NotificationEvent{
		Type:     common.OrderType,
		UserID:   userID,
		Header:   header,
		Content:  content,
		Priority: 3,
		Metadata: common.NotificationMetadata{"orderId": orderID},
	})
}

func (s *NotificationService) GetUserNotifications(ctx context.Context, userID string, limit, offset int) ([]*common.NotificationResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	notifications, err := s.repo.ByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	responses := make([]*common.NotificationResponse, len(notifications))
	for i, n := range notifications {
		responses[i] = &common.NotificationResponse{
			ID:            n.ID,
			Type:          n.Type,
			Header:        n.Header,
			Content:       n.Content,
			ImageURL:      n.ImageURL,
			TriggerUserID: n.TriggerUserID,
			Status:        n.Status,
			Priority:      n.Priority,
			Metadata:      n.Metadata,
			CreatedAt:     n.CreatedAt,
			ReadAt:        n.ReadAt,
		}
	}
	return responses, nil
}

func (s *NotificationService) MarkAsRead(ctx context.Context, notificationID, userID string) error {
	return s.repo.MarkAsRead(ctx, notificationID, userID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *NotificationService) Delete(ctx context.Context, notificationID, userID string) error {
	return s.repo.Delete(ctx, notificationID, userID)
}

func (s *NotificationService) Shutdown() {
	s.manager.Shutdown()
}

func validateEvent(event *common.NotificationEvent) error {
	if event.UserID == "" {
		return common.Invalid("userId is required")
	}
	if event.Header == "" {
		return common.Invalid("header is required")
	}
	if event.Priority < 1 || event.Priority > 5 {
		return common.Invalid("priority must be between 1 and 5")
	}
	if event.Type == "" {
		event.Type = common.SystemType
	}
	return nil
}

func newNotificationRow(event common.NotificationEvent) *dbmysql.Notification {
	return &dbmysql.Notification{
		ID:            common.NewID(),
		UserID:        event.UserID,
		Type:          event.Type,
		Header:        event.Header,
		Content:       event.Content,
		ImageURL:      event.ImageURL,
		ScheduledAt:   event.ScheduledAt,
		Priority:      event.Priority,
		Status:        common.StatusPending,
		Metadata:      event.Metadata,
		TriggerUserID: event.TriggerUserID,
	}
}

func eventFromRow(n *dbmysql.Notification) common.NotificationEvent {
	return common.NotificationEvent{
		ID:            n.ID,
		Type:          n.Type,
		UserID:        n.UserID,
		TriggerUserID: n.TriggerUserID,
		Header:        n.Header,
		Content:       n.Content,
		ImageURL:      n.ImageURL,
		ScheduledAt:   n.ScheduledAt,
		Priority:      n.Priority,
		Metadata:      n.Metadata,
	}
}
