package notif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"firebase.google.com/go/v4/messaging"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmysql"
)

const (
	fcmBatchSize = 500
	webPushTTL   = 24 * 60 * 60
)

type DatabaseNotificationObserver struct {
	repo Store
	now  func() time.Time
}

func NewDatabaseNotificationObserver(repo Store) *DatabaseNotificationObserver {
	return &DatabaseNotificationObserver{repo: repo, now: time.Now}
}

func (d *DatabaseNotificationObserver) Name() string {
	return "database_observer"
}

// Update stores the event. Events that already carry an id came from a
// stored scheduled row and are skipped.
func (d *DatabaseNotificationObserver) Update(ctx context.Context, event common.NotificationEvent) error {
	if event.ID != "" {
		return nil
	}

	notification := newNotificationRow(event)
	sentAt := d.now()
	notification.Status = common.StatusSent
	notification.SentAt = &sentAt

	if err := d.repo.Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// FCMSender is the part of *messaging.Client the push observer uses.
type FCMSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type FCMNotificationObserver struct {
	sender  FCMSender
	devices DeviceStore
}

func NewFCMNotificationObserver(sender FCMSender, devices DeviceStore) *FCMNotificationObserver {
	return &FCMNotificationObserver{sender: sender, devices: devices}
}

func (f *FCMNotificationObserver) Name() string {
	return "fcm_observer"
}

func (f *FCMNotificationObserver) Update(ctx context.Context, event common.NotificationEvent) error {
	tokens, err := f.devices.ActiveTokens(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to get device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	notification := &messaging.Notification{
		Title: event.Header,
		Body:  event.Content,
	}
	if event.ImageURL != nil {
		notification.ImageURL = *event.ImageURL
	}
	data := fcmData(event)

	var failed int
	for start := 0; start < len(tokens); start += fcmBatchSize {
		batch := tokens[start:min(start+fcmBatchSize, len(tokens))]
		response, err := f.sender.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: notification,
			Data:         data,
			Android: &messaging.AndroidConfig{
				Priority: androidPriority(event.Priority),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to send FCM message: %w", err)
		}
		failed += response.FailureCount
		f.pruneTokens(ctx, batch, response)
	}

	if failed == len(tokens) {
		return fmt.Errorf("all %d FCM sends failed", failed)
	}
	return nil
}

func (f *FCMNotificationObserver) pruneTokens(ctx context.Context, tokens []string, response *messaging.BatchResponse) {
	for i, result := range response.Responses {
		if result.Success || i >= len(tokens) {
			continue
		}
		if staleToken(result.Error) {
			if err := f.devices.DeactivateToken(ctx, tokens[i]); err != nil {
				common.Log.WithError(err).Warn("deactivate FCM token")
			}
		}
	}
}

// staleToken reports whether FCM rejected the token itself rather than the send.
var staleToken = func(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
}

func fcmData(event common.NotificationEvent) map[string]string {
	data := map[string]string{"type": string(event.Type)}
	for k, v := range event.Metadata {
		data[k] = fmt.Sprint(v)
	}
	if event.ID != "" {
		data["notificationId"] = event.ID
	}
	return data
}

func androidPriority(priority int) string {
	if priority >= 3 {
		return "high"
	}
	return "normal"
}

type WebPushNotificationObserver struct {
	cfg     config.WebPushConfig
	devices DeviceStore
	client  *http.Client
}

func NewWebPushNotificationObserver(cfg config.WebPushConfig, devices DeviceStore) *WebPushNotificationObserver {
	return &WebPushNotificationObserver{
		cfg:     cfg,
		devices: devices,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebPushNotificationObserver) Name() string {
	return "webpush_observer"
}

type webPushPayload struct {
	Title string                      `json:"title"`
	Body  string                      `json:"body"`
	Image string                      `json:"image,omitempty"`
	Type  common.NotificationType     `json:"type"`
	Data  common.NotificationMetadata `json:"data,omitempty"`
}

// Update pushes to every browser subscription of the user. Endpoints the push
// service reports as gone are deleted.
func (w *WebPushNotificationObserver) Update(ctx context.Context, event common.NotificationEvent) error {
	subs, err := w.devices.Subscriptions(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to get push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload := webPushPayload{Title: event.Header, Body: event.Content, Type: event.Type, Data: event.Metadata}
	if event.ImageURL != nil {
		payload.Image = *event.ImageURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if err := w.send(ctx, body, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebPushNotificationObserver) send(ctx context.Context, body []byte, sub *dbmysql.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		TTL:             webPushTTL,
	})
	if err != nil {
		return fmt.Errorf("web push send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		common.Log.WithFields(logrus.Fields{"user_id": sub.UserID, "status": resp.StatusCode}).Info("purging expired push subscription")
		return w.devices.PurgeSubscription(ctx, sub.Endpoint)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("web push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

type EmailNotificationObserver struct {
	emailService common.EmailService
	users        UserLookup
}

func NewEmailNotificationObserver(emailService common.EmailService, users UserLookup) *EmailNotificationObserver {
	return &EmailNotificationObserver{emailService: emailService, users: users}
}

func (e *EmailNotificationObserver) Name() string {
	return "email_observer"
}

// Update only mails priority 4 and 5 events. The address comes from the
// "email" metadata key, falling back to the user's account email.
func (e *EmailNotificationObserver) Update(ctx context.Context, event common.NotificationEvent) error {
	if event.Priority < 4 {
		return nil
	}

	email, _ := event.Metadata["email"].(string)
	if email == "" && e.users != nil {
		u, err := e.users.GetUserByID(ctx, event.UserID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("look up recipient: %w", err)
		}
		if u != nil {
			email = u.Email
		}
	}
	if email == "" {
		return nil
	}

	subject := fmt.Sprintf("Amplifi: %s", event.Header)
	if err := e.emailService.SendEmail(ctx, email, subject, event.Content); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	common.Log.WithField("user_id", event.UserID).Debug("email notification sent")
	return nil
}
