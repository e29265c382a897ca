package common

import "context"

type Observer interface {
	Update(ctx context.Context, event NotificationEvent) error
	Name() string
}

type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	Notify(ctx context.Context, event NotificationEvent)
	NotifyAsync(event NotificationEvent) bool
}

type EmailService interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Notifier is the slice of the notification service the domain services depend on.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}

// EventPublisher emits domain events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, NotificationEvent) error { return nil }
