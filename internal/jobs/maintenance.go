package jobs

import (
	"context"
	"fmt"
)

type ScheduledDeliverer interface {
	DeliverScheduled(ctx context.Context) (int, error)
}

type StoryExpirer interface {
	ExpireStories(ctx context.Context) (int, error)
}

type StreamReaper interface {
	ReapStale(ctx context.Context) (int, error)
}

type PODRetrier interface {
	RetryPODOrders(ctx context.Context) (int, error)
}

// Maintenance returns the platform's periodic jobs. A nil dependency leaves
// its job out. notifyEveryMinutes below 1 falls back to every minute.
func Maintenance(notifications ScheduledDeliverer, feed StoryExpirer, live StreamReaper, store PODRetrier, notifyEveryMinutes int) []Job {
	if notifyEveryMinutes < 1 {
		notifyEveryMinutes = 1
	}
	var out []Job
	if notifications != nil {
		out = append(out, Job{
			Name:     "scheduled_notifications",
			Schedule: fmt.Sprintf("@every %dm", notifyEveryMinutes),
			Run:      notifications.DeliverScheduled,
		})
	}
	if feed != nil {
		out = append(out, Job{Name: "expire_stories", Schedule: "@every 10m", Run: feed.ExpireStories})
	}
	if live != nil {
		out = append(out, Job{Name: "reap_stale_streams", Schedule: "@every 15m", Run: live.ReapStale})
	}
	if store != nil {
		out = append(out, Job{Name: "retry_pod_orders", Schedule: "@every 5m", Run: store.RetryPODOrders})
	}
	return out
}
