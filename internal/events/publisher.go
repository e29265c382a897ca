// Package events publishes domain events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"amplifi/internal/common"
	"amplifi/internal/config"
)

const (
	SubjectPrefix = "amplifi."

	headerEventID    = "Amplifi-Event-Id"
	headerOccurredAt = "Amplifi-Occurred-At"
)

type conn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// NATSPublisher sends JSON payloads on subjects under "amplifi.".
type NATSPublisher struct {
	conn conn
	now  func() time.Time
}

// NewPublisher connects to NATS when a URL is configured and falls back to
// Noop otherwise. The returned cleanup drains the connection.
func NewPublisher(ctx context.Context, cfg *config.Config) (common.EventPublisher, func(), error) {
	if cfg.NATS.URL == "" {
		common.Log.Info("NATS not configured, domain events are dropped")
		return Noop{}, func() {}, nil
	}

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("amplifi"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					common.Log.WithError(err).Warn("NATS disconnected")
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				common.Log.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
			}),
		)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	notify := func(err error, wait time.Duration) {
		common.Log.WithError(err).Warnf("NATS not ready, retrying in %s", wait)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	common.Log.WithField("url", nc.ConnectedUrl()).Info("Connected to NATS")
	p := newNATSPublisher(nc)
	return p, p.Close, nil
}

func newNATSPublisher(c conn) *NATSPublisher {
	return &NATSPublisher{conn: c, now: time.Now}
}

// Subject returns the full subject for an event name such as "tip.succeeded".
func Subject(name string) string {
	if strings.HasPrefix(name, SubjectPrefix) {
		return name
	}
	return SubjectPrefix + name
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}

	msg := nats.NewMsg(Subject(subject))
	msg.Data = data
	msg.Header.Set(headerEventID, common.NewID())
	msg.Header.Set(headerOccurredAt, p.now().UTC().Format(time.RFC3339Nano))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		common.Log.WithError(err).Warn("drain NATS connection")
	}
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
