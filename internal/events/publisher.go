// Package events publishes account lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectUserRegistered = "auth.user.registered"
	SubjectUserLoggedIn   = "auth.user.logged_in"
)

type UserEvent struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher owns a single NATS connection. The nats client keeps reconnecting
// in the background and buffers publishes while the server is away.
type Publisher struct {
	nc  *nats.Conn
	log *slog.Logger
}

func Connect(url string, log *slog.Logger) (*Publisher, error) {
	const op = "events.Connect"

	log = log.With(slog.String("op", op))

	nc, err := nats.Connect(url,
		nats.Name("eventbook-auth"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Publisher{nc: nc, log: log}, nil
}

func (p *Publisher) Publish(_ context.Context, subject string, event UserEvent) error {
	const op = "events.Publisher.Publish"

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Close flushes buffered events and closes the connection.
func (p *Publisher) Close(ctx context.Context) error {
	const op = "events.Publisher.Close"

	if p.nc.IsConnected() {
		if err := p.nc.FlushWithContext(ctx); err != nil {
			p.log.Warn("failed to flush events", slog.Any("error", err))
		}
	}
	p.nc.Close()

	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, UserEvent) error { return nil }
