// Package events publishes build session lifecycle transitions.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is one lifecycle transition of a build session.
type Event struct {
	Session    string    `json:"session"`
	Profile    string    `json:"profile"`
	State      string    `json:"state"`
	InstanceID string    `json:"instance,omitempty"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

// Publisher delivers events. Implementations must be safe to call from
// the cleanup path.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// Fanout delivers every event to all of its publishers.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() {
	for _, p := range f {
		p.Close()
	}
}

// Options configure the NATS publisher.
type Options struct {
	URL      string
	User     string
	Password string
	// Prefix is the subject prefix; events go to <Prefix>.sessions.<id>.
	Prefix string
}

func (o *Options) setDefaults() {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.Prefix == "" {
		o.Prefix = "htzbuild"
	}
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// NATS publishes events as JSON messages on a NATS connection.
type NATS struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect dials the NATS server described by opts.
func Connect(opts Options, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = discardLogger
	}
	cfg := opts
	cfg.setDefaults()
	natsOpts := []nats.Option{
		nats.Name("htzbuild"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(3),
	}
	if cfg.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.User, cfg.Password))
	}
	conn, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return &NATS{conn: conn, prefix: cfg.Prefix, logger: logger}, nil
}

// Subject returns the subject events for session are published on.
func Subject(prefix, session string) string {
	if session == "" {
		session = "unknown"
	}
	return fmt.Sprintf("%s.sessions.%s", prefix, session)
}

func (n *NATS) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(Subject(n.prefix, ev.Session), payload); err != nil {
		return err
	}
	n.logger.Debug("event published", "session", ev.Session, "state", ev.State)
	if deadline, ok := ctx.Deadline(); ok {
		return n.conn.FlushTimeout(time.Until(deadline))
	}
	return nil
}

func (n *NATS) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
		n.conn.Close()
	}
}
