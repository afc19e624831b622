// Package notify publishes bridge events to collaborating services over NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/marselk/tgbridge/internal/logger"
)

// Subjects carrying bridge events.
const (
	SubjectMediaArchived   = "bridge.media.archived"
	SubjectLinksCaptured   = "bridge.links.captured"
	SubjectSessionState    = "bridge.session.state"
	SubjectStorageCritical = "bridge.storage.critical"
)

// Notifier delivers fire-and-forget event notifications. The return value
// reports delivery to the broker; callers never treat false as an error.
type Notifier interface {
	Notify(ctx context.Context, subject string, payload any) bool
}

// NATSNotifier publishes events to a NATS broker.
type NATSNotifier struct {
	conn *nats.Conn
	log  *logger.Logger
}

// Connect establishes a NATS connection with reconnect enabled.
func Connect(url string, log *logger.Logger) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn, log: log.Component("notify")}, nil
}

// Notify publishes one event. Failures are logged and swallowed; event
// notification is best effort and never blocks bridge work.
func (n *NATSNotifier) Notify(_ context.Context, subject string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Error().Err(err).Str("subject", subject).Msg("notify: marshal failed")
		return false
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.log.Warn().Err(err).Str("subject", subject).Msg("notify: publish failed")
		return false
	}
	return true
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() {
	if err := n.conn.Drain(); err != nil {
		n.log.Warn().Err(err).Msg("notify: drain failed")
	}
}

// Nop is a Notifier that discards everything. Used when no broker is
// configured.
type Nop struct{}

// Notify discards the event.
func (Nop) Notify(context.Context, string, any) bool { return true }
