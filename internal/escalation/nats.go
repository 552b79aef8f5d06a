package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSNotifier publishes escalations as JSON on a NATS subject.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// NewNATSNotifier publishes on an existing connection. The caller owns nc.
func NewNATSNotifier(nc *nats.Conn, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{nc: nc, subject: subject}
}

// Connect dials url and returns a notifier that owns the connection.
func Connect(url, subject string, logger *zap.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("askd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("escalation channel disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	n := NewNATSNotifier(nc, subject)
	n.owned = true
	return n, nil
}

// Subject returns the subject escalations are published on.
func (n *NATSNotifier) Subject() string { return n.subject }

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, e Escalation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish escalation: %w", err)
	}
	return nil
}

// Healthy reports an error unless the connection is up.
func (n *NATSNotifier) Healthy(context.Context) error {
	if !n.nc.IsConnected() {
		return fmt.Errorf("nats connection is %s", n.nc.Status())
	}
	return nil
}

// Close drains the connection if the notifier opened it.
func (n *NATSNotifier) Close() error {
	if !n.owned {
		return nil
	}
	return n.nc.Drain()
}
