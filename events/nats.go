package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type natsSubscription interface {
	Unsubscribe() error
}

type natsConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (natsSubscription, error)
	Close()
}

type natsConnAdapter struct {
	*nats.Conn
}

func (a natsConnAdapter) Subscribe(subject string, cb nats.MsgHandler) (natsSubscription, error) {
	return a.Conn.Subscribe(subject, cb)
}

// NATSPublisher publishes events as JSON on a NATS subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
	logger  *slog.Logger
}

// DialNATS connects to url and publishes on subject.
func DialNATS(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("semloop"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSPublisher(natsConnAdapter{conn}, subject, logger), nil
}

func newNATSPublisher(conn natsConn, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = "semloop.iteration"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// Subject returns the subject events are published on.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Publish implements Sink.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Subscribe delivers decoded events to fn until ctx is cancelled. Undecodable messages are
// logged and dropped.
func (p *NATSPublisher) Subscribe(ctx context.Context, fn func(Event)) error {
	sub, err := p.conn.Subscribe(p.subject, func(msg *nats.Msg) {
		event, err := Decode(msg.Data)
		if err != nil {
			p.logger.Warn("Dropping malformed event", "subject", msg.Subject, "error", err)
			return
		}
		fn(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

// Close closes the connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
