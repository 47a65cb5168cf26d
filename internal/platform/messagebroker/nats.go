package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the durable stream carrying every message lifecycle event.
	StreamName = "UMS_MESSAGES"

	// SubjectMessageRequested carries admission events consumed by the delivery service.
	SubjectMessageRequested = "ums.message.requested.v1"
	// SubjectMessageDelivery carries provider delivery callbacks (DLR-style).
	SubjectMessageDelivery = "ums.message.delivery.v1"
	// SubjectMessageStatus fans out message status transitions to downstream listeners.
	SubjectMessageStatus = "ums.message.status.v1"
)

// Client wraps the NATS connection and its JetStream context. Events are
// at-least-once; ordering is only guaranteed within one subject, so every
// event for a message carries the message's request id as its partition key.
type Client struct {
	Conn   *nats.Conn
	JS     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger
}

// NewClient connects to NATS and creates the JetStream context.
func NewClient(natsURL, appName string, logger *slog.Logger) (*Client, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Error("NATS connection closed", "error", nc.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{Conn: nc, JS: js, logger: logger.With("component", "messagebroker")}, nil
}

// EnsureStream creates or updates the message event stream. Must be called
// before Publish or Consume.
func (c *Client) EnsureStream(ctx context.Context) error {
	stream, err := c.JS.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"ums.message.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}
	c.stream = stream
	return nil
}

// Publish sends payload to subject. The key (request id or provider message
// id) travels in a header so consumers can correlate without decoding.
func (c *Client) Publish(ctx context.Context, subject, key string, payload []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    payload,
		Header:  nats.Header{"Ums-Key": []string{key}},
	}
	if _, err := c.JS.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	c.logger.DebugContext(ctx, "Published event", "subject", subject, "key", key)
	return nil
}

// Handler processes one event payload. A non-nil error is logged by the
// consume loop; the message is acknowledged regardless, so handlers must
// record state before returning (ack-after-best-effort-persistence).
type Handler func(ctx context.Context, data []byte) error

// Consume attaches a durable consumer for subject and delivers each message
// to handler. The returned stop function drains the consumer.
func (c *Client) Consume(ctx context.Context, subject, durable string, handler Handler) (func(), error) {
	if c.stream == nil {
		return nil, fmt.Errorf("stream not initialized; call EnsureStream first")
	}

	cons, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", durable, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Data()); err != nil {
			c.logger.Error("Event handler failed; acknowledging to avoid redelivery loop",
				"subject", msg.Subject(), "error", err)
		}
		if err := msg.Ack(); err != nil {
			c.logger.Error("Failed to ack event", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consume loop for %s: %w", durable, err)
	}
	return cc.Stop, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	if c.Conn != nil && !c.Conn.IsClosed() {
		_ = c.Conn.Drain()
		c.Conn.Close()
	}
}
