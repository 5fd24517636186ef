// Package broker is a thin layer over RabbitMQ: named queues, publish with
// reply-to/correlation-id/persistence properties, and consumption with
// manual acknowledgment. On top of it sit an RPC client (rpc.go) and a
// single-flight consumer loop (consumer.go).
package broker

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds an RPC call when the caller does not impose a
// deadline of its own.
const DefaultCallTimeout = 30 * time.Second

// Publishing carries a message body plus the protocol properties this
// system uses. Persistent marks the message to survive a broker restart.
type Publishing struct {
	Body          []byte
	ReplyTo       string
	CorrelationID string
	Persistent    bool
	Headers       amqp.Table
}

// publisher is the sending half of a connection. Conn implements it; tests
// substitute a recorder.
type publisher interface {
	Publish(ctx context.Context, queue string, pub Publishing) error
}

// Conn owns one AMQP connection and one channel. A channel is not safe for
// concurrent use, so every consumer and every RPC client holds its own Conn
// and tears it down on shutdown.
type Conn struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

// Dial connects to the broker and opens a channel. Failures come back as
// *TransportError.
func Dial(url string, opts ...Option) (*Conn, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &TransportError{Op: "open channel", Err: err}
	}
	return &Conn{conn: conn, ch: ch, logger: o.logger}, nil
}

// DialWithRetry keeps dialing with a fixed delay until it succeeds or ctx
// is cancelled. Long-running consumers use this instead of giving up when
// the broker is down.
func DialWithRetry(ctx context.Context, url string, delay time.Duration, opts ...Option) (*Conn, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for {
		conn, err := Dial(url, opts...)
		if err == nil {
			return conn, nil
		}
		o.logger.Warn("broker unreachable, retrying",
			zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Conn) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// DeclareQueue declares a named queue. Durable queues keep their contents
// across broker restarts; the notification queue is declared durable, the
// request queue is not.
func (c *Conn) DeclareQueue(name string, durable bool) error {
	_, err := c.ch.QueueDeclare(name, durable, false, false, false, nil)
	if err != nil {
		return &TransportError{Op: "declare queue " + name, Err: err}
	}
	return nil
}

// DeclareReplyQueue declares an exclusive, auto-named, auto-deleted queue
// owned by this connection. The broker removes it when the connection
// closes, which is the cleanup discipline the RPC client relies on.
func (c *Conn) DeclareReplyQueue() (string, error) {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", &TransportError{Op: "declare reply queue", Err: err}
	}
	return q.Name, nil
}

// Qos caps the number of unacknowledged deliveries the broker will push to
// this channel's consumers.
func (c *Conn) Qos(prefetch int) error {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return &TransportError{Op: "set qos", Err: err}
	}
	return nil
}

// Publish sends a message to a queue through the default exchange.
func (c *Conn) Publish(ctx context.Context, queue string, pub Publishing) error {
	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          pub.Body,
		ReplyTo:       pub.ReplyTo,
		CorrelationId: pub.CorrelationID,
		Headers:       pub.Headers,
	}
	if pub.Persistent {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := c.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return &TransportError{Op: "publish to " + queue, Err: err}
	}
	return nil
}

// Consume starts delivering messages from a queue. With autoAck false every
// delivery must be acked or nacked explicitly.
func (c *Conn) Consume(queue string, autoAck bool) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(queue, "", autoAck, false, false, false, nil)
	if err != nil {
		return nil, &TransportError{Op: "consume " + queue, Err: err}
	}
	return deliveries, nil
}

// NotifyClose relays channel-level errors, letting consumer loops detect a
// dropped connection and reconnect.
func (c *Conn) NotifyClose() chan *amqp.Error {
	return c.ch.NotifyClose(make(chan *amqp.Error, 1))
}
