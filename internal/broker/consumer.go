package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// HandlerFunc processes a one-way message (a task with no reply).
type HandlerFunc func(ctx context.Context, payload []byte) error

// RequestHandlerFunc processes an RPC request and returns the response
// body to publish on the request's reply-to queue.
type RequestHandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// attemptsHeader counts delivery attempts across republishes, so a poison
// message can be routed to the dead-letter queue instead of cycling
// forever. Plain broker redelivery does not carry a counter.
const attemptsHeader = "x-delivery-attempts"

// DeadLetterQueue names the dead-letter companion of a queue.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// Consumer drains one well-known queue with manual acknowledgment and a
// bounded prefetch (one in-flight message by default). Every delivery ends
// in exactly one of ack or nack before the next is taken: ack after the
// handler and, for requests, the reply publish have succeeded; nack with
// requeue on any failure. Handler errors never propagate to the broker.
type Consumer struct {
	conn        *Conn
	pub         publisher
	queue       string
	prefetch    int
	maxAttempts int
	logger      *zap.Logger

	onRequest RequestHandlerFunc
	onMessage HandlerFunc
}

func NewConsumer(conn *Conn, queue string, opts ...Option) *Consumer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Consumer{
		conn:        conn,
		pub:         conn,
		queue:       queue,
		prefetch:    o.prefetch,
		maxAttempts: o.maxAttempts,
		logger:      o.logger,
	}
}

// OnRequest registers the RPC handler. The consumer publishes the returned
// body to the request's reply-to queue, tagged with its correlation id.
func (c *Consumer) OnRequest(h RequestHandlerFunc) { c.onRequest = h }

// OnMessage registers the handler for one-way messages.
func (c *Consumer) OnMessage(h HandlerFunc) { c.onMessage = h }

// Run declares the queue, applies the prefetch cap and consumes until ctx
// is cancelled or the channel dies. A dead channel is returned as a
// *TransportError so the caller can reconnect.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.conn.DeclareQueue(c.queue, c.queueDurable()); err != nil {
		return err
	}
	if c.maxAttempts > 0 {
		if err := c.conn.DeclareQueue(DeadLetterQueue(c.queue), true); err != nil {
			return err
		}
	}
	if err := c.conn.Qos(c.prefetch); err != nil {
		return err
	}
	deliveries, err := c.conn.Consume(c.queue, false)
	if err != nil {
		return err
	}
	closed := c.conn.NotifyClose()

	c.logger.Info("consuming", zap.String("queue", c.queue),
		zap.Int("prefetch", c.prefetch))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return &TransportError{Op: "consume " + c.queue, Err: amqpErr}
		case d, ok := <-deliveries:
			if !ok {
				return &TransportError{Op: "consume " + c.queue,
					Err: fmt.Errorf("delivery channel closed")}
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// queueDurable: one-way queues hold deferred side effects and are durable;
// the request queue holds calls whose clients are blocking on a reply and
// would time out across a broker restart anyway.
func (c *Consumer) queueDurable() bool { return c.onRequest == nil }

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	if err := c.process(ctx, d); err != nil {
		c.logger.Error("processing failed",
			zap.String("queue", c.queue),
			zap.String("correlation_id", d.CorrelationId),
			zap.Error(err))
		c.retry(ctx, d)
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", zap.Error(err))
	}
}

type contextKey struct{ name string }

var correlationIDKey = contextKey{"correlation-id"}

// CorrelationIDFromContext returns the correlation id of the delivery a
// handler is processing, or "" outside a consumer.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ContextWithCorrelationID attaches a correlation id the way the consumer
// does before invoking a handler.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) error {
	if d.CorrelationId != "" {
		ctx = ContextWithCorrelationID(ctx, d.CorrelationId)
	}
	switch {
	case c.onRequest != nil:
		resp, err := c.onRequest(ctx, d.Body)
		if err != nil {
			return err
		}
		if d.ReplyTo == "" {
			return nil
		}
		return c.pub.Publish(ctx, d.ReplyTo, Publishing{
			Body:          resp,
			CorrelationID: d.CorrelationId,
		})
	case c.onMessage != nil:
		return c.onMessage(ctx, d.Body)
	default:
		return fmt.Errorf("no handler registered for queue %s", c.queue)
	}
}

// retry decides the fate of a failed delivery. Without a configured attempt
// cap it is nacked back onto the queue, forever if need be. With a cap, the
// message is republished with an incremented attempt counter and dead-
// lettered once the cap is reached; the original is acked either way so the
// counter actually advances.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery) {
	if c.maxAttempts <= 0 {
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("nack failed", zap.Error(err))
		}
		return
	}

	attempts := deliveryAttempts(d.Headers) + 1
	target := c.queue
	if attempts >= c.maxAttempts {
		target = DeadLetterQueue(c.queue)
		c.logger.Warn("dead-lettering message",
			zap.String("queue", target), zap.Int("attempts", attempts))
	}
	headers := amqp.Table{attemptsHeader: int32(attempts)}
	err := c.pub.Publish(ctx, target, Publishing{
		Body:          d.Body,
		ReplyTo:       d.ReplyTo,
		CorrelationID: d.CorrelationId,
		Persistent:    true,
		Headers:       headers,
	})
	if err != nil {
		// Could not move it anywhere else: fall back to a plain requeue so
		// the message is not lost.
		c.logger.Error("republish failed, requeueing", zap.Error(err))
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("nack failed", zap.Error(err))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", zap.Error(err))
	}
}

func deliveryAttempts(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[attemptsHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
