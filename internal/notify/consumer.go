package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/timonen87/ocr-microservices/internal/broker"
)

// Consumer drains the notification queue one job at a time and hands each
// to the Mailer. A failed delivery (or a malformed job) is redelivered;
// only transport-level errors end a consume session, and Run answers those
// with a fixed-delay reconnect, forever.
type Consumer struct {
	url            string
	mailer         Mailer
	reconnectDelay time.Duration
	opts           []broker.Option
	logger         *zap.Logger
}

func NewConsumer(url string, mailer Mailer, reconnectDelay time.Duration, logger *zap.Logger, opts ...broker.Option) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Consumer{
		url:            url,
		mailer:         mailer,
		reconnectDelay: reconnectDelay,
		opts:           opts,
		logger:         logger,
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = 5 * time.Second
	}
	return c
}

// HandleJob is a broker.HandlerFunc: decode, deliver, and let the broker
// consumer translate the result into ack or nack.
func (c *Consumer) HandleJob(ctx context.Context, payload []byte) error {
	job, err := decodeJob(payload)
	if err != nil {
		return fmt.Errorf("decode notification job: %w", err)
	}
	if err := c.mailer.Send(ctx, job.Destination, job.Subject, job.Body); err != nil {
		return err
	}
	c.logger.Info("notification delivered", zap.String("destination", job.Destination))
	return nil
}

// Run consumes until ctx is cancelled. Each transport failure tears the
// session down and dials again after the fixed delay.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		conn, err := broker.DialWithRetry(ctx, c.url, c.reconnectDelay, c.opts...)
		if err != nil {
			return err // only on ctx cancellation
		}

		consumer := broker.NewConsumer(conn, Queue, c.opts...)
		consumer.OnMessage(c.HandleJob)

		err = consumer.Run(ctx)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consume session ended, reconnecting",
			zap.Duration("delay", c.reconnectDelay), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}
