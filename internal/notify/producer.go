package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/timonen87/ocr-microservices/internal/broker"
)

// jobPublisher is satisfied by *broker.Conn.
type jobPublisher interface {
	Publish(ctx context.Context, queue string, pub broker.Publishing) error
}

// Producer publishes notification jobs. Fire-and-forget: success means the
// broker accepted the message, not that anything was delivered.
type Producer struct {
	pub    jobPublisher
	logger *zap.Logger
}

func NewProducer(conn *broker.Conn, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Durable queue + persistent messages: jobs survive a broker restart.
	if err := conn.DeclareQueue(Queue, true); err != nil {
		return nil, err
	}
	return &Producer{pub: conn, logger: logger}, nil
}

// Enqueue publishes a persistent job to the notification queue.
func (p *Producer) Enqueue(ctx context.Context, to, subject, body string) error {
	payload, err := Job{Destination: to, Subject: subject, Body: body}.encode()
	if err != nil {
		return fmt.Errorf("encode notification job: %w", err)
	}
	if err := p.pub.Publish(ctx, Queue, broker.Publishing{
		Body:       payload,
		Persistent: true,
	}); err != nil {
		return err
	}
	p.logger.Info("notification enqueued", zap.String("destination", to))
	return nil
}
