package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Client turns the asynchronous transport into a blocking call: it owns an
// exclusive reply queue, publishes requests with a fresh correlation id and
// that queue as reply-to, and parks the caller until the correlated
// response arrives or the deadline passes.
//
// A single Client is safe for concurrent calls; each call gets its own
// correlation token and waiter.
type Client struct {
	conn         *Conn
	pub          publisher
	requestQueue string
	replyQueue   string
	pending      *pendingCalls
	callTimeout  time.Duration
	logger       *zap.Logger
}

// NewClient dials the broker, declares the exclusive reply queue and starts
// the reply consumer. Close releases the queue together with the
// connection.
func NewClient(url, requestQueue string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := Dial(url, opts...)
	if err != nil {
		return nil, err
	}
	replyQueue, err := conn.DeclareReplyQueue()
	if err != nil {
		conn.Close()
		return nil, err
	}
	c := &Client{
		conn:         conn,
		pub:          conn,
		requestQueue: requestQueue,
		replyQueue:   replyQueue,
		pending:      newPendingCalls(),
		callTimeout:  o.callTimeout,
		logger:       o.logger,
	}
	// Replies are consumed auto-ack: a reply is worthless to anyone but the
	// one caller awaiting its correlation id, so there is nothing to retry.
	deliveries, err := conn.Consume(replyQueue, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	go c.consumeReplies(deliveries)
	return c, nil
}

func (c *Client) consumeReplies(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		if !c.pending.dispatch(d.CorrelationId, d.Body) {
			// Not the response anyone is awaiting: either the caller timed
			// out already or the message is foreign cross-talk. Drop it
			// without touching pending calls.
			c.logger.Debug("dropping unmatched reply",
				zap.String("correlation_id", d.CorrelationId))
		}
	}
}

// Call publishes payload to the request queue and blocks until the
// correlated response arrives, the timeout elapses (ErrTimeout), or ctx is
// cancelled. A non-positive timeout falls back to the client default.
func (c *Client) Call(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	return c.Do(ctx, uuid.NewString(), payload, timeout)
}

// Do is Call with a caller-supplied correlation token, for callers that
// track the request elsewhere (the gateway keys its status store by it).
// The token must be fresh: reusing one currently awaited clobbers the
// earlier call's waiter.
func (c *Client) Do(ctx context.Context, corrID string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.callTimeout
	}
	wait := c.pending.add(corrID)

	err := c.pub.Publish(ctx, c.requestQueue, Publishing{
		Body:          payload,
		ReplyTo:       c.replyQueue,
		CorrelationID: corrID,
	})
	if err != nil {
		c.pending.drop(corrID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case body := <-wait:
		return body, nil
	case <-timer.C:
		c.pending.drop(corrID)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.pending.drop(corrID)
		return nil, ctx.Err()
	}
}

// Close tears down the connection. The broker deletes the exclusive reply
// queue with it.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// pendingCalls maps in-flight correlation ids to their waiters. dispatch
// for an unknown id is a no-op, which is what makes stale and foreign
// replies harmless.
type pendingCalls struct {
	mu      sync.Mutex
	waiters map[string]chan []byte
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiters: make(map[string]chan []byte)}
}

func (p *pendingCalls) add(corrID string) <-chan []byte {
	ch := make(chan []byte, 1)
	p.mu.Lock()
	p.waiters[corrID] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingCalls) drop(corrID string) {
	p.mu.Lock()
	delete(p.waiters, corrID)
	p.mu.Unlock()
}

func (p *pendingCalls) dispatch(corrID string, body []byte) bool {
	p.mu.Lock()
	ch, ok := p.waiters[corrID]
	if ok {
		delete(p.waiters, corrID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- body
	return true
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
