package broker

import (
	"time"

	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	logger      *zap.Logger
	prefetch    int
	maxAttempts int
	callTimeout time.Duration
}

func defaultOptions() options {
	return options{
		logger:      zap.NewNop(),
		prefetch:    1,
		maxAttempts: 0,
		callTimeout: DefaultCallTimeout,
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPrefetch sets the number of unacknowledged messages a consumer may
// hold. The default of 1 keeps one job in flight per consumer instance.
func WithPrefetch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.prefetch = n
		}
	}
}

// WithMaxAttempts caps delivery attempts per message. After n failed
// attempts the message is moved to the queue's dead-letter companion
// instead of being requeued. Zero (the default) means requeue forever.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxAttempts = n
		}
	}
}

// WithCallTimeout sets the default deadline for Client.Call when the caller
// passes a non-positive timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}
