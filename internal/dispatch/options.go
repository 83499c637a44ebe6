package dispatch

import (
	"time"

	"github.com/avalem/pricewatch/pkg/logger"
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithMaxAttempts caps delivery attempts per (event, subscriber).
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff bounds the exponential backoff between attempts.
func WithBackoff(initial, maxInterval time.Duration) Option {
	return func(d *Dispatcher) {
		if initial > 0 && maxInterval >= initial {
			d.initialBackoff = initial
			d.maxBackoff = maxInterval
		}
	}
}

// WithNotifyOnRise also dispatches notifications for price rises.
func WithNotifyOnRise(enabled bool) Option {
	return func(d *Dispatcher) {
		d.notifyOnRise = enabled
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}
