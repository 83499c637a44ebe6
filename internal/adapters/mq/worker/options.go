package worker

import (
	"github.com/avalem/pricewatch/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithWorkerCount sets the number of concurrent fetch workers.
func WithWorkerCount(count int) Option {
	return func(p *Pool) {
		if count > 0 {
			p.workerCount = count
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}
