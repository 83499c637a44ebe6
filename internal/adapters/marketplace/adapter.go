// Package marketplace contains pluggable marketplace connectors.
//
// Each adapter normalizes one marketplace's response shape to the common
// offer record; the detector and dispatcher never see marketplace quirks.
package marketplace

import (
	"context"
	"errors"
	"time"

	"github.com/avalem/pricewatch/internal/domain/model"
	"github.com/avalem/pricewatch/pkg/logger"
	"github.com/avalem/pricewatch/pkg/metrics"
)

// Default fleet configuration constants.
const (
	defaultFetchTimeout = 8 * time.Second
)

// Adapter abstracts all marketplace-specific logic.
type Adapter interface {
	// Marketplace identifies the upstream this adapter talks to.
	Marketplace() model.Marketplace

	// FetchOffer fetches the current offer for a specific known product.
	FetchOffer(ctx context.Context, externalID string) (model.Offer, error)

	// SearchOffers returns offers matching a keyword. Used by the
	// consumed search capability at the interface boundary.
	SearchOffers(ctx context.Context, keyword string) ([]model.Offer, error)
}

// Fleet routes fetches to the adapter for each marketplace and wraps
// every call in the per-call timeout so no fetch blocks indefinitely.
type Fleet struct {
	adapters     map[model.Marketplace]Adapter
	fetchTimeout time.Duration
	logger       logger.Logger
}

// Option applies a configuration option to the Fleet.
type Option func(*Fleet)

// WithAdapter registers a marketplace adapter.
func WithAdapter(a Adapter) Option {
	return func(f *Fleet) {
		if a != nil {
			f.adapters[a.Marketplace()] = a
		}
	}
}

// WithFetchTimeout bounds every single fetch.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(f *Fleet) {
		if timeout > 0 {
			f.fetchTimeout = timeout
		}
	}
}

// WithLogger sets a custom logger for the fleet.
func WithLogger(l logger.Logger) Option {
	return func(f *Fleet) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFleet creates a Fleet with configuration options.
func NewFleet(opts ...Option) *Fleet {
	f := &Fleet{
		adapters:     make(map[model.Marketplace]Adapter),
		fetchTimeout: defaultFetchTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = logger.Get().Named("marketplace")
	}

	return f
}

// Marketplaces lists the registered marketplaces.
func (f *Fleet) Marketplaces() []model.Marketplace {
	out := make([]model.Marketplace, 0, len(f.adapters))
	for m := range f.adapters {
		out = append(out, m)
	}
	return out
}

// FetchOffer fetches the current offer for product on marketplace m.
// It never returns an error: failures are carried in the snapshot's Err
// field so one marketplace cannot abort the cycle for the others.
func (f *Fleet) FetchOffer(ctx context.Context, product model.TrackedProduct, m model.Marketplace) model.OfferSnapshot {
	start := time.Now()
	snap := model.OfferSnapshot{
		Marketplace: m,
		FetchedAt:   start,
	}
	metrics.RecordFetch(string(m))

	externalID, linked := product.ExternalID(m)
	if !linked {
		snap.Err = ErrNotLinked
		metrics.RecordFetchFailure(string(m), FailureReason(snap.Err))
		return snap
	}
	snap.ExternalID = externalID

	adapter, ok := f.adapters[m]
	if !ok {
		snap.Err = ErrNotLinked
		metrics.RecordFetchFailure(string(m), FailureReason(snap.Err))
		return snap
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	offer, err := adapter.FetchOffer(fetchCtx, externalID)
	metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		snap.Err = err
		metrics.RecordFetchFailure(string(m), FailureReason(err))
		f.logger.Debug(ctx, "fetch failed",
			logger.String("marketplace", string(m)),
			logger.String("product", product.ID),
			logger.Error(err),
		)
		return snap
	}

	snap.Price = offer.Price
	snap.Currency = offer.Currency
	snap.Available = offer.Available
	return snap
}
