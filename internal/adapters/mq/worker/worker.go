// Package worker defines the fetch worker pool that fans out marketplace
// checks during a monitoring cycle.
//
// Each worker consumes tracked products from a job channel, fetches the
// product's linked marketplaces concurrently, runs change detection, and
// atomically replaces the product's baselines. Within one (product,
// marketplace) pair the order is strict: fetch, evaluate, emit, baseline
// update. Across products no ordering is assumed.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/avalem/pricewatch/internal/domain/model"
	"github.com/avalem/pricewatch/pkg/logger"
	"github.com/avalem/pricewatch/pkg/metrics"
)

// Default pool configuration constants.
const (
	defaultWorkerCount = 8
)

// Fetcher fetches the current offer for a product on one marketplace.
// Failures are carried inside the snapshot, never as an error.
type Fetcher interface {
	FetchOffer(ctx context.Context, product model.TrackedProduct, m model.Marketplace) model.OfferSnapshot
}

// Evaluator turns fresh snapshots into price events and replacement
// baselines.
type Evaluator interface {
	Evaluate(product model.TrackedProduct, baselines map[model.Marketplace]model.PriceBaseline, snapshots []model.OfferSnapshot) ([]model.PriceEvent, []model.PriceBaseline)
}

// BaselineSource reads and replaces baselines per product.
type BaselineSource interface {
	GetByProduct(ctx context.Context, productID string) (map[model.Marketplace]model.PriceBaseline, error)
	ReplaceForProduct(ctx context.Context, productID string, baselines []model.PriceBaseline) error
}

// Sink receives detected price events. Returns false on backpressure.
type Sink interface {
	Emit(ctx context.Context, e model.PriceEvent) bool
}

// Stats aggregates the pool's per-cycle counters.
type Stats struct {
	productsChecked atomic.Int64
	fetchFailures   atomic.Int64
	eventsRaised    atomic.Int64
	eventsDropped   atomic.Int64
}

// ProductsChecked returns the number of products processed.
func (s *Stats) ProductsChecked() int { return int(s.productsChecked.Load()) }

// FetchFailures returns the number of failed marketplace fetches.
func (s *Stats) FetchFailures() int { return int(s.fetchFailures.Load()) }

// EventsRaised returns the number of detected price events.
func (s *Stats) EventsRaised() int { return int(s.eventsRaised.Load()) }

// EventsDropped returns the number of events lost to queue backpressure.
func (s *Stats) EventsDropped() int { return int(s.eventsDropped.Load()) }

// Pool runs a bounded set of fetch workers for one cycle.
type Pool struct {
	workerCount int
	fetcher     Fetcher
	evaluator   Evaluator
	baselines   BaselineSource
	sink        Sink
	logger      logger.Logger
}

// NewPool creates a new fetch worker pool.
func NewPool(fetcher Fetcher, evaluator Evaluator, baselines BaselineSource, sink Sink, opts ...Option) *Pool {
	p := &Pool{
		workerCount: defaultWorkerCount,
		fetcher:     fetcher,
		evaluator:   evaluator,
		baselines:   baselines,
		sink:        sink,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}

	return p
}

// Run consumes products until the channel is exhausted or ctx expires.
// Adapter failures are contained per (product, marketplace); the only
// fatal condition is a storage error, which cancels remaining work and
// is returned so the orchestrator can abort the cycle.
func (p *Pool) Run(ctx context.Context, products <-chan model.TrackedProduct) (*Stats, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats := &Stats{}
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		fatalErr error
	)

	fail := func(err error) {
		errOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	metrics.UpdateWorkerCount(p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case product, ok := <-products:
					if !ok {
						return
					}
					if err := p.processProduct(runCtx, product, stats); err != nil {
						p.logger.Error(runCtx, "baseline storage failed, aborting cycle",
							logger.String("product", product.ID),
							logger.Error(err),
						)
						fail(err)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	metrics.UpdateWorkerCount(0)
	return stats, fatalErr
}

// processProduct runs fetch -> evaluate -> baseline replace for one product.
func (p *Pool) processProduct(ctx context.Context, product model.TrackedProduct, stats *Stats) error {
	baselines, err := p.baselines.GetByProduct(ctx, product.ID)
	if err != nil {
		return err
	}

	snapshots := p.fetchAll(ctx, product)
	if ctx.Err() != nil {
		// Cycle budget elapsed mid-fetch; discard partial results.
		return nil
	}

	stats.productsChecked.Add(1)
	for _, snap := range snapshots {
		if !snap.OK() {
			stats.fetchFailures.Add(1)
		}
	}

	events, replacements := p.evaluator.Evaluate(product, baselines, snapshots)

	// Emit before the baseline write. A rejected emit keeps the old
	// baseline for that marketplace, so the change is re-detected and
	// re-raised on the next cycle instead of being lost.
	var dropped map[model.Marketplace]bool
	for _, event := range events {
		if p.sink.Emit(ctx, event) {
			stats.eventsRaised.Add(1)
			continue
		}
		stats.eventsDropped.Add(1)
		if dropped == nil {
			dropped = make(map[model.Marketplace]bool)
		}
		dropped[event.Marketplace] = true
		p.logger.Warn(ctx, "event queue full, deferring price event to next cycle",
			logger.String("event", event.Key()),
		)
	}

	if len(dropped) > 0 {
		kept := replacements[:0]
		for _, b := range replacements {
			if !dropped[b.Marketplace] {
				kept = append(kept, b)
			}
		}
		replacements = kept
	}

	if len(replacements) > 0 {
		if err := p.baselines.ReplaceForProduct(ctx, product.ID, replacements); err != nil {
			return err
		}
		for range replacements {
			metrics.RecordBaselineReplacement()
		}
	}
	return nil
}

// fetchAll fans out one fetch per linked marketplace.
func (p *Pool) fetchAll(ctx context.Context, product model.TrackedProduct) []model.OfferSnapshot {
	marketplaces := make([]model.Marketplace, 0, len(product.ExternalIDs))
	for m := range product.ExternalIDs {
		marketplaces = append(marketplaces, m)
	}

	snapshots := make([]model.OfferSnapshot, len(marketplaces))
	var wg sync.WaitGroup
	for i, m := range marketplaces {
		wg.Add(1)
		go func(i int, m model.Marketplace) {
			defer wg.Done()
			snapshots[i] = p.fetcher.FetchOffer(ctx, product, m)
		}(i, m)
	}
	wg.Wait()
	return snapshots
}
