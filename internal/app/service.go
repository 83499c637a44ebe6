// Package service provides the monitoring cycle orchestrator that ties
// the marketplace fleet, detector, event queue, and dispatcher together.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/avalem/pricewatch/internal/adapters/mq/queue"
	workerpool "github.com/avalem/pricewatch/internal/adapters/mq/worker"
	"github.com/avalem/pricewatch/internal/adapters/notify"
	"github.com/avalem/pricewatch/internal/adapters/repository"
	"github.com/avalem/pricewatch/internal/dispatch"
	"github.com/avalem/pricewatch/internal/domain/dedupe"
	"github.com/avalem/pricewatch/internal/domain/detector"
	"github.com/avalem/pricewatch/internal/domain/model"
	"github.com/avalem/pricewatch/pkg/logger"
	"github.com/avalem/pricewatch/pkg/metrics"
)

// Default orchestrator configuration constants.
const (
	defaultWorkerCount  = 8
	defaultQueueSize    = 1024
	defaultDedupeSize   = 50_000
	defaultCycleBudget  = 2 * time.Minute
	stopDrainTimeout    = 30 * time.Second
	defaultSendAttempts = 3
)

// detectorAdapter adapts detector.Detector to the worker pool's
// Evaluator interface.
type detectorAdapter struct {
	detector *detector.Detector
}

func (a *detectorAdapter) Evaluate(product model.TrackedProduct, baselines map[model.Marketplace]model.PriceBaseline, snapshots []model.OfferSnapshot) ([]model.PriceEvent, []model.PriceBaseline) {
	res := a.detector.Evaluate(product, baselines, snapshots)
	return res.Events, res.Baselines
}

// queueSink adapts the event queue to the worker pool's Sink interface.
type queueSink struct {
	q queue.Queue
}

func (s queueSink) Emit(ctx context.Context, e model.PriceEvent) bool {
	return s.q.Enqueue(ctx, e)
}

// Service implements the monitoring cycle orchestrator.
//
// State machine: Idle -> Running -> {Completed, Aborted, TimedOut} -> Idle.
// The running flag is the single piece of mutually exclusive shared
// state; it is held via compare-and-swap so concurrent triggers resolve
// deterministically to exactly one running cycle.
type Service struct {
	mu sync.Mutex

	// Core components
	stores     repository.Stores
	fetcher    workerpool.Fetcher
	channel    notify.Channel
	detector   *detector.Detector
	deduper    dedupe.Deduper
	dispatcher *dispatch.Dispatcher

	// Configuration
	workerCount     int
	queueSize       int
	dedupeSize      int
	changeThreshold float64
	notifyOnRise    bool
	cycleBudget     time.Duration
	maxSendAttempts int
	backoffInitial  time.Duration
	backoffMax      time.Duration

	// Cycle state
	running   atomic.Bool
	currentMu sync.RWMutex
	current   model.CycleRun

	// Lifecycle
	started bool
	baseCtx context.Context
	cancel  context.CancelFunc
	cycleWG sync.WaitGroup

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStores sets the persistence bundle. Defaults to in-memory stores.
func WithStores(stores repository.Stores) Option {
	return func(s *Service) {
		s.stores = stores
	}
}

// WithFetcher sets the marketplace fetch capability.
func WithFetcher(f workerpool.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithChannel sets the outbound notification channel.
func WithChannel(c notify.Channel) Option {
	return func(s *Service) {
		if c != nil {
			s.channel = c
		}
	}
}

// WithWorkerCount sets the number of fetch workers per cycle.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the per-cycle event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the delivery dedupe cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithChangeThreshold sets the alert-worthy change ratio.
func WithChangeThreshold(threshold float64) Option {
	return func(s *Service) {
		if threshold > 0 && threshold < 1 {
			s.changeThreshold = threshold
		}
	}
}

// WithNotifyOnRise also dispatches notifications for price rises.
func WithNotifyOnRise(enabled bool) Option {
	return func(s *Service) {
		s.notifyOnRise = enabled
	}
}

// WithCycleBudget sets the wall-clock budget for one cycle.
func WithCycleBudget(budget time.Duration) Option {
	return func(s *Service) {
		if budget > 0 {
			s.cycleBudget = budget
		}
	}
}

// WithSendRetry configures the delivery retry policy.
func WithSendRetry(maxAttempts int, initial, maxInterval time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxSendAttempts = maxAttempts
		}
		if initial > 0 && maxInterval >= initial {
			s.backoffInitial = initial
			s.backoffMax = maxInterval
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     defaultWorkerCount,
		queueSize:       defaultQueueSize,
		dedupeSize:      defaultDedupeSize,
		changeThreshold: 0.10,
		cycleBudget:     defaultCycleBudget,
		maxSendAttempts: defaultSendAttempts,
		backoffInitial:  500 * time.Millisecond,
		backoffMax:      10 * time.Second,
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes the service components. The given context becomes
// the parent of every cycle; cancelling it (or calling Stop) winds the
// service down.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.fetcher == nil {
		return errors.New("marketplace fetcher is required")
	}
	if s.channel == nil {
		return errors.New("notification channel is required")
	}
	if s.stores.Products == nil {
		s.stores = repository.NewMemoryStores()
		s.logger.Info(ctx, "using in-memory stores")
	}

	s.detector = detector.New(detector.WithChangeThreshold(s.changeThreshold))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.dispatcher = dispatch.New(
		s.stores.Subscriptions,
		s.stores.Deliveries,
		s.deduper,
		s.channel,
		dispatch.WithMaxAttempts(s.maxSendAttempts),
		dispatch.WithBackoff(s.backoffInitial, s.backoffMax),
		dispatch.WithNotifyOnRise(s.notifyOnRise),
		dispatch.WithLogger(s.logger.Named("dispatch")),
	)

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.logger.Info(ctx, "monitoring service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Float64("changeThreshold", s.changeThreshold),
	)

	return nil
}

// Stop winds the service down, waiting briefly for an in-flight cycle.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping monitoring service...")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.cycleWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		s.logger.Warn(context.Background(), "cycle did not drain before shutdown timeout")
	}

	s.started = false
	s.logger.Info(context.Background(), "monitoring service stopped")
}

// Trigger starts one monitoring cycle. It returns immediately with the
// accepted run, or ErrAlreadyRunning while a cycle holds the flag.
// Re-triggering after a terminal state is always accepted.
func (s *Service) Trigger(ctx context.Context) (model.CycleRun, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return model.CycleRun{}, ErrNotStarted
	}

	if !s.running.CompareAndSwap(false, true) {
		metrics.RecordCycleRejected()
		return model.CycleRun{}, ErrAlreadyRunning
	}

	run := model.CycleRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    model.CycleRunning,
	}
	if err := s.stores.Cycles.Put(ctx, run); err != nil {
		s.running.Store(false)
		return model.CycleRun{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.setCurrent(run)
	metrics.RecordCycleStarted()
	s.logger.Info(ctx, "monitoring cycle accepted", logger.String("cycle", run.ID))

	s.cycleWG.Add(1)
	go s.runCycle(run)

	return run, nil
}

// Status returns the in-flight run, or the last finished one.
func (s *Service) Status(ctx context.Context) (model.CycleRun, error) {
	if s.running.Load() {
		return s.getCurrent(), nil
	}
	run, err := s.stores.Cycles.Last(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return model.CycleRun{}, ErrNoCycles
	}
	return run, err
}

// Running reports whether a cycle currently holds the flag.
func (s *Service) Running() bool {
	return s.running.Load()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"running":     s.running.Load(),
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}
	if s.deduper != nil {
		stats["dedupeEntries"] = s.deduper.Size()
	}
	if run, err := s.Status(context.Background()); err == nil {
		stats["lastCycle"] = run
	}
	return stats
}

// runCycle executes one full monitoring cycle and releases the flag.
func (s *Service) runCycle(run model.CycleRun) {
	defer s.cycleWG.Done()
	defer s.running.Store(false)

	cycleCtx, cancel := context.WithTimeout(s.baseCtx, s.cycleBudget)
	defer cancel()

	q := queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))

	// The dispatcher runs off the service context, not the cycle
	// context: a cycle timeout truncates discovery, never delivery of
	// already-detected events.
	dispatchDone := make(chan dispatch.Stats, 1)
	go func() {
		dispatchDone <- s.dispatcher.Run(s.baseCtx, q.Dequeue(s.baseCtx))
	}()

	status := model.CycleCompleted
	var poolStats *workerpool.Stats

	products, err := s.stores.Products.List(cycleCtx)
	if err != nil {
		s.logger.Error(cycleCtx, "listing tracked products failed", logger.Error(err))
		status = model.CycleAborted
	} else {
		jobs := make(chan model.TrackedProduct)
		go func() {
			defer close(jobs)
			for _, p := range products {
				select {
				case jobs <- p:
				case <-cycleCtx.Done():
					return
				}
			}
		}()

		pool := workerpool.NewPool(
			s.fetcher,
			&detectorAdapter{detector: s.detector},
			s.stores.Baselines,
			queueSink{q: q},
			workerpool.WithWorkerCount(s.workerCount),
			workerpool.WithLogger(s.logger.Named("worker-pool")),
		)
		poolStats, err = pool.Run(cycleCtx, jobs)
		switch {
		case err != nil:
			status = model.CycleAborted
		case errors.Is(cycleCtx.Err(), context.DeadlineExceeded):
			status = model.CycleTimedOut
		}
	}

	// Discovery is over; let the dispatcher drain what was detected.
	_ = q.Close()
	dispatchStats := <-dispatchDone

	run.FinishedAt = time.Now()
	run.Status = status
	if poolStats != nil {
		run.Counts.ProductsChecked = poolStats.ProductsChecked()
		run.Counts.FetchFailures = poolStats.FetchFailures()
		run.Counts.EventsRaised = poolStats.EventsRaised()
	}
	run.Counts.NotificationsSent = dispatchStats.Sent
	run.Counts.DeliveryFailures = dispatchStats.Failed

	finalizeCtx, finalizeCancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), 5*time.Second)
	defer finalizeCancel()
	if err := s.stores.Cycles.Put(finalizeCtx, run); err != nil {
		s.logger.Error(finalizeCtx, "recording cycle run failed",
			logger.String("cycle", run.ID),
			logger.Error(err),
		)
	}

	s.setCurrent(run)
	metrics.RecordCycleFinished(string(status), run.FinishedAt.Sub(run.StartedAt))
	s.logger.Info(finalizeCtx, "monitoring cycle finished",
		logger.String("cycle", run.ID),
		logger.String("status", string(status)),
		logger.Int("productsChecked", run.Counts.ProductsChecked),
		logger.Int("fetchFailures", run.Counts.FetchFailures),
		logger.Int("eventsRaised", run.Counts.EventsRaised),
		logger.Int("notificationsSent", run.Counts.NotificationsSent),
		logger.Int("deliveryFailures", run.Counts.DeliveryFailures),
	)
}

func (s *Service) setCurrent(run model.CycleRun) {
	s.currentMu.Lock()
	s.current = run
	s.currentMu.Unlock()
}

func (s *Service) getCurrent() model.CycleRun {
	s.currentMu.RLock()
	defer s.currentMu.RUnlock()
	return s.current
}
