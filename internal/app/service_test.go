package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repository "github.com/avalem/pricewatch/internal/adapters/repository"
	service "github.com/avalem/pricewatch/internal/app"
	"github.com/avalem/pricewatch/internal/domain/model"
	"github.com/avalem/pricewatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// stubFetcher serves canned prices with a configurable delay.
type stubFetcher struct {
	mu     sync.Mutex
	prices map[string]int64 // key: productID|marketplace
	delay  time.Duration
	delays map[string]time.Duration // per-key override of delay
}

func (f *stubFetcher) FetchOffer(ctx context.Context, product model.TrackedProduct, m model.Marketplace) model.OfferSnapshot {
	delay := f.delay
	if d, ok := f.delays[product.ID+"|"+string(m)]; ok {
		delay = d
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.OfferSnapshot{Marketplace: m, Err: ctx.Err(), FetchedAt: time.Now()}
		}
	}
	f.mu.Lock()
	price, ok := f.prices[product.ID+"|"+string(m)]
	f.mu.Unlock()
	if !ok {
		return model.OfferSnapshot{Marketplace: m, Err: errors.New("no canned price"), FetchedAt: time.Now()}
	}
	return model.OfferSnapshot{
		Marketplace: m,
		ExternalID:  product.ExternalIDs[m],
		Price:       price,
		Currency:    "USD",
		Available:   true,
		FetchedAt:   time.Now(),
	}
}

// countingChannel records outbound sends.
type countingChannel struct {
	mu   sync.Mutex
	sent []string
}

func (c *countingChannel) Send(ctx context.Context, phone, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, phone)
	return nil
}

func (c *countingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// failingProducts aborts every cycle at the listing step.
type failingProducts struct{}

func (failingProducts) List(ctx context.Context) ([]model.TrackedProduct, error) {
	return nil, errors.New("storage down")
}
func (failingProducts) Get(ctx context.Context, id string) (model.TrackedProduct, error) {
	return model.TrackedProduct{}, repository.ErrNotFound
}
func (failingProducts) Put(ctx context.Context, p model.TrackedProduct) error { return nil }
func (failingProducts) Delete(ctx context.Context, id string) error           { return nil }

func waitForIdle(svc *service.Service, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !svc.Running() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func seedStores(ctx context.Context, stores repository.Stores) {
	_ = stores.Products.Put(ctx, model.TrackedProduct{
		ID:   "p1",
		Name: "Mechanical Keyboard",
		ExternalIDs: map[model.Marketplace]string{
			model.MarketplaceAmazon: "B001",
		},
	})
	_ = stores.Baselines.ReplaceForProduct(ctx, "p1", []model.PriceBaseline{
		{ProductID: "p1", Marketplace: model.MarketplaceAmazon, Price: 10_000, Currency: "USD", ObservedAt: time.Now()},
	})
	_ = stores.Subscriptions.Put(ctx, model.Subscription{
		UserID: "u1", ProductID: "p1", Phone: "+15550001",
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given an unstarted service", t, func() {
		svc := service.New(
			service.WithFetcher(&stubFetcher{}),
			service.WithChannel(&countingChannel{}),
		)

		Convey("When triggering before Start", func() {
			_, err := svc.Trigger(ctx)

			Convey("Then the trigger is rejected", func() {
				So(err, ShouldWrap, service.ErrNotStarted)
			})
		})

		Convey("When asking for status before any cycle ran", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			_, err := svc.Status(ctx)

			Convey("Then there is nothing to report", func() {
				So(err, ShouldWrap, service.ErrNoCycles)
			})
		})
	})
}

func TestServiceCycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service with one dropped price", t, func() {
		stores := repository.NewMemoryStores()
		seedStores(ctx, stores)

		fetcher := &stubFetcher{prices: map[string]int64{"p1|amazon": 8_000}}
		channel := &countingChannel{}

		svc := service.New(
			service.WithStores(stores),
			service.WithFetcher(fetcher),
			service.WithChannel(channel),
			service.WithWorkerCount(2),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When triggering a cycle", func() {
			run, err := svc.Trigger(ctx)

			So(err, ShouldBeNil)
			So(run.ID, ShouldNotBeEmpty)
			So(run.Status, ShouldEqual, model.CycleRunning)
			So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)

			Convey("Then the cycle completes with accurate counts", func() {
				final, err := svc.Status(ctx)
				So(err, ShouldBeNil)
				So(final.ID, ShouldEqual, run.ID)
				So(final.Status, ShouldEqual, model.CycleCompleted)
				So(final.Counts.ProductsChecked, ShouldEqual, 1)
				So(final.Counts.EventsRaised, ShouldEqual, 1)
				So(final.Counts.NotificationsSent, ShouldEqual, 1)
			})

			Convey("And the subscriber got exactly one message", func() {
				So(channel.count(), ShouldEqual, 1)
			})

			Convey("And the baseline moved to the fresh price", func() {
				baselines, err := stores.Baselines.GetByProduct(ctx, "p1")
				So(err, ShouldBeNil)
				So(baselines[model.MarketplaceAmazon].Price, ShouldEqual, 8_000)
			})

			Convey("And a re-run without further change stays silent", func() {
				_, err := svc.Trigger(ctx)
				So(err, ShouldBeNil)
				So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)

				final, _ := svc.Status(ctx)
				So(final.Status, ShouldEqual, model.CycleCompleted)
				So(final.Counts.EventsRaised, ShouldEqual, 0)
				So(channel.count(), ShouldEqual, 1)
			})
		})
	})
}

func TestServiceSingleCycleGuard(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service with a slow fetcher", t, func() {
		stores := repository.NewMemoryStores()
		seedStores(ctx, stores)

		fetcher := &stubFetcher{prices: map[string]int64{"p1|amazon": 10_000}, delay: 300 * time.Millisecond}
		svc := service.New(
			service.WithStores(stores),
			service.WithFetcher(fetcher),
			service.WithChannel(&countingChannel{}),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When many triggers race for the flag", func() {
			const attempts = 10
			var wg sync.WaitGroup
			results := make(chan error, attempts)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.Trigger(ctx)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			Convey("Then exactly one wins and the rest are rejected", func() {
				accepted, rejected := 0, 0
				for err := range results {
					switch {
					case err == nil:
						accepted++
					case errors.Is(err, service.ErrAlreadyRunning):
						rejected++
					}
				}
				So(accepted, ShouldEqual, 1)
				So(rejected, ShouldEqual, attempts-1)
			})

			Convey("And once the cycle finishes a new trigger is accepted", func() {
				So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)
				_, err := svc.Trigger(ctx)
				So(err, ShouldBeNil)
				So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)
			})
		})
	})
}

func TestServiceCycleTimeout(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service whose fetches outlive the cycle budget", t, func() {
		stores := repository.NewMemoryStores()
		seedStores(ctx, stores)

		fetcher := &stubFetcher{prices: map[string]int64{"p1|amazon": 8_000}, delay: 400 * time.Millisecond}
		svc := service.New(
			service.WithStores(stores),
			service.WithFetcher(fetcher),
			service.WithChannel(&countingChannel{}),
			service.WithCycleBudget(50*time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When a cycle runs out of budget", func() {
			_, err := svc.Trigger(ctx)
			So(err, ShouldBeNil)
			So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)

			Convey("Then the run lands in the timed-out state", func() {
				final, err := svc.Status(ctx)
				So(err, ShouldBeNil)
				So(final.Status, ShouldEqual, model.CycleTimedOut)
			})

			Convey("And partially fetched results left no baseline behind", func() {
				baselines, err := stores.Baselines.GetByProduct(ctx, "p1")
				So(err, ShouldBeNil)
				So(baselines[model.MarketplaceAmazon].Price, ShouldEqual, 10_000)
			})

			Convey("And the flag is released for the next trigger", func() {
				_, err := svc.Trigger(ctx)
				So(err, ShouldBeNil)
				So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)
			})
		})
	})
}

func TestServiceTimeoutKeepsDetectedEvents(t *testing.T) {
	ctx := context.Background()

	Convey("Given one fast dropped price and one fetch that outlives the budget", t, func() {
		stores := repository.NewMemoryStores()
		seedStores(ctx, stores)
		_ = stores.Products.Put(ctx, model.TrackedProduct{
			ID:   "p2",
			Name: "Standing Desk",
			ExternalIDs: map[model.Marketplace]string{
				model.MarketplaceAmazon: "B002",
			},
		})
		_ = stores.Baselines.ReplaceForProduct(ctx, "p2", []model.PriceBaseline{
			{ProductID: "p2", Marketplace: model.MarketplaceAmazon, Price: 20_000, Currency: "USD", ObservedAt: time.Now()},
		})

		fetcher := &stubFetcher{
			prices: map[string]int64{"p1|amazon": 8_500, "p2|amazon": 15_000},
			delays: map[string]time.Duration{"p2|amazon": 400 * time.Millisecond},
		}
		channel := &countingChannel{}
		svc := service.New(
			service.WithStores(stores),
			service.WithFetcher(fetcher),
			service.WithChannel(channel),
			service.WithWorkerCount(2),
			service.WithCycleBudget(150*time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When the cycle runs out of budget mid-fetch", func() {
			_, err := svc.Trigger(ctx)
			So(err, ShouldBeNil)
			So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)

			final, err := svc.Status(ctx)
			So(err, ShouldBeNil)

			Convey("Then the run lands in the timed-out state", func() {
				So(final.Status, ShouldEqual, model.CycleTimedOut)
			})

			Convey("And the drop detected before the deadline is still delivered", func() {
				So(final.Counts.EventsRaised, ShouldEqual, 1)
				So(final.Counts.NotificationsSent, ShouldEqual, 1)
				So(channel.count(), ShouldEqual, 1)
			})

			Convey("And only the fast product's baseline moved", func() {
				fast, err := stores.Baselines.GetByProduct(ctx, "p1")
				So(err, ShouldBeNil)
				So(fast[model.MarketplaceAmazon].Price, ShouldEqual, 8_500)

				slow, err := stores.Baselines.GetByProduct(ctx, "p2")
				So(err, ShouldBeNil)
				So(slow[model.MarketplaceAmazon].Price, ShouldEqual, 20_000)
			})
		})
	})
}

func TestServiceAbortOnStorageFailure(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service whose product listing fails", t, func() {
		stores := repository.NewMemoryStores()
		stores.Products = failingProducts{}

		svc := service.New(
			service.WithStores(stores),
			service.WithFetcher(&stubFetcher{}),
			service.WithChannel(&countingChannel{}),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When a cycle is triggered", func() {
			_, err := svc.Trigger(ctx)
			So(err, ShouldBeNil)
			So(waitForIdle(svc, 5*time.Second), ShouldBeTrue)

			Convey("Then the run lands in the aborted state", func() {
				final, err := svc.Status(ctx)
				So(err, ShouldBeNil)
				So(final.Status, ShouldEqual, model.CycleAborted)
			})
		})
	})
}
