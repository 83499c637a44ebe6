// Package dispatch resolves subscribers for price events and delivers
// notifications over the outbound channel.
//
// Delivery is idempotent per (event, subscriber): a durable delivery
// record is written before the first send attempt, so a crash between
// send and record write causes at most one duplicate message. An
// in-memory dedupe cache short-circuits repeats within the process.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/avalem/pricewatch/internal/adapters/notify"
	"github.com/avalem/pricewatch/internal/domain/dedupe"
	"github.com/avalem/pricewatch/internal/domain/model"
	"github.com/avalem/pricewatch/pkg/logger"
	"github.com/avalem/pricewatch/pkg/metrics"
)

// Default dispatch configuration constants.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// SubscriptionSource lists the subscriptions for a product.
type SubscriptionSource interface {
	ListByProduct(ctx context.Context, productID string) ([]model.Subscription, error)
}

// DeliverySource persists delivery records.
type DeliverySource interface {
	Create(ctx context.Context, rec model.DeliveryRecord) (bool, error)
	Update(ctx context.Context, rec model.DeliveryRecord) error
}

// Stats aggregates dispatch counters for one cycle.
type Stats struct {
	Sent       int
	Failed     int
	Duplicates int
	Skipped    int
}

// Dispatcher delivers price events to interested subscribers.
type Dispatcher struct {
	subs       SubscriptionSource
	deliveries DeliverySource
	seen       dedupe.Deduper
	channel    notify.Channel

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	notifyOnRise   bool
	now            func() time.Time

	logger logger.Logger
}

// New creates a Dispatcher with configuration options.
func New(subs SubscriptionSource, deliveries DeliverySource, seen dedupe.Deduper, channel notify.Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:           subs,
		deliveries:     deliveries,
		seen:           seen,
		channel:        channel,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = logger.Get().Named("dispatch")
	}

	return d
}

// Run drains the event channel until it closes or ctx expires, and
// returns the accumulated stats. Already-queued events are delivered
// even when the cycle that produced them has timed out, because Run is
// driven by its own context.
func (d *Dispatcher) Run(ctx context.Context, events <-chan model.PriceEvent) Stats {
	var total Stats
	for {
		select {
		case <-ctx.Done():
			return total
		case event, ok := <-events:
			if !ok {
				return total
			}
			s := d.Dispatch(ctx, event)
			total.Sent += s.Sent
			total.Failed += s.Failed
			total.Duplicates += s.Duplicates
			total.Skipped += s.Skipped
		}
	}
}

// Dispatch delivers one event to every matching subscription.
// Failures are contained per subscriber and reflected in the stats.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.PriceEvent) Stats {
	var stats Stats

	subs, err := d.subs.ListByProduct(ctx, event.ProductID)
	if err != nil {
		d.logger.Error(ctx, "listing subscriptions failed",
			logger.String("product", event.ProductID),
			logger.Error(err),
		)
		return stats
	}

	for _, sub := range subs {
		if !d.wants(sub, event) {
			stats.Skipped++
			continue
		}

		key := model.DeliveryKey(event.Key(), sub.UserID)
		if d.seen.SeenAndRecord(ctx, key) {
			stats.Duplicates++
			metrics.RecordNotificationDuplicate()
			continue
		}

		// Record before sending to bound duplicate-send risk across
		// crash and restart.
		rec := model.DeliveryRecord{
			EventKey:     event.Key(),
			SubscriberID: sub.UserID,
			Status:       model.DeliveryAttempted,
			CreatedAt:    d.now(),
		}
		created, err := d.deliveries.Create(ctx, rec)
		if err != nil {
			// Could not record durably; allow a later retry.
			d.seen.Unrecord(ctx, key)
			stats.Failed++
			d.logger.Error(ctx, "writing delivery record failed",
				logger.String("key", key),
				logger.Error(err),
			)
			continue
		}
		if !created {
			stats.Duplicates++
			metrics.RecordNotificationDuplicate()
			continue
		}

		attempts, err := d.send(ctx, sub.Phone, formatMessage(event))
		rec.Attempts = attempts
		if err != nil {
			rec.Status = model.DeliveryFailed
			stats.Failed++
			metrics.RecordNotificationFailed()
			d.logger.Warn(ctx, "delivery failed",
				logger.String("key", key),
				logger.Int("attempts", attempts),
				logger.Error(err),
			)
		} else {
			rec.Status = model.DeliverySent
			stats.Sent++
			metrics.RecordNotificationSent()
		}

		if err := d.deliveries.Update(ctx, rec); err != nil {
			d.logger.Error(ctx, "updating delivery record failed",
				logger.String("key", key),
				logger.Error(err),
			)
		}
	}
	return stats
}

// wants reports whether the subscription matches the event: drops only
// (unless rises are enabled) and the price ceiling, if set, is honored.
func (d *Dispatcher) wants(sub model.Subscription, event model.PriceEvent) bool {
	switch event.Direction {
	case model.DirectionDrop:
		// always notification-worthy
	case model.DirectionRise:
		if !d.notifyOnRise {
			return false
		}
	default:
		return false
	}
	if sub.CeilingPrice > 0 && event.NewPrice > sub.CeilingPrice {
		return false
	}
	return true
}

// send attempts delivery with exponential backoff up to maxAttempts.
// Returns the number of attempts made.
func (d *Dispatcher) send(ctx context.Context, phone, message string) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.initialBackoff
	bo.MaxInterval = d.maxBackoff

	attempts := 0
	operation := func() error {
		if attempts > 0 {
			metrics.RecordSendRetry()
		}
		attempts++
		return d.channel.Send(ctx, phone, message)
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.maxAttempts-1)), ctx))
	if err != nil {
		return attempts, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return attempts, nil
}

// formatMessage renders the subscriber-facing notification text.
func formatMessage(e model.PriceEvent) string {
	verb := "dropped"
	if e.Direction == model.DirectionRise {
		verb = "rose"
	}
	return fmt.Sprintf("%s %s on %s: %s -> %s",
		e.ProductName, verb, e.Marketplace,
		formatPrice(e.OldPrice, e.Currency), formatPrice(e.NewPrice, e.Currency))
}

// formatPrice renders minor currency units as a decimal amount.
func formatPrice(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	if currency == "" {
		return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
