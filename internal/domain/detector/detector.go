// Package detector classifies fresh offer snapshots against stored
// price baselines and decides which changes are alert-worthy.
package detector

import (
	"time"

	"github.com/avalem/pricewatch/internal/domain/model"
	"github.com/avalem/pricewatch/pkg/metrics"
)

// Default detection configuration constants.
const (
	defaultChangeThreshold = 0.10
)

// Detector evaluates snapshots for one product per cycle. It is
// marketplace-agnostic; normalization quirks stay in the adapters.
type Detector struct {
	threshold float64
	now       func() time.Time
}

// New creates a Detector with configuration options.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold: defaultChangeThreshold,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Result carries the outcome of one evaluation: the alert-worthy events
// and the replacement baselines for every successful snapshot. Baselines
// track latest truth, not latest alert, so they are replaced whether or
// not an event was raised.
type Result struct {
	Events    []model.PriceEvent
	Baselines []model.PriceBaseline
}

// Evaluate compares fresh snapshots against the per-marketplace baselines
// for a single product.
//
// Rules:
//   - failed snapshots neither update the baseline nor raise events;
//   - a first observation (no baseline, or a non-positive baseline price)
//     establishes the baseline silently;
//   - |delta|/baseline >= threshold raises one event per qualifying
//     marketplace; events are independent across marketplaces.
func (d *Detector) Evaluate(product model.TrackedProduct, baselines map[model.Marketplace]model.PriceBaseline, snapshots []model.OfferSnapshot) Result {
	var res Result
	for _, snap := range snapshots {
		if !snap.OK() {
			continue
		}

		replacement := model.PriceBaseline{
			ProductID:   product.ID,
			Marketplace: snap.Marketplace,
			Price:       snap.Price,
			Currency:    snap.Currency,
			ObservedAt:  snap.FetchedAt,
		}

		base, ok := baselines[snap.Marketplace]
		if !ok || base.Price <= 0 {
			// First observation establishes the baseline silently.
			res.Baselines = append(res.Baselines, replacement)
			continue
		}
		replacement.LastAlertAt = base.LastAlertAt

		delta := snap.Price - base.Price
		if delta != 0 && float64(abs(delta))/float64(base.Price) >= d.threshold {
			direction := model.DirectionDrop
			if delta > 0 {
				direction = model.DirectionRise
			}
			event := model.PriceEvent{
				ProductID:   product.ID,
				ProductName: product.Name,
				Marketplace: snap.Marketplace,
				OldPrice:    base.Price,
				NewPrice:    snap.Price,
				Currency:    snap.Currency,
				Direction:   direction,
				DetectedAt:  d.now(),
			}
			res.Events = append(res.Events, event)
			replacement.LastAlertAt = event.DetectedAt
			metrics.RecordPriceEvent(string(direction))
		}

		res.Baselines = append(res.Baselines, replacement)
	}
	return res
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
