// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Marketplace identifies an upstream offer source.
type Marketplace string

// Known marketplaces.
const (
	MarketplaceAmazon Marketplace = "amazon"
	MarketplaceShopee Marketplace = "shopee"
)

// TrackedProduct is a catalog item under active price surveillance.
type TrackedProduct struct {
	ID   string
	Name string
	// ExternalIDs maps a marketplace to the product id used on that
	// marketplace. A product without an entry is not linked there.
	ExternalIDs map[Marketplace]string
}

// ExternalID returns the marketplace-specific id and whether the product
// is linked to that marketplace.
func (p TrackedProduct) ExternalID(m Marketplace) (string, bool) {
	id, ok := p.ExternalIDs[m]
	return id, ok && id != ""
}

// Offer is a single marketplace offer as returned by search or fetch.
type Offer struct {
	ExternalID string
	Price      int64 // minor currency units
	Currency   string
	Available  bool
}

// OfferSnapshot is the result of one adapter fetch for a tracked product.
// A failed fetch carries its error in Err rather than aborting the caller.
// Snapshots are ephemeral; they live inside a single cycle.
type OfferSnapshot struct {
	Marketplace Marketplace
	ExternalID  string
	Price       int64 // minor currency units
	Currency    string
	Available   bool
	FetchedAt   time.Time
	Err         error
}

// OK reports whether the snapshot carries a usable observation.
func (s OfferSnapshot) OK() bool {
	return s.Err == nil
}

// PriceBaseline is the last price observed per (product, marketplace).
// It is replaced only by successful fetches, never by failed ones.
type PriceBaseline struct {
	ProductID   string
	Marketplace Marketplace
	Price       int64
	Currency    string
	ObservedAt  time.Time
	LastAlertAt time.Time
}

// Direction classifies a price change.
type Direction string

// Price change directions.
const (
	DirectionDrop Direction = "drop"
	DirectionRise Direction = "rise"
)

// PriceEvent is emitted when a fresh price differs from the baseline
// beyond the configured threshold.
type PriceEvent struct {
	ProductID   string
	ProductName string
	Marketplace Marketplace
	OldPrice    int64
	NewPrice    int64
	Currency    string
	Direction   Direction
	DetectedAt  time.Time
}

// Key returns the stable composite identity of the event. Events are
// ephemeral per cycle, so delivery idempotency keys off this value
// rather than object identity.
func (e PriceEvent) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", e.ProductID, e.Marketplace, e.OldPrice, e.NewPrice, e.Direction)
}

// Subscription is a user's interest in a tracked product. Unique per
// (user, product); read-only from the pipeline's perspective.
type Subscription struct {
	UserID    string
	ProductID string
	// Phone is the WhatsApp recipient identifier.
	Phone string
	// CeilingPrice caps the price the subscriber wants to hear about.
	// Zero means no ceiling.
	CeilingPrice int64
}

// DeliveryStatus tracks the lifecycle of one (event, subscriber) delivery.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryAttempted DeliveryStatus = "attempted"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryRecord is the durable marker preventing duplicate notification
// for the same (event, subscriber) pair. Written before the first send
// attempt; never deleted by the pipeline.
type DeliveryRecord struct {
	EventKey     string
	SubscriberID string
	Status       DeliveryStatus
	Attempts     int
	CreatedAt    time.Time
}

// DeliveryKey builds the composite idempotency key for a delivery.
func DeliveryKey(eventKey, subscriberID string) string {
	return eventKey + "|" + subscriberID
}

// CycleStatus is the state of one monitoring cycle.
type CycleStatus string

// Cycle statuses. Terminal statuses release the single-cycle guard.
const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleTimedOut  CycleStatus = "timed_out"
	CycleAborted   CycleStatus = "aborted"
)

// CycleCounts aggregates per-cycle observability counters.
type CycleCounts struct {
	ProductsChecked   int `json:"products_checked"`
	FetchFailures     int `json:"fetch_failures"`
	EventsRaised      int `json:"events_raised"`
	NotificationsSent int `json:"notifications_sent"`
	DeliveryFailures  int `json:"delivery_failures"`
}

// CycleRun is one execution of the monitoring orchestrator.
type CycleRun struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
	Status     CycleStatus `json:"status"`
	Counts     CycleCounts `json:"counts"`
}
