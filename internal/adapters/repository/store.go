// Package repository defines the persistence interfaces for the
// monitoring pipeline and its errors.
//
// All stores support per-key atomic read-modify-write; baseline writes
// are all-or-nothing per product so an aborted cycle never leaves a
// product half-updated.
package repository

import (
	"context"

	"github.com/avalem/pricewatch/internal/domain/model"
)

// ProductStore holds the catalog of tracked products.
type ProductStore interface {
	// List returns every tracked product.
	List(ctx context.Context) ([]model.TrackedProduct, error)

	// Get returns one product. Returns ErrNotFound if unknown.
	Get(ctx context.Context, id string) (model.TrackedProduct, error)

	// Put creates or replaces a product.
	Put(ctx context.Context, p model.TrackedProduct) error

	// Delete removes a product from monitoring.
	Delete(ctx context.Context, id string) error
}

// BaselineStore holds the last observed price per (product, marketplace).
type BaselineStore interface {
	// GetByProduct returns the baselines for one product keyed by marketplace.
	GetByProduct(ctx context.Context, productID string) (map[model.Marketplace]model.PriceBaseline, error)

	// ReplaceForProduct atomically replaces the given baselines for one
	// product. Marketplaces not listed keep their existing baseline.
	ReplaceForProduct(ctx context.Context, productID string, baselines []model.PriceBaseline) error

	// DeleteForProduct discards all monitoring state for a product.
	DeleteForProduct(ctx context.Context, productID string) error
}

// SubscriptionStore holds user subscriptions. Read-only for the
// pipeline; writes come from the account subsystem.
type SubscriptionStore interface {
	// ListByProduct returns every subscription for a product.
	ListByProduct(ctx context.Context, productID string) ([]model.Subscription, error)

	// Put creates or replaces a subscription. Unique per (user, product).
	Put(ctx context.Context, s model.Subscription) error
}

// DeliveryStore holds the durable idempotency markers for notifications.
type DeliveryStore interface {
	// Create inserts the record if no record exists for its
	// (event key, subscriber) pair. Returns false when one already did.
	Create(ctx context.Context, rec model.DeliveryRecord) (bool, error)

	// Update replaces the record's status and attempt count.
	Update(ctx context.Context, rec model.DeliveryRecord) error

	// Get returns one record. Returns ErrNotFound if absent.
	Get(ctx context.Context, eventKey, subscriberID string) (model.DeliveryRecord, error)
}

// CycleStore holds monitoring cycle runs for observability and restart
// inspection.
type CycleStore interface {
	// Put creates or replaces a cycle run.
	Put(ctx context.Context, run model.CycleRun) error

	// Last returns the most recently started run.
	// Returns ErrNotFound when no cycle has ever run.
	Last(ctx context.Context) (model.CycleRun, error)
}

// Stores bundles every store the pipeline consumes.
type Stores struct {
	Products      ProductStore
	Baselines     BaselineStore
	Subscriptions SubscriptionStore
	Deliveries    DeliveryStore
	Cycles        CycleStore
}
