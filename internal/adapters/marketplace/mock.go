package marketplace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avalem/pricewatch/internal/domain/model"
)

// MockAdapter produces synthetic offers for demos and local runs.
// It is deterministic per external id and makes no network calls.
type MockAdapter struct {
	marketplace model.Marketplace
	seed        uint64
	latency     time.Duration
}

// MockOption applies a configuration option to the MockAdapter.
type MockOption func(*MockAdapter)

// WithMockSeed perturbs the generated prices.
func WithMockSeed(seed uint64) MockOption {
	return func(m *MockAdapter) {
		m.seed = seed
	}
}

// WithMockLatency adds a synthetic delay to every call so timeout and
// cancellation paths can be exercised without a network.
func WithMockLatency(d time.Duration) MockOption {
	return func(m *MockAdapter) {
		if d > 0 {
			m.latency = d
		}
	}
}

// NewMockAdapter creates a mock adapter posing as the given marketplace.
func NewMockAdapter(marketplace model.Marketplace, opts ...MockOption) *MockAdapter {
	m := &MockAdapter{
		marketplace: marketplace,
		latency:     5 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Marketplace identifies the marketplace this mock poses as.
func (m *MockAdapter) Marketplace() model.Marketplace {
	return m.marketplace
}

// FetchOffer synthesizes a deterministic offer for externalID.
func (m *MockAdapter) FetchOffer(ctx context.Context, externalID string) (model.Offer, error) {
	if strings.TrimSpace(externalID) == "" {
		return model.Offer{}, fmt.Errorf("%w: empty external id", ErrMalformed)
	}

	select {
	case <-time.After(m.latency):
	case <-ctx.Done():
		return model.Offer{}, ctx.Err()
	}

	h := fnv64(string(m.marketplace)+"|"+externalID) ^ m.seed
	return model.Offer{
		ExternalID: externalID,
		Price:      1_000 + int64(h%20_000), // 10.00 .. 209.99 in minor units
		Currency:   "USD",
		Available:  h%7 != 0,
	}, nil
}

// SearchOffers synthesizes a small page of deterministic offers.
func (m *MockAdapter) SearchOffers(ctx context.Context, keyword string) ([]model.Offer, error) {
	q := strings.TrimSpace(keyword)
	if q == "" {
		q = "example"
	}

	const n = 10
	offers := make([]model.Offer, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%02d", q, i+1)
		offer, err := m.FetchOffer(ctx, id)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// fnv64 returns a simple 64-bit hash for deterministic mock data.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
