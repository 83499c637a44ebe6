package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/avalem/pricewatch/internal/domain/model"
)

// NewMemoryStores builds a full in-memory store bundle. Used for tests
// and for running without a configured Postgres DSN.
func NewMemoryStores() Stores {
	return Stores{
		Products:      &memoryProductStore{products: make(map[string]model.TrackedProduct)},
		Baselines:     &memoryBaselineStore{baselines: make(map[string]map[model.Marketplace]model.PriceBaseline)},
		Subscriptions: &memorySubscriptionStore{subs: make(map[string]map[string]model.Subscription)},
		Deliveries:    &memoryDeliveryStore{records: make(map[string]model.DeliveryRecord)},
		Cycles:        &memoryCycleStore{runs: make(map[string]model.CycleRun)},
	}
}

type memoryProductStore struct {
	mu       sync.RWMutex
	products map[string]model.TrackedProduct
}

func (s *memoryProductStore) List(ctx context.Context) ([]model.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TrackedProduct, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryProductStore) Get(ctx context.Context, id string) (model.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return model.TrackedProduct{}, ErrNotFound
	}
	return p, nil
}

func (s *memoryProductStore) Put(ctx context.Context, p model.TrackedProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[p.ID] = p
	return nil
}

func (s *memoryProductStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.products, id)
	return nil
}

type memoryBaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]map[model.Marketplace]model.PriceBaseline
}

func (s *memoryBaselineStore) GetByProduct(ctx context.Context, productID string) (map[model.Marketplace]model.PriceBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.Marketplace]model.PriceBaseline, len(s.baselines[productID]))
	for m, b := range s.baselines[productID] {
		out[m] = b
	}
	return out, nil
}

func (s *memoryBaselineStore) ReplaceForProduct(ctx context.Context, productID string, baselines []model.PriceBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMarketplace := s.baselines[productID]
	if byMarketplace == nil {
		byMarketplace = make(map[model.Marketplace]model.PriceBaseline, len(baselines))
		s.baselines[productID] = byMarketplace
	}
	for _, b := range baselines {
		byMarketplace[b.Marketplace] = b
	}
	return nil
}

func (s *memoryBaselineStore) DeleteForProduct(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.baselines, productID)
	return nil
}

type memorySubscriptionStore struct {
	mu sync.RWMutex
	// productID -> userID -> subscription
	subs map[string]map[string]model.Subscription
}

func (s *memorySubscriptionStore) ListByProduct(ctx context.Context, productID string) ([]model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Subscription, 0, len(s.subs[productID]))
	for _, sub := range s.subs[productID] {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memorySubscriptionStore) Put(ctx context.Context, sub model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := s.subs[sub.ProductID]
	if byUser == nil {
		byUser = make(map[string]model.Subscription)
		s.subs[sub.ProductID] = byUser
	}
	byUser[sub.UserID] = sub
	return nil
}

type memoryDeliveryStore struct {
	mu      sync.Mutex
	records map[string]model.DeliveryRecord
}

func (s *memoryDeliveryStore) Create(ctx context.Context, rec model.DeliveryRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.DeliveryKey(rec.EventKey, rec.SubscriberID)
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = rec
	return true, nil
}

func (s *memoryDeliveryStore) Update(ctx context.Context, rec model.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.DeliveryKey(rec.EventKey, rec.SubscriberID)
	if _, exists := s.records[key]; !exists {
		return ErrNotFound
	}
	s.records[key] = rec
	return nil
}

func (s *memoryDeliveryStore) Get(ctx context.Context, eventKey, subscriberID string) (model.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[model.DeliveryKey(eventKey, subscriberID)]
	if !ok {
		return model.DeliveryRecord{}, ErrNotFound
	}
	return rec, nil
}

type memoryCycleStore struct {
	mu   sync.Mutex
	runs map[string]model.CycleRun
	last string
}

func (s *memoryCycleStore) Put(ctx context.Context, run model.CycleRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.runs[s.last]; !ok || !run.StartedAt.Before(prev.StartedAt) {
		s.last = run.ID
	}
	s.runs[run.ID] = run
	return nil
}

func (s *memoryCycleStore) Last(ctx context.Context) (model.CycleRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[s.last]
	if !ok {
		return model.CycleRun{}, ErrNotFound
	}
	return run, nil
}
