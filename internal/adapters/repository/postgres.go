package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avalem/pricewatch/internal/domain/model"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// Migrate creates the pipeline tables if they do not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tracked_products (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    external_ids JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS price_baselines (
    product_id    TEXT NOT NULL,
    marketplace   TEXT NOT NULL,
    price         BIGINT NOT NULL,
    currency      TEXT NOT NULL DEFAULT '',
    observed_at   TIMESTAMPTZ NOT NULL,
    last_alert_at TIMESTAMPTZ,
    PRIMARY KEY (product_id, marketplace)
);

CREATE TABLE IF NOT EXISTS subscriptions (
    user_id       TEXT NOT NULL,
    product_id    TEXT NOT NULL,
    phone         TEXT NOT NULL,
    ceiling_price BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, product_id)
);

CREATE TABLE IF NOT EXISTS delivery_records (
    event_key     TEXT NOT NULL,
    subscriber_id TEXT NOT NULL,
    status        TEXT NOT NULL,
    attempts      INT NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (event_key, subscriber_id)
);

CREATE TABLE IF NOT EXISTS cycle_runs (
    id          TEXT PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    status      TEXT NOT NULL,
    counts      JSONB NOT NULL DEFAULT '{}'::jsonb
);`
	if _, err := p.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// NewPostgresStores builds the full store bundle over one pool.
func NewPostgresStores(pool *Pool) Stores {
	return Stores{
		Products:      &pgProductStore{pool: pool},
		Baselines:     &pgBaselineStore{pool: pool},
		Subscriptions: &pgSubscriptionStore{pool: pool},
		Deliveries:    &pgDeliveryStore{pool: pool},
		Cycles:        &pgCycleStore{pool: pool},
	}
}

type pgProductStore struct {
	pool *Pool
}

func (s *pgProductStore) List(ctx context.Context) ([]model.TrackedProduct, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, external_ids FROM tracked_products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []model.TrackedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgProductStore) Get(ctx context.Context, id string) (model.TrackedProduct, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, external_ids FROM tracked_products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TrackedProduct{}, ErrNotFound
	}
	return p, err
}

func (s *pgProductStore) Put(ctx context.Context, p model.TrackedProduct) error {
	ids, err := json.Marshal(p.ExternalIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracked_products (id, name, external_ids) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, external_ids = EXCLUDED.external_ids`,
		p.ID, p.Name, ids)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *pgProductStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tracked_products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func scanProduct(row pgx.Row) (model.TrackedProduct, error) {
	var p model.TrackedProduct
	var ids []byte
	if err := row.Scan(&p.ID, &p.Name, &ids); err != nil {
		return model.TrackedProduct{}, err
	}
	if err := json.Unmarshal(ids, &p.ExternalIDs); err != nil {
		return model.TrackedProduct{}, err
	}
	return p, nil
}

type pgBaselineStore struct {
	pool *Pool
}

func (s *pgBaselineStore) GetByProduct(ctx context.Context, productID string) (map[model.Marketplace]model.PriceBaseline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, marketplace, price, currency, observed_at, COALESCE(last_alert_at, 'epoch'::timestamptz)
		FROM price_baselines WHERE product_id = $1`, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make(map[model.Marketplace]model.PriceBaseline)
	for rows.Next() {
		var b model.PriceBaseline
		if err := rows.Scan(&b.ProductID, &b.Marketplace, &b.Price, &b.Currency, &b.ObservedAt, &b.LastAlertAt); err != nil {
			return nil, err
		}
		out[b.Marketplace] = b
	}
	return out, rows.Err()
}

// ReplaceForProduct upserts all baselines for one product inside a single
// transaction, so an aborted cycle never leaves a product half-updated.
func (s *pgBaselineStore) ReplaceForProduct(ctx context.Context, productID string, baselines []model.PriceBaseline) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, b := range baselines {
		_, err := tx.Exec(ctx, `
			INSERT INTO price_baselines (product_id, marketplace, price, currency, observed_at, last_alert_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, 'epoch'::timestamptz))
			ON CONFLICT (product_id, marketplace) DO UPDATE SET
				price = EXCLUDED.price,
				currency = EXCLUDED.currency,
				observed_at = EXCLUDED.observed_at,
				last_alert_at = EXCLUDED.last_alert_at`,
			productID, b.Marketplace, b.Price, b.Currency, b.ObservedAt, b.LastAlertAt)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *pgBaselineStore) DeleteForProduct(ctx context.Context, productID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM price_baselines WHERE product_id = $1`, productID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type pgSubscriptionStore struct {
	pool *Pool
}

func (s *pgSubscriptionStore) ListByProduct(ctx context.Context, productID string) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, product_id, phone, ceiling_price
		FROM subscriptions WHERE product_id = $1 ORDER BY user_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.UserID, &sub.ProductID, &sub.Phone, &sub.CeilingPrice); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *pgSubscriptionStore) Put(ctx context.Context, sub model.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (user_id, product_id, phone, ceiling_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			phone = EXCLUDED.phone, ceiling_price = EXCLUDED.ceiling_price`,
		sub.UserID, sub.ProductID, sub.Phone, sub.CeilingPrice)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type pgDeliveryStore struct {
	pool *Pool
}

func (s *pgDeliveryStore) Create(ctx context.Context, rec model.DeliveryRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_records (event_key, subscriber_id, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_key, subscriber_id) DO NOTHING`,
		rec.EventKey, rec.SubscriberID, rec.Status, rec.Attempts, rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgDeliveryStore) Update(ctx context.Context, rec model.DeliveryRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_records SET status = $3, attempts = $4
		WHERE event_key = $1 AND subscriber_id = $2`,
		rec.EventKey, rec.SubscriberID, rec.Status, rec.Attempts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgDeliveryStore) Get(ctx context.Context, eventKey, subscriberID string) (model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := s.pool.QueryRow(ctx, `
		SELECT event_key, subscriber_id, status, attempts, created_at
		FROM delivery_records WHERE event_key = $1 AND subscriber_id = $2`,
		eventKey, subscriberID).
		Scan(&rec.EventKey, &rec.SubscriberID, &rec.Status, &rec.Attempts, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DeliveryRecord{}, ErrNotFound
	}
	if err != nil {
		return model.DeliveryRecord{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, nil
}

type pgCycleStore struct {
	pool *Pool
}

func (s *pgCycleStore) Put(ctx context.Context, run model.CycleRun) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cycle_runs (id, started_at, finished_at, status, counts)
		VALUES ($1, $2, NULLIF($3, 'epoch'::timestamptz), $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			counts = EXCLUDED.counts`,
		run.ID, run.StartedAt, run.FinishedAt, run.Status, counts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *pgCycleStore) Last(ctx context.Context) (model.CycleRun, error) {
	var run model.CycleRun
	var counts []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, started_at, COALESCE(finished_at, 'epoch'::timestamptz), status, counts
		FROM cycle_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &counts)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CycleRun{}, ErrNotFound
	}
	if err != nil {
		return model.CycleRun{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(counts, &run.Counts); err != nil {
		return model.CycleRun{}, err
	}
	return run, nil
}
