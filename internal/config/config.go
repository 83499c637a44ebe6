// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New() initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ChangeThreshold is the minimum |delta|/baseline ratio that makes a
	// price change alert-worthy, e.g. 0.10 for 10%.
	ChangeThreshold float64 `koanf:"change_threshold"`

	// NotifyOnRise also dispatches notifications for price rises.
	// By default only drops notify subscribers.
	NotifyOnRise bool `koanf:"notify_on_rise"`

	// FetchTimeoutMS bounds every single marketplace fetch.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// CycleBudgetMS is the wall-clock budget for one monitoring cycle.
	// Discovery past the budget is abandoned; detected events still dispatch.
	CycleBudgetMS int `koanf:"cycle_budget_ms"`

	// WorkerCount sets the number of fetch workers per cycle.
	WorkerCount int `koanf:"worker_count"`

	// EventQueueSize bounds the in-memory price event queue.
	EventQueueSize int `koanf:"queue_size"`

	// DedupeSize sets the size of the delivery-key dedupe cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxSendAttempts caps delivery attempts per (event, subscriber).
	MaxSendAttempts int `koanf:"max_send_attempts"`

	// SendBackoffInitialMS and SendBackoffMaxMS bound the exponential
	// backoff between delivery attempts.
	SendBackoffInitialMS int `koanf:"send_backoff_initial_ms"`
	SendBackoffMaxMS     int `koanf:"send_backoff_max_ms"`

	// SendRatePerMinute caps outbound sends so one cycle's burst cannot
	// trip the gateway's own throttling.
	SendRatePerMinute int `koanf:"send_rate_per_minute"`

	// WhatsAppGatewayURL is the base URL of the local WhatsApp gateway.
	WhatsAppGatewayURL string `koanf:"whatsapp_gateway_url"`

	// AmazonBaseURL and ShopeeBaseURL point at the marketplace APIs.
	// An empty value disables that marketplace adapter.
	AmazonBaseURL string `koanf:"amazon_base_url"`
	ShopeeBaseURL string `koanf:"shopee_base_url"`

	// UseMockMarketplaces swaps real adapters for the deterministic
	// offline mock. Useful for demos and local runs.
	UseMockMarketplaces bool `koanf:"use_mock_marketplaces"`

	// PostgresDSN selects the durable store. Empty runs fully in-memory.
	PostgresDSN string `koanf:"postgres_dsn"`
}

// New creates a Config populated with defaults.
func New() *Config {
	c := &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		ChangeThreshold:      0.10,
		NotifyOnRise:         false,
		FetchTimeoutMS:       8_000,
		CycleBudgetMS:        120_000,
		WorkerCount:          runtime.NumCPU() * 2,
		EventQueueSize:       1_024,
		DedupeSize:           50_000,
		MaxSendAttempts:      3,
		SendBackoffInitialMS: 500,
		SendBackoffMaxMS:     10_000,
		SendRatePerMinute:    30,
		WhatsAppGatewayURL:   "http://127.0.0.1:21465",
		UseMockMarketplaces:  false,
	}
	return c
}
