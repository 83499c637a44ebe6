package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/avalem/pricewatch/internal/adapters/http/api"
	"github.com/avalem/pricewatch/internal/adapters/marketplace"
	"github.com/avalem/pricewatch/internal/adapters/notify"
	"github.com/avalem/pricewatch/internal/adapters/repository"
	service "github.com/avalem/pricewatch/internal/app"
	"github.com/avalem/pricewatch/internal/config"
	"github.com/avalem/pricewatch/internal/domain/model"
	"github.com/avalem/pricewatch/pkg/logger"
	"github.com/avalem/pricewatch/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize logging
	if err := logger.Init(); err != nil {
		// Logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Persistence: Postgres when a DSN is configured, in-memory otherwise.
	stores := repository.NewMemoryStores()
	if cfg.PostgresDSN != "" {
		pool, err := repository.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			os.Stderr.WriteString("failed to connect to postgres: " + err.Error() + "\n")
			return
		}
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			os.Stderr.WriteString("failed to run migrations: " + err.Error() + "\n")
			return
		}
		stores = repository.NewPostgresStores(pool)
		loggerInstance.Info(ctx, "using postgres stores")
	}

	fleet := buildFleet(cfg, loggerInstance)

	channel := notify.NewWhatsAppClient(cfg.WhatsAppGatewayURL,
		notify.WithSendRate(cfg.SendRatePerMinute),
	)

	// Create and start the service with configuration options
	svc := service.New(
		service.WithLogger(loggerInstance),
		service.WithStores(stores),
		service.WithFetcher(fleet),
		service.WithChannel(channel),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.EventQueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithChangeThreshold(cfg.ChangeThreshold),
		service.WithNotifyOnRise(cfg.NotifyOnRise),
		service.WithCycleBudget(time.Duration(cfg.CycleBudgetMS)*time.Millisecond),
		service.WithSendRetry(cfg.MaxSendAttempts,
			time.Duration(cfg.SendBackoffInitialMS)*time.Millisecond,
			time.Duration(cfg.SendBackoffMaxMS)*time.Millisecond),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	// Register business API routes with the service dependency.
	apiServer := api.NewServer(svc, svc)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// buildFleet assembles the marketplace adapters. Mock adapters replace
// the real ones when use_mock_marketplaces is set, or when a
// marketplace has no configured base URL.
func buildFleet(cfg *config.Config, loggerInstance logger.Logger) *marketplace.Fleet {
	opts := []marketplace.Option{
		marketplace.WithFetchTimeout(time.Duration(cfg.FetchTimeoutMS) * time.Millisecond),
		marketplace.WithLogger(loggerInstance.Named("marketplace")),
	}

	if cfg.UseMockMarketplaces {
		opts = append(opts,
			marketplace.WithAdapter(marketplace.NewMockAdapter(model.MarketplaceAmazon)),
			marketplace.WithAdapter(marketplace.NewMockAdapter(model.MarketplaceShopee)),
		)
		return marketplace.NewFleet(opts...)
	}

	if cfg.AmazonBaseURL != "" {
		opts = append(opts, marketplace.WithAdapter(marketplace.NewAmazonAdapter(cfg.AmazonBaseURL)))
	} else {
		opts = append(opts, marketplace.WithAdapter(marketplace.NewMockAdapter(model.MarketplaceAmazon)))
	}
	if cfg.ShopeeBaseURL != "" {
		opts = append(opts, marketplace.WithAdapter(marketplace.NewShopeeAdapter(cfg.ShopeeBaseURL)))
	} else {
		opts = append(opts, marketplace.WithAdapter(marketplace.NewMockAdapter(model.MarketplaceShopee)))
	}
	return marketplace.NewFleet(opts...)
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
