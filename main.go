package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/BrianElionDev/BuyBot/config"
	"github.com/BrianElionDev/BuyBot/internal/adapters/binanceclient"
	"github.com/BrianElionDev/BuyBot/internal/adapters/kucoinclient"
	"github.com/BrianElionDev/BuyBot/internal/adapters/logger"
	"github.com/BrianElionDev/BuyBot/internal/adapters/sqlite"
	"github.com/BrianElionDev/BuyBot/internal/api"
	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/engine"
	"github.com/BrianElionDev/BuyBot/internal/fees"
	"github.com/BrianElionDev/BuyBot/internal/ingestor"
	"github.com/BrianElionDev/BuyBot/internal/metrics"
	"github.com/BrianElionDev/BuyBot/internal/ports"
	"github.com/BrianElionDev/BuyBot/internal/pricing"
	routerpkg "github.com/BrianElionDev/BuyBot/internal/signal"
	"github.com/BrianElionDev/BuyBot/internal/syncer"
)

// Exit codes: 0 normal, 1 fatal config/credential error, 2 unrecoverable
// persistence error.
const (
	exitOK          = 0
	exitConfigError = 1
	exitStoreError  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("FATAL: Failed to load configuration: %v", err)
		return exitConfigError
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Printf("FATAL: Failed to initialize logger: %v", err)
		return exitConfigError
	}
	defer appLogger.Sync()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		return exitStoreError
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Clients
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:         cfg.BinanceAPIKey,
		SecretKey:      cfg.BinanceSecretKey,
		UseTestnet:     cfg.IsTestnet,
		Logger:         appLogger,
		RequestTimeout: cfg.RequestTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		FilterCacheTTL: cfg.FilterCacheTTL,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		return exitConfigError
	}

	exchanges := []ports.ExchangeClient{binanceClient}
	if cfg.KuCoinAPIKey != "" {
		kucoinClient, err := kucoinclient.New(kucoinclient.Config{
			APIKey:         cfg.KuCoinAPIKey,
			SecretKey:      cfg.KuCoinSecretKey,
			Passphrase:     cfg.KuCoinPassphrase,
			Logger:         appLogger,
			RequestTimeout: cfg.RequestTimeout,
			FilterCacheTTL: cfg.FilterCacheTTL,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize KuCoin client")
			return exitConfigError
		}
		exchanges = append(exchanges, kucoinClient)
	}

	// 5. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	engineMetrics := metrics.New(registry)

	// 6. Fee calculator, selected explicitly by configuration.
	feeMode := fees.ModeTiered
	feeOpts := []fees.Option{fees.WithBNBDiscount(cfg.UseBNBDiscount)}
	if cfg.UseFixedFeeCalculator {
		feeMode = fees.ModeFixed
		feeOpts = append(feeOpts, fees.WithFixedRate(decimal.NewFromFloat(cfg.FixedFeeRate)))
	}
	feeCalc := fees.New(feeMode, feeOpts...)

	// 7. Trade coordinator over the primary venue.
	priceSvc := pricing.New(binanceClient, appLogger, 0)
	posmgr := engine.NewPositionManager(repo, appLogger, cfg.TradeCooldown, cfg.PositionCooldown, cfg.MaxPositionTrades)
	coordinator, err := engine.NewCoordinator(cfg, appLogger, binanceClient, repo, repo, priceSvc, feeCalc, posmgr, engineMetrics)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trade coordinator")
		return exitConfigError
	}
	defer coordinator.Close()

	// 8. Signal router.
	sigRouter := routerpkg.NewRouter(repo, repo, coordinator, coordinator, appLogger)

	// 9. Periodic synchronizer loops over every configured venue.
	var loops []*syncer.Loop
	statusSyncs := make(map[domain.Platform]*syncer.StatusSync, len(exchanges))
	for _, ex := range exchanges {
		platform := string(ex.Platform())
		statusSync := syncer.NewStatusSync(appLogger, ex, repo)
		statusSyncs[ex.Platform()] = statusSync
		loops = append(loops,
			&syncer.Loop{Name: "status_sync_" + platform, Interval: cfg.StatusSyncInterval, Run: statusSync.Run},
			&syncer.Loop{Name: "pnl_backfill_" + platform, Interval: cfg.PnlBackfillInterval, Run: syncer.NewPnlBackfill(appLogger, ex, repo, repo).Run},
			&syncer.Loop{Name: "orphan_cleanup_" + platform, Interval: cfg.OrphanCleanupInterval, Run: syncer.NewOrphanCleanup(appLogger, ex, repo).Run},
			&syncer.Loop{Name: "balance_sync_" + platform, Interval: cfg.BalanceSyncInterval, Run: syncer.NewBalanceSync(appLogger, ex, repo).Run},
			&syncer.Loop{Name: "position_audit_" + platform, Interval: cfg.PositionAuditInterval, Run: syncer.NewPositionAudit(appLogger, ex, repo).Run},
		)
	}
	scheduler := syncer.NewScheduler(appLogger, engineMetrics, loops...)

	// 10. Event ingestors, one stream per venue; reconnects trigger a
	// status-sync snapshot instead of replaying events.
	ingestors := make(map[domain.Platform]*ingestor.Ingestor, len(exchanges))
	for _, ex := range exchanges {
		statusSync := statusSyncs[ex.Platform()]
		ingestors[ex.Platform()] = ingestor.New(ingestor.Config{
			ListenKeyRefresh:     cfg.ListenKeyRefresh,
			ConnectionMaxAge:     cfg.ConnectionMaxAge,
			PingInterval:         cfg.PingInterval,
			PongTimeout:          cfg.PongTimeout,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		}, appLogger, ex, repo, engineMetrics, statusSync.Run)
	}

	// 11. HTTP ingress.
	server := api.NewServer(api.Config{
		ListenAddr: cfg.ListenAddr,
		Logger:     appLogger,
		Router:     sigRouter,
		Ingestors:  ingestors,
		Scheduler:  scheduler,
		Registry:   registry,
	})

	// 12. Run everything until shutdown.
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	for platform, ing := range ingestors {
		wg.Add(1)
		go func(platform domain.Platform, ing *ingestor.Ingestor) {
			defer wg.Done()
			if err := ing.Run(ctx); err != nil && ctx.Err() == nil {
				appLogger.Error(ctx, err, "User-data stream terminated", map[string]interface{}{"platform": platform})
			}
		}(platform, ing)
	}

	if err := binanceClient.SetServerTime(ctx); err != nil {
		appLogger.Warn(ctx, "Server time sync failed", map[string]interface{}{"error": err.Error()})
	}

	serveErr := server.Start(ctx)
	cancel()
	wg.Wait()

	if serveErr != nil {
		appLogger.Error(context.Background(), serveErr, "HTTP server exited with error")
		return exitConfigError
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
	return exitOK
}
