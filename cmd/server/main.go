package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kabumarket/kabu-market-backend/internal/adapter/httpapi"
	"github.com/kabumarket/kabu-market-backend/internal/adapter/repository/postgres"
	"github.com/kabumarket/kabu-market-backend/internal/config"
	"github.com/kabumarket/kabu-market-backend/internal/notify"
	"github.com/kabumarket/kabu-market-backend/internal/observability"
	"github.com/kabumarket/kabu-market-backend/internal/reaper"
	"github.com/kabumarket/kabu-market-backend/internal/usecase/market"
	"github.com/kabumarket/kabu-market-backend/internal/usecase/pricing"
)

func main() {
	configPath := flag.String("config", "kabu.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := observability.NewLogger("main")
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := observability.NewLoggerWithLevel("main", observability.ParseLogLevel(cfg.LogLevel))
	log.Info().Str("listen", cfg.ListenAddress).Msg("kabu market backend starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Postgres ---
	db, err := postgres.NewDB(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer db.Close()
	log.Info().Msg("postgres connected")

	migrator := postgres.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrator", observability.ParseLogLevel(cfg.LogLevel)))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// --- Repositories ---
	priceRepo := postgres.NewPriceRepository(db)
	batchRepo := postgres.NewBatchRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	reaperRepo := postgres.NewReaperRepository(db)

	// --- Services ---
	oracle := pricing.NewService(priceRepo, metrics)
	engine := market.NewService(oracle, batchRepo, ledgerRepo, market.Config{
		ExpireDays:   cfg.Market.ExpireDays,
		ServiceFee:   cfg.ServiceFeeDecimal(),
		MaxBuyPerDay: cfg.Market.MaxBuyPerDay,
	}, metrics)

	// --- Rot notifications ---
	var publisher notify.Publisher = notify.NoopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, err := notify.NewNATSPublisher(cfg.NATSURL,
			metrics, observability.NewLoggerWithLevel("notify", observability.ParseLogLevel(cfg.LogLevel)))
		if err != nil {
			log.Fatal().Err(err).Msg("connect to NATS")
		}
		publisher = natsPublisher
		log.Info().Str("url", cfg.NATSURL).Msg("NATS connected")
	} else {
		log.Info().Msg("no NATS URL configured, rot notifications disabled")
	}
	defer publisher.Close()

	// --- Expiry reaper ---
	sweep := reaper.New(reaperRepo, publisher, cfg.ReaperInterval,
		metrics, observability.NewLoggerWithLevel("reaper", observability.ParseLogLevel(cfg.LogLevel)))
	go sweep.Run(ctx)

	// --- Metrics endpoint ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddress).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	// --- API server ---
	api := httpapi.NewServer(engine, observability.NewLoggerWithLevel("httpapi", observability.ParseLogLevel(cfg.LogLevel)))
	apiServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Router(cfg.APIToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddress).Msg("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// --- Graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown")
	}

	log.Info().Msg("stopped")
}
