package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RaffleCore/internal/config"
	"RaffleCore/internal/engine"
	"RaffleCore/internal/ingestion"
	"RaffleCore/internal/notify"
	"RaffleCore/internal/observability"
	"RaffleCore/internal/query"
	"RaffleCore/internal/scheduler"
	"RaffleCore/internal/server"
	"RaffleCore/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	log := observability.NewLogger("rafflecore")
	log.Info().Msg("RaffleCore starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := store.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect")
	}
	defer db.Close()
	log.Info().Msg("postgres connected")

	// --- Run SQL migrations ---
	migrator := store.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Redis transaction cache (optional) ---
	var txnCache *store.TxnCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, transaction cache disabled")
		} else {
			txnCache = store.NewTxnCache(rdb, cfg.TxnCacheTTL)
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis transaction cache enabled")
		}
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure payment stream")
	}
	if err := notify.EnsureNotifyStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure notify stream")
	}

	// --- Core wiring ---
	pg := store.NewPostgres(db)

	sched := scheduler.New(
		scheduler.NewPostgresScheduleStore(db),
		scheduler.NewRealClock(),
		cfg.SweepSpec,
		metrics,
		observability.NewLogger("scheduler"),
	)

	notifyCh := make(chan notify.Event, cfg.NotifyChanSize)
	eng := engine.New(pg, sched, txnCache, notifyCh, metrics, observability.NewLogger("engine"))

	// Reload durable deadlines before accepting traffic; deadlines that
	// passed while the service was down fire here.
	if err := sched.Start(ctx, eng.DeadlineFire); err != nil {
		log.Fatal().Err(err).Msg("scheduler start")
	}
	defer sched.Stop()

	// --- Payment event ingestion ---
	rawEventChan := make(chan ingestion.RawEvent, cfg.EventChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("ingestion"))
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}
	processor := ingestion.NewProcessor(rawEventChan, eng, observability.NewLogger("processor"))

	// --- Notifications ---
	notifyWorker := notify.NewWorker(notifyCh, notify.NewNATSSink(js), observability.NewLogger("notify"))

	// --- API ---
	queryService := query.NewService(pg, metrics)
	apiServer := server.New(eng, queryService, healthChecker, observability.NewLogger("http"))

	// --- Start goroutines ---
	errChan := make(chan error, 4)

	go func() {
		errChan <- processor.Run(ctx)
	}()
	go func() {
		errChan <- notifyWorker.Run(ctx)
	}()
	go func() {
		errChan <- apiServer.ListenAndServe(cfg.HTTPAddr)
	}()
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("RaffleCore ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()
	natsSubscriber.Stop()
	sched.Stop()

	log.Info().Msg("RaffleCore shutdown complete")
}
