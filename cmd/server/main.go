package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kennelbook/internal/api"
	"kennelbook/internal/availability"
	"kennelbook/internal/booking"
	"kennelbook/internal/cache"
	"kennelbook/internal/config"
	"kennelbook/internal/database"
	"kennelbook/internal/dispatch"
	"kennelbook/internal/events"
	"kennelbook/internal/interval"
	"kennelbook/internal/metrics"
	"kennelbook/internal/report"
	"kennelbook/internal/sweeper"
	"kennelbook/internal/waitlist"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("KENNELBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.New(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	idx := interval.NewIndex()
	bus := events.NewBus()

	rules := booking.Rules{
		MinAdvance:            cfg.BookingMinAdvance(),
		MaxAdvance:            cfg.BookingMaxAdvance(),
		MaxActivePerRequester: cfg.Booking.MaxActivePerRequester,
		HoldTTL:               cfg.BookingHoldTTL(),
	}
	coord := booking.New(db, idx, bus, rules, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.RebuildIndex(ctx); err != nil {
		logger.Fatal().Err(err).Msg("rebuild index error")
	}

	engine := availability.NewEngine(idx, db)
	queue := waitlist.New(db, nil, cfg.EntryTTL(), &logger)

	disp := dispatch.New(queue, engine, db, coord, dispatch.NewLogNotifier(&logger), dispatch.Config{
		FanOut:            cfg.Waitlist.FanOut,
		OfferTTL:          cfg.OfferTTL(),
		NotifyConcurrency: cfg.Waitlist.NotifyConcurrency,
		NotifyPerSecond:   cfg.Waitlist.NotifyPerSecond,
	}, &logger)
	disp.Bind(bus)

	var rdb *redis.Client
	var availCache *cache.AvailabilityCache
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		availCache = cache.New(rdb, cfg.RedisCacheTTL(), &logger)
		availCache.Bind(bus)
	}

	sw := sweeper.New(db, coord, queue, disp, nil, idx, cfg.SweepInterval(), &logger)
	sw.Start(ctx)
	defer sw.Stop()

	exporter := report.NewExporter(db, &logger)
	httpServer := api.NewHTTPServer(coord, engine, queue, disp, exporter, db, bus, availCache, cfg.Server.APIKey, &logger)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpServer.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("booking engine started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("http server error")
	}

	disp.Wait()
	logger.Info().Msg("booking engine stopped")
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
