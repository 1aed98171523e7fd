package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mealbridge/notification/internal/admission"
	"github.com/mealbridge/notification/internal/catalog"
	"github.com/mealbridge/notification/internal/cleanup"
	"github.com/mealbridge/notification/internal/config"
	"github.com/mealbridge/notification/internal/dispatch"
	"github.com/mealbridge/notification/internal/infrastructure/postgres"
	kafkaconsumer "github.com/mealbridge/notification/internal/kafka"
	"github.com/mealbridge/notification/internal/metrics"
	"github.com/mealbridge/notification/internal/retry"
	"github.com/mealbridge/notification/internal/stats"
	transporthttp "github.com/mealbridge/notification/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting mealbridge-notification")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	if err := postgres.Migrate(cfg.Database.MigrationsDir, cfg.Database.URL()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	pool, err := postgres.Connect(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	log.Info().Msg("postgres connected")

	// ── Storage ───────────────────────────────────────────────────────────────
	queue := postgres.NewQueueRepository(pool)
	policies := postgres.NewPolicyStore(pool)
	devices := postgres.NewDeviceStore(pool)
	archive := postgres.NewArchiveRepository(pool)
	statsRepo := postgres.NewStatsRepository(pool)

	if err := catalog.SeedPolicies(ctx, policies); err != nil {
		log.Fatal().Err(err).Msg("failed to seed default policies")
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	gateway := dispatch.NewGateway(cfg.Gateway.URL, cfg.Gateway.APIKey,
		time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second)
	ctrl := admission.NewController(queue, policies, devices)
	machine := retry.NewMachine(queue, devices)
	engine := dispatch.NewEngine(queue, policies, devices, gateway, machine)
	sweeper := retry.NewSweeper(machine, gateway, cfg.Pipeline.SweepLimit)
	janitor := cleanup.NewJanitor(queue)
	statsSvc := stats.NewService(statsRepo)

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(ctrl, engine, machine, janitor, statsSvc, archive, devices, queue)
	router := transporthttp.NewRouter(handler, cfg.Auth.Secret)

	// ── Kafka Consumer ────────────────────────────────────────────────────────
	consumer, err := kafkaconsumer.New(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroupID,
		cfg.Kafka.Topics,
		ctrl,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}

	go consumer.Start(ctx)
	log.Info().Strs("topics", cfg.Kafka.Topics).Msg("kafka consumer started")

	// ── Background Jobs ───────────────────────────────────────────────────────
	jobs := cron.New()

	_, err = jobs.AddFunc(cfg.Pipeline.DispatchCron, func() {
		if _, err := engine.ProcessCycle(ctx, cfg.Pipeline.BatchSize); err != nil {
			log.Error().Err(err).Msg("dispatch cycle failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid dispatch schedule")
	}

	_, err = jobs.AddFunc(cfg.Pipeline.RetryCron, func() {
		attempted, delivered, err := sweeper.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("retry sweep failed")
			return
		}
		if attempted > 0 {
			log.Info().Int("attempted", attempted).Int("delivered", delivered).Msg("retry sweep completed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid retry schedule")
	}

	_, err = jobs.AddFunc(cfg.Pipeline.CleanupCron, func() {
		if _, err := janitor.Run(ctx, cfg.Pipeline.RetentionDays); err != nil {
			log.Error().Err(err).Msg("cleanup run failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cleanup schedule")
	}

	_, err = jobs.AddFunc("@every 30s", func() {
		counts, err := queue.CountByStatus(ctx)
		if err != nil {
			log.Error().Err(err).Msg("queue depth refresh failed")
			return
		}
		metrics.RecordQueueDepth(counts)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid gauge schedule")
	}

	jobs.Start()
	defer jobs.Stop()

	// ── Start HTTP Server ─────────────────────────────────────────────────────
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("mealbridge-notification stopped")
}
