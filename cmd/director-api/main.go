package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/director/pkg/cmd"
	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/log"
	"github.com/dukex/director/pkg/metrics"
	"github.com/dukex/director/pkg/otelhelper"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/persistence/rediscache"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/reconcile"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "director-api",
		Usage:                 "Serve workflow graph resolution and execution",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL enabling the distributed lock and variable cache",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "reconcile-schedule",
				Usage:   "Cron spec for resolving every workflow, empty disables it",
				Value:   reconcile.DefaultSchedule,
				Sources: cli.EnvVars("RECONCILE_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Director API")

			tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "director-api", command.Bool("otel-enabled"))
			if err != nil {
				return err
			}

			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger)

			var store persistence.Persistence

			store, err = cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(command.String("redis-url"))
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer func() { _ = redisClient.Close() }()

				cached := rediscache.Wrap(store, redisClient, rediscache.DefaultTTL, logger)
				store = cached

				if err := eventBus.Handle(events.VariableUpdatedEvent, cached.Cache().HandleVariableUpdated); err != nil {
					return err
				}
			}

			if err := eventBus.Subscribe(ctx); err != nil {
				return err
			}

			api, err := NewAPI(logger, store, registry, eventBus,
				WithLocker(cmd.NewLocker(redisClient, logger)),
				WithMetrics(metrics.New()),
				WithTracer(tracer),
			)
			if err != nil {
				return err
			}

			var background []protocol.Lifecycle

			if schedule := command.String("reconcile-schedule"); schedule != "" {
				reconciler, err := api.Reconciler(schedule)
				if err != nil {
					return err
				}

				background = append(background, reconciler)
			}

			for _, component := range background {
				if err := component.Start(ctx); err != nil {
					return err
				}

				defer func() {
					if err := component.Stop(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to stop background component", "error", err)
					}
				}()
			}

			return api.Start(ctx, command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Director API stopped", "error", err)
		os.Exit(1)
	}
}
