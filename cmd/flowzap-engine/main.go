// Package main provides the Flowzap engine worker: it consumes inbound
// gateway events from the bus, walks flow graphs, and resumes due waits.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/flowzap/flowzap/pkg/cmd"
	"github.com/flowzap/flowzap/pkg/gateway"
	"github.com/flowzap/flowzap/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "flowzap-engine",
		Usage:                 "Execute flow graphs for inbound conversations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "gateway-url",
				Usage:    "Base URL of the WhatsApp gateway",
				Required: true,
				Sources:  cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:     "gateway-token",
				Usage:    "Bearer token for gateway calls",
				Required: true,
				Sources:  cli.EnvVars("GATEWAY_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the inbound queue receiver (empty disables it)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list holding queued inbound events",
				Value:   "flowzap:inbound",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often to resume due wait timers",
				Value:   defaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
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

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowzap-engine").With("engine_id", engineID)
			logger.InfoContext(ctx, "Initializing Flowzap engine")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowzap-engine", logger)

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			gatewayClient := gateway.NewClient(
				command.String("gateway-url"),
				command.String("gateway-token"),
				logger,
			)

			manager := NewEngineManager(
				engineID,
				persistence,
				eventBus,
				gatewayClient,
				logger,
				ManagerOptions{
					RedisAddr:     command.String("redis-addr"),
					RedisQueue:    command.String("redis-queue"),
					SweepInterval: command.Duration("sweep-interval"),
				},
			)

			err := manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start engine", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
