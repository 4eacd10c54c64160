package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/userpreference/platform/shared/appconfig"
	"github.com/userpreference/platform/shared/config"
	"github.com/userpreference/platform/shared/database"
	"github.com/userpreference/platform/shared/events"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/middleware"
	redisClient "github.com/userpreference/platform/shared/redis"
	"github.com/userpreference/platform/shared/server"
	"github.com/userpreference/platform/workflow-worker/internal/activities"
	"github.com/userpreference/platform/workflow-worker/internal/handler"
	"github.com/userpreference/platform/workflow-worker/internal/query"
	"github.com/userpreference/platform/workflow-worker/internal/repository"
	"github.com/userpreference/platform/workflow-worker/internal/trigger"
	"github.com/userpreference/platform/workflow-worker/internal/workflow"
)

const serviceName = "workflow-worker"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	load := func() (*config.Config, error) {
		cfg, err := config.Load(serviceName, configPath)
		if err != nil {
			return nil, err
		}
		logging.Init(serviceName, cfg.Log.Level, cfg.Log.Format)
		return cfg, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Consume preference events and run the update workflow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit table if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, err := database.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repository.NewAuditRepository(db).Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Durable preference update workflow",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(serve, migrate)
	return root
}

func runServe(parent context.Context, cfg *config.Config) error {
	if err := cfg.RequireAuthSecret(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit trail
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	audit := repository.NewAuditRepository(db)
	if err := audit.Migrate(ctx); err != nil {
		return err
	}

	// Redis (event streams, run records, analytics, remote configuration)
	rdb, err := redisClient.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	runs := workflow.NewRedisRunStore(rdb.Client, cfg.Workflow.RunKeyPrefix, cfg.Workflow.RunTTL)
	analytics := repository.NewAnalyticsRepository(rdb.Client, cfg.Workflow.AnalyticsKey, cfg.Workflow.RunTTL)
	publisher := events.NewPublisher(rdb.Client, cfg.Events.Source)
	settings := appconfig.NewStore(rdb.Client, cfg.Redis.ConfigKey)

	// --- Workflow wiring ---
	steps := activities.New(audit, analytics, publisher, settings, activities.Config{
		ExternalStream:     cfg.Events.ExternalStream,
		NotificationStream: cfg.Events.NotificationStream,
	})
	orchestrator, err := workflow.NewOrchestrator(runs, steps.Registry())
	if err != nil {
		return err
	}
	preferenceTrigger := trigger.NewPreferenceTrigger(orchestrator)

	subscriber := events.NewSubscriber(rdb.Client, events.SubscriberConfig{
		Group:         cfg.Events.Group,
		Consumer:      cfg.Events.Consumer,
		Stream:        cfg.Events.Stream,
		Handler:       preferenceTrigger.Handle,
		BatchSize:     cfg.Events.BatchSize,
		BlockDuration: cfg.Events.Block,
		ClaimMinIdle:  cfg.Events.ClaimMinIdle,
	})

	// --- Read API ---
	workflowHandler := handler.NewWorkflowHandler(query.NewWorkflowQueryService(runs, audit, analytics))
	authCfg := middleware.AuthConfig{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}

	router := server.NewRouter(serviceName)
	workflowHandler.RegisterRoutes(router.Group("/v1/workflows", middleware.AuthMiddleware(authCfg)))

	slog.InfoContext(ctx, "consuming preference events",
		"stream", cfg.Events.Stream, "group", cfg.Events.Group, "consumer", cfg.Events.Consumer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, cfg.HTTP, router) })
	g.Go(func() error {
		if err := subscriber.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}
