package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/userpreference/platform/preference-service/internal/command"
	"github.com/userpreference/platform/preference-service/internal/handler"
	"github.com/userpreference/platform/preference-service/internal/query"
	"github.com/userpreference/platform/preference-service/internal/repository"
	"github.com/userpreference/platform/shared/appconfig"
	"github.com/userpreference/platform/shared/config"
	"github.com/userpreference/platform/shared/database"
	"github.com/userpreference/platform/shared/events"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/middleware"
	redisClient "github.com/userpreference/platform/shared/redis"
	"github.com/userpreference/platform/shared/server"
)

const serviceName = "preference-service"

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
		Short: "Run the preference API and outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "User preference CRUD API",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(serve, newMigrateCmd(load), newConfigCmd(load))
	return root
}

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the preference tables if they do not exist",
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
			if err := repository.NewPreferenceRepository(db).Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newConfigCmd(load func() (*config.Config, error)) *cobra.Command {
	withStore := func(cmd *cobra.Command, fn func(*appconfig.Store) error) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		rdb, err := redisClient.NewClient(cmd.Context(), cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		return fn(appconfig.NewStore(rdb.Client, cfg.Redis.ConfigKey))
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a remote setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *appconfig.Store) error {
				value, ok := s.Get(cmd.Context(), args[0])
				if !ok {
					return fmt.Errorf("setting %q is not set", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a remote setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *appconfig.Store) error {
				return s.Set(cmd.Context(), args[0], args[1])
			})
		},
	}
	list := &cobra.Command{
		Use:   "list [prefix]",
		Short: "List remote settings, optionally by key prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withStore(cmd, func(s *appconfig.Store) error {
				settings := s.GetByPrefix(cmd.Context(), prefix)
				keys := make([]string, 0, len(settings))
				for k := range settings {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, settings[k])
				}
				return nil
			})
		},
	}

	cmd := &cobra.Command{Use: "config", Short: "Read and write remote settings"}
	cmd.AddCommand(get, set, list)
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	if err := cfg.RequireAuthSecret(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Document store (write and read side)
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewPreferenceRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	// Redis (event streaming + remote configuration)
	rdb, err := redisClient.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// --- CQRS wiring ---
	publisher := events.NewPublisher(rdb.Client, cfg.Events.Source)
	settings := appconfig.NewStore(rdb.Client, cfg.Redis.ConfigKey)

	commandSvc := command.NewPreferenceCommandService(repo, publisher, settings)
	querySvc := query.NewPreferenceQueryService(repo)
	relay := command.NewOutboxRelay(repo, publisher, cfg.Outbox.Interval, cfg.Outbox.GracePeriod, cfg.Outbox.BatchSize)

	preferenceHandler := handler.NewPreferenceHandler(commandSvc, querySvc)

	authCfg := middleware.AuthConfig{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	router := server.NewRouter(serviceName)
	v1 := router.Group("/v1/preferences", middleware.AuthMiddleware(authCfg), middleware.RateLimitMiddleware(limiter))
	preferenceHandler.RegisterRoutes(v1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, cfg.HTTP, router) })
	g.Go(func() error { return relay.Run(gctx) })
	return g.Wait()
}
