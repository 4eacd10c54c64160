package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/userpreference/platform/shared/config"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/middleware"
	"github.com/userpreference/platform/shared/server"
	"github.com/userpreference/platform/shared/utils"
	"github.com/userpreference/platform/token-service/internal/handler"
	tokenqry "github.com/userpreference/platform/token-service/internal/query"
	"github.com/userpreference/platform/token-service/internal/repository"
)

const serviceName = "token-service"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Issue development tokens for configured clients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(serviceName, configPath)
			if err != nil {
				return err
			}
			logging.Init(serviceName, cfg.Log.Level, cfg.Log.Format)
			return runServe(cmd.Context(), cfg)
		},
	}
	hashSecret := &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print the bcrypt hash of a client secret for the auth.clients config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Development token issuer",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(serve, hashSecret)
	return root
}

func runServe(parent context.Context, cfg *config.Config) error {
	if err := cfg.RequireAuthSecret(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Token issuing is read-only; no CommandService needed
	clients := repository.NewClientRepository(cfg.Auth.Clients)
	if clients.Len() == 0 {
		slog.WarnContext(ctx, "no clients configured; every token request will be rejected")
	}
	querySvc := tokenqry.NewTokenQueryService(clients, middleware.AuthConfig{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}, cfg.Auth.TokenTTL)
	tokenHandler := handler.NewTokenHandler(querySvc)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	router := server.NewRouter(serviceName)
	tokenHandler.RegisterRoutes(router.Group("/v1/auth", middleware.RateLimitMiddleware(limiter)))

	return server.Serve(ctx, cfg.HTTP, router)
}
