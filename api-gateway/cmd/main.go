package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/userpreference/platform/api-gateway/internal/proxy"
	"github.com/userpreference/platform/shared/config"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/middleware"
	"github.com/userpreference/platform/shared/server"
)

const serviceName = "api-gateway"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the public API gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(serviceName, configPath)
			if err != nil {
				return err
			}
			logging.Init(serviceName, cfg.Log.Level, cfg.Log.Format)
			return runServe(cmd.Context(), cfg)
		},
	}

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Reverse proxy with edge authentication",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(serve)
	return root
}

func runServe(parent context.Context, cfg *config.Config) error {
	if err := cfg.RequireAuthSecret(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	auth := middleware.AuthMiddleware(middleware.AuthConfig{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})

	router := server.NewRouter(serviceName)
	proxy.RegisterRoutes(router, proxy.New(cfg.HTTP.WriteTimeout), proxy.Upstreams{
		TokenService:      cfg.Gateway.TokenServiceURL,
		PreferenceService: cfg.Gateway.PreferenceServiceURL,
		WorkflowService:   cfg.Gateway.WorkflowServiceURL,
	}, auth)

	return server.Serve(ctx, cfg.HTTP, router)
}
