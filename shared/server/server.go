// Package server holds the HTTP bootstrap every service shares: a gin engine
// with the common middleware and a server that stops with its context.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/userpreference/platform/shared/config"
	"github.com/userpreference/platform/shared/middleware"
)

// NewRouter returns an engine with recovery, request logging and /health.
func NewRouter(service string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	})
	return router
}

// Serve runs handler until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg config.HTTPConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
