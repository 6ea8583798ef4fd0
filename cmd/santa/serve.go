package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	allochandler "secretsanta/internal/allocation/handler"
	dirhandler "secretsanta/internal/directory/handler"
	exhandler "secretsanta/internal/exchange/handler"
	httpapi "secretsanta/internal/http"
	"secretsanta/internal/platform/httpserver"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  serveRun,
	}
}

func serveRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := commonRun()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown", "error", err.Error())
		}
	}()

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:      logger,
		Metrics:     a.metrics,
		Gatherer:    a.registry,
		AdminToken:  cfg.AdminToken,
		Health:      a.health,
		Participant: []httpapi.Registrar{allochandler.New(a.exchange, logger)},
		Admin: []httpapi.Registrar{
			dirhandler.New(a.directory, logger),
			exhandler.New(a.exchange, logger),
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	return serve(ctx, a, logger, func(ctx context.Context) error {
		return httpserver.Run(ctx, srv, logger)
	})
}

// serve blocks in run until the server has shut down gracefully, then closes
// the app so notifications queued by the last in-flight requests are flushed.
func serve(ctx context.Context, a *app, logger *slog.Logger, run func(ctx context.Context) error) error {
	err := run(ctx)
	if cerr := a.Close(); cerr != nil {
		logger.Error("shutdown", "error", cerr.Error())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
