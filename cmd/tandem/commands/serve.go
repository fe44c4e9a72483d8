package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tandem-social/tandem/internal/rest"
	"github.com/tandem-social/tandem/internal/setup"
	"github.com/tandem-social/tandem/internal/setup/telemetry"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server timeouts. WriteTimeout does not apply to hijacked WebSocket connections.
const (
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 15 * time.Second
	WriteTimeout      = 30 * time.Second
	ShutdownTimeout   = 30 * time.Second
)

// ServeCommand runs the REST API and the realtime gateway.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the REST API and WebSocket gateway",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply pending database migrations before serving",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := setup.InitializeApp(ctx, telemetry.ServiceAPI, ServeLogDir, setup.Options{
				ConfigPath:  c.String("config"),
				AutoMigrate: c.Bool("migrate"),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Cleanup(context.Background())

			return serve(ctx, app)
		},
	}
}

func serve(ctx context.Context, app *setup.App) error {
	cfg := app.Config

	server := rest.NewServer(rest.Services{
		Connections: app.Service.Connection(),
		Chats:       app.Service.Chat(),
		Posts:       app.Service.Post(),
		Feed:        app.Service.Feed(),
	}, app.Verifier, app.Gateway, &cfg.API, app.Logger)
	defer server.Close()

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Gateway.Run(gctx)
	})

	g.Go(func() error {
		app.Logger.Info("API server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("Shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	app.Logger.Info("Server gracefully stopped")
	return nil
}
