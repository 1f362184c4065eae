package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/api"
	"github.com/acme/followup-call-service/internal/api/handlers"
	"github.com/acme/followup-call-service/internal/app"
	"github.com/acme/followup-call-service/internal/dispatch"
	"github.com/acme/followup-call-service/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close()

	shutdownTracing, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name, container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = shutdownTracing(shutdownCtx)
	}()

	// The manager session runs alongside the HTTP server. An unreachable
	// manager leaves the service in degraded mode: originations are
	// rejected until a later connect succeeds.
	go manageSession(ctx, container)

	handlerSet := handlers.NewHandlerSet(container)
	server := api.NewServer(container, handlerSet)

	container.Logger.Info("starting api server", zap.Int("port", container.Config.HTTP.Port))
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

// manageSession keeps one telephony session alive. Each established session
// gets a dispatcher draining its event stream; when the stream closes, all
// affected calls have already been failed and the session is re-dialed.
func manageSession(ctx context.Context, container *app.Container) {
	logger := container.Logger

	for {
		if err := container.ConnectManager(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("manager unavailable, running degraded", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
				continue
			}
		}

		dispatcher := dispatch.New(container.Manager.Events(), container.Dialog(), logger)
		if err := dispatcher.Run(ctx); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
