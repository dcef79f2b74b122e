package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rytswd-lab/socketmode/internal/installer"
	"github.com/rytswd-lab/socketmode/internal/platform/config"
	"github.com/rytswd-lab/socketmode/internal/platform/logging"
	"github.com/rytswd-lab/socketmode/internal/receiver"
	"github.com/rytswd-lab/socketmode/internal/socketmode"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func installerOptions(cfg *config.Config) *receiver.InstallerOptions {
	if !cfg.OAuthEnabled() {
		slog.Info("OAuth credentials not set, install routes disabled")
		return nil
	}

	provider := installer.New(installer.Config{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURI:  cfg.SlackRedirectURI,
	})

	return &receiver.InstallerOptions{
		Provider:      provider,
		Scopes:        config.ScopeList(cfg.Scopes),
		UserScopes:    config.ScopeList(cfg.UserScopes),
		DirectInstall: cfg.DirectInstall,
	}
}

func customRoutes(startTime time.Time) []receiver.CustomRoute {
	return []receiver.CustomRoute{
		{
			Path:    "/health/live",
			Methods: []string{"GET"},
			Handler: func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]any{
					"status": "ok",
					"uptime": time.Since(startTime).Seconds(),
				})
			},
		},
		{
			Path:    "/metrics",
			Methods: []string{"GET"},
			Handler: echo.WrapHandler(promhttp.Handler()),
		},
	}
}

func runGracefulShutdown(recv *receiver.Receiver) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recv.Stop(stopCtx); err != nil {
			slog.Error("Socket disconnect error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	client := socketmode.New(socketmode.Config{AppToken: cfg.SlackAppToken})

	recv, err := receiver.New(receiver.Options{
		Port:         cfg.Port,
		TLSCertFile:  cfg.TLSCertFile,
		TLSKeyFile:   cfg.TLSKeyFile,
		Installer:    installerOptions(cfg),
		CustomRoutes: customRoutes(time.Now()),
		SocketClient: client,
	})
	if err != nil {
		slog.Error("Failed to construct receiver", "error", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = recv.Start(startCtx)
	cancel()
	if err != nil {
		slog.Error("Failed to start socket client", "error", err)
		os.Exit(1)
	}

	// The embedding application routes envelopes to its own handlers; this
	// binary just logs them.
	go func() {
		for envelope := range client.Events() {
			slog.Info("Envelope received", "type", envelope.Type, "envelope_id", envelope.EnvelopeID)
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- recv.ListenAndServe() }()

	done := runGracefulShutdown(recv)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	case <-done:
	}

	slog.Info("Application stopped")
}
