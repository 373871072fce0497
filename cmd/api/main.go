// Package main is the entry point for the Guied subscription API.
//
// It loads configuration, wires the Postgres store, the Mercado Pago and
// Supabase clients and the optional Redis, SQS and CloudWatch integrations,
// mounts the checkout, webhook and subscription routes on the core chassis
// and serves them over HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"guied/internal/api/handlers"
	"guied/internal/app"
	"guied/internal/billing"
	"guied/internal/config"
	"guied/internal/core"
	"guied/internal/external"
	"guied/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("guied API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}

	srv, err := buildServer(cfg, logger, componentsFrom(deps))
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(deps.Close)

	if deps.Recorder != nil {
		go deps.Recorder.Run(ctx)
	}

	return runHTTPServer(ctx, srv, cfg, logger)
}

// components is what the HTTP surface needs from the wired service.
type components struct {
	checkout     handlers.CheckoutProvider
	processor    handlers.NotificationProcessor
	publisher    handlers.NotificationPublisher
	verifier     handlers.SignatureVerifier
	entitlements handlers.EntitlementService
	probes       []core.HealthProbe
	metrics      core.MetricsCollector
}

func componentsFrom(d *app.Deps) components {
	c := components{
		checkout:     d.MercadoPago,
		processor:    d.Processor,
		entitlements: d.Resolver,
		probes:       d.HealthProbes(),
		metrics:      metrics.Noop{},
	}
	// Interface fields stay nil rather than holding typed nil pointers.
	if d.Publisher != nil {
		c.publisher = d.Publisher
	}
	if d.Recorder != nil {
		c.metrics = d.Recorder
	}
	if !d.Config.Provider.WebhookSecret.IsZero() {
		c.verifier = external.NewMercadoPagoSignatureVerifier(d.Config.Provider.WebhookSecret,
			external.WithSignatureTolerance(d.Config.Provider.WebhookTolerance))
	}
	return c
}

// buildServer mounts the routes on a core.Server.
func buildServer(cfg *config.Config, logger *slog.Logger, c components) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = c.metrics
	srv.HealthProbes = c.probes

	settings := handlers.CheckoutSettings{
		NotificationURL: cfg.Server.NotificationURL(),
		BackURLs: external.BackURLs{
			Success: cfg.Checkout.SuccessURL,
			Failure: cfg.Checkout.FailureURL,
			Pending: cfg.Checkout.PendingURL,
		},
		PixOnly: cfg.Checkout.PixOnly,
	}
	checkout := handlers.NewCheckoutHandler(c.checkout, billing.NewStaticCatalog(cfg.Checkout.Currency), settings, srv.Validator, logger)

	var webhookOpts []handlers.WebhookOption
	if c.publisher != nil {
		webhookOpts = append(webhookOpts, handlers.WithPublisher(c.publisher))
	}
	if c.verifier != nil {
		webhookOpts = append(webhookOpts, handlers.WithSignatureVerifier(c.verifier))
	}
	webhook := handlers.NewWebhookHandler(c.processor, logger, webhookOpts...)
	subscriptions := handlers.NewSubscriptionHandler(c.entitlements, srv.Validator, logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		checkout.RegisterRoutes,
		webhook.RegisterRoutes,
		subscriptions.RegisterRoutes,
	)
	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until ctx is cancelled, then drains in-flight
// requests and releases server resources.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           gzhttp.GzipHandler(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}
