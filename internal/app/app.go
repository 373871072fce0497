// Package app assembles the service's dependency graph from configuration.
// cmd/api, cmd/reconcile-worker and cmd/subsctl all build their components
// here so the optional pieces (Redis cache, SQS queue, CloudWatch metrics)
// are switched on the same way everywhere.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"guied/internal/billing"
	"guied/internal/cache"
	"guied/internal/config"
	"guied/internal/core"
	"guied/internal/db"
	"guied/internal/external"
	"guied/internal/metrics"
	"guied/internal/queue"
)

// Deps is the wired service. Optional components are nil when disabled.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	Pool          *pgxpool.Pool
	Subscriptions *db.SubscriptionRepo
	MercadoPago   *external.MercadoPagoClient
	Identity      *external.SupabaseAdminClient

	Redis     *redis.Client
	Cache     *cache.EntitlementCache
	Publisher *queue.ReconcilePublisher
	Recorder  *metrics.CloudWatchRecorder

	Fetcher    *billing.PaymentFetcher
	Reconciler *billing.Reconciler
	Resolver   *billing.Resolver
	Processor  *billing.Processor

	closers []func(context.Context) error
}

// Options narrows what Build connects. The CLI skips the queue and metrics.
type Options struct {
	SkipQueue   bool
	SkipMetrics bool
}

// NewLogger returns the JSON logger used by every binary.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build connects to Postgres (running migrations when configured), creates
// the provider clients and the optional Redis, SQS and CloudWatch
// integrations, and wires the billing components on top. On error every
// resource opened so far is released.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *Deps, err error) {
	d := &Deps{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close(context.Background())
		}
	}()

	d.Pool, err = db.Connect(ctx, db.PoolConfig{
		URL:             cfg.Database.URL.Unmask(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	d.onClose(func(context.Context) error { d.Pool.Close(); return nil })

	if cfg.Database.MigrateOnStart {
		if err = db.Migrate(ctx, d.Pool, logger); err != nil {
			return nil, err
		}
	}
	d.Subscriptions = db.NewSubscriptionRepo(d.Pool, logger)

	d.MercadoPago = external.NewMercadoPagoClient(external.HTTPClient(cfg.Provider.Timeout), external.MercadoPagoConfig{
		AccessToken: cfg.Provider.AccessToken,
		BaseURL:     cfg.Provider.BaseURL,
		MaxRetries:  cfg.Provider.MaxRetries,
		Logger:      logger,
	})
	d.Identity = external.NewSupabaseAdminClient(external.HTTPClient(cfg.Identity.Timeout), external.SupabaseConfig{
		URL:            cfg.Identity.SupabaseURL,
		ServiceRoleKey: cfg.Identity.ServiceRoleKey,
		Logger:         logger,
	})

	if cfg.Cache.URL != "" {
		d.Redis, err = cache.Connect(ctx, cfg.Cache.URL.Unmask(), cfg.Provider.Timeout)
		if err != nil {
			return nil, err
		}
		d.onClose(func(context.Context) error { return d.Redis.Close() })
		d.Cache = cache.NewEntitlementCache(d.Redis, cfg.Cache.EntitlementTTL)
	}

	needQueue := !opts.SkipQueue && cfg.AWS.ReconcileQueueURL != ""
	needMetrics := !opts.SkipMetrics && cfg.Observability.MetricsEnabled
	if needQueue || needMetrics {
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if awsErr != nil {
			err = fmt.Errorf("loading aws config: %w", awsErr)
			return nil, err
		}
		endpoint := cfg.AWS.EndpointURL

		if needQueue {
			client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
				}
			})
			d.Publisher = queue.NewReconcilePublisher(client, cfg.AWS.ReconcileQueueURL, logger)
		}
		if needMetrics {
			client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
				}
			})
			d.Recorder = metrics.NewCloudWatchRecorder(client, cfg.Observability.MetricNamespace, logger)
			d.onClose(func(ctx context.Context) error { d.Recorder.Flush(ctx); return nil })
		}
	}

	d.wireBilling()
	return d, nil
}

func (d *Deps) wireBilling() {
	var recorder billing.OutcomeRecorder
	if d.Recorder != nil {
		recorder = d.Recorder
	}

	var (
		reconcileOpts []billing.ReconcilerOption
		resolverOpts  []billing.ResolverOption
	)
	if d.Identity != nil {
		resolverOpts = append(resolverOpts, billing.WithIdentityEraser(d.Identity))
	}
	if d.Cache != nil {
		reconcileOpts = append(reconcileOpts, billing.WithInvalidator(d.Cache))
		resolverOpts = append(resolverOpts, billing.WithEntitlementCache(d.Cache))
	}
	if recorder != nil {
		reconcileOpts = append(reconcileOpts, billing.WithOutcomeRecorder(recorder))
	}

	d.Fetcher = billing.NewPaymentFetcher(d.MercadoPago, d.Logger)
	d.Reconciler = billing.NewReconciler(d.Subscriptions, d.Logger, reconcileOpts...)
	d.Resolver = billing.NewResolver(d.Subscriptions, d.Logger, resolverOpts...)
	d.Processor = billing.NewProcessor(d.Fetcher, d.Reconciler, recorder, d.Logger)
}

// HealthProbes returns one probe per connected backing store.
func (d *Deps) HealthProbes() []core.HealthProbe {
	probes := []core.HealthProbe{db.NewHealthProbe(d.Pool)}
	if d.Redis != nil {
		probes = append(probes, cache.NewHealthProbe(d.Redis))
	}
	return probes
}

func (d *Deps) onClose(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (d *Deps) Close(ctx context.Context) error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}
