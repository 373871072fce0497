// Package config defines the configuration structure for the Guied
// subscription service. Configuration is loaded once at process start and is
// immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"guied/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Provider      ProviderConfig
	Checkout      CheckoutConfig
	Identity      IdentityConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"10000"`
	// PublicBaseURL is where the provider reaches this service (no trailing slash).
	PublicBaseURL      string        `envconfig:"PUBLIC_BASE_URL" validate:"required,url"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MigrateOnStart  bool          `envconfig:"DB_MIGRATE_ON_START" default:"false"`
}

// CacheConfig enables the Redis-backed entitlement cache when URL is set.
type CacheConfig struct {
	URL            SecretString  `envconfig:"REDIS_URL"`
	EntitlementTTL time.Duration `envconfig:"ENTITLEMENT_CACHE_TTL" default:"60s"`
}

// ProviderConfig holds the Mercado Pago credentials and client tuning.
type ProviderConfig struct {
	AccessToken   SecretString  `envconfig:"MP_ACCESS_TOKEN" validate:"required"`
	WebhookSecret SecretString  `envconfig:"MP_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"MP_API_BASE_URL" default:"https://api.mercadopago.com" validate:"required,url"`
	Timeout       time.Duration `envconfig:"MP_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxRetries    int           `envconfig:"MP_MAX_RETRIES" default:"0" validate:"min=0,max=5"`

	// WebhookTolerance bounds the age of a signed delivery; 0 disables it.
	WebhookTolerance time.Duration `envconfig:"MP_WEBHOOK_TOLERANCE" default:"5m" validate:"gte=0"`
}

// CheckoutConfig holds the redirect targets and currency used when building
// checkout preferences.
type CheckoutConfig struct {
	SuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" default:"https://guied.app/success" validate:"url"`
	FailureURL string `envconfig:"CHECKOUT_FAILURE_URL" default:"https://guied.app/failure" validate:"url"`
	PendingURL string `envconfig:"CHECKOUT_PENDING_URL" default:"https://guied.app/pending" validate:"url"`
	Currency   string `envconfig:"CHECKOUT_CURRENCY" default:"BRL" validate:"len=3"`
	// PixOnly restricts the checkout to PIX by excluding card and boleto
	// payment types.
	PixOnly bool `envconfig:"CHECKOUT_PIX_ONLY" default:"true"`
}

// IdentityConfig holds the identity provider admin credentials used for
// account erasure.
type IdentityConfig struct {
	SupabaseURL    string        `envconfig:"SUPABASE_URL" validate:"required,url"`
	ServiceRoleKey SecretString  `envconfig:"SUPABASE_SERVICE_ROLE_KEY" validate:"required"`
	Timeout        time.Duration `envconfig:"SUPABASE_TIMEOUT" default:"10s" validate:"gt=0"`
}

// AWSConfig holds AWS resource identifiers. Both features are optional.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// ReconcileQueueURL switches webhook processing to the asynchronous worker.
	ReconcileQueueURL string `envconfig:"RECONCILE_QUEUE_URL" validate:"omitempty,url"`
	// EndpointURL is for LocalStack; empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Guied"`
}

// NotificationURL is the callback the provider is told to call.
func (c ServerConfig) NotificationURL() string {
	return c.PublicBaseURL + "/webhook/mercadopago"
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
