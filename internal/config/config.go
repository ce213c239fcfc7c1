// Package config defines the process configuration for the SLA engine.
// Configuration is loaded once at startup and immutable thereafter, following
// 12-Factor principles: values come from the OS environment, optionally
// seeded by a .env file for local development. Missing required values fail
// the process immediately.
package config

import (
	"time"

	"slasentinel/internal/types"
)

// SecretString aliases types.SecretString, the redacted secret type used for
// credentials so config dumps never leak them.
type SecretString = types.SecretString

// Config is the top-level configuration. Sub-components receive only the
// subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"slasentinel"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	Monitor  MonitorConfig
	AWS      AWSConfig
	Webhook  WebhookConfig
	Billing  BillingConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the connection string and pgx pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// MonitorConfig drives the monitoring pass scheduler, channel execution, and
// violation archival. Enabled turns the API's embedded scheduler off when the
// standalone monitor process owns the passes; manual runs stay available.
type MonitorConfig struct {
	Enabled          bool          `envconfig:"MONITOR_ENABLED" default:"true"`
	Interval         time.Duration `envconfig:"MONITOR_INTERVAL" default:"5m" validate:"min=10s"`
	ChannelTimeout   time.Duration `envconfig:"ACTION_CHANNEL_TIMEOUT" default:"10s" validate:"min=1s"`
	ArchiveRetention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"2160h"`
	ArchiveBatchSize int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"500" validate:"min=1"`
}

// AWSConfig holds region, queue, and metric settings. EndpointURL overrides
// the AWS endpoint for LocalStack.
type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	AlertQueueURL    string `envconfig:"SQS_ALERT_QUEUE" validate:"omitempty,url"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"SLASentinel"`
	EndpointURL      string `envconfig:"AWS_ENDPOINT_URL"`
}

// WebhookConfig holds outbound webhook delivery settings.
type WebhookConfig struct {
	UserAgent     string        `envconfig:"WEBHOOK_USER_AGENT" default:"SLASentinel-Webhook/1.0"`
	Timeout       time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	SigningSecret SecretString  `envconfig:"WEBHOOK_SIGNING_SECRET"`
}

// BillingConfig holds the Stripe credentials for the penalty channel.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY"`
	Currency        string       `envconfig:"PENALTY_CURRENCY" default:"usd" validate:"len=3"`
}
