// Package main is the standalone monitoring worker. It runs the same
// evaluation pipeline as the API server's embedded monitor but without the
// HTTP surface, plus a daily archival sweep that compacts old closed
// violation episodes. Deployments that want monitoring isolated from request
// traffic run this binary and start the API with MONITOR_ENABLED=false.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"slasentinel/internal/actions"
	"slasentinel/internal/config"
	"slasentinel/internal/db"
	"slasentinel/internal/obs"
	"slasentinel/internal/sla"
	"slasentinel/internal/types"
)

// archiveSweepInterval is how often the worker drains the archival backlog.
const archiveSweepInterval = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("sla monitoring worker starting",
		"environment", cfg.Environment,
		"monitor_interval", cfg.Monitor.Interval,
		"archive_retention", cfg.Monitor.ArchiveRetention,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	ruleRepo := db.NewRuleRepository(pool)
	shipmentRepo := db.NewShipmentRepository(pool)
	violationRepo := db.NewViolationRepository(pool, types.RealClock{})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading aws configuration: %w", err)
	}

	var passRecorder sla.PassRecorder = obs.NoopRecorder{}
	var actionRecorder sla.ActionRecorder = obs.NoopRecorder{}
	if cfg.Environment != "local" {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		cw := obs.NewCloudWatchRecorder(cwClient, cfg.AWS.MetricsNamespace, logger)
		passRecorder, actionRecorder = cw, cw
	}

	dispatcher := sla.NewDispatcher(sla.DispatcherConfig{
		Store:          violationRepo,
		Channels:       buildChannels(cfg, awsCfg, logger),
		ChannelTimeout: cfg.Monitor.ChannelTimeout,
		Metrics:        actionRecorder,
		Logger:         logger,
	})

	monitor := sla.NewMonitor(sla.MonitorConfig{
		Rules:      ruleRepo,
		Shipments:  shipmentRepo,
		Reconciler: sla.NewReconciler(violationRepo, dispatcher, logger),
		Metrics:    passRecorder,
		Interval:   cfg.Monitor.Interval,
		Logger:     logger,
	})

	archiver, err := sla.NewArchiver(
		violationRepo, cfg.Monitor.ArchiveRetention, cfg.Monitor.ArchiveBatchSize, nil, logger)
	if err != nil {
		return fmt.Errorf("creating archiver: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitor.Start(gctx)
		<-gctx.Done()
		monitor.Stop()
		return nil
	})

	g.Go(func() error {
		return runArchiveSweeps(gctx, archiver, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("monitoring worker stopped cleanly")
	return nil
}

// runArchiveSweeps drains the archival backlog once at startup and then on a
// daily cadence. Sweep failures are logged and retried next cycle; they never
// take the worker down.
func runArchiveSweeps(ctx context.Context, archiver *sla.Archiver, logger *slog.Logger) error {
	sweep := func() {
		moved, err := archiver.Drain(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "archive sweep failed", "moved", moved, "error", err)
			return
		}
		if moved > 0 {
			logger.InfoContext(ctx, "archive sweep completed", "moved", moved)
		}
	}

	sweep()

	ticker := time.NewTicker(archiveSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}

// buildChannels mirrors the API server's channel construction so both
// binaries dispatch identically: email alert, webhook, smart contract,
// penalty, in that order.
func buildChannels(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) []sla.ActionChannel {
	var channels []sla.ActionChannel

	if cfg.AWS.AlertQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		channels = append(channels,
			actions.NewEmailAlertChannel(sqsClient, cfg.AWS.AlertQueueURL, nil, logger))
	}

	webhookHTTP := &http.Client{
		Timeout:   cfg.Webhook.Timeout,
		Transport: userAgentTransport{agent: cfg.Webhook.UserAgent, base: http.DefaultTransport},
	}
	webhookClient := actions.NewResilientClient(
		webhookHTTP, "webhook", actions.DefaultRetryPolicy(), types.ErrCodeUpstreamWebhook)
	channels = append(channels,
		actions.NewWebhookChannel(webhookClient, cfg.Webhook.SigningSecret.Unmask(), nil, logger))

	channels = append(channels,
		actions.NewContractChannel(actions.SimulatedLedgerClient{}, nil, logger))

	if cfg.Billing.StripeSecretKey.Unmask() != "" {
		stripeHTTP := &http.Client{Timeout: 20 * time.Second}
		stripeClient := actions.NewResilientClient(
			stripeHTTP, "stripe", actions.DefaultRetryPolicy(), types.ErrCodeUpstreamBilling)
		channels = append(channels, actions.NewPenaltyChannel(
			stripeClient,
			actions.PassthroughBillingLookup{},
			actions.PenaltyChannelConfig{
				SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
				Currency:  cfg.Billing.Currency,
			},
			nil, logger))
	}

	return channels
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
