// Package main is the entry point for the SLA engine API server.
//
// It loads configuration, connects the pgx pool, wires the monitoring
// pipeline (evaluator, reconciler, action dispatcher) behind the HTTP
// handlers, and runs the server alongside the embedded monitoring ticker.
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"slasentinel/internal/actions"
	"slasentinel/internal/api/handlers"
	"slasentinel/internal/config"
	"slasentinel/internal/core"
	"slasentinel/internal/db"
	"slasentinel/internal/obs"
	"slasentinel/internal/sla"
	"slasentinel/internal/types"
)

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
	logger.Info("sla engine api starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"monitor_enabled", cfg.Monitor.Enabled,
		"monitor_interval", cfg.Monitor.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	deps, err := buildPipeline(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	srv, err := core.NewServer(logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ruleHandler := handlers.NewRuleHandler(deps.ruleRepo, srv.Validator, types.RealClock{}, logger)
	monitoringHandler := handlers.NewMonitoringHandler(
		deps.monitor, deps.violationRepo, deps.summaryService, deps.dispatcher, logger)

	srv.V1RouteRegistrars = []core.RouteRegistrar{
		ruleHandler.RegisterRoutes,
		monitoringHandler.RegisterRoutes,
	}
	srv.HealthProbes = []core.HealthProbe{dbProbe{pool: pool}}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// With the scheduler disabled the standalone monitor process owns the
	// periodic passes; POST /v1/sla/monitoring/run still works either way.
	if cfg.Monitor.Enabled {
		g.Go(func() error {
			deps.monitor.Start(gctx)
			<-gctx.Done()
			deps.monitor.Stop()
			return nil
		})
	} else {
		logger.Info("embedded monitoring scheduler disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// pipeline bundles the wired domain services the handlers need.
type pipeline struct {
	ruleRepo       *db.RuleRepository
	violationRepo  *db.ViolationRepository
	monitor        *sla.Monitor
	dispatcher     *sla.Dispatcher
	summaryService *sla.SummaryService
}

// buildPipeline wires repositories, action channels, dispatcher, reconciler,
// and the monitor in dependency order.
func buildPipeline(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*pipeline, error) {
	ruleRepo := db.NewRuleRepository(pool)
	shipmentRepo := db.NewShipmentRepository(pool)
	violationRepo := db.NewViolationRepository(pool, types.RealClock{})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws configuration: %w", err)
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

	channels := buildChannels(cfg, awsCfg, logger)

	dispatcher := sla.NewDispatcher(sla.DispatcherConfig{
		Store:          violationRepo,
		Channels:       channels,
		ChannelTimeout: cfg.Monitor.ChannelTimeout,
		Metrics:        actionRecorder,
		Logger:         logger,
	})

	reconciler := sla.NewReconciler(violationRepo, dispatcher, logger)

	monitor := sla.NewMonitor(sla.MonitorConfig{
		Rules:      ruleRepo,
		Shipments:  shipmentRepo,
		Reconciler: reconciler,
		Metrics:    passRecorder,
		Interval:   cfg.Monitor.Interval,
		Logger:     logger,
	})

	return &pipeline{
		ruleRepo:       ruleRepo,
		violationRepo:  violationRepo,
		monitor:        monitor,
		dispatcher:     dispatcher,
		summaryService: sla.NewSummaryService(violationRepo),
	}, nil
}

// buildChannels constructs the action channels in the canonical dispatch
// order: email alert, webhook, smart contract, penalty. Channels missing
// deployment configuration are left out entirely; per-rule configuration is
// checked by the dispatcher at execution time.
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

// userAgentTransport stamps the configured User-Agent on outbound webhook
// deliveries.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// dbProbe reports database reachability for GET /health.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string { return "database" }

func (p dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
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
