// Command brokkrd is the broker daemon: the central control plane that
// stores stacks, agents, generators, work orders, and webhook
// subscriptions, and serves the HTTP surface agents and generators poll
// against (spec.md §4, §6). Grounded on the teacher's
// cmd/control-plane/main.go shape — load config, build a signal-aware
// context, wire an http.Server, block until shutdown — generalized from a
// stub ServeMux to the full httpapi.Server plus the broker's background
// tasks (work-order reaper, webhook dispatcher, config hot-reload).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/colliery-io/brokkr/internal/auth"
	"github.com/colliery-io/brokkr/internal/config"
	brokkrcrypto "github.com/colliery-io/brokkr/internal/crypto"
	"github.com/colliery-io/brokkr/internal/dal/agent"
	"github.com/colliery-io/brokkr/internal/dal/annotation"
	"github.com/colliery-io/brokkr/internal/dal/deploymentobject"
	"github.com/colliery-io/brokkr/internal/dal/generator"
	"github.com/colliery-io/brokkr/internal/dal/label"
	"github.com/colliery-io/brokkr/internal/dal/stack"
	"github.com/colliery-io/brokkr/internal/dal/template"
	"github.com/colliery-io/brokkr/internal/dal/webhookdelivery"
	"github.com/colliery-io/brokkr/internal/dal/webhooksubscription"
	"github.com/colliery-io/brokkr/internal/dal/workorder"
	"github.com/colliery-io/brokkr/internal/dal/workorderlog"
	"github.com/colliery-io/brokkr/internal/httpapi"
	"github.com/colliery-io/brokkr/internal/reaper"
	"github.com/colliery-io/brokkr/internal/store"
	"github.com/colliery-io/brokkr/internal/store/migrate"
	"github.com/colliery-io/brokkr/internal/telemetry"
	"github.com/colliery-io/brokkr/internal/webhook"
	"github.com/colliery-io/brokkr/internal/workqueue"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := os.Getenv("BROKKR_CONFIG_FILE")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.SamplingRatio)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	db, err := store.New(ctx, store.Config{URL: cfg.Database.URL, Schema: cfg.Database.Schema})
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(db, cfg.Database.URL, logger); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	pool := db.Pool()

	var webhookBox *brokkrcrypto.Box
	if cfg.Broker.WebhookEncryptionKey != "" {
		webhookBox, err = brokkrcrypto.NewBox(cfg.Broker.WebhookEncryptionKey)
		if err != nil {
			logger.Fatal("init webhook encryption", zap.Error(err))
		}
	}

	agents := agent.New(pool)
	generators := generator.New(pool)
	stacks := stack.New(pool)
	workOrders := workorder.New(pool)
	workOrderLog := workorderlog.New(pool)
	webhookSubs := webhooksubscription.New(pool, webhookBox)
	deliveries := webhookdelivery.New(pool)
	labels := label.New(pool)
	annotations := annotation.New(pool)
	deployments := deploymentobject.New(pool, webhookSubs, deliveries)
	templates := template.New(pool)
	instantiator := template.NewInstantiator(templates, labels, deployments)

	resolver := auth.NewResolver(auth.DefaultParams(), agents, generators, cfg.Broker.PakHash)

	watcher, err := config.NewWatcher(configPath, cfg, logger)
	if err != nil {
		logger.Fatal("init config watcher", zap.Error(err))
	}
	stopWatch := make(chan struct{})
	go watcher.Start(stopWatch)
	defer close(stopWatch)

	orchestrator := workqueue.New(workOrders, workOrderLog, webhookSubs, deliveries, workqueue.Config{
		MaxBackoff: 10 * time.Minute,
	})

	dispatcher := webhook.New(webhookSubs, deliveries, webhook.Config{
		ClaimantID:     "broker",
		PollInterval:   time.Duration(cfg.Broker.WebhookDeliveryIntervalSec) * time.Second,
		BatchSize:      cfg.Broker.WebhookDeliveryBatchSize,
		LeaseDuration:  time.Duration(cfg.Broker.WebhookLeaseDurationSec) * time.Second,
		RequestTimeout: time.Duration(cfg.Broker.WebhookTimeoutSec) * time.Second,
	}, logger)
	go dispatcher.Run(ctx)

	bgTasks := reaper.New(workOrders, workOrderLog, deliveries, reaper.Config{
		StaleClaimReaperInterval: time.Duration(cfg.Broker.StaleClaimReaperIntervalSec) * time.Second,
		RetryPromoterInterval:    time.Duration(cfg.Broker.RetryPromoterIntervalSec) * time.Second,
		LeaseSweeperInterval:     time.Duration(cfg.Broker.LeaseSweeperIntervalSec) * time.Second,
		RetentionPurgeCronExpr:   cfg.Broker.RetentionPurgeCronExpr,
		WebhookDeliveryRetention: time.Duration(cfg.Broker.WebhookCleanupRetentionDays) * 24 * time.Hour,
		WorkOrderLogRetention:    time.Duration(cfg.Broker.AuditLogRetentionDays) * 24 * time.Hour,
	}, logger)
	bgTasks.Start(ctx)
	defer bgTasks.Stop()

	srv := httpapi.New(httpapi.Config{
		CORS: httpapi.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
			MaxAgeSeconds:  cfg.CORS.MaxAgeSeconds,
		},
		WebhookMaxBackoff: 10 * time.Minute,
	}, httpapi.Deps{
		Pool:         pool,
		Agents:       agents,
		Generators:   generators,
		Stacks:       stacks,
		Deployments:  deployments,
		WorkOrders:   workOrders,
		WorkOrderLog: workOrderLog,
		WebhookSubs:  webhookSubs,
		Deliveries:   deliveries,
		Labels:       labels,
		Annotations:  annotations,
		Templates:    templates,
		Instantiator: instantiator,
		Resolver:     resolver,
		Reloader:     watcher,
		Orchestrator: orchestrator,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Broker.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting brokkrd",
		zap.String("addr", cfg.Broker.ListenAddr),
		zap.String("version", version),
	)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
}

func runMigrations(db *store.Store, dsn string, logger *zap.Logger) error {
	stdDB, err := db.StdDB(dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer stdDB.Close()

	runner := migrate.NewRunner("brokkr", store.Migrations(), logger)
	return runner.Migrate(stdDB)
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}
