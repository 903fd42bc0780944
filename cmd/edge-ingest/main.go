// cmd/edge-ingest/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scout-etl/edge-ingest/pkg/bucket"
	"github.com/scout-etl/edge-ingest/pkg/config"
	"github.com/scout-etl/edge-ingest/pkg/connector"
	"github.com/scout-etl/edge-ingest/pkg/domain"
	"github.com/scout-etl/edge-ingest/pkg/ingest"
	"github.com/scout-etl/edge-ingest/pkg/metrics"
	"github.com/scout-etl/edge-ingest/pkg/monitor"
	"github.com/scout-etl/edge-ingest/pkg/resilience"
	"github.com/scout-etl/edge-ingest/pkg/server"
	"github.com/scout-etl/edge-ingest/pkg/store"
)

const usage = `usage: edge-ingest <command>

commands:
  ingest              run one ingestion pass over the bucket
  monitor             run one health cycle and print the snapshot
  serve               run the broadcaster and operator API
  replay <id>         re-drive one quarantined file by quarantine id
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch os.Args[1] {
	case "ingest":
		runErr = runIngest(ctx, cfg, logger)
	case "monitor":
		runErr = runMonitor(ctx, cfg, logger)
	case "serve":
		runErr = runServe(ctx, cfg, logger)
	case "replay":
		if len(os.Args) < 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		runErr = runReplay(ctx, cfg, logger, os.Args[2])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if runErr != nil {
		logger.Error("Command failed", zap.String("command", os.Args[1]), zap.Error(runErr))
		os.Exit(1)
	}
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}

type app struct {
	pg         *connector.PostgresConnector
	files      *store.FileStore
	jobs       *store.JobStore
	canonical  *store.CanonicalStore
	quarantine *store.QuarantineStore
	collector  *metrics.Collector
	breaker    *resilience.Breaker
	retrier    *resilience.Retrier
	processor  *ingest.Processor
	policy     config.Policy
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	pg, err := connector.NewPostgresConnector(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Validate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("validate schemas: %w", err)
	}

	policy, err := config.LoadPolicy(cfg.Monitor.PolicyFile)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("load policy: %w", err)
	}

	collector := metrics.NewCollector()
	breaker := resilience.NewBreaker(cfg.Pipeline.CircuitBreakerThreshold, cfg.Pipeline.CircuitRecoveryWindow, logger)
	breaker.OnStateChange(collector.SetBreakerState)
	retrier := resilience.NewRetrier(resilience.Policy{
		MaxRetries:    cfg.Pipeline.RetryMaxAttempts,
		InitialDelay:  cfg.Pipeline.RetryInitialDelay,
		BackoffFactor: cfg.Pipeline.RetryBackoffFactor,
		MaxDelay:      cfg.Pipeline.RetryMaxDelay,
	}, breaker, logger)

	db := pg.DB()
	a := &app{
		pg:         pg,
		files:      store.NewFileStore(db, logger),
		jobs:       store.NewJobStore(db, logger),
		canonical:  store.NewCanonicalStore(db, logger),
		quarantine: store.NewQuarantineStore(db, logger),
		collector:  collector,
		breaker:    breaker,
		retrier:    retrier,
		policy:     policy,
	}

	objects := bucket.NewClient(cfg.Bucket, logger)
	a.processor = ingest.NewProcessor(
		a.files,
		objects,
		retrier,
		ingest.NewValidator(policy.Validator),
		ingest.NewDeduplicator(a.canonical),
		ingest.NewLoader(a.canonical, logger),
		a.quarantine,
		ingest.ProcessorOptions{
			QualityThreshold:     cfg.Pipeline.QualityThreshold,
			ValidationEnabled:    cfg.Pipeline.ValidationEnabled,
			DeduplicationEnabled: cfg.Pipeline.DeduplicationEnabled,
		},
		logger,
	)
	return a, nil
}

func runIngest(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.pg.Close()

	coordinator := ingest.NewCoordinator(
		cfg.Bucket,
		cfg.Pipeline,
		bucket.NewClient(cfg.Bucket, logger),
		a.files,
		a.jobs,
		a.processor,
		a.retrier,
		a.collector,
		logger,
	)

	job, err := coordinator.Run(ctx)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusFailed {
		return fmt.Errorf("job %s failed", job.ID)
	}
	return nil
}

func buildEvaluator(ctx context.Context, cfg *config.Config, a *app, logger *zap.Logger) (*monitor.Evaluator, func(), error) {
	var (
		warehouse monitor.WarehouseSource
		closeWH   = func() {}
	)
	if cfg.Warehouse != nil {
		wh, err := connector.NewWarehouseConnector(ctx, cfg.Warehouse, logger)
		if err != nil {
			// Degraded monitoring beats none: the warehouse block will
			// report CRITICAL through the failed probe instead.
			logger.Error("Warehouse connection failed", zap.Error(err))
		} else {
			warehouse = monitor.NewWarehouseCheck(wh, logger)
			closeWH = func() { wh.Close() }
		}
	}

	evaluator := monitor.NewEvaluator(
		store.NewHealthStore(a.pg.DB(), logger),
		warehouse,
		a.policy,
		cfg.Monitor.TrailingWindow,
		logger,
	)
	return evaluator, closeWH, nil
}

func runMonitor(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.pg.Close()

	evaluator, closeWH, err := buildEvaluator(ctx, cfg, a, logger)
	if err != nil {
		return err
	}
	defer closeWH()

	m := evaluator.Evaluate(ctx)
	m.Alerts = monitor.Generate(m)

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.pg.Close()

	evaluator, closeWH, err := buildEvaluator(ctx, cfg, a, logger)
	if err != nil {
		return err
	}
	defer closeWH()

	broadcaster := monitor.NewBroadcaster(
		evaluator,
		monitor.NewSuppressor(cfg.Monitor.SuppressWindow),
		cfg.Monitor.Interval,
		a.collector,
		logger,
	)
	go broadcaster.Run(ctx)

	srv := server.New(cfg.Monitor.ListenAddr, broadcaster, a.collector.Handler(), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// runReplay re-drives one quarantined payload through validation and the
// canonical load, bypassing the bucket download.
func runReplay(ctx context.Context, cfg *config.Config, logger *zap.Logger, rawID string) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid quarantine id %q", rawID)
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.pg.Close()

	rec, err := a.quarantine.Get(ctx, id)
	if err != nil {
		return err
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.RawContent, &payload); err != nil {
		return fmt.Errorf("quarantined content still unparseable: %w", err)
	}

	validator := ingest.NewValidator(a.policy.Validator)
	res := validator.Validate(payload)
	if !res.IsValid && res.QualityScore < cfg.Pipeline.QualityThreshold {
		return fmt.Errorf("quarantined content still below quality threshold: score %.2f, issues %v",
			res.QualityScore, res.Issues)
	}

	loader := ingest.NewLoader(a.canonical, logger)
	row, inserted, err := loader.Load(ctx, payload, rec.SourceFile)
	if err != nil {
		return fmt.Errorf("replay load: %w", err)
	}

	if inserted && rec.FileID != "" {
		meta := ingest.Metadata(row, row.AudioTranscript != nil)
		if err := a.files.MarkCompleted(ctx, rec.FileID, res.QualityScore, meta); err != nil {
			logger.Warn("Replay loaded but file record not finalized", zap.Error(err))
		}
	}

	logger.Info("Replay finished",
		zap.Int64("quarantine_id", id),
		zap.String("transaction_id", row.TransactionID),
		zap.Bool("inserted", inserted))
	return nil
}
