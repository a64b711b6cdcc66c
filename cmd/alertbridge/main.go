// Package main provides the alert bridge entry point: the long-lived
// service plus the state maintenance subcommands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"alertbridge/internal/clock"
	"alertbridge/internal/config"
	"alertbridge/internal/cycle"
	"alertbridge/internal/events"
	"alertbridge/internal/health"
	"alertbridge/internal/logger"
	"alertbridge/internal/metrics"
	"alertbridge/internal/notify"
	"alertbridge/internal/ratelimit"
	"alertbridge/internal/service"
	"alertbridge/internal/state"
	"alertbridge/internal/weather"
)

const usage = `Usage: alertbridge [command] [flags]

Commands:
  run            run the alert bridge service (default)
  cleanup-state  remove stale rows from the state store
  migrate-state  copy the JSON state file into the SQLite backend
  verify-state   check both state artifacts for integrity
`

func main() {
	args := os.Args[1:]
	command := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "run":
		os.Exit(runService())
	case "cleanup-state":
		os.Exit(runCleanup(args))
	case "migrate-state":
		os.Exit(runMigrate(args))
	case "verify-state":
		os.Exit(runVerify(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
}

func runService() int {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").EventError(events.StartupInvalidConfig,
			"error", logger.RedactError(err))
		return 2
	}

	log := logger.New(cfg.LogLevel)
	logger.RegisterSecret(cfg.ServiceAPIKey)
	logger.RegisterSecret(cfg.WebhookURL)

	clk := clock.Real{}

	store, err := openStore(cfg.StateBackend, cfg, clk, log)
	if err != nil {
		log.WithError(err).EventError(events.StartupInvalidConfig)
		return 2
	}
	defer func() { _ = store.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	fetcher := weather.NewClient(weather.Config{
		BaseURL:        cfg.APIBaseURL,
		ServiceKey:     cfg.ServiceAPIKey,
		MaxRetries:     cfg.APIMaxRetries,
		RetryDelay:     cfg.APIRetryDelay,
		ConnectTimeout: cfg.APIConnectTimeout,
		ReadTimeout:    cfg.APIReadTimeout,
		Options: weather.Options{
			WarningType: cfg.WarningType,
			StationID:   cfg.StationID,
		},
	}, ratelimit.New(cfg.APIRateLimitPerSec), log)
	defer fetcher.Close()

	notifier := notify.New(notify.Config{
		WebhookURL:          cfg.WebhookURL,
		BotName:             cfg.BotName,
		Timeout:             cfg.NotifierTimeout,
		MaxRetries:          cfg.NotifierMaxRetries,
		RetryDelay:          cfg.NotifierRetryDelay,
		CircuitEnabled:      cfg.CircuitEnabled,
		CircuitMaxFailures:  uint32(cfg.CircuitMaxFailures),
		CircuitOpenDuration: cfg.CircuitOpenDuration,
	}, ratelimit.New(cfg.SendRateLimitPerSec), log)

	healthStore := health.NewStore(cfg.HealthStateFile, log)
	monitor := health.NewMonitor(cfg.HealthPolicy(), healthStore.Load())

	processor := cycle.NewProcessor(cfg, fetcher, notifier, store, m, clk, log)
	svc := service.New(cfg, processor, notifier, store, monitor, healthStore, m, clk, log)

	opsServer := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      service.NewOpsRouter(registry, store),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).EventError(events.ShutdownUnexpectedError, "component", "ops_server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Event(events.StartupReady,
		"state_backend", cfg.StateBackend,
		"area_count", len(cfg.AreaCodes),
		"dry_run", cfg.DryRun,
		"run_once", cfg.RunOnce,
		"ops_port", cfg.OpsPort)

	runErr := svc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).EventWarn(events.ShutdownForced, "component", "ops_server")
	}

	if runErr != nil {
		return 1
	}
	return 0
}

func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup-state", flag.ExitOnError)
	backend := fs.String("state-repository-type", envOr(config.EnvStateBackend, "json"), "state backend to clean (json or sqlite)")
	days := fs.Int("days", 30, "retention in days; rows older than this are removed")
	includeUnsent := fs.Bool("include-unsent", false, "also remove rows that were never sent")
	dryRun := fs.Bool("dry-run", false, "count removable rows without deleting")
	_ = fs.Parse(args)

	log := logger.New(envOr(config.EnvLogLevel, "info"))
	clk := clock.Real{}

	store, err := openStore(*backend, utilityConfig(), clk, log)
	if err != nil {
		log.WithError(err).EventError(events.StateCleanupFailed, "backend", *backend)
		return 1
	}
	defer func() { _ = store.Close() }()

	removed, err := store.CleanupStale(time.Now(), *days, *includeUnsent, *dryRun)
	if err != nil {
		log.WithError(err).EventError(events.StateCleanupFailed, "backend", *backend)
		return 1
	}

	total, _ := store.TotalCount()
	pending, _ := store.PendingCount()
	log.Event(events.StateCleanupComplete,
		"backend", *backend,
		"removed", removed,
		"retention_days", *days,
		"include_unsent", *includeUnsent,
		"dry_run", *dryRun,
		"total", total,
		"pending", pending)
	return 0
}

func runMigrate(args []string) int {
	cfg := utilityConfig()

	fs := flag.NewFlagSet("migrate-state", flag.ExitOnError)
	jsonPath := fs.String("json-state-file", cfg.SentMessagesFile, "source JSON state file")
	sqlitePath := fs.String("sqlite-state-file", cfg.SQLiteStateFile, "target SQLite database")
	_ = fs.Parse(args)

	log := logger.New(envOr(config.EnvLogLevel, "info"))
	clk := clock.Real{}

	source, err := state.NewJSONStore(*jsonPath, clk, log)
	if err != nil {
		log.WithError(err).EventError(events.StateMigrationFailed, "json_file", *jsonPath)
		return 1
	}
	defer func() { _ = source.Close() }()

	target, err := state.NewSQLiteStore(*sqlitePath, clk, log)
	if err != nil {
		log.WithError(err).EventError(events.StateMigrationFailed, "sqlite_file", *sqlitePath)
		return 1
	}
	defer func() { _ = target.Close() }()

	result, err := state.MigrateJSONToSQLite(source, target)
	if err != nil {
		log.WithError(err).EventError(events.StateMigrationFailed,
			"json_file", *jsonPath,
			"sqlite_file", *sqlitePath)
		return 1
	}

	log.Event(events.StateMigrationComplete,
		"json_file", *jsonPath,
		"sqlite_file", *sqlitePath,
		"total_records", result.TotalRecords,
		"inserted_records", result.InsertedRecords,
		"sent_records", result.SentRecords)
	return 0
}

func runVerify(args []string) int {
	cfg := utilityConfig()

	fs := flag.NewFlagSet("verify-state", flag.ExitOnError)
	jsonPath := fs.String("json-state-file", cfg.SentMessagesFile, "JSON state file to inspect")
	sqlitePath := fs.String("sqlite-state-file", cfg.SQLiteStateFile, "SQLite database to inspect")
	strict := fs.Bool("strict", false, "treat missing files as errors")
	_ = fs.Parse(args)

	log := logger.New(envOr(config.EnvLogLevel, "info"))

	report := state.VerifyStateFiles(*jsonPath, *sqlitePath, *strict)
	if data, err := json.MarshalIndent(report, "", "  "); err == nil {
		fmt.Println(string(data))
	}

	if !report.Passed() {
		log.EventError(events.StateVerifyFailed,
			"errors", report.ErrorCount(),
			"warnings", report.WarningCount())
		return 1
	}
	log.Event(events.StateVerifyComplete,
		"errors", 0,
		"warnings", report.WarningCount())
	return 0
}

// utilityConfig carries just the state file paths for the maintenance
// subcommands, which must work without the service credentials set.
func utilityConfig() *config.Config {
	return &config.Config{
		SentMessagesFile: envOr(config.EnvSentMessagesFile, config.DefaultSentMessagesFile),
		SQLiteStateFile:  envOr(config.EnvSQLiteStateFile, config.DefaultSQLiteStateFile),
	}
}

func openStore(backend string, cfg *config.Config, clk clock.Clock, log *logger.Logger) (state.Store, error) {
	switch backend {
	case "json":
		return state.NewJSONStore(cfg.SentMessagesFile, clk, log)
	case "sqlite":
		return state.NewSQLiteStore(cfg.SQLiteStateFile, clk, log)
	}
	return nil, fmt.Errorf("unknown state backend %q", backend)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
