// Package main runs the supervisor service: the periodic supervision
// cycle against the bot controller plus the operator HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"botguard/internal/api"
	"botguard/internal/approval"
	"botguard/internal/botclient"
	"botguard/internal/budget"
	"botguard/internal/config"
	"botguard/internal/domain"
	"botguard/internal/executor"
	"botguard/internal/health"
	"botguard/internal/memlog"
	"botguard/internal/observability"
	"botguard/internal/orchestrator"
	"botguard/internal/proposer"
	"botguard/internal/storage"
	chstore "botguard/internal/storage/clickhouse"
	"botguard/internal/storage/memory"
	"botguard/internal/storage/migrations"
	pgstore "botguard/internal/storage/postgres"
	"botguard/internal/violation"
)

// allStores holds every storage implementation the supervisor uses.
type allStores struct {
	directives   storage.DirectiveStore
	violations   storage.ViolationStore
	actions      storage.ActionStore
	budget       storage.BudgetStore
	observations storage.ObservationStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", envOr("BOTGUARD_CONFIG", "botguard.yaml"), "Supervisor configuration file")
	botEndpoint := flag.String("bot-endpoint", os.Getenv("BOT_ENDPOINT"), "Bot controller base URL")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	memoryPath := flag.String("memory-file", envOr("MEMORY_PATH", "MEMORY.md"), "Path to the markdown memory log")
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	cycleInterval := flag.Duration("cycle-interval", time.Minute, "Supervision cycle interval")
	verbose := flag.Bool("verbose", false, "Verbose cycle logging")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *botEndpoint == "" {
		logger.Fatal("--bot-endpoint is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Printf("Supervising %d bots", len(cfg.Bots))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	guard, err := budget.NewGuard(ctx, budget.Options{
		Limits: budget.Limits{
			DailyCostCeiling:   cfg.Budget.DailyCostCeiling,
			DailyCallCeiling:   cfg.Budget.DailyCallCeiling,
			MonthlyCostCeiling: cfg.Budget.MonthlyCostCeiling,
			MonthlyCallCeiling: cfg.Budget.MonthlyCallCeiling,
		},
		Store: stores.budget,
	})
	if err != nil {
		logger.Fatalf("Failed to restore budget ledger: %v", err)
	}

	controller := botclient.New(*botEndpoint)
	mem := memlog.New(*memoryPath)
	metrics := observability.NewMetrics("")
	queue := approval.NewQueue(approval.Options{Actions: stores.actions})

	// The event sink is wired after the API supervisor exists.
	var supervisor *api.Supervisor
	events := func(e domain.ChatEvent) {
		if supervisor != nil {
			supervisor.HandleEvent(e)
		}
	}

	exec := executor.New(executor.Options{
		Surface: controller,
		Actions: stores.actions,
		Memory:  mem,
		Alert: func(level, message string) {
			events(domain.ChatEvent{At: time.Now().UTC(), Source: "supervisor", Level: level, Message: message})
		},
	})

	orch := orchestrator.New(orchestrator.Options{
		Bots:     cfg.Roster(),
		Cadences: cfg.Cadences(),
		Source:   controller,
		Observations: stores.observations,
		Guard:    guard,
		Monitor: health.NewMonitor(health.Options{
			DeadAfterMultiple: cfg.Policy.DeadAfterMultiple,
		}),
		Detector: violation.NewDetector(violation.Options{
			Directives:       stores.directives,
			Violations:       stores.violations,
			DuplicateEpsilon: cfg.Policy.DuplicateEpsilon.Std(),
		}),
		Proposer: proposer.New(proposer.Options{
			Actions: stores.actions,
			Policy: proposer.Policy{
				HardLockAfter: cfg.Policy.HardLockAfter,
				MaxLossStreak: cfg.Policy.MaxLossStreak,
			},
			Permissions: proposer.Permissions{
				AutoApproved: cfg.AutoApprovedKinds(),
				Blocked:      cfg.BlockedKinds(),
			},
		}),
		Queue:              queue,
		Executor:           exec,
		Memory:             mem,
		Metrics:            metrics,
		Events:             events,
		StatsWindow:        cfg.Policy.StatsWindow,
		CycleCost:          cfg.Budget.CycleCost,
		StaleAlertInterval: cfg.Policy.StaleAlertInterval.Std(),
		Verbose:            *verbose,
	})

	supervisor = api.NewSupervisor(api.Options{
		Roster:       cfg.Roster(),
		Cadences:     cfg.Cadences(),
		Source:       controller,
		Observations: stores.observations,
		Directives:   stores.directives,
		Guard:        guard,
		Monitor:      health.NewMonitor(health.Options{DeadAfterMultiple: cfg.Policy.DeadAfterMultiple}),
		Queue:        queue,
		Executor:     exec,
		Memory:       mem,
		Metrics:      metrics,
		Orchestrator: orch,
		Permissions: proposer.Permissions{
			AutoApproved: cfg.AutoApprovedKinds(),
			Blocked:      cfg.BlockedKinds(),
		},
		StatsWindow: cfg.Policy.StatsWindow,
	})

	httpServer := &http.Server{Addr: *listenAddr, Handler: supervisor.Routes()}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		supervisor.Hub().Close()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go func() {
		logger.Printf("Starting HTTP server on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
		}
	}()

	err = runCycles(ctx, supervisor, *cycleInterval, logger)
	done <- err

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Supervision loop error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// runCycles runs one supervision cycle immediately, then on every tick
// until the context is cancelled. Cycles go through the API supervisor
// so operator commands never race a cycle in progress.
func runCycles(ctx context.Context, supervisor *api.Supervisor, interval time.Duration, logger *log.Logger) error {
	if _, err := supervisor.RunCycle(ctx); err != nil {
		logger.Printf("Cycle error: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := supervisor.RunCycle(ctx); err != nil {
				logger.Printf("Cycle error: %v", err)
			}
		}
	}
}

// createStores creates all required stores, running migrations for the
// database-backed configuration.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			directives:   memory.NewDirectiveStore(),
			violations:   memory.NewViolationStore(),
			actions:      memory.NewActionStore(),
			budget:       memory.NewBudgetStore(),
			observations: memory.NewObservationStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		directives:   pgstore.NewDirectiveStore(pool),
		violations:   pgstore.NewViolationStore(pool),
		actions:      pgstore.NewActionStore(pool),
		budget:       pgstore.NewBudgetStore(pool),
		observations: chstore.NewObservationStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
