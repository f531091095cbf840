// Package main runs exactly one supervision cycle and prints the
// summary. Useful for cron-style deployments and for inspecting what a
// cycle would do against the current controller state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botguard/internal/approval"
	"botguard/internal/botclient"
	"botguard/internal/budget"
	"botguard/internal/config"
	"botguard/internal/domain"
	"botguard/internal/executor"
	"botguard/internal/health"
	"botguard/internal/memlog"
	"botguard/internal/orchestrator"
	"botguard/internal/proposer"
	"botguard/internal/storage"
	chstore "botguard/internal/storage/clickhouse"
	"botguard/internal/storage/memory"
	"botguard/internal/storage/migrations"
	pgstore "botguard/internal/storage/postgres"
	"botguard/internal/violation"
)

type stores struct {
	directives   storage.DirectiveStore
	violations   storage.ViolationStore
	actions      storage.ActionStore
	budget       storage.BudgetStore
	observations storage.ObservationStore
}

func main() {
	configPath := flag.String("config", "botguard.yaml", "Supervisor configuration file")
	botEndpoint := flag.String("bot-endpoint", os.Getenv("BOT_ENDPOINT"), "Bot controller base URL")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (dry runs: nothing persists)")
	memoryPath := flag.String("memory-file", "MEMORY.md", "Path to the markdown memory log")
	verbose := flag.Bool("verbose", false, "Verbose cycle logging")
	flag.Parse()

	logger := log.New(os.Stdout, "[cycle] ", log.LstdFlags)

	if *botEndpoint == "" {
		logger.Fatal("--bot-endpoint is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for a dry run)")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, cancelling cycle...\n", sig)
		cancel()
	}()

	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	orch, err := assemble(ctx, cfg, st, *botEndpoint, *memoryPath, *verbose)
	if err != nil {
		logger.Fatalf("Failed to build cycle: %v", err)
	}

	started := time.Now()
	result, err := orch.RunCycle(ctx)
	if err != nil {
		logger.Fatalf("Cycle failed: %v", err)
	}

	if result.Skipped {
		fmt.Println("cycle skipped: budget exhausted")
		os.Exit(2)
	}

	fmt.Printf("cycle complete in %v\n", time.Since(started).Round(time.Millisecond))
	fmt.Printf("  bots checked:     %d\n", result.BotsChecked)
	fmt.Printf("  windows opened:   %d\n", result.WindowsOpened)
	fmt.Printf("  windows extended: %d\n", result.WindowsExtended)
	fmt.Printf("  duplicates:       %d\n", result.Duplicates)
	fmt.Printf("  proposed:         %d\n", result.Proposed)
	fmt.Printf("  executed:         %d\n", result.Executed)
	fmt.Printf("  failed:           %d\n", result.Failed)
	fmt.Printf("  auto-rejected:    %d\n", result.AutoRejected)
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		st := &stores{
			directives:   memory.NewDirectiveStore(),
			violations:   memory.NewViolationStore(),
			actions:      memory.NewActionStore(),
			budget:       memory.NewBudgetStore(),
			observations: memory.NewObservationStore(),
		}
		return st, func() {}, nil
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

	st := &stores{
		directives:   pgstore.NewDirectiveStore(pool),
		violations:   pgstore.NewViolationStore(pool),
		actions:      pgstore.NewActionStore(pool),
		budget:       pgstore.NewBudgetStore(pool),
		observations: chstore.NewObservationStore(chConn),
	}
	return st, func() { chConn.Close(); pool.Close() }, nil
}

func assemble(ctx context.Context, cfg *config.Config, st *stores, botEndpoint, memoryPath string, verbose bool) (*orchestrator.Orchestrator, error) {
	guard, err := budget.NewGuard(ctx, budget.Options{
		Limits: budget.Limits{
			DailyCostCeiling:   cfg.Budget.DailyCostCeiling,
			DailyCallCeiling:   cfg.Budget.DailyCallCeiling,
			MonthlyCostCeiling: cfg.Budget.MonthlyCostCeiling,
			MonthlyCallCeiling: cfg.Budget.MonthlyCallCeiling,
		},
		Store: st.budget,
	})
	if err != nil {
		return nil, fmt.Errorf("restore budget ledger: %w", err)
	}

	controller := botclient.New(botEndpoint)
	mem := memlog.New(memoryPath)

	return orchestrator.New(orchestrator.Options{
		Bots:         cfg.Roster(),
		Cadences:     cfg.Cadences(),
		Source:       controller,
		Observations: st.observations,
		Guard:        guard,
		Monitor: health.NewMonitor(health.Options{
			DeadAfterMultiple: cfg.Policy.DeadAfterMultiple,
		}),
		Detector: violation.NewDetector(violation.Options{
			Directives:       st.directives,
			Violations:       st.violations,
			DuplicateEpsilon: cfg.Policy.DuplicateEpsilon.Std(),
		}),
		Proposer: proposer.New(proposer.Options{
			Actions: st.actions,
			Policy: proposer.Policy{
				HardLockAfter: cfg.Policy.HardLockAfter,
				MaxLossStreak: cfg.Policy.MaxLossStreak,
			},
			Permissions: proposer.Permissions{
				AutoApproved: cfg.AutoApprovedKinds(),
				Blocked:      cfg.BlockedKinds(),
			},
		}),
		Queue: approval.NewQueue(approval.Options{Actions: st.actions}),
		Executor: executor.New(executor.Options{
			Surface: controller,
			Actions: st.actions,
			Memory:  mem,
		}),
		Memory: mem,
		Events: func(e domain.ChatEvent) {
			fmt.Printf("[%s] %s: %s\n", e.Level, e.Source, e.Message)
		},
		StatsWindow:        cfg.Policy.StatsWindow,
		CycleCost:          cfg.Budget.CycleCost,
		StaleAlertInterval: cfg.Policy.StaleAlertInterval.Std(),
		Verbose:            verbose,
	}), nil
}
