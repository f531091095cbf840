// Package budget enforces daily and monthly ceilings on metered
// external calls. Reserve gates before a call, Record commits the real
// cost after it, whether or not the call succeeded.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ErrBudgetExceeded is returned by Reserve when any ceiling would be
// crossed. Match with errors.Is; the wrapped message names the axis.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Limits holds the configured ceilings. A call ceiling of 0 means
// unlimited calls on that window.
type Limits struct {
	DailyCostCeiling   float64
	DailyCallCeiling   int
	MonthlyCostCeiling float64
	MonthlyCallCeiling int
}

// Options for creating a Guard.
type Options struct {
	Limits Limits
	Store  storage.BudgetStore // optional; nil keeps the ledger in memory only
	Logger *log.Logger
	Now    func() time.Time // optional clock override for tests
}

// Guard tracks spend across both windows. Windows roll over lazily: the
// boundary check happens inside Reserve and Record, never on a timer.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	ledger domain.BudgetLedger
	store  storage.BudgetStore
	logger *log.Logger
	now    func() time.Time
}

// NewGuard creates a Guard, restoring the persisted ledger when a store
// is configured.
func NewGuard(ctx context.Context, opts Options) (*Guard, error) {
	g := &Guard{
		limits: opts.Limits,
		store:  opts.Store,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if g.logger == nil {
		g.logger = log.New(log.Writer(), "[budget] ", log.LstdFlags)
	}
	if g.now == nil {
		g.now = time.Now
	}

	if g.store != nil {
		ledger, err := g.store.Load(ctx)
		switch {
		case err == nil:
			g.ledger = *ledger
		case errors.Is(err, storage.ErrNotFound):
			// First run, start fresh.
		default:
			return nil, fmt.Errorf("restore budget ledger: %w", err)
		}
	}

	now := g.now().UTC()
	if g.ledger.Daily.Start.IsZero() {
		g.ledger.Daily = domain.WindowState{Start: dayStart(now)}
	}
	if g.ledger.Monthly.Start.IsZero() {
		g.ledger.Monthly = domain.WindowState{Start: monthStart(now)}
	}

	return g, nil
}

// Reserve checks whether a call with the estimated cost fits every
// ceiling. It does not mutate the ledger: the caller commits with
// Record after the call.
func (g *Guard) Reserve(estimate float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(g.now().UTC())

	if g.limits.DailyCallCeiling > 0 && g.ledger.Daily.Calls+1 > g.limits.DailyCallCeiling {
		return fmt.Errorf("%w: daily call ceiling %d reached", ErrBudgetExceeded, g.limits.DailyCallCeiling)
	}
	if g.limits.MonthlyCallCeiling > 0 && g.ledger.Monthly.Calls+1 > g.limits.MonthlyCallCeiling {
		return fmt.Errorf("%w: monthly call ceiling %d reached", ErrBudgetExceeded, g.limits.MonthlyCallCeiling)
	}
	if g.limits.DailyCostCeiling > 0 && g.ledger.Daily.Cost+estimate > g.limits.DailyCostCeiling {
		return fmt.Errorf("%w: daily cost ceiling $%.2f would be crossed (spent $%.2f, estimate $%.2f)",
			ErrBudgetExceeded, g.limits.DailyCostCeiling, g.ledger.Daily.Cost, estimate)
	}
	if g.limits.MonthlyCostCeiling > 0 && g.ledger.Monthly.Cost+estimate > g.limits.MonthlyCostCeiling {
		return fmt.Errorf("%w: monthly cost ceiling $%.2f would be crossed (spent $%.2f, estimate $%.2f)",
			ErrBudgetExceeded, g.limits.MonthlyCostCeiling, g.ledger.Monthly.Cost, estimate)
	}

	return nil
}

// Record commits the actual cost of a performed call. It is called even
// when the guarded operation failed: the spend happened regardless.
func (g *Guard) Record(ctx context.Context, actual float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(g.now().UTC())

	g.ledger.Daily.Cost += actual
	g.ledger.Daily.Calls++
	g.ledger.Monthly.Cost += actual
	g.ledger.Monthly.Calls++

	if g.store != nil {
		ledger := g.ledger
		if err := g.store.Save(ctx, &ledger); err != nil {
			return fmt.Errorf("persist budget ledger: %w", err)
		}
	}
	return nil
}

// Snapshot returns the dashboard view of both windows.
func (g *Guard) Snapshot() domain.BudgetSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(g.now().UTC())

	snap := domain.BudgetSnapshot{
		Daily: domain.WindowView{
			Cost:        g.ledger.Daily.Cost,
			Calls:       g.ledger.Daily.Calls,
			CostCeiling: g.limits.DailyCostCeiling,
			CallCeiling: g.limits.DailyCallCeiling,
			Start:       g.ledger.Daily.Start,
		},
		Monthly: domain.WindowView{
			Cost:        g.ledger.Monthly.Cost,
			Calls:       g.ledger.Monthly.Calls,
			CostCeiling: g.limits.MonthlyCostCeiling,
			CallCeiling: g.limits.MonthlyCallCeiling,
			Start:       g.ledger.Monthly.Start,
		},
	}
	snap.CanCall = g.canCallLocked()
	return snap
}

func (g *Guard) canCallLocked() bool {
	if g.limits.DailyCallCeiling > 0 && g.ledger.Daily.Calls >= g.limits.DailyCallCeiling {
		return false
	}
	if g.limits.MonthlyCallCeiling > 0 && g.ledger.Monthly.Calls >= g.limits.MonthlyCallCeiling {
		return false
	}
	if g.limits.DailyCostCeiling > 0 && g.ledger.Daily.Cost >= g.limits.DailyCostCeiling {
		return false
	}
	if g.limits.MonthlyCostCeiling > 0 && g.ledger.Monthly.Cost >= g.limits.MonthlyCostCeiling {
		return false
	}
	return true
}

// rolloverLocked resets a window when now has crossed its boundary.
func (g *Guard) rolloverLocked(now time.Time) {
	if day := dayStart(now); day.After(g.ledger.Daily.Start) {
		g.logger.Printf("daily window rollover: spent $%.2f over %d calls", g.ledger.Daily.Cost, g.ledger.Daily.Calls)
		g.ledger.Daily = domain.WindowState{Start: day}
	}
	if month := monthStart(now); month.After(g.ledger.Monthly.Start) {
		g.logger.Printf("monthly window rollover: spent $%.2f over %d calls", g.ledger.Monthly.Cost, g.ledger.Monthly.Calls)
		g.ledger.Monthly = domain.WindowState{Start: month}
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
