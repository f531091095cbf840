package postgres

import (
	"context"
	"fmt"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// BudgetStore persists the budget ledger in PostgreSQL. A single row
// keeps the daily and monthly window counters; Save upserts it.
type BudgetStore struct {
	pool *Pool
}

// NewBudgetStore creates a new BudgetStore.
func NewBudgetStore(pool *Pool) *BudgetStore {
	return &BudgetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BudgetStore = (*BudgetStore)(nil)

// Load retrieves the persisted ledger.
func (s *BudgetStore) Load(ctx context.Context) (*domain.BudgetLedger, error) {
	query := `
		SELECT daily_start, daily_cost, daily_calls,
		       monthly_start, monthly_cost, monthly_calls
		FROM budget_ledger
		WHERE id = 1
	`

	var l domain.BudgetLedger
	err := s.pool.QueryRow(ctx, query).Scan(
		&l.Daily.Start, &l.Daily.Cost, &l.Daily.Calls,
		&l.Monthly.Start, &l.Monthly.Cost, &l.Monthly.Calls,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load budget ledger: %w", err)
	}
	return &l, nil
}

// Save overwrites the persisted ledger.
func (s *BudgetStore) Save(ctx context.Context, l *domain.BudgetLedger) error {
	query := `
		INSERT INTO budget_ledger (
			id, daily_start, daily_cost, daily_calls,
			monthly_start, monthly_cost, monthly_calls
		) VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			daily_start = EXCLUDED.daily_start,
			daily_cost = EXCLUDED.daily_cost,
			daily_calls = EXCLUDED.daily_calls,
			monthly_start = EXCLUDED.monthly_start,
			monthly_cost = EXCLUDED.monthly_cost,
			monthly_calls = EXCLUDED.monthly_calls
	`

	_, err := s.pool.Exec(ctx, query,
		l.Daily.Start, l.Daily.Cost, l.Daily.Calls,
		l.Monthly.Start, l.Monthly.Cost, l.Monthly.Calls,
	)
	if err != nil {
		return fmt.Errorf("save budget ledger: %w", err)
	}
	return nil
}
