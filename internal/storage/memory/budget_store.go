package memory

import (
	"context"
	"sync"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// BudgetStore is an in-memory implementation of storage.BudgetStore.
type BudgetStore struct {
	mu     sync.RWMutex
	ledger *domain.BudgetLedger
}

// NewBudgetStore creates a new in-memory budget store.
func NewBudgetStore() *BudgetStore {
	return &BudgetStore{}
}

// Load retrieves the persisted ledger. Returns ErrNotFound if never saved.
func (s *BudgetStore) Load(_ context.Context) (*domain.BudgetLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ledger == nil {
		return nil, storage.ErrNotFound
	}

	copy := *s.ledger
	return &copy, nil
}

// Save overwrites the persisted ledger.
func (s *BudgetStore) Save(_ context.Context, l *domain.BudgetLedger) error {
	if l == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *l
	s.ledger = &copy
	return nil
}

var _ storage.BudgetStore = (*BudgetStore)(nil)
