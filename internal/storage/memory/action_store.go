package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ActionStore is an in-memory implementation of storage.ActionStore.
type ActionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Action // keyed by action id
}

// NewActionStore creates a new in-memory action store.
func NewActionStore() *ActionStore {
	return &ActionStore{
		data: make(map[string]*domain.Action),
	}
}

// Insert adds a new action. Returns ErrDuplicateKey if the id exists.
func (s *ActionStore) Insert(_ context.Context, a *domain.Action) error {
	if a == nil || a.ID == "" || a.Bot == "" || a.Kind == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *a
	s.data[a.ID] = &copy
	return nil
}

// GetByID retrieves an action by id. Returns ErrNotFound if absent.
func (s *ActionStore) GetByID(_ context.Context, actionID string) (*domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[actionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *a
	return &copy, nil
}

// Resolve transitions a pending action to status. Test-and-set: only one
// transition out of pending ever succeeds.
func (s *ActionStore) Resolve(_ context.Context, actionID string, status domain.ActionStatus, resolvedBy string, at time.Time) (*domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[actionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if a.Status != domain.StatusPending {
		return nil, storage.ErrAlreadyResolved
	}

	a.Status = status
	resolved := at
	a.ResolvedAt = &resolved
	a.ResolvedBy = resolvedBy

	copy := *a
	return &copy, nil
}

// MarkOutcome transitions an approved/auto_approved/blocked action to
// executed or failed.
func (s *ActionStore) MarkOutcome(_ context.Context, actionID string, status domain.ActionStatus) (*domain.Action, error) {
	if status != domain.StatusExecuted && status != domain.StatusFailed {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[actionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	switch a.Status {
	case domain.StatusApproved, domain.StatusAutoApproved, domain.StatusBlocked:
		a.Status = status
	default:
		return nil, storage.ErrInvalidInput
	}

	copy := *a
	return &copy, nil
}

// ByStatus retrieves all actions with the given status, ordered by SubmittedAt ASC.
func (s *ActionStore) ByStatus(_ context.Context, status domain.ActionStatus) ([]*domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Action
	for _, a := range s.data {
		if a.Status == status {
			copy := *a
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SubmittedAt.Equal(result[j].SubmittedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})

	return result, nil
}

// PendingByKey retrieves the unresolved action for a deduplication key.
func (s *ActionStore) PendingByKey(_ context.Context, key domain.ActionKey) (*domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.data {
		if a.Status == domain.StatusPending && a.Key() == key {
			copy := *a
			return &copy, nil
		}
	}

	return nil, storage.ErrNotFound
}

// History retrieves resolved actions, most recent first, up to limit.
func (s *ActionStore) History(_ context.Context, limit int) ([]*domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Action
	for _, a := range s.data {
		if a.Status.Resolved() {
			copy := *a
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].SubmittedAt, result[j].SubmittedAt
		if result[i].ResolvedAt != nil {
			ti = *result[i].ResolvedAt
		}
		if result[j].ResolvedAt != nil {
			tj = *result[j].ResolvedAt
		}
		if ti.Equal(tj) {
			return result[i].ID > result[j].ID
		}
		return ti.After(tj)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ storage.ActionStore = (*ActionStore)(nil)
