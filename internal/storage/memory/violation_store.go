package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ViolationStore is an in-memory implementation of storage.ViolationStore.
type ViolationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Violation // keyed by violation_id
}

// NewViolationStore creates a new in-memory violation store.
func NewViolationStore() *ViolationStore {
	return &ViolationStore{
		data: make(map[string]*domain.Violation),
	}
}

// Append adds a new violation window. Returns ErrDuplicateKey if violation_id exists.
func (s *ViolationStore) Append(_ context.Context, v *domain.Violation) error {
	if v == nil || v.ViolationID == "" || v.Bot == "" || v.Parameter == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[v.ViolationID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *v
	s.data[v.ViolationID] = &copy
	return nil
}

// Extend updates the open end of an existing window.
func (s *ViolationStore) Extend(_ context.Context, violationID, lastTradeID string, lastSeen time.Time, observed float64, tradeCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.data[violationID]
	if !exists {
		return storage.ErrNotFound
	}

	v.LastTradeID = lastTradeID
	v.LastSeen = lastSeen
	v.Observed = observed
	v.TradeCount = tradeCount
	return nil
}

// Close marks a window ended by a compliant trade. An already closed
// window keeps its original closure timestamp.
func (s *ViolationStore) Close(_ context.Context, violationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.data[violationID]
	if !exists {
		return storage.ErrNotFound
	}

	if v.ClosedAt == nil {
		closed := at
		v.ClosedAt = &closed
	}
	return nil
}

// Latest retrieves the most recent window for (bot, parameter) by FirstSeen.
func (s *ViolationStore) Latest(_ context.Context, bot string, param domain.Parameter) (*domain.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Violation
	for _, v := range s.data {
		if v.Bot != bot || v.Parameter != param {
			continue
		}
		if latest == nil || v.FirstSeen.After(latest.FirstSeen) {
			latest = v
		}
	}

	if latest == nil {
		return nil, storage.ErrNotFound
	}

	copy := *latest
	return &copy, nil
}

// GetByBot retrieves all windows for a bot, ordered by FirstSeen ASC.
func (s *ViolationStore) GetByBot(_ context.Context, bot string) ([]*domain.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Violation
	for _, v := range s.data {
		if v.Bot == bot {
			copy := *v
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FirstSeen.Before(result[j].FirstSeen)
	})

	return result, nil
}

var _ storage.ViolationStore = (*ViolationStore)(nil)
