package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ObservationStore is an in-memory implementation of storage.ObservationStore.
type ObservationStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.TradeObservation // keyed by bot, append order
}

// NewObservationStore creates a new in-memory observation store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{
		data: make(map[string][]*domain.TradeObservation),
	}
}

// InsertBulk appends observations. Duplicate rows are kept on purpose so
// duplicate-trade flags stay visible in the archive.
func (s *ObservationStore) InsertBulk(_ context.Context, obs []*domain.TradeObservation) error {
	if len(obs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range obs {
		if o == nil || o.Bot == "" || o.TradeID == "" {
			return storage.ErrInvalidInput
		}
		copy := *o
		s.data[o.Bot] = append(s.data[o.Bot], &copy)
	}

	return nil
}

// RecentByBot retrieves the latest observations for a bot, RecordedAt DESC.
func (s *ObservationStore) RecentByBot(_ context.Context, bot string, limit int) ([]*domain.TradeObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[bot]
	result := make([]*domain.TradeObservation, 0, len(list))
	for _, o := range list {
		copy := *o
		result = append(result, &copy)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RecordedAt.After(result[j].RecordedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// GetByTimeRange retrieves observations for a bot within [start, end], RecordedAt ASC.
func (s *ObservationStore) GetByTimeRange(_ context.Context, bot string, start, end time.Time) ([]*domain.TradeObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeObservation
	for _, o := range s.data[bot] {
		if o.RecordedAt.Before(start) || o.RecordedAt.After(end) {
			continue
		}
		copy := *o
		result = append(result, &copy)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})

	return result, nil
}

var _ storage.ObservationStore = (*ObservationStore)(nil)
