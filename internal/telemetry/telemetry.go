// Package telemetry defines the read-only feed of bot trading activity.
package telemetry

import (
	"context"
	"sync"

	"botguard/internal/domain"
)

// Source produces per-bot snapshots for one analysis cycle. A snapshot
// must cover at least every trade recorded since the previous cycle;
// overlap with already-processed trades is fine, the consumers
// deduplicate by recency.
type Source interface {
	Snapshot(ctx context.Context, bot string) (*domain.TelemetrySnapshot, error)
}

// StaticSource serves pre-loaded snapshots. Used by tests and the
// one-shot cycle command when replaying captured telemetry.
type StaticSource struct {
	mu    sync.RWMutex
	snaps map[string]*domain.TelemetrySnapshot
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{snaps: make(map[string]*domain.TelemetrySnapshot)}
}

// Set stores the snapshot served for a bot.
func (s *StaticSource) Set(bot string, snap *domain.TelemetrySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[bot] = snap
}

// Snapshot returns the stored snapshot, or an empty one for unknown bots.
func (s *StaticSource) Snapshot(_ context.Context, bot string) (*domain.TelemetrySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if snap, ok := s.snaps[bot]; ok {
		return snap, nil
	}
	return &domain.TelemetrySnapshot{Bot: bot}, nil
}

var _ Source = (*StaticSource)(nil)
