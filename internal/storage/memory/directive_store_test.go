package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

func TestDirectiveStore_ActiveIsLatest(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	directives := []*domain.Directive{
		{Bot: "alpha", Parameter: domain.ParamStakeSize, Value: 5, IssuedBy: "operator", IssuedAt: time.Unix(1000, 0)},
		{Bot: "alpha", Parameter: domain.ParamStakeSize, Value: 2, IssuedBy: "operator", IssuedAt: time.Unix(2000, 0)},
	}
	for _, d := range directives {
		if err := store.Append(ctx, d); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	active, err := store.Active(ctx, "alpha", domain.ParamStakeSize)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active.Value != 2 {
		t.Errorf("Active value = %f, want 2 (most recent by IssuedAt)", active.Value)
	}
}

func TestDirectiveStore_ConflictMostRecentWins(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	// Two directives issued in overlapping windows: appended out of
	// issuance order, the most recent by IssuedAt still wins.
	newer := &domain.Directive{Bot: "alpha", Parameter: domain.ParamMovementFilter, Value: 0.25, IssuedAt: time.Unix(3000, 0)}
	older := &domain.Directive{Bot: "alpha", Parameter: domain.ParamMovementFilter, Value: 0.20, IssuedAt: time.Unix(2500, 0)}

	if err := store.Append(ctx, newer); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, older); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	active, err := store.Active(ctx, "alpha", domain.ParamMovementFilter)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active.Value != 0.25 {
		t.Errorf("Active value = %f, want 0.25", active.Value)
	}

	// History is still complete: superseding never overwrites.
	history, err := store.History(ctx, "alpha", domain.ParamMovementFilter)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 directives in history, got %d", len(history))
	}
	if !history[0].IssuedAt.Before(history[1].IssuedAt) {
		t.Error("History not ordered by IssuedAt ASC")
	}
}

func TestDirectiveStore_IssuedAtTieLatestAppendedWins(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	at := time.Unix(2000, 0)
	for _, value := range []float64{2, 3} {
		err := store.Append(ctx, &domain.Directive{
			Bot: "alpha", Parameter: domain.ParamStakeSize, Value: value, IssuedAt: at,
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	active, err := store.Active(ctx, "alpha", domain.ParamStakeSize)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active.Value != 3 {
		t.Errorf("Active value = %g, want the latest appended (3)", active.Value)
	}
}

func TestDirectiveStore_NotFound(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	_, err := store.Active(ctx, "alpha", domain.ParamStakeSize)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDirectiveStore_ActiveForBot(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	directives := []*domain.Directive{
		{Bot: "alpha", Parameter: domain.ParamStakeSize, Value: 2, IssuedAt: time.Unix(1000, 0)},
		{Bot: "alpha", Parameter: domain.ParamMovementFilter, Value: 0.2, IssuedAt: time.Unix(1000, 0)},
		{Bot: "beta", Parameter: domain.ParamStakeSize, Value: 10, IssuedAt: time.Unix(1000, 0)},
	}
	for _, d := range directives {
		if err := store.Append(ctx, d); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	active, err := store.ActiveForBot(ctx, "alpha")
	if err != nil {
		t.Fatalf("ActiveForBot failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active directives for alpha, got %d", len(active))
	}
}
