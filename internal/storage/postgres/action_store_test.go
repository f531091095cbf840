package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

func TestActionStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActionStore(pool)
	ctx := context.Background()

	a := &domain.Action{
		ID:          "act1",
		Bot:         "alpha",
		Kind:        domain.ActionRevertParameter,
		Parameter:   domain.ParamStakeSize,
		Value:       2,
		Description: "revert stake_size to 2",
		Reason:      "drift from directive",
		Tier:        domain.TierApproval,
		Status:      domain.StatusPending,
		SubmittedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Insert(ctx, a))

	got, err := store.GetByID(ctx, "act1")
	require.NoError(t, err)
	require.Equal(t, a.Bot, got.Bot)
	require.Equal(t, a.Kind, got.Kind)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Nil(t, got.ResolvedAt)

	require.ErrorIs(t, store.Insert(ctx, a), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActionStore_ResolveIsTestAndSet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActionStore(pool)
	ctx := context.Background()

	a := &domain.Action{
		ID:          "act1",
		Bot:         "alpha",
		Kind:        domain.ActionPauseBot,
		Tier:        domain.TierApproval,
		Status:      domain.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, a))

	resolved, err := store.Resolve(ctx, "act1", domain.StatusApproved, "operator", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	require.Equal(t, "operator", resolved.ResolvedBy)

	// A second transition out of pending loses.
	_, err = store.Resolve(ctx, "act1", domain.StatusRejected, "operator", time.Now().UTC())
	require.ErrorIs(t, err, storage.ErrAlreadyResolved)

	_, err = store.Resolve(ctx, "missing", domain.StatusApproved, "operator", time.Now().UTC())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActionStore_MarkOutcome(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActionStore(pool)
	ctx := context.Background()

	a := &domain.Action{
		ID:          "act1",
		Bot:         "alpha",
		Kind:        domain.ActionHardLock,
		Parameter:   domain.ParamStakeSize,
		Tier:        domain.TierBlocked,
		Status:      domain.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, a))

	// Pending is not executable.
	_, err := store.MarkOutcome(ctx, "act1", domain.StatusExecuted)
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Resolve(ctx, "act1", domain.StatusBlocked, "supervisor", time.Now().UTC())
	require.NoError(t, err)

	got, err := store.MarkOutcome(ctx, "act1", domain.StatusExecuted)
	require.NoError(t, err)
	require.Equal(t, domain.StatusExecuted, got.Status)

	// Executed is terminal.
	_, err = store.MarkOutcome(ctx, "act1", domain.StatusFailed)
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestActionStore_RejectedNeverExecutes(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActionStore(pool)
	ctx := context.Background()

	a := &domain.Action{
		ID:          "act1",
		Bot:         "alpha",
		Kind:        domain.ActionPauseBot,
		Tier:        domain.TierApproval,
		Status:      domain.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, a))

	_, err := store.Resolve(ctx, "act1", domain.StatusRejected, "operator", time.Now().UTC())
	require.NoError(t, err)

	_, err = store.MarkOutcome(ctx, "act1", domain.StatusExecuted)
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestActionStore_PendingByKeyAndHistory(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActionStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	actions := []*domain.Action{
		{ID: "a1", Bot: "alpha", Kind: domain.ActionRevertParameter, Parameter: domain.ParamStakeSize, Tier: domain.TierApproval, Status: domain.StatusPending, SubmittedAt: base},
		{ID: "a2", Bot: "alpha", Kind: domain.ActionPauseBot, Tier: domain.TierApproval, Status: domain.StatusPending, SubmittedAt: base.Add(time.Second)},
		{ID: "a3", Bot: "beta", Kind: domain.ActionRevertParameter, Parameter: domain.ParamStakeSize, Tier: domain.TierApproval, Status: domain.StatusPending, SubmittedAt: base.Add(2 * time.Second)},
	}
	for _, a := range actions {
		require.NoError(t, store.Insert(ctx, a))
	}

	got, err := store.PendingByKey(ctx, domain.ActionKey{Bot: "alpha", Kind: domain.ActionRevertParameter, Parameter: domain.ParamStakeSize})
	require.NoError(t, err)
	require.Equal(t, "a1", got.ID)

	_, err = store.PendingByKey(ctx, domain.ActionKey{Bot: "gamma", Kind: domain.ActionPauseBot})
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Resolve(ctx, "a1", domain.StatusApproved, "operator", base.Add(10*time.Second))
	require.NoError(t, err)
	_, err = store.Resolve(ctx, "a2", domain.StatusRejected, "operator", base.Add(20*time.Second))
	require.NoError(t, err)

	// Resolved a1: no longer pending for its key.
	_, err = store.PendingByKey(ctx, domain.ActionKey{Bot: "alpha", Kind: domain.ActionRevertParameter, Parameter: domain.ParamStakeSize})
	require.ErrorIs(t, err, storage.ErrNotFound)

	history, err := store.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "a2", history[0].ID, "most recently resolved first")

	pending, err := store.ByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "a3", pending[0].ID)
}
