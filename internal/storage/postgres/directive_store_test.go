package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

func TestDirectiveStore_ActiveIsLatest(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDirectiveStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	directives := []*domain.Directive{
		{Bot: "alpha", Parameter: domain.ParamStakeSize, Value: 5, IssuedBy: "operator", IssuedAt: base},
		{Bot: "alpha", Parameter: domain.ParamStakeSize, Value: 2, IssuedBy: "operator", IssuedAt: base.Add(time.Hour)},
	}
	for _, d := range directives {
		require.NoError(t, store.Append(ctx, d))
	}

	active, err := store.Active(ctx, "alpha", domain.ParamStakeSize)
	require.NoError(t, err)
	require.Equal(t, float64(2), active.Value)

	_, err = store.Active(ctx, "alpha", domain.ParamMovementFilter)
	require.ErrorIs(t, err, storage.ErrNotFound)

	history, err := store.History(ctx, "alpha", domain.ParamStakeSize)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].IssuedAt.Before(history[1].IssuedAt))
}

func TestDirectiveStore_ActiveForBot(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDirectiveStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	directives := []*domain.Directive{
		{Bot: "alpha", Parameter: domain.ParamStakeSize, Value: 5, IssuedBy: "operator", IssuedAt: base},
		{Bot: "alpha", Parameter: domain.ParamStakeSize, Value: 2, IssuedBy: "operator", IssuedAt: base.Add(time.Minute)},
		{Bot: "alpha", Parameter: domain.ParamMovementFilter, Value: 0.2, IssuedBy: "operator", IssuedAt: base},
		{Bot: "beta", Parameter: domain.ParamStakeSize, Value: 10, IssuedBy: "operator", IssuedAt: base},
	}
	for _, d := range directives {
		require.NoError(t, store.Append(ctx, d))
	}

	active, err := store.ActiveForBot(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, active, 2)

	byParam := map[domain.Parameter]float64{}
	for _, d := range active {
		byParam[d.Parameter] = d.Value
	}
	require.Equal(t, float64(2), byParam[domain.ParamStakeSize])
	require.Equal(t, 0.2, byParam[domain.ParamMovementFilter])
}
