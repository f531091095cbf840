package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

func TestViolationStore_AppendExtendLatest(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewViolationStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	v := &domain.Violation{
		ViolationID:  "v1",
		Bot:          "alpha",
		Parameter:    domain.ParamStakeSize,
		Expected:     2,
		Observed:     5,
		FirstTradeID: "t1",
		LastTradeID:  "t1",
		FirstSeen:    base,
		LastSeen:     base,
		TradeCount:   1,
		Occurrence:   1,
	}
	require.NoError(t, store.Append(ctx, v))
	require.ErrorIs(t, store.Append(ctx, v), storage.ErrDuplicateKey)

	require.NoError(t, store.Extend(ctx, "v1", "t4", base.Add(time.Hour), 5.5, 4))
	require.ErrorIs(t, store.Extend(ctx, "missing", "t9", base, 5, 1), storage.ErrNotFound)

	got, err := store.Latest(ctx, "alpha", domain.ParamStakeSize)
	require.NoError(t, err)
	require.Equal(t, "t4", got.LastTradeID)
	require.Equal(t, 4, got.TradeCount)
	require.Equal(t, 5.5, got.Observed)
	require.Equal(t, "t1", got.FirstTradeID, "window start is immutable")
	require.True(t, got.FirstSeen.Equal(base))

	// A second window supersedes the first as latest.
	v2 := &domain.Violation{
		ViolationID: "v2", Bot: "alpha", Parameter: domain.ParamStakeSize,
		Expected: 2, Observed: 7, FirstTradeID: "t8", LastTradeID: "t8",
		FirstSeen: base.Add(2 * time.Hour), LastSeen: base.Add(2 * time.Hour),
		TradeCount: 1, Occurrence: 2,
	}
	require.NoError(t, store.Append(ctx, v2))

	latest, err := store.Latest(ctx, "alpha", domain.ParamStakeSize)
	require.NoError(t, err)
	require.Equal(t, 2, latest.Occurrence)

	all, err := store.GetByBot(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "v1", all[0].ViolationID, "ordered by first_seen ASC")

	// Closure persists, and the first closure timestamp wins.
	closedAt := base.Add(3 * time.Hour)
	require.NoError(t, store.Close(ctx, "v2", closedAt))
	require.NoError(t, store.Close(ctx, "v2", closedAt.Add(time.Hour)))
	require.ErrorIs(t, store.Close(ctx, "missing", closedAt), storage.ErrNotFound)

	latest, err = store.Latest(ctx, "alpha", domain.ParamStakeSize)
	require.NoError(t, err)
	require.True(t, latest.Closed())
	require.True(t, latest.ClosedAt.Equal(closedAt))
}
