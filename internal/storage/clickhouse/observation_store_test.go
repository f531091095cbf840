package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botguard/internal/domain"
)

func TestObservationStore_InsertBulkAndRecent(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewObservationStore(conn)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	obs := []*domain.TradeObservation{
		{TradeID: "t1", Bot: "alpha", Asset: "BTC/USD", Side: domain.SideUp, EntryPrice: 0.62, Movement: 0.3, Stake: 2, Settled: true, Won: true, PnL: 1.7, RecordedAt: base},
		{TradeID: "t2", Bot: "alpha", Asset: "BTC/USD", Side: domain.SideDown, EntryPrice: 0.55, Movement: -0.2, Stake: 2, RecordedAt: base.Add(time.Minute)},
		{TradeID: "t3", Bot: "alpha", Asset: "ETH/USD", Side: domain.SideUp, EntryPrice: 0.70, Movement: 0.4, Stake: 2, RecordedAt: base.Add(2 * time.Minute)},
		{TradeID: "t4", Bot: "beta", Asset: "BTC/USD", Side: domain.SideUp, EntryPrice: 0.50, Movement: 0.1, Stake: 5, RecordedAt: base},
	}
	require.NoError(t, store.InsertBulk(ctx, obs))

	recent, err := store.RecentByBot(ctx, "alpha", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "t3", recent[0].TradeID, "newest first")
	require.Equal(t, "t2", recent[1].TradeID)
	require.Equal(t, domain.SideUp, recent[0].Side)
}

func TestObservationStore_KeepsDuplicateRows(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewObservationStore(conn)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	obs := []*domain.TradeObservation{
		{TradeID: "t1", Bot: "alpha", Stake: 2, RecordedAt: base},
		{TradeID: "t1", Bot: "alpha", Stake: 2, RecordedAt: base.Add(time.Second)},
	}
	require.NoError(t, store.InsertBulk(ctx, obs))

	recent, err := store.RecentByBot(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2, "archive never deduplicates")
}

func TestObservationStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewObservationStore(conn)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	obs := []*domain.TradeObservation{
		{TradeID: "t1", Bot: "alpha", RecordedAt: base},
		{TradeID: "t2", Bot: "alpha", RecordedAt: base.Add(time.Hour)},
		{TradeID: "t3", Bot: "alpha", RecordedAt: base.Add(2 * time.Hour)},
	}
	require.NoError(t, store.InsertBulk(ctx, obs))

	got, err := store.GetByTimeRange(ctx, "alpha", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2, "range inclusive on both ends")
	require.Equal(t, "t1", got[0].TradeID, "ordered by recorded_at ASC")
}
