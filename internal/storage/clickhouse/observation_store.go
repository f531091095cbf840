package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ObservationStore archives trade observations in ClickHouse. The table
// is plain MergeTree: every reported row is kept, including duplicate
// trade ids, so duplicate-execution flags stay auditable after the fact.
type ObservationStore struct {
	conn *Conn
}

// NewObservationStore creates a new ObservationStore.
func NewObservationStore(conn *Conn) *ObservationStore {
	return &ObservationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ObservationStore = (*ObservationStore)(nil)

// InsertBulk appends observations as a single batch.
func (s *ObservationStore) InsertBulk(ctx context.Context, obs []*domain.TradeObservation) error {
	if len(obs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_observations (
			trade_id, bot, asset, side, entry_price, movement,
			stake, settled, won, pnl, recorded_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		err = batch.Append(
			o.TradeID, o.Bot, o.Asset, o.Side,
			o.EntryPrice, o.Movement, o.Stake,
			o.Settled, o.Won, o.PnL, o.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// RecentByBot retrieves the latest observations for a bot, newest first.
func (s *ObservationStore) RecentByBot(ctx context.Context, bot string, limit int) ([]*domain.TradeObservation, error) {
	query := selectObservation + `
		WHERE bot = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, bot, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent by bot: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// GetByTimeRange retrieves observations within [start, end] inclusive,
// ordered by recorded_at ASC.
func (s *ObservationStore) GetByTimeRange(ctx context.Context, bot string, start, end time.Time) ([]*domain.TradeObservation, error) {
	query := selectObservation + `
		WHERE bot = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at ASC
	`

	rows, err := s.conn.Query(ctx, query, bot, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

const selectObservation = `
	SELECT trade_id, bot, asset, side, entry_price, movement,
	       stake, settled, won, pnl, recorded_at
	FROM trade_observations
`

func scanObservations(rows driver.Rows) ([]*domain.TradeObservation, error) {
	var observations []*domain.TradeObservation

	for rows.Next() {
		var o domain.TradeObservation

		err := rows.Scan(
			&o.TradeID, &o.Bot, &o.Asset, &o.Side,
			&o.EntryPrice, &o.Movement, &o.Stake,
			&o.Settled, &o.Won, &o.PnL, &o.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}

		observations = append(observations, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation rows: %w", err)
	}

	return observations, nil
}
