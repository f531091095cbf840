package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ViolationStore implements storage.ViolationStore using PostgreSQL.
type ViolationStore struct {
	pool *Pool
}

// NewViolationStore creates a new ViolationStore.
func NewViolationStore(pool *Pool) *ViolationStore {
	return &ViolationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ViolationStore = (*ViolationStore)(nil)

// Append opens a new drift window. Returns ErrDuplicateKey when the
// violation id already exists.
func (s *ViolationStore) Append(ctx context.Context, v *domain.Violation) error {
	query := `
		INSERT INTO violations (
			violation_id, bot, parameter, expected, observed,
			first_trade_id, last_trade_id, first_seen, last_seen,
			trade_count, occurrence, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		v.ViolationID, v.Bot, string(v.Parameter), v.Expected, v.Observed,
		v.FirstTradeID, v.LastTradeID, v.FirstSeen, v.LastSeen,
		v.TradeCount, v.Occurrence, v.ClosedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append violation: %w", err)
	}
	return nil
}

// Extend updates the open end of an existing window. The window start
// (first_seen, first_trade_id, occurrence) is never touched.
func (s *ViolationStore) Extend(ctx context.Context, violationID, lastTradeID string, lastSeen time.Time, observed float64, tradeCount int) error {
	query := `
		UPDATE violations
		SET last_trade_id = $2, last_seen = $3, observed = $4, trade_count = $5
		WHERE violation_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, violationID, lastTradeID, lastSeen, observed, tradeCount)
	if err != nil {
		return fmt.Errorf("extend violation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close marks a window ended by a compliant trade. COALESCE keeps the
// first closure timestamp if the window was already closed.
func (s *ViolationStore) Close(ctx context.Context, violationID string, at time.Time) error {
	query := `
		UPDATE violations
		SET closed_at = COALESCE(closed_at, $2)
		WHERE violation_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, violationID, at)
	if err != nil {
		return fmt.Errorf("close violation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Latest retrieves the most recent window by first_seen for (bot, parameter).
func (s *ViolationStore) Latest(ctx context.Context, bot string, param domain.Parameter) (*domain.Violation, error) {
	query := selectViolation + `
		WHERE bot = $1 AND parameter = $2
		ORDER BY first_seen DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, bot, string(param))
	v, err := scanViolation(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest violation: %w", err)
	}
	return v, nil
}

// GetByBot retrieves all windows for a bot, ordered by first_seen ASC.
func (s *ViolationStore) GetByBot(ctx context.Context, bot string) ([]*domain.Violation, error) {
	query := selectViolation + `
		WHERE bot = $1
		ORDER BY first_seen ASC
	`

	rows, err := s.pool.Query(ctx, query, bot)
	if err != nil {
		return nil, fmt.Errorf("get violations by bot: %w", err)
	}
	defer rows.Close()

	var violations []*domain.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan violation row: %w", err)
		}
		violations = append(violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation rows: %w", err)
	}
	return violations, nil
}

const selectViolation = `
	SELECT violation_id, bot, parameter, expected, observed,
	       first_trade_id, last_trade_id, first_seen, last_seen,
	       trade_count, occurrence, closed_at
	FROM violations
`

func scanViolation(row pgx.Row) (*domain.Violation, error) {
	var v domain.Violation
	var param string

	err := row.Scan(
		&v.ViolationID, &v.Bot, &param, &v.Expected, &v.Observed,
		&v.FirstTradeID, &v.LastTradeID, &v.FirstSeen, &v.LastSeen,
		&v.TradeCount, &v.Occurrence, &v.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Parameter = domain.Parameter(param)
	return &v, nil
}
