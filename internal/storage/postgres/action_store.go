package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ActionStore implements storage.ActionStore using PostgreSQL.
type ActionStore struct {
	pool *Pool
}

// NewActionStore creates a new ActionStore.
func NewActionStore(pool *Pool) *ActionStore {
	return &ActionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ActionStore = (*ActionStore)(nil)

// Insert records a newly proposed action. Returns ErrDuplicateKey when
// the action id already exists.
func (s *ActionStore) Insert(ctx context.Context, a *domain.Action) error {
	query := `
		INSERT INTO actions (
			action_id, bot, kind, parameter, value, description,
			reason, tier, status, submitted_at, resolved_at, resolved_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Bot, string(a.Kind), string(a.Parameter), a.Value,
		a.Description, a.Reason, string(a.Tier), string(a.Status),
		a.SubmittedAt, a.ResolvedAt, a.ResolvedBy,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// GetByID retrieves a single action.
func (s *ActionStore) GetByID(ctx context.Context, actionID string) (*domain.Action, error) {
	query := selectAction + ` WHERE action_id = $1`

	row := s.pool.QueryRow(ctx, query, actionID)
	a, err := scanAction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get action by id: %w", err)
	}
	return a, nil
}

// Resolve moves an action out of pending. The WHERE clause makes the
// transition atomic: a second resolver loses the race and gets
// ErrAlreadyResolved, a missing id gets ErrNotFound.
func (s *ActionStore) Resolve(ctx context.Context, actionID string, status domain.ActionStatus, resolvedBy string, at time.Time) (*domain.Action, error) {
	if !status.Resolved() {
		return nil, storage.ErrInvalidInput
	}

	query := `
		UPDATE actions
		SET status = $2, resolved_by = $3, resolved_at = $4
		WHERE action_id = $1 AND status = 'pending'
		RETURNING action_id, bot, kind, parameter, value, description,
		          reason, tier, status, submitted_at, resolved_at, resolved_by
	`

	row := s.pool.QueryRow(ctx, query, actionID, string(status), resolvedBy, at)
	a, err := scanAction(row)
	if err != nil {
		if isNotFoundError(err) {
			// Distinguish missing from already resolved.
			if _, getErr := s.GetByID(ctx, actionID); getErr != nil {
				return nil, storage.ErrNotFound
			}
			return nil, storage.ErrAlreadyResolved
		}
		return nil, fmt.Errorf("resolve action: %w", err)
	}
	return a, nil
}

// MarkOutcome records the execution outcome of a dispatched action.
// Only actions in an executable status can transition.
func (s *ActionStore) MarkOutcome(ctx context.Context, actionID string, status domain.ActionStatus) (*domain.Action, error) {
	if status != domain.StatusExecuted && status != domain.StatusFailed {
		return nil, storage.ErrInvalidInput
	}

	query := `
		UPDATE actions
		SET status = $2
		WHERE action_id = $1
		  AND status IN ('approved', 'auto_approved', 'blocked')
		RETURNING action_id, bot, kind, parameter, value, description,
		          reason, tier, status, submitted_at, resolved_at, resolved_by
	`

	row := s.pool.QueryRow(ctx, query, actionID, string(status))
	a, err := scanAction(row)
	if err != nil {
		if isNotFoundError(err) {
			if _, getErr := s.GetByID(ctx, actionID); getErr != nil {
				return nil, storage.ErrNotFound
			}
			return nil, storage.ErrInvalidInput
		}
		return nil, fmt.Errorf("mark action outcome: %w", err)
	}
	return a, nil
}

// ByStatus retrieves all actions in a status, ordered by submitted_at ASC.
func (s *ActionStore) ByStatus(ctx context.Context, status domain.ActionStatus) ([]*domain.Action, error) {
	query := selectAction + `
		WHERE status = $1
		ORDER BY submitted_at ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("get actions by status: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// PendingByKey retrieves the unresolved action for a deduplication key.
func (s *ActionStore) PendingByKey(ctx context.Context, key domain.ActionKey) (*domain.Action, error) {
	query := selectAction + `
		WHERE status = 'pending' AND bot = $1 AND kind = $2 AND parameter = $3
		ORDER BY submitted_at ASC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, key.Bot, string(key.Kind), string(key.Parameter))
	a, err := scanAction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pending action by key: %w", err)
	}
	return a, nil
}

// History retrieves resolved actions, most recently resolved first.
func (s *ActionStore) History(ctx context.Context, limit int) ([]*domain.Action, error) {
	query := selectAction + `
		WHERE resolved_at IS NOT NULL
		ORDER BY resolved_at DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get action history: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

const selectAction = `
	SELECT action_id, bot, kind, parameter, value, description,
	       reason, tier, status, submitted_at, resolved_at, resolved_by
	FROM actions
`

func scanAction(row pgx.Row) (*domain.Action, error) {
	var a domain.Action
	var kind, param, tier, status string

	err := row.Scan(
		&a.ID, &a.Bot, &kind, &param, &a.Value, &a.Description,
		&a.Reason, &tier, &status, &a.SubmittedAt, &a.ResolvedAt, &a.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}

	a.Kind = domain.ActionKind(kind)
	a.Parameter = domain.Parameter(param)
	a.Tier = domain.RiskTier(tier)
	a.Status = domain.ActionStatus(status)
	return &a, nil
}

func scanActions(rows pgx.Rows) ([]*domain.Action, error) {
	var actions []*domain.Action

	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}

	return actions, nil
}
