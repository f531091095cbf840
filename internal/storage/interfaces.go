package storage

import (
	"context"
	"time"

	"botguard/internal/domain"
)

// DirectiveStore provides access to directive storage. Directives are
// append-only: superseding a value appends a new Directive, never
// overwrites.
type DirectiveStore interface {
	// Append records a newly issued directive.
	Append(ctx context.Context, d *domain.Directive) error

	// Active retrieves the enforcement baseline for (bot, parameter):
	// the most recent directive by IssuedAt, ties resolving to the
	// latest appended. Returns ErrNotFound if no directive was ever
	// issued for the pair.
	Active(ctx context.Context, bot string, param domain.Parameter) (*domain.Directive, error)

	// ActiveForBot retrieves the active directive for every governed
	// parameter of a bot.
	ActiveForBot(ctx context.Context, bot string) ([]*domain.Directive, error)

	// History retrieves all directives for (bot, parameter), ordered by
	// IssuedAt ASC.
	History(ctx context.Context, bot string, param domain.Parameter) ([]*domain.Directive, error)
}

// ViolationStore provides access to violation windows. Windows are
// appended when opened and extended while contiguous; they are never
// deleted.
type ViolationStore interface {
	// Append adds a new violation window. Returns ErrDuplicateKey if
	// violation_id exists.
	Append(ctx context.Context, v *domain.Violation) error

	// Extend updates the open end of an existing window: last trade id,
	// last seen timestamp, observed value and trade count. Returns
	// ErrNotFound if violation_id is absent.
	Extend(ctx context.Context, violationID, lastTradeID string, lastSeen time.Time, observed float64, tradeCount int) error

	// Close marks a window ended by a compliant trade at the given time.
	// Closing an already closed window keeps the original timestamp.
	// Returns ErrNotFound if violation_id is absent.
	Close(ctx context.Context, violationID string, at time.Time) error

	// Latest retrieves the most recent window for (bot, parameter) by
	// FirstSeen. Returns ErrNotFound if the pair has no windows.
	Latest(ctx context.Context, bot string, param domain.Parameter) (*domain.Violation, error)

	// GetByBot retrieves all windows for a bot, ordered by FirstSeen ASC.
	GetByBot(ctx context.Context, bot string) ([]*domain.Violation, error)
}

// ActionStore provides access to action storage. Status transitions out
// of pending are atomic test-and-set.
type ActionStore interface {
	// Insert adds a new action. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, a *domain.Action) error

	// GetByID retrieves an action by id. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, actionID string) (*domain.Action, error)

	// Resolve transitions a pending action to status, setting ResolvedAt
	// and ResolvedBy exactly once. Returns ErrNotFound if the id is
	// absent and ErrAlreadyResolved if the action has left pending.
	Resolve(ctx context.Context, actionID string, status domain.ActionStatus, resolvedBy string, at time.Time) (*domain.Action, error)

	// MarkOutcome transitions an approved/auto_approved/blocked action to
	// executed or failed. Returns ErrNotFound if absent, ErrInvalidInput
	// if the action is not in an executable status.
	MarkOutcome(ctx context.Context, actionID string, status domain.ActionStatus) (*domain.Action, error)

	// ByStatus retrieves all actions with the given status, ordered by
	// SubmittedAt ASC.
	ByStatus(ctx context.Context, status domain.ActionStatus) ([]*domain.Action, error)

	// PendingByKey retrieves the unresolved action for a deduplication
	// key, if any. Returns ErrNotFound when no action is pending for it.
	PendingByKey(ctx context.Context, key domain.ActionKey) (*domain.Action, error)

	// History retrieves resolved actions, most recent first, up to limit.
	History(ctx context.Context, limit int) ([]*domain.Action, error)
}

// ObservationStore archives trade observations across cycles for
// duplicate lookback and rolling stats.
type ObservationStore interface {
	// InsertBulk appends observations. Re-inserting an already archived
	// (bot, trade_id, recorded_at) tuple is not an error: the archive
	// keeps every reported row so duplicate flags stay visible.
	InsertBulk(ctx context.Context, obs []*domain.TradeObservation) error

	// RecentByBot retrieves the latest observations for a bot, ordered by
	// RecordedAt DESC, up to limit.
	RecentByBot(ctx context.Context, bot string, limit int) ([]*domain.TradeObservation, error)

	// GetByTimeRange retrieves observations for a bot within [start, end]
	// (inclusive), ordered by RecordedAt ASC.
	GetByTimeRange(ctx context.Context, bot string, start, end time.Time) ([]*domain.TradeObservation, error)
}

// BudgetStore persists the budget ledger between restarts.
type BudgetStore interface {
	// Load retrieves the persisted ledger. Returns ErrNotFound if no
	// ledger was ever saved.
	Load(ctx context.Context) (*domain.BudgetLedger, error)

	// Save overwrites the persisted ledger.
	Save(ctx context.Context, l *domain.BudgetLedger) error
}
