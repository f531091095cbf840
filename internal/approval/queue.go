// Package approval routes proposed Actions through the human-approval
// lifecycle. Resolution is atomic test-and-set on the store: a resolved
// Action can never be re-resolved or double-executed.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// ErrNotFound is returned by Approve and Reject when the id is unknown
// or the Action has already been resolved.
var ErrNotFound = errors.New("action not found or already resolved")

// Options for creating a Queue.
type Options struct {
	Actions storage.ActionStore
	Logger  *log.Logger
	Now     func() time.Time
}

// Queue wraps the action store with tier-aware submission and operator
// disposition.
type Queue struct {
	actions storage.ActionStore
	logger  *log.Logger
	now     func() time.Time
}

// NewQueue creates a Queue.
func NewQueue(opts Options) *Queue {
	q := &Queue{
		actions: opts.Actions,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if q.logger == nil {
		q.logger = log.New(log.Writer(), "[approval] ", log.LstdFlags)
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Submit routes a proposal by its risk tier. Approval-tier Actions stay
// pending; auto-approvable ones resolve straight to auto_approved;
// blocked ones resolve to blocked without ever awaiting input. The
// returned Action reflects the routed status.
func (q *Queue) Submit(ctx context.Context, a *domain.Action) (*domain.Action, error) {
	if err := q.actions.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert action %s: %w", a.ID, err)
	}

	switch a.Tier {
	case domain.TierAuto:
		return q.resolve(ctx, a.ID, domain.StatusAutoApproved, "supervisor")
	case domain.TierBlocked:
		return q.resolve(ctx, a.ID, domain.StatusBlocked, "supervisor")
	default:
		q.logger.Printf("queued for approval: %s %s (%s)", a.ID, a.Kind, a.Bot)
		return q.actions.GetByID(ctx, a.ID)
	}
}

// Approve resolves a pending Action to approved.
func (q *Queue) Approve(ctx context.Context, actionID string) (*domain.Action, error) {
	return q.dispose(ctx, actionID, domain.StatusApproved)
}

// Reject resolves a pending Action to rejected.
func (q *Queue) Reject(ctx context.Context, actionID string) (*domain.Action, error) {
	return q.dispose(ctx, actionID, domain.StatusRejected)
}

func (q *Queue) dispose(ctx context.Context, actionID string, status domain.ActionStatus) (*domain.Action, error) {
	a, err := q.actions.Resolve(ctx, actionID, status, "operator", q.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyResolved) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve action %s: %w", actionID, err)
	}
	q.logger.Printf("%s: %s %s (%s)", status, a.ID, a.Kind, a.Bot)
	return a, nil
}

// AutoReject resolves a pending Action to rejected on the system's own
// authority, recording why. Used when the underlying violation
// self-resolved while the Action waited.
func (q *Queue) AutoReject(ctx context.Context, actionID, reason string) (*domain.Action, error) {
	a, err := q.actions.Resolve(ctx, actionID, domain.StatusRejected, "system", q.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyResolved) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auto-reject action %s: %w", actionID, err)
	}
	q.logger.Printf("auto-rejected %s: %s", actionID, reason)
	return a, nil
}

// Pending lists Actions awaiting disposition, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]*domain.Action, error) {
	return q.actions.ByStatus(ctx, domain.StatusPending)
}

// PendingByKey returns the unresolved Action for a deduplication key.
// Returns storage.ErrNotFound when the key has none.
func (q *Queue) PendingByKey(ctx context.Context, key domain.ActionKey) (*domain.Action, error) {
	return q.actions.PendingByKey(ctx, key)
}

// Approved lists operator-approved Actions awaiting execution, oldest
// first.
func (q *Queue) Approved(ctx context.Context) ([]*domain.Action, error) {
	return q.actions.ByStatus(ctx, domain.StatusApproved)
}

// History lists resolved Actions, most recent first, up to limit.
func (q *Queue) History(ctx context.Context, limit int) ([]*domain.Action, error) {
	return q.actions.History(ctx, limit)
}

func (q *Queue) resolve(ctx context.Context, actionID string, status domain.ActionStatus, by string) (*domain.Action, error) {
	a, err := q.actions.Resolve(ctx, actionID, status, by, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("route action %s to %s: %w", actionID, status, err)
	}
	q.logger.Printf("%s: %s %s (%s)", status, a.ID, a.Kind, a.Bot)
	return a, nil
}
