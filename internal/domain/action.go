package domain

import "time"

// ActionKind enumerates every corrective operation the supervisor can
// propose. The set is closed so that risk tiering and execution dispatch
// stay exhaustive.
type ActionKind string

const (
	ActionRevertParameter ActionKind = "revert_parameter"
	ActionPauseBot        ActionKind = "pause_bot"
	ActionResumeBot       ActionKind = "resume_bot"
	ActionHardLock        ActionKind = "hard_lock"
	ActionDisableFilter   ActionKind = "disable_filter"
	ActionEnableFilter    ActionKind = "enable_filter"
	ActionLogObservation  ActionKind = "log_observation"
)

// RiskTier controls whether an Action needs human approval.
type RiskTier string

const (
	TierAuto     RiskTier = "auto"     // executes without human input
	TierApproval RiskTier = "approval" // queued for operator disposition
	TierBlocked  RiskTier = "blocked"  // never awaits human input
)

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	StatusPending      ActionStatus = "pending"
	StatusApproved     ActionStatus = "approved"
	StatusRejected     ActionStatus = "rejected"
	StatusAutoApproved ActionStatus = "auto_approved"
	StatusBlocked      ActionStatus = "blocked"
	StatusExecuted     ActionStatus = "executed"
	StatusFailed       ActionStatus = "failed"
)

// Terminal reports whether the status is final. A terminal Action is
// never mutated again.
func (s ActionStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// Resolved reports whether the Action has left pending.
func (s ActionStatus) Resolved() bool {
	return s != StatusPending
}

// ActionKey is the deduplication key: at most one unresolved Action may
// exist per key at any time.
type ActionKey struct {
	Bot       string
	Kind      ActionKind
	Parameter Parameter
}

// Action is a proposed or executed corrective operation.
type Action struct {
	ID          string
	Bot         string
	Kind        ActionKind
	Parameter   Parameter // empty for kinds without a target parameter
	Value       float64   // target value for revert/hard-lock kinds
	Description string
	Reason      string
	Tier        RiskTier
	Status      ActionStatus
	SubmittedAt time.Time
	ResolvedAt  *time.Time // set exactly once, at first transition out of pending
	ResolvedBy  string     // "operator" | "supervisor" | "system"
}

// Key returns the deduplication key for the action.
func (a *Action) Key() ActionKey {
	return ActionKey{Bot: a.Bot, Kind: a.Kind, Parameter: a.Parameter}
}
