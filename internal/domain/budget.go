package domain

import "time"

// WindowState is the mutable accumulator for one budget accounting window.
// Monotonically increasing within a window; reset when the boundary is
// crossed.
type WindowState struct {
	Start time.Time // window start (midnight UTC for daily, first of month for monthly)
	Cost  float64
	Calls int
}

// BudgetLedger is the persisted spend state across both windows.
type BudgetLedger struct {
	Daily   WindowState
	Monthly WindowState
}

// WindowView is a read-only view of one window with its ceilings, for
// dashboard consumers.
type WindowView struct {
	Cost        float64
	Calls       int
	CostCeiling float64
	CallCeiling int // 0 means unlimited
	Start       time.Time
}

// BudgetSnapshot is the dashboard view of the budget guard.
type BudgetSnapshot struct {
	Daily   WindowView
	Monthly WindowView
	CanCall bool
}
