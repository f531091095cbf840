package domain

import "time"

// Violation is a contiguous window of trades departing from the active
// Directive for one (bot, parameter) pair. Windows are appended, never
// deleted; a window extends while no compliant trade interposes.
type Violation struct {
	ViolationID  string
	Bot          string
	Parameter    Parameter
	Expected     float64 // active Directive value at detection
	Observed     float64 // most recent offending value
	FirstTradeID string
	LastTradeID  string
	FirstSeen    time.Time
	LastSeen     time.Time
	TradeCount   int
	// Occurrence is the window index for this (bot, parameter) pair.
	// It increases by one each time a new window opens after a compliant
	// trade closed the previous one, and never resets.
	Occurrence int
	// ClosedAt is the timestamp of the compliant trade that ended the
	// window. Nil while the window remains extendable.
	ClosedAt *time.Time
}

// Closed reports whether a compliant trade has ended the window.
func (v *Violation) Closed() bool {
	return v.ClosedAt != nil
}

// Duration is the continuous-violation duration of the window.
func (v *Violation) Duration() time.Duration {
	return v.LastSeen.Sub(v.FirstSeen)
}

// DuplicateFlag marks two trades that look like the same trade recorded
// twice: identical id, entry, movement, stake and side within a short
// timestamp epsilon. Reported for external resolution, never deduplicated.
type DuplicateFlag struct {
	Bot        string
	TradeID    string
	FirstSeen  time.Time
	SecondSeen time.Time
	Gap        time.Duration
	Stake      float64
	EntryPrice float64
}
