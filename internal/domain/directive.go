package domain

import "time"

// Parameter identifies a governed bot parameter.
type Parameter string

const (
	ParamStakeSize      Parameter = "stake_size"      // dollars per trade
	ParamMovementFilter Parameter = "movement_filter" // minimum |movement| to enter
	ParamConvictionMin  Parameter = "conviction_min"  // lower entry-price bound
	ParamConvictionMax  Parameter = "conviction_max"  // upper entry-price bound
	ParamEntryTiming    Parameter = "entry_timing"    // seconds before window close
)

// GovernedParameters lists the parameters checked for drift each cycle.
// entry_timing is governed but not observable per trade, so it is applied
// by the executor and excluded from drift detection.
var GovernedParameters = []Parameter{
	ParamStakeSize,
	ParamMovementFilter,
	ParamConvictionMin,
	ParamConvictionMax,
}

// Directive is an issued rule value for a (bot, parameter) pair.
// Directives are append-only; the most recent by IssuedAt is the
// enforcement baseline.
type Directive struct {
	Bot       string
	Parameter Parameter
	Value     float64
	IssuedBy  string // "operator" | "supervisor"
	IssuedAt  time.Time
}
