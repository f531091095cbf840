// Package violation detects parameter drift against active directives
// and flags duplicate trade executions. Drift is tracked as contiguous
// windows: a window extends while offending trades keep arriving and
// closes only when a compliant trade interposes.
package violation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"botguard/internal/domain"
	"botguard/internal/idhash"
	"botguard/internal/storage"
)

// Defaults for detector tuning.
const (
	DefaultTolerance        = 1e-9
	DefaultDuplicateEpsilon = 2 * time.Second
)

// Options for creating a Detector.
type Options struct {
	Directives storage.DirectiveStore
	Violations storage.ViolationStore

	// Tolerance is the float comparison slack for equality-style checks.
	Tolerance float64
	// DuplicateEpsilon is the max timestamp gap for two identical trades
	// to count as one trade recorded twice.
	DuplicateEpsilon time.Duration

	Logger *log.Logger
}

// Detector checks one bot's trades per cycle.
type Detector struct {
	directives storage.DirectiveStore
	violations storage.ViolationStore
	tolerance  float64
	dupEpsilon time.Duration
	logger     *log.Logger
}

// NewDetector creates a Detector.
func NewDetector(opts Options) *Detector {
	d := &Detector{
		directives: opts.Directives,
		violations: opts.Violations,
		tolerance:  opts.Tolerance,
		dupEpsilon: opts.DuplicateEpsilon,
		logger:     opts.Logger,
	}
	if d.tolerance <= 0 {
		d.tolerance = DefaultTolerance
	}
	if d.dupEpsilon <= 0 {
		d.dupEpsilon = DefaultDuplicateEpsilon
	}
	if d.logger == nil {
		d.logger = log.New(log.Writer(), "[violation] ", log.LstdFlags)
	}
	return d
}

// Report is the outcome of checking one bot for one cycle.
type Report struct {
	Bot string

	// Opened are windows that started this cycle.
	Opened []*domain.Violation
	// Extended are pre-existing windows that grew this cycle.
	Extended []*domain.Violation
	// Compliant lists parameters that had an active directive and only
	// compliant trades this cycle.
	Compliant []domain.Parameter

	// Conflicts lists parameters whose enforcement baseline is
	// ambiguous: competing directives issued at the same instant.
	Conflicts []ConfigConflict

	Duplicates []domain.DuplicateFlag
}

// ConfigConflict marks competing directives issued for one pair at the
// same instant. The latest appended wins enforcement; the conflict is
// surfaced, never silently resolved.
type ConfigConflict struct {
	Bot       string
	Parameter domain.Parameter
	IssuedAt  time.Time
	Values    []float64
	Winner    float64
}

// HasViolations reports whether any window opened or extended.
func (r *Report) HasViolations() bool {
	return len(r.Opened) > 0 || len(r.Extended) > 0
}

// Check examines a bot's new trades against its active directives.
// Trades are processed in RecordedAt order regardless of input order.
func (d *Detector) Check(ctx context.Context, bot string, trades []domain.TradeObservation) (*Report, error) {
	report := &Report{Bot: bot}

	ordered := make([]domain.TradeObservation, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RecordedAt.Before(ordered[j].RecordedAt)
	})

	report.Duplicates = findDuplicates(bot, ordered, d.dupEpsilon)

	for _, param := range domain.GovernedParameters {
		directive, err := d.directives.Active(ctx, bot, param)
		if errors.Is(err, storage.ErrNotFound) {
			// Ungoverned parameter, nothing to enforce.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load active directive for %s/%s: %w", bot, param, err)
		}

		conflict, err := d.findConflict(ctx, directive)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			d.logger.Printf("%s: conflicting %s directives issued at %s (values %v), enforcing %g",
				bot, param, conflict.IssuedAt.Format(time.RFC3339), conflict.Values, conflict.Winner)
			report.Conflicts = append(report.Conflicts, *conflict)
		}

		if err := d.checkParameter(ctx, report, directive, ordered); err != nil {
			return nil, err
		}
	}

	return report, nil
}

// checkParameter walks the trades for one governed parameter, extending
// or opening windows and closing on compliant interposition.
func (d *Detector) checkParameter(ctx context.Context, report *Report, directive *domain.Directive, trades []domain.TradeObservation) error {
	bot, param := directive.Bot, directive.Parameter

	// The latest stored window, if not closed, is the open candidate:
	// it stays extendable until a compliant trade interposes. Its end
	// (or its closure) is the floor below which trades were already
	// processed in a previous cycle.
	open, floor, occurrence, err := d.loadOpenWindow(ctx, bot, param)
	if err != nil {
		return err
	}

	sawViolation := false
	sawTrade := false

	for i := range trades {
		trade := &trades[i]
		// Overlapping snapshots re-deliver processed trades; skip them.
		if !trade.RecordedAt.After(floor) {
			continue
		}

		observed, ok := observedValue(param, trade)
		if !ok {
			continue
		}
		sawTrade = true

		if compliant(param, directive.Value, observed, d.tolerance) {
			// Compliant interposition: the current window closes and
			// the next offense opens a fresh one. Closure is persisted
			// so a window closed at a cycle's end stays closed when the
			// next cycle's snapshot starts with fresh drift.
			if open != nil {
				if err := d.violations.Close(ctx, open.ViolationID, trade.RecordedAt); err != nil {
					return fmt.Errorf("close violation %s: %w", open.ViolationID, err)
				}
				open = nil
			}
			continue
		}

		sawViolation = true
		if open != nil {
			open.LastTradeID = trade.TradeID
			open.LastSeen = trade.RecordedAt
			open.Observed = observed
			open.TradeCount++
			if err := d.violations.Extend(ctx, open.ViolationID, open.LastTradeID, open.LastSeen, open.Observed, open.TradeCount); err != nil {
				return fmt.Errorf("extend violation %s: %w", open.ViolationID, err)
			}
			markExtended(report, open)
			continue
		}

		occurrence++
		open = &domain.Violation{
			ViolationID:  idhash.ComputeViolationID(bot, param, occurrence, trade.RecordedAt.UnixMilli()),
			Bot:          bot,
			Parameter:    param,
			Expected:     directive.Value,
			Observed:     observed,
			FirstTradeID: trade.TradeID,
			LastTradeID:  trade.TradeID,
			FirstSeen:    trade.RecordedAt,
			LastSeen:     trade.RecordedAt,
			TradeCount:   1,
			Occurrence:   occurrence,
		}
		if err := d.violations.Append(ctx, open); err != nil {
			return fmt.Errorf("open violation window %s: %w", open.ViolationID, err)
		}
		d.logger.Printf("%s: %s drift window #%d opened (expected %g, observed %g)",
			bot, param, occurrence, directive.Value, observed)
		report.Opened = append(report.Opened, open)
	}

	if sawTrade && !sawViolation {
		report.Compliant = append(report.Compliant, param)
	}
	return nil
}

// findConflict reports competing directives sharing the active
// directive's issuance instant.
func (d *Detector) findConflict(ctx context.Context, active *domain.Directive) (*ConfigConflict, error) {
	history, err := d.directives.History(ctx, active.Bot, active.Parameter)
	if err != nil {
		return nil, fmt.Errorf("load directive history for %s/%s: %w", active.Bot, active.Parameter, err)
	}

	var values []float64
	for _, dir := range history {
		if dir.IssuedAt.Equal(active.IssuedAt) {
			values = append(values, dir.Value)
		}
	}
	if len(values) < 2 {
		return nil, nil
	}

	return &ConfigConflict{
		Bot:       active.Bot,
		Parameter: active.Parameter,
		IssuedAt:  active.IssuedAt,
		Values:    values,
		Winner:    active.Value,
	}, nil
}

// loadOpenWindow fetches the latest stored window for the pair, the
// already-processed floor, and the highest occurrence so far. A closed
// window is never the open candidate: fresh drift after it opens a new
// window at occurrence+1, but its closure timestamp still bounds which
// re-delivered trades to skip.
func (d *Detector) loadOpenWindow(ctx context.Context, bot string, param domain.Parameter) (*domain.Violation, time.Time, int, error) {
	latest, err := d.violations.Latest(ctx, bot, param)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, time.Time{}, 0, nil
	}
	if err != nil {
		return nil, time.Time{}, 0, fmt.Errorf("load latest violation for %s/%s: %w", bot, param, err)
	}

	floor := latest.LastSeen
	if latest.Closed() {
		if latest.ClosedAt.After(floor) {
			floor = *latest.ClosedAt
		}
		return nil, floor, latest.Occurrence, nil
	}
	return latest, floor, latest.Occurrence, nil
}

// markExtended records a window in Extended once. Windows opened this
// cycle report only under Opened, however many trades they absorb.
func markExtended(report *Report, w *domain.Violation) {
	for _, o := range report.Opened {
		if o.ViolationID == w.ViolationID {
			return
		}
	}
	for _, e := range report.Extended {
		if e.ViolationID == w.ViolationID {
			return
		}
	}
	report.Extended = append(report.Extended, w)
}

// observedValue extracts the per-trade observable for a parameter.
// entry_timing is governed but not observable per trade, so governed
// parameters without an observable are skipped upstream.
func observedValue(param domain.Parameter, trade *domain.TradeObservation) (float64, bool) {
	switch param {
	case domain.ParamStakeSize:
		return trade.Stake, true
	case domain.ParamMovementFilter:
		return trade.Movement, true
	case domain.ParamConvictionMin, domain.ParamConvictionMax:
		return trade.EntryPrice, true
	default:
		return 0, false
	}
}

// compliant evaluates one trade against the directive value.
func compliant(param domain.Parameter, expected, observed, tol float64) bool {
	switch param {
	case domain.ParamStakeSize:
		return math.Abs(observed-expected) <= tol
	case domain.ParamMovementFilter:
		return math.Abs(observed) >= expected-tol
	case domain.ParamConvictionMin:
		return observed >= expected-tol
	case domain.ParamConvictionMax:
		return observed <= expected+tol
	default:
		return true
	}
}

// findDuplicates flags pairs of trades that look like one trade recorded
// twice: same id, entry, movement, stake and side within epsilon.
// Flagged only, never merged or dropped.
func findDuplicates(bot string, ordered []domain.TradeObservation, epsilon time.Duration) []domain.DuplicateFlag {
	var flags []domain.DuplicateFlag
	byID := make(map[string]int) // trade id -> index of last occurrence

	for i := range ordered {
		trade := &ordered[i]
		if prev, ok := byID[trade.TradeID]; ok {
			first := &ordered[prev]
			gap := trade.RecordedAt.Sub(first.RecordedAt)
			if gap <= epsilon && sameTrade(first, trade) {
				flags = append(flags, domain.DuplicateFlag{
					Bot:        bot,
					TradeID:    trade.TradeID,
					FirstSeen:  first.RecordedAt,
					SecondSeen: trade.RecordedAt,
					Gap:        gap,
					Stake:      trade.Stake,
					EntryPrice: trade.EntryPrice,
				})
			}
		}
		byID[trade.TradeID] = i
	}

	return flags
}

func sameTrade(a, b *domain.TradeObservation) bool {
	return a.EntryPrice == b.EntryPrice &&
		a.Movement == b.Movement &&
		a.Stake == b.Stake &&
		a.Side == b.Side
}
