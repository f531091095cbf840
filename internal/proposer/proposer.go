// Package proposer turns health reports, violation windows and rolling
// stats into concrete Actions, assigning each a risk tier. Clean
// validations become memory confirmations, not Actions.
package proposer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"botguard/internal/domain"
	"botguard/internal/idhash"
	"botguard/internal/storage"
	"botguard/internal/violation"
)

// Policy defaults.
const (
	DefaultHardLockAfter = 3
	DefaultMaxLossStreak = 5
)

// Policy holds the escalation thresholds.
type Policy struct {
	// HardLockAfter is how many prior soft interventions for a
	// (bot, parameter) pair are tolerated before the next violation
	// forces a blocked hard lock.
	HardLockAfter int
	// MaxLossStreak is the consecutive-loss count that proposes pausing
	// a bot. 0 disables the rail.
	MaxLossStreak int
}

// Permissions maps action kinds to risk tiers. Kinds in neither list
// default to requires-approval.
type Permissions struct {
	AutoApproved []domain.ActionKind
	Blocked      []domain.ActionKind
}

// TierFor returns the risk tier for a kind. hard_lock is always blocked
// regardless of configuration.
func (p Permissions) TierFor(kind domain.ActionKind) domain.RiskTier {
	if kind == domain.ActionHardLock {
		return domain.TierBlocked
	}
	for _, k := range p.Blocked {
		if k == kind {
			return domain.TierBlocked
		}
	}
	for _, k := range p.AutoApproved {
		if k == kind {
			return domain.TierAuto
		}
	}
	return domain.TierApproval
}

// Options for creating a Proposer.
type Options struct {
	Actions     storage.ActionStore
	Policy      Policy
	Permissions Permissions
	Logger      *log.Logger
	Now         func() time.Time
}

// Proposer builds deduplicated Action proposals.
type Proposer struct {
	actions     storage.ActionStore
	policy      Policy
	permissions Permissions
	logger      *log.Logger
	now         func() time.Time
}

// New creates a Proposer.
func New(opts Options) *Proposer {
	p := &Proposer{
		actions:     opts.Actions,
		policy:      opts.Policy,
		permissions: opts.Permissions,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if p.policy.HardLockAfter <= 0 {
		p.policy.HardLockAfter = DefaultHardLockAfter
	}
	if p.logger == nil {
		p.logger = log.New(log.Writer(), "[proposer] ", log.LstdFlags)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Input is everything one cycle hands the Proposer for one bot.
type Input struct {
	Bot    domain.BotIdentity
	Health domain.HealthReport
	Report *violation.Report // nil when no telemetry was gathered
	Stats  domain.BotStats
}

// Confirmation is a clean-validation note destined for the memory log
// instead of the approval queue.
type Confirmation struct {
	Bot  string
	Text string
}

// Output is the proposals plus confirmations for one bot.
type Output struct {
	Proposals     []*domain.Action
	Confirmations []Confirmation
}

// Propose derives Actions for one bot. At most one pending Action per
// (bot, kind, parameter) key: keys with an unresolved Action are skipped.
func (p *Proposer) Propose(ctx context.Context, in Input) (*Output, error) {
	out := &Output{}

	if in.Bot.Disabled() {
		return out, nil
	}

	if err := p.proposeFromHealth(ctx, in, out); err != nil {
		return nil, err
	}
	if err := p.proposeFromViolations(ctx, in, out); err != nil {
		return nil, err
	}
	if err := p.proposeFromLossStreak(ctx, in, out); err != nil {
		return nil, err
	}

	if in.Report != nil && !in.Report.HasViolations() && len(in.Report.Compliant) > 0 {
		out.Confirmations = append(out.Confirmations, Confirmation{
			Bot:  in.Bot.Name,
			Text: fmt.Sprintf("%s validated clean: %d parameters within directives", in.Bot.Name, len(in.Report.Compliant)),
		})
	}

	return out, nil
}

func (p *Proposer) proposeFromHealth(ctx context.Context, in Input, out *Output) error {
	if in.Health.Status != domain.HealthDead {
		return nil
	}

	a := &domain.Action{
		Bot:         in.Bot.Name,
		Kind:        domain.ActionPauseBot,
		Description: fmt.Sprintf("pause %s: no trades for %s", in.Bot.Name, in.Health.StaleFor.Round(time.Second)),
		Reason:      fmt.Sprintf("DEAD: silent for %s", in.Health.StaleFor.Round(time.Second)),
	}
	return p.submit(ctx, a, out)
}

func (p *Proposer) proposeFromViolations(ctx context.Context, in Input, out *Output) error {
	if in.Report == nil {
		return nil
	}

	windows := make([]*domain.Violation, 0, len(in.Report.Opened)+len(in.Report.Extended))
	windows = append(windows, in.Report.Opened...)
	windows = append(windows, in.Report.Extended...)

	for _, w := range windows {
		escalate, prior, err := p.shouldHardLock(ctx, w)
		if err != nil {
			return err
		}

		var a *domain.Action
		if escalate {
			a = &domain.Action{
				Bot:       w.Bot,
				Kind:      domain.ActionHardLock,
				Parameter: w.Parameter,
				Value:     w.Expected,
				Description: fmt.Sprintf("hard-lock %s %s at %g after repeated drift",
					w.Bot, w.Parameter, w.Expected),
				Reason: fmt.Sprintf("drift window #%d, %d prior interventions ignored (observed %g, directive %g)",
					w.Occurrence, prior, w.Observed, w.Expected),
			}
		} else {
			a = &domain.Action{
				Bot:       w.Bot,
				Kind:      domain.ActionRevertParameter,
				Parameter: w.Parameter,
				Value:     w.Expected,
				Description: fmt.Sprintf("revert %s %s from %g to %g",
					w.Bot, w.Parameter, w.Observed, w.Expected),
				Reason: fmt.Sprintf("drift window #%d: %d trades over %s off directive",
					w.Occurrence, w.TradeCount, w.Duration().Round(time.Second)),
			}
		}
		if err := p.submit(ctx, a, out); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proposer) proposeFromLossStreak(ctx context.Context, in Input, out *Output) error {
	if p.policy.MaxLossStreak <= 0 || in.Stats.LossStreak < p.policy.MaxLossStreak {
		return nil
	}

	a := &domain.Action{
		Bot:         in.Bot.Name,
		Kind:        domain.ActionPauseBot,
		Description: fmt.Sprintf("pause %s: %d consecutive losses", in.Bot.Name, in.Stats.LossStreak),
		Reason:      fmt.Sprintf("loss streak %d at/above limit %d", in.Stats.LossStreak, p.policy.MaxLossStreak),
	}
	return p.submit(ctx, a, out)
}

// shouldHardLock decides escalation for a drift window: either the
// window index itself is past the threshold, or enough soft
// interventions for the pair were already proposed since the window
// opened and ignored.
func (p *Proposer) shouldHardLock(ctx context.Context, w *domain.Violation) (bool, int, error) {
	if w.Occurrence > p.policy.HardLockAfter {
		return true, w.Occurrence - 1, nil
	}

	prior, err := p.priorSoftInterventions(ctx, w)
	if err != nil {
		return false, 0, err
	}
	return prior >= p.policy.HardLockAfter, prior, nil
}

// priorSoftInterventions counts resolved revert proposals for the
// window's (bot, parameter) pair since the window opened.
func (p *Proposer) priorSoftInterventions(ctx context.Context, w *domain.Violation) (int, error) {
	history, err := p.actions.History(ctx, 200)
	if err != nil {
		return 0, fmt.Errorf("load action history: %w", err)
	}

	count := 0
	for _, a := range history {
		if a.Bot == w.Bot &&
			a.Kind == domain.ActionRevertParameter &&
			a.Parameter == w.Parameter &&
			!a.SubmittedAt.Before(w.FirstSeen) {
			count++
		}
	}
	return count, nil
}

// submit assigns tier, id and pending status, then inserts unless the
// deduplication key already has an unresolved Action.
func (p *Proposer) submit(ctx context.Context, a *domain.Action, out *Output) error {
	for _, existing := range out.Proposals {
		if existing.Key() == a.Key() {
			// Two triggers in one cycle, one proposal.
			return nil
		}
	}

	_, err := p.actions.PendingByKey(ctx, a.Key())
	if err == nil {
		// An identical proposal is already awaiting disposition.
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check pending action for %s/%s/%s: %w", a.Bot, a.Kind, a.Parameter, err)
	}

	now := p.now().UTC()
	a.Tier = p.permissions.TierFor(a.Kind)
	a.Status = domain.StatusPending
	a.SubmittedAt = now
	a.ID = idhash.ComputeActionID(a.Bot, a.Kind, a.Parameter, now.UnixMilli())

	p.logger.Printf("proposing %s for %s (%s tier): %s", a.Kind, a.Bot, a.Tier, a.Reason)
	out.Proposals = append(out.Proposals, a)
	return nil
}
