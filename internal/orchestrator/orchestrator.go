// Package orchestrator runs the supervision cycle.
// Flow: budget gate → telemetry → health → violations → proposals →
// routing → execution → cycle summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"botguard/internal/approval"
	"botguard/internal/budget"
	"botguard/internal/domain"
	"botguard/internal/executor"
	"botguard/internal/health"
	"botguard/internal/memlog"
	"botguard/internal/observability"
	"botguard/internal/proposer"
	"botguard/internal/stats"
	"botguard/internal/storage"
	"botguard/internal/telemetry"
	"botguard/internal/violation"
)

// DefaultStaleAlertInterval throttles repeated STALE alerts per bot.
const DefaultStaleAlertInterval = 5 * time.Minute

// DefaultCycleCost is the estimated cost reserved per cycle when the
// cycle itself consumes metered analysis.
const DefaultCycleCost = 0.05

// Options for creating an Orchestrator.
type Options struct {
	// Roster
	Bots     []domain.BotIdentity
	Cadences map[string]time.Duration // expected trade interval per bot

	// Components
	Source       telemetry.Source
	Observations storage.ObservationStore
	Guard        *budget.Guard
	Monitor      *health.Monitor
	Detector     *violation.Detector
	Proposer     *proposer.Proposer
	Queue        *approval.Queue
	Executor     *executor.Executor
	Memory       *memlog.Log
	Metrics      *observability.Metrics // optional

	// Events receives every chat event the cycle emits. Optional.
	Events func(domain.ChatEvent)

	// Tuning
	StatsWindow        int
	CycleCost          float64       // estimated metered cost per cycle
	StaleAlertInterval time.Duration // min gap between STALE alerts per bot

	Logger  *log.Logger
	Verbose bool
	Now     func() time.Time
}

// Orchestrator coordinates one supervision cycle at a time.
type Orchestrator struct {
	bots     []domain.BotIdentity
	cadences map[string]time.Duration

	source       telemetry.Source
	observations storage.ObservationStore
	guard        *budget.Guard
	monitor      *health.Monitor
	detector     *violation.Detector
	proposer     *proposer.Proposer
	queue        *approval.Queue
	executor     *executor.Executor
	memory       *memlog.Log
	metrics      *observability.Metrics
	events       func(domain.ChatEvent)

	statsWindow   int
	cycleCost     float64
	staleInterval time.Duration

	logger  *log.Logger
	verbose bool
	now     func() time.Time

	mu             sync.Mutex
	lastStaleAlert map[string]time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		bots:           opts.Bots,
		cadences:       opts.Cadences,
		source:         opts.Source,
		observations:   opts.Observations,
		guard:          opts.Guard,
		monitor:        opts.Monitor,
		detector:       opts.Detector,
		proposer:       opts.Proposer,
		queue:          opts.Queue,
		executor:       opts.Executor,
		memory:         opts.Memory,
		metrics:        opts.Metrics,
		events:         opts.Events,
		statsWindow:    opts.StatsWindow,
		cycleCost:      opts.CycleCost,
		staleInterval:  opts.StaleAlertInterval,
		logger:         opts.Logger,
		verbose:        opts.Verbose,
		now:            opts.Now,
		lastStaleAlert: make(map[string]time.Time),
	}
	if o.statsWindow <= 0 {
		o.statsWindow = stats.DefaultWindow
	}
	if o.cycleCost <= 0 {
		o.cycleCost = DefaultCycleCost
	}
	if o.staleInterval <= 0 {
		o.staleInterval = DefaultStaleAlertInterval
	}
	if o.logger == nil {
		o.logger = log.New(log.Writer(), "[orchestrator] ", log.LstdFlags)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.events == nil {
		o.events = func(domain.ChatEvent) {}
	}
	return o
}

// CycleResult summarizes one supervision cycle.
type CycleResult struct {
	Skipped bool // budget guard denied the cycle

	BotsChecked     int
	WindowsOpened   int
	WindowsExtended int
	Duplicates      int
	Proposed        int
	Executed        int
	Failed          int
	AutoRejected    int

	Errors []string
}

// RunCycle executes one supervision cycle. Per-bot component failures
// are collected in the result, never propagated: the loop must survive
// any single failure. Only a broken budget gate returns an error.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	started := o.now().UTC()
	result := &CycleResult{}

	// Budget gate first: a denied cycle does nothing but record itself.
	if err := o.guard.Reserve(o.cycleCost); err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			o.logger.Printf("cycle skipped: %v", err)
			o.remember(domain.SectionDecisions, fmt.Sprintf("cycle skipped: %v", err))
			o.emit(domain.LevelWarning, "supervisor", fmt.Sprintf("cycle skipped: %v", err))
			if o.metrics != nil {
				o.metrics.BudgetDenials.Inc()
				o.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
			}
			result.Skipped = true
			return result, nil
		}
		return nil, fmt.Errorf("budget gate: %w", err)
	}

	// Compliant parameters per bot this cycle, for stale-pending review.
	compliantByBot := make(map[string][]domain.Parameter)

	for _, bot := range o.bots {
		result.BotsChecked++
		if err := o.checkBot(ctx, bot, result, compliantByBot); err != nil {
			// Caught at the cycle boundary: log, record, continue.
			o.logger.Printf("bot %s check failed: %v", bot.Name, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", bot.Name, err))
			o.emit(domain.LevelError, "supervisor", fmt.Sprintf("check failed for %s: %v", bot.Name, err))
		}
	}

	o.executeApproved(ctx, result)
	o.reviewStalePending(ctx, result, compliantByBot)

	if err := o.guard.Record(ctx, o.cycleCost); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("budget record: %v", err))
	}

	o.finishCycle(started, result)
	return result, nil
}

// checkBot runs telemetry → health → violations → stats → proposals →
// routing → immediate execution for one bot.
func (o *Orchestrator) checkBot(ctx context.Context, bot domain.BotIdentity, result *CycleResult, compliantByBot map[string][]domain.Parameter) error {
	now := o.now().UTC()

	snap, err := o.source.Snapshot(ctx, bot.Name)
	if err != nil {
		// A dead feed is itself staleness evidence: classify from the
		// last archived trade so STALE/DEAD still surfaces, then skip
		// detection and proposing for the bot.
		o.recordHealth(o.monitor.Check(bot, o.lastArchivedTrade(ctx, bot.Name), o.cadences[bot.Name], now))
		return fmt.Errorf("telemetry snapshot: %w", err)
	}

	if len(snap.Trades) > 0 && o.observations != nil {
		archived := make([]*domain.TradeObservation, 0, len(snap.Trades))
		for i := range snap.Trades {
			archived = append(archived, &snap.Trades[i])
		}
		if err := o.observations.InsertBulk(ctx, archived); err != nil {
			return fmt.Errorf("archive observations: %w", err)
		}
	}

	report := o.monitor.Check(bot, snap.LastTradeAt, o.cadences[bot.Name], now)
	o.recordHealth(report)

	in := proposer.Input{Bot: bot, Health: report}

	if !bot.Disabled() {
		vreport, err := o.detector.Check(ctx, bot.Name, snap.Trades)
		if err != nil {
			return fmt.Errorf("violation check: %w", err)
		}
		in.Report = vreport

		result.WindowsOpened += len(vreport.Opened)
		result.WindowsExtended += len(vreport.Extended)
		result.Duplicates += len(vreport.Duplicates)
		compliantByBot[bot.Name] = vreport.Compliant

		for _, w := range vreport.Opened {
			o.emit(domain.LevelWarning, "supervisor", fmt.Sprintf(
				"%s drifted on %s: observed %g, directive %g (window #%d)",
				w.Bot, w.Parameter, w.Observed, w.Expected, w.Occurrence))
			if o.metrics != nil {
				o.metrics.ViolationWindowsOpened.WithLabelValues(string(w.Parameter)).Inc()
			}
		}
		for _, w := range vreport.Extended {
			if o.metrics != nil {
				o.metrics.ViolationWindowsExtended.WithLabelValues(string(w.Parameter)).Inc()
			}
		}
		for _, c := range vreport.Conflicts {
			note := fmt.Sprintf("conflicting directives for %s %s issued at %s: values %v, enforcing %g",
				c.Bot, c.Parameter, c.IssuedAt.Format(time.RFC3339), c.Values, c.Winner)
			o.emit(domain.LevelWarning, "supervisor", note)
			o.remember(domain.SectionKnownIssues, note)
		}
		for _, d := range vreport.Duplicates {
			o.emit(domain.LevelWarning, "supervisor", fmt.Sprintf(
				"%s executed trade %s twice within %s ($%.2f at %.2f)",
				d.Bot, d.TradeID, d.Gap, d.Stake, d.EntryPrice))
			if o.metrics != nil {
				o.metrics.DuplicateTradesFlagged.Inc()
			}
		}

		in.Stats = o.computeStats(ctx, bot.Name, snap)
	}

	out, err := o.proposer.Propose(ctx, in)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}

	for _, c := range out.Confirmations {
		o.remember(domain.SectionWhatWorked, c.Text)
		if o.verbose {
			o.logger.Printf("confirmation: %s", c.Text)
		}
	}

	for _, a := range out.Proposals {
		if err := o.routeProposal(ctx, a, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", bot.Name, err))
		}
	}

	return nil
}

// routeProposal submits one proposal and executes it immediately when
// routing leaves it executable. Blocked actions execute in the same
// cycle they are proposed: they never await human input.
func (o *Orchestrator) routeProposal(ctx context.Context, a *domain.Action, result *CycleResult) error {
	routed, err := o.queue.Submit(ctx, a)
	if err != nil {
		return fmt.Errorf("submit %s: %w", a.Kind, err)
	}

	result.Proposed++
	if o.metrics != nil {
		o.metrics.ActionsProposed.WithLabelValues(string(routed.Kind), string(routed.Tier)).Inc()
	}

	switch routed.Status {
	case domain.StatusPending:
		o.emit(domain.LevelInfo, "supervisor", fmt.Sprintf(
			"approval needed [%s]: %s", routed.ID, routed.Description))
		return nil
	case domain.StatusBlocked:
		o.emit(domain.LevelWarning, "supervisor", fmt.Sprintf(
			"blocked action executing without approval: %s", routed.Description))
	}

	o.execute(ctx, routed, result)
	return nil
}

// executeApproved runs every action the operator approved since the
// last cycle.
func (o *Orchestrator) executeApproved(ctx context.Context, result *CycleResult) {
	ready, err := o.queue.Approved(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list approved: %v", err))
		return
	}
	for _, a := range ready {
		o.execute(ctx, a, result)
	}
}

func (o *Orchestrator) execute(ctx context.Context, a *domain.Action, result *CycleResult) {
	executed, err := o.executor.Execute(ctx, a)
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("execute %s: %v", a.ID, err))
		if o.metrics != nil {
			o.metrics.ActionsExecuted.WithLabelValues(string(a.Kind), "failed").Inc()
		}
		return
	}

	result.Executed++
	o.emit(domain.LevelSuccess, "supervisor", fmt.Sprintf("executed: %s", executed.Description))
	if o.metrics != nil {
		o.metrics.ActionsExecuted.WithLabelValues(string(executed.Kind), "executed").Inc()
	}
}

// reviewStalePending auto-rejects pending revert actions whose
// parameter came back compliant on its own this cycle.
func (o *Orchestrator) reviewStalePending(ctx context.Context, result *CycleResult, compliantByBot map[string][]domain.Parameter) {
	pending, err := o.queue.Pending(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("review pending: %v", err))
		return
	}

	for _, a := range pending {
		if a.Kind != domain.ActionRevertParameter {
			continue
		}
		if !containsParam(compliantByBot[a.Bot], a.Parameter) {
			continue
		}

		reason := fmt.Sprintf("%s %s back within directive before disposition", a.Bot, a.Parameter)
		if _, err := o.queue.AutoReject(ctx, a.ID, reason); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("auto-reject %s: %v", a.ID, err))
			continue
		}
		result.AutoRejected++
		o.remember(domain.SectionDecisions, "auto-rejected stale proposal: "+reason)
		o.emit(domain.LevelInfo, "supervisor", "withdrawn: "+a.Description+" ("+reason+")")
	}
}

// lastArchivedTrade is the fallback last-trade timestamp when the live
// feed is down. Zero when the bot has no archived observations.
func (o *Orchestrator) lastArchivedTrade(ctx context.Context, bot string) time.Time {
	if o.observations == nil {
		return time.Time{}
	}
	recent, err := o.observations.RecentByBot(ctx, bot, 1)
	if err != nil || len(recent) == 0 {
		return time.Time{}
	}
	return recent[0].RecordedAt
}

func (o *Orchestrator) computeStats(ctx context.Context, bot string, snap *domain.TelemetrySnapshot) domain.BotStats {
	if o.observations != nil {
		archived, err := o.observations.RecentByBot(ctx, bot, o.statsWindow*2)
		if err == nil && len(archived) > 0 {
			return stats.Compute(bot, archived, o.statsWindow)
		}
	}

	fallback := make([]*domain.TradeObservation, 0, len(snap.Trades))
	for i := range snap.Trades {
		fallback = append(fallback, &snap.Trades[i])
	}
	return stats.Compute(bot, fallback, o.statsWindow)
}

// recordHealth emits throttled staleness alerts and updates gauges.
func (o *Orchestrator) recordHealth(report domain.HealthReport) {
	if o.metrics != nil {
		for _, status := range []domain.HealthStatus{domain.HealthHealthy, domain.HealthStale, domain.HealthDead, domain.HealthDisabled} {
			v := 0.0
			if status == report.Status {
				v = 1.0
			}
			o.metrics.BotHealthStatus.WithLabelValues(report.Bot, string(status)).Set(v)
		}
	}

	if report.Status != domain.HealthStale && report.Status != domain.HealthDead {
		return
	}

	o.mu.Lock()
	last := o.lastStaleAlert[report.Bot]
	throttled := !last.IsZero() && report.CheckedAt.Sub(last) < o.staleInterval
	if !throttled {
		o.lastStaleAlert[report.Bot] = report.CheckedAt
	}
	o.mu.Unlock()

	if throttled {
		return
	}

	level := domain.LevelWarning
	if report.Status == domain.HealthDead {
		level = domain.LevelError
	}
	o.emit(level, "watchdog", fmt.Sprintf("%s is %s: no trades for %s",
		report.Bot, report.Status, report.StaleFor.Round(time.Second)))
}

func (o *Orchestrator) finishCycle(started time.Time, result *CycleResult) {
	elapsed := o.now().UTC().Sub(started)

	summary := fmt.Sprintf(
		"cycle: %d bots, %d windows opened, %d extended, %d duplicates, %d proposed, %d executed, %d failed",
		result.BotsChecked, result.WindowsOpened, result.WindowsExtended,
		result.Duplicates, result.Proposed, result.Executed, result.Failed)
	if len(result.Errors) > 0 {
		summary += fmt.Sprintf(", %d errors: %s", len(result.Errors), strings.Join(result.Errors, "; "))
	}

	o.logger.Printf("%s (%s)", summary, elapsed.Round(time.Millisecond))
	o.remember(domain.SectionDecisions, summary)
	o.emit(domain.LevelInfo, "supervisor", summary)

	if o.metrics != nil {
		outcome := "ok"
		if len(result.Errors) > 0 {
			outcome = "errors"
		}
		o.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
		o.metrics.CycleDuration.Observe(elapsed.Seconds())
		o.metrics.LastCycleAt.Set(float64(o.now().Unix()))

		snap := o.guard.Snapshot()
		o.metrics.DailySpend.Set(snap.Daily.Cost)
		o.metrics.DailyCalls.Set(float64(snap.Daily.Calls))
		o.metrics.MonthlySpend.Set(snap.Monthly.Cost)
	}
}

func (o *Orchestrator) remember(section domain.MemorySection, text string) {
	if o.memory == nil {
		return
	}
	if err := o.memory.Append(section, o.now().UTC(), text); err != nil {
		o.logger.Printf("memory append failed: %v", err)
	}
}

func (o *Orchestrator) emit(level, source, message string) {
	o.events(domain.ChatEvent{
		At:      o.now().UTC(),
		Source:  source,
		Level:   level,
		Message: message,
	})
}

func containsParam(params []domain.Parameter, p domain.Parameter) bool {
	for _, candidate := range params {
		if candidate == p {
			return true
		}
	}
	return false
}
