// Package api exposes the supervisor to operators: a dashboard state
// snapshot, a chat-style command surface, approval endpoints and a
// websocket event feed.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"botguard/internal/analysis"
	"botguard/internal/approval"
	"botguard/internal/budget"
	"botguard/internal/domain"
	"botguard/internal/executor"
	"botguard/internal/health"
	"botguard/internal/idhash"
	"botguard/internal/memlog"
	"botguard/internal/observability"
	"botguard/internal/orchestrator"
	"botguard/internal/proposer"
	"botguard/internal/stats"
	"botguard/internal/storage"
	"botguard/internal/telemetry"
)

// DefaultChatLimit caps the in-memory chat tail.
const DefaultChatLimit = 200

// DefaultAnalysisEstimate is the cost reserved before a free-form
// analyst call. The real cost replaces it when recorded.
const DefaultAnalysisEstimate = 0.25

// Options for creating a Supervisor.
type Options struct {
	Roster   []domain.BotIdentity
	Cadences map[string]time.Duration

	Source       telemetry.Source
	Observations storage.ObservationStore
	Directives   storage.DirectiveStore
	Guard        *budget.Guard
	Monitor      *health.Monitor
	Queue        *approval.Queue
	Executor     *executor.Executor
	Analyst      analysis.Analyst
	Memory       *memlog.Log
	Metrics      *observability.Metrics // optional

	// Orchestrator, when set, lets the supervisor drive supervision
	// cycles serialized against operator requests.
	Orchestrator *orchestrator.Orchestrator

	// Permissions classify analyst-recommended actions before they
	// enter the approval queue.
	Permissions proposer.Permissions

	StatsWindow int
	ChatLimit   int

	Logger *log.Logger
	Now    func() time.Time
}

// Supervisor is the operator-facing facade over the running system.
type Supervisor struct {
	roster   []domain.BotIdentity
	cadences map[string]time.Duration

	source       telemetry.Source
	observations storage.ObservationStore
	directives   storage.DirectiveStore
	guard        *budget.Guard
	monitor      *health.Monitor
	queue        *approval.Queue
	executor     *executor.Executor
	analyst      analysis.Analyst
	memory       *memlog.Log
	metrics      *observability.Metrics
	orch         *orchestrator.Orchestrator
	permissions  proposer.Permissions

	statsWindow int
	chatLimit   int

	hub    *Hub
	logger *log.Logger
	now    func() time.Time

	// opMu serializes mutating operator requests against an
	// in-progress supervision cycle.
	opMu sync.Mutex

	mu   sync.Mutex
	chat []domain.ChatEvent
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts Options) *Supervisor {
	s := &Supervisor{
		roster:       opts.Roster,
		cadences:     opts.Cadences,
		source:       opts.Source,
		observations: opts.Observations,
		directives:   opts.Directives,
		guard:        opts.Guard,
		monitor:      opts.Monitor,
		queue:        opts.Queue,
		executor:     opts.Executor,
		analyst:      opts.Analyst,
		memory:       opts.Memory,
		metrics:      opts.Metrics,
		orch:         opts.Orchestrator,
		permissions:  opts.Permissions,
		statsWindow:  opts.StatsWindow,
		chatLimit:    opts.ChatLimit,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if s.statsWindow <= 0 {
		s.statsWindow = stats.DefaultWindow
	}
	if s.chatLimit <= 0 {
		s.chatLimit = DefaultChatLimit
	}
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.hub = NewHub(s.logger)
	return s
}

// HandleEvent records a chat event and fans it out to websocket
// subscribers. Wired as the orchestrator's event sink.
func (s *Supervisor) HandleEvent(e domain.ChatEvent) {
	s.mu.Lock()
	s.chat = append(s.chat, e)
	if len(s.chat) > s.chatLimit {
		s.chat = s.chat[len(s.chat)-s.chatLimit:]
	}
	s.mu.Unlock()

	s.hub.Broadcast(e)
}

// BotState is the dashboard view of one supervised bot.
type BotState struct {
	Health     domain.HealthReport `json:"health"`
	Stats      domain.BotStats     `json:"stats"`
	Directives []*domain.Directive `json:"directives"`
}

// State is the full dashboard snapshot.
type State struct {
	Bots        map[string]BotState   `json:"bots"`
	Budget      domain.BudgetSnapshot `json:"budget"`
	Pending     []*domain.Action      `json:"pending"`
	History     []*domain.Action      `json:"history"`
	Chat        []domain.ChatEvent    `json:"chat"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// GetState assembles the dashboard snapshot: per-bot health, stats and
// directives, budget windows, the approval queue and the chat tail.
func (s *Supervisor) GetState(ctx context.Context) (*State, error) {
	now := s.now().UTC()
	state := &State{
		Bots:        make(map[string]BotState, len(s.roster)),
		Budget:      s.guard.Snapshot(),
		GeneratedAt: now,
	}

	for _, bot := range s.roster {
		bs := BotState{}

		snap, err := s.source.Snapshot(ctx, bot.Name)
		if err != nil {
			// A dead feed must not blank the dashboard.
			s.logger.Printf("state: snapshot for %s failed: %v", bot.Name, err)
			snap = &domain.TelemetrySnapshot{Bot: bot.Name}
		}
		bs.Health = s.monitor.Check(bot, snap.LastTradeAt, s.cadences[bot.Name], now)
		bs.Stats = s.computeStats(ctx, bot.Name, snap)

		if directives, err := s.directives.ActiveForBot(ctx, bot.Name); err == nil {
			bs.Directives = directives
		}

		state.Bots[bot.Name] = bs
	}

	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	state.Pending = pending

	history, err := s.queue.History(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("list action history: %w", err)
	}
	state.History = history

	state.Chat = s.chatTail(50)
	return state, nil
}

// RunCycle runs one supervision cycle through the orchestrator while
// holding off mutating operator requests. A command or disposition that
// arrives mid-cycle waits for the cycle to finish rather than racing
// its writes.
func (s *Supervisor) RunCycle(ctx context.Context) (*orchestrator.CycleResult, error) {
	if s.orch == nil {
		return nil, fmt.Errorf("no orchestrator configured")
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.orch.RunCycle(ctx)
}

// Approve resolves a pending action and confirms in chat. The approved
// action executes on the next supervision cycle.
func (s *Supervisor) Approve(ctx context.Context, actionID string) (*domain.Action, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	a, err := s.queue.Approve(ctx, actionID)
	if err != nil {
		return nil, err
	}
	s.emit(domain.LevelSuccess, "operator", fmt.Sprintf("approved [%s]: %s", a.ID, a.Description))
	if s.metrics != nil {
		s.metrics.ActionsResolved.WithLabelValues(string(a.Status)).Inc()
	}
	return a, nil
}

// Reject resolves a pending action and confirms in chat.
func (s *Supervisor) Reject(ctx context.Context, actionID string) (*domain.Action, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	a, err := s.queue.Reject(ctx, actionID)
	if err != nil {
		return nil, err
	}
	s.emit(domain.LevelInfo, "operator", fmt.Sprintf("rejected [%s]: %s", a.ID, a.Description))
	if s.metrics != nil {
		s.metrics.ActionsResolved.WithLabelValues(string(a.Status)).Inc()
	}
	return a, nil
}

// SubmitCommand handles one operator chat message. Known commands are
// answered directly; anything else is forwarded to the metered analyst
// behind the budget guard.
func (s *Supervisor) SubmitCommand(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty command")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.emit(domain.LevelInfo, "operator", text)

	fields := strings.Fields(text)
	verb := strings.ToLower(fields[0])

	var reply string
	var err error
	switch verb {
	case "status":
		reply, err = s.commandStatus(ctx)
	case "budget":
		reply = s.commandBudget()
	case "pause", "resume":
		reply, err = s.commandPauseResume(ctx, verb, fields[1:])
	case "set":
		reply, err = s.commandSet(ctx, fields[1:])
	case "approve", "reject":
		reply, err = s.commandDisposition(ctx, verb, fields[1:])
	default:
		prompt := text
		if verb == "analyze" {
			prompt = strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
		}
		reply, err = s.commandAnalyze(ctx, prompt)
	}
	if err != nil {
		s.emit(domain.LevelError, "supervisor", err.Error())
		return "", err
	}

	s.emit(domain.LevelInfo, "supervisor", reply)
	return reply, nil
}

func (s *Supervisor) commandStatus(ctx context.Context) (string, error) {
	now := s.now().UTC()
	var b strings.Builder

	for _, bot := range s.roster {
		snap, err := s.source.Snapshot(ctx, bot.Name)
		if err != nil {
			fmt.Fprintf(&b, "%s: telemetry unavailable (%v)\n", bot.Name, err)
			continue
		}
		report := s.monitor.Check(bot, snap.LastTradeAt, s.cadences[bot.Name], now)
		st := s.computeStats(ctx, bot.Name, snap)
		fmt.Fprintf(&b, "%s: %s, %d settled, %.1f%% win rate, streak %d\n",
			bot.Name, report.Status, st.Total, st.WinRate, st.LossStreak)
	}

	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return "", fmt.Errorf("list pending actions: %w", err)
	}
	fmt.Fprintf(&b, "%d actions awaiting approval", len(pending))
	for _, a := range pending {
		fmt.Fprintf(&b, "\n  [%s] %s", a.ID, a.Description)
	}
	return b.String(), nil
}

func (s *Supervisor) commandBudget() string {
	snap := s.guard.Snapshot()
	return fmt.Sprintf("daily $%.2f / $%.2f (%d calls), monthly $%.2f / $%.2f, can call: %t",
		snap.Daily.Cost, snap.Daily.CostCeiling, snap.Daily.Calls,
		snap.Monthly.Cost, snap.Monthly.CostCeiling, snap.CanCall)
}

// commandPauseResume executes an operator-ordered pause or resume
// immediately. The operator's command is the approval, so the action is
// auto-tier but still runs through the queue for the audit trail.
func (s *Supervisor) commandPauseResume(ctx context.Context, verb string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <bot>", verb)
	}
	name := args[0]
	if !s.knownBot(name) {
		return "", fmt.Errorf("unknown bot %q", name)
	}

	kind := domain.ActionPauseBot
	if verb == "resume" {
		kind = domain.ActionResumeBot
	}

	now := s.now().UTC()
	a := &domain.Action{
		ID:          idhash.ComputeActionID(name, kind, "", now.UnixMilli()),
		Bot:         name,
		Kind:        kind,
		Description: fmt.Sprintf("%s %s by operator command", verb, name),
		Reason:      "operator command",
		Tier:        domain.TierAuto,
		Status:      domain.StatusPending,
		SubmittedAt: now,
	}

	routed, err := s.queue.Submit(ctx, a)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", verb, err)
	}
	if _, err := s.executor.Execute(ctx, routed); err != nil {
		return "", fmt.Errorf("%s %s: %w", verb, name, err)
	}
	return fmt.Sprintf("%sd %s", verb, name), nil
}

// commandSet issues a new Directive for a governed parameter and pushes
// the value to the bot. The operator's command is both issuance and
// approval, so the write runs through the queue at auto tier for the
// audit trail. If the push fails, the directive still stands and the
// next cycle flags the bot's old value as drift.
func (s *Supervisor) commandSet(ctx context.Context, args []string) (string, error) {
	if len(args) != 3 {
		return "", fmt.Errorf("usage: set <bot> <parameter> <value>")
	}
	name := args[0]
	if !s.knownBot(name) {
		return "", fmt.Errorf("unknown bot %q", name)
	}
	param := domain.Parameter(args[1])
	if !settableParameter(param) {
		return "", fmt.Errorf("unknown parameter %q", args[1])
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return "", fmt.Errorf("invalid value %q", args[2])
	}

	now := s.now().UTC()
	if err := s.directives.Append(ctx, &domain.Directive{
		Bot: name, Parameter: param, Value: value,
		IssuedBy: "operator", IssuedAt: now,
	}); err != nil {
		return "", fmt.Errorf("issue directive: %w", err)
	}
	s.remember(domain.SectionConfigurations, fmt.Sprintf("operator set %s %s=%g", name, param, value))

	a := &domain.Action{
		ID:          idhash.ComputeActionID(name, domain.ActionRevertParameter, param, now.UnixMilli()),
		Bot:         name,
		Kind:        domain.ActionRevertParameter,
		Parameter:   param,
		Value:       value,
		Description: fmt.Sprintf("set %s %s=%g by operator command", name, param, value),
		Reason:      "operator directive",
		Tier:        domain.TierAuto,
		Status:      domain.StatusPending,
		SubmittedAt: now,
	}
	routed, err := s.queue.Submit(ctx, a)
	if err != nil {
		return "", fmt.Errorf("submit set: %w", err)
	}
	if _, err := s.executor.Execute(ctx, routed); err != nil {
		return "", fmt.Errorf("apply %s=%g on %s: %w", param, value, name, err)
	}
	return fmt.Sprintf("directive issued: %s %s=%g", name, param, value), nil
}

// settableParameter accepts every governed parameter plus entry_timing,
// which is operator-set but not observable per trade.
func settableParameter(param domain.Parameter) bool {
	if param == domain.ParamEntryTiming {
		return true
	}
	for _, p := range domain.GovernedParameters {
		if p == param {
			return true
		}
	}
	return false
}

func (s *Supervisor) commandDisposition(ctx context.Context, verb string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <action-id>", verb)
	}

	var a *domain.Action
	var err error
	if verb == "approve" {
		a, err = s.queue.Approve(ctx, args[0])
	} else {
		a, err = s.queue.Reject(ctx, args[0])
	}
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return "", fmt.Errorf("no pending action %q", args[0])
		}
		return "", err
	}
	if s.metrics != nil {
		s.metrics.ActionsResolved.WithLabelValues(string(a.Status)).Inc()
	}
	if verb == "approve" {
		return fmt.Sprintf("approved [%s], executes next cycle", a.ID), nil
	}
	return fmt.Sprintf("rejected [%s]", a.ID), nil
}

// commandAnalyze forwards a free-form question to the metered analyst.
// The reported cost is committed whether or not the analysis succeeded.
func (s *Supervisor) commandAnalyze(ctx context.Context, prompt string) (string, error) {
	if s.analyst == nil {
		return "", fmt.Errorf("no analyst configured")
	}
	if prompt == "" {
		return "", fmt.Errorf("usage: analyze <question>")
	}

	if err := s.guard.Reserve(DefaultAnalysisEstimate); err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			if s.metrics != nil {
				s.metrics.BudgetDenials.Inc()
			}
			return "", fmt.Errorf("analysis denied: %w", err)
		}
		return "", fmt.Errorf("budget gate: %w", err)
	}

	started := s.now()
	result, analyzeErr := s.analyst.Analyze(ctx, prompt)
	if s.metrics != nil {
		s.metrics.AnalystLatency.Observe(s.now().Sub(started).Seconds())
	}

	if result != nil && result.Cost > 0 {
		if err := s.guard.Record(ctx, result.Cost); err != nil {
			s.logger.Printf("record analyst cost: %v", err)
		}
	}
	if analyzeErr != nil {
		return "", fmt.Errorf("analysis failed: %w", analyzeErr)
	}

	s.remember(domain.SectionLearnedPatterns, fmt.Sprintf("analyst on %q: %s", prompt, result.Text))

	reply := result.Text
	if queued := s.routeProposals(ctx, result.Proposals); queued > 0 {
		reply = fmt.Sprintf("%s\n%d recommended action(s) queued for approval", reply, queued)
	}
	return reply, nil
}

// routeProposals submits analyst-recommended actions to the approval
// queue. Recommendations never bypass the queue: each one gets its risk
// tier from the permission lists and is dispatched like any
// detector-driven proposal. Returns the number left awaiting approval.
func (s *Supervisor) routeProposals(ctx context.Context, proposals []*domain.Action) int {
	queued := 0
	for _, a := range proposals {
		if a == nil || a.Bot == "" || a.Kind == "" || !s.knownBot(a.Bot) {
			continue
		}

		if _, err := s.queue.PendingByKey(ctx, a.Key()); err == nil {
			// Same bot/kind/parameter already awaiting disposition.
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Printf("pending lookup for %s/%s: %v", a.Bot, a.Kind, err)
			continue
		}

		now := s.now().UTC()
		a.ID = idhash.ComputeActionID(a.Bot, a.Kind, a.Parameter, now.UnixMilli())
		a.Tier = s.permissions.TierFor(a.Kind)
		a.Status = domain.StatusPending
		a.SubmittedAt = now
		if a.Reason == "" {
			a.Reason = "analyst recommendation"
		}

		routed, err := s.queue.Submit(ctx, a)
		if err != nil {
			s.logger.Printf("submit analyst proposal for %s: %v", a.Bot, err)
			continue
		}
		s.emit(domain.LevelWarning, "analyst", fmt.Sprintf("recommended [%s]: %s", routed.ID, routed.Description))
		if s.metrics != nil {
			s.metrics.ActionsProposed.WithLabelValues(string(routed.Kind), string(routed.Tier)).Inc()
		}
		if routed.Status != domain.StatusPending {
			if _, err := s.executor.Execute(ctx, routed); err != nil {
				s.logger.Printf("execute analyst proposal %s: %v", routed.ID, err)
			}
			continue
		}
		queued++
	}
	return queued
}

func (s *Supervisor) computeStats(ctx context.Context, bot string, snap *domain.TelemetrySnapshot) domain.BotStats {
	if s.observations != nil {
		archived, err := s.observations.RecentByBot(ctx, bot, s.statsWindow*2)
		if err == nil && len(archived) > 0 {
			return stats.Compute(bot, archived, s.statsWindow)
		}
	}

	fallback := make([]*domain.TradeObservation, 0, len(snap.Trades))
	for i := range snap.Trades {
		fallback = append(fallback, &snap.Trades[i])
	}
	return stats.Compute(bot, fallback, s.statsWindow)
}

func (s *Supervisor) knownBot(name string) bool {
	for _, b := range s.roster {
		if b.Name == name {
			return true
		}
	}
	return false
}

func (s *Supervisor) chatTail(limit int) []domain.ChatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.chat) > limit {
		start = len(s.chat) - limit
	}
	tail := make([]domain.ChatEvent, len(s.chat)-start)
	copy(tail, s.chat[start:])
	return tail
}

func (s *Supervisor) emit(level, source, message string) {
	s.HandleEvent(domain.ChatEvent{
		At:      s.now().UTC(),
		Source:  source,
		Level:   level,
		Message: message,
	})
}

func (s *Supervisor) remember(section domain.MemorySection, text string) {
	if s.memory == nil {
		return
	}
	if err := s.memory.Append(section, s.now().UTC(), text); err != nil {
		s.logger.Printf("memory append failed: %v", err)
	}
}
