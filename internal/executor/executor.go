// Package executor applies approved Actions through the external
// configuration surface. Every outcome lands in the memory log; failures
// alert and stay failed, there is no automatic retry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"botguard/internal/domain"
	"botguard/internal/memlog"
	"botguard/internal/storage"
)

// ErrExecutionFailed wraps any ConfigSurface error. Match with errors.Is.
var ErrExecutionFailed = errors.New("execution failed")

// ConfigSurface is the external write interface to bot configuration.
// Implementations must be idempotent: re-applying an already-applied
// change is a no-op success.
type ConfigSurface interface {
	// SetParameter writes a parameter value for a bot.
	SetParameter(ctx context.Context, bot string, param domain.Parameter, value float64) error

	// LockParameter writes a value and marks it non-editable by the bot.
	LockParameter(ctx context.Context, bot string, param domain.Parameter, value float64) error

	// PauseBot stops a bot's trading.
	PauseBot(ctx context.Context, bot string) error

	// ResumeBot restarts a paused bot.
	ResumeBot(ctx context.Context, bot string) error

	// SetFilterEnabled toggles an entry filter on a bot.
	SetFilterEnabled(ctx context.Context, bot string, param domain.Parameter, enabled bool) error
}

// Alerter receives execution-failure events. Usually the chat feed.
type Alerter func(level, message string)

// Options for creating an Executor.
type Options struct {
	Surface ConfigSurface
	Actions storage.ActionStore
	Memory  *memlog.Log
	Alert   Alerter // optional
	Logger  *log.Logger
	Now     func() time.Time
}

// Executor dispatches Actions by kind.
type Executor struct {
	surface ConfigSurface
	actions storage.ActionStore
	memory  *memlog.Log
	alert   Alerter
	logger  *log.Logger
	now     func() time.Time
}

// New creates an Executor.
func New(opts Options) *Executor {
	e := &Executor{
		surface: opts.Surface,
		actions: opts.Actions,
		memory:  opts.Memory,
		alert:   opts.Alert,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if e.alert == nil {
		e.alert = func(string, string) {}
	}
	if e.logger == nil {
		e.logger = log.New(log.Writer(), "[executor] ", log.LstdFlags)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Execute applies one Action that has cleared approval (approved,
// auto_approved or blocked). The Action transitions to executed or
// failed exactly once; the updated Action is returned either way.
func (e *Executor) Execute(ctx context.Context, a *domain.Action) (*domain.Action, error) {
	applyErr := e.apply(ctx, a)

	if applyErr != nil {
		failed, markErr := e.actions.MarkOutcome(ctx, a.ID, domain.StatusFailed)
		if markErr != nil {
			return nil, fmt.Errorf("mark action %s failed: %w (apply error: %v)", a.ID, markErr, applyErr)
		}

		e.logger.Printf("FAILED %s %s (%s): %v", a.Kind, a.ID, a.Bot, applyErr)
		e.remember(domain.SectionWhatFailed, fmt.Sprintf("%s for %s failed: %v", a.Kind, a.Bot, applyErr))
		e.alert(domain.LevelError, fmt.Sprintf("execution failed: %s for %s: %v", a.Kind, a.Bot, applyErr))

		return failed, fmt.Errorf("%w: %s for %s: %v", ErrExecutionFailed, a.Kind, a.Bot, applyErr)
	}

	executed, markErr := e.actions.MarkOutcome(ctx, a.ID, domain.StatusExecuted)
	if markErr != nil {
		return nil, fmt.Errorf("mark action %s executed: %w", a.ID, markErr)
	}

	e.logger.Printf("executed %s %s (%s)", a.Kind, a.ID, a.Bot)
	e.remember(domain.SectionDecisions, fmt.Sprintf("executed %s for %s: %s", a.Kind, a.Bot, a.Description))

	return executed, nil
}

// apply dispatches by kind. The switch is exhaustive over ActionKind.
func (e *Executor) apply(ctx context.Context, a *domain.Action) error {
	switch a.Kind {
	case domain.ActionRevertParameter:
		return e.surface.SetParameter(ctx, a.Bot, a.Parameter, a.Value)
	case domain.ActionHardLock:
		return e.surface.LockParameter(ctx, a.Bot, a.Parameter, a.Value)
	case domain.ActionPauseBot:
		return e.surface.PauseBot(ctx, a.Bot)
	case domain.ActionResumeBot:
		return e.surface.ResumeBot(ctx, a.Bot)
	case domain.ActionDisableFilter:
		return e.surface.SetFilterEnabled(ctx, a.Bot, a.Parameter, false)
	case domain.ActionEnableFilter:
		return e.surface.SetFilterEnabled(ctx, a.Bot, a.Parameter, true)
	case domain.ActionLogObservation:
		// Memory-only action, nothing touches the surface.
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (e *Executor) remember(section domain.MemorySection, text string) {
	if e.memory == nil {
		return
	}
	if err := e.memory.Append(section, e.now().UTC(), text); err != nil {
		e.logger.Printf("memory append failed: %v", err)
	}
}
