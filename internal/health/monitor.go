// Package health classifies bots by recency of observed trading
// activity. Status is derived fresh every cycle from telemetry, never
// persisted as authoritative state.
package health

import (
	"log"
	"time"

	"botguard/internal/domain"
)

// DefaultDeadAfterMultiple is how many cadences of silence mark a bot DEAD.
const DefaultDeadAfterMultiple = 3

// Options for creating a Monitor.
type Options struct {
	// DeadAfterMultiple marks a bot DEAD once it has been silent for this
	// many expected cadences. Defaults to DefaultDeadAfterMultiple.
	DeadAfterMultiple int
	Logger            *log.Logger
}

// Monitor derives health reports from per-bot telemetry snapshots.
type Monitor struct {
	deadAfter int
	logger    *log.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(opts Options) *Monitor {
	m := &Monitor{
		deadAfter: opts.DeadAfterMultiple,
		logger:    opts.Logger,
	}
	if m.deadAfter <= 0 {
		m.deadAfter = DefaultDeadAfterMultiple
	}
	if m.logger == nil {
		m.logger = log.New(log.Writer(), "[health] ", log.LstdFlags)
	}
	return m
}

// Check classifies one bot. cadence is the bot's expected trade interval;
// a non-positive cadence always yields HEALTHY since staleness has no
// yardstick.
func (m *Monitor) Check(bot domain.BotIdentity, lastTradeAt time.Time, cadence time.Duration, now time.Time) domain.HealthReport {
	report := domain.HealthReport{
		Bot:         bot.Name,
		LastTradeAt: lastTradeAt,
		CheckedAt:   now,
	}

	if bot.Disabled() {
		report.Status = domain.HealthDisabled
		return report
	}
	if cadence <= 0 {
		report.Status = domain.HealthHealthy
		return report
	}

	// A bot that never traded is measured from the zero point it was
	// first seen; without a last trade there is no staleness evidence,
	// so it reports STALE rather than DEAD.
	if lastTradeAt.IsZero() {
		report.Status = domain.HealthStale
		return report
	}

	report.StaleFor = now.Sub(lastTradeAt)
	switch {
	case report.StaleFor >= time.Duration(m.deadAfter)*cadence:
		report.Status = domain.HealthDead
	case report.StaleFor >= cadence:
		report.Status = domain.HealthStale
	default:
		report.Status = domain.HealthHealthy
	}
	return report
}

// CheckAll classifies every bot in the roster. Snapshots are keyed by
// bot name; a missing snapshot counts as never traded.
func (m *Monitor) CheckAll(bots []domain.BotIdentity, cadences map[string]time.Duration, snaps map[string]*domain.TelemetrySnapshot, now time.Time) []domain.HealthReport {
	reports := make([]domain.HealthReport, 0, len(bots))
	for _, bot := range bots {
		var lastTradeAt time.Time
		if snap, ok := snaps[bot.Name]; ok && snap != nil {
			lastTradeAt = snap.LastTradeAt
		}
		reports = append(reports, m.Check(bot, lastTradeAt, cadences[bot.Name], now))
	}
	return reports
}
