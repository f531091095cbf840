package domain

import "time"

// HealthStatus classifies a bot by recency of observed activity.
// Derived every cycle, never persisted as authoritative state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthStale    HealthStatus = "STALE"
	HealthDead     HealthStatus = "DEAD"
	HealthDisabled HealthStatus = "DISABLED"
)

// HealthReport is the per-bot health classification with supporting detail.
type HealthReport struct {
	Bot         string
	Status      HealthStatus
	LastTradeAt time.Time     // zero if no trade ever observed
	StaleFor    time.Duration // time since last trade at check time
	CheckedAt   time.Time
}
