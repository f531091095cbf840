package domain

import "time"

// Trade sides as reported by the bots.
const (
	SideUp   = "UP"
	SideDown = "DOWN"
)

// TradeObservation is one trade as reported by a bot's telemetry feed.
// Read-only input for a single analysis cycle.
type TradeObservation struct {
	TradeID    string    // expected unique; duplicates are flagged, never merged
	Bot        string
	Asset      string
	Side       string    // UP | DOWN
	EntryPrice float64   // conviction at entry
	Movement   float64   // observed price movement magnitude (signed)
	Stake      float64   // stake amount in dollars
	Settled    bool
	Won        bool      // meaningful only when Settled
	PnL        float64   // realized P&L, 0 until settled
	RecordedAt time.Time
}

// TelemetrySnapshot is the per-bot view produced by the external telemetry
// source for one cycle. Trades are ordered by RecordedAt ascending.
type TelemetrySnapshot struct {
	Bot         string
	LastTradeAt time.Time // zero if the bot has never traded
	Trades      []TradeObservation
	CapturedAt  time.Time
}
