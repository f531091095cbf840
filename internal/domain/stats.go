package domain

// BotStats are rolling performance numbers over a trailing window of
// settled trades.
type BotStats struct {
	Bot         string
	Total       int
	Wins        int
	Losses      int
	WinRate     float64 // percent
	TotalPnL    float64
	AvgEntry    float64
	AvgMovement float64 // mean |movement|
	LossStreak  int     // consecutive losses ending at the latest settled trade
}
