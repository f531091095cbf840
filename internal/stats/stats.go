// Package stats computes rolling per-bot performance numbers from
// archived trade observations.
package stats

import (
	"math"
	"sort"

	"botguard/internal/domain"
)

// DefaultWindow is the trailing settled-trade count used when no window
// is configured.
const DefaultWindow = 50

// Compute derives rolling stats for one bot over the latest `window`
// settled trades. Unsettled trades are ignored. Observations may arrive
// in any order; they are sorted by RecordedAt before windowing.
func Compute(bot string, obs []*domain.TradeObservation, window int) domain.BotStats {
	if window <= 0 {
		window = DefaultWindow
	}

	settled := make([]*domain.TradeObservation, 0, len(obs))
	for _, o := range obs {
		if o.Settled {
			settled = append(settled, o)
		}
	}
	sort.SliceStable(settled, func(i, j int) bool {
		return settled[i].RecordedAt.Before(settled[j].RecordedAt)
	})

	if len(settled) > window {
		settled = settled[len(settled)-window:]
	}

	s := domain.BotStats{Bot: bot, Total: len(settled)}
	if s.Total == 0 {
		return s
	}

	var entrySum, movementSum float64
	for _, o := range settled {
		if o.Won {
			s.Wins++
		} else {
			s.Losses++
		}
		s.TotalPnL += o.PnL
		entrySum += o.EntryPrice
		movementSum += math.Abs(o.Movement)
	}

	s.WinRate = float64(s.Wins) / float64(s.Total) * 100
	s.AvgEntry = entrySum / float64(s.Total)
	s.AvgMovement = movementSum / float64(s.Total)
	s.LossStreak = lossStreak(settled)

	return s
}

// lossStreak counts consecutive losses ending at the latest settled trade.
func lossStreak(settled []*domain.TradeObservation) int {
	streak := 0
	for i := len(settled) - 1; i >= 0; i-- {
		if settled[i].Won {
			break
		}
		streak++
	}
	return streak
}
