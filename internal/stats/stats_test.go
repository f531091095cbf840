package stats

import (
	"testing"
	"time"

	"botguard/internal/domain"
)

func obs(id string, at time.Time, settled, won bool, pnl, entry, movement float64) *domain.TradeObservation {
	return &domain.TradeObservation{
		TradeID: id, Bot: "alpha", RecordedAt: at,
		Settled: settled, Won: won, PnL: pnl,
		EntryPrice: entry, Movement: movement,
	}
}

func TestCompute_Basics(t *testing.T) {
	base := time.Unix(1000, 0)
	trades := []*domain.TradeObservation{
		obs("t1", base, true, true, 1.7, 0.60, 0.30),
		obs("t2", base.Add(time.Minute), true, false, -2.0, 0.50, -0.10),
		obs("t3", base.Add(2*time.Minute), true, true, 1.5, 0.70, 0.20),
		obs("t4", base.Add(3*time.Minute), false, false, 0, 0.55, 0.05), // unsettled, ignored
	}

	s := Compute("alpha", trades, 0)
	if s.Total != 3 {
		t.Fatalf("Total = %d, want 3 (unsettled excluded)", s.Total)
	}
	if s.Wins != 2 || s.Losses != 1 {
		t.Errorf("Wins/Losses = %d/%d, want 2/1", s.Wins, s.Losses)
	}
	if want := 2.0 / 3.0 * 100; s.WinRate < want-0.01 || s.WinRate > want+0.01 {
		t.Errorf("WinRate = %f, want %f", s.WinRate, want)
	}
	if s.TotalPnL != 1.2 {
		t.Errorf("TotalPnL = %f, want 1.2", s.TotalPnL)
	}
	if want := 0.20; s.AvgMovement < want-0.0001 || s.AvgMovement > want+0.0001 {
		t.Errorf("AvgMovement = %f, want %f (mean of |movement|)", s.AvgMovement, want)
	}
}

func TestCompute_LossStreak(t *testing.T) {
	base := time.Unix(1000, 0)
	trades := []*domain.TradeObservation{
		obs("t1", base, true, false, -2, 0.5, 0.1),
		obs("t2", base.Add(time.Minute), true, true, 2, 0.5, 0.1),
		obs("t3", base.Add(2*time.Minute), true, false, -2, 0.5, 0.1),
		obs("t4", base.Add(3*time.Minute), true, false, -2, 0.5, 0.1),
		obs("t5", base.Add(4*time.Minute), true, false, -2, 0.5, 0.1),
	}

	s := Compute("alpha", trades, 0)
	if s.LossStreak != 3 {
		t.Errorf("LossStreak = %d, want 3 (streak ends at latest trade)", s.LossStreak)
	}

	// Out-of-order input must not change the streak.
	shuffled := []*domain.TradeObservation{trades[3], trades[0], trades[4], trades[2], trades[1]}
	if s := Compute("alpha", shuffled, 0); s.LossStreak != 3 {
		t.Errorf("LossStreak on unordered input = %d, want 3", s.LossStreak)
	}
}

func TestCompute_WindowTrimsOldest(t *testing.T) {
	base := time.Unix(1000, 0)
	var trades []*domain.TradeObservation
	// 5 old losses, then 3 recent wins.
	for i := 0; i < 5; i++ {
		trades = append(trades, obs("old", base.Add(time.Duration(i)*time.Minute), true, false, -1, 0.5, 0.1))
	}
	for i := 0; i < 3; i++ {
		trades = append(trades, obs("new", base.Add(time.Duration(10+i)*time.Minute), true, true, 1, 0.5, 0.1))
	}

	s := Compute("alpha", trades, 3)
	if s.Total != 3 || s.Wins != 3 {
		t.Errorf("Window not applied to latest trades: %+v", s)
	}
	if s.LossStreak != 0 {
		t.Errorf("LossStreak = %d, want 0", s.LossStreak)
	}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute("alpha", nil, 0)
	if s.Total != 0 || s.WinRate != 0 || s.LossStreak != 0 {
		t.Errorf("Empty input must yield zero stats: %+v", s)
	}
}
