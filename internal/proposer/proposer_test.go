package proposer

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage"
	"botguard/internal/storage/memory"
	"botguard/internal/violation"
)

func testPermissions() Permissions {
	return Permissions{
		AutoApproved: []domain.ActionKind{domain.ActionLogObservation},
		Blocked:      []domain.ActionKind{domain.ActionHardLock},
	}
}

func newTestProposer(actions storage.ActionStore) *Proposer {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	return New(Options{
		Actions:     actions,
		Policy:      Policy{HardLockAfter: 3, MaxLossStreak: 5},
		Permissions: testPermissions(),
		Logger:      log.New(io.Discard, "", 0),
		Now:         func() time.Time { return now },
	})
}

func liveBot(name string) domain.BotIdentity {
	return domain.BotIdentity{Name: name, Mode: domain.ModeLive}
}

func window(occurrence int, firstSeen time.Time) *domain.Violation {
	return &domain.Violation{
		ViolationID: "v", Bot: "alpha", Parameter: domain.ParamStakeSize,
		Expected: 2, Observed: 5, FirstSeen: firstSeen, LastSeen: firstSeen,
		TradeCount: 1, Occurrence: occurrence,
	}
}

func TestPropose_RevertForDrift(t *testing.T) {
	p := newTestProposer(memory.NewActionStore())

	out, err := p.Propose(context.Background(), Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthHealthy},
		Report: &violation.Report{Bot: "alpha", Opened: []*domain.Violation{window(1, time.Unix(1000, 0))}},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if len(out.Proposals) != 1 {
		t.Fatalf("Expected 1 proposal, got %d", len(out.Proposals))
	}
	a := out.Proposals[0]
	if a.Kind != domain.ActionRevertParameter || a.Tier != domain.TierApproval {
		t.Errorf("proposal = %s/%s, want revert_parameter/approval", a.Kind, a.Tier)
	}
	if a.Value != 2 || a.Parameter != domain.ParamStakeSize {
		t.Errorf("revert target = %s=%g, want stake_size=2", a.Parameter, a.Value)
	}
	if a.ID == "" || a.Status != domain.StatusPending {
		t.Errorf("proposal not initialized: %+v", a)
	}
}

func TestPropose_HardLockPastOccurrenceThreshold(t *testing.T) {
	p := newTestProposer(memory.NewActionStore())

	out, err := p.Propose(context.Background(), Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthHealthy},
		Report: &violation.Report{Bot: "alpha", Opened: []*domain.Violation{window(4, time.Unix(1000, 0))}},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if len(out.Proposals) != 1 {
		t.Fatalf("Expected 1 proposal, got %d", len(out.Proposals))
	}
	a := out.Proposals[0]
	if a.Kind != domain.ActionHardLock || a.Tier != domain.TierBlocked {
		t.Errorf("proposal = %s/%s, want hard_lock/blocked", a.Kind, a.Tier)
	}
}

func TestPropose_HardLockAfterIgnoredSoftInterventions(t *testing.T) {
	actions := memory.NewActionStore()
	p := newTestProposer(actions)
	ctx := context.Background()

	// Three resolved revert actions for the pair since the window opened.
	firstSeen := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		a := &domain.Action{
			ID: "prev" + string(rune('a'+i)), Bot: "alpha",
			Kind: domain.ActionRevertParameter, Parameter: domain.ParamStakeSize,
			Tier: domain.TierApproval, Status: domain.StatusPending,
			SubmittedAt: firstSeen.Add(time.Duration(i+1) * time.Hour),
		}
		if err := actions.Insert(ctx, a); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if _, err := actions.Resolve(ctx, a.ID, domain.StatusApproved, "operator", a.SubmittedAt.Add(time.Minute)); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}

	// Occurrence 2 alone wouldn't escalate, but three ignored reverts do.
	out, err := p.Propose(ctx, Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthHealthy},
		Report: &violation.Report{Bot: "alpha", Opened: []*domain.Violation{window(2, firstSeen)}},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if len(out.Proposals) != 1 || out.Proposals[0].Kind != domain.ActionHardLock {
		t.Fatalf("Expected blocked hard_lock, got %+v", out.Proposals)
	}
}

func TestPropose_PendingDeduplication(t *testing.T) {
	actions := memory.NewActionStore()
	p := newTestProposer(actions)
	ctx := context.Background()

	in := Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthHealthy},
		Report: &violation.Report{Bot: "alpha", Opened: []*domain.Violation{window(1, time.Unix(1000, 0))}},
	}

	out, err := p.Propose(ctx, in)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(out.Proposals) != 1 {
		t.Fatalf("Expected 1 proposal, got %d", len(out.Proposals))
	}
	if err := actions.Insert(ctx, out.Proposals[0]); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Same violation next cycle: the pending action suppresses a repeat.
	out2, err := p.Propose(ctx, in)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(out2.Proposals) != 0 {
		t.Errorf("Expected no proposals while one is pending, got %d", len(out2.Proposals))
	}
}

func TestPropose_PauseForDeadBot(t *testing.T) {
	p := newTestProposer(memory.NewActionStore())

	out, err := p.Propose(context.Background(), Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthDead, StaleFor: 2 * time.Hour},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(out.Proposals) != 1 || out.Proposals[0].Kind != domain.ActionPauseBot {
		t.Fatalf("Expected pause_bot for DEAD bot, got %+v", out.Proposals)
	}
	if out.Proposals[0].Tier != domain.TierApproval {
		t.Errorf("pause tier = %s, want approval", out.Proposals[0].Tier)
	}
}

func TestPropose_LossStreakPause(t *testing.T) {
	p := newTestProposer(memory.NewActionStore())

	out, err := p.Propose(context.Background(), Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthHealthy},
		Stats:  domain.BotStats{Bot: "alpha", LossStreak: 5},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(out.Proposals) != 1 || out.Proposals[0].Kind != domain.ActionPauseBot {
		t.Fatalf("Expected pause_bot at loss streak limit, got %+v", out.Proposals)
	}
}

func TestPropose_OnePauseForTwoTriggers(t *testing.T) {
	p := newTestProposer(memory.NewActionStore())

	// DEAD and loss streak both fire: one pause proposal.
	out, err := p.Propose(context.Background(), Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthDead, StaleFor: time.Hour},
		Stats:  domain.BotStats{Bot: "alpha", LossStreak: 7},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(out.Proposals) != 1 {
		t.Errorf("Expected 1 deduplicated pause, got %d", len(out.Proposals))
	}
}

func TestPropose_CleanValidationIsConfirmation(t *testing.T) {
	p := newTestProposer(memory.NewActionStore())

	out, err := p.Propose(context.Background(), Input{
		Bot:    liveBot("alpha"),
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthHealthy},
		Report: &violation.Report{Bot: "alpha", Compliant: []domain.Parameter{domain.ParamStakeSize, domain.ParamMovementFilter}},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(out.Proposals) != 0 {
		t.Errorf("Clean validation must not produce Actions, got %d", len(out.Proposals))
	}
	if len(out.Confirmations) != 1 {
		t.Errorf("Expected 1 confirmation, got %d", len(out.Confirmations))
	}
}

func TestPropose_DisabledBotSkipped(t *testing.T) {
	p := newTestProposer(memory.NewActionStore())

	out, err := p.Propose(context.Background(), Input{
		Bot:    domain.BotIdentity{Name: "alpha", Mode: domain.ModeDisabled},
		Health: domain.HealthReport{Bot: "alpha", Status: domain.HealthDisabled},
		Stats:  domain.BotStats{LossStreak: 99},
	})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(out.Proposals) != 0 || len(out.Confirmations) != 0 {
		t.Errorf("Disabled bot must produce nothing, got %+v", out)
	}
}
