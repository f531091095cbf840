package approval

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"botguard/internal/domain"
	"botguard/internal/storage/memory"
)

func newTestQueue() (*Queue, *memory.ActionStore) {
	store := memory.NewActionStore()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	q := NewQueue(Options{
		Actions: store,
		Logger:  log.New(io.Discard, "", 0),
		Now:     func() time.Time { return now },
	})
	return q, store
}

func proposal(id string, tier domain.RiskTier) *domain.Action {
	return &domain.Action{
		ID: id, Bot: "alpha", Kind: domain.ActionRevertParameter,
		Parameter: domain.ParamStakeSize, Value: 2,
		Tier: tier, Status: domain.StatusPending,
		SubmittedAt: time.Unix(1000, 0),
	}
}

func TestQueue_SubmitRoutesByTier(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	cases := []struct {
		tier     domain.RiskTier
		expected domain.ActionStatus
	}{
		{domain.TierApproval, domain.StatusPending},
		{domain.TierAuto, domain.StatusAutoApproved},
		{domain.TierBlocked, domain.StatusBlocked},
	}

	for i, tc := range cases {
		a := proposal(string(rune('a'+i)), tc.tier)
		got, err := q.Submit(ctx, a)
		if err != nil {
			t.Fatalf("Submit(%s) failed: %v", tc.tier, err)
		}
		if got.Status != tc.expected {
			t.Errorf("Submit(%s) status = %s, want %s", tc.tier, got.Status, tc.expected)
		}
		if tc.expected != domain.StatusPending && got.ResolvedAt == nil {
			t.Errorf("Submit(%s): resolution timestamp not set", tc.tier)
		}
	}
}

func TestQueue_ApproveOnce(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	if _, err := q.Submit(ctx, proposal("a1", domain.TierApproval)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	a, err := q.Approve(ctx, "a1")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if a.Status != domain.StatusApproved || a.ResolvedBy != "operator" {
		t.Errorf("approved = %+v", a)
	}

	// A resolved Action can never be re-resolved.
	if _, err := q.Approve(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Approve: expected ErrNotFound, got %v", err)
	}
	if _, err := q.Reject(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reject after Approve: expected ErrNotFound, got %v", err)
	}
}

func TestQueue_RejectUnknownID(t *testing.T) {
	q, _ := newTestQueue()

	if _, err := q.Reject(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestQueue_AutoReject(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	if _, err := q.Submit(ctx, proposal("a1", domain.TierApproval)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	a, err := q.AutoReject(ctx, "a1", "violation self-resolved")
	if err != nil {
		t.Fatalf("AutoReject failed: %v", err)
	}
	if a.Status != domain.StatusRejected || a.ResolvedBy != "system" {
		t.Errorf("auto-rejected = %+v, want rejected by system", a)
	}
}

func TestQueue_PendingAndHistory(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	a1 := proposal("a1", domain.TierApproval)
	a2 := proposal("a2", domain.TierApproval)
	a2.Kind = domain.ActionPauseBot
	a2.SubmittedAt = a1.SubmittedAt.Add(time.Minute)

	for _, a := range []*domain.Action{a1, a2} {
		if _, err := q.Submit(ctx, a); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a1" {
		t.Errorf("pending = %+v, want a1 then a2", pending)
	}

	if _, err := q.Approve(ctx, "a1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	history, err := q.History(ctx, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != "a1" {
		t.Errorf("history = %+v, want just a1", history)
	}
}
