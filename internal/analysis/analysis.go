// Package analysis defines the interface to the external metered
// analyst. Calls cost real money: every invocation goes through the
// budget guard at the call site, and the reported cost is committed
// whether or not the analysis succeeded.
package analysis

import (
	"context"
	"sync"

	"botguard/internal/domain"
)

// Result is one analyst response with its metered cost.
type Result struct {
	Text string
	// Cost is the actual dollar cost of the call, reported by the
	// analyst. Committed to the budget ledger by the caller.
	Cost float64
	// Proposals are corrective actions the analyst recommends. The
	// caller stamps ids and risk tiers and routes them through the
	// approval queue like any other proposal.
	Proposals []*domain.Action
}

// Analyst is the external analysis collaborator.
type Analyst interface {
	// Analyze sends a free-form request. The returned Result carries the
	// real cost even when the analysis content is unusable.
	Analyze(ctx context.Context, prompt string) (*Result, error)
}

// RecordingAnalyst is a test double that captures prompts and serves
// canned results.
type RecordingAnalyst struct {
	mu      sync.Mutex
	Prompts []string
	Reply   Result
	Err     error
}

// Analyze records the prompt and returns the configured reply.
func (r *RecordingAnalyst) Analyze(_ context.Context, prompt string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Prompts = append(r.Prompts, prompt)
	if r.Err != nil {
		// Cost is still reported: the call was made.
		reply := r.Reply
		return &reply, r.Err
	}
	reply := r.Reply
	return &reply, nil
}

var _ Analyst = (*RecordingAnalyst)(nil)
