// Package workload keeps each agent's case count and utilization percentage
// in sync with ledger mutations. Writes are best-effort: a failed agent
// update is logged and skipped, never rolled back into the ledger operation
// that triggered it.
package workload

import (
	"context"
	"log"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
)

type Accounting struct {
	agents directory.AgentDirectory
}

func NewAccounting(agents directory.AgentDirectory) *Accounting {
	return &Accounting{agents: agents}
}

// Utilization is round2(count / capacity * 100). A capacity of zero yields a
// flat 0% rather than a division fault.
func Utilization(count, capacity int) decimal.Decimal {
	if capacity <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(count) * 100).
		Div(decimal.NewFromInt(int64(capacity))).
		Round(2)
}

// ApplyDelta adjusts one agent's case count by delta (positive for new
// allocations, negative for removals), floors the result at zero, recomputes
// the allocation percentage, and writes both fields back.
func (a *Accounting) ApplyDelta(ctx context.Context, agentID string, delta int) error {
	agent, err := a.agents.Agent(ctx, agentID)
	if err != nil {
		return err
	}
	count := agent.CurrentCaseCount + delta
	if count < 0 {
		count = 0
	}
	return a.agents.UpdateWorkload(ctx, agentID, count, Utilization(count, agent.Capacity()))
}

// ApplyDeltas applies one delta per agent, in agent-id order for
// reproducibility. Per-agent failures are logged and skipped; the ids that
// failed are returned so bulk callers can report them.
func (a *Accounting) ApplyDeltas(ctx context.Context, deltas map[string]int) []string {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var failed []string
	for _, id := range ids {
		if deltas[id] == 0 {
			continue
		}
		if err := a.ApplyDelta(ctx, id, deltas[id]); err != nil {
			log.Printf("workload: skipping agent %s: %v", id, err)
			failed = append(failed, id)
		}
	}
	return failed
}
