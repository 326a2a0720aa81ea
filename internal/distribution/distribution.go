// Package distribution computes per-agent case counts for the three
// allocation algorithms. All functions are pure and deterministic over the
// order of the supplied agent list; callers wanting reproducible results
// pass agents sorted by id ascending.
package distribution

import (
	"log"

	"github.com/shopspring/decimal"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// Share is one agent's slice of the distribution. Shares are returned in the
// same order as the input agents so callers can consume a case list as
// contiguous runs.
type Share struct {
	AgentID string `json:"agentId"`
	Count   int    `json:"count"`
}

// AgentCapacity is the capacity snapshot the capacity-based algorithm works
// from.
type AgentCapacity struct {
	AgentID           string `json:"agentId"`
	Capacity          int    `json:"capacity"`
	AllocatedCount    int    `json:"allocatedCount"`
	AvailableCapacity int    `json:"availableCapacity"`
}

// SnapshotAgents derives capacity snapshots from agent records, preserving
// order.
func SnapshotAgents(agents []models.Agent) []AgentCapacity {
	out := make([]AgentCapacity, 0, len(agents))
	for _, a := range agents {
		out = append(out, AgentCapacity{
			AgentID:           a.ID,
			Capacity:          a.Capacity(),
			AllocatedCount:    a.CurrentCaseCount,
			AvailableCapacity: a.AvailableCapacity(),
		})
	}
	return out
}

// EqualSplit divides total evenly: the first total%k agents receive one case
// more than the rest. The returned counts always sum to exactly total.
func EqualSplit(agentIDs []string, total int) []Share {
	shares := make([]Share, len(agentIDs))
	if len(agentIDs) == 0 {
		return shares
	}
	base := total / len(agentIDs)
	remainder := total % len(agentIDs)
	for i, id := range agentIDs {
		count := base
		if i < remainder {
			count++
		}
		shares[i] = Share{AgentID: id, Count: count}
	}
	return shares
}

// WeightedSplit distributes total according to explicit integer percentages.
// Every agent except the last receives round(total * pct / 100); the last
// agent absorbs whatever remains, so the sum is exact under rounding drift.
func WeightedSplit(agentIDs []string, percentages []int, total int) ([]Share, error) {
	if err := ValidatePercentages(agentIDs, percentages); err != nil {
		return nil, err
	}
	shares := make([]Share, len(agentIDs))
	assigned := 0
	for i, id := range agentIDs {
		if i == len(agentIDs)-1 {
			shares[i] = Share{AgentID: id, Count: total - assigned}
			break
		}
		count := int(decimal.NewFromInt(int64(total)).
			Mul(decimal.NewFromInt(int64(percentages[i]))).
			Div(decimal.NewFromInt(100)).
			Round(0).IntPart())
		shares[i] = Share{AgentID: id, Count: count}
		assigned += count
	}
	return shares, nil
}

// ValidatePercentages enforces the weighted-split contract: one integer
// percentage in [0,100] per agent, summing to exactly 100.
func ValidatePercentages(agentIDs []string, percentages []int) error {
	if len(percentages) != len(agentIDs) {
		return &models.ValidationError{
			Field:   "percentages",
			Message: "must supply exactly one percentage per agent",
		}
	}
	sum := 0
	for _, p := range percentages {
		if p < 0 || p > 100 {
			return &models.ValidationError{
				Field:   "percentages",
				Message: "each percentage must be between 0 and 100",
			}
		}
		sum += p
	}
	if sum != 100 {
		return &models.ValidationError{
			Field:   "percentages",
			Message: "percentages must sum to exactly 100",
		}
	}
	return nil
}

// CapacitySplit distributes total proportionally to each agent's available
// capacity. Every agent except the last gets round(total * avail / totalAvail)
// clamped to both its available capacity and the cases still remaining; the
// last agent receives everything left, even past its stated capacity. When no
// agent has capacity the split degrades to an equal split.
func CapacitySplit(agents []AgentCapacity, total int) []Share {
	if len(agents) == 0 {
		return nil
	}
	totalAvailable := 0
	for _, a := range agents {
		totalAvailable += a.AvailableCapacity
	}
	if totalAvailable == 0 {
		log.Printf("distribution: no available capacity across %d agents, falling back to equal split", len(agents))
		ids := make([]string, len(agents))
		for i, a := range agents {
			ids[i] = a.AgentID
		}
		return EqualSplit(ids, total)
	}

	shares := make([]Share, len(agents))
	remaining := total
	for i, a := range agents {
		if i == len(agents)-1 {
			// Last agent absorbs the remainder, overflow allowed.
			shares[i] = Share{AgentID: a.AgentID, Count: remaining}
			break
		}
		count := int(decimal.NewFromInt(int64(total)).
			Mul(decimal.NewFromInt(int64(a.AvailableCapacity))).
			Div(decimal.NewFromInt(int64(totalAvailable))).
			Round(0).IntPart())
		if count > a.AvailableCapacity {
			count = a.AvailableCapacity
		}
		if count > remaining {
			count = remaining
		}
		shares[i] = Share{AgentID: a.AgentID, Count: count}
		remaining -= count
	}
	return shares
}

// Total sums the counts of a share list.
func Total(shares []Share) int {
	sum := 0
	for _, s := range shares {
		sum += s.Count
	}
	return sum
}
