package engine_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/audit"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/engine"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/store"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/workload"
)

type fixture struct {
	store  *store.MemoryStore
	cases  *directory.MemoryCaseDirectory
	agents *directory.MemoryAgentDirectory
	sink   *audit.MemorySink
	engine *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	cases := directory.NewMemoryCaseDirectory()
	agents := directory.NewMemoryAgentDirectory()
	sink := audit.NewMemorySink()
	return &fixture{
		store:  st,
		cases:  cases,
		agents: agents,
		sink:   sink,
		engine: engine.New(st, cases, agents, workload.NewAccounting(agents), sink),
	}
}

func capacity(n int) *int { return &n }

func (f *fixture) seedCases(state string, n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("case-%02d", i+1)
		ids[i] = id
		f.cases.Put(models.CollectionCase{ID: id, State: state, GeographyCode: state, Bucket: "B1"})
	}
	return ids
}

func (f *fixture) seedRule(t *testing.T, ruleType models.RuleType) models.AllocationRule {
	t.Helper()
	rule, err := f.engine.CreateRule(context.Background(), engine.CreateRuleInput{
		Name:     "karnataka-rollout",
		RuleType: ruleType,
		Criteria: models.RuleCriteria{States: []string{"KA"}},
	})
	require.NoError(t, err)
	return rule
}

func TestCreateRuleValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("missing name", func(t *testing.T) {
		_, err := f.engine.CreateRule(ctx, engine.CreateRuleInput{
			RuleType: models.RuleGeography,
			Criteria: models.RuleCriteria{States: []string{"KA"}},
		})
		require.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("unknown rule type", func(t *testing.T) {
		_, err := f.engine.CreateRule(ctx, engine.CreateRuleInput{
			Name:     "r",
			RuleType: "ROUND_ROBIN",
			Criteria: models.RuleCriteria{States: []string{"KA"}},
		})
		require.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("no geography filter", func(t *testing.T) {
		_, err := f.engine.CreateRule(ctx, engine.CreateRuleInput{
			Name:     "r",
			RuleType: models.RuleGeography,
			Criteria: models.RuleCriteria{Buckets: []string{"B1"}},
		})
		require.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("valid rule starts as draft", func(t *testing.T) {
		rule := f.seedRule(t, models.RuleGeography)
		require.Equal(t, models.RuleDraft, rule.Status)
		require.NotEqual(t, uuid.Nil, rule.ID)
	})
}

func TestSimulate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCases("KA", 10)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}})
	f.agents.Put(models.Agent{ID: "agent-b", Active: true, Geographies: []string{"KA"}})
	f.agents.Put(models.Agent{ID: "agent-c", Active: true, Geographies: []string{"KA"}})
	rule := f.seedRule(t, models.RuleGeography)

	result, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, models.RuleReadyForApply, result.RuleStatus)
	require.Len(t, result.CaseIDs, 10)
	require.Equal(t, []string{"agent-a", "agent-b", "agent-c"}, result.AgentIDs)

	// 10 cases over 3 agents: the first agent takes the remainder.
	require.Equal(t, 4, result.Suggested[0].Count)
	require.Equal(t, 3, result.Suggested[1].Count)
	require.Equal(t, 3, result.Suggested[2].Count)

	stored, err := f.store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, models.RuleReadyForApply, stored.Status)

	// Re-simulating refreshes the suggestion without a status change.
	again, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, models.RuleReadyForApply, again.RuleStatus)
}

func TestSimulateBusinessRules(t *testing.T) {
	ctx := context.Background()

	t.Run("no matching cases", func(t *testing.T) {
		f := newFixture(t)
		f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}})
		rule := f.seedRule(t, models.RuleGeography)
		_, err := f.engine.Simulate(ctx, rule.ID)
		require.ErrorIs(t, err, models.ErrBusinessRule)
	})

	t.Run("no eligible agents", func(t *testing.T) {
		f := newFixture(t)
		f.seedCases("KA", 3)
		f.agents.Put(models.Agent{ID: "agent-mh", Active: true, Geographies: []string{"MH"}})
		rule := f.seedRule(t, models.RuleGeography)
		_, err := f.engine.Simulate(ctx, rule.ID)
		require.ErrorIs(t, err, models.ErrBusinessRule)
	})

	t.Run("active rule cannot be re-simulated", func(t *testing.T) {
		f := newFixture(t)
		f.seedCases("KA", 3)
		f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}})
		rule := f.seedRule(t, models.RuleGeography)
		require.NoError(t, f.store.UpdateRuleStatus(ctx, rule.ID, models.RuleActive))
		_, err := f.engine.Simulate(ctx, rule.ID)
		require.ErrorIs(t, err, models.ErrBusinessRule)
	})

	t.Run("unknown rule", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Simulate(ctx, uuid.New())
		require.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestApplyRequiresSimulation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCases("KA", 2)
	rule := f.seedRule(t, models.RuleGeography)

	_, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{AgentIDs: []string{"agent-a"}})
	require.ErrorIs(t, err, models.ErrBusinessRule)
}

func TestApplyGeographyRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	caseIDs := f.seedCases("KA", 7)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}, MaxCaseCapacity: capacity(10)})
	f.agents.Put(models.Agent{ID: "agent-b", Active: true, Geographies: []string{"KA"}, MaxCaseCapacity: capacity(10)})
	rule := f.seedRule(t, models.RuleGeography)
	sim, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)

	result, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{AgentIDs: sim.AgentIDs})
	require.NoError(t, err)
	require.Equal(t, models.RuleActive, result.RuleStatus)
	require.Equal(t, 7, result.AllocatedCount)
	require.Equal(t, 4, result.Distribution[0].Count)
	require.Equal(t, 3, result.Distribution[1].Count)

	// Cases are consumed in order as contiguous runs per agent.
	first, err := f.store.CurrentAllocation(ctx, caseIDs[0])
	require.NoError(t, err)
	require.Equal(t, "agent-a", first.PrimaryAgentID)
	require.Equal(t, rule.ID, *first.AllocationRuleID)
	require.Equal(t, "100.00", first.WorkloadPercentage.StringFixed(2))
	last, err := f.store.CurrentAllocation(ctx, caseIDs[6])
	require.NoError(t, err)
	require.Equal(t, "agent-b", last.PrimaryAgentID)

	history, err := f.store.HistoryByCase(ctx, caseIDs[0])
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.ActionAllocated, history[0].Action)
	require.Equal(t, "agent-a", *history[0].AllocatedToUserID)
	require.Equal(t, "rule karnataka-rollout", history[0].Reason)

	agentA, err := f.agents.Agent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 4, agentA.CurrentCaseCount)
	require.Equal(t, "40.00", agentA.AllocationPercentage.StringFixed(2))

	stored, err := f.store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, models.RuleActive, stored.Status)
	require.Equal(t, sim.AgentIDs, stored.Criteria.AgentIDs)
	require.Equal(t, 1, f.cases.EvictCount)
}

func TestApplyPercentageRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	caseIDs := f.seedCases("KA", 10)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}})
	f.agents.Put(models.Agent{ID: "agent-b", Active: true, Geographies: []string{"KA"}})
	rule := f.seedRule(t, models.RulePercentageSplit)
	_, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)

	t.Run("percentages must sum to 100", func(t *testing.T) {
		_, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{
			AgentIDs:    []string{"agent-a", "agent-b"},
			Percentages: []int{60, 30},
		})
		require.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("weighted commit", func(t *testing.T) {
		result, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{
			AgentIDs:    []string{"agent-a", "agent-b"},
			Percentages: []int{30, 70},
		})
		require.NoError(t, err)
		require.Equal(t, 10, result.AllocatedCount)
		require.Equal(t, 3, result.Distribution[0].Count)
		require.Equal(t, 7, result.Distribution[1].Count)

		history, err := f.store.HistoryByCase(ctx, caseIDs[0])
		require.NoError(t, err)
		require.Equal(t, "rule karnataka-rollout (30%)", history[0].Reason)
	})
}

func TestApplyExplicitCases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCases("KA", 4)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}})
	rule := f.seedRule(t, models.RuleGeography)
	_, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)

	t.Run("unknown case id", func(t *testing.T) {
		_, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{
			AgentIDs: []string{"agent-a"},
			CaseIDs:  []string{"case-01", "ghost"},
		})
		require.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("already allocated case rejects the batch", func(t *testing.T) {
		require.NoError(t, f.store.InsertAllocations(ctx, []models.CaseAllocation{{
			CaseID: "case-02", PrimaryAgentID: "agent-z", Status: models.AllocationAllocated,
		}}))
		_, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{
			AgentIDs: []string{"agent-a"},
			CaseIDs:  []string{"case-01", "case-02"},
		})
		require.ErrorIs(t, err, models.ErrBusinessRule)
	})

	t.Run("explicit subset commits", func(t *testing.T) {
		result, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{
			AgentIDs: []string{"agent-a"},
			CaseIDs:  []string{"case-01", "case-03"},
		})
		require.NoError(t, err)
		require.Equal(t, 2, result.AllocatedCount)
	})
}

func TestApplyMaxCasesCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCases("KA", 9)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}})
	rule := f.seedRule(t, models.RuleGeography)
	_, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)

	result, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{
		AgentIDs: []string{"agent-a"},
		MaxCases: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 5, result.AllocatedCount)
}

func TestApplyUnknownAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCases("KA", 3)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}})
	rule := f.seedRule(t, models.RuleGeography)
	_, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)

	_, err = f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{AgentIDs: []string{"agent-a", "ghost"}})
	require.ErrorIs(t, err, models.ErrNotFound)

	// Nothing was written for the case set.
	_, err = f.store.CurrentAllocation(ctx, "case-01")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestApplyCapacityRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCases("KA", 10)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, Geographies: []string{"KA"}, CurrentCaseCount: 8, MaxCaseCapacity: capacity(10)})
	f.agents.Put(models.Agent{ID: "agent-b", Active: true, Geographies: []string{"KA"}, MaxCaseCapacity: capacity(10)})
	rule := f.seedRule(t, models.RuleCapacityBased)
	sim, err := f.engine.Simulate(ctx, rule.ID)
	require.NoError(t, err)

	result, err := f.engine.Apply(ctx, rule.ID, engine.ApplyRequest{AgentIDs: sim.AgentIDs})
	require.NoError(t, err)
	require.Equal(t, 10, result.AllocatedCount)

	// agent-a only has headroom for 2; agent-b absorbs the rest.
	require.Equal(t, "agent-a", result.Distribution[0].AgentID)
	require.Equal(t, 2, result.Distribution[0].Count)
	require.Equal(t, 8, result.Distribution[1].Count)
}
