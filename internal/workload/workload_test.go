package workload_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/workload"
)

func TestUtilization(t *testing.T) {
	require.Equal(t, "30.00", workload.Utilization(15, 50).StringFixed(2))
	require.Equal(t, "33.33", workload.Utilization(1, 3).StringFixed(2))
	require.Equal(t, "0.00", workload.Utilization(0, 100).StringFixed(2))
	require.Equal(t, "0.00", workload.Utilization(10, 0).StringFixed(2), "zero capacity yields flat 0%")
	require.Equal(t, "120.00", workload.Utilization(60, 50).StringFixed(2), "overflow past capacity is representable")
}

func TestApplyDelta(t *testing.T) {
	ctx := context.Background()
	cap50 := 50

	t.Run("increments and recomputes percentage", func(t *testing.T) {
		agents := directory.NewMemoryAgentDirectory(models.Agent{ID: "agent-a", CurrentCaseCount: 10, MaxCaseCapacity: &cap50})
		accounting := workload.NewAccounting(agents)

		require.NoError(t, accounting.ApplyDelta(ctx, "agent-a", 5))

		agent, err := agents.Agent(ctx, "agent-a")
		require.NoError(t, err)
		require.Equal(t, 15, agent.CurrentCaseCount)
		require.Equal(t, "30.00", agent.AllocationPercentage.StringFixed(2))
	})

	t.Run("floors at zero on over-deallocation", func(t *testing.T) {
		agents := directory.NewMemoryAgentDirectory(models.Agent{ID: "agent-a", CurrentCaseCount: 3, MaxCaseCapacity: &cap50})
		accounting := workload.NewAccounting(agents)

		require.NoError(t, accounting.ApplyDelta(ctx, "agent-a", -10))

		agent, err := agents.Agent(ctx, "agent-a")
		require.NoError(t, err)
		require.Equal(t, 0, agent.CurrentCaseCount)
		require.Equal(t, "0.00", agent.AllocationPercentage.StringFixed(2))
	})

	t.Run("defaults capacity to 100 when unset", func(t *testing.T) {
		agents := directory.NewMemoryAgentDirectory(models.Agent{ID: "agent-a", CurrentCaseCount: 0})
		accounting := workload.NewAccounting(agents)

		require.NoError(t, accounting.ApplyDelta(ctx, "agent-a", 25))

		agent, err := agents.Agent(ctx, "agent-a")
		require.NoError(t, err)
		require.Equal(t, "25.00", agent.AllocationPercentage.StringFixed(2))
	})

	t.Run("missing agent is surfaced", func(t *testing.T) {
		agents := directory.NewMemoryAgentDirectory()
		accounting := workload.NewAccounting(agents)

		err := accounting.ApplyDelta(ctx, "agent-gone", 1)
		require.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestApplyDeltas(t *testing.T) {
	ctx := context.Background()
	agents := directory.NewMemoryAgentDirectory(
		models.Agent{ID: "agent-a", CurrentCaseCount: 2},
		models.Agent{ID: "agent-b", CurrentCaseCount: 8},
	)
	accounting := workload.NewAccounting(agents)

	failed := accounting.ApplyDeltas(ctx, map[string]int{
		"agent-a":    3,
		"agent-b":    -3,
		"agent-gone": 1,
		"agent-noop": 0, // zero deltas are skipped, even for unknown agents
	})

	require.Equal(t, []string{"agent-gone"}, failed)

	a, err := agents.Agent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 5, a.CurrentCaseCount)

	b, err := agents.Agent(ctx, "agent-b")
	require.NoError(t, err)
	require.Equal(t, 5, b.CurrentCaseCount)
}
