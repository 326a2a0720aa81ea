package reallocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/audit"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/reallocation"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/store"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/workload"
)

type fakeArchiver struct {
	jobIDs  []string
	entries int
}

func (f *fakeArchiver) ArchiveHistory(ctx context.Context, jobID string, entries []models.AllocationHistory) (string, error) {
	f.jobIDs = append(f.jobIDs, jobID)
	f.entries += len(entries)
	return "archive/" + jobID + ".json", nil
}

type fixture struct {
	store    *store.MemoryStore
	cases    *directory.MemoryCaseDirectory
	agents   *directory.MemoryAgentDirectory
	sink     *audit.MemorySink
	archiver *fakeArchiver
	engine   *reallocation.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	cases := directory.NewMemoryCaseDirectory()
	agents := directory.NewMemoryAgentDirectory()
	sink := audit.NewMemorySink()
	archiver := &fakeArchiver{}
	return &fixture{
		store:    st,
		cases:    cases,
		agents:   agents,
		sink:     sink,
		archiver: archiver,
		engine:   reallocation.New(st, cases, agents, workload.NewAccounting(agents), sink, archiver),
	}
}

func capacity(n int) *int { return &n }

func (f *fixture) allocate(t *testing.T, caseID, agentID string) {
	t.Helper()
	err := f.store.InsertAllocations(context.Background(), []models.CaseAllocation{{
		CaseID:         caseID,
		PrimaryAgentID: agentID,
		Status:         models.AllocationAllocated,
		AllocatedAt:    time.Now().UTC(),
	}})
	require.NoError(t, err)
}

func TestByAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, CurrentCaseCount: 3, MaxCaseCapacity: capacity(10)})
	f.agents.Put(models.Agent{ID: "agent-b", Active: true, CurrentCaseCount: 0, MaxCaseCapacity: capacity(10)})
	f.cases.Put(models.CollectionCase{ID: "case-1", GeographyCode: "KA-BLR"})
	f.allocate(t, "case-1", "agent-a")
	f.allocate(t, "case-2", "agent-a")
	f.allocate(t, "case-3", "agent-a")

	job, err := f.engine.ByAgent(ctx, "agent-a", "agent-b", "agent-a on leave")
	require.NoError(t, err)
	require.Equal(t, 3, job.CasesMoved)
	require.NotEqual(t, uuid.Nil, job.JobID)

	for _, caseID := range []string{"case-1", "case-2", "case-3"} {
		current, err := f.store.CurrentAllocation(ctx, caseID)
		require.NoError(t, err)
		require.Equal(t, "agent-b", current.PrimaryAgentID)
		require.Equal(t, models.AllocationAllocated, current.Status)
	}

	// Geography is refreshed where the directory still resolves the case.
	current, err := f.store.CurrentAllocation(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, "KA-BLR", current.GeographyCode)
	require.Equal(t, "100.00", current.WorkloadPercentage.StringFixed(2))

	history, err := f.store.HistoryByCase(ctx, "case-2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.ActionReallocated, history[0].Action)
	require.Equal(t, "agent-a", *history[0].AllocatedFromUserID)
	require.Equal(t, "agent-b", *history[0].AllocatedToUserID)
	require.Equal(t, "agent-a on leave", history[0].Reason)

	agentA, err := f.agents.Agent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 0, agentA.CurrentCaseCount)
	agentB, err := f.agents.Agent(ctx, "agent-b")
	require.NoError(t, err)
	require.Equal(t, 3, agentB.CurrentCaseCount)
	require.Equal(t, "30.00", agentB.AllocationPercentage.StringFixed(2))

	require.Equal(t, []string{job.JobID.String()}, f.archiver.jobIDs)
	require.Equal(t, 3, f.archiver.entries)
	require.Len(t, f.sink.Events(), 3)
}

func TestByAgentEmptySource(t *testing.T) {
	f := newFixture(t)
	f.agents.Put(models.Agent{ID: "agent-b", Active: true})

	job, err := f.engine.ByAgent(context.Background(), "agent-idle", "agent-b", "drain")
	require.NoError(t, err)
	require.Equal(t, 0, job.CasesMoved)
	require.NotEqual(t, uuid.Nil, job.JobID)
	require.Empty(t, f.archiver.jobIDs)
}

func TestByAgentUnknownTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ByAgent(context.Background(), "agent-a", "ghost", "drain")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestByFilterBucket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, CurrentCaseCount: 2, MaxCaseCapacity: capacity(10)})
	f.agents.Put(models.Agent{ID: "agent-b", Active: true, CurrentCaseCount: 1, MaxCaseCapacity: capacity(10)})
	f.agents.Put(models.Agent{ID: "agent-c", Active: true, CurrentCaseCount: 0, MaxCaseCapacity: capacity(10)})
	f.cases.Put(models.CollectionCase{ID: "case-1", Bucket: "NPA"})
	f.cases.Put(models.CollectionCase{ID: "case-2", Bucket: "B1"})
	f.cases.Put(models.CollectionCase{ID: "case-3", Bucket: "NPA"})
	f.allocate(t, "case-1", "agent-a")
	f.allocate(t, "case-2", "agent-a")
	f.allocate(t, "case-3", "agent-b")

	bucket := "NPA"
	job, err := f.engine.ByFilter(ctx, reallocation.Filter{Bucket: &bucket}, "agent-c", "npa escalation")
	require.NoError(t, err)
	require.Equal(t, 2, job.CasesMoved)

	moved1, err := f.store.CurrentAllocation(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, "agent-c", moved1.PrimaryAgentID)
	kept, err := f.store.CurrentAllocation(ctx, "case-2")
	require.NoError(t, err)
	require.Equal(t, "agent-a", kept.PrimaryAgentID)

	// Decrements are grouped per previous owner, one each here.
	agentA, err := f.agents.Agent(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, 1, agentA.CurrentCaseCount)
	agentB, err := f.agents.Agent(ctx, "agent-b")
	require.NoError(t, err)
	require.Equal(t, 0, agentB.CurrentCaseCount)
	agentC, err := f.agents.Agent(ctx, "agent-c")
	require.NoError(t, err)
	require.Equal(t, 2, agentC.CurrentCaseCount)
}

func TestByFilterStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.agents.Put(models.Agent{ID: "agent-a", Active: true, CurrentCaseCount: 1, MaxCaseCapacity: capacity(10)})
	f.agents.Put(models.Agent{ID: "agent-b", Active: true, MaxCaseCapacity: capacity(10)})
	f.allocate(t, "case-1", "agent-a")

	// A deallocated row must not match an ALLOCATED filter.
	now := time.Now().UTC()
	released := models.CaseAllocation{
		CaseID:         "case-2",
		PrimaryAgentID: "agent-a",
		Status:         models.AllocationDeallocated,
		AllocatedAt:    now.Add(-time.Hour),
		DeallocatedAt:  &now,
	}
	require.NoError(t, f.store.InsertAllocations(ctx, []models.CaseAllocation{released}))

	status := models.AllocationAllocated
	job, err := f.engine.ByFilter(ctx, reallocation.Filter{Status: &status}, "agent-b", "rebalance")
	require.NoError(t, err)
	require.Equal(t, 1, job.CasesMoved)

	untouched, err := f.store.CurrentAllocation(ctx, "case-2")
	require.NoError(t, err)
	require.Equal(t, "agent-a", untouched.PrimaryAgentID)
}

func TestByFilterNoMatches(t *testing.T) {
	f := newFixture(t)
	f.agents.Put(models.Agent{ID: "agent-b", Active: true})

	bucket := "NPA"
	job, err := f.engine.ByFilter(context.Background(), reallocation.Filter{Bucket: &bucket}, "agent-b", "noop")
	require.NoError(t, err)
	require.Equal(t, 0, job.CasesMoved)
}
