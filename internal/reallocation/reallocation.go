// Package reallocation bulk-transfers case ownership between agents, either
// by draining one agent or by matching a filter. Ledger writes are the
// atomic part; workload accounting and archival stay best-effort.
package reallocation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/audit"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/store"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/workload"
)

type Engine struct {
	store      store.Store
	cases      directory.CaseDirectory
	agents     directory.AgentDirectory
	accounting *workload.Accounting
	audit      audit.Sink
	archiver   audit.HistoryArchiver // optional
}

func New(st store.Store, cases directory.CaseDirectory, agents directory.AgentDirectory, accounting *workload.Accounting, sink audit.Sink, archiver audit.HistoryArchiver) *Engine {
	return &Engine{store: st, cases: cases, agents: agents, accounting: accounting, audit: sink, archiver: archiver}
}

// Job describes a completed reallocation.
type Job struct {
	JobID      uuid.UUID `json:"jobId"`
	CasesMoved int       `json:"casesMoved"`
}

// Filter narrows the by-filter source set. Predicates are ANDed; absent
// fields are unconstrained.
type Filter struct {
	Bucket *string                  `json:"bucket,omitempty"`
	Status *models.AllocationStatus `json:"status,omitempty"`
}

// ByAgent moves every case currently owned by fromAgentID to toAgentID.
// An empty source set is a successful zero-case job, not an error.
func (e *Engine) ByAgent(ctx context.Context, fromAgentID, toAgentID, reason string) (Job, error) {
	if _, err := e.agents.Agent(ctx, toAgentID); err != nil {
		return Job{}, err
	}
	allocations, err := e.store.CurrentAllocationsByAgent(ctx, fromAgentID)
	if err != nil {
		return Job{}, err
	}
	job := Job{JobID: uuid.New()}
	if len(allocations) == 0 {
		return job, nil
	}

	moved, err := e.transfer(ctx, job.JobID, allocations, toAgentID, reason)
	if err != nil {
		return Job{}, err
	}
	job.CasesMoved = moved

	e.accounting.ApplyDeltas(ctx, map[string]int{
		fromAgentID: -moved,
		toAgentID:   moved,
	})
	return job, nil
}

// ByFilter moves every current allocation matching the filter to toAgentID.
// Workload decrements are grouped per distinct previous owner discovered in
// the matched set before the single aggregate increment to the target.
func (e *Engine) ByFilter(ctx context.Context, filter Filter, toAgentID, reason string) (Job, error) {
	if _, err := e.agents.Agent(ctx, toAgentID); err != nil {
		return Job{}, err
	}
	all, err := e.store.CurrentAllocations(ctx)
	if err != nil {
		return Job{}, err
	}
	matched, err := e.applyFilter(ctx, all, filter)
	if err != nil {
		return Job{}, err
	}
	job := Job{JobID: uuid.New()}
	if len(matched) == 0 {
		return job, nil
	}

	deltas := map[string]int{}
	for _, a := range matched {
		deltas[a.PrimaryAgentID]--
	}

	moved, err := e.transfer(ctx, job.JobID, matched, toAgentID, reason)
	if err != nil {
		return Job{}, err
	}
	job.CasesMoved = moved

	deltas[toAgentID] += moved
	e.accounting.ApplyDeltas(ctx, deltas)
	return job, nil
}

func (e *Engine) applyFilter(ctx context.Context, allocations []models.CaseAllocation, filter Filter) ([]models.CaseAllocation, error) {
	var out []models.CaseAllocation
	var buckets map[string]string
	if filter.Bucket != nil {
		ids := make([]string, len(allocations))
		for i, a := range allocations {
			ids[i] = a.CaseID
		}
		records, err := e.cases.CasesByID(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve case buckets: %w", err)
		}
		buckets = make(map[string]string, len(records))
		for _, c := range records {
			buckets[c.ID] = c.Bucket
		}
	}
	for _, a := range allocations {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Bucket != nil && buckets[a.CaseID] != *filter.Bucket {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// transfer rewrites ownership of the given rows and appends one REALLOCATED
// history entry per case. The geography code is refreshed from the case
// directory when the record is still resolvable.
func (e *Engine) transfer(ctx context.Context, jobID uuid.UUID, allocations []models.CaseAllocation, toAgentID, reason string) (int, error) {
	ids := make([]string, len(allocations))
	for i, a := range allocations {
		ids[i] = a.CaseID
	}
	geographies := map[string]string{}
	if records, err := e.cases.CasesByID(ctx, ids); err != nil {
		log.Printf("reallocation: geography refresh unavailable: %v", err)
	} else {
		for _, c := range records {
			geographies[c.ID] = c.GeographyCode
		}
	}

	now := time.Now().UTC()
	fullWorkload := decimal.New(10000, -2) // 100.00
	entries := make([]models.AllocationHistory, 0, len(allocations))
	for _, a := range allocations {
		before := a
		from := a.PrimaryAgentID
		a.PrimaryAgentID = toAgentID
		if geo, ok := geographies[a.CaseID]; ok && geo != "" {
			a.GeographyCode = geo
		}
		if a.WorkloadPercentage.IsZero() {
			a.WorkloadPercentage = fullWorkload
		}
		if err := e.store.UpdateAllocation(ctx, a); err != nil {
			return 0, fmt.Errorf("transfer case %s: %w", a.CaseID, err)
		}
		to := toAgentID
		fromCopy := from
		entries = append(entries, models.AllocationHistory{
			CaseID:              a.CaseID,
			AllocatedFromUserID: &fromCopy,
			AllocatedToUserID:   &to,
			Action:              models.ActionReallocated,
			Reason:              reason,
			CreatedAt:           now,
		})
		e.recordAudit(ctx, audit.NewEvent("CASE_ALLOCATION", a.CaseID, string(models.ActionReallocated), before, a))
	}
	if err := e.store.InsertHistory(ctx, entries...); err != nil {
		return 0, err
	}

	if e.archiver != nil {
		if key, err := e.archiver.ArchiveHistory(ctx, jobID.String(), entries); err != nil {
			log.Printf("reallocation: history archive failed for job %s: %v", jobID, err)
		} else {
			log.Printf("reallocation: archived %d history entries for job %s at %s", len(entries), jobID, key)
		}
	}
	return len(allocations), nil
}

func (e *Engine) recordAudit(ctx context.Context, ev audit.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, ev); err != nil {
		log.Printf("reallocation: audit record failed: %v", err)
	}
}
