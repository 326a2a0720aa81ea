// Package ledger owns case ownership: the CaseAllocation rows and the
// append-only AllocationHistory trail. The current owner of a case is always
// the most recent allocation row, never a mutable "is current" flag.
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/audit"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/store"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/workload"
)

type Service struct {
	store      store.Store
	cases      directory.CaseDirectory
	accounting *workload.Accounting
	audit      audit.Sink
}

func New(st store.Store, cases directory.CaseDirectory, accounting *workload.Accounting, sink audit.Sink) *Service {
	return &Service{store: st, cases: cases, accounting: accounting, audit: sink}
}

// CurrentOwner returns the authoritative allocation row for a case.
func (s *Service) CurrentOwner(ctx context.Context, caseID string) (models.CaseAllocation, error) {
	return s.store.CurrentAllocation(ctx, caseID)
}

// History returns the case's ownership trail, most recent first.
func (s *Service) History(ctx context.Context, caseID string) ([]models.AllocationHistory, error) {
	return s.store.HistoryByCase(ctx, caseID)
}

// Deallocate releases a case from its current owner. The current row's
// terminal status is updated in place; the transition itself is appended to
// the history trail.
func (s *Service) Deallocate(ctx context.Context, caseID, reason string) error {
	agentID, err := s.deallocateOne(ctx, caseID, reason)
	if err != nil {
		return err
	}
	if failed := s.accounting.ApplyDeltas(ctx, map[string]int{agentID: -1}); len(failed) > 0 {
		log.Printf("ledger: workload update skipped for agent %s after deallocating case %s", agentID, caseID)
	}
	s.evictCache(ctx)
	return nil
}

func (s *Service) deallocateOne(ctx context.Context, caseID, reason string) (agentID string, err error) {
	current, err := s.store.CurrentAllocation(ctx, caseID)
	if err != nil {
		return "", err
	}
	if current.Status != models.AllocationAllocated {
		return "", &models.BusinessRuleError{
			Message: fmt.Sprintf("case %s is not currently allocated", caseID),
		}
	}

	before := current
	now := time.Now().UTC()
	current.Status = models.AllocationDeallocated
	current.DeallocatedAt = &now
	if err := s.store.UpdateAllocation(ctx, current); err != nil {
		return "", err
	}

	from := current.PrimaryAgentID
	if err := s.store.InsertHistory(ctx, models.AllocationHistory{
		CaseID:              caseID,
		AllocatedFromUserID: &from,
		Action:              models.ActionDeallocated,
		Reason:              reason,
		CreatedAt:           now,
	}); err != nil {
		return "", err
	}

	s.recordAudit(ctx, audit.NewEvent("CASE_ALLOCATION", caseID, string(models.ActionDeallocated), before, current))
	return current.PrimaryAgentID, nil
}

// BulkResult summarizes a bulk deallocation: which ids succeeded and which
// failed, without aborting the batch on the first failure.
type BulkResult struct {
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	SucceededIDs []string `json:"succeededIds,omitempty"`
	FailedIDs    []string `json:"failedIds,omitempty"`
}

// BulkDeallocate releases each case independently; a bad id does not abort
// the batch. Workload decrements are grouped per distinct owner and applied
// once, and a single cache-eviction signal fires if anything succeeded.
func (s *Service) BulkDeallocate(ctx context.Context, caseIDs []string, reason string) (BulkResult, error) {
	result := BulkResult{}
	deltas := map[string]int{}
	for _, caseID := range caseIDs {
		agentID, err := s.deallocateOne(ctx, caseID, reason)
		if err != nil {
			log.Printf("ledger: bulk deallocate case %s: %v", caseID, err)
			result.FailureCount++
			result.FailedIDs = append(result.FailedIDs, caseID)
			continue
		}
		result.SuccessCount++
		result.SucceededIDs = append(result.SucceededIDs, caseID)
		deltas[agentID]--
	}
	if result.SuccessCount > 0 {
		s.accounting.ApplyDeltas(ctx, deltas)
		s.evictCache(ctx)
	}
	return result, nil
}

func (s *Service) evictCache(ctx context.Context) {
	if err := s.cases.EvictUnallocatedCache(ctx); err != nil {
		log.Printf("ledger: cache eviction failed: %v", err)
	}
}

func (s *Service) recordAudit(ctx context.Context, ev audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, ev); err != nil {
		log.Printf("ledger: audit record failed: %v", err)
	}
}
