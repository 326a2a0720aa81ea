// Package engine implements the allocation-rule lifecycle: rules are created
// as DRAFT, a simulate pass computes a suggested distribution and advances
// them to READY_FOR_APPLY, and an apply pass commits the distribution and
// activates the rule. Transitions only move forward.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/audit"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/distribution"
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
}

func New(st store.Store, cases directory.CaseDirectory, agents directory.AgentDirectory, accounting *workload.Accounting, sink audit.Sink) *Engine {
	return &Engine{store: st, cases: cases, agents: agents, accounting: accounting, audit: sink}
}

// CreateRuleInput carries the caller-supplied rule fields.
type CreateRuleInput struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	RuleType    models.RuleType     `json:"ruleType"`
	Criteria    models.RuleCriteria `json:"criteria"`
	Priority    int                 `json:"priority"`
}

// CreateRule validates and persists a new rule in DRAFT status. At least one
// geography dimension must be present in the criteria.
func (e *Engine) CreateRule(ctx context.Context, in CreateRuleInput) (models.AllocationRule, error) {
	if in.Name == "" {
		return models.AllocationRule{}, &models.ValidationError{Field: "name", Message: "required"}
	}
	if !in.RuleType.Valid() {
		return models.AllocationRule{}, &models.ValidationError{Field: "ruleType", Message: fmt.Sprintf("unknown rule type %q", in.RuleType)}
	}
	if !in.Criteria.HasGeography() {
		return models.AllocationRule{}, &models.ValidationError{
			Field:   "criteria",
			Message: "at least one geography filter (states, cities, locations, or geographies) is required",
		}
	}
	return e.store.CreateRule(ctx, models.AllocationRule{
		Name:        in.Name,
		Description: in.Description,
		RuleType:    in.RuleType,
		Criteria:    in.Criteria,
		Status:      models.RuleDraft,
		Priority:    in.Priority,
	})
}

func (e *Engine) GetRule(ctx context.Context, id uuid.UUID) (models.AllocationRule, error) {
	return e.store.GetRule(ctx, id)
}

// SimulationResult is the simulate response: the matched cases, the eligible
// agents with their capacity snapshot, and the suggested distribution.
// Nothing has been assigned yet.
type SimulationResult struct {
	RuleID     uuid.UUID                    `json:"ruleId"`
	RuleStatus models.RuleStatus            `json:"ruleStatus"`
	CaseIDs    []string                     `json:"caseIds"`
	AgentIDs   []string                     `json:"agentIds"`
	Capacities []distribution.AgentCapacity `json:"capacities"`
	Suggested  []distribution.Share         `json:"suggested"`
}

// Simulate resolves the rule's matching unallocated cases and eligible
// agents and computes a suggested distribution. A DRAFT rule advances to
// READY_FOR_APPLY; re-simulating a READY_FOR_APPLY rule only refreshes the
// suggestion. An ACTIVE rule cannot be simulated.
func (e *Engine) Simulate(ctx context.Context, ruleID uuid.UUID) (SimulationResult, error) {
	rule, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return SimulationResult{}, err
	}
	if rule.Status != models.RuleDraft && rule.Status != models.RuleReadyForApply {
		return SimulationResult{}, &models.BusinessRuleError{
			Message: fmt.Sprintf("rule %s has status %s and can no longer be simulated", ruleID, rule.Status),
		}
	}

	matched, err := directory.AllUnallocated(ctx, e.cases, queryFromCriteria(rule.Criteria))
	if err != nil {
		return SimulationResult{}, fmt.Errorf("resolve unallocated cases: %w", err)
	}
	if len(matched) == 0 {
		return SimulationResult{}, &models.BusinessRuleError{
			Message: "no unallocated cases match the rule criteria",
		}
	}

	agents, err := e.eligibleAgents(ctx, rule)
	if err != nil {
		return SimulationResult{}, err
	}

	caseIDs := make([]string, len(matched))
	for i, c := range matched {
		caseIDs[i] = c.ID
	}
	agentIDs := make([]string, len(agents))
	for i, a := range agents {
		agentIDs[i] = a.ID
	}
	capacities := distribution.SnapshotAgents(agents)
	suggested := e.suggest(rule.RuleType, agentIDs, capacities, len(caseIDs))

	if rule.Status == models.RuleDraft {
		if err := e.store.UpdateRuleStatus(ctx, ruleID, models.RuleReadyForApply); err != nil {
			return SimulationResult{}, err
		}
		e.recordAudit(ctx, audit.NewEvent("ALLOCATION_RULE", ruleID.String(), "SIMULATED",
			map[string]any{"status": rule.Status},
			map[string]any{"status": models.RuleReadyForApply},
		))
		rule.Status = models.RuleReadyForApply
	}

	return SimulationResult{
		RuleID:     ruleID,
		RuleStatus: rule.Status,
		CaseIDs:    caseIDs,
		AgentIDs:   agentIDs,
		Capacities: capacities,
		Suggested:  suggested,
	}, nil
}

// suggest picks the simulate-phase distribution for a rule type. Percentage
// rules have no percentages attached yet, so they default to an equal split.
func (e *Engine) suggest(ruleType models.RuleType, agentIDs []string, capacities []distribution.AgentCapacity, total int) []distribution.Share {
	if ruleType == models.RuleCapacityBased {
		return distribution.CapacitySplit(capacities, total)
	}
	return distribution.EqualSplit(agentIDs, total)
}

// eligibleAgents resolves agents whose assigned geographies intersect the
// rule's geography filters, sorted by id ascending for determinism.
func (e *Engine) eligibleAgents(ctx context.Context, rule models.AllocationRule) ([]models.Agent, error) {
	terms := rule.Criteria.GeographyTerms()
	if len(terms) == 0 {
		return nil, &models.BusinessRuleError{
			Message: "agent detection requires a geography filter on the rule",
		}
	}
	agents, err := e.agents.AgentsByGeographies(ctx, terms)
	if err != nil {
		return nil, fmt.Errorf("resolve eligible agents: %w", err)
	}
	if len(agents) == 0 {
		return nil, &models.BusinessRuleError{
			Message: "no eligible agents for the rule's geography filters",
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// ApplyRequest carries the commit parameters, normally copied from the
// simulate response.
type ApplyRequest struct {
	AgentIDs    []string `json:"agentIds"`
	Percentages []int    `json:"percentages,omitempty"`
	CaseIDs     []string `json:"caseIds,omitempty"`
	MaxCases    int      `json:"maxCases,omitempty"` // 0 means no cap
}

// ExecutionResult summarizes a committed apply.
type ExecutionResult struct {
	RuleID         uuid.UUID            `json:"ruleId"`
	RuleStatus     models.RuleStatus    `json:"ruleStatus"`
	AllocatedCount int                  `json:"allocatedCount"`
	Distribution   []distribution.Share `json:"distribution"`
}

// Apply commits a distribution for a READY_FOR_APPLY rule and activates it.
// When the request omits explicit case ids the matching set is re-resolved;
// cases claimed by another rule since simulation silently shrink the batch
// rather than failing it.
func (e *Engine) Apply(ctx context.Context, ruleID uuid.UUID, req ApplyRequest) (ExecutionResult, error) {
	rule, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return ExecutionResult{}, err
	}
	if rule.Status != models.RuleReadyForApply {
		return ExecutionResult{}, &models.BusinessRuleError{
			Message: "simulation required before applying",
		}
	}
	if len(req.AgentIDs) == 0 {
		return ExecutionResult{}, &models.ValidationError{Field: "agentIds", Message: "at least one agent is required"}
	}
	if rule.RuleType == models.RulePercentageSplit {
		if err := distribution.ValidatePercentages(req.AgentIDs, req.Percentages); err != nil {
			return ExecutionResult{}, err
		}
	}

	// Every agent must resolve before anything is written.
	agents := make([]models.Agent, 0, len(req.AgentIDs))
	for _, id := range req.AgentIDs {
		agent, err := e.agents.Agent(ctx, id)
		if err != nil {
			return ExecutionResult{}, err
		}
		agents = append(agents, agent)
	}

	caseRecords, err := e.resolveCases(ctx, rule, req.CaseIDs)
	if err != nil {
		return ExecutionResult{}, err
	}
	if req.MaxCases > 0 && len(caseRecords) > req.MaxCases {
		caseRecords = caseRecords[:req.MaxCases]
	}

	shares := e.dispatch(rule, req, agents, len(caseRecords))

	now := time.Now().UTC()
	fullWorkload := decimal.New(10000, -2) // 100.00
	allocations := make([]models.CaseAllocation, 0, len(caseRecords))
	entries := make([]models.AllocationHistory, 0, len(caseRecords))
	deltas := map[string]int{}

	next := 0
	for i, share := range shares {
		reason := fmt.Sprintf("rule %s", rule.Name)
		if rule.RuleType == models.RulePercentageSplit {
			reason = fmt.Sprintf("rule %s (%d%%)", rule.Name, req.Percentages[i])
		}
		for n := 0; n < share.Count && next < len(caseRecords); n++ {
			c := caseRecords[next]
			next++
			agentID := share.AgentID
			rid := ruleID
			allocations = append(allocations, models.CaseAllocation{
				ID:                 uuid.New(),
				CaseID:             c.ID,
				PrimaryAgentID:     agentID,
				Status:             models.AllocationAllocated,
				AllocationRuleID:   &rid,
				WorkloadPercentage: fullWorkload,
				GeographyCode:      c.GeographyCode,
				AllocatedAt:        now,
			})
			to := agentID
			entries = append(entries, models.AllocationHistory{
				CaseID:            c.ID,
				AllocatedToUserID: &to,
				Action:            models.ActionAllocated,
				Reason:            reason,
				CreatedAt:         now,
			})
			deltas[agentID]++
		}
	}

	if err := e.store.InsertAllocations(ctx, allocations); err != nil {
		return ExecutionResult{}, err
	}
	if err := e.store.InsertHistory(ctx, entries...); err != nil {
		return ExecutionResult{}, err
	}
	if err := e.store.SetRuleAssignment(ctx, ruleID, req.AgentIDs, req.Percentages); err != nil {
		log.Printf("engine: attaching assignment to rule %s failed: %v", ruleID, err)
	}

	e.accounting.ApplyDeltas(ctx, deltas)

	if err := e.store.UpdateRuleStatus(ctx, ruleID, models.RuleActive); err != nil {
		return ExecutionResult{}, err
	}

	if err := e.cases.EvictUnallocatedCache(ctx); err != nil {
		log.Printf("engine: cache eviction failed: %v", err)
	}
	e.recordAudit(ctx, audit.NewEvent("ALLOCATION_RULE", ruleID.String(), "APPLIED",
		map[string]any{"status": models.RuleReadyForApply},
		map[string]any{"status": models.RuleActive, "allocatedCount": len(allocations)},
	))

	return ExecutionResult{
		RuleID:         ruleID,
		RuleStatus:     models.RuleActive,
		AllocatedCount: len(allocations),
		Distribution:   shares,
	}, nil
}

// resolveCases returns the case records to allocate, in consumption order.
// Explicit ids are validated to exist and be unowned; otherwise the matching
// unallocated set is re-resolved from the directory.
func (e *Engine) resolveCases(ctx context.Context, rule models.AllocationRule, caseIDs []string) ([]models.CollectionCase, error) {
	if len(caseIDs) == 0 {
		matched, err := directory.AllUnallocated(ctx, e.cases, queryFromCriteria(rule.Criteria))
		if err != nil {
			return nil, fmt.Errorf("resolve unallocated cases: %w", err)
		}
		if len(matched) == 0 {
			return nil, &models.BusinessRuleError{Message: "no unallocated cases match the rule criteria"}
		}
		return matched, nil
	}

	records, err := e.cases.CasesByID(ctx, caseIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve cases by id: %w", err)
	}
	byID := make(map[string]models.CollectionCase, len(records))
	for _, c := range records {
		byID[c.ID] = c
	}

	ordered := make([]models.CollectionCase, 0, len(caseIDs))
	for _, id := range caseIDs {
		c, ok := byID[id]
		if !ok {
			return nil, &models.NotFoundError{Entity: "case", ID: id}
		}
		current, err := e.store.CurrentAllocation(ctx, id)
		switch {
		case err == nil && current.Status == models.AllocationAllocated:
			return nil, &models.BusinessRuleError{
				Message: fmt.Sprintf("case %s is already allocated", id),
			}
		case err != nil && !isNotFound(err):
			return nil, err
		}
		ordered = append(ordered, c)
	}
	return ordered, nil
}

func (e *Engine) dispatch(rule models.AllocationRule, req ApplyRequest, agents []models.Agent, total int) []distribution.Share {
	switch rule.RuleType {
	case models.RulePercentageSplit:
		// Percentages were validated up front; the error path is unreachable.
		shares, _ := distribution.WeightedSplit(req.AgentIDs, req.Percentages, total)
		return shares
	case models.RuleCapacityBased:
		return distribution.CapacitySplit(distribution.SnapshotAgents(agents), total)
	default:
		return distribution.EqualSplit(req.AgentIDs, total)
	}
}

func queryFromCriteria(c models.RuleCriteria) directory.CaseQuery {
	return directory.CaseQuery{
		States:      c.States,
		Cities:      c.Cities,
		Locations:   c.Locations,
		Geographies: c.Geographies,
		Buckets:     c.Buckets,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

func (e *Engine) recordAudit(ctx context.Context, ev audit.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, ev); err != nil {
		log.Printf("engine: audit record failed: %v", err)
	}
}
