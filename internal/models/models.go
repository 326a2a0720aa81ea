package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleType selects the distribution algorithm an allocation rule uses.
type RuleType string

const (
	RulePercentageSplit RuleType = "PERCENTAGE_SPLIT"
	RuleCapacityBased   RuleType = "CAPACITY_BASED"
	RuleGeography       RuleType = "GEOGRAPHY"
)

func (t RuleType) Valid() bool {
	switch t {
	case RulePercentageSplit, RuleCapacityBased, RuleGeography:
		return true
	}
	return false
}

// RuleStatus tracks the rule lifecycle. Transitions only ever move forward:
// DRAFT -> READY_FOR_APPLY (simulate, idempotent) -> ACTIVE (apply).
type RuleStatus string

const (
	RuleDraft         RuleStatus = "DRAFT"
	RuleReadyForApply RuleStatus = "READY_FOR_APPLY"
	RuleActive        RuleStatus = "ACTIVE"
)

// AllocationStatus is the terminal state of a CaseAllocation row.
type AllocationStatus string

const (
	AllocationAllocated   AllocationStatus = "ALLOCATED"
	AllocationDeallocated AllocationStatus = "DEALLOCATED"
)

// HistoryAction labels an AllocationHistory entry.
type HistoryAction string

const (
	ActionAllocated   HistoryAction = "ALLOCATED"
	ActionDeallocated HistoryAction = "DEALLOCATED"
	ActionReallocated HistoryAction = "REALLOCATED"
)

// RuleCriteria restricts which unallocated cases a rule matches. At least one
// geography dimension (states, cities, locations, or the legacy geography
// list) must be present at creation time.
type RuleCriteria struct {
	States      []string `json:"states,omitempty"`
	Cities      []string `json:"cities,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	Geographies []string `json:"geographies,omitempty"` // legacy single-list form
	Buckets     []string `json:"buckets,omitempty"`

	// Attached after simulation/apply for traceability.
	AgentIDs    []string `json:"agentIds,omitempty"`
	Percentages []int    `json:"percentages,omitempty"`
}

// HasGeography reports whether any geography dimension is set.
func (c RuleCriteria) HasGeography() bool {
	return len(c.States) > 0 || len(c.Cities) > 0 || len(c.Locations) > 0 || len(c.Geographies) > 0
}

// GeographyTerms flattens every geography dimension into one list, used for
// agent eligibility lookups.
func (c RuleCriteria) GeographyTerms() []string {
	terms := make([]string, 0, len(c.States)+len(c.Cities)+len(c.Locations)+len(c.Geographies))
	terms = append(terms, c.States...)
	terms = append(terms, c.Cities...)
	terms = append(terms, c.Locations...)
	terms = append(terms, c.Geographies...)
	return terms
}

type AllocationRule struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	RuleType    RuleType     `json:"ruleType"`
	Criteria    RuleCriteria `json:"criteria"`
	Status      RuleStatus   `json:"status"`
	Priority    int          `json:"priority"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// CaseAllocation records one ownership of a case. The most recent row by
// allocatedAt is the authoritative current owner; older rows are history and
// are never rewritten, except that the current row's status flips to
// DEALLOCATED in place when the case is released.
type CaseAllocation struct {
	ID                 uuid.UUID        `json:"id"`
	CaseID             string           `json:"caseId"`
	PrimaryAgentID     string           `json:"primaryAgentId"`
	SecondaryAgentID   *string          `json:"secondaryAgentId,omitempty"`
	Status             AllocationStatus `json:"status"`
	AllocationRuleID   *uuid.UUID       `json:"allocationRuleId,omitempty"`
	WorkloadPercentage decimal.Decimal  `json:"workloadPercentage"`
	GeographyCode      string           `json:"geographyCode,omitempty"`
	AllocatedAt        time.Time        `json:"allocatedAt"`
	DeallocatedAt      *time.Time       `json:"deallocatedAt,omitempty"`
}

// AllocationHistory is the append-only audit trail of ownership changes.
type AllocationHistory struct {
	ID                  uuid.UUID     `json:"id"`
	CaseID              string        `json:"caseId"`
	AllocatedFromUserID *string       `json:"allocatedFromUserId,omitempty"`
	AllocatedToUserID   *string       `json:"allocatedToUserId,omitempty"`
	Action              HistoryAction `json:"action"`
	Reason              string        `json:"reason,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
}

// DefaultMaxCaseCapacity applies when an agent record carries no explicit
// capacity.
const DefaultMaxCaseCapacity = 100

// Agent is the subset of the agent directory record this engine reads, plus
// the two workload fields it is allowed to write back.
type Agent struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name,omitempty"`
	Geographies          []string        `json:"geographies,omitempty"`
	Active               bool            `json:"active"`
	CurrentCaseCount     int             `json:"currentCaseCount"`
	MaxCaseCapacity      *int            `json:"maxCaseCapacity,omitempty"`
	AllocationPercentage decimal.Decimal `json:"allocationPercentage"`
}

// Capacity returns the effective max capacity, defaulting when unset.
func (a Agent) Capacity() int {
	if a.MaxCaseCapacity == nil {
		return DefaultMaxCaseCapacity
	}
	return *a.MaxCaseCapacity
}

// AvailableCapacity is capacity minus current load, floored at zero.
func (a Agent) AvailableCapacity() int {
	avail := a.Capacity() - a.CurrentCaseCount
	if avail < 0 {
		return 0
	}
	return avail
}

// CollectionCase is the case directory's view of a debt-collection case.
type CollectionCase struct {
	ID            string `json:"id"`
	State         string `json:"state,omitempty"`
	City          string `json:"city,omitempty"`
	Location      string `json:"location,omitempty"`
	GeographyCode string `json:"geographyCode,omitempty"`
	Bucket        string `json:"bucket,omitempty"`
	Allocated     bool   `json:"allocated"`
}
