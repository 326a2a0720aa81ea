package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests. It
// mirrors the PG store's ordering: the current row for a case is the latest
// by allocatedAt, with insertion order breaking same-instant ties.
type MemoryStore struct {
	mu          sync.RWMutex
	rules       map[uuid.UUID]models.AllocationRule
	allocations []models.CaseAllocation
	history     []models.AllocationHistory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: map[uuid.UUID]models.AllocationRule{},
	}
}

func (m *MemoryStore) CreateRule(ctx context.Context, rule models.AllocationRule) (models.AllocationRule, error) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return rule, nil
}

func (m *MemoryStore) GetRule(ctx context.Context, id uuid.UUID) (models.AllocationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return models.AllocationRule{}, &models.NotFoundError{Entity: "allocation rule", ID: id.String()}
	}
	return rule, nil
}

func (m *MemoryStore) UpdateRuleStatus(ctx context.Context, id uuid.UUID, status models.RuleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return &models.NotFoundError{Entity: "allocation rule", ID: id.String()}
	}
	rule.Status = status
	rule.UpdatedAt = time.Now().UTC()
	m.rules[id] = rule
	return nil
}

func (m *MemoryStore) SetRuleAssignment(ctx context.Context, id uuid.UUID, agentIDs []string, percentages []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return &models.NotFoundError{Entity: "allocation rule", ID: id.String()}
	}
	rule.Criteria.AgentIDs = append([]string(nil), agentIDs...)
	rule.Criteria.Percentages = append([]int(nil), percentages...)
	rule.UpdatedAt = time.Now().UTC()
	m.rules[id] = rule
	return nil
}

func (m *MemoryStore) InsertAllocations(ctx context.Context, allocations []models.CaseAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range allocations {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.AllocatedAt.IsZero() {
			a.AllocatedAt = time.Now().UTC()
		}
		m.allocations = append(m.allocations, a)
	}
	return nil
}

func (m *MemoryStore) CurrentAllocation(ctx context.Context, caseID string) (models.CaseAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.currentIndexLocked(caseID)
	if idx < 0 {
		return models.CaseAllocation{}, &models.NotFoundError{Entity: "case allocation", ID: caseID}
	}
	return m.allocations[idx], nil
}

// currentIndexLocked finds the index of the authoritative row for a case.
func (m *MemoryStore) currentIndexLocked(caseID string) int {
	best := -1
	for i, a := range m.allocations {
		if a.CaseID != caseID {
			continue
		}
		if best < 0 || !a.AllocatedAt.Before(m.allocations[best].AllocatedAt) {
			best = i
		}
	}
	return best
}

func (m *MemoryStore) UpdateAllocation(ctx context.Context, allocation models.CaseAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.allocations {
		if a.ID == allocation.ID {
			m.allocations[i] = allocation
			return nil
		}
	}
	return &models.NotFoundError{Entity: "case allocation", ID: allocation.ID.String()}
}

func (m *MemoryStore) CurrentAllocationsByAgent(ctx context.Context, agentID string) ([]models.CaseAllocation, error) {
	return m.currentAllocations(func(a models.CaseAllocation) bool {
		return a.PrimaryAgentID == agentID && a.Status == models.AllocationAllocated
	})
}

func (m *MemoryStore) CurrentAllocations(ctx context.Context) ([]models.CaseAllocation, error) {
	return m.currentAllocations(func(models.CaseAllocation) bool { return true })
}

func (m *MemoryStore) currentAllocations(match func(models.CaseAllocation) bool) ([]models.CaseAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var out []models.CaseAllocation
	for _, a := range m.allocations {
		if seen[a.CaseID] {
			continue
		}
		seen[a.CaseID] = true
		current := m.allocations[m.currentIndexLocked(a.CaseID)]
		if match(current) {
			out = append(out, current)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AllocatedAt.Before(out[j].AllocatedAt)
	})
	return out, nil
}

func (m *MemoryStore) InsertHistory(ctx context.Context, entries ...models.AllocationHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		m.history = append(m.history, e)
	}
	return nil
}

func (m *MemoryStore) HistoryByCase(ctx context.Context, caseID string) ([]models.AllocationHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AllocationHistory
	for _, e := range m.history {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	// Most recent first; for same-instant entries the later insertion wins,
	// matching the PG store's id tiebreak.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
