package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// MemoryCaseDirectory is an in-memory case directory for tests. Pages are
// served in case-id order so paged fetches are deterministic.
type MemoryCaseDirectory struct {
	mu         sync.RWMutex
	cases      map[string]models.CollectionCase
	pageSize   int
	EvictCount int
}

func NewMemoryCaseDirectory(cases ...models.CollectionCase) *MemoryCaseDirectory {
	d := &MemoryCaseDirectory{cases: map[string]models.CollectionCase{}, pageSize: PageSize}
	for _, c := range cases {
		d.cases[c.ID] = c
	}
	return d
}

// SetPageSize overrides the page size so tests can exercise the paging loop
// without thousands of fixtures.
func (d *MemoryCaseDirectory) SetPageSize(n int) { d.pageSize = n }

// Put inserts or replaces a case record.
func (d *MemoryCaseDirectory) Put(c models.CollectionCase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cases[c.ID] = c
}

// MarkAllocated flips the allocated flag, simulating the directory learning
// about an assignment.
func (d *MemoryCaseDirectory) MarkAllocated(id string, allocated bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cases[id]
	if !ok {
		return
	}
	c.Allocated = allocated
	d.cases[id] = c
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func matchesQuery(c models.CollectionCase, q CaseQuery) bool {
	hasGeo := len(q.States) > 0 || len(q.Cities) > 0 || len(q.Locations) > 0 || len(q.Geographies) > 0
	if hasGeo {
		geoMatch := contains(q.States, c.State) ||
			contains(q.Cities, c.City) ||
			contains(q.Locations, c.Location) ||
			contains(q.Geographies, c.GeographyCode)
		if !geoMatch {
			return false
		}
	}
	if len(q.Buckets) > 0 && !contains(q.Buckets, c.Bucket) {
		return false
	}
	return true
}

func (d *MemoryCaseDirectory) UnallocatedPage(ctx context.Context, query CaseQuery, page int) ([]models.CollectionCase, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var matched []models.CollectionCase
	for _, c := range d.cases {
		if !c.Allocated && matchesQuery(c, query) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	start := page * d.pageSize
	if start >= len(matched) {
		return nil, false, nil
	}
	end := start + d.pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], end < len(matched), nil
}

func (d *MemoryCaseDirectory) CasesByID(ctx context.Context, ids []string) ([]models.CollectionCase, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.CollectionCase
	for _, id := range ids {
		if c, ok := d.cases[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *MemoryCaseDirectory) EvictUnallocatedCache(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.EvictCount++
	return nil
}

// MemoryAgentDirectory is an in-memory agent directory for tests.
type MemoryAgentDirectory struct {
	mu     sync.RWMutex
	agents map[string]models.Agent
}

func NewMemoryAgentDirectory(agents ...models.Agent) *MemoryAgentDirectory {
	d := &MemoryAgentDirectory{agents: map[string]models.Agent{}}
	for _, a := range agents {
		d.agents[a.ID] = a
	}
	return d
}

func (d *MemoryAgentDirectory) Put(a models.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a
}

func (d *MemoryAgentDirectory) Agent(ctx context.Context, id string) (models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return models.Agent{}, &models.NotFoundError{Entity: "agent", ID: id}
	}
	return a, nil
}

func (d *MemoryAgentDirectory) AgentsByGeographies(ctx context.Context, geographies []string) ([]models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Agent
	for _, a := range d.agents {
		for _, g := range a.Geographies {
			if contains(geographies, g) {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryAgentDirectory) ActiveAgents(ctx context.Context) ([]models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Agent
	for _, a := range d.agents {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryAgentDirectory) UpdateWorkload(ctx context.Context, id string, caseCount int, allocationPercentage decimal.Decimal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return &models.NotFoundError{Entity: "agent", ID: id}
	}
	a.CurrentCaseCount = caseCount
	a.AllocationPercentage = allocationPercentage
	d.agents[id] = a
	return nil
}
