// Package directory holds the client boundaries to the two external
// collaborators this engine consumes: the case directory and the agent
// directory. HTTP implementations talk to the owning services; memory fakes
// back the tests.
package directory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// PageSize is the fixed page size for unallocated-case queries.
const PageSize = 1000

// CaseQuery restricts an unallocated-case fetch. A case matches the
// geography part when any non-empty dimension contains the case's value;
// buckets, when present, are ANDed on top.
type CaseQuery struct {
	States      []string `json:"states,omitempty"`
	Cities      []string `json:"cities,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	Geographies []string `json:"geographies,omitempty"`
	Buckets     []string `json:"buckets,omitempty"`
}

// CaseDirectory is the read side of the external case store plus its
// best-effort cache-eviction signal.
type CaseDirectory interface {
	// UnallocatedPage fetches one page of matching unallocated cases.
	// hasMore reports whether another page should be requested.
	UnallocatedPage(ctx context.Context, query CaseQuery, page int) (cases []models.CollectionCase, hasMore bool, err error)

	// CasesByID bulk-resolves case records. Unknown ids are simply absent
	// from the result.
	CasesByID(ctx context.Context, ids []string) ([]models.CollectionCase, error)

	// EvictUnallocatedCache asks the directory to drop its unallocated-cases
	// cache. Callers treat failures as non-fatal.
	EvictUnallocatedCache(ctx context.Context) error
}

// AgentDirectory is the agent store boundary. The engine reads agent records
// and writes back only the two workload fields.
type AgentDirectory interface {
	Agent(ctx context.Context, id string) (models.Agent, error)
	AgentsByGeographies(ctx context.Context, geographies []string) ([]models.Agent, error)
	ActiveAgents(ctx context.Context) ([]models.Agent, error)
	UpdateWorkload(ctx context.Context, id string, caseCount int, allocationPercentage decimal.Decimal) error
}

// AllUnallocated loops the paged query until the directory reports no
// further page, merging results client-side.
func AllUnallocated(ctx context.Context, dir CaseDirectory, query CaseQuery) ([]models.CollectionCase, error) {
	var out []models.CollectionCase
	for page := 0; ; page++ {
		cases, hasMore, err := dir.UnallocatedPage(ctx, query, page)
		if err != nil {
			return nil, err
		}
		out = append(out, cases...)
		if !hasMore {
			return out, nil
		}
	}
}
