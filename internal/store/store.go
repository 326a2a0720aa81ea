package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// Store is the persistence boundary for the entities this engine owns:
// allocation rules, case allocations, and allocation history.
type Store interface {
	CreateRule(ctx context.Context, rule models.AllocationRule) (models.AllocationRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (models.AllocationRule, error)
	UpdateRuleStatus(ctx context.Context, id uuid.UUID, status models.RuleStatus) error
	SetRuleAssignment(ctx context.Context, id uuid.UUID, agentIDs []string, percentages []int) error

	InsertAllocations(ctx context.Context, allocations []models.CaseAllocation) error
	CurrentAllocation(ctx context.Context, caseID string) (models.CaseAllocation, error)
	UpdateAllocation(ctx context.Context, allocation models.CaseAllocation) error
	CurrentAllocationsByAgent(ctx context.Context, agentID string) ([]models.CaseAllocation, error)
	CurrentAllocations(ctx context.Context) ([]models.CaseAllocation, error)

	InsertHistory(ctx context.Context, entries ...models.AllocationHistory) error
	HistoryByCase(ctx context.Context, caseID string) ([]models.AllocationHistory, error)

	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateRule(ctx context.Context, rule models.AllocationRule) (models.AllocationRule, error) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return models.AllocationRule{}, fmt.Errorf("marshal criteria: %w", err)
	}
	query := `
		INSERT INTO allocation_rules (id, name, description, rule_type, criteria, status, priority)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRowContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.RuleType, criteria, rule.Status, rule.Priority,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return models.AllocationRule{}, fmt.Errorf("insert allocation rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) GetRule(ctx context.Context, id uuid.UUID) (models.AllocationRule, error) {
	const query = `
		SELECT name, description, rule_type, criteria, status, priority, created_at, updated_at
		FROM allocation_rules
		WHERE id=$1
	`
	rule := models.AllocationRule{ID: id}
	var criteria []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rule.Name, &rule.Description, &rule.RuleType, &criteria,
		&rule.Status, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AllocationRule{}, &models.NotFoundError{Entity: "allocation rule", ID: id.String()}
		}
		return models.AllocationRule{}, fmt.Errorf("get allocation rule: %w", err)
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &rule.Criteria); err != nil {
			return models.AllocationRule{}, fmt.Errorf("decode criteria: %w", err)
		}
	}
	return rule, nil
}

func (s *PGStore) UpdateRuleStatus(ctx context.Context, id uuid.UUID, status models.RuleStatus) error {
	query := `UPDATE allocation_rules SET status=$2, updated_at=NOW() WHERE id=$1`
	res, err := s.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update rule status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return &models.NotFoundError{Entity: "allocation rule", ID: id.String()}
	}
	return nil
}

func (s *PGStore) SetRuleAssignment(ctx context.Context, id uuid.UUID, agentIDs []string, percentages []int) error {
	query := `
		UPDATE allocation_rules
		SET criteria = criteria
			|| jsonb_build_object('agentIds', $2::jsonb)
			|| jsonb_build_object('percentages', $3::jsonb),
		    updated_at = NOW()
		WHERE id=$1
	`
	agents, err := json.Marshal(agentIDs)
	if err != nil {
		return fmt.Errorf("marshal agent ids: %w", err)
	}
	pcts, err := json.Marshal(percentages)
	if err != nil {
		return fmt.Errorf("marshal percentages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, id, agents, pcts)
	if err != nil {
		return fmt.Errorf("set rule assignment: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return &models.NotFoundError{Entity: "allocation rule", ID: id.String()}
	}
	return nil
}

func (s *PGStore) InsertAllocations(ctx context.Context, allocations []models.CaseAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation batch: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO case_allocations
			(id, case_id, primary_agent_id, secondary_agent_id, status,
			 allocation_rule_id, workload_percentage, geography_code, allocated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	for _, a := range allocations {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.AllocatedAt.IsZero() {
			a.AllocatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query,
			a.ID, a.CaseID, a.PrimaryAgentID, a.SecondaryAgentID, a.Status,
			a.AllocationRuleID, a.WorkloadPercentage, a.GeographyCode, a.AllocatedAt,
		); err != nil {
			return fmt.Errorf("insert allocation for case %s: %w", a.CaseID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit allocation batch: %w", err)
	}
	return nil
}

const allocationColumns = `
	id, case_id, primary_agent_id, secondary_agent_id, status,
	allocation_rule_id, workload_percentage, geography_code, allocated_at, deallocated_at
`

func scanAllocation(row interface{ Scan(...any) error }) (models.CaseAllocation, error) {
	var (
		a        models.CaseAllocation
		ruleID   uuid.NullUUID
		sec      sql.NullString
		geo      sql.NullString
		dealloca sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.CaseID, &a.PrimaryAgentID, &sec, &a.Status,
		&ruleID, &a.WorkloadPercentage, &geo, &a.AllocatedAt, &dealloca,
	)
	if err != nil {
		return models.CaseAllocation{}, err
	}
	if sec.Valid {
		a.SecondaryAgentID = &sec.String
	}
	if geo.Valid {
		a.GeographyCode = geo.String
	}
	if ruleID.Valid {
		id := ruleID.UUID
		a.AllocationRuleID = &id
	}
	if dealloca.Valid {
		t := dealloca.Time
		a.DeallocatedAt = &t
	}
	return a, nil
}

// CurrentAllocation returns the authoritative row for a case: the latest by
// allocated_at, with the row id breaking same-instant ties.
func (s *PGStore) CurrentAllocation(ctx context.Context, caseID string) (models.CaseAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM case_allocations
		WHERE case_id=$1
		ORDER BY allocated_at DESC, id DESC
		LIMIT 1
	`
	allocation, err := scanAllocation(s.db.QueryRowContext(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CaseAllocation{}, &models.NotFoundError{Entity: "case allocation", ID: caseID}
		}
		return models.CaseAllocation{}, fmt.Errorf("get current allocation: %w", err)
	}
	return allocation, nil
}

func (s *PGStore) UpdateAllocation(ctx context.Context, allocation models.CaseAllocation) error {
	query := `
		UPDATE case_allocations
		SET primary_agent_id=$2, secondary_agent_id=$3, status=$4,
		    workload_percentage=$5, geography_code=$6, deallocated_at=$7
		WHERE id=$1
	`
	res, err := s.db.ExecContext(ctx, query,
		allocation.ID, allocation.PrimaryAgentID, allocation.SecondaryAgentID, allocation.Status,
		allocation.WorkloadPercentage, allocation.GeographyCode, allocation.DeallocatedAt,
	)
	if err != nil {
		return fmt.Errorf("update allocation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return &models.NotFoundError{Entity: "case allocation", ID: allocation.ID.String()}
	}
	return nil
}

// currentRowsQuery selects the latest row per case; callers filter on top.
const currentRowsQuery = `
	SELECT DISTINCT ON (case_id) ` + allocationColumns + `
	FROM case_allocations
	ORDER BY case_id, allocated_at DESC, id DESC
`

func (s *PGStore) CurrentAllocationsByAgent(ctx context.Context, agentID string) ([]models.CaseAllocation, error) {
	query := `
		SELECT ` + allocationColumns + ` FROM (` + currentRowsQuery + `) cur
		WHERE primary_agent_id=$1 AND status=$2
		ORDER BY allocated_at
	`
	return s.queryAllocations(ctx, query, agentID, models.AllocationAllocated)
}

func (s *PGStore) CurrentAllocations(ctx context.Context) ([]models.CaseAllocation, error) {
	query := `
		SELECT ` + allocationColumns + ` FROM (` + currentRowsQuery + `) cur
		ORDER BY allocated_at
	`
	return s.queryAllocations(ctx, query)
}

func (s *PGStore) queryAllocations(ctx context.Context, query string, args ...any) ([]models.CaseAllocation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	var out []models.CaseAllocation
	for rows.Next() {
		allocation, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, allocation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return out, nil
}

func (s *PGStore) InsertHistory(ctx context.Context, entries ...models.AllocationHistory) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history batch: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO allocation_history
			(id, case_id, allocated_from_user_id, allocated_to_user_id, action, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query,
			e.ID, e.CaseID, e.AllocatedFromUserID, e.AllocatedToUserID, e.Action, e.Reason, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert history for case %s: %w", e.CaseID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history batch: %w", err)
	}
	return nil
}

func (s *PGStore) HistoryByCase(ctx context.Context, caseID string) ([]models.AllocationHistory, error) {
	const query = `
		SELECT id, case_id, allocated_from_user_id, allocated_to_user_id, action, reason, created_at
		FROM allocation_history
		WHERE case_id=$1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.AllocationHistory
	for rows.Next() {
		var (
			e    models.AllocationHistory
			from sql.NullString
			to   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &from, &to, &e.Action, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if from.Valid {
			e.AllocatedFromUserID = &from.String
		}
		if to.Valid {
			e.AllocatedToUserID = &to.String
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
