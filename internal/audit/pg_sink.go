package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PGSink persists audit events to the allocation_audit_events table.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

func ensureJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

func (s *PGSink) Record(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	const query = `
		INSERT INTO allocation_audit_events
			(id, entity_type, entity_id, action, before_value, after_value, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.EntityType, ev.EntityID, ev.Action,
		ensureJSON(ev.BeforeValue), ensureJSON(ev.AfterValue), ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
