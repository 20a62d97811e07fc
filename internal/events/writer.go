package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	KPICreated         = "kpi.created"
	KPIUpdated         = "kpi.updated"
	KPIValueRecorded   = "kpi.value_recorded"
	KPIDeleted         = "kpi.deleted"
	ActionCreated      = "action.created"
	ActionUpdated      = "action.updated"
	ActionStatus       = "action.status_changed"
	ActionDeleted      = "action.deleted"
	ProblemCreated     = "problem.created"
	ProblemUpdated     = "problem.updated"
	ProblemStatus      = "problem.status_changed"
	ProblemEscalated   = "problem.escalated"
	ProblemDeleted     = "problem.deleted"
	WorkstationCreated = "workstation.created"
	WorkstationUpdated = "workstation.updated"
	CategoryCreated    = "category.created"
	APIKeyCreated      = "api_key.created"
	APIKeyDeleted      = "api_key.deleted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, role string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,role,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), role, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
