package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ProjectCreated     = "project.created"
	ProjectCancelled   = "project.cancelled"
	PhaseCreated       = "phase.created"
	TaskCreated        = "task.created"
	MilestoneCreated   = "milestone.created"
	StakeholderCreated = "stakeholder.created"
	PermitCreated      = "permit.created"
	StatusChanged      = "status.changed"
	WorkflowTransition = "workflow.transition"
)

// Execer is satisfied by repo.Tx, which rebinds ? placeholders per dialect.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Append writes one activity event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx Execer, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
