package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/giip/giip-backend/internal/roles"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACAudit persists one administrative RBAC audit event.
	TaskRBACAudit = "rbac:audit"
	// TaskRBACAuditPrune deletes audit rows past the retention window.
	TaskRBACAuditPrune = "rbac:audit:prune"
)

// AuditPayload is the wire form of roles.AuditEvent.
type AuditPayload struct {
	Action        string    `json:"action"`
	ActorID       int64     `json:"actor_id"`
	RoleID        int64     `json:"role_id,omitempty"`
	RoleName      string    `json:"role_name,omitempty"`
	PermissionIDs []int64   `json:"permission_ids,omitempty"`
	TargetUserID  int64     `json:"target_user_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func auditPayloadFrom(event roles.AuditEvent) AuditPayload {
	return AuditPayload{
		Action:        event.Action,
		ActorID:       event.ActorID,
		RoleID:        event.RoleID,
		RoleName:      event.RoleName,
		PermissionIDs: event.PermissionIDs,
		TargetUserID:  event.TargetUserID,
		OccurredAt:    event.OccurredAt,
	}
}

// NewRBACAuditTask constructs an audit task.
func NewRBACAuditTask(event roles.AuditEvent) (*asynq.Task, error) {
	data, err := json.Marshal(auditPayloadFrom(event))
	if err != nil {
		return nil, fmt.Errorf("jobs: encode audit payload: %w", err)
	}
	return asynq.NewTask(TaskRBACAudit, data, asynq.MaxRetry(5)), nil
}

// PrunePayload carries the audit retention window.
type PrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPruneTask constructs a prune task.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(PrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACAuditPrune, data), nil
}
