package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"

	jobmetrics "github.com/giip/giip-backend/internal/jobs"
	"github.com/giip/giip-backend/internal/roles"
)

// Enqueuer is the subset of *asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditSink forwards role audit events to the queue so the request path never
// waits on the audit table.
type AuditSink struct {
	queue   Enqueuer
	metrics *jobmetrics.Metrics
}

// NewAuditSink constructs an AuditSink. metrics may be nil.
func NewAuditSink(queue Enqueuer, metrics *jobmetrics.Metrics) *AuditSink {
	return &AuditSink{queue: queue, metrics: metrics}
}

// Record enqueues the event on QueueDefault.
func (s *AuditSink) Record(ctx context.Context, event roles.AuditEvent) error {
	task, err := NewRBACAuditTask(event)
	if err != nil {
		return err
	}
	_, err = s.queue.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	s.metrics.Enqueued(TaskRBACAudit, err)
	if err != nil {
		return fmt.Errorf("jobs: enqueue audit: %w", err)
	}
	return nil
}

var _ roles.AuditSink = (*AuditSink)(nil)

// Execer is the pgx subset used by AuditWriter.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlInsertAudit = `INSERT INTO rbac_audit_log (action, actor_id, role_id, role_name, permission_ids, occurred_at, target_user_id)
VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, ''), $5, $6, NULLIF($7, 0))`
	sqlPruneAudit = `DELETE FROM rbac_audit_log WHERE occurred_at < $1`
)

// AuditWriter persists audit tasks to Postgres.
type AuditWriter struct {
	db      Execer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewAuditWriter constructs an AuditWriter.
func NewAuditWriter(db Execer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditWriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuditWriter{db: db, logger: logger, metrics: metrics, now: time.Now}
}

// HandleAudit processes TaskRBACAudit tasks.
func (w *AuditWriter) HandleAudit(ctx context.Context, t *asynq.Task) error {
	tracker := w.metrics.Track(TaskRBACAudit)
	var payload AuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("rbac audit decode", slog.Any("error", err))
		return tracker.End(fmt.Errorf("decode audit payload: %v: %w", err, asynq.SkipRetry))
	}
	if payload.Action == "" {
		return tracker.End(fmt.Errorf("audit payload without action: %w", asynq.SkipRetry))
	}
	ids := payload.PermissionIDs
	if ids == nil {
		ids = []int64{}
	}
	_, err := w.db.Exec(ctx, sqlInsertAudit,
		payload.Action, payload.ActorID, payload.RoleID, payload.RoleName, ids, payload.OccurredAt, payload.TargetUserID)
	if err != nil {
		return tracker.End(fmt.Errorf("insert audit: %w", err))
	}
	w.logger.Info("rbac audit stored",
		slog.String("action", payload.Action),
		slog.Int64("actor_id", payload.ActorID),
		slog.Int64("role_id", payload.RoleID))
	return tracker.End(nil)
}

// HandlePrune processes TaskRBACAuditPrune tasks.
func (w *AuditWriter) HandlePrune(ctx context.Context, t *asynq.Task) error {
	tracker := w.metrics.Track(TaskRBACAuditPrune)
	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionDays <= 0 {
		return tracker.End(fmt.Errorf("invalid prune payload: %w", asynq.SkipRetry))
	}
	cutoff := w.now().AddDate(0, 0, -payload.RetentionDays)
	tag, err := w.db.Exec(ctx, sqlPruneAudit, cutoff)
	if err != nil {
		return tracker.End(fmt.Errorf("prune audit: %w", err))
	}
	w.logger.Info("rbac audit pruned", slog.Int64("rows", tag.RowsAffected()))
	return tracker.End(nil)
}

// Handlers returns the task registrations served by the writer.
func (w *AuditWriter) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRBACAudit, Handler: w.HandleAudit},
		{Type: TaskRBACAuditPrune, Handler: w.HandlePrune},
	}
}
