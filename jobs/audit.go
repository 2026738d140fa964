package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Enqueuer is the subset of asynq.Client used for dispatch.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditDispatcher hands audit entries to the queue so postings never wait on audit storage.
type AuditDispatcher struct {
	queue Enqueuer
}

// NewAuditDispatcher constructs the dispatcher.
func NewAuditDispatcher(queue Enqueuer) *AuditDispatcher {
	return &AuditDispatcher{queue: queue}
}

// Record enqueues the entry.
func (d *AuditDispatcher) Record(ctx context.Context, entry shared.AuditLog) error {
	if d == nil || d.queue == nil {
		return errors.New("jobs: audit dispatcher not configured")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	task, err := NewAuditTask(entry)
	if err != nil {
		return err
	}
	_, err = d.queue.EnqueueContext(ctx, task)
	return err
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// HandleAuditTask returns the worker handler that writes queued entries.
func HandleAuditTask(recorder AuditRecorder, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var entry shared.AuditLog
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			logger.Error("decode audit task", slog.Any("error", err))
			return fmt.Errorf("decode audit task: %v: %w", err, asynq.SkipRetry)
		}
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := recorder.Record(ctx, entry); err != nil {
			logger.Warn("audit record failed",
				slog.String("entity", entry.Entity),
				slog.String("entity_id", entry.EntityID),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}
