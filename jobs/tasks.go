package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	// QueueAudit carries audit deliveries. It is polled ahead of QueueDefault.
	QueueAudit = "audit"
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRecord persists a ledger audit entry outside the posting transaction.
	TaskAuditRecord = "ledger:audit:record"
	// TaskLedgerIntegrity reconciles balances against the posting log.
	TaskLedgerIntegrity = "ledger:integrity"
)

// NewAuditTask constructs the audit delivery task.
func NewAuditTask(entry shared.AuditLog) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data,
		asynq.Queue(QueueAudit), asynq.MaxRetry(10), asynq.Timeout(30*time.Second)), nil
}

// NewIntegrityTask constructs the integrity check task.
func NewIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil,
		asynq.Queue(QueueDefault), asynq.MaxRetry(0), asynq.Unique(time.Hour))
}

// queuePriorities weights the queues served by the worker.
var queuePriorities = map[string]int{
	QueueAudit:   6,
	QueueDefault: 3,
}
