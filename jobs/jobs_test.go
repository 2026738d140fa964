package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type captureQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *captureQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: QueueDefault}, nil
}

type memoryRecorder struct {
	entries []shared.AuditLog
	err     error
}

func (r *memoryRecorder) Record(ctx context.Context, entry shared.AuditLog) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

func TestAuditDispatchRoundTrip(t *testing.T) {
	queue := &captureQueue{}
	entry := shared.AuditLog{
		ActorID:  9,
		Action:   "payment.received",
		Entity:   "invoice",
		EntityID: "INV-1",
		Meta:     map[string]any{"amount": "59"},
		At:       time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewAuditDispatcher(queue).Record(context.Background(), entry))
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskAuditRecord, queue.tasks[0].Type())

	recorder := &memoryRecorder{}
	require.NoError(t, HandleAuditTask(recorder, nil)(context.Background(), queue.tasks[0]))
	require.Len(t, recorder.entries, 1)
	got := recorder.entries[0]
	assert.Equal(t, entry.EntityID, got.EntityID)
	assert.Equal(t, entry.ActorID, got.ActorID)
	assert.True(t, entry.At.Equal(got.At))
	assert.Equal(t, "59", got.Meta["amount"])
}

func TestAuditDispatcherRejectsIncompleteEntry(t *testing.T) {
	queue := &captureQueue{}
	err := NewAuditDispatcher(queue).Record(context.Background(), shared.AuditLog{Action: "invoice.posted"})
	assert.Error(t, err)
	assert.Empty(t, queue.tasks)

	var nilDispatcher *AuditDispatcher
	assert.Error(t, nilDispatcher.Record(context.Background(), shared.AuditLog{}))
}

func TestHandleAuditTaskSkipsRetryOnBadPayload(t *testing.T) {
	handler := HandleAuditTask(&memoryRecorder{}, nil)
	err := handler(context.Background(), asynq.NewTask(TaskAuditRecord, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = handler(context.Background(), asynq.NewTask(TaskAuditRecord, []byte(`{"action":"x"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleAuditTaskRetriesStorageFailure(t *testing.T) {
	task, err := NewAuditTask(shared.AuditLog{Action: "a", Entity: "invoice", EntityID: "INV-1"})
	require.NoError(t, err)
	boom := errors.New("connection reset")
	err = HandleAuditTask(&memoryRecorder{err: boom}, nil)(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

type stubChecker struct {
	report statements.IntegrityReport
	err    error
}

func (s stubChecker) CheckIntegrity(ctx context.Context) (statements.IntegrityReport, error) {
	return s.report, s.err
}

func TestIntegrityJob(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())

	ok := NewIntegrityJob(stubChecker{report: statements.IntegrityReport{Balanced: true}}, nil, metrics)
	assert.NoError(t, ok.Handle(context.Background(), NewIntegrityTask()))

	drifted := statements.IntegrityReport{
		Balanced:   false,
		Difference: decimal.NewFromInt(5),
		Drift:      []statements.AccountDrift{{AccountID: 1, Code: "1001"}},
	}
	assert.NoError(t, NewIntegrityJob(stubChecker{report: drifted}, nil, metrics).Handle(context.Background(), NewIntegrityTask()))

	boom := errors.New("snapshot failed")
	assert.ErrorIs(t, NewIntegrityJob(stubChecker{err: boom}, nil, metrics).Handle(context.Background(), NewIntegrityTask()), boom)

	var missing *IntegrityJob
	assert.Error(t, missing.Handle(context.Background(), NewIntegrityTask()))
}
