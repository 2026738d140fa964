package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type fakeQueue struct {
	enqueued []*asynq.Task
	err      error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.enqueued = append(q.enqueued, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type fakeInspector struct {
	queues   []string
	info     asynq.QueueInfo
	archived map[string][]*asynq.TaskInfo
	failRun  map[string]bool
	ran      []string
}

func (i *fakeInspector) Queues() ([]string, error) { return i.queues, nil }

func (i *fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info := i.info
	info.Queue = queue
	return &info, nil
}

func (i *fakeInspector) ListArchivedTasks(queue string, _ ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return i.archived[queue], nil
}

func (i *fakeInspector) RunTask(_, id string) error {
	if i.failRun[id] {
		return errors.New("task not found")
	}
	i.ran = append(i.ran, id)
	return nil
}

func TestTriggerCommandEnqueuesIntegrity(t *testing.T) {
	queue := &fakeQueue{}
	c := NewJobsCLIWith(queue, &fakeInspector{})
	var out bytes.Buffer

	code := c.TriggerCommand(context.Background(), "integrity", JobsOptions{Stdout: &out})

	require.Equal(t, 0, code)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, jobs.TaskLedgerIntegrity, queue.enqueued[0].Type())
	assert.Contains(t, out.String(), "Enqueued ledger:integrity as t-1")
}

func TestTriggerCommandRejectsUnknownJob(t *testing.T) {
	queue := &fakeQueue{}
	var stderr bytes.Buffer

	code := NewJobsCLIWith(queue, nil).TriggerCommand(context.Background(), "fx:backfill", JobsOptions{Stdout: &bytes.Buffer{}, Stderr: &stderr})

	assert.Equal(t, 2, code)
	assert.Empty(t, queue.enqueued)
	assert.Contains(t, stderr.String(), "unsupported job")
}

func TestTriggerCommandReportsBrokerFailure(t *testing.T) {
	queue := &fakeQueue{err: errors.New("dial tcp: refused")}
	var stderr bytes.Buffer

	code := NewJobsCLIWith(queue, nil).TriggerCommand(context.Background(), jobs.TaskLedgerIntegrity, JobsOptions{Stdout: &bytes.Buffer{}, Stderr: &stderr})

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "refused")
}

func TestStatsCommandJSON(t *testing.T) {
	insp := &fakeInspector{
		queues: []string{"critical", jobs.QueueDefault},
		info:   asynq.QueueInfo{Pending: 2, Archived: 1, Processed: 40, Failed: 3},
	}
	var out bytes.Buffer

	code := NewJobsCLIWith(nil, insp).StatsCommand(context.Background(), JobsOptions{JSONOutput: true, Stdout: &out})

	require.Equal(t, 0, code)
	var stats []QueueStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, []QueueStats{{Queue: jobs.QueueDefault, Pending: 2, Archived: 1, Processed: 40, Failed: 3}}, stats)
}

func TestStatsCommandBeforeFirstEnqueue(t *testing.T) {
	var out bytes.Buffer

	code := NewJobsCLIWith(nil, &fakeInspector{}).StatsCommand(context.Background(), JobsOptions{Stdout: &out})

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "No ledger queues")
}

func TestReplayCommandFiltersByType(t *testing.T) {
	insp := &fakeInspector{
		queues: []string{jobs.QueueAudit, jobs.QueueDefault},
		archived: map[string][]*asynq.TaskInfo{
			jobs.QueueAudit: {
				{ID: "a1", Type: jobs.TaskAuditRecord},
				{ID: "a2", Type: jobs.TaskAuditRecord},
			},
			jobs.QueueDefault: {
				{ID: "i1", Type: jobs.TaskLedgerIntegrity},
			},
		},
		failRun: map[string]bool{"a2": true},
	}
	var out bytes.Buffer

	code := NewJobsCLIWith(nil, insp).ReplayCommand(context.Background(), jobs.TaskAuditRecord, 0, JobsOptions{JSONOutput: true, Stdout: &out})

	assert.Equal(t, 10, code)
	assert.Equal(t, []string{"a1"}, insp.ran)
	var summary ReplaySummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.False(t, summary.OK)
	assert.Equal(t, []string{"a1"}, summary.Replayed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "a2")
}

func TestReplayCommandNothingArchived(t *testing.T) {
	var out bytes.Buffer

	code := NewJobsCLIWith(nil, &fakeInspector{queues: []string{jobs.QueueAudit}}).ReplayCommand(context.Background(), "", 10, JobsOptions{Stdout: &out})

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "No archived tasks replayed.")
}

func TestCloseWithoutConnections(t *testing.T) {
	assert.NoError(t, NewJobsCLIWith(nil, nil).Close())
}
