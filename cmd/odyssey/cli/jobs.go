package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// TaskQueue enqueues background tasks.
type TaskQueue interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueInspector reads and requeues tasks held by the broker.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
}

// JobsOptions defines flags shared by the jobs commands.
type JobsOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *JobsOptions) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// JobsCLI triggers and inspects the ledger queue.
type JobsCLI struct {
	queue     TaskQueue
	inspector QueueInspector
	closers   []io.Closer
}

// NewJobsCLI connects a client and an inspector to the broker.
func NewJobsCLI(opt asynq.RedisClientOpt) *JobsCLI {
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	return &JobsCLI{
		queue:     client,
		inspector: inspector,
		closers:   []io.Closer{inspector, client},
	}
}

// NewJobsCLIWith builds the CLI over existing queue handles. Close is a no-op.
func NewJobsCLIWith(queue TaskQueue, inspector QueueInspector) *JobsCLI {
	return &JobsCLI{queue: queue, inspector: inspector}
}

// Close releases broker connections opened by NewJobsCLI.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// QueueStats is the output of the stats command.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processed_today"`
	Failed    int    `json:"failed_today"`
	Paused    bool   `json:"paused"`
}

// ReplaySummary is the output of the replay command.
type ReplaySummary struct {
	OK       bool     `json:"ok"`
	Replayed []string `json:"replayed"`
	Errors   []string `json:"errors,omitempty"`
}

// TriggerCommand enqueues a job by task type or short name.
func (c *JobsCLI) TriggerCommand(ctx context.Context, name string, opts JobsOptions) int {
	opts.defaults()
	var task *asynq.Task
	switch name {
	case jobs.TaskLedgerIntegrity, "integrity":
		task = jobs.NewIntegrityTask()
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: unsupported job %q\n", name)
		return 2
	}
	info, err := c.queue.EnqueueContext(ctx, task)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return writeJSON(opts, "jobs trigger", map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Enqueued %s as %s on %s.\n", info.Type, info.ID, info.Queue)
	return 0
}

// StatsCommand prints the counters of every ledger queue the broker knows.
func (c *JobsCLI) StatsCommand(_ context.Context, opts JobsOptions) int {
	opts.defaults()
	names, err := c.ledgerQueues()
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
		return 1
	}
	all := make([]QueueStats, 0, len(names))
	for _, name := range names {
		info, err := c.inspector.GetQueueInfo(name)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %s: %v\n", name, err)
			return 1
		}
		all = append(all, QueueStats{
			Queue:     name,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	if opts.JSONOutput {
		return writeJSON(opts, "jobs stats", all)
	}
	if len(all) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "No ledger queues have been used yet.")
		return 0
	}
	for _, stats := range all {
		_, _ = fmt.Fprintf(opts.Stdout, "Queue %s", stats.Queue)
		if stats.Paused {
			_, _ = fmt.Fprint(opts.Stdout, " (paused)")
		}
		_, _ = fmt.Fprintf(opts.Stdout, ": %d pending, %d active, %d scheduled, %d retrying, %d archived; today %d processed, %d failed\n",
			stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived, stats.Processed, stats.Failed)
	}
	return 0
}

// ReplayCommand moves archived tasks of the given type back to pending.
// limit bounds the archived tasks inspected per queue.
// An empty type replays every archived task. Exit code 10 signals tasks that
// could not be requeued.
func (c *JobsCLI) ReplayCommand(_ context.Context, taskType string, limit int, opts JobsOptions) int {
	opts.defaults()
	if limit <= 0 {
		limit = 100
	}
	names, err := c.ledgerQueues()
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs replay: %v\n", err)
		return 1
	}
	summary := ReplaySummary{Replayed: []string{}}
	for _, queue := range names {
		archived, err := c.inspector.ListArchivedTasks(queue, asynq.PageSize(limit), asynq.Page(1))
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs replay: %s: %v\n", queue, err)
			return 1
		}
		for _, info := range archived {
			if taskType != "" && info.Type != taskType {
				continue
			}
			if err := c.inspector.RunTask(queue, info.ID); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", info.ID, err))
				continue
			}
			summary.Replayed = append(summary.Replayed, info.ID)
		}
	}
	summary.OK = len(summary.Errors) == 0

	if opts.JSONOutput {
		if code := writeJSON(opts, "jobs replay", summary); code != 0 {
			return code
		}
	} else {
		if len(summary.Replayed) == 0 {
			_, _ = fmt.Fprintln(opts.Stdout, "No archived tasks replayed.")
		} else {
			_, _ = fmt.Fprintf(opts.Stdout, "%d task(s) moved back to pending.\n", len(summary.Replayed))
		}
		for _, msg := range summary.Errors {
			_, _ = fmt.Fprintf(opts.Stdout, " ! %s\n", msg)
		}
	}
	if !summary.OK {
		return 10
	}
	return 0
}

// ledgerQueues lists the ledger queues that exist on the broker. asynq creates
// a queue on its first enqueue.
func (c *JobsCLI) ledgerQueues() ([]string, error) {
	existing, err := c.inspector.Queues()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range []string{jobs.QueueAudit, jobs.QueueDefault} {
		if slices.Contains(existing, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func writeJSON(opts JobsOptions, command string, v any) int {
	if err := json.NewEncoder(opts.Stdout).Encode(v); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "%s: encode json: %v\n", command, err)
		return 1
	}
	return 0
}
