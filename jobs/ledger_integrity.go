package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
)

// IntegrityChecker runs the ledger reconciliation.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (statements.IntegrityReport, error)
}

// IntegrityJob periodically reconciles balances, the posting log and the accounting equation.
type IntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityJob constructs the job handler.
func NewIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes the check. A drifted ledger is reported, not retried.
func (j *IntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	report, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		j.Logger.Error("ledger integrity check failed", slog.Any("error", err))
		return err
	}
	imbalance, _ := report.Difference.Abs().Float64()
	j.Metrics.RecordIntegrity(len(report.Drift), imbalance)
	if !report.OK() {
		j.Logger.Warn("ledger integrity violations",
			slog.String("job", TaskLedgerIntegrity),
			slog.Bool("balanced", report.Balanced),
			slog.String("difference", report.Difference.String()),
			slog.Int("drifted_accounts", len(report.Drift)))
		return nil
	}
	j.Logger.Info("ledger integrity check passed", slog.String("job", TaskLedgerIntegrity))
	return nil
}
