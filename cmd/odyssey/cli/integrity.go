package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
)

// IntegrityChecker runs the ledger reconciliation.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (statements.IntegrityReport, error)
}

// IntegrityOptions defines flags for the integrity command.
type IntegrityOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// IntegrityCommand prints the reconciliation report. Exit code 10 signals violations.
func IntegrityCommand(ctx context.Context, checker IntegrityChecker, opts IntegrityOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	report, err := checker.CheckIntegrity(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger integrity: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger integrity: encode json: %v\n", err)
			return 1
		}
	} else {
		renderIntegrityHuman(opts.Stdout, report)
	}
	if !report.OK() {
		return 10
	}
	return 0
}

func renderIntegrityHuman(out io.Writer, report statements.IntegrityReport) {
	_, _ = fmt.Fprintf(out, "Ledger integrity at %s\n", report.CheckedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(out, "Assets %s, liabilities %s, equity %s, income %s, expenses %s\n",
		report.Assets, report.Liabilities, report.Equity, report.Income, report.Expenses)
	if report.Balanced {
		_, _ = fmt.Fprintln(out, "Accounting equation holds.")
	} else {
		_, _ = fmt.Fprintf(out, "Accounting equation off by %s.\n", report.Difference)
	}
	if len(report.Drift) == 0 {
		_, _ = fmt.Fprintln(out, "Balances agree with the posting log.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d account(s) drifted from the posting log:\n", len(report.Drift))
	for _, d := range report.Drift {
		_, _ = fmt.Fprintf(out, " - %s expected %s posted %s\n", d.Code, d.Expected, d.Posted)
	}
}
