package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/accounts"
)

// ChartService is the account directory surface used by the chart commands.
type ChartService interface {
	SeedDefaults(ctx context.Context) ([]ledger.Account, error)
	Import(ctx context.Context, rows []accounts.ImportRow) (accounts.ImportResult, error)
}

// ChartCLI manages the chart of accounts from the command line.
type ChartCLI struct {
	dir ChartService
}

// NewChartCLI constructs the helper.
func NewChartCLI(dir ChartService) (*ChartCLI, error) {
	if dir == nil {
		return nil, errors.New("chart cli: directory not configured")
	}
	return &ChartCLI{dir: dir}, nil
}

// ChartOptions defines flags shared by the chart commands.
type ChartOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *ChartOptions) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// ChartSummary is the JSON output of seed and import.
type ChartSummary struct {
	OK        bool           `json:"ok"`
	Created   []ChartAccount `json:"created"`
	Balancing *ChartAccount  `json:"balancing,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// ChartAccount is a created account in command output.
type ChartAccount struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Subtype  string `json:"subtype"`
}

// SeedCommand creates any missing canonical accounts.
func (c *ChartCLI) SeedCommand(ctx context.Context, opts ChartOptions) int {
	opts.defaults()
	created, err := c.dir.SeedDefaults(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "chart seed: %v\n", err)
		return 1
	}
	return render(opts, "chart seed", ChartSummary{OK: true, Created: chartAccounts(created)})
}

// ImportCommand reads a CSV export with the header
// name,category,subgroup,balance,balance_type and imports it.
// Rows that fail are reported and yield exit code 10.
func (c *ChartCLI) ImportCommand(ctx context.Context, in io.Reader, opts ChartOptions) int {
	opts.defaults()
	rows, err := ReadImportRows(in)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "chart import: %v\n", err)
		return 1
	}
	result, err := c.dir.Import(ctx, rows)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "chart import: %v\n", err)
		return 1
	}
	summary := ChartSummary{
		OK:      len(result.Errors) == 0,
		Created: chartAccounts(append(result.Groups, result.Created...)),
	}
	if result.Balancing != nil {
		summary.Balancing = &chartAccounts([]ledger.Account{*result.Balancing})[0]
	}
	for _, rowErr := range result.Errors {
		// header is line 1
		summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", rowErr.Row+2, rowErr.Err))
	}
	if code := render(opts, "chart import", summary); code != 0 {
		return code
	}
	if !summary.OK {
		return 10
	}
	return 0
}

// ReadImportRows parses the CSV chart export.
func ReadImportRows(in io.Reader) ([]accounts.ImportRow, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"name", "category", "subgroup"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []accounts.ImportRow
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := accounts.ImportRow{
			Name:        field(record, "name"),
			Category:    field(record, "category"),
			Subgroup:    field(record, "subgroup"),
			BalanceType: field(record, "balance_type"),
		}
		if raw := field(record, "balance"); raw != "" {
			amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
			if err != nil {
				return nil, fmt.Errorf("line %d: balance %q: %w", line, raw, err)
			}
			row.Balance = amount
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func chartAccounts(list []ledger.Account) []ChartAccount {
	out := make([]ChartAccount, 0, len(list))
	for _, acc := range list {
		out = append(out, ChartAccount{
			ID:       acc.ID,
			Code:     acc.Code,
			Name:     acc.Name,
			Category: string(acc.Category),
			Subtype:  string(acc.Subtype),
		})
	}
	return out
}

func render(opts ChartOptions, command string, summary ChartSummary) int {
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "%s: encode json: %v\n", command, err)
			return 1
		}
		return 0
	}
	if len(summary.Created) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "No accounts created.")
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "%d account(s) created:\n", len(summary.Created))
		for _, acc := range summary.Created {
			_, _ = fmt.Fprintf(opts.Stdout, " - %s %s (%s/%s)\n", acc.Code, acc.Name, acc.Category, acc.Subtype)
		}
	}
	if b := summary.Balancing; b != nil {
		_, _ = fmt.Fprintf(opts.Stdout, "Opening balances did not balance; difference booked to %s %s.\n", b.Code, b.Name)
	}
	for _, msg := range summary.Errors {
		_, _ = fmt.Fprintf(opts.Stdout, " ! %s\n", msg)
	}
	return 0
}
