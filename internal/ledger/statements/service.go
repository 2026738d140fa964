package statements

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
)

// SnapshotReader reads one consistent view of accounts and postings.
type SnapshotReader interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	GetAccount(ctx context.Context, id int64) (ledger.Account, error)
	// SumPostingsAfter totals deltas per account with PostedAt strictly after t.
	SumPostingsAfter(ctx context.Context, t time.Time) (map[int64]decimal.Decimal, error)
	// SumPostingsBetween totals deltas per account with start <= PostedAt < end.
	SumPostingsBetween(ctx context.Context, start, end time.Time) (map[int64]decimal.Decimal, error)
	SumPostings(ctx context.Context) (map[int64]decimal.Decimal, error)
}

// Repository opens read-only snapshots that never block writers.
type Repository interface {
	WithSnapshot(ctx context.Context, fn func(context.Context, SnapshotReader) error) error
}

// Service derives statements.
type Service struct {
	repo        Repository
	recognition ledger.Recognition
	logger      *slog.Logger
	metrics     *observability.LedgerMetrics
	group       singleflight.Group
	now         func() time.Time
}

// NewService constructs the statement service.
func NewService(repo Repository, recognition ledger.Recognition, logger *slog.Logger, metrics *observability.LedgerMetrics) *Service {
	if recognition == "" {
		recognition = ledger.RecognitionAccrual
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, recognition: recognition, logger: logger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BalanceSheet returns the position at asOf; a zero asOf means now.
func (s *Service) BalanceSheet(ctx context.Context, asOf time.Time) (BalanceSheet, error) {
	now := s.now().UTC()
	if asOf.IsZero() || asOf.After(now) {
		asOf = now
	}
	historic := asOf.Before(now)
	key := "bs:" + strconv.FormatInt(asOf.UnixNano(), 10)
	if !historic {
		key = "bs:now"
	}
	val, err := s.share(ctx, key, func(ctx context.Context) (any, error) {
		var bs BalanceSheet
		err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r SnapshotReader) error {
			accounts, err := r.ListAccounts(ctx)
			if err != nil {
				return err
			}
			amounts := balancesOf(accounts)
			if historic {
				later, err := r.SumPostingsAfter(ctx, asOf)
				if err != nil {
					return err
				}
				for id, delta := range later {
					amounts[id] = amounts[id].Sub(delta)
				}
				accounts = existingAt(accounts, asOf)
			}
			bs = BuildBalanceSheet(accounts, amounts, asOf)
			return nil
		})
		return bs, err
	})
	if err != nil {
		return BalanceSheet{}, err
	}
	bs := val.(BalanceSheet)
	if !bs.Balanced {
		s.logger.Warn("balance sheet out of balance",
			slog.Time("as_of", asOf),
			slog.String("difference", bs.Difference.String()))
	}
	return bs, nil
}

// ProfitAndLoss returns the snapshot profit and loss. The range is echoed back
// but not applied; balances carry no date. Use PeriodProfitAndLoss for a ranged view.
func (s *Service) ProfitAndLoss(ctx context.Context, start, end time.Time) (ProfitAndLoss, error) {
	if err := checkRange(start, end); err != nil {
		return ProfitAndLoss{}, err
	}
	val, err := s.share(ctx, "pl:snapshot", func(ctx context.Context) (any, error) {
		var pl ProfitAndLoss
		err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r SnapshotReader) error {
			accounts, err := r.ListAccounts(ctx)
			if err != nil {
				return err
			}
			sales, err := canonicalSales(accounts)
			if err != nil {
				return err
			}
			pl = BuildProfitAndLoss(accounts, balancesOf(accounts), sales.ID)
			return nil
		})
		return pl, err
	})
	if err != nil {
		return ProfitAndLoss{}, err
	}
	pl := val.(ProfitAndLoss)
	pl.Start, pl.End = start, end
	pl.Mode = ModeSnapshot
	pl.Recognition = s.recognition
	return pl, nil
}

// PeriodProfitAndLoss sums posting log deltas with start <= PostedAt < end.
func (s *Service) PeriodProfitAndLoss(ctx context.Context, start, end time.Time) (ProfitAndLoss, error) {
	if start.IsZero() || end.IsZero() {
		return ProfitAndLoss{}, fmt.Errorf("%w: start and end required", ledger.ErrInvalidRange)
	}
	if err := checkRange(start, end); err != nil {
		return ProfitAndLoss{}, err
	}
	key := fmt.Sprintf("pl:%d:%d", start.UnixNano(), end.UnixNano())
	val, err := s.share(ctx, key, func(ctx context.Context) (any, error) {
		var pl ProfitAndLoss
		err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r SnapshotReader) error {
			accounts, err := r.ListAccounts(ctx)
			if err != nil {
				return err
			}
			sums, err := r.SumPostingsBetween(ctx, start, end)
			if err != nil {
				return err
			}
			var salesID int64
			if sales, err := canonicalSales(accounts); err == nil {
				salesID = sales.ID
			}
			pl = BuildProfitAndLoss(accounts, sums, salesID)
			return nil
		})
		return pl, err
	})
	if err != nil {
		return ProfitAndLoss{}, err
	}
	pl := val.(ProfitAndLoss)
	pl.Start, pl.End = start, end
	pl.Mode = ModePeriod
	pl.Recognition = s.recognition
	return pl, nil
}

// TrialBalance lists current balances in debit and credit columns.
func (s *Service) TrialBalance(ctx context.Context) (TrialBalance, error) {
	val, err := s.share(ctx, "tb", func(ctx context.Context) (any, error) {
		var tb TrialBalance
		err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r SnapshotReader) error {
			accounts, err := r.ListAccounts(ctx)
			if err != nil {
				return err
			}
			tb = BuildTrialBalance(accounts)
			return nil
		})
		return tb, err
	})
	if err != nil {
		return TrialBalance{}, err
	}
	return val.(TrialBalance), nil
}

// AccountBalance returns the current balance of one account.
func (s *Service) AccountBalance(ctx context.Context, id int64) (AccountBalance, error) {
	var out AccountBalance
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r SnapshotReader) error {
		acc, err := r.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		out = AccountBalance{
			AccountID:   acc.ID,
			Code:        acc.Code,
			Name:        acc.Name,
			Category:    acc.Category,
			BalanceType: acc.BalanceType,
			Balance:     acc.Balance,
		}
		return nil
	})
	return out, err
}

// CheckIntegrity verifies the accounting equation and that every balance equals
// its opening balance plus the posting log.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: s.now().UTC()}
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r SnapshotReader) error {
		accounts, err := r.ListAccounts(ctx)
		if err != nil {
			return err
		}
		posted, err := r.SumPostings(ctx)
		if err != nil {
			return err
		}
		for _, acc := range sortedByCode(accounts) {
			switch acc.Category {
			case ledger.CategoryAsset:
				report.Assets = report.Assets.Add(acc.Balance)
			case ledger.CategoryLiability:
				report.Liabilities = report.Liabilities.Add(acc.Balance)
			case ledger.CategoryEquity:
				report.Equity = report.Equity.Add(acc.Balance)
			case ledger.CategoryIncome:
				report.Income = report.Income.Add(acc.Balance)
			case ledger.CategoryExpense:
				report.Expenses = report.Expenses.Add(acc.Balance)
			}
			expected := acc.Balance.Sub(acc.OpeningBalance)
			if !expected.Equal(posted[acc.ID]) {
				report.Drift = append(report.Drift, AccountDrift{
					AccountID: acc.ID,
					Code:      acc.Code,
					Expected:  expected,
					Posted:    posted[acc.ID],
				})
			}
		}
		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}
	rhs := report.Liabilities.Add(report.Equity).Add(report.Income.Sub(report.Expenses))
	report.Difference = report.Assets.Sub(rhs)
	report.Balanced = report.Difference.IsZero()
	s.metrics.SetEquationDifference(report.Difference.InexactFloat64())
	if !report.OK() {
		s.logger.Error("ledger integrity check failed",
			slog.String("difference", report.Difference.String()),
			slog.Int("drifted_accounts", len(report.Drift)))
	}
	return report, nil
}

// share collapses concurrent builds of the same report.
func (s *Service) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	build := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(build)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func canonicalSales(accounts []ledger.Account) (ledger.Account, error) {
	var found []ledger.Account
	for _, acc := range accounts {
		if acc.IsActive && acc.Canonical && acc.Category == ledger.CategoryIncome && acc.Subtype == ledger.SubtypeSales {
			found = append(found, acc)
		}
	}
	switch len(found) {
	case 0:
		return ledger.Account{}, fmt.Errorf("%w: income/sales", ledger.ErrCanonicalMissing)
	case 1:
		return found[0], nil
	default:
		return ledger.Account{}, fmt.Errorf("%w: income/sales has %d", ledger.ErrCanonicalAmbiguous, len(found))
	}
}

func existingAt(accounts []ledger.Account, asOf time.Time) []ledger.Account {
	out := accounts[:0:0]
	for _, acc := range accounts {
		if !acc.CreatedAt.IsZero() && acc.CreatedAt.After(asOf) {
			continue
		}
		out = append(out, acc)
	}
	return out
}

func checkRange(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("%w: end %s before start %s", ledger.ErrInvalidRange, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return nil
}
