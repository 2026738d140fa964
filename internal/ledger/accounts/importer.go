package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// ImportRow is one record of a tabular chart of accounts export.
type ImportRow struct {
	Name        string `validate:"required,max=200"`
	Category    string `validate:"required"`
	Subgroup    string `validate:"required"`
	Balance     decimal.Decimal
	BalanceType string
}

// RowError ties a failure to its zero-based row index.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// ImportResult lists what an import created and which rows failed.
// Balancing is set when the imported opening balances did not satisfy the
// accounting equation and an equity account absorbed the difference.
type ImportResult struct {
	Groups    []ledger.Account
	Created   []ledger.Account
	Balancing *ledger.Account
	Errors    []RowError
}

// BalancingAccountName names the equity account that absorbs an unbalanced import.
const BalancingAccountName = "Opening Balance Difference"

type parsedRow struct {
	index   int
	name    string
	group   string
	cat     ledger.Category
	sub     ledger.Subtype
	opening decimal.Decimal
}

type groupKey struct {
	cat  ledger.Category
	name string
}

var titleCaser = cases.Title(language.English)

// groupName turns a subgroup label into the display name of its parent account.
func groupName(label string) string {
	return titleCaser.String(strings.Join(strings.Fields(label), " "))
}

// Import creates accounts from rows, building one parent account per distinct
// subgroup label. Invalid rows are reported and skipped.
func (s *Service) Import(ctx context.Context, rows []ImportRow) (ImportResult, error) {
	var result ImportResult
	parsed := make([]parsedRow, 0, len(rows))
	for i, row := range rows {
		p, err := s.parseRow(i, row)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: i, Err: err})
			continue
		}
		parsed = append(parsed, p)
	}

	groups := make(map[groupKey]int64)
	groupErrs := make(map[groupKey]error)
	claimed := make(map[ledger.Subtype]bool)
	for _, p := range parsed {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key := groupKey{cat: p.cat, name: p.group}
		if err, failed := groupErrs[key]; failed {
			result.Errors = append(result.Errors, RowError{Row: p.index, Err: err})
			continue
		}
		parentID, ok := groups[key]
		if !ok {
			group, created, err := s.ensureGroup(ctx, p)
			if err != nil {
				groupErrs[key] = err
				result.Errors = append(result.Errors, RowError{Row: p.index, Err: err})
				continue
			}
			if created {
				result.Groups = append(result.Groups, group)
			}
			parentID = group.ID
			groups[key] = parentID
		}

		canonical := false
		if info, _ := ledger.LookupSubtype(p.sub); info.Canonical {
			if _, seen := claimed[p.sub]; !seen {
				existing, err := s.repo.FindCanonical(ctx, p.cat, p.sub)
				if err != nil {
					return result, err
				}
				claimed[p.sub] = len(existing) == 0
			}
			canonical = claimed[p.sub]
		}

		pid := parentID
		acc, err := s.Create(ctx, CreateInput{
			Name:           p.name,
			Category:       p.cat,
			Subtype:        p.sub,
			ParentID:       &pid,
			OpeningBalance: p.opening,
			Canonical:      canonical,
		})
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: p.index, Err: err})
			continue
		}
		if canonical {
			claimed[p.sub] = false
		}
		result.Created = append(result.Created, acc)
	}

	balancing, err := s.balanceOpenings(ctx, result.Created)
	if err != nil {
		return result, err
	}
	result.Balancing = balancing

	s.logger.Info("chart of accounts imported",
		slog.Int("rows", len(rows)),
		slog.Int("created", len(result.Created)),
		slog.Int("groups", len(result.Groups)),
		slog.Int("failed", len(result.Errors)))
	return result, nil
}

func (s *Service) parseRow(index int, row ImportRow) (parsedRow, error) {
	row.Name = strings.TrimSpace(row.Name)
	if err := s.validate.Struct(row); err != nil {
		return parsedRow{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAccount, err)
	}
	cat, err := ledger.ParseCategory(row.Category)
	if err != nil {
		return parsedRow{}, err
	}
	sub, err := ledger.ParseSubtypeLabel(row.Subgroup)
	if err != nil {
		return parsedRow{}, err
	}
	if err := ledger.ValidatePair(cat, sub); err != nil {
		return parsedRow{}, err
	}
	balanceType := cat.BalanceType()
	if strings.TrimSpace(row.BalanceType) != "" {
		if balanceType, err = ledger.ParseBalanceType(row.BalanceType); err != nil {
			return parsedRow{}, err
		}
	}
	if err := s.checkScale("balance", row.Balance); err != nil {
		return parsedRow{}, err
	}
	opening := row.Balance
	if balanceType != cat.BalanceType() {
		opening = opening.Neg()
	}
	return parsedRow{
		index:   index,
		name:    row.Name,
		group:   groupName(row.Subgroup),
		cat:     cat,
		sub:     sub,
		opening: opening,
	}, nil
}

// ensureGroup reuses a root account named after the subgroup or creates one.
func (s *Service) ensureGroup(ctx context.Context, p parsedRow) (ledger.Account, bool, error) {
	existing, err := s.repo.List(ctx, ListFilter{Category: p.cat, Subtype: p.sub, ActiveOnly: true})
	if err != nil {
		return ledger.Account{}, false, err
	}
	for _, acc := range existing {
		if acc.ParentID == nil && !acc.Canonical && strings.EqualFold(acc.Name, p.group) {
			return acc, false, nil
		}
	}
	group, err := s.Create(ctx, CreateInput{Name: p.group, Category: p.cat, Subtype: p.sub})
	if err != nil {
		return ledger.Account{}, false, fmt.Errorf("create group %q: %w", p.group, err)
	}
	return group, true, nil
}

// openingDifference returns assets plus expenses minus liabilities, equity and
// income over the opening balances of accs. Zero means the equation holds.
func openingDifference(accs []ledger.Account) decimal.Decimal {
	diff := decimal.Zero
	for _, acc := range accs {
		if acc.Category.BalanceType() == ledger.BalanceTypeDebit {
			diff = diff.Add(acc.OpeningBalance)
		} else {
			diff = diff.Sub(acc.OpeningBalance)
		}
	}
	return diff
}

// balanceOpenings books the net difference of an import as the opening balance
// of a new owner equity account, keeping assets equal to liabilities plus equity.
func (s *Service) balanceOpenings(ctx context.Context, created []ledger.Account) (*ledger.Account, error) {
	diff := openingDifference(created)
	if diff.IsZero() {
		return nil, nil
	}
	acc, err := s.Create(ctx, CreateInput{
		Name:           BalancingAccountName,
		Category:       ledger.CategoryEquity,
		Subtype:        ledger.SubtypeOwnerEquity,
		OpeningBalance: diff,
	})
	if err != nil {
		return nil, fmt.Errorf("book opening difference %s: %w", diff.String(), err)
	}
	s.logger.Warn("imported opening balances were unbalanced",
		slog.String("difference", diff.String()),
		slog.Int64("account_id", acc.ID),
		slog.String("code", acc.Code))
	return &acc, nil
}
