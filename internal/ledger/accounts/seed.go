package accounts

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

type seedAccount struct {
	name     string
	category ledger.Category
	subtype  ledger.Subtype
}

var defaultCanonicals = []seedAccount{
	{"Bank", ledger.CategoryAsset, ledger.SubtypeBank},
	{"Cash", ledger.CategoryAsset, ledger.SubtypeCash},
	{"Accounts Receivable", ledger.CategoryAsset, ledger.SubtypeAccountsReceivable},
	{"Duties & Taxes", ledger.CategoryLiability, ledger.SubtypeDutiesTaxes},
	{"Deferred Income", ledger.CategoryLiability, ledger.SubtypeDeferredIncome},
	{"Owner Equity", ledger.CategoryEquity, ledger.SubtypeOwnerEquity},
	{"Sales", ledger.CategoryIncome, ledger.SubtypeSales},
}

// SeedDefaults creates the canonical accounts postings depend on when they are missing.
func (s *Service) SeedDefaults(ctx context.Context) ([]ledger.Account, error) {
	var created []ledger.Account
	for _, def := range defaultCanonicals {
		existing, err := s.repo.FindCanonical(ctx, def.category, def.subtype)
		if err != nil {
			return created, err
		}
		if len(existing) > 0 {
			continue
		}
		acc, err := s.Create(ctx, CreateInput{
			Name:      def.name,
			Category:  def.category,
			Subtype:   def.subtype,
			Canonical: true,
		})
		if err != nil {
			return created, err
		}
		created = append(created, acc)
	}
	return created, nil
}
