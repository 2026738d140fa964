package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Subtype refines a category into a statement bucket.
type Subtype string

const (
	SubtypeBank               Subtype = "bank"
	SubtypeCash               Subtype = "cash"
	SubtypeAccountsReceivable Subtype = "accounts_receivable"
	SubtypeInventory          Subtype = "inventory"
	SubtypeCurrentAsset       Subtype = "current_asset"
	SubtypeFixedAsset         Subtype = "fixed_asset"
	SubtypeNonCurrentAsset    Subtype = "non_current_asset"

	SubtypeDutiesTaxes       Subtype = "duties_taxes"
	SubtypeAccountsPayable   Subtype = "accounts_payable"
	SubtypeDeferredIncome    Subtype = "deferred_income"
	SubtypeCurrentLiability  Subtype = "current_liability"
	SubtypeLongTermLiability Subtype = "long_term_liability"

	SubtypeOwnerEquity      Subtype = "owner_equity"
	SubtypeRetainedEarnings Subtype = "retained_earnings"

	SubtypeSales       Subtype = "sales"
	SubtypeOtherIncome Subtype = "other_income"

	SubtypeCostOfGoodsSold  Subtype = "cost_of_goods_sold"
	SubtypeOperatingExpense Subtype = "operating_expense"
	SubtypeOtherExpense     Subtype = "other_expense"
)

// Bucket is the balance sheet grouping of a subtype.
type Bucket string

const (
	BucketCurrent    Bucket = "current"
	BucketNonCurrent Bucket = "non_current"
	BucketNone       Bucket = ""
)

// SubtypeInfo describes where a subtype lives in the chart.
type SubtypeInfo struct {
	Subtype  Subtype
	Category Category
	Bucket   Bucket
	// Canonical subtypes have a single designated account resolved by postings.
	Canonical bool
}

var taxonomy = map[Subtype]SubtypeInfo{
	SubtypeBank:               {SubtypeBank, CategoryAsset, BucketCurrent, true},
	SubtypeCash:               {SubtypeCash, CategoryAsset, BucketCurrent, true},
	SubtypeAccountsReceivable: {SubtypeAccountsReceivable, CategoryAsset, BucketCurrent, true},
	SubtypeInventory:          {SubtypeInventory, CategoryAsset, BucketCurrent, false},
	SubtypeCurrentAsset:       {SubtypeCurrentAsset, CategoryAsset, BucketCurrent, false},
	SubtypeFixedAsset:         {SubtypeFixedAsset, CategoryAsset, BucketNonCurrent, false},
	SubtypeNonCurrentAsset:    {SubtypeNonCurrentAsset, CategoryAsset, BucketNonCurrent, false},

	SubtypeDutiesTaxes:       {SubtypeDutiesTaxes, CategoryLiability, BucketCurrent, true},
	SubtypeAccountsPayable:   {SubtypeAccountsPayable, CategoryLiability, BucketCurrent, true},
	SubtypeDeferredIncome:    {SubtypeDeferredIncome, CategoryLiability, BucketCurrent, true},
	SubtypeCurrentLiability:  {SubtypeCurrentLiability, CategoryLiability, BucketCurrent, false},
	SubtypeLongTermLiability: {SubtypeLongTermLiability, CategoryLiability, BucketNonCurrent, false},

	SubtypeOwnerEquity:      {SubtypeOwnerEquity, CategoryEquity, BucketNone, true},
	SubtypeRetainedEarnings: {SubtypeRetainedEarnings, CategoryEquity, BucketNone, true},

	SubtypeSales:       {SubtypeSales, CategoryIncome, BucketNone, true},
	SubtypeOtherIncome: {SubtypeOtherIncome, CategoryIncome, BucketNone, false},

	SubtypeCostOfGoodsSold:  {SubtypeCostOfGoodsSold, CategoryExpense, BucketNone, false},
	SubtypeOperatingExpense: {SubtypeOperatingExpense, CategoryExpense, BucketNone, false},
	SubtypeOtherExpense:     {SubtypeOtherExpense, CategoryExpense, BucketNone, false},
}

// subgroup labels seen in imported charts of accounts
var subtypeAliases = map[string]Subtype{
	"bank_accounts":          SubtypeBank,
	"bank":                   SubtypeBank,
	"cash_in_hand":           SubtypeCash,
	"cash":                   SubtypeCash,
	"sundry_debtors":         SubtypeAccountsReceivable,
	"debtors":                SubtypeAccountsReceivable,
	"receivables":            SubtypeAccountsReceivable,
	"stock_in_hand":          SubtypeInventory,
	"stock":                  SubtypeInventory,
	"current_assets":         SubtypeCurrentAsset,
	"loans_and_advances":     SubtypeCurrentAsset,
	"fixed_assets":           SubtypeFixedAsset,
	"investments":            SubtypeNonCurrentAsset,
	"non_current_assets":     SubtypeNonCurrentAsset,
	"duties_and_taxes":       SubtypeDutiesTaxes,
	"duties_taxes":           SubtypeDutiesTaxes,
	"gst_payable":            SubtypeDutiesTaxes,
	"sundry_creditors":       SubtypeAccountsPayable,
	"creditors":              SubtypeAccountsPayable,
	"payables":               SubtypeAccountsPayable,
	"unearned_revenue":       SubtypeDeferredIncome,
	"current_liabilities":    SubtypeCurrentLiability,
	"provisions":             SubtypeCurrentLiability,
	"loans":                  SubtypeLongTermLiability,
	"secured_loans":          SubtypeLongTermLiability,
	"unsecured_loans":        SubtypeLongTermLiability,
	"long_term_liabilities":  SubtypeLongTermLiability,
	"capital_account":        SubtypeOwnerEquity,
	"capital":                SubtypeOwnerEquity,
	"reserves_and_surplus":   SubtypeRetainedEarnings,
	"sales_accounts":         SubtypeSales,
	"sales_account":          SubtypeSales,
	"direct_income":          SubtypeSales,
	"indirect_income":        SubtypeOtherIncome,
	"other_incomes":          SubtypeOtherIncome,
	"purchase_accounts":      SubtypeCostOfGoodsSold,
	"direct_expenses":        SubtypeCostOfGoodsSold,
	"cogs":                   SubtypeCostOfGoodsSold,
	"indirect_expenses":      SubtypeOperatingExpense,
	"operating_expenses":     SubtypeOperatingExpense,
	"other_expenses":         SubtypeOtherExpense,
}

// LookupSubtype returns the taxonomy entry for s.
func LookupSubtype(s Subtype) (SubtypeInfo, bool) {
	info, ok := taxonomy[s]
	return info, ok
}

// SubtypesOf lists the subtypes of a category, sorted.
func SubtypesOf(c Category) []Subtype {
	var out []Subtype
	for sub, info := range taxonomy {
		if info.Category == c {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidatePair checks that subtype belongs to category.
func ValidatePair(c Category, s Subtype) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, c)
	}
	info, ok := taxonomy[s]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSubtype, s)
	}
	if info.Category != c {
		return fmt.Errorf("%w: %q belongs to %s, not %s", ErrInvalidSubtype, s, info.Category, c)
	}
	return nil
}

// ParseSubtypeLabel resolves an import subgroup label such as "Duties & Taxes".
func ParseSubtypeLabel(label string) (Subtype, error) {
	key := normalizeLabel(label)
	if key == "" {
		return "", fmt.Errorf("%w: empty subgroup", ErrInvalidSubtype)
	}
	if _, ok := taxonomy[Subtype(key)]; ok {
		return Subtype(key), nil
	}
	if sub, ok := subtypeAliases[key]; ok {
		return sub, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSubtype, label)
}

func normalizeLabel(label string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '&':
			if !lastUnderscore {
				b.WriteByte('_')
			}
			b.WriteString("and_")
			lastUnderscore = true
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
