package statements

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// BuildBalanceSheet buckets account amounts into assets, liabilities and equity.
// Net profit is folded into equity because the ledger has no period close.
func BuildBalanceSheet(accounts []ledger.Account, amounts map[int64]decimal.Decimal, asOf time.Time) BalanceSheet {
	bs := BalanceSheet{
		AsOf:                  asOf,
		CurrentAssets:         Section{Label: "Current Assets"},
		NonCurrentAssets:      Section{Label: "Non-Current Assets"},
		CurrentLiabilities:    Section{Label: "Current Liabilities"},
		NonCurrentLiabilities: Section{Label: "Non-Current Liabilities"},
		Equity:                Section{Label: "Equity"},
	}
	netProfit := decimal.Zero
	for _, acc := range sortedByCode(accounts) {
		amount := amounts[acc.ID]
		if !acc.IsActive && amount.IsZero() {
			continue
		}
		line := lineFor(acc, amount)
		info, _ := ledger.LookupSubtype(acc.Subtype)
		switch acc.Category {
		case ledger.CategoryAsset:
			if info.Bucket == ledger.BucketNonCurrent {
				bs.NonCurrentAssets.add(line)
			} else {
				bs.CurrentAssets.add(line)
			}
		case ledger.CategoryLiability:
			if info.Bucket == ledger.BucketNonCurrent {
				bs.NonCurrentLiabilities.add(line)
			} else {
				bs.CurrentLiabilities.add(line)
			}
		case ledger.CategoryEquity:
			bs.Equity.add(line)
		case ledger.CategoryIncome:
			netProfit = netProfit.Add(amount)
		case ledger.CategoryExpense:
			netProfit = netProfit.Sub(amount)
		}
	}
	bs.Equity.add(Line{Name: CurrentYearEarningsLabel, Amount: netProfit})
	bs.NetProfit = netProfit
	bs.TotalAssets = bs.CurrentAssets.Total.Add(bs.NonCurrentAssets.Total)
	bs.TotalLiabilities = bs.CurrentLiabilities.Total.Add(bs.NonCurrentLiabilities.Total)
	bs.TotalLiabilitiesAndEquity = bs.TotalLiabilities.Add(bs.Equity.Total)
	bs.Difference = bs.TotalAssets.Sub(bs.TotalLiabilitiesAndEquity)
	bs.Balanced = bs.Difference.IsZero()
	return bs
}

// BuildProfitAndLoss lists income and expense amounts. salesID, when non-zero,
// is reported as the headline Sales figure and listed first.
func BuildProfitAndLoss(accounts []ledger.Account, amounts map[int64]decimal.Decimal, salesID int64) ProfitAndLoss {
	pl := ProfitAndLoss{
		Income:   Section{Label: "Income"},
		Expenses: Section{Label: "Expenses"},
	}
	var others []Line
	for _, acc := range sortedByCode(accounts) {
		amount := amounts[acc.ID]
		if !acc.IsActive && amount.IsZero() {
			continue
		}
		switch acc.Category {
		case ledger.CategoryIncome:
			if acc.ID == salesID {
				pl.Sales = amount
				pl.Income.add(lineFor(acc, amount))
				continue
			}
			others = append(others, lineFor(acc, amount))
		case ledger.CategoryExpense:
			pl.Expenses.add(lineFor(acc, amount))
		}
	}
	for _, line := range others {
		pl.Income.add(line)
	}
	pl.NetProfit = pl.Income.Total.Sub(pl.Expenses.Total)
	return pl
}

// BuildTrialBalance renders balances into debit and credit columns by polarity.
func BuildTrialBalance(accounts []ledger.Account) TrialBalance {
	groups := make(map[ledger.Category]*TrialBalanceGroup)
	for _, acc := range sortedByCode(accounts) {
		if !acc.IsActive && acc.Balance.IsZero() {
			continue
		}
		row := TrialBalanceRow{AccountID: acc.ID, Code: acc.Code, Name: acc.Name, Category: acc.Category}
		debitSide := acc.Category.BalanceType() == ledger.BalanceTypeDebit
		if acc.Balance.IsNegative() {
			debitSide = !debitSide
		}
		if debitSide {
			row.Debit = acc.Balance.Abs()
		} else {
			row.Credit = acc.Balance.Abs()
		}
		grp, ok := groups[acc.Category]
		if !ok {
			grp = &TrialBalanceGroup{Category: acc.Category}
			groups[acc.Category] = grp
		}
		grp.Rows = append(grp.Rows, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
	}

	var tb TrialBalance
	for _, cat := range ledger.Categories() {
		grp, ok := groups[cat]
		if !ok {
			continue
		}
		tb.Groups = append(tb.Groups, *grp)
		tb.TotalDebit = tb.TotalDebit.Add(grp.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(grp.Credit)
	}
	tb.Balanced = tb.TotalDebit.Equal(tb.TotalCredit)
	return tb
}

func lineFor(acc ledger.Account, amount decimal.Decimal) Line {
	return Line{AccountID: acc.ID, Code: acc.Code, Name: acc.Name, Subtype: acc.Subtype, Amount: amount}
}

func balancesOf(accounts []ledger.Account) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(accounts))
	for _, acc := range accounts {
		out[acc.ID] = acc.Balance
	}
	return out
}

// sortedByCode orders shorter codes first so 1999 sorts before 11000.
func sortedByCode(accounts []ledger.Account) []ledger.Account {
	out := make([]ledger.Account, len(accounts))
	copy(out, accounts)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Code) != len(out[j].Code) {
			return len(out[i].Code) < len(out[j].Code)
		}
		return out[i].Code < out[j].Code
	})
	return out
}
