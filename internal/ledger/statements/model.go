// Package statements derives balance sheet, profit and loss and trial balance
// views from account balances and the posting log.
package statements

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Mode tells callers how a profit and loss figure was derived.
type Mode string

const (
	// ModeSnapshot reads current balances and ignores the requested range.
	ModeSnapshot Mode = "snapshot"
	// ModePeriod sums posting log deltas inside the requested range.
	ModePeriod Mode = "period"
)

// CurrentYearEarningsLabel names the equity line carrying live net profit.
const CurrentYearEarningsLabel = "Current Year Earnings"

// Line is one account inside a statement section.
type Line struct {
	AccountID int64           `json:"account_id,omitempty"`
	Code      string          `json:"code,omitempty"`
	Name      string          `json:"name"`
	Subtype   ledger.Subtype  `json:"subtype,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// Section groups lines with their total.
type Section struct {
	Label string          `json:"label"`
	Lines []Line          `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

func (s *Section) add(line Line) {
	s.Lines = append(s.Lines, line)
	s.Total = s.Total.Add(line.Amount)
}

// BalanceSheet is the position of the ledger at AsOf.
type BalanceSheet struct {
	AsOf                      time.Time       `json:"as_of"`
	CurrentAssets             Section         `json:"current_assets"`
	NonCurrentAssets          Section         `json:"non_current_assets"`
	TotalAssets               decimal.Decimal `json:"total_assets"`
	CurrentLiabilities        Section         `json:"current_liabilities"`
	NonCurrentLiabilities     Section         `json:"non_current_liabilities"`
	TotalLiabilities          decimal.Decimal `json:"total_liabilities"`
	Equity                    Section         `json:"equity"`
	NetProfit                 decimal.Decimal `json:"net_profit"`
	TotalLiabilitiesAndEquity decimal.Decimal `json:"total_liabilities_and_equity"`
	Difference                decimal.Decimal `json:"difference"`
	Balanced                  bool            `json:"balanced"`
}

// ProfitAndLoss reports income against expenses.
type ProfitAndLoss struct {
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	Mode        Mode               `json:"mode"`
	Recognition ledger.Recognition `json:"recognition"`
	Sales       decimal.Decimal    `json:"sales"`
	Income      Section            `json:"income"`
	Expenses    Section            `json:"expenses"`
	NetProfit   decimal.Decimal    `json:"net_profit"`
}

// TrialBalanceRow shows one account in debit/credit columns.
type TrialBalanceRow struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Category  ledger.Category `json:"category"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// TrialBalanceGroup aggregates rows of one category.
type TrialBalanceGroup struct {
	Category ledger.Category   `json:"category"`
	Rows     []TrialBalanceRow `json:"rows"`
	Debit    decimal.Decimal   `json:"debit"`
	Credit   decimal.Decimal   `json:"credit"`
}

// TrialBalance lists every account balance as a debit or credit.
type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
	Balanced    bool                `json:"balanced"`
}

// AccountBalance answers a single balance query.
type AccountBalance struct {
	AccountID   int64              `json:"account_id"`
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	Category    ledger.Category    `json:"category"`
	BalanceType ledger.BalanceType `json:"balance_type"`
	Balance     decimal.Decimal    `json:"balance"`
}

// AccountDrift flags an account whose balance disagrees with its posting log.
type AccountDrift struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Expected  decimal.Decimal `json:"expected"`
	Posted    decimal.Decimal `json:"posted"`
}

// IntegrityReport checks the accounting equation and posting log agreement.
type IntegrityReport struct {
	CheckedAt   time.Time       `json:"checked_at"`
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
	Equity      decimal.Decimal `json:"equity"`
	Income      decimal.Decimal `json:"income"`
	Expenses    decimal.Decimal `json:"expenses"`
	Difference  decimal.Decimal `json:"difference"`
	Balanced    bool            `json:"balanced"`
	Drift       []AccountDrift  `json:"drift,omitempty"`
}

// OK reports whether every check passed.
func (r IntegrityReport) OK() bool {
	return r.Balanced && len(r.Drift) == 0
}
