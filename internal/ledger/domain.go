package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category enumerates chart of accounts categories.
type Category string

const (
	CategoryAsset     Category = "asset"
	CategoryLiability Category = "liability"
	CategoryEquity    Category = "equity"
	CategoryIncome    Category = "income"
	CategoryExpense   Category = "expense"
)

// BalanceType is the natural increase direction of a category.
type BalanceType string

const (
	BalanceTypeDebit  BalanceType = "debit"
	BalanceTypeCredit BalanceType = "credit"
)

// Recognition selects when income is recognised.
type Recognition string

const (
	RecognitionAccrual Recognition = "accrual"
	RecognitionCash    Recognition = "cash"
)

var categoryOrder = []Category{
	CategoryAsset,
	CategoryLiability,
	CategoryEquity,
	CategoryIncome,
	CategoryExpense,
}

var categoryPolarity = map[Category]BalanceType{
	CategoryAsset:     BalanceTypeDebit,
	CategoryExpense:   BalanceTypeDebit,
	CategoryLiability: BalanceTypeCredit,
	CategoryEquity:    BalanceTypeCredit,
	CategoryIncome:    BalanceTypeCredit,
}

var categoryPrefix = map[Category]int{
	CategoryAsset:     1,
	CategoryLiability: 2,
	CategoryEquity:    3,
	CategoryIncome:    4,
	CategoryExpense:   5,
}

// Categories returns every category in code-prefix order.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryPolarity[c]
	return ok
}

// BalanceType returns the natural polarity for the category.
func (c Category) BalanceType() BalanceType {
	return categoryPolarity[c]
}

// CodePrefix returns the leading digit used for account codes.
func (c Category) CodePrefix() int {
	return categoryPrefix[c]
}

// ParseCategory normalises free-form category input.
func ParseCategory(raw string) (Category, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "assets":
		normalized = string(CategoryAsset)
	case "liabilities":
		normalized = string(CategoryLiability)
	case "revenue", "revenues", "incomes":
		normalized = string(CategoryIncome)
	case "expenses":
		normalized = string(CategoryExpense)
	}
	c := Category(normalized)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
	return c, nil
}

// ParseBalanceType accepts debit/credit in any case and the Dr/Cr shorthands.
func ParseBalanceType(raw string) (BalanceType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debit", "dr":
		return BalanceTypeDebit, nil
	case "credit", "cr":
		return BalanceTypeCredit, nil
	}
	return "", fmt.Errorf("%w: balance type %q", ErrInvalidAccount, raw)
}

// MaxMinorUnits is the decimal scale of every stored amount column.
const MaxMinorUnits int32 = 4

// FitsScale reports whether v has at most places decimal places.
func FitsScale(v decimal.Decimal, places int32) bool {
	return v.Equal(v.Round(places))
}

// FormatCode renders the account code for a category sequence number.
func FormatCode(c Category, seq int) string {
	return fmt.Sprintf("%d%03d", c.CodePrefix(), seq)
}

// Account models a chart of accounts node and its running balance.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Category       Category
	Subtype        Subtype
	ParentID       *int64
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	BalanceType    BalanceType
	IsActive       bool
	Canonical      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentKind identifies the source document family tracked by the ledger.
type DocumentKind string

const (
	DocumentInvoice       DocumentKind = "INVOICE"
	DocumentPayment       DocumentKind = "PAYMENT"
	DocumentTaxRemittance DocumentKind = "TAX_REMITTANCE"
)

// DocumentStatus enumerates the posting state of a source document.
type DocumentStatus string

const (
	DocumentStatusPosted DocumentStatus = "POSTED"
	DocumentStatusVoided DocumentStatus = "VOIDED"
)

// Document records what the ledger has posted for a source document.
type Document struct {
	Kind        DocumentKind
	ID          string
	Status      DocumentStatus
	Recognition Recognition
	Total       decimal.Decimal
	TaxAmount   decimal.Decimal
	SubTotal    decimal.Decimal
	Paid        decimal.Decimal
	Recognized  decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Outstanding returns the unpaid part of an invoice document.
func (d Document) Outstanding() decimal.Decimal {
	return d.Total.Sub(d.Paid)
}

// Posting is one immutable row of the posting log.
type Posting struct {
	ID        int64
	EventID   uuid.UUID
	EventType string
	SourceID  string
	AccountID int64
	Delta     decimal.Decimal
	Seq       int
	PostedAt  time.Time
}
