package posting

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Event types written to the posting log and audit trail.
const (
	EventInvoicePosted   = "invoice.posted"
	EventPaymentReceived = "payment.received"
	EventTaxRemitted     = "tax.remitted"
	EventInvoiceVoided   = "invoice.voided"
)

// InvoicePosted raises receivable, tax and income for an issued invoice.
type InvoicePosted struct {
	InvoiceID string `validate:"required,max=64"`
	Total     decimal.Decimal
	TaxAmount decimal.Decimal
	SubTotal  decimal.Decimal
	PostedAt  time.Time
	ActorID   int64
}

// PaymentReceived settles part or all of an invoice. PaymentID, when set,
// makes the call idempotent per payment.
type PaymentReceived struct {
	PaymentID  string `validate:"max=64"`
	InvoiceID  string `validate:"required,max=64"`
	Amount     decimal.Decimal
	Method     string `validate:"max=32"`
	ReceivedAt time.Time
	ActorID    int64
}

// TaxRemitted pays collected tax to the authority.
type TaxRemitted struct {
	RemittanceID string `validate:"max=64"`
	Amount       decimal.Decimal
	Method       string `validate:"max=32"`
	RemittedAt   time.Time
	ActorID      int64
}

// InvoiceVoided reverses a posted invoice. Amounts must match the posted ones.
type InvoiceVoided struct {
	InvoiceID string `validate:"required,max=64"`
	Total     decimal.Decimal
	TaxAmount decimal.Decimal
	SubTotal  decimal.Decimal
	Reason    string `validate:"max=255"`
	VoidedAt  time.Time
	ActorID   int64
}

// Receipt describes a committed posting.
type Receipt struct {
	EventID   uuid.UUID
	EventType string
	SourceID  string
	// Recognized is the income recognised by this event.
	Recognized decimal.Decimal
	Balances   map[int64]decimal.Decimal
	Postings   []ledger.Posting
}

var bankMethods = map[string]struct{}{
	"bank": {}, "bank_transfer": {}, "transfer": {}, "cheque": {}, "check": {},
	"card": {}, "credit_card": {}, "debit_card": {}, "upi": {}, "neft": {},
	"rtgs": {}, "imps": {}, "online": {}, "wire": {}, "ach": {},
}

// SettlementSubtype maps a payment method to Bank for bank-like values and Cash otherwise.
func SettlementSubtype(method string) ledger.Subtype {
	key := strings.ToLower(strings.TrimSpace(method))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if _, ok := bankMethods[key]; ok {
		return ledger.SubtypeBank
	}
	return ledger.SubtypeCash
}

// RecognitionTarget is the cumulative income recognised once paid of total has
// been received, rounded once to minorUnits. Full payment recognises exactly subTotal.
func RecognitionTarget(subTotal, paid, total decimal.Decimal, minorUnits int32) decimal.Decimal {
	if !total.IsPositive() || paid.GreaterThanOrEqual(total) {
		return subTotal
	}
	if !paid.IsPositive() {
		return decimal.Zero
	}
	return subTotal.Mul(paid).DivRound(total, minorUnits)
}
