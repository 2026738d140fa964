package ledger

import "errors"

// Error classes. Specific errors below match their class with errors.Is.
var (
	// ErrConfiguration indicates the chart of accounts is missing something postings need.
	ErrConfiguration = errors.New("ledger: accounting setup incomplete")
	// ErrValidation indicates caller-correctable input problems.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrConflict indicates a retryable concurrent-update conflict.
	ErrConflict = errors.New("ledger: concurrent update conflict")
	// ErrPrecondition indicates the event cannot apply to the current ledger state.
	ErrPrecondition = errors.New("ledger: precondition violated")
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("ledger: not found")
)

var (
	ErrCanonicalMissing   = classed(ErrConfiguration, "ledger: canonical account not configured")
	ErrCanonicalAmbiguous = classed(ErrConfiguration, "ledger: more than one canonical account")

	ErrInvalidCategory = classed(ErrValidation, "ledger: invalid category")
	ErrInvalidSubtype  = classed(ErrValidation, "ledger: invalid subtype")
	ErrInvalidAccount  = classed(ErrValidation, "ledger: invalid account")
	ErrInvalidParent   = classed(ErrValidation, "ledger: invalid parent account")
	ErrHierarchyCycle  = classed(ErrValidation, "ledger: parent would create a cycle")
	ErrCodeExhausted   = classed(ErrValidation, "ledger: account code generation exhausted")
	ErrCanonicalTaken  = classed(ErrValidation, "ledger: canonical account already exists")
	ErrAccountHasFunds = classed(ErrValidation, "ledger: account balance must be zero")
	ErrEmptyUnitOfWork = classed(ErrValidation, "ledger: unit of work has no deltas")
	ErrInvalidAmount   = classed(ErrValidation, "ledger: invalid amount")
	ErrInvalidRange    = classed(ErrValidation, "ledger: invalid date range")
	ErrInvalidEvent    = classed(ErrValidation, "ledger: invalid event")

	ErrCodeConflict  = classed(ErrConflict, "ledger: account code already taken")
	ErrSerialization = classed(ErrConflict, "ledger: transaction serialization failure")

	ErrAccountNotFound  = classed(ErrNotFound, "ledger: account not found")
	ErrDocumentNotFound = classed(ErrNotFound, "ledger: document not found")

	ErrNegativeAmount       = classed(ErrPrecondition, "ledger: amount must be positive")
	ErrUnbalancedInvoice    = classed(ErrPrecondition, "ledger: invoice total must equal subtotal plus tax")
	ErrInvoiceNotPosted     = classed(ErrPrecondition, "ledger: invoice was never posted")
	ErrInvoiceAlreadyPosted = classed(ErrPrecondition, "ledger: invoice already posted")
	ErrInvoiceVoided        = classed(ErrPrecondition, "ledger: invoice is void")
	ErrAmountMismatch       = classed(ErrPrecondition, "ledger: amounts differ from posted invoice")
	ErrOverpayment          = classed(ErrPrecondition, "ledger: payment exceeds outstanding amount")
	ErrInsufficientBalance  = classed(ErrPrecondition, "ledger: balance would become negative")
	ErrDuplicateEvent       = classed(ErrPrecondition, "ledger: event already recorded")
	ErrDocumentExists       = classed(ErrPrecondition, "ledger: document already exists")
)

// ErrHierarchyCorrupt signals an existing cycle or a parent chain longer than the chart.
var ErrHierarchyCorrupt = errors.New("ledger: account hierarchy corrupt")

type classError struct {
	class error
	msg   string
}

func classed(class error, msg string) error {
	return &classError{class: class, msg: msg}
}

func (e *classError) Error() string { return e.msg }

func (e *classError) Is(target error) bool { return target == e.class }

// IsRetryable reports whether err is worth retrying at the component boundary.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
