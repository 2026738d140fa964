// Package posting turns business events into balanced units of work.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Directory resolves canonical accounts.
type Directory interface {
	FindCanonical(ctx context.Context, category ledger.Category, subtype ledger.Subtype) (ledger.Account, error)
}

// Mutator commits a unit of work built inside its transaction.
type Mutator interface {
	Run(ctx context.Context, build balances.Builder) (balances.Result, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config selects the recognition basis and money precision.
type Config struct {
	Recognition ledger.Recognition
	MinorUnits  int32
	// AuditTimeout bounds the audit record made after a commit.
	AuditTimeout time.Duration
}

// Engine posts invoice, payment, remittance and void events.
type Engine struct {
	dir      Directory
	mutator  Mutator
	audit    AuditPort
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.LedgerMetrics
	validate *validator.Validate
	now      func() time.Time
}

// NewEngine constructs the posting engine. audit may be nil.
func NewEngine(dir Directory, mutator Mutator, audit AuditPort, cfg Config, logger *slog.Logger, metrics *observability.LedgerMetrics) *Engine {
	if cfg.Recognition == "" {
		cfg.Recognition = ledger.RecognitionAccrual
	}
	if cfg.MinorUnits <= 0 {
		cfg.MinorUnits = 2
	}
	if cfg.MinorUnits > ledger.MaxMinorUnits {
		cfg.MinorUnits = ledger.MaxMinorUnits
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dir:      dir,
		mutator:  mutator,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

type income struct {
	sales    ledger.Account
	deferred ledger.Account
	ready    bool
}

// PostInvoice records an issued invoice.
func (e *Engine) PostInvoice(ctx context.Context, evt InvoicePosted) (Receipt, error) {
	start := e.now()
	receipt, err := e.postInvoice(ctx, evt)
	e.finish(ctx, EventInvoicePosted, evt.InvoiceID, start, err)
	return receipt, err
}

func (e *Engine) postInvoice(ctx context.Context, evt InvoicePosted) (Receipt, error) {
	if err := e.checkInvoice(evt, evt.Total, evt.TaxAmount, evt.SubTotal); err != nil {
		return Receipt{}, err
	}
	ar, err := e.dir.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeAccountsReceivable)
	if err != nil {
		return Receipt{}, err
	}
	tax, err := e.dir.FindCanonical(ctx, ledger.CategoryLiability, ledger.SubtypeDutiesTaxes)
	if err != nil {
		return Receipt{}, err
	}
	incomeAccount := ledger.CategoryIncome
	incomeSubtype := ledger.SubtypeSales
	recognized := evt.SubTotal
	if e.cfg.Recognition == ledger.RecognitionCash {
		incomeAccount, incomeSubtype = ledger.CategoryLiability, ledger.SubtypeDeferredIncome
		recognized = decimal.Zero
	}
	target, err := e.dir.FindCanonical(ctx, incomeAccount, incomeSubtype)
	if err != nil {
		return Receipt{}, err
	}

	eventID := uuid.New()
	postedAt := eventTime(evt.PostedAt, e.now)
	res, err := e.mutator.Run(ctx, func(ctx context.Context, tx balances.TxRepository) (balances.UnitOfWork, error) {
		if err := e.ensureNewInvoice(ctx, tx, evt.InvoiceID); err != nil {
			return balances.UnitOfWork{}, err
		}
		err := tx.InsertDocument(ctx, ledger.Document{
			Kind:        ledger.DocumentInvoice,
			ID:          evt.InvoiceID,
			Status:      ledger.DocumentStatusPosted,
			Recognition: e.cfg.Recognition,
			Total:       evt.Total,
			TaxAmount:   evt.TaxAmount,
			SubTotal:    evt.SubTotal,
			Paid:        decimal.Zero,
			Recognized:  recognized,
		})
		if errors.Is(err, ledger.ErrDocumentExists) {
			return balances.UnitOfWork{}, fmt.Errorf("%w: %s", ledger.ErrInvoiceAlreadyPosted, evt.InvoiceID)
		}
		if err != nil {
			return balances.UnitOfWork{}, err
		}
		return balances.UnitOfWork{
			EventID:   eventID,
			EventType: EventInvoicePosted,
			SourceID:  evt.InvoiceID,
			PostedAt:  postedAt,
			Deltas: []balances.Delta{
				{AccountID: ar.ID, Amount: evt.Total},
				{AccountID: tax.ID, Amount: evt.TaxAmount},
				{AccountID: target.ID, Amount: evt.SubTotal},
			},
		}, nil
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt := newReceipt(EventInvoicePosted, evt.InvoiceID, recognized, res)
	e.record(ctx, evt.ActorID, receipt, "invoice", map[string]any{
		"total":       evt.Total.String(),
		"tax_amount":  evt.TaxAmount.String(),
		"sub_total":   evt.SubTotal.String(),
		"recognition": string(e.cfg.Recognition),
	})
	return receipt, nil
}

// RecordPayment applies a payment against a posted invoice.
func (e *Engine) RecordPayment(ctx context.Context, evt PaymentReceived) (Receipt, error) {
	start := e.now()
	receipt, err := e.recordPayment(ctx, evt)
	e.finish(ctx, EventPaymentReceived, evt.InvoiceID, start, err)
	return receipt, err
}

func (e *Engine) recordPayment(ctx context.Context, evt PaymentReceived) (Receipt, error) {
	if err := e.validate.Struct(evt); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	if err := e.checkAmount("amount", evt.Amount, false); err != nil {
		return Receipt{}, err
	}
	ar, err := e.dir.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeAccountsReceivable)
	if err != nil {
		return Receipt{}, err
	}
	settlement, err := e.dir.FindCanonical(ctx, ledger.CategoryAsset, SettlementSubtype(evt.Method))
	if err != nil {
		return Receipt{}, err
	}
	inc, err := e.resolveIncome(ctx)
	if err != nil {
		return Receipt{}, err
	}

	eventID := uuid.New()
	postedAt := eventTime(evt.ReceivedAt, e.now)
	var recognized decimal.Decimal
	res, err := e.mutator.Run(ctx, func(ctx context.Context, tx balances.TxRepository) (balances.UnitOfWork, error) {
		recognized = decimal.Zero
		doc, err := e.lockInvoice(ctx, tx, evt.InvoiceID)
		if err != nil {
			return balances.UnitOfWork{}, err
		}
		if evt.Amount.GreaterThan(doc.Outstanding()) {
			return balances.UnitOfWork{}, fmt.Errorf("%w: %s outstanding on %s, got %s",
				ledger.ErrOverpayment, doc.Outstanding().String(), evt.InvoiceID, evt.Amount.String())
		}
		if evt.PaymentID != "" {
			err := tx.InsertDocument(ctx, ledger.Document{
				Kind:   ledger.DocumentPayment,
				ID:     evt.PaymentID,
				Status: ledger.DocumentStatusPosted,
				Total:  evt.Amount,
				Paid:   evt.Amount,
			})
			if errors.Is(err, ledger.ErrDocumentExists) {
				return balances.UnitOfWork{}, fmt.Errorf("%w: payment %s", ledger.ErrDuplicateEvent, evt.PaymentID)
			}
			if err != nil {
				return balances.UnitOfWork{}, err
			}
		}

		deltas := []balances.Delta{
			{AccountID: ar.ID, Amount: evt.Amount.Neg()},
			{AccountID: settlement.ID, Amount: evt.Amount},
		}
		doc.Paid = doc.Paid.Add(evt.Amount)
		if doc.Recognition == ledger.RecognitionCash {
			if !inc.ready {
				return balances.UnitOfWork{}, fmt.Errorf("%w: cash recognition needs sales and deferred income", ledger.ErrCanonicalMissing)
			}
			target := RecognitionTarget(doc.SubTotal, doc.Paid, doc.Total, e.cfg.MinorUnits)
			recognized = target.Sub(doc.Recognized)
			doc.Recognized = target
			deltas = append(deltas,
				balances.Delta{AccountID: inc.sales.ID, Amount: recognized},
				balances.Delta{AccountID: inc.deferred.ID, Amount: recognized.Neg()},
			)
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return balances.UnitOfWork{}, err
		}
		return balances.UnitOfWork{
			EventID:   eventID,
			EventType: EventPaymentReceived,
			SourceID:  evt.InvoiceID,
			PostedAt:  postedAt,
			Deltas:    deltas,
		}, nil
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt := newReceipt(EventPaymentReceived, evt.InvoiceID, recognized, res)
	e.record(ctx, evt.ActorID, receipt, "invoice", map[string]any{
		"payment_id": evt.PaymentID,
		"amount":     evt.Amount.String(),
		"method":     evt.Method,
		"recognized": recognized.String(),
	})
	return receipt, nil
}

// RemitTax pays collected tax out of Bank or Cash. The tax balance may not go negative.
func (e *Engine) RemitTax(ctx context.Context, evt TaxRemitted) (Receipt, error) {
	start := e.now()
	receipt, err := e.remitTax(ctx, evt)
	e.finish(ctx, EventTaxRemitted, evt.RemittanceID, start, err)
	return receipt, err
}

func (e *Engine) remitTax(ctx context.Context, evt TaxRemitted) (Receipt, error) {
	if err := e.validate.Struct(evt); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	if err := e.checkAmount("amount", evt.Amount, false); err != nil {
		return Receipt{}, err
	}
	tax, err := e.dir.FindCanonical(ctx, ledger.CategoryLiability, ledger.SubtypeDutiesTaxes)
	if err != nil {
		return Receipt{}, err
	}
	settlement, err := e.dir.FindCanonical(ctx, ledger.CategoryAsset, SettlementSubtype(evt.Method))
	if err != nil {
		return Receipt{}, err
	}

	eventID := uuid.New()
	postedAt := eventTime(evt.RemittedAt, e.now)
	sourceID := evt.RemittanceID
	if sourceID == "" {
		sourceID = eventID.String()
	}
	res, err := e.mutator.Run(ctx, func(ctx context.Context, tx balances.TxRepository) (balances.UnitOfWork, error) {
		if evt.RemittanceID != "" {
			err := tx.InsertDocument(ctx, ledger.Document{
				Kind:   ledger.DocumentTaxRemittance,
				ID:     evt.RemittanceID,
				Status: ledger.DocumentStatusPosted,
				Total:  evt.Amount,
				Paid:   evt.Amount,
			})
			if errors.Is(err, ledger.ErrDocumentExists) {
				return balances.UnitOfWork{}, fmt.Errorf("%w: remittance %s", ledger.ErrDuplicateEvent, evt.RemittanceID)
			}
			if err != nil {
				return balances.UnitOfWork{}, err
			}
		}
		return balances.UnitOfWork{
			EventID:   eventID,
			EventType: EventTaxRemitted,
			SourceID:  sourceID,
			PostedAt:  postedAt,
			Deltas: []balances.Delta{
				{AccountID: tax.ID, Amount: evt.Amount.Neg(), NonNegative: true},
				{AccountID: settlement.ID, Amount: evt.Amount.Neg()},
			},
		}, nil
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt := newReceipt(EventTaxRemitted, sourceID, decimal.Zero, res)
	e.record(ctx, evt.ActorID, receipt, "tax_remittance", map[string]any{
		"amount": evt.Amount.String(),
		"method": evt.Method,
	})
	return receipt, nil
}

// VoidInvoice reverses a posted invoice. Payments already recorded stay in place.
func (e *Engine) VoidInvoice(ctx context.Context, evt InvoiceVoided) (Receipt, error) {
	start := e.now()
	receipt, err := e.voidInvoice(ctx, evt)
	e.finish(ctx, EventInvoiceVoided, evt.InvoiceID, start, err)
	return receipt, err
}

func (e *Engine) voidInvoice(ctx context.Context, evt InvoiceVoided) (Receipt, error) {
	if err := e.checkInvoice(evt, evt.Total, evt.TaxAmount, evt.SubTotal); err != nil {
		return Receipt{}, err
	}
	ar, err := e.dir.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeAccountsReceivable)
	if err != nil {
		return Receipt{}, err
	}
	tax, err := e.dir.FindCanonical(ctx, ledger.CategoryLiability, ledger.SubtypeDutiesTaxes)
	if err != nil {
		return Receipt{}, err
	}
	inc, err := e.resolveIncome(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if !inc.ready {
		if inc.sales, err = e.dir.FindCanonical(ctx, ledger.CategoryIncome, ledger.SubtypeSales); err != nil {
			return Receipt{}, err
		}
	}

	eventID := uuid.New()
	postedAt := eventTime(evt.VoidedAt, e.now)
	var reversed decimal.Decimal
	res, err := e.mutator.Run(ctx, func(ctx context.Context, tx balances.TxRepository) (balances.UnitOfWork, error) {
		doc, err := e.lockInvoice(ctx, tx, evt.InvoiceID)
		if err != nil {
			return balances.UnitOfWork{}, err
		}
		if !doc.Total.Equal(evt.Total) || !doc.TaxAmount.Equal(evt.TaxAmount) || !doc.SubTotal.Equal(evt.SubTotal) {
			return balances.UnitOfWork{}, fmt.Errorf("%w: invoice %s posted as %s/%s/%s",
				ledger.ErrAmountMismatch, evt.InvoiceID, doc.Total.String(), doc.TaxAmount.String(), doc.SubTotal.String())
		}
		deltas := []balances.Delta{
			{AccountID: ar.ID, Amount: doc.Total.Neg()},
			{AccountID: tax.ID, Amount: doc.TaxAmount.Neg()},
		}
		if doc.Recognition == ledger.RecognitionCash {
			if !inc.ready {
				return balances.UnitOfWork{}, fmt.Errorf("%w: cash recognition needs sales and deferred income", ledger.ErrCanonicalMissing)
			}
			reversed = doc.Recognized
			deltas = append(deltas,
				balances.Delta{AccountID: inc.sales.ID, Amount: doc.Recognized.Neg()},
				balances.Delta{AccountID: inc.deferred.ID, Amount: doc.SubTotal.Sub(doc.Recognized).Neg()},
			)
		} else {
			reversed = doc.SubTotal
			deltas = append(deltas, balances.Delta{AccountID: inc.sales.ID, Amount: doc.SubTotal.Neg()})
		}
		doc.Status = ledger.DocumentStatusVoided
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return balances.UnitOfWork{}, err
		}
		return balances.UnitOfWork{
			EventID:   eventID,
			EventType: EventInvoiceVoided,
			SourceID:  evt.InvoiceID,
			PostedAt:  postedAt,
			Deltas:    deltas,
		}, nil
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt := newReceipt(EventInvoiceVoided, evt.InvoiceID, reversed.Neg(), res)
	e.record(ctx, evt.ActorID, receipt, "invoice", map[string]any{
		"total":      evt.Total.String(),
		"tax_amount": evt.TaxAmount.String(),
		"sub_total":  evt.SubTotal.String(),
		"reason":     evt.Reason,
	})
	return receipt, nil
}

// resolveIncome finds Sales and Deferred Income. They are mandatory under cash
// recognition and optional otherwise, since older cash-basis invoices may still need them.
func (e *Engine) resolveIncome(ctx context.Context) (income, error) {
	sales, err := e.dir.FindCanonical(ctx, ledger.CategoryIncome, ledger.SubtypeSales)
	if err == nil {
		var deferred ledger.Account
		deferred, err = e.dir.FindCanonical(ctx, ledger.CategoryLiability, ledger.SubtypeDeferredIncome)
		if err == nil {
			return income{sales: sales, deferred: deferred, ready: true}, nil
		}
	}
	if e.cfg.Recognition == ledger.RecognitionCash || !errors.Is(err, ledger.ErrConfiguration) {
		return income{}, err
	}
	return income{}, nil
}

func (e *Engine) ensureNewInvoice(ctx context.Context, tx balances.TxRepository, invoiceID string) error {
	doc, err := tx.GetDocumentForUpdate(ctx, ledger.DocumentInvoice, invoiceID)
	switch {
	case errors.Is(err, ledger.ErrDocumentNotFound):
		return nil
	case err != nil:
		return err
	case doc.Status == ledger.DocumentStatusVoided:
		return fmt.Errorf("%w: %s", ledger.ErrInvoiceVoided, invoiceID)
	default:
		return fmt.Errorf("%w: %s", ledger.ErrInvoiceAlreadyPosted, invoiceID)
	}
}

func (e *Engine) lockInvoice(ctx context.Context, tx balances.TxRepository, invoiceID string) (ledger.Document, error) {
	doc, err := tx.GetDocumentForUpdate(ctx, ledger.DocumentInvoice, invoiceID)
	if errors.Is(err, ledger.ErrDocumentNotFound) {
		return ledger.Document{}, fmt.Errorf("%w: %s", ledger.ErrInvoiceNotPosted, invoiceID)
	}
	if err != nil {
		return ledger.Document{}, err
	}
	if doc.Status == ledger.DocumentStatusVoided {
		return ledger.Document{}, fmt.Errorf("%w: %s", ledger.ErrInvoiceVoided, invoiceID)
	}
	return doc, nil
}

func (e *Engine) checkInvoice(evt any, total, tax, subTotal decimal.Decimal) error {
	if err := e.validate.Struct(evt); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	if err := e.checkAmount("total", total, false); err != nil {
		return err
	}
	if err := e.checkAmount("tax amount", tax, true); err != nil {
		return err
	}
	if err := e.checkAmount("sub total", subTotal, true); err != nil {
		return err
	}
	if !subTotal.Add(tax).Equal(total) {
		return fmt.Errorf("%w: %s + %s != %s", ledger.ErrUnbalancedInvoice, subTotal.String(), tax.String(), total.String())
	}
	return nil
}

func (e *Engine) checkAmount(field string, v decimal.Decimal, allowZero bool) error {
	if v.IsNegative() || (!allowZero && v.IsZero()) {
		return fmt.Errorf("%w: %s is %s", ledger.ErrNegativeAmount, field, v.String())
	}
	if !ledger.FitsScale(v, e.cfg.MinorUnits) {
		return fmt.Errorf("%w: %s %s has more than %d decimal places", ledger.ErrInvalidAmount, field, v.String(), e.cfg.MinorUnits)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, actorID int64, receipt Receipt, entity string, meta map[string]any) {
	if e.audit == nil {
		return
	}
	meta["event_id"] = receipt.EventID.String()
	// the posting is committed; caller cancellation must not drop the record
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AuditTimeout)
	defer cancel()
	err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   receipt.EventType,
		Entity:   entity,
		EntityID: receipt.SourceID,
		Meta:     meta,
		At:       e.now(),
	})
	if err != nil {
		e.logger.Warn("ledger audit record failed",
			slog.String("event", receipt.EventType),
			slog.String("source_id", receipt.SourceID),
			slog.Any("error", err))
	}
}

func (e *Engine) finish(ctx context.Context, eventType, sourceID string, start time.Time, err error) {
	outcome := outcomeOf(err)
	e.metrics.ObservePosting(eventType, outcome, e.now().Sub(start))
	if err == nil {
		e.logger.Info("ledger event posted", slog.String("event", eventType), slog.String("source_id", sourceID))
		return
	}
	level := slog.LevelWarn
	if outcome == observability.OutcomeConfig || outcome == observability.OutcomeError {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "ledger event rejected",
		slog.String("event", eventType),
		slog.String("source_id", sourceID),
		slog.String("outcome", outcome),
		slog.Any("error", err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, ledger.ErrConfiguration):
		return observability.OutcomeConfig
	case errors.Is(err, ledger.ErrValidation):
		return observability.OutcomeValidation
	case errors.Is(err, ledger.ErrPrecondition):
		return observability.OutcomePrecondition
	case errors.Is(err, ledger.ErrConflict):
		return observability.OutcomeConflict
	default:
		return observability.OutcomeError
	}
}

func newReceipt(eventType, sourceID string, recognized decimal.Decimal, res balances.Result) Receipt {
	return Receipt{
		EventID:    res.EventID,
		EventType:  eventType,
		SourceID:   sourceID,
		Recognized: recognized,
		Balances:   res.Balances,
		Postings:   res.Postings,
	}
}

func eventTime(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now().UTC()
	}
	return t.UTC()
}
