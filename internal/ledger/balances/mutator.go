// Package balances applies a unit of work of balance deltas atomically.
package balances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/retry"
)

// Delta is a signed change to one account balance in its natural polarity.
type Delta struct {
	AccountID int64
	Amount    decimal.Decimal
	// NonNegative aborts the unit of work when the resulting balance drops below zero.
	NonNegative bool
}

// UnitOfWork is the set of deltas one business event applies.
type UnitOfWork struct {
	EventID   uuid.UUID
	EventType string
	SourceID  string
	PostedAt  time.Time
	Deltas    []Delta
}

// Validate checks the unit of work before a transaction is opened.
func (u UnitOfWork) Validate() error {
	if len(u.Deltas) == 0 {
		return ledger.ErrEmptyUnitOfWork
	}
	if u.EventType == "" {
		return fmt.Errorf("%w: event type required", ledger.ErrInvalidEvent)
	}
	for i, d := range u.Deltas {
		if d.AccountID <= 0 {
			return fmt.Errorf("%w: delta %d has no account", ledger.ErrInvalidAccount, i)
		}
	}
	return nil
}

// Result reports the committed balances and the posting log rows written.
type Result struct {
	EventID  uuid.UUID
	Balances map[int64]decimal.Decimal
	Postings []ledger.Posting
}

// TxRepository exposes the transactional operations a unit of work needs.
type TxRepository interface {
	// IncrementBalance atomically adds delta to an active account and returns the new balance.
	IncrementBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error)
	AppendPostings(ctx context.Context, postings []ledger.Posting) error
	GetDocumentForUpdate(ctx context.Context, kind ledger.DocumentKind, id string) (ledger.Document, error)
	InsertDocument(ctx context.Context, doc ledger.Document) error
	UpdateDocument(ctx context.Context, doc ledger.Document) error
}

// Repository opens the single transaction backing a unit of work.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Builder computes a unit of work from state read inside the transaction.
type Builder func(ctx context.Context, tx TxRepository) (UnitOfWork, error)

// Config bounds conflict retries.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Mutator commits units of work.
type Mutator struct {
	repo    Repository
	cfg     Config
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	now     func() time.Time
}

// NewMutator constructs a Mutator.
func NewMutator(repo Repository, cfg Config, logger *slog.Logger, metrics *observability.LedgerMetrics) *Mutator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{repo: repo, cfg: cfg, logger: logger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (m *Mutator) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Apply commits a precomputed unit of work.
func (m *Mutator) Apply(ctx context.Context, uow UnitOfWork) (Result, error) {
	if err := uow.Validate(); err != nil {
		return Result{}, err
	}
	return m.Run(ctx, func(context.Context, TxRepository) (UnitOfWork, error) {
		return uow, nil
	})
}

// Run builds and commits a unit of work in one transaction, retrying conflicts.
func (m *Mutator) Run(ctx context.Context, build Builder) (Result, error) {
	if m == nil || m.repo == nil {
		return Result{}, errors.New("balances: mutator not initialised")
	}
	var result Result
	policy := retry.Policy{
		MaxAttempts: m.cfg.MaxAttempts,
		BaseDelay:   m.cfg.BaseDelay,
		MaxDelay:    m.cfg.MaxDelay,
		Retryable:   ledger.IsRetryable,
		OnRetry: func(attempt int, err error) {
			m.metrics.ObserveRetry("balance.apply")
			m.logger.Warn("ledger unit of work conflict, retrying",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
		},
	}
	err := retry.Do(ctx, policy, func(int) error {
		res, err := m.commit(ctx, build)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (m *Mutator) commit(ctx context.Context, build Builder) (Result, error) {
	var result Result
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		uow, err := build(ctx, tx)
		if err != nil {
			return err
		}
		if err := uow.Validate(); err != nil {
			return err
		}
		if uow.EventID == uuid.Nil {
			uow.EventID = uuid.New()
		}
		if uow.PostedAt.IsZero() {
			uow.PostedAt = m.now().UTC()
		}

		balances := make(map[int64]decimal.Decimal)
		for _, step := range merge(uow.Deltas) {
			balance, err := tx.IncrementBalance(ctx, step.AccountID, step.Amount)
			if err != nil {
				return fmt.Errorf("balances: account %d: %w", step.AccountID, err)
			}
			if step.NonNegative && balance.IsNegative() {
				return fmt.Errorf("%w: account %d would hold %s", ledger.ErrInsufficientBalance, step.AccountID, balance.String())
			}
			balances[step.AccountID] = balance
		}

		postings := make([]ledger.Posting, 0, len(uow.Deltas))
		for _, d := range uow.Deltas {
			if d.Amount.IsZero() {
				continue
			}
			postings = append(postings, ledger.Posting{
				EventID:   uow.EventID,
				EventType: uow.EventType,
				SourceID:  uow.SourceID,
				AccountID: d.AccountID,
				Delta:     d.Amount,
				Seq:       len(postings),
				PostedAt:  uow.PostedAt,
			})
		}
		if len(postings) > 0 {
			if err := tx.AppendPostings(ctx, postings); err != nil {
				return fmt.Errorf("balances: append postings: %w", err)
			}
		}
		result = Result{EventID: uow.EventID, Balances: balances, Postings: postings}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// merge sums deltas per account and orders them by ascending account ID so
// concurrent units of work take row locks in the same order. Accounts whose
// deltas net to zero are kept so the store still checks they exist and are active.
func merge(deltas []Delta) []Delta {
	byAccount := make(map[int64]*Delta, len(deltas))
	for _, d := range deltas {
		if existing, ok := byAccount[d.AccountID]; ok {
			existing.Amount = existing.Amount.Add(d.Amount)
			existing.NonNegative = existing.NonNegative || d.NonNegative
			continue
		}
		copyOf := d
		byAccount[d.AccountID] = &copyOf
	}
	out := make([]Delta, 0, len(byAccount))
	for _, d := range byAccount {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
