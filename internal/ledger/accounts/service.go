package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/retry"
)

// Config tunes account code generation and the accepted balance scale.
type Config struct {
	MaxCodeAttempts int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MinorUnits      int32
}

// Service implements the account directory.
type Service struct {
	repo     Repository
	cache    CanonicalCache
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.LedgerMetrics
	validate *validator.Validate
}

// NewService constructs the directory. cache may be nil.
func NewService(repo Repository, cache CanonicalCache, cfg Config, logger *slog.Logger, metrics *observability.LedgerMetrics) *Service {
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 5 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 100 * time.Millisecond
	}
	if cfg.MinorUnits <= 0 {
		cfg.MinorUnits = 2
	}
	if cfg.MinorUnits > ledger.MaxMinorUnits {
		cfg.MinorUnits = ledger.MaxMinorUnits
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = (*RedisCache)(nil)
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		validate: validator.New(),
	}
}

// CreateInput describes a new account.
type CreateInput struct {
	Name           string          `validate:"required,max=200"`
	Category       ledger.Category `validate:"required"`
	Subtype        ledger.Subtype  `validate:"required"`
	ParentID       *int64          `validate:"omitempty,gt=0"`
	OpeningBalance decimal.Decimal
	Canonical      bool
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (ledger.Account, error) {
	return s.repo.Get(ctx, id)
}

// List returns accounts matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]ledger.Account, error) {
	return s.repo.List(ctx, filter)
}

// FindCanonical resolves the single active canonical account for a pair.
func (s *Service) FindCanonical(ctx context.Context, category ledger.Category, subtype ledger.Subtype) (ledger.Account, error) {
	if err := ledger.ValidatePair(category, subtype); err != nil {
		return ledger.Account{}, err
	}
	if id, ok, err := s.cache.Get(ctx, category, subtype); err != nil {
		s.logger.Warn("canonical cache read failed", slog.String("category", string(category)), slog.String("subtype", string(subtype)), slog.Any("error", err))
	} else if ok {
		acc, err := s.repo.Get(ctx, id)
		if err == nil && acc.IsActive && acc.Canonical && acc.Category == category && acc.Subtype == subtype {
			return acc, nil
		}
		if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
			return ledger.Account{}, err
		}
		s.invalidate(ctx, category, subtype)
	}

	matches, err := s.repo.FindCanonical(ctx, category, subtype)
	if err != nil {
		return ledger.Account{}, err
	}
	switch len(matches) {
	case 0:
		return ledger.Account{}, fmt.Errorf("%w: %s/%s", ledger.ErrCanonicalMissing, category, subtype)
	case 1:
	default:
		return ledger.Account{}, fmt.Errorf("%w: %s/%s has %d", ledger.ErrCanonicalAmbiguous, category, subtype, len(matches))
	}
	if err := s.cache.Set(ctx, category, subtype, matches[0].ID); err != nil {
		s.logger.Warn("canonical cache write failed", slog.Int64("account_id", matches[0].ID), slog.Any("error", err))
	}
	return matches[0], nil
}

// NextCode previews the next free code for category.
func (s *Service) NextCode(ctx context.Context, category ledger.Category) (string, error) {
	if !category.Valid() {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidCategory, category)
	}
	seq, err := s.repo.MaxCodeSequence(ctx, category)
	if err != nil {
		return "", err
	}
	return ledger.FormatCode(category, seq+1), nil
}

// Create validates input and stores the account under a freshly generated code.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Account, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return ledger.Account{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAccount, err)
	}
	if err := ledger.ValidatePair(input.Category, input.Subtype); err != nil {
		return ledger.Account{}, err
	}
	if err := s.checkScale("opening balance", input.OpeningBalance); err != nil {
		return ledger.Account{}, err
	}
	if input.Canonical {
		if info, _ := ledger.LookupSubtype(input.Subtype); !info.Canonical {
			return ledger.Account{}, fmt.Errorf("%w: %s has no canonical account", ledger.ErrInvalidSubtype, input.Subtype)
		}
	}
	if input.ParentID != nil {
		if _, err := s.checkParent(ctx, input.Category, *input.ParentID); err != nil {
			return ledger.Account{}, err
		}
	}

	draft := ledger.Account{
		Name:           input.Name,
		Category:       input.Category,
		Subtype:        input.Subtype,
		ParentID:       input.ParentID,
		OpeningBalance: input.OpeningBalance,
		Balance:        input.OpeningBalance,
		BalanceType:    input.Category.BalanceType(),
		IsActive:       true,
		Canonical:      input.Canonical,
	}

	var created ledger.Account
	policy := retry.Policy{
		MaxAttempts: s.cfg.MaxCodeAttempts,
		BaseDelay:   s.cfg.RetryBaseDelay,
		MaxDelay:    s.cfg.RetryMaxDelay,
		Retryable: func(err error) bool {
			return errors.Is(err, ledger.ErrCodeConflict)
		},
		OnRetry: func(attempt int, err error) {
			s.metrics.ObserveRetry("account.code")
			s.logger.Debug("account code taken, regenerating", slog.String("category", string(input.Category)), slog.Int("attempt", attempt+1))
		},
	}
	err := retry.Do(ctx, policy, func(int) error {
		seq, err := s.repo.MaxCodeSequence(ctx, input.Category)
		if err != nil {
			return err
		}
		draft.Code = ledger.FormatCode(input.Category, seq+1)
		acc, err := s.repo.Insert(ctx, draft, seq+1)
		if err != nil {
			return err
		}
		created = acc
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return ledger.Account{}, fmt.Errorf("%w: %s after %d attempts", ledger.ErrCodeExhausted, input.Category, s.cfg.MaxCodeAttempts)
		}
		return ledger.Account{}, err
	}
	if created.Canonical {
		s.invalidate(ctx, created.Category, created.Subtype)
	}
	s.logger.Info("account created",
		slog.Int64("account_id", created.ID),
		slog.String("code", created.Code),
		slog.String("category", string(created.Category)))
	return created, nil
}

// ValidateHierarchy reports whether proposedParentID may become the parent of accountID.
// A zero proposedParentID detaches the account and is always valid.
func (s *Service) ValidateHierarchy(ctx context.Context, accountID, proposedParentID int64) error {
	if proposedParentID == 0 {
		return nil
	}
	if proposedParentID == accountID {
		return fmt.Errorf("%w: account %d cannot parent itself", ledger.ErrHierarchyCycle, accountID)
	}
	links, err := s.repo.ParentLinks(ctx)
	if err != nil {
		return err
	}
	if _, ok := links[accountID]; !ok {
		return fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, accountID)
	}
	if _, ok := links[proposedParentID]; !ok {
		return fmt.Errorf("%w: parent %d does not exist", ledger.ErrInvalidParent, proposedParentID)
	}
	return checkAncestry(links, accountID, proposedParentID)
}

// SetParent moves an account under parentID, or to the root when parentID is nil.
func (s *Service) SetParent(ctx context.Context, accountID int64, parentID *int64) error {
	acc, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if parentID != nil {
		if _, err := s.checkParent(ctx, acc.Category, *parentID); err != nil {
			return err
		}
		if err := s.ValidateHierarchy(ctx, accountID, *parentID); err != nil {
			return err
		}
	}
	return s.repo.UpdateParent(ctx, accountID, parentID)
}

// Deactivate retires an account with a zero balance.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	acc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !acc.IsActive {
		return nil
	}
	if !acc.Balance.IsZero() {
		return fmt.Errorf("%w: %s holds %s", ledger.ErrAccountHasFunds, acc.Code, acc.Balance.String())
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	if acc.Canonical {
		s.invalidate(ctx, acc.Category, acc.Subtype)
	}
	return nil
}

func (s *Service) checkParent(ctx context.Context, category ledger.Category, parentID int64) (ledger.Account, error) {
	parent, err := s.repo.Get(ctx, parentID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return ledger.Account{}, fmt.Errorf("%w: parent %d does not exist", ledger.ErrInvalidParent, parentID)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	if !parent.IsActive {
		return ledger.Account{}, fmt.Errorf("%w: parent %s is inactive", ledger.ErrInvalidParent, parent.Code)
	}
	if parent.Category != category {
		return ledger.Account{}, fmt.Errorf("%w: parent %s is %s, not %s", ledger.ErrInvalidParent, parent.Code, parent.Category, category)
	}
	return parent, nil
}

func (s *Service) checkScale(field string, v decimal.Decimal) error {
	if !ledger.FitsScale(v, s.cfg.MinorUnits) {
		return fmt.Errorf("%w: %s %s has more than %d decimal places", ledger.ErrInvalidAmount, field, v.String(), s.cfg.MinorUnits)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, category ledger.Category, subtype ledger.Subtype) {
	if err := s.cache.Invalidate(ctx, category, subtype); err != nil {
		s.logger.Warn("canonical cache invalidation failed", slog.String("category", string(category)), slog.String("subtype", string(subtype)), slog.Any("error", err))
	}
}
