package app

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
)

// LedgerStore is the storage every ledger component runs on.
type LedgerStore interface {
	accounts.Repository
	balances.Repository
	statements.Repository
}

// Ledger groups the wired ledger components.
type Ledger struct {
	Accounts   *accounts.Service
	Mutator    *balances.Mutator
	Engine     *posting.Engine
	Statements *statements.Service
}

// LedgerParams collects dependencies for NewLedger. Redis, Audit and Metrics may be nil.
type LedgerParams struct {
	Config  *Config
	Store   LedgerStore
	Redis   *redis.Client
	Audit   posting.AuditPort
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewLedger wires the account directory, balance mutator, posting engine and statements.
func NewLedger(p LedgerParams) *Ledger {
	cfg := p.Config
	if cfg == nil {
		cfg = &Config{}
	}
	var cache accounts.CanonicalCache
	if p.Redis != nil {
		cache = accounts.NewRedisCache(p.Redis, cfg.CanonicalTTL)
	}
	ledgerMetrics := p.Metrics.Ledger()

	dir := accounts.NewService(p.Store, cache, accounts.Config{
		MaxCodeAttempts: cfg.CodeMaxAttempts,
		MinorUnits:      cfg.MinorUnits,
	}, p.Logger, ledgerMetrics)
	mutator := balances.NewMutator(p.Store, balances.Config{
		MaxAttempts: cfg.PostMaxAttempts,
		BaseDelay:   10 * time.Millisecond,
	}, p.Logger, ledgerMetrics)
	engine := posting.NewEngine(dir, mutator, p.Audit, posting.Config{
		Recognition: cfg.RecognitionBasis(),
		MinorUnits:  cfg.MinorUnits,
	}, p.Logger, ledgerMetrics)
	reports := statements.NewService(p.Store, cfg.RecognitionBasis(), p.Logger, ledgerMetrics)

	return &Ledger{
		Accounts:   dir,
		Mutator:    mutator,
		Engine:     engine,
		Statements: reports,
	}
}
