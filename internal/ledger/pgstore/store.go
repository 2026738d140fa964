// Package pgstore persists the ledger in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	db.Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Store implements the account, balance and statement repositories.
type Store struct {
	db DB
}

// New constructs Store.
func New(pool DB) *Store {
	return &Store{db: pool}
}

var (
	_ accounts.Repository   = (*Store)(nil)
	_ balances.Repository   = (*Store)(nil)
	_ statements.Repository = (*Store)(nil)
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// translate maps PostgreSQL errors onto ledger sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", ledger.ErrSerialization, pgErr.Message)
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "uq_ledger_accounts_code", "uq_ledger_accounts_category_seq":
			return fmt.Errorf("%w: %s", ledger.ErrCodeConflict, pgErr.Detail)
		case "uq_ledger_accounts_canonical":
			return fmt.Errorf("%w: %s", ledger.ErrCanonicalTaken, pgErr.Detail)
		case "ledger_documents_pkey":
			return fmt.Errorf("%w: %s", ledger.ErrDocumentExists, pgErr.Detail)
		}
	case codeForeignKeyViolation:
		if pgErr.ConstraintName == "ledger_accounts_parent_id_fkey" {
			return fmt.Errorf("%w: %s", ledger.ErrInvalidParent, pgErr.Detail)
		}
	}
	return err
}
