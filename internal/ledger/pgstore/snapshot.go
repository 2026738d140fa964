package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// WithSnapshot runs fn in a read-only REPEATABLE READ transaction so every
// query sees the same committed state.
func (s *Store) WithSnapshot(ctx context.Context, fn func(context.Context, statements.SnapshotReader) error) error {
	if s == nil || s.db == nil {
		return errors.New("pgstore: store not initialised")
	}
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return db.InTx(ctx, s.db, opts, func(tx pgx.Tx) error {
		return fn(ctx, snapshotReader{tx: tx})
	})
}

type snapshotReader struct {
	tx pgx.Tx
}

func (r snapshotReader) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r snapshotReader) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	return a, err
}

func (r snapshotReader) SumPostingsAfter(ctx context.Context, t time.Time) (map[int64]decimal.Decimal, error) {
	return r.sums(ctx, `SELECT account_id, SUM(delta) FROM ledger_postings WHERE posted_at > $1 GROUP BY account_id`, t)
}

func (r snapshotReader) SumPostingsBetween(ctx context.Context, start, end time.Time) (map[int64]decimal.Decimal, error) {
	return r.sums(ctx, `SELECT account_id, SUM(delta) FROM ledger_postings
WHERE posted_at >= $1 AND posted_at < $2 GROUP BY account_id`, start, end)
}

func (r snapshotReader) SumPostings(ctx context.Context) (map[int64]decimal.Decimal, error) {
	return r.sums(ctx, `SELECT account_id, SUM(delta) FROM ledger_postings GROUP BY account_id`)
}

func (r snapshotReader) sums(ctx context.Context, query string, args ...any) (map[int64]decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			id  int64
			sum decimal.Decimal
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}
