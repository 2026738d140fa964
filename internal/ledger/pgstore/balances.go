package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// WithTx runs a unit of work at READ COMMITTED. Balance rows are changed with
// atomic increments, so concurrent postings on one account serialise on its row lock.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, balances.TxRepository) error) error {
	if s == nil || s.db == nil {
		return errors.New("pgstore: store not initialised")
	}
	err := db.InTx(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return translate(err)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) IncrementBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, `UPDATE ledger_accounts SET balance = balance + $2, updated_at = NOW()
WHERE id = $1 AND is_active RETURNING balance`, accountID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return decimal.Zero, translate(err)
	}
	return balance, nil
}

func (r *txRepository) AppendPostings(ctx context.Context, postings []ledger.Posting) error {
	batch := &pgx.Batch{}
	for _, p := range postings {
		batch.Queue(`INSERT INTO ledger_postings (event_id, event_type, source_id, account_id, delta, seq, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, p.EventID, p.EventType, p.SourceID, p.AccountID, p.Delta, p.Seq, p.PostedAt)
	}
	results := r.tx.SendBatch(ctx, batch)
	for range postings {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return translate(err)
		}
	}
	return results.Close()
}

const documentColumns = `kind, id, status, recognition, total, tax_amount, sub_total, paid, recognized, created_at, updated_at`

func (r *txRepository) GetDocumentForUpdate(ctx context.Context, kind ledger.DocumentKind, id string) (ledger.Document, error) {
	var d ledger.Document
	err := r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM ledger_documents WHERE kind = $1 AND id = $2 FOR UPDATE`, kind, id).
		Scan(&d.Kind, &d.ID, &d.Status, &d.Recognition, &d.Total, &d.TaxAmount, &d.SubTotal, &d.Paid, &d.Recognized, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Document{}, fmt.Errorf("%w: %s %s", ledger.ErrDocumentNotFound, kind, id)
	}
	if err != nil {
		return ledger.Document{}, translate(err)
	}
	return d, nil
}

func (r *txRepository) InsertDocument(ctx context.Context, d ledger.Document) error {
	recognition := d.Recognition
	if recognition == "" {
		recognition = ledger.RecognitionAccrual
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_documents (kind, id, status, recognition, total, tax_amount, sub_total, paid, recognized)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.Kind, d.ID, d.Status, recognition, d.Total, d.TaxAmount, d.SubTotal, d.Paid, d.Recognized)
	return translate(err)
}

func (r *txRepository) UpdateDocument(ctx context.Context, d ledger.Document) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_documents
SET status = $3, paid = $4, recognized = $5, updated_at = NOW()
WHERE kind = $1 AND id = $2`, d.Kind, d.ID, d.Status, d.Paid, d.Recognized)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", ledger.ErrDocumentNotFound, d.Kind, d.ID)
	}
	return nil
}
