package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/accounts"
)

const accountColumns = `id, code, name, category, subtype, parent_id, opening_balance, balance, balance_type, is_active, is_canonical, created_at, updated_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Category, &a.Subtype, &a.ParentID,
		&a.OpeningBalance, &a.Balance, &a.BalanceType, &a.IsActive, &a.Canonical, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func collectAccounts(rows pgx.Rows) ([]ledger.Account, error) {
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns one account.
func (s *Store) Get(ctx context.Context, id int64) (ledger.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	return a, err
}

// List returns accounts matching filter ordered by ID.
func (s *Store) List(ctx context.Context, filter accounts.ListFilter) ([]ledger.Account, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Subtype != "" {
		add("subtype = $%d", filter.Subtype)
	}
	if filter.ParentID != nil {
		add("parent_id = $%d", *filter.ParentID)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := s.db.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// FindCanonical returns active canonical accounts for the pair.
func (s *Store) FindCanonical(ctx context.Context, category ledger.Category, subtype ledger.Subtype) ([]ledger.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts
WHERE category = $1 AND subtype = $2 AND is_canonical AND is_active ORDER BY id`, category, subtype)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// MaxCodeSequence returns the highest code suffix in category.
func (s *Store) MaxCodeSequence(ctx context.Context, category ledger.Category) (int, error) {
	var seq int
	err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(code_seq), 0) FROM ledger_accounts WHERE category = $1`, category).Scan(&seq)
	return seq, err
}

// Insert stores a new account. Unique violations become ledger sentinels.
func (s *Store) Insert(ctx context.Context, a ledger.Account, seq int) (ledger.Account, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO ledger_accounts
(code, code_seq, name, category, subtype, parent_id, opening_balance, balance, balance_type, is_active, is_canonical)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at, updated_at`,
		a.Code, seq, a.Name, a.Category, a.Subtype, a.ParentID, a.OpeningBalance, a.Balance, a.BalanceType, a.IsActive, a.Canonical)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return ledger.Account{}, translate(err)
	}
	return a, nil
}

// UpdateParent moves an account.
func (s *Store) UpdateParent(ctx context.Context, id int64, parentID *int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE ledger_accounts SET parent_id = $2, updated_at = NOW() WHERE id = $1`, id, parentID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	return nil
}

// SetActive toggles an account.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE ledger_accounts SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	return nil
}

// ParentLinks returns the flat parent table.
func (s *Store) ParentLinks(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id, COALESCE(parent_id, 0) FROM ledger_accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	links := make(map[int64]int64)
	for rows.Next() {
		var id, parent int64
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		links[id] = parent
	}
	return links, rows.Err()
}
