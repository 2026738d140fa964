// Package accounts maintains the chart of accounts: canonical lookups, code
// generation, hierarchy validation and bulk import.
package accounts

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// ListFilter narrows account listings. Zero values match everything.
type ListFilter struct {
	Category   ledger.Category
	Subtype    ledger.Subtype
	ParentID   *int64
	ActiveOnly bool
}

// Repository persists chart of accounts records.
type Repository interface {
	Get(ctx context.Context, id int64) (ledger.Account, error)
	List(ctx context.Context, filter ListFilter) ([]ledger.Account, error)
	// FindCanonical returns every active canonical account for the pair.
	FindCanonical(ctx context.Context, category ledger.Category, subtype ledger.Subtype) ([]ledger.Account, error)
	// MaxCodeSequence returns the highest code suffix used in category, 0 when empty.
	MaxCodeSequence(ctx context.Context, category ledger.Category) (int, error)
	// Insert stores a new account with the given code suffix. A taken code
	// returns ledger.ErrCodeConflict, a second canonical ledger.ErrCanonicalTaken.
	Insert(ctx context.Context, account ledger.Account, seq int) (ledger.Account, error)
	UpdateParent(ctx context.Context, id int64, parentID *int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	// ParentLinks returns account ID to parent ID, 0 for roots.
	ParentLinks(ctx context.Context) (map[int64]int64, error)
}
