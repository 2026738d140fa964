package accounts

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// checkAncestry walks up from parentID and fails when it reaches accountID.
// The walk is bounded by the number of accounts so a corrupt chain cannot spin.
func checkAncestry(links map[int64]int64, accountID, parentID int64) error {
	limit := len(links)
	visited := make(map[int64]struct{}, limit)
	current := parentID
	for hops := 0; current != 0; hops++ {
		if current == accountID {
			return fmt.Errorf("%w: %d is a descendant of %d", ledger.ErrHierarchyCycle, parentID, accountID)
		}
		if hops > limit {
			return fmt.Errorf("%w: chain from %d exceeds %d hops", ledger.ErrHierarchyCorrupt, parentID, limit)
		}
		if _, seen := visited[current]; seen {
			return fmt.Errorf("%w: existing cycle through %d", ledger.ErrHierarchyCorrupt, current)
		}
		visited[current] = struct{}{}
		next, ok := links[current]
		if !ok {
			return fmt.Errorf("%w: dangling parent %d", ledger.ErrHierarchyCorrupt, current)
		}
		current = next
	}
	return nil
}
