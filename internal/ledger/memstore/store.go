// Package memstore keeps the ledger in process memory. It backs tests and
// local tooling and supports fault injection inside units of work.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
)

// Fault operations passed to an injected fault hook.
const (
	OpIncrement = "increment"
	OpAppend    = "append"
)

// FaultFunc may fail an operation inside a unit of work.
type FaultFunc func(op string, accountID int64) error

type docKey struct {
	kind ledger.DocumentKind
	id   string
}

type state struct {
	accounts      map[int64]ledger.Account
	seqs          map[int64]int
	documents     map[docKey]ledger.Document
	postings      []ledger.Posting
	nextAccountID int64
	nextPostingID int64
}

func (s *state) clone() *state {
	out := &state{
		accounts:      make(map[int64]ledger.Account, len(s.accounts)),
		seqs:          make(map[int64]int, len(s.seqs)),
		documents:     make(map[docKey]ledger.Document, len(s.documents)),
		postings:      make([]ledger.Posting, len(s.postings)),
		nextAccountID: s.nextAccountID,
		nextPostingID: s.nextPostingID,
	}
	for id, acc := range s.accounts {
		out.accounts[id] = copyAccount(acc)
	}
	for id, seq := range s.seqs {
		out.seqs[id] = seq
	}
	for k, doc := range s.documents {
		out.documents[k] = doc
	}
	copy(out.postings, s.postings)
	return out
}

func copyAccount(acc ledger.Account) ledger.Account {
	if acc.ParentID != nil {
		pid := *acc.ParentID
		acc.ParentID = &pid
	}
	return acc
}

// Store is a goroutine-safe in-memory ledger.
type Store struct {
	mu    sync.RWMutex
	state *state
	fault FaultFunc
	now   func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: &state{
			accounts:  make(map[int64]ledger.Account),
			seqs:      make(map[int64]int),
			documents: make(map[docKey]ledger.Document),
		},
		now: time.Now,
	}
}

// WithNow overrides the clock used for timestamps.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.mu.Lock()
		s.now = now
		s.mu.Unlock()
	}
}

// InjectFault installs fn for subsequent units of work; nil removes it.
func (s *Store) InjectFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Postings returns a copy of the posting log.
func (s *Store) Postings() []ledger.Posting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Posting, len(s.state.postings))
	copy(out, s.state.postings)
	return out
}

// Document returns a stored source document.
func (s *Store) Document(kind ledger.DocumentKind, id string) (ledger.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.state.documents[docKey{kind, id}]
	return doc, ok
}

// WithTx runs fn against a private copy of the ledger and publishes it only on success.
// Write transactions are serialised.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, balances.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &txView{state: s.state.clone(), fault: s.fault, now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// WithSnapshot runs fn against a frozen copy of the ledger.
func (s *Store) WithSnapshot(ctx context.Context, fn func(context.Context, statements.SnapshotReader) error) error {
	s.mu.RLock()
	snap := s.state.clone()
	s.mu.RUnlock()
	return fn(ctx, snapshotView{state: snap})
}

var (
	_ accounts.Repository   = (*Store)(nil)
	_ balances.Repository   = (*Store)(nil)
	_ statements.Repository = (*Store)(nil)
)

// Get returns one account.
func (s *Store) Get(ctx context.Context, id int64) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.state.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	return copyAccount(acc), nil
}

// List returns accounts matching filter ordered by ID.
func (s *Store) List(ctx context.Context, filter accounts.ListFilter) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Account
	for _, acc := range sortedAccounts(s.state) {
		if filter.Category != "" && acc.Category != filter.Category {
			continue
		}
		if filter.Subtype != "" && acc.Subtype != filter.Subtype {
			continue
		}
		if filter.ActiveOnly && !acc.IsActive {
			continue
		}
		if filter.ParentID != nil && (acc.ParentID == nil || *acc.ParentID != *filter.ParentID) {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

// FindCanonical returns active canonical accounts for the pair.
func (s *Store) FindCanonical(ctx context.Context, category ledger.Category, subtype ledger.Subtype) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Account
	for _, acc := range sortedAccounts(s.state) {
		if acc.IsActive && acc.Canonical && acc.Category == category && acc.Subtype == subtype {
			out = append(out, acc)
		}
	}
	return out, nil
}

// MaxCodeSequence returns the highest code suffix in category.
func (s *Store) MaxCodeSequence(ctx context.Context, category ledger.Category) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := 0
	for id, seq := range s.state.seqs {
		if s.state.accounts[id].Category == category && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

// Insert stores a new account, enforcing code and canonical uniqueness.
func (s *Store) Insert(ctx context.Context, account ledger.Account, seq int) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.state.accounts {
		if existing.Code == account.Code || (existing.Category == account.Category && s.state.seqs[id] == seq) {
			return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrCodeConflict, account.Code)
		}
		if account.Canonical && existing.Canonical && existing.IsActive &&
			existing.Category == account.Category && existing.Subtype == account.Subtype {
			return ledger.Account{}, fmt.Errorf("%w: %s/%s", ledger.ErrCanonicalTaken, account.Category, account.Subtype)
		}
	}
	s.state.nextAccountID++
	now := s.now().UTC()
	account.ID = s.state.nextAccountID
	account.CreatedAt = now
	account.UpdatedAt = now
	account = copyAccount(account)
	s.state.accounts[account.ID] = account
	s.state.seqs[account.ID] = seq
	return copyAccount(account), nil
}

// UpdateParent moves an account.
func (s *Store) UpdateParent(ctx context.Context, id int64, parentID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.state.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	acc.ParentID = nil
	if parentID != nil {
		pid := *parentID
		acc.ParentID = &pid
	}
	acc.UpdatedAt = s.now().UTC()
	s.state.accounts[id] = acc
	return nil
}

// SetActive toggles an account.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.state.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	acc.IsActive = active
	acc.UpdatedAt = s.now().UTC()
	s.state.accounts[id] = acc
	return nil
}

// ParentLinks returns the flat parent table.
func (s *Store) ParentLinks(ctx context.Context) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := make(map[int64]int64, len(s.state.accounts))
	for id, acc := range s.state.accounts {
		if acc.ParentID != nil {
			links[id] = *acc.ParentID
		} else {
			links[id] = 0
		}
	}
	return links, nil
}

type txView struct {
	state *state
	fault FaultFunc
	now   func() time.Time
}

func (t *txView) inject(op string, accountID int64) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op, accountID)
}

func (t *txView) IncrementBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.inject(OpIncrement, accountID); err != nil {
		return decimal.Zero, err
	}
	acc, ok := t.state.accounts[accountID]
	if !ok || !acc.IsActive {
		return decimal.Zero, fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, accountID)
	}
	acc.Balance = acc.Balance.Add(delta)
	acc.UpdatedAt = t.now().UTC()
	t.state.accounts[accountID] = acc
	return acc.Balance, nil
}

func (t *txView) AppendPostings(ctx context.Context, postings []ledger.Posting) error {
	for _, p := range postings {
		if err := t.inject(OpAppend, p.AccountID); err != nil {
			return err
		}
		t.state.nextPostingID++
		p.ID = t.state.nextPostingID
		t.state.postings = append(t.state.postings, p)
	}
	return nil
}

func (t *txView) GetDocumentForUpdate(ctx context.Context, kind ledger.DocumentKind, id string) (ledger.Document, error) {
	doc, ok := t.state.documents[docKey{kind, id}]
	if !ok {
		return ledger.Document{}, fmt.Errorf("%w: %s %s", ledger.ErrDocumentNotFound, kind, id)
	}
	return doc, nil
}

func (t *txView) InsertDocument(ctx context.Context, doc ledger.Document) error {
	key := docKey{doc.Kind, doc.ID}
	if _, ok := t.state.documents[key]; ok {
		return fmt.Errorf("%w: %s %s", ledger.ErrDocumentExists, doc.Kind, doc.ID)
	}
	now := t.now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	t.state.documents[key] = doc
	return nil
}

func (t *txView) UpdateDocument(ctx context.Context, doc ledger.Document) error {
	key := docKey{doc.Kind, doc.ID}
	existing, ok := t.state.documents[key]
	if !ok {
		return fmt.Errorf("%w: %s %s", ledger.ErrDocumentNotFound, doc.Kind, doc.ID)
	}
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = t.now().UTC()
	t.state.documents[key] = doc
	return nil
}

type snapshotView struct {
	state *state
}

func (v snapshotView) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return sortedAccounts(v.state), nil
}

func (v snapshotView) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	acc, ok := v.state.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, id)
	}
	return acc, nil
}

func (v snapshotView) SumPostingsAfter(ctx context.Context, t time.Time) (map[int64]decimal.Decimal, error) {
	return v.sum(func(p ledger.Posting) bool { return p.PostedAt.After(t) }), nil
}

func (v snapshotView) SumPostingsBetween(ctx context.Context, start, end time.Time) (map[int64]decimal.Decimal, error) {
	return v.sum(func(p ledger.Posting) bool {
		return !p.PostedAt.Before(start) && p.PostedAt.Before(end)
	}), nil
}

func (v snapshotView) SumPostings(ctx context.Context) (map[int64]decimal.Decimal, error) {
	return v.sum(func(ledger.Posting) bool { return true }), nil
}

func (v snapshotView) sum(match func(ledger.Posting) bool) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	for _, p := range v.state.postings {
		if match(p) {
			out[p.AccountID] = out[p.AccountID].Add(p.Delta)
		}
	}
	return out
}

func sortedAccounts(s *state) []ledger.Account {
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, copyAccount(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
