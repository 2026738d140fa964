package accounts_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

func newService(repo accounts.Repository, cache accounts.CanonicalCache, attempts int) *accounts.Service {
	return accounts.NewService(repo, cache, accounts.Config{
		MaxCodeAttempts: attempts,
		RetryBaseDelay:  time.Microsecond,
		RetryMaxDelay:   time.Millisecond,
	}, nil, nil)
}

func TestCreateAssignsSequentialCodesAndPolarity(t *testing.T) {
	ctx := context.Background()
	svc := newService(memstore.New(), nil, 5)

	bank, err := svc.Create(ctx, accounts.CreateInput{Name: " HDFC Current ", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank})
	require.NoError(t, err)
	cash, err := svc.Create(ctx, accounts.CreateInput{Name: "Petty Cash", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeCash, OpeningBalance: decimal.NewFromInt(250)})
	require.NoError(t, err)
	gst, err := svc.Create(ctx, accounts.CreateInput{Name: "GST Payable", Category: ledger.CategoryLiability, Subtype: ledger.SubtypeDutiesTaxes})
	require.NoError(t, err)

	assert.Equal(t, "1001", bank.Code)
	assert.Equal(t, "HDFC Current", bank.Name)
	assert.Equal(t, "1002", cash.Code)
	assert.Equal(t, "2001", gst.Code)
	assert.Equal(t, ledger.BalanceTypeDebit, bank.BalanceType)
	assert.Equal(t, ledger.BalanceTypeCredit, gst.BalanceType)
	assert.True(t, cash.Balance.Equal(decimal.NewFromInt(250)))
	assert.True(t, cash.OpeningBalance.Equal(cash.Balance))

	next, err := svc.NextCode(ctx, ledger.CategoryAsset)
	require.NoError(t, err)
	assert.Equal(t, "1003", next)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(memstore.New(), nil, 5)
	equity, err := svc.Create(ctx, accounts.CreateInput{Name: "Capital", Category: ledger.CategoryEquity, Subtype: ledger.SubtypeOwnerEquity})
	require.NoError(t, err)
	missing := int64(404)

	cases := map[string]struct {
		in   accounts.CreateInput
		want error
	}{
		"empty name":        {accounts.CreateInput{Name: "  ", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank}, ledger.ErrInvalidAccount},
		"unknown category":  {accounts.CreateInput{Name: "X", Category: "goodwill", Subtype: ledger.SubtypeBank}, ledger.ErrInvalidCategory},
		"mismatched pair":   {accounts.CreateInput{Name: "X", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeSales}, ledger.ErrInvalidSubtype},
		"canonical misuse":  {accounts.CreateInput{Name: "X", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeInventory, Canonical: true}, ledger.ErrInvalidSubtype},
		"cross category":    {accounts.CreateInput{Name: "X", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank, ParentID: &equity.ID}, ledger.ErrInvalidParent},
		"parent not exists": {accounts.CreateInput{Name: "X", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank, ParentID: &missing}, ledger.ErrInvalidParent},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestCreateRejectsSecondCanonical(t *testing.T) {
	ctx := context.Background()
	svc := newService(memstore.New(), nil, 5)
	_, err := svc.Create(ctx, accounts.CreateInput{Name: "AR", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeAccountsReceivable, Canonical: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, accounts.CreateInput{Name: "AR 2", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeAccountsReceivable, Canonical: true})
	assert.ErrorIs(t, err, ledger.ErrCanonicalTaken)
}

func TestConcurrentCreateAssignsDistinctCodes(t *testing.T) {
	const n = 24
	ctx := context.Background()
	store := memstore.New()
	svc := newService(store, nil, n)

	var wg sync.WaitGroup
	codes := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc, err := svc.Create(ctx, accounts.CreateInput{
				Name:     fmt.Sprintf("Expense %d", i),
				Category: ledger.CategoryExpense,
				Subtype:  ledger.SubtypeOperatingExpense,
			})
			if err != nil {
				errs <- err
				return
			}
			codes <- acc.Code
		}(i)
	}
	wg.Wait()
	close(codes)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	seen := make(map[string]struct{})
	for code := range codes {
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, n)
}

type conflictingRepo struct {
	accounts.Repository
	inserts int
}

func (r *conflictingRepo) Insert(ctx context.Context, a ledger.Account, seq int) (ledger.Account, error) {
	r.inserts++
	return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrCodeConflict, a.Code)
}

func TestCreateGivesUpAfterBoundedAttempts(t *testing.T) {
	repo := &conflictingRepo{Repository: memstore.New()}
	svc := newService(repo, nil, 4)

	_, err := svc.Create(context.Background(), accounts.CreateInput{Name: "Rent", Category: ledger.CategoryExpense, Subtype: ledger.SubtypeOperatingExpense})
	require.ErrorIs(t, err, ledger.ErrCodeExhausted)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, 4, repo.inserts)
}

func TestFindCanonical(t *testing.T) {
	ctx := context.Background()
	svc := newService(memstore.New(), nil, 5)

	_, err := svc.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeAccountsReceivable)
	require.ErrorIs(t, err, ledger.ErrCanonicalMissing)
	assert.ErrorIs(t, err, ledger.ErrConfiguration)

	_, err = svc.Create(ctx, accounts.CreateInput{Name: "Debtors", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeAccountsReceivable})
	require.NoError(t, err)
	_, err = svc.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeAccountsReceivable)
	require.ErrorIs(t, err, ledger.ErrCanonicalMissing, "non-canonical accounts are never picked")

	ar, err := svc.Create(ctx, accounts.CreateInput{Name: "Accounts Receivable", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeAccountsReceivable, Canonical: true})
	require.NoError(t, err)
	got, err := svc.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeAccountsReceivable)
	require.NoError(t, err)
	assert.Equal(t, ar.ID, got.ID)

	_, err = svc.FindCanonical(ctx, ledger.CategoryLiability, ledger.SubtypeBank)
	assert.ErrorIs(t, err, ledger.ErrInvalidSubtype)
}

func TestCanonicalCacheInvalidatedOnDeactivate(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	svc := newService(store, accounts.NewRedisCache(client, time.Minute), 5)

	bank, err := svc.Create(ctx, accounts.CreateInput{Name: "Bank", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank, Canonical: true})
	require.NoError(t, err)
	_, err = svc.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeBank)
	require.NoError(t, err)
	cached, err := mr.Get("ledger:canonical:asset:bank")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(bank.ID), cached)

	require.NoError(t, svc.Deactivate(ctx, bank.ID))
	assert.False(t, mr.Exists("ledger:canonical:asset:bank"))
	_, err = svc.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeBank)
	assert.ErrorIs(t, err, ledger.ErrCanonicalMissing)

	replacement, err := svc.Create(ctx, accounts.CreateInput{Name: "New Bank", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank, Canonical: true})
	require.NoError(t, err)
	got, err := svc.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeBank)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.ID)
}

func TestFindCanonicalIgnoresStaleCacheEntry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	svc := newService(store, accounts.NewRedisCache(client, time.Minute), 5)
	cash, err := svc.Create(ctx, accounts.CreateInput{Name: "Cash", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeCash, Canonical: true})
	require.NoError(t, err)
	require.NoError(t, mr.Set("ledger:canonical:asset:cash", "9999"))

	got, err := svc.FindCanonical(ctx, ledger.CategoryAsset, ledger.SubtypeCash)
	require.NoError(t, err)
	assert.Equal(t, cash.ID, got.ID)
	cached, err := mr.Get("ledger:canonical:asset:cash")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(cash.ID), cached)
}

func TestDeactivateRequiresZeroBalance(t *testing.T) {
	ctx := context.Background()
	svc := newService(memstore.New(), nil, 5)
	acc, err := svc.Create(ctx, accounts.CreateInput{Name: "Float", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeCash, OpeningBalance: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Deactivate(ctx, acc.ID), ledger.ErrAccountHasFunds)
	got, err := svc.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestSetParentRejectsCyclesAndKeepsHierarchy(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newService(store, nil, 5)

	root, err := svc.Create(ctx, accounts.CreateInput{Name: "Current Assets", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeCurrentAsset})
	require.NoError(t, err)
	mid, err := svc.Create(ctx, accounts.CreateInput{Name: "Bank Accounts", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank, ParentID: &root.ID})
	require.NoError(t, err)
	leaf, err := svc.Create(ctx, accounts.CreateInput{Name: "HDFC", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeBank, ParentID: &mid.ID})
	require.NoError(t, err)

	before, err := store.ParentLinks(ctx)
	require.NoError(t, err)

	err = svc.SetParent(ctx, root.ID, &leaf.ID)
	require.ErrorIs(t, err, ledger.ErrHierarchyCycle)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.ErrorIs(t, svc.SetParent(ctx, mid.ID, &mid.ID), ledger.ErrHierarchyCycle)
	assert.ErrorIs(t, svc.ValidateHierarchy(ctx, mid.ID, leaf.ID), ledger.ErrHierarchyCycle)

	after, err := store.ParentLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, svc.SetParent(ctx, leaf.ID, &root.ID))
	require.NoError(t, svc.SetParent(ctx, mid.ID, nil))
	links, err := store.ParentLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, root.ID, links[leaf.ID])
	assert.Equal(t, int64(0), links[mid.ID])
}

func TestImportBuildsHierarchyFromSubgroups(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newService(store, nil, 5)

	rows := []accounts.ImportRow{
		{Name: "HDFC Bank", Category: "Assets", Subgroup: "Bank Accounts", Balance: decimal.NewFromInt(1000), BalanceType: "Dr"},
		{Name: "ICICI Bank", Category: "asset", Subgroup: "bank accounts", Balance: decimal.NewFromInt(200), BalanceType: "Cr"},
		{Name: "Output GST", Category: "Liabilities", Subgroup: "Duties & Taxes", Balance: decimal.NewFromInt(300), BalanceType: "Credit"},
		{Name: "Mystery", Category: "Assets", Subgroup: "Miscellaneous"},
		{Name: "Wrong", Category: "Income", Subgroup: "Bank Accounts"},
		{Name: "", Category: "Assets", Subgroup: "Cash-in-Hand"},
	}
	res, err := svc.Import(ctx, rows)
	require.NoError(t, err)

	require.Len(t, res.Created, 3)
	require.Len(t, res.Groups, 2)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.ErrorIs(t, res.Errors[0], ledger.ErrInvalidSubtype)
	assert.Equal(t, 4, res.Errors[1].Row)
	assert.ErrorIs(t, res.Errors[1], ledger.ErrInvalidSubtype)
	assert.Equal(t, 5, res.Errors[2].Row)
	assert.ErrorIs(t, res.Errors[2], ledger.ErrInvalidAccount)

	groupNames := []string{res.Groups[0].Name, res.Groups[1].Name}
	assert.ElementsMatch(t, []string{"Bank Accounts", "Duties & Taxes"}, groupNames)

	hdfc, icici, gst := res.Created[0], res.Created[1], res.Created[2]
	require.NotNil(t, hdfc.ParentID)
	require.NotNil(t, icici.ParentID)
	assert.Equal(t, *hdfc.ParentID, *icici.ParentID, "one group per distinct subgroup label")
	assert.True(t, hdfc.Canonical, "first bank becomes canonical")
	assert.False(t, icici.Canonical)
	assert.True(t, gst.Canonical)
	assert.True(t, icici.OpeningBalance.Equal(decimal.NewFromInt(-200)), "credit balance on a debit account is negated")
	assert.True(t, gst.Balance.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, ledger.SubtypeDutiesTaxes, gst.Subtype)
	require.NotNil(t, res.Balancing)
	assert.True(t, res.Balancing.OpeningBalance.Equal(decimal.NewFromInt(500)))

	again, err := svc.Import(ctx, []accounts.ImportRow{{Name: "SBI", Category: "Assets", Subgroup: "Bank Accounts"}})
	require.NoError(t, err)
	assert.Empty(t, again.Groups, "existing group is reused")
	require.Len(t, again.Created, 1)
	assert.Equal(t, *hdfc.ParentID, *again.Created[0].ParentID)
	assert.False(t, again.Created[0].Canonical)
	assert.Nil(t, again.Balancing, "zero balances need no balancing entry")
}

func TestImportBooksOpeningDifferenceToEquity(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newService(store, nil, 5)
	reports := statements.NewService(store, ledger.RecognitionAccrual, nil, nil)

	res, err := svc.Import(ctx, []accounts.ImportRow{
		{Name: "HDFC Bank", Category: "Assets", Subgroup: "Bank Accounts", Balance: decimal.RequireFromString("1000.50")},
		{Name: "Rent", Category: "Expenses", Subgroup: "Indirect Expenses", Balance: decimal.NewFromInt(100)},
		{Name: "Output GST", Category: "Liabilities", Subgroup: "Duties & Taxes", Balance: decimal.NewFromInt(300)},
	})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.NotNil(t, res.Balancing)

	bal := res.Balancing
	assert.Equal(t, accounts.BalancingAccountName, bal.Name)
	assert.Equal(t, ledger.CategoryEquity, bal.Category)
	assert.Equal(t, ledger.SubtypeOwnerEquity, bal.Subtype)
	assert.False(t, bal.Canonical)
	assert.True(t, decimal.RequireFromString("800.50").Equal(bal.OpeningBalance), bal.OpeningBalance.String())

	report, err := reports.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "difference %s", report.Difference.String())

	balanced, err := svc.Import(ctx, []accounts.ImportRow{
		{Name: "Petty Cash", Category: "Assets", Subgroup: "Cash-in-Hand", Balance: decimal.NewFromInt(40)},
		{Name: "Capital", Category: "Equity", Subgroup: "Capital Account", Balance: decimal.NewFromInt(40)},
	})
	require.NoError(t, err)
	require.Empty(t, balanced.Errors)
	assert.Nil(t, balanced.Balancing)

	report, err = reports.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestBalancesBeyondMinorUnitsAreRejected(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := accounts.NewService(store, nil, accounts.Config{MaxCodeAttempts: 5, MinorUnits: 2}, nil, nil)

	_, err := svc.Create(ctx, accounts.CreateInput{
		Name: "Petty Cash", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeCash,
		OpeningBalance: decimal.RequireFromString("10.001"),
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	res, err := svc.Import(ctx, []accounts.ImportRow{
		{Name: "HDFC Bank", Category: "Assets", Subgroup: "Bank Accounts", Balance: decimal.RequireFromString("0.00001")},
		{Name: "Capital", Category: "Equity", Subgroup: "Capital Account", Balance: decimal.RequireFromString("12.50")},
	})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Row)
	assert.ErrorIs(t, res.Errors[0], ledger.ErrInvalidAmount)
	require.Len(t, res.Created, 1)
	assert.Len(t, res.Groups, 1, "rejected row creates no group")

	capped := accounts.NewService(memstore.New(), nil, accounts.Config{MinorUnits: 8}, nil, nil)
	_, err = capped.Create(ctx, accounts.CreateInput{
		Name: "Petty Cash", Category: ledger.CategoryAsset, Subtype: ledger.SubtypeCash,
		OpeningBalance: decimal.RequireFromString("1.00001"),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "scale is capped at the stored column scale")
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(memstore.New(), nil, 5)

	created, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Len(t, created, 7)

	again, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	for _, pair := range []struct {
		cat ledger.Category
		sub ledger.Subtype
	}{
		{ledger.CategoryAsset, ledger.SubtypeAccountsReceivable},
		{ledger.CategoryLiability, ledger.SubtypeDutiesTaxes},
		{ledger.CategoryLiability, ledger.SubtypeDeferredIncome},
		{ledger.CategoryIncome, ledger.SubtypeSales},
		{ledger.CategoryAsset, ledger.SubtypeBank},
		{ledger.CategoryAsset, ledger.SubtypeCash},
	} {
		_, err := svc.FindCanonical(ctx, pair.cat, pair.sub)
		assert.NoError(t, err, "%s/%s", pair.cat, pair.sub)
	}
}
