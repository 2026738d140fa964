package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerhttp "github.com/odyssey-erp/odyssey-ledger/internal/ledger/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterServesLedgerReports(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Recognition: "accrual", MinorUnits: 2, CodeMaxAttempts: 5, PostMaxAttempts: 3}
	metrics := observability.NewMetrics()
	l := NewLedger(LedgerParams{Config: cfg, Store: memstore.New(), Metrics: metrics})

	_, err := l.Accounts.SeedDefaults(ctx)
	require.NoError(t, err)
	_, err = l.Engine.PostInvoice(ctx, posting.InvoicePosted{
		InvoiceID: "INV-7",
		Total:     decimal.NewFromInt(118),
		TaxAmount: decimal.NewFromInt(18),
		SubTotal:  decimal.NewFromInt(100),
		PostedAt:  time.Now(),
	})
	require.NoError(t, err)

	router := NewRouter(RouterParams{
		Config:        cfg,
		LedgerHandler: ledgerhttp.NewHandler(nil, l.Statements),
		JobHandler:    jobs.NewHandler(nil, nil),
		Metrics:       metrics,
	})

	rec := get(t, router, "/ledger/trial-balance")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	var tb map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tb))
	assert.Equal(t, "118", tb["total_debit"])
	assert.Equal(t, true, tb["balanced"])

	rec = get(t, router, "/ledger/balance-sheet")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, router, "/jobs/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "odyssey_ledger_postings_total")
	assert.Contains(t, rec.Body.String(), "odyssey_http_requests_total")
}

func TestRouterProblemWhenSalesMissing(t *testing.T) {
	l := NewLedger(LedgerParams{Store: memstore.New()})
	router := NewRouter(RouterParams{LedgerHandler: ledgerhttp.NewHandler(nil, l.Statements)})

	rec := get(t, router, "/ledger/profit-and-loss")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Accounting Setup Incomplete")
}

func TestReadiness(t *testing.T) {
	router := NewRouter(RouterParams{Database: pingFunc(func(context.Context) error { return nil })})
	assert.Equal(t, http.StatusOK, get(t, router, "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/healthz").Code)

	router = NewRouter(RouterParams{Database: pingFunc(func(context.Context) error { return errors.New("down") })})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/readyz").Code)
}
