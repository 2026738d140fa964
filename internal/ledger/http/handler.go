// Package ledgerhttp exposes the statement queries over HTTP.
package ledgerhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/statements"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

const requestTimeout = 5 * time.Second

// Reports is the statement contract used by the handler.
type Reports interface {
	BalanceSheet(ctx context.Context, asOf time.Time) (statements.BalanceSheet, error)
	ProfitAndLoss(ctx context.Context, start, end time.Time) (statements.ProfitAndLoss, error)
	PeriodProfitAndLoss(ctx context.Context, start, end time.Time) (statements.ProfitAndLoss, error)
	TrialBalance(ctx context.Context) (statements.TrialBalance, error)
	AccountBalance(ctx context.Context, id int64) (statements.AccountBalance, error)
	CheckIntegrity(ctx context.Context) (statements.IntegrityReport, error)
}

// Handler serves read-only ledger reports.
type Handler struct {
	logger  *slog.Logger
	reports Reports
}

// NewHandler constructs the ledger HTTP handler.
func NewHandler(logger *slog.Logger, reports Reports) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reports: reports}
}

func (h *Handler) handleBalanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r, "as_of")
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if !asOf.IsZero() {
		// a date covers the whole day
		asOf = asOf.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	bs, err := h.reports.BalanceSheet(ctx, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) handleProfitAndLoss(w http.ResponseWriter, r *http.Request) {
	start, err := parseDate(r, "start")
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	end, err := parseDate(r, "end")
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var pl statements.ProfitAndLoss
	switch mode := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode"))); mode {
	case "", string(statements.ModeSnapshot):
		pl, err = h.reports.ProfitAndLoss(ctx, start, end)
	case string(statements.ModePeriod):
		if !end.IsZero() {
			end = end.AddDate(0, 0, 1)
		}
		pl, err = h.reports.PeriodProfitAndLoss(ctx, start, end)
	default:
		err = fmt.Errorf("%w: unknown mode %q", ledger.ErrValidation, mode)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tb, err := h.reports.TrialBalance(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, r, fmt.Errorf("%w: account id %q", ledger.ErrInvalidAccount, chi.URLParam(r, "id")))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	bal, err := h.reports.AccountBalance(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.CheckIntegrity(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, report)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("ledger report failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	httpx.RespondError(w, r, err)
}

func parseDate(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ledger.ErrInvalidRange, key)
	}
	return t, nil
}
