package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

type problemClass struct {
	class  error
	status int
	title  string
}

// problemClasses is checked in order; the first matching class wins.
var problemClasses = []problemClass{
	{ledger.ErrConfiguration, http.StatusConflict, "Accounting Setup Incomplete"},
	{ledger.ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ledger.ErrNotFound, http.StatusNotFound, "Not Found"},
	{ledger.ErrPrecondition, http.StatusUnprocessableEntity, "Precondition Failed"},
	{ledger.ErrConflict, http.StatusConflict, "Conflict"},
}

// RespondError maps ledger error classes to problem documents. Unclassified
// errors become a 500 without detail.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	for _, pc := range problemClasses {
		if errors.Is(err, pc.class) {
			Problem(w, r, pc.status, pc.title, err.Error())
			return
		}
	}
	Problem(w, r, http.StatusInternalServerError, "Internal Error", "")
}
