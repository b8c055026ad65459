package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/supply-ledger/ledger"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{ledger.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
	{ledger.ErrPharmacyNotFound, http.StatusNotFound, "PHARMACY_NOT_FOUND"},
	{ledger.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{ledger.ErrReturnNotFound, http.StatusNotFound, "RETURN_NOT_FOUND"},

	{ledger.ErrInsufficientStock, http.StatusConflict, "INSUFFICIENT_STOCK"},
	{ledger.ErrCreditLimitExceeded, http.StatusConflict, "CREDIT_LIMIT_EXCEEDED"},
	{ledger.ErrBalanceUnderflow, http.StatusConflict, "BALANCE_UNDERFLOW"},
	{ledger.ErrNothingToSettle, http.StatusConflict, "NOTHING_TO_SETTLE"},
	{ledger.ErrOrderAlreadyFinalized, http.StatusConflict, "ORDER_ALREADY_FINALIZED"},
	{ledger.ErrReturnAlreadyFinalized, http.StatusConflict, "RETURN_ALREADY_FINALIZED"},
	{ledger.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{ledger.ErrOrderHasReturns, http.StatusConflict, "ORDER_HAS_RETURNS"},
	{ledger.ErrOrderNotReturnable, http.StatusConflict, "ORDER_NOT_RETURNABLE"},
	{ledger.ErrReturnQuantityExceeded, http.StatusConflict, "RETURN_QUANTITY_EXCEEDED"},
	{ledger.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
	{ledger.ErrDuplicateCode, http.StatusConflict, "DUPLICATE_CODE"},

	{ledger.ErrProductNotInOrder, http.StatusBadRequest, "PRODUCT_NOT_IN_ORDER"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{ledger.ErrInvalidTxType, http.StatusBadRequest, "INVALID_TX_TYPE"},
	{ledger.ErrInvalidStatus, http.StatusBadRequest, "INVALID_STATUS"},
	{ledger.ErrValidation, http.StatusBadRequest, "VALIDATION_FAILED"},

	{ledger.ErrOrderNotOwned, http.StatusForbidden, "ORDER_NOT_OWNED"},
	{errForbidden, http.StatusForbidden, "FORBIDDEN"},
	{errUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
}

// fail writes the envelope for err. Unmapped errors are logged and hidden
// behind a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error(), errorDetails(err))
			return
		}
	}
	h.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func errorDetails(err error) any {
	var stockErr *ledger.InsufficientStockError
	if errors.As(err, &stockErr) {
		return map[string]any{
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"available":    stockErr.Available,
			"requested":    stockErr.Requested,
		}
	}
	var limitErr *ledger.CreditLimitError
	if errors.As(err, &limitErr) {
		return map[string]any{
			"pharmacy_id": limitErr.PharmacyID,
			"balance":     limitErr.Balance,
			"requested":   limitErr.Requested,
			"limit":       limitErr.Limit,
			"available":   limitErr.Available(),
		}
	}
	var qtyErr *ledger.ReturnQuantityError
	if errors.As(err, &qtyErr) {
		return map[string]any{
			"order_id":         qtyErr.OrderID,
			"product_id":       qtyErr.ProductID,
			"ordered":          qtyErr.Ordered,
			"already_returned": qtyErr.AlreadyReturned,
			"requested":        qtyErr.Requested,
			"remaining":        qtyErr.Remaining(),
		}
	}
	var fieldErrs fieldErrors
	if errors.As(err, &fieldErrs) {
		return map[string]string(fieldErrs)
	}
	return nil
}
