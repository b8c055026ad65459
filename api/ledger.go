package api

import (
	"net/http"

	"github.com/warp/supply-ledger/ledger"
)

// =============================================================================
// STOCK LEDGER
// =============================================================================

// StockIn books an HQ delivery as an IN entry.
// POST /api/stock-txs/in
func (h *Handler) StockIn(w http.ResponseWriter, r *http.Request) {
	var req StockInRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tx, err := ledger.ReceiveStock(r.Context(), h.Store, req.ProductID, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, toStockTxDTO(*tx))
}

// ListStockTxs returns stock history, newest first.
// GET /api/stock-txs?product_id=&type=&from=&to=&page=&size=
func (h *Handler) ListStockTxs(w http.ResponseWriter, r *http.Request) {
	var f ledger.StockTxFilter
	var err error
	if f.PageRequest, err = pageRequest(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.TimeRange, err = timeRange(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.ProductID, err = queryInt64(r, "product_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		if f.Type, err = ledger.ParseStockTxType(raw); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	page, err := ledger.NewStockLedger(h.Store).History(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePage(w, page, toStockTxDTO)
}

// =============================================================================
// BALANCE LEDGER
// =============================================================================

// ListBalanceTxs returns one pharmacy's balance history, newest first.
// GET /api/pharmacies/{id}/balance-txs?type=&from=&to=&page=&size=
func (h *Handler) ListBalanceTxs(w http.ResponseWriter, r *http.Request) {
	var f ledger.BalanceTxFilter
	var err error
	if f.PharmacyID, err = pathID(r, "id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if !IdentityFrom(r.Context()).CanAccess(f.PharmacyID) {
		h.fail(w, r, errForbidden)
		return
	}
	if _, err := h.Store.GetPharmacy(r.Context(), f.PharmacyID); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.PageRequest, err = pageRequest(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.TimeRange, err = timeRange(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		if f.Type, err = ledger.ParseBalanceTxType(raw); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	page, err := ledger.NewBalanceLedger(h.Store).History(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePage(w, page, toBalanceTxDTO)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// Settle clears a pharmacy's balance.
// POST /api/credit/settlement/{pharmacyId}
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "pharmacyId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tx, err := h.Settlement.Settle(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toBalanceTxDTO(*tx))
}

// PendingCredits lists pharmacies that owe money, largest balance first.
// GET /api/credit/pending?page=&size=
func (h *Handler) PendingCredits(w http.ResponseWriter, r *http.Request) {
	p, err := pageRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.Settlement.Pending(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePage(w, page, toPendingCreditDTO)
}

// =============================================================================
// AUDIT
// =============================================================================

// ListAuditRuns returns recent ledger audit runs.
// GET /api/audit/runs?limit=
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt64(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit == 0 || limit > ledger.MaxPageSize {
		limit = ledger.DefaultPageSize
	}
	runs, err := h.Store.ListAuditRuns(r.Context(), int(limit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AuditRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAuditRunDTO(run)
	}
	writeOK(w, http.StatusOK, dtos)
}

// TriggerAudit runs the ledger audit immediately and records the result.
// POST /api/audit/runs
func (h *Handler) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	run, err := RunAudit(r.Context(), h.Store, h.log)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, toAuditRunDTO(run))
}
