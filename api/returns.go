package api

import (
	"fmt"
	"net/http"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/returns"
)

// =============================================================================
// RETURN HANDLERS
// =============================================================================

// CreateReturn requests a return against an earlier order.
// POST /api/returns
func (h *Handler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	var req CreateReturnRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pharmacyID, err := scopedPharmacy(IdentityFrom(r.Context()), req.PharmacyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	lines := make([]returns.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = returns.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	ret, err := h.Returns.Create(r.Context(), pharmacyID, req.OrderID, req.Reason, lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, toReturnDTO(ret))
}

// ListReturns returns return summaries, newest first.
// GET /api/returns?status=&pharmacy_id=&order_id=&from=&to=&page=&size=
func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	var f ledger.ReturnFilter
	var err error
	if f.PageRequest, err = pageRequest(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.TimeRange, err = timeRange(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.PharmacyID, err = queryInt64(r, "pharmacy_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.OrderID, err = queryInt64(r, "order_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		f.Status = ledger.ReturnStatus(raw)
		if !f.Status.Valid() {
			h.fail(w, r, invalidStatus(raw))
			return
		}
	}
	if id := IdentityFrom(r.Context()); !id.IsAdmin() {
		f.PharmacyID = id.PharmacyID
	}

	page, err := h.Returns.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePage(w, page, toReturnSummaryDTO)
}

// GetReturn returns a return with its lines.
// GET /api/returns/{id}
func (h *Handler) GetReturn(w http.ResponseWriter, r *http.Request) {
	ret, ok := h.loadReturn(w, r)
	if !ok {
		return
	}
	writeOK(w, http.StatusOK, toReturnDTO(ret))
}

// UpdateReturnStatus moves a return along its lifecycle. Pharmacy callers
// may only cancel their own returns.
// PATCH /api/returns/{id}/status
func (h *Handler) UpdateReturnStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	next := ledger.ReturnStatus(req.Status)
	if !next.Valid() {
		h.fail(w, r, invalidStatus(req.Status))
		return
	}

	ret, ok := h.loadReturn(w, r)
	if !ok {
		return
	}
	if !IdentityFrom(r.Context()).IsAdmin() && next != ledger.ReturnCanceled {
		h.fail(w, r, errForbidden)
		return
	}

	updated, err := h.Returns.UpdateStatus(r.Context(), ret.ID, next)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toReturnDTO(updated))
}

// DeleteReturn removes a return, releasing its reserved quantity unless it
// already completed.
// DELETE /api/returns/{id}
func (h *Handler) DeleteReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Returns.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]int64{"id": id})
}

func (h *Handler) loadReturn(w http.ResponseWriter, r *http.Request) (*ledger.Return, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	ret, err := h.Returns.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	if !IdentityFrom(r.Context()).CanAccess(ret.PharmacyID) {
		h.fail(w, r, errForbidden)
		return nil, false
	}
	return ret, true
}

func invalidStatus(raw string) error {
	return fmt.Errorf("%w: %q", ledger.ErrInvalidStatus, raw)
}
