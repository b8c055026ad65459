package api

import (
	"net/http"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/order"
)

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder places an order. Pharmacy callers always order for their own
// pharmacy; admins name one in the body.
// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pharmacyID, err := scopedPharmacy(IdentityFrom(r.Context()), req.PharmacyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	lines := make([]order.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = order.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	o, err := h.Orders.Create(r.Context(), pharmacyID, lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, toOrderDTO(o))
}

// ListOrders returns order summaries, newest first.
// GET /api/orders?status=&pharmacy_id=&from=&to=&page=&size=
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var f ledger.OrderFilter
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
	if raw := r.URL.Query().Get("status"); raw != "" {
		f.Status = ledger.OrderStatus(raw)
		if !f.Status.Valid() {
			h.fail(w, r, invalidStatus(raw))
			return
		}
	}
	if id := IdentityFrom(r.Context()); !id.IsAdmin() {
		f.PharmacyID = id.PharmacyID
	}

	page, err := h.Orders.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePage(w, page, toOrderSummaryDTO)
}

// GetOrder returns an order with its lines.
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeOK(w, http.StatusOK, toOrderDTO(o))
}

// UpdateOrderStatus moves an order along its lifecycle. Pharmacy callers may
// only cancel their own orders.
// PATCH /api/orders/{id}/status
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	next := ledger.OrderStatus(req.Status)
	if !next.Valid() {
		h.fail(w, r, invalidStatus(req.Status))
		return
	}

	o, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	if !IdentityFrom(r.Context()).IsAdmin() && next != ledger.OrderCanceled {
		h.fail(w, r, errForbidden)
		return
	}

	updated, err := h.Orders.UpdateStatus(r.Context(), o.ID, next)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderDTO(updated))
}

// DeleteOrder removes an order that has no returns. Ledger entries stay.
// DELETE /api/orders/{id}
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Orders.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]int64{"id": id})
}

// loadOrder reads the {id} order and checks the caller may see it. It
// writes the error response itself.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (*ledger.Order, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	o, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	if !IdentityFrom(r.Context()).CanAccess(o.PharmacyID) {
		h.fail(w, r, errForbidden)
		return nil, false
	}
	return o, true
}

// scopedPharmacy resolves which pharmacy a create request acts for.
func scopedPharmacy(id Identity, requested int64) (int64, error) {
	if !id.IsAdmin() {
		if requested != 0 && requested != id.PharmacyID {
			return 0, errForbidden
		}
		return id.PharmacyID, nil
	}
	if requested == 0 {
		return 0, fieldErrors{"pharmacy_id": "required"}
	}
	return requested, nil
}
