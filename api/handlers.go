/*
handlers.go - HTTP API handlers for the pharmacy supply ledger

PURPOSE:
  Exposes the order, return and settlement workflows over REST. Handlers
  parse and validate the request, enforce the caller's scope, delegate to
  the services and serialize the result in the standard envelope.

ENDPOINTS:
  Catalog (this file):
    POST   /api/products                   Create product with opening stock
    GET    /api/products                   List products
    GET    /api/products/{id}              Product and quantity on hand
    POST   /api/pharmacies                 Create pharmacy
    GET    /api/pharmacies/{id}            Pharmacy and outstanding balance

  Ledgers (ledger.go):
    POST   /api/stock-txs/in               HQ stock receipt
    GET    /api/stock-txs                  Stock history
    GET    /api/pharmacies/{id}/balance-txs Balance history
    POST   /api/credit/settlement/{id}     Settle a pharmacy
    GET    /api/credit/pending             Pharmacies with a balance
    GET    /api/audit/runs                 Ledger audit runs
    POST   /api/audit/runs                 Run the ledger audit now

  Orders (orders.go), Returns (returns.go):
    POST   /api/{orders,returns}
    GET    /api/{orders,returns}
    GET    /api/{orders,returns}/{id}
    PATCH  /api/{orders,returns}/{id}/status
    DELETE /api/{orders,returns}/{id}

REQUEST FLOW:
  1. Parse HTTP request (decode + validator tags)
  2. Scope to caller (pharmacy callers only see their own pharmacy)
  3. Call the service
  4. Serialize response
  5. Map errors through errors.go

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Identity and role checks
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/order"
	"github.com/warp/supply-ledger/returns"
	"github.com/warp/supply-ledger/settlement"
	"github.com/warp/supply-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Orders     *order.Service
	Returns    *returns.Service
	Settlement *settlement.Service

	log      *zap.Logger
	validate *validator.Validate
}

// NewHandler wires the services over store.
func NewHandler(store *sqlite.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		Orders:     order.NewService(store, log),
		Returns:    returns.NewService(store, log),
		Settlement: settlement.NewService(store, log),
		log:        log.Named("api"),
		validate:   newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// CreateProduct registers a product and books its opening stock.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	p := &ledger.Product{
		Name:      req.Name,
		Code:      req.Code,
		Unit:      req.Unit,
		UnitPrice: req.UnitPrice,
	}
	if err := ledger.RegisterProduct(r.Context(), h.Store, p, req.InitialQuantity); err != nil {
		h.fail(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, toProductDTO(p))
}

// ListProducts returns the catalog by name.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	p, err := pageRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.Store.ListProducts(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePage(w, page, func(p ledger.Product) ProductDTO { return toProductDTO(&p) })
}

// GetProduct returns a product with its quantity on hand.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toProductDTO(p))
}

// CreatePharmacy registers a branch with a zero balance.
// POST /api/pharmacies
func (h *Handler) CreatePharmacy(w http.ResponseWriter, r *http.Request) {
	var req CreatePharmacyRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ph := &ledger.Pharmacy{Name: req.Name, Region: req.Region, Contact: req.Contact}
	if err := ledger.RegisterPharmacy(r.Context(), h.Store, ph); err != nil {
		h.fail(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, toPharmacyDTO(ph))
}

// GetPharmacy returns a pharmacy and its outstanding balance.
// GET /api/pharmacies/{id}
func (h *Handler) GetPharmacy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !IdentityFrom(r.Context()).CanAccess(id) {
		h.fail(w, r, errForbidden)
		return
	}
	ph, err := h.Store.GetPharmacy(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toPharmacyDTO(ph))
}

// Healthz reports whether the database answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unavailable", nil)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

func writePage[T, D any](w http.ResponseWriter, page ledger.Page[T], conv func(T) D) {
	items := make([]D, len(page.Items))
	for i, it := range page.Items {
		items[i] = conv(it)
	}
	writeJSON(w, http.StatusOK, PageResponse{
		Success:       true,
		Data:          items,
		TotalPages:    page.TotalPages(),
		TotalElements: page.Total,
		CurrentPage:   page.Page,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// fieldErrors maps a JSON field path to the validator tag it failed.
type fieldErrors map[string]string

func (fe fieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + fe[k]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (fe fieldErrors) Unwrap() error { return ledger.ErrValidation }

func processValidationErrors(verrs validator.ValidationErrors) fieldErrors {
	out := make(fieldErrors, len(verrs))
	for _, ve := range verrs {
		field := ve.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out[field] = ve.Tag()
	}
	return out
}

// decode reads a JSON body into dst and runs its validator tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", ledger.ErrValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return processValidationErrors(verrs)
		}
		return fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ledger.ErrValidation, key)
	}
	return id, nil
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", ledger.ErrValidation, key, raw)
	}
	return v, nil
}

func pageRequest(r *http.Request) (ledger.PageRequest, error) {
	page, err := queryInt64(r, "page")
	if err != nil {
		return ledger.PageRequest{}, err
	}
	size, err := queryInt64(r, "size")
	if err != nil {
		return ledger.PageRequest{}, err
	}
	return ledger.PageRequest{Page: int(page), Size: int(size)}.Normalize(), nil
}

// timeRange reads "from" and "to". Both accept RFC 3339 or a bare date;
// a bare "to" date covers that whole day.
func timeRange(r *http.Request) (ledger.TimeRange, error) {
	var tr ledger.TimeRange
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, _, err := parseQueryTime(raw)
		if err != nil {
			return tr, fmt.Errorf("%w: invalid from %q", ledger.ErrValidation, raw)
		}
		tr.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, dateOnly, err := parseQueryTime(raw)
		if err != nil {
			return tr, fmt.Errorf("%w: invalid to %q", ledger.ErrValidation, raw)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		tr.To = t
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && tr.To.Before(tr.From) {
		return tr, fmt.Errorf("%w: to is before from", ledger.ErrValidation)
	}
	return tr, nil
}

func parseQueryTime(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	return t, true, err
}
