/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, keeping the ledger
  types free of JSON concerns.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ENVELOPE:
  Success: {"success":true,"data":...}
  Lists:   {"success":true,"data":[...],"total_pages":N,"total_elements":N,"current_page":N}
  Failure: {"success":false,"error":"...","code":"...","details":{...}}

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  Handler.decode which rejects unknown JSON and failing tags with 400.
  Money amounts are decimal strings or numbers; ledger code checks scale.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: Error code table
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/order"
	"github.com/warp/supply-ledger/returns"
)

// =============================================================================
// ENVELOPE
// =============================================================================

type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type PageResponse struct {
	Success       bool `json:"success"`
	Data          any  `json:"data"`
	TotalPages    int  `json:"total_pages"`
	TotalElements int  `json:"total_elements"`
	CurrentPage   int  `json:"current_page"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

type CreateProductRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Code            string          `json:"code" validate:"required,max=64"`
	Unit            string          `json:"unit" validate:"max=32"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	InitialQuantity int64           `json:"initial_quantity" validate:"gte=0,lte=1000000000"`
}

type ProductDTO struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	Unit      string          `json:"unit,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

func toProductDTO(p *ledger.Product) ProductDTO {
	return ProductDTO{
		ID:        p.ID,
		Name:      p.Name,
		Code:      p.Code,
		Unit:      p.Unit,
		UnitPrice: p.UnitPrice,
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt,
	}
}

type CreatePharmacyRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Region  string `json:"region" validate:"max=100"`
	Contact string `json:"contact" validate:"max=100"`
}

type PharmacyDTO struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Region    string          `json:"region,omitempty"`
	Contact   string          `json:"contact,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

func toPharmacyDTO(ph *ledger.Pharmacy) PharmacyDTO {
	return PharmacyDTO{
		ID:        ph.ID,
		Name:      ph.Name,
		Region:    ph.Region,
		Contact:   ph.Contact,
		Balance:   ph.Balance,
		CreatedAt: ph.CreatedAt,
	}
}

// =============================================================================
// LEDGERS
// =============================================================================

type StockInRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0,lte=1000000000"`
}

type StockTxDTO struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	Type           string    `json:"type"`
	Amount         int64     `json:"amount"`
	QuantityBefore int64     `json:"quantity_before"`
	QuantityAfter  int64     `json:"quantity_after"`
	RefType        string    `json:"ref_type,omitempty"`
	RefID          int64     `json:"ref_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toStockTxDTO(tx ledger.StockTx) StockTxDTO {
	return StockTxDTO{
		ID:             tx.ID,
		ProductID:      tx.ProductID,
		Type:           string(tx.Type),
		Amount:         tx.Amount,
		QuantityBefore: tx.QuantityBefore,
		QuantityAfter:  tx.QuantityAfter,
		RefType:        string(tx.Ref.Type),
		RefID:          tx.Ref.ID,
		CreatedAt:      tx.CreatedAt,
	}
}

type BalanceTxDTO struct {
	ID            int64           `json:"id"`
	PharmacyID    int64           `json:"pharmacy_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	RefType       string          `json:"ref_type,omitempty"`
	RefID         int64           `json:"ref_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toBalanceTxDTO(tx ledger.BalanceTx) BalanceTxDTO {
	return BalanceTxDTO{
		ID:            tx.ID,
		PharmacyID:    tx.PharmacyID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		RefType:       string(tx.Ref.Type),
		RefID:         tx.Ref.ID,
		CreatedAt:     tx.CreatedAt,
	}
}

type PendingCreditDTO struct {
	PharmacyID        int64            `json:"pharmacy_id"`
	PharmacyName      string           `json:"pharmacy_name"`
	Region            string           `json:"region,omitempty"`
	Balance           decimal.Decimal  `json:"balance"`
	LastSettledAt     *time.Time       `json:"last_settled_at"`
	LastSettledAmount *decimal.Decimal `json:"last_settled_amount"`
	TotalSettled      decimal.Decimal  `json:"total_settled"`
}

func toPendingCreditDTO(pc ledger.PendingCredit) PendingCreditDTO {
	return PendingCreditDTO{
		PharmacyID:        pc.Pharmacy.ID,
		PharmacyName:      pc.Pharmacy.Name,
		Region:            pc.Pharmacy.Region,
		Balance:           pc.Pharmacy.Balance,
		LastSettledAt:     pc.LastSettledAt,
		LastSettledAmount: pc.LastSettledAmount,
		TotalSettled:      pc.TotalSettled,
	}
}

type AuditRunDTO struct {
	ID                string         `json:"id"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	ProductsChecked   int            `json:"products_checked"`
	PharmaciesChecked int            `json:"pharmacies_checked"`
	Clean             bool           `json:"clean"`
	Drifts            []ledger.Drift `json:"drifts"`
}

func toAuditRunDTO(run ledger.AuditRun) AuditRunDTO {
	drifts := run.Drifts
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	return AuditRunDTO{
		ID:                run.ID,
		StartedAt:         run.StartedAt,
		FinishedAt:        run.FinishedAt,
		ProductsChecked:   run.ProductsChecked,
		PharmaciesChecked: run.PharmaciesChecked,
		Clean:             run.Clean(),
		Drifts:            drifts,
	}
}

// =============================================================================
// ORDERS
// =============================================================================

type LineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0,lte=1000000000"`
}

// CreateOrderRequest is the order body. PharmacyID is ignored for pharmacy
// callers, who always order for themselves.
type CreateOrderRequest struct {
	PharmacyID int64         `json:"pharmacy_id" validate:"gte=0"`
	Items      []LineRequest `json:"items" validate:"required,min=1,dive"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type OrderItemDTO struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Quantity          int64           `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ReturnedQuantity  int64           `json:"returned_quantity"`
	ReturnableQuantity int64           `json:"returnable_quantity"`
}

type OrderDTO struct {
	ID         int64           `json:"id"`
	PharmacyID int64           `json:"pharmacy_id"`
	Status     string          `json:"status"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Items      []OrderItemDTO  `json:"items"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toOrderDTO(o *ledger.Order) OrderDTO {
	items := make([]OrderItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemDTO{
			ID:                it.ID,
			ProductID:         it.ProductID,
			ProductName:       it.ProductName,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			Subtotal:          it.Subtotal,
			ReturnedQuantity:  it.ReservedReturnQty,
			ReturnableQuantity: it.Returnable(),
		}
	}
	return OrderDTO{
		ID:         o.ID,
		PharmacyID: o.PharmacyID,
		Status:     string(o.Status),
		TotalPrice: o.TotalPrice,
		Items:      items,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

// OrderSummaryDTO is the list row: items collapse to "<first> +N".
type OrderSummaryDTO struct {
	ID          int64           `json:"id"`
	PharmacyID  int64           `json:"pharmacy_id"`
	Status      string          `json:"status"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	ItemSummary string          `json:"item_summary"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toOrderSummaryDTO(o ledger.Order) OrderSummaryDTO {
	return OrderSummaryDTO{
		ID:          o.ID,
		PharmacyID:  o.PharmacyID,
		Status:      string(o.Status),
		TotalPrice:  o.TotalPrice,
		ItemSummary: order.Summary(o.Items),
		CreatedAt:   o.CreatedAt,
	}
}

// =============================================================================
// RETURNS
// =============================================================================

type CreateReturnRequest struct {
	PharmacyID int64         `json:"pharmacy_id" validate:"gte=0"`
	OrderID    int64         `json:"order_id" validate:"required,gt=0"`
	Reason     string        `json:"reason" validate:"max=500"`
	Items      []LineRequest `json:"items" validate:"required,min=1,dive"`
}

type ReturnItemDTO struct {
	ID          int64           `json:"id"`
	OrderItemID int64           `json:"order_item_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type ReturnDTO struct {
	ID         int64           `json:"id"`
	PharmacyID int64           `json:"pharmacy_id"`
	OrderID    int64           `json:"order_id"`
	Reason     string          `json:"reason,omitempty"`
	Status     string          `json:"status"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Items      []ReturnItemDTO `json:"items"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toReturnDTO(r *ledger.Return) ReturnDTO {
	items := make([]ReturnItemDTO, len(r.Items))
	for i, it := range r.Items {
		items[i] = ReturnItemDTO{
			ID:          it.ID,
			OrderItemID: it.OrderItemID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal,
		}
	}
	return ReturnDTO{
		ID:         r.ID,
		PharmacyID: r.PharmacyID,
		OrderID:    r.OrderID,
		Reason:     r.Reason,
		Status:     string(r.Status),
		TotalPrice: r.TotalPrice,
		Items:      items,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type ReturnSummaryDTO struct {
	ID          int64           `json:"id"`
	PharmacyID  int64           `json:"pharmacy_id"`
	OrderID     int64           `json:"order_id"`
	Status      string          `json:"status"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	ItemSummary string          `json:"item_summary"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toReturnSummaryDTO(r ledger.Return) ReturnSummaryDTO {
	return ReturnSummaryDTO{
		ID:          r.ID,
		PharmacyID:  r.PharmacyID,
		OrderID:     r.OrderID,
		Status:      string(r.Status),
		TotalPrice:  r.TotalPrice,
		ItemSummary: returns.Summary(r.Items),
		CreatedAt:   r.CreatedAt,
	}
}
