/*
store.go - Persistence interfaces for the ledgers and their documents

PURPOSE:
  Defines the boundary between workflow logic and the database. Every
  guard that protects an invariant is expressed as a single conditional
  write returning whether a row was affected, so two concurrent callers
  can never both pass the same check.

KEY INTERFACES:
  StockStore:    product quantity guards + stock ledger append
  BalanceStore:  pharmacy balance guards + balance ledger append
  OrderStore:    orders, order lines, return reservation counter
  ReturnStore:   returns and return lines
  CatalogStore:  product and pharmacy registration
  Store:         all of the above
  TxStore:       Store + WithTx unit of work

APPEND-ONLY CONTRACT:
  Ledger rows are written with AppendStockTx / AppendBalanceTx only.
  There is no update or delete for them. Corrections are new entries.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via sqlx

SEE ALSO:
  - stock.go, balance.go: the services built on these interfaces
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STOCK
// =============================================================================

type StockStore interface {
	// GetProduct returns ErrProductNotFound when the row is missing.
	GetProduct(ctx context.Context, id int64) (*Product, error)

	// IncreaseStock adds amount. Returns false if the product does not exist.
	IncreaseStock(ctx context.Context, productID, amount int64) (bool, error)

	// DecreaseStock subtracts amount only while quantity >= amount.
	// Returns false when the guard refused the write or the product is missing.
	DecreaseStock(ctx context.Context, productID, amount int64) (bool, error)

	AppendStockTx(ctx context.Context, tx *StockTx) error
	ListStockTxs(ctx context.Context, f StockTxFilter) ([]StockTx, int, error)
}

// =============================================================================
// BALANCE
// =============================================================================

type BalanceStore interface {
	// GetPharmacy returns ErrPharmacyNotFound when the row is missing.
	GetPharmacy(ctx context.Context, id int64) (*Pharmacy, error)

	// ChargeBalance adds amount only while balance + amount <= limit.
	ChargeBalance(ctx context.Context, pharmacyID int64, amount, limit decimal.Decimal) (bool, error)

	// CreditBalance subtracts amount only while balance >= amount.
	CreditBalance(ctx context.Context, pharmacyID int64, amount decimal.Decimal) (bool, error)

	// ResetBalance sets the balance to zero only if it still equals expected.
	ResetBalance(ctx context.Context, pharmacyID int64, expected decimal.Decimal) (bool, error)

	AppendBalanceTx(ctx context.Context, tx *BalanceTx) error
	ListBalanceTxs(ctx context.Context, f BalanceTxFilter) ([]BalanceTx, int, error)

	// ListPendingCredits returns pharmacies with a positive balance, largest first.
	ListPendingCredits(ctx context.Context, p PageRequest) ([]PendingCredit, int, error)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type OrderStore interface {
	// InsertOrder writes the order and its items and fills in their IDs.
	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderItem(ctx context.Context, id int64) (*OrderItem, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, int, error)

	// SetOrderStatus moves the order from one status to another.
	// Returns false if the order is no longer in status from.
	SetOrderStatus(ctx context.Context, id int64, from, to OrderStatus, at time.Time) (bool, error)
	DeleteOrder(ctx context.Context, id int64) error
	CountReturns(ctx context.Context, orderID int64) (int, error)

	// ReserveReturnQty claims qty of an order line only while
	// quantity - reserved >= qty.
	ReserveReturnQty(ctx context.Context, orderItemID, qty int64) (bool, error)

	// ReleaseReturnQty gives back qty previously reserved.
	ReleaseReturnQty(ctx context.Context, orderItemID, qty int64) (bool, error)
}

type ReturnStore interface {
	InsertReturn(ctx context.Context, r *Return) error
	GetReturn(ctx context.Context, id int64) (*Return, error)
	ListReturns(ctx context.Context, f ReturnFilter) ([]Return, int, error)
	SetReturnStatus(ctx context.Context, id int64, from, to ReturnStatus, at time.Time) (bool, error)
	DeleteReturn(ctx context.Context, id int64) error
}

type CatalogStore interface {
	// InsertProduct writes a product with the quantity it carries.
	// Returns ErrDuplicateCode when the code is taken.
	InsertProduct(ctx context.Context, p *Product) error
	InsertPharmacy(ctx context.Context, ph *Pharmacy) error
}

// Store is everything a workflow step may touch inside one transaction.
type Store interface {
	StockStore
	BalanceStore
	OrderStore
	ReturnStore
	CatalogStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// QUERIES
// =============================================================================

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is a zero-based page number and a size.
type PageRequest struct {
	Page int
	Size int
}

// Normalize clamps the request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// Page is one page of a listing plus the total row count.
type Page[T any] struct {
	Items []T
	Total int
	PageRequest
}

func NewPage[T any](items []T, total int, req PageRequest) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, PageRequest: req}
}

func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}

// TimeRange bounds created_at. Zero values mean unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

type StockTxFilter struct {
	ProductID int64
	Type      StockTxType
	TimeRange
	PageRequest
}

type BalanceTxFilter struct {
	PharmacyID int64
	Type       BalanceTxType
	TimeRange
	PageRequest
}

type OrderFilter struct {
	PharmacyID int64
	Status     OrderStatus
	TimeRange
	PageRequest
}

type ReturnFilter struct {
	PharmacyID int64
	OrderID    int64
	Status     ReturnStatus
	TimeRange
	PageRequest
}

// PendingCredit is a pharmacy with an outstanding balance and its
// settlement history.
type PendingCredit struct {
	Pharmacy          Pharmacy
	LastSettledAt     *time.Time
	LastSettledAmount *decimal.Decimal
	TotalSettled      decimal.Decimal
}
