/*
Package ledger provides the stock and credit-balance ledgers shared by the
order, return and settlement workflows.

PURPOSE:
  HQ sells to franchise pharmacies on credit. Every order removes stock and
  raises the pharmacy's outstanding balance; every completed return puts
  stock back and lowers the balance; a settlement pays the balance down to
  zero. This package owns the two running totals (Product.Quantity and
  Pharmacy.Balance) and the append-only logs that explain them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product / Pharmacy: rows carrying the running quantity and balance
  - StockTx / BalanceTx: immutable ledger entries with before/after snapshots
  - Order / Return: the documents that cause ledger postings
  - Reference: which document a ledger entry was posted for

DESIGN PRINCIPLES:
  1. Immutability: ledger entries are never updated or deleted
  2. Precision: money uses decimal.Decimal, rounded to 2 places
  3. Guards in storage: quantity and balance limits are enforced by
     conditional updates, never by read-modify-write in Go

SEE ALSO:
  - stock.go: StockLedger
  - balance.go: BalanceLedger and settlement
  - store.go: persistence interfaces
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreditLimit is the maximum outstanding balance a pharmacy may carry.
var CreditLimit = decimal.NewFromInt(10_000_000)

// MoneyPlaces is the number of decimal places money is kept at.
const MoneyPlaces = 2

// MaxQuantity bounds a single stock posting and a single document line.
const MaxQuantity int64 = 1_000_000_000

// RoundMoney rounds an amount to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// IsMoney reports whether d is non-negative and has no more than MoneyPlaces decimals.
func IsMoney(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(RoundMoney(d))
}

// =============================================================================
// CATALOG ROWS
// =============================================================================

// Product is an item HQ stocks. Quantity is only changed through StockLedger.
type Product struct {
	ID        int64
	Name      string
	Code      string
	Unit      string
	UnitPrice decimal.Decimal
	Quantity  int64
	CreatedAt time.Time
}

// Pharmacy is a franchise branch buying on credit. Balance is only changed
// through BalanceLedger.
type Pharmacy struct {
	ID        int64
	Name      string
	Region    string
	Contact   string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// REFERENCES
// =============================================================================

// ReferenceType names the kind of document a ledger entry was posted for.
type ReferenceType string

const (
	RefNone    ReferenceType = ""
	RefOrder   ReferenceType = "order"
	RefReturn  ReferenceType = "return"
	RefReceipt ReferenceType = "receipt"
)

// Reference points a ledger entry at the document that caused it.
// The ID is informational; it is not a foreign key and survives deletion
// of the document.
type Reference struct {
	Type ReferenceType
	ID   int64
}

func OrderRef(id int64) Reference  { return Reference{Type: RefOrder, ID: id} }
func ReturnRef(id int64) Reference { return Reference{Type: RefReturn, ID: id} }

// IsZero reports whether no document is referenced.
func (r Reference) IsZero() bool { return r.Type == RefNone }

// =============================================================================
// STOCK TRANSACTIONS
// =============================================================================

type StockTxType string

const (
	StockIn          StockTxType = "IN"
	StockOrder       StockTxType = "ORDER"
	StockOrderCancel StockTxType = "ORDER_CANCEL"
	StockReturn      StockTxType = "RETURN"
)

// ParseStockTxType accepts the canonical names plus the OUT and RETURN_IN aliases.
func ParseStockTxType(s string) (StockTxType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN":
		return StockIn, nil
	case "ORDER", "OUT":
		return StockOrder, nil
	case "ORDER_CANCEL":
		return StockOrderCancel, nil
	case "RETURN", "RETURN_IN":
		return StockReturn, nil
	}
	return "", fmt.Errorf("%w: stock transaction type %q", ErrInvalidTxType, s)
}

func (t StockTxType) Valid() bool {
	switch t {
	case StockIn, StockOrder, StockOrderCancel, StockReturn:
		return true
	}
	return false
}

// Increases reports whether the type adds to the product quantity.
func (t StockTxType) Increases() bool {
	return t != StockOrder
}

// StockTx is one immutable entry of the stock ledger.
// Amount is always positive; Delta gives the signed change.
type StockTx struct {
	ID             int64
	ProductID      int64
	Type           StockTxType
	Amount         int64
	QuantityBefore int64
	QuantityAfter  int64
	Ref            Reference
	CreatedAt      time.Time
}

// Delta returns the signed quantity change.
func (tx StockTx) Delta() int64 {
	if tx.Type.Increases() {
		return tx.Amount
	}
	return -tx.Amount
}

// =============================================================================
// BALANCE TRANSACTIONS
// =============================================================================

type BalanceTxType string

const (
	BalanceOrder       BalanceTxType = "ORDER"
	BalanceOrderCancel BalanceTxType = "ORDER_CANCEL"
	BalanceReturn      BalanceTxType = "RETURN"
	BalanceSettlement  BalanceTxType = "SETTLEMENT"
)

func ParseBalanceTxType(s string) (BalanceTxType, error) {
	t := BalanceTxType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: balance transaction type %q", ErrInvalidTxType, s)
	}
	return t, nil
}

func (t BalanceTxType) Valid() bool {
	switch t {
	case BalanceOrder, BalanceOrderCancel, BalanceReturn, BalanceSettlement:
		return true
	}
	return false
}

// BalanceTx is one immutable entry of the balance ledger.
type BalanceTx struct {
	ID            int64
	PharmacyID    int64
	Type          BalanceTxType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Ref           Reference
	CreatedAt     time.Time
}

// Delta returns the signed balance change.
func (tx BalanceTx) Delta() decimal.Decimal {
	if tx.Type == BalanceOrder {
		return tx.Amount
	}
	return tx.Amount.Neg()
}

// =============================================================================
// ORDERS
// =============================================================================

type OrderStatus string

const (
	OrderRequested OrderStatus = "REQUESTED"
	OrderApproved  OrderStatus = "APPROVED"
	OrderPreparing OrderStatus = "PREPARING"
	OrderShipping  OrderStatus = "SHIPPING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCanceled  OrderStatus = "CANCELED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderRequested, OrderApproved, OrderPreparing, OrderShipping, OrderCompleted, OrderCanceled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCanceled
}

// Order is a pharmacy's purchase on credit.
type Order struct {
	ID         int64
	PharmacyID int64
	Status     OrderStatus
	TotalPrice decimal.Decimal
	Items      []OrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem is an immutable order line. UnitPrice is frozen at order time.
// ReservedReturnQty counts units claimed by returns that are not rejected
// or canceled.
type OrderItem struct {
	ID                int64
	OrderID           int64
	ProductID         int64
	ProductName       string
	Quantity          int64
	UnitPrice         decimal.Decimal
	Subtotal          decimal.Decimal
	ReservedReturnQty int64
}

// Returnable is the quantity still available for new returns.
func (oi OrderItem) Returnable() int64 {
	return oi.Quantity - oi.ReservedReturnQty
}

// =============================================================================
// RETURNS
// =============================================================================

type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "REQUESTED"
	ReturnApproved  ReturnStatus = "APPROVED"
	ReturnReceived  ReturnStatus = "RECEIVED"
	ReturnCompleted ReturnStatus = "COMPLETED"
	ReturnRejected  ReturnStatus = "REJECTED"
	ReturnCanceled  ReturnStatus = "CANCELED"
)

func (s ReturnStatus) Valid() bool {
	switch s {
	case ReturnRequested, ReturnApproved, ReturnReceived, ReturnCompleted, ReturnRejected, ReturnCanceled:
		return true
	}
	return false
}

func (s ReturnStatus) Terminal() bool {
	return s == ReturnCompleted || s == ReturnRejected || s == ReturnCanceled
}

// Reserves reports whether a return in this status still holds its quantity
// against the order line.
func (s ReturnStatus) Reserves() bool {
	return s != ReturnRejected && s != ReturnCanceled
}

// Return is a pharmacy's request to send goods from an earlier order back.
type Return struct {
	ID         int64
	PharmacyID int64
	OrderID    int64
	Reason     string
	Status     ReturnStatus
	TotalPrice decimal.Decimal
	Items      []ReturnItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReturnItem is a return line priced from the originating order line.
type ReturnItem struct {
	ID          int64
	ReturnID    int64
	OrderItemID int64
	ProductID   int64
	ProductName string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}
