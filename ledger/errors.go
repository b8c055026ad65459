/*
errors.go - Error types for the ledgers and the workflows that post to them

PURPOSE:
  All domain errors live here so the order, return and settlement services
  and the HTTP layer agree on one vocabulary. Services wrap these with
  fmt.Errorf("%w: ...") for context; callers test with errors.Is/As.

ERROR CATEGORIES:
  1. Not found   - a referenced row does not exist
  2. Conflicts   - a guard refused the change (stock, credit, status)
  3. Validation  - the request itself is malformed

SEE ALSO:
  - api/errors.go: maps these to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrPharmacyNotFound = errors.New("pharmacy not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrReturnNotFound   = errors.New("return not found")

	// ErrInsufficientStock is returned when a decrease would take a product
	// quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCreditLimitExceeded is returned when an order would push a pharmacy
	// balance over CreditLimit.
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")

	// ErrBalanceUnderflow is returned when a reversal or return credit is
	// larger than the outstanding balance. It signals a bookkeeping bug.
	ErrBalanceUnderflow = errors.New("balance underflow")

	ErrNothingToSettle = errors.New("nothing to settle")

	ErrOrderAlreadyFinalized  = errors.New("order already finalized")
	ErrReturnAlreadyFinalized = errors.New("return already finalized")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrOrderHasReturns        = errors.New("order has returns")
	ErrOrderNotReturnable     = errors.New("order cannot be returned")

	ErrReturnQuantityExceeded = errors.New("return quantity exceeds ordered quantity")
	ErrProductNotInOrder      = errors.New("product not in order")
	ErrOrderNotOwned          = errors.New("order belongs to another pharmacy")

	// ErrConcurrentModification is returned when a compare-and-set on a
	// status or balance lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidTxType = errors.New("invalid transaction type")
	ErrInvalidStatus = errors.New("invalid status")
	ErrValidation    = errors.New("validation failed")
	ErrDuplicateCode = errors.New("duplicate product code")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports the quantity a decrease could not take.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s): available %d, requested %d",
		e.ProductID, e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// CreditLimitError reports how far an order overshoots the limit.
type CreditLimitError struct {
	PharmacyID int64
	Balance    decimal.Decimal
	Requested  decimal.Decimal
	Limit      decimal.Decimal
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded for pharmacy %d: balance %s, requested %s, limit %s",
		e.PharmacyID, e.Balance, e.Requested, e.Limit)
}

func (e *CreditLimitError) Unwrap() error {
	return ErrCreditLimitExceeded
}

// Available returns the headroom left under the limit.
func (e *CreditLimitError) Available() decimal.Decimal {
	return e.Limit.Sub(e.Balance)
}

// ReturnQuantityError reports an over-return on one order line.
type ReturnQuantityError struct {
	OrderID         int64
	ProductID       int64
	Ordered         int64
	AlreadyReturned int64
	Requested       int64
}

func (e *ReturnQuantityError) Error() string {
	return fmt.Sprintf("return quantity exceeds ordered quantity for product %d on order %d: ordered %d, already returned %d, requested %d",
		e.ProductID, e.OrderID, e.Ordered, e.AlreadyReturned, e.Requested)
}

func (e *ReturnQuantityError) Unwrap() error {
	return ErrReturnQuantityExceeded
}

// Remaining is the quantity that could still be returned.
func (e *ReturnQuantityError) Remaining() int64 {
	return e.Ordered - e.AlreadyReturned
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrPharmacyNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReturnNotFound)
}

// IsConflict returns true if a guard refused the change given current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrCreditLimitExceeded) ||
		errors.Is(err, ErrBalanceUnderflow) ||
		errors.Is(err, ErrNothingToSettle) ||
		errors.Is(err, ErrOrderAlreadyFinalized) ||
		errors.Is(err, ErrReturnAlreadyFinalized) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOrderHasReturns) ||
		errors.Is(err, ErrOrderNotReturnable) ||
		errors.Is(err, ErrReturnQuantityExceeded) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateCode)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTxType) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrProductNotInOrder)
}
