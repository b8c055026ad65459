/*
stock.go - Stock ledger: the only path that changes Product.Quantity

PURPOSE:
  Every change to a product's on-hand quantity goes through Apply, which
  performs the guarded update and appends a StockTx describing it. The
  newest StockTx for a product always carries the current quantity in
  QuantityAfter, which is what the audit checks.

CRITICAL INVARIANTS:
  1. Quantity never goes below zero (DecreaseStock guard)
  2. One StockTx per successful change, with before/after snapshots
  3. A refused change writes nothing

USAGE:
  Call Apply with a transaction-scoped Store so the quantity update and
  the ledger row commit together with the rest of the workflow step:

    err := ts.WithTx(ctx, func(s ledger.Store) error {
        _, err := ledger.NewStockLedger(s).Apply(ctx, id, ledger.StockOrder, 5, ledger.OrderRef(o.ID))
        return err
    })

SEE ALSO:
  - balance.go: the credit-side equivalent
  - store/sqlite/ledger.go: the conditional UPDATEs
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type StockLedger struct {
	store StockStore
	now   func() time.Time
}

func NewStockLedger(store StockStore) *StockLedger {
	return &StockLedger{store: store, now: time.Now}
}

// Apply changes a product quantity by amount in the direction of typ and
// records the change. Amount must be positive.
func (l *StockLedger) Apply(ctx context.Context, productID int64, typ StockTxType, amount int64, ref Reference) (*StockTx, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: stock amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	if amount > MaxQuantity {
		return nil, fmt.Errorf("%w: stock amount %d exceeds %d", ErrInvalidAmount, amount, MaxQuantity)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTxType, typ)
	}

	if typ.Increases() {
		ok, err := l.store.IncreaseStock(ctx, productID, amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
	} else {
		ok, err := l.store.DecreaseStock(ctx, productID, amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			p, err := l.store.GetProduct(ctx, productID)
			if err != nil {
				return nil, err
			}
			return nil, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Quantity,
				Requested:   amount,
			}
		}
	}

	// Snapshot is taken from the row after the guarded update.
	p, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	tx := &StockTx{
		ProductID:     productID,
		Type:          typ,
		Amount:        amount,
		QuantityAfter: p.Quantity,
		Ref:           ref,
		CreatedAt:     l.now().UTC(),
	}
	tx.QuantityBefore = tx.QuantityAfter - tx.Delta()

	if err := l.store.AppendStockTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// History lists stock transactions, newest first.
func (l *StockLedger) History(ctx context.Context, f StockTxFilter) (Page[StockTx], error) {
	f.PageRequest = f.PageRequest.Normalize()
	txs, total, err := l.store.ListStockTxs(ctx, f)
	if err != nil {
		return Page[StockTx]{}, err
	}
	return NewPage(txs, total, f.PageRequest), nil
}

// =============================================================================
// CATALOG HELPERS
// =============================================================================

// RegisterProduct inserts a product and, when initialQty is positive, books
// the opening stock as an IN entry in the same transaction.
func RegisterProduct(ctx context.Context, ts TxStore, p *Product, initialQty int64) error {
	if initialQty < 0 {
		return fmt.Errorf("%w: initial quantity must not be negative", ErrInvalidAmount)
	}
	if !IsMoney(p.UnitPrice) {
		return fmt.Errorf("%w: unit price %s", ErrInvalidAmount, p.UnitPrice)
	}
	return ts.WithTx(ctx, func(s Store) error {
		p.Quantity = 0
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		if err := s.InsertProduct(ctx, p); err != nil {
			return err
		}
		if initialQty == 0 {
			return nil
		}
		tx, err := NewStockLedger(s).Apply(ctx, p.ID, StockIn, initialQty, Reference{Type: RefReceipt})
		if err != nil {
			return err
		}
		p.Quantity = tx.QuantityAfter
		return nil
	})
}

// ReceiveStock books an inbound delivery.
func ReceiveStock(ctx context.Context, ts TxStore, productID, amount int64) (*StockTx, error) {
	var out *StockTx
	err := ts.WithTx(ctx, func(s Store) error {
		tx, err := NewStockLedger(s).Apply(ctx, productID, StockIn, amount, Reference{Type: RefReceipt})
		out = tx
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterPharmacy inserts a pharmacy with a zero balance.
func RegisterPharmacy(ctx context.Context, s CatalogStore, ph *Pharmacy) error {
	ph.Balance = decimal.Zero
	if ph.CreatedAt.IsZero() {
		ph.CreatedAt = time.Now().UTC()
	}
	return s.InsertPharmacy(ctx, ph)
}
