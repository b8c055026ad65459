/*
Package order implements the order workflow.

PURPOSE:
  An order is a pharmacy buying on credit. Creating one deducts stock for
  every line and charges the total to the pharmacy's balance; canceling
  one reverses both. All ledger postings for one step commit together or
  not at all.

LIFECYCLE:
  REQUESTED -> APPROVED -> PREPARING -> SHIPPING -> COMPLETED
  any non-terminal -> CANCELED

  COMPLETED and CANCELED are terminal.

SEE ALSO:
  - ledger/stock.go, ledger/balance.go: the postings
  - returns/service.go: what happens after delivery
*/
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/supply-ledger/ledger"
)

// Line is one requested product and quantity.
type Line struct {
	ProductID int64
	Quantity  int64
}

type Service struct {
	store ledger.TxStore
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store ledger.TxStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log.Named("order"), now: time.Now}
}

// =============================================================================
// CREATE
// =============================================================================

// Create places an order for pharmacyID. Unit prices are frozen from the
// catalog, stock is deducted per line and the total is charged to the
// pharmacy balance. Duplicate product lines are merged.
func (s *Service) Create(ctx context.Context, pharmacyID int64, lines []Line) (*ledger.Order, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var created *ledger.Order
	err = s.store.WithTx(ctx, func(tx ledger.Store) error {
		ph, err := tx.GetPharmacy(ctx, pharmacyID)
		if err != nil {
			return err
		}

		o := &ledger.Order{
			PharmacyID: pharmacyID,
			Status:     ledger.OrderRequested,
			TotalPrice: decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for _, l := range merged {
			p, err := tx.GetProduct(ctx, l.ProductID)
			if err != nil {
				return err
			}
			subtotal := p.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
			o.Items = append(o.Items, ledger.OrderItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    l.Quantity,
				UnitPrice:   p.UnitPrice,
				Subtotal:    subtotal,
			})
			o.TotalPrice = o.TotalPrice.Add(subtotal)
		}

		// No balance can absorb a total above the ceiling.
		if o.TotalPrice.GreaterThan(ledger.CreditLimit) {
			return &ledger.CreditLimitError{
				PharmacyID: ph.ID,
				Balance:    ph.Balance,
				Requested:  o.TotalPrice,
				Limit:      ledger.CreditLimit,
			}
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		ref := ledger.OrderRef(o.ID)
		stock := ledger.NewStockLedger(tx)
		for _, it := range o.Items {
			if _, err := stock.Apply(ctx, it.ProductID, ledger.StockOrder, it.Quantity, ref); err != nil {
				return err
			}
		}
		if _, err := ledger.NewBalanceLedger(tx).Apply(ctx, pharmacyID, ledger.BalanceOrder, o.TotalPrice, ref); err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		s.log.Warn("order rejected",
			zap.Int64("pharmacy_id", pharmacyID),
			zap.Int("lines", len(merged)),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("order created",
		zap.Int64("order_id", created.ID),
		zap.Int64("pharmacy_id", pharmacyID),
		zap.String("total", created.TotalPrice.StringFixed(ledger.MoneyPlaces)))
	return created, nil
}

func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ledger.ErrValidation)
	}
	idx := make(map[int64]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id must be positive", ledger.ErrValidation)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be positive", ledger.ErrInvalidAmount, l.ProductID)
		}
		i, ok := idx[l.ProductID]
		if !ok {
			i = len(out)
			idx[l.ProductID] = i
			out = append(out, Line{ProductID: l.ProductID})
		}
		if l.Quantity > ledger.MaxQuantity-out[i].Quantity {
			return nil, fmt.Errorf("%w: quantity for product %d exceeds %d", ledger.ErrInvalidAmount, l.ProductID, ledger.MaxQuantity)
		}
		out[i].Quantity += l.Quantity
	}
	return out, nil
}

// =============================================================================
// STATUS
// =============================================================================

// UpdateStatus moves an order to next. Moving to CANCELED gives back the
// stock of every line and removes the total from the pharmacy balance; it
// is refused while any line is reserved by a return.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, next ledger.OrderStatus) (*ledger.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: order status %q", ledger.ErrInvalidStatus, next)
	}

	now := s.now().UTC()
	var updated *ledger.Order
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %d is %s", ledger.ErrOrderAlreadyFinalized, o.ID, o.Status)
		}
		if !CanTransition(o.Status, next) {
			return fmt.Errorf("%w: order %d cannot go from %s to %s", ledger.ErrInvalidTransition, o.ID, o.Status, next)
		}
		// Units reserved by a return are pending or already restocked.
		if next == ledger.OrderCanceled {
			for _, it := range o.Items {
				if it.ReservedReturnQty > 0 {
					return fmt.Errorf("%w: order %d has %d unit(s) of product %d under return",
						ledger.ErrOrderHasReturns, o.ID, it.ReservedReturnQty, it.ProductID)
				}
			}
		}

		ok, err := tx.SetOrderStatus(ctx, o.ID, o.Status, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order %d", ledger.ErrConcurrentModification, o.ID)
		}

		if next == ledger.OrderCanceled {
			if err := reverse(ctx, tx, o); err != nil {
				return err
			}
		}

		o.Status = next
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		s.log.Warn("order status change rejected",
			zap.Int64("order_id", orderID),
			zap.String("status", string(next)),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("status", string(next)))
	return updated, nil
}

// Cancel is UpdateStatus to CANCELED.
func (s *Service) Cancel(ctx context.Context, orderID int64) (*ledger.Order, error) {
	return s.UpdateStatus(ctx, orderID, ledger.OrderCanceled)
}

func reverse(ctx context.Context, tx ledger.Store, o *ledger.Order) error {
	ref := ledger.OrderRef(o.ID)
	if _, err := ledger.NewBalanceLedger(tx).Apply(ctx, o.PharmacyID, ledger.BalanceOrderCancel, o.TotalPrice, ref); err != nil {
		return err
	}
	stock := ledger.NewStockLedger(tx)
	for _, it := range o.Items {
		if _, err := stock.Apply(ctx, it.ProductID, ledger.StockOrderCancel, it.Quantity, ref); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// DELETE / QUERIES
// =============================================================================

// Delete removes an order and its lines without touching either ledger.
// Orders that have returns cannot be deleted.
func (s *Service) Delete(ctx context.Context, orderID int64) error {
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.GetOrder(ctx, orderID); err != nil {
			return err
		}
		n, err := tx.CountReturns(ctx, orderID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: order %d has %d return(s)", ledger.ErrOrderHasReturns, orderID, n)
		}
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return err
	}
	s.log.Info("order deleted", zap.Int64("order_id", orderID))
	return nil
}

func (s *Service) Get(ctx context.Context, orderID int64) (*ledger.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// List returns orders newest first.
func (s *Service) List(ctx context.Context, f ledger.OrderFilter) (ledger.Page[ledger.Order], error) {
	f.PageRequest = f.PageRequest.Normalize()
	orders, total, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return ledger.Page[ledger.Order]{}, err
	}
	return ledger.NewPage(orders, total, f.PageRequest), nil
}

// Summary renders an order's lines as "<first product> +N".
func Summary(items []ledger.OrderItem) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0].ProductName
	}
	return fmt.Sprintf("%s +%d", items[0].ProductName, len(items)-1)
}
