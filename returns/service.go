/*
Package returns implements the return workflow.

PURPOSE:
  A pharmacy may send back goods from one of its orders. Creating a return
  only reserves quantity on the order lines; the ledgers move when the
  return is COMPLETED, which restocks every line and credits the return
  total against the pharmacy balance.

LIFECYCLE:
  REQUESTED -> APPROVED -> RECEIVED -> COMPLETED
  REQUESTED -> REJECTED
  any non-terminal -> CANCELED

RESERVATION:
  order_items.reserved_return_qty counts units held by returns that are not
  REJECTED or CANCELED. Reserving is one conditional UPDATE, so two
  concurrent returns cannot together exceed the ordered quantity.
  REJECTED and CANCELED release the reservation; COMPLETED keeps it.

SEE ALSO:
  - order/service.go: the order lines being returned against
*/
package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/supply-ledger/ledger"
)

// Line is one product and quantity to send back.
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
	return &Service{store: store, log: log.Named("returns"), now: time.Now}
}

// =============================================================================
// CREATE
// =============================================================================

// Create opens a return against orderID. Prices are copied from the order
// lines. No ledger entries are written.
func (s *Service) Create(ctx context.Context, pharmacyID, orderID int64, reason string, lines []Line) (*ledger.Return, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var created *ledger.Return
	err = s.store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.GetPharmacy(ctx, pharmacyID); err != nil {
			return err
		}
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PharmacyID != pharmacyID {
			return fmt.Errorf("%w: order %d", ledger.ErrOrderNotOwned, orderID)
		}
		if o.Status == ledger.OrderCanceled {
			return fmt.Errorf("%w: order %d is %s", ledger.ErrOrderNotReturnable, orderID, o.Status)
		}

		byProduct := make(map[int64]ledger.OrderItem, len(o.Items))
		for _, it := range o.Items {
			byProduct[it.ProductID] = it
		}

		r := &ledger.Return{
			PharmacyID: pharmacyID,
			OrderID:    orderID,
			Reason:     strings.TrimSpace(reason),
			Status:     ledger.ReturnRequested,
			TotalPrice: decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for _, l := range merged {
			oi, ok := byProduct[l.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d not in order %d", ledger.ErrProductNotInOrder, l.ProductID, orderID)
			}
			ok, err := tx.ReserveReturnQty(ctx, oi.ID, l.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				cur, err := tx.GetOrderItem(ctx, oi.ID)
				if err != nil {
					return err
				}
				return &ledger.ReturnQuantityError{
					OrderID:         orderID,
					ProductID:       l.ProductID,
					Ordered:         cur.Quantity,
					AlreadyReturned: cur.ReservedReturnQty,
					Requested:       l.Quantity,
				}
			}

			subtotal := oi.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
			r.Items = append(r.Items, ledger.ReturnItem{
				OrderItemID: oi.ID,
				ProductID:   oi.ProductID,
				ProductName: oi.ProductName,
				Quantity:    l.Quantity,
				UnitPrice:   oi.UnitPrice,
				Subtotal:    subtotal,
			})
			r.TotalPrice = r.TotalPrice.Add(subtotal)
		}

		if err := tx.InsertReturn(ctx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		s.log.Warn("return rejected",
			zap.Int64("pharmacy_id", pharmacyID),
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("return created",
		zap.Int64("return_id", created.ID),
		zap.Int64("order_id", orderID),
		zap.String("total", created.TotalPrice.StringFixed(ledger.MoneyPlaces)))
	return created, nil
}

func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: return has no items", ledger.ErrValidation)
	}
	idx := make(map[int64]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
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

// UpdateStatus moves a return to next. COMPLETED restocks and credits the
// pharmacy; REJECTED and CANCELED release the reserved quantity.
func (s *Service) UpdateStatus(ctx context.Context, returnID int64, next ledger.ReturnStatus) (*ledger.Return, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: return status %q", ledger.ErrInvalidStatus, next)
	}

	now := s.now().UTC()
	var updated *ledger.Return
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		r, err := tx.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return fmt.Errorf("%w: return %d is %s", ledger.ErrReturnAlreadyFinalized, r.ID, r.Status)
		}
		if !CanTransition(r.Status, next) {
			return fmt.Errorf("%w: return %d cannot go from %s to %s", ledger.ErrInvalidTransition, r.ID, r.Status, next)
		}

		ok, err := tx.SetReturnStatus(ctx, r.ID, r.Status, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: return %d", ledger.ErrConcurrentModification, r.ID)
		}

		switch next {
		case ledger.ReturnCompleted:
			if err := post(ctx, tx, r); err != nil {
				return err
			}
		case ledger.ReturnRejected, ledger.ReturnCanceled:
			if err := release(ctx, tx, r); err != nil {
				return err
			}
		}

		r.Status = next
		r.UpdatedAt = now
		updated = r
		return nil
	})
	if err != nil {
		s.log.Warn("return status change rejected",
			zap.Int64("return_id", returnID),
			zap.String("status", string(next)),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("return status changed",
		zap.Int64("return_id", returnID),
		zap.String("status", string(next)))
	return updated, nil
}

func post(ctx context.Context, tx ledger.Store, r *ledger.Return) error {
	ref := ledger.ReturnRef(r.ID)
	if _, err := ledger.NewBalanceLedger(tx).Apply(ctx, r.PharmacyID, ledger.BalanceReturn, r.TotalPrice, ref); err != nil {
		return err
	}
	stock := ledger.NewStockLedger(tx)
	for _, it := range r.Items {
		if _, err := stock.Apply(ctx, it.ProductID, ledger.StockReturn, it.Quantity, ref); err != nil {
			return err
		}
	}
	return nil
}

func release(ctx context.Context, tx ledger.Store, r *ledger.Return) error {
	for _, it := range r.Items {
		ok, err := tx.ReleaseReturnQty(ctx, it.OrderItemID, it.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("release %d of order item %d for return %d: reservation missing",
				it.Quantity, it.OrderItemID, r.ID)
		}
	}
	return nil
}

// =============================================================================
// DELETE / QUERIES
// =============================================================================

// Delete removes a return without touching either ledger. A return that
// still holds a reservation gives it back first; a COMPLETED return keeps
// its quantity counted since the goods were restocked.
func (s *Service) Delete(ctx context.Context, returnID int64) error {
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		r, err := tx.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if r.Status.Reserves() && r.Status != ledger.ReturnCompleted {
			if err := release(ctx, tx, r); err != nil {
				return err
			}
		}
		return tx.DeleteReturn(ctx, returnID)
	})
	if err != nil {
		return err
	}
	s.log.Info("return deleted", zap.Int64("return_id", returnID))
	return nil
}

func (s *Service) Get(ctx context.Context, returnID int64) (*ledger.Return, error) {
	return s.store.GetReturn(ctx, returnID)
}

// List returns returns newest first.
func (s *Service) List(ctx context.Context, f ledger.ReturnFilter) (ledger.Page[ledger.Return], error) {
	f.PageRequest = f.PageRequest.Normalize()
	items, total, err := s.store.ListReturns(ctx, f)
	if err != nil {
		return ledger.Page[ledger.Return]{}, err
	}
	return ledger.NewPage(items, total, f.PageRequest), nil
}

// Summary renders a return's lines as "<first product> +N".
func Summary(items []ledger.ReturnItem) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0].ProductName
	}
	return fmt.Sprintf("%s +%d", items[0].ProductName, len(items)-1)
}
